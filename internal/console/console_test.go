package console

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/chaz8081/pgpemu/internal/config"
	"github.com/chaz8081/pgpemu/internal/persist"
	"github.com/chaz8081/pgpemu/internal/session"
	"github.com/chaz8081/pgpemu/internal/settings"
)

type fixture struct {
	con   *Console
	table *session.Table
	glob  *settings.Global
	store *mockStore
	link  *mockLink
	level *slog.LevelVar
	out   *bytes.Buffer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		table: session.NewTable(4),
		glob:  settings.NewGlobal(4),
		store: &mockStore{},
		link:  &mockLink{},
		level: new(slog.LevelVar),
		out:   &bytes.Buffer{},
	}
	f.con = New(f.table, f.glob, f.store, f.link, tableReset{f.table}, f.level, f.out)
	return f
}

// bind connects id in the next free slot with default device settings.
func (f *fixture) bind(t *testing.T, id session.ConnID, addr settings.Address) *settings.Device {
	t.Helper()
	if _, err := f.table.CreateOrGet(id); err != nil {
		t.Fatal(err)
	}
	f.table.SetRemoteAddress(id, addr)
	dev := settings.NewDevice(addr)
	f.table.AttachSettings(id, dev)
	return dev
}

func TestEmptyLineIgnored(t *testing.T) {
	f := newFixture(t)
	if err := f.con.Execute("   "); err != nil {
		t.Errorf("Execute(blank) = %v", err)
	}
	if f.out.Len() != 0 {
		t.Errorf("output %q for blank line", f.out.String())
	}
}

func TestHelp(t *testing.T) {
	f := newFixture(t)
	if err := f.con.Execute("?"); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"---HELP---", "bA", "<n>c", "up to 4, currently 1"} {
		if !strings.Contains(f.out.String(), want) {
			t.Errorf("help missing %q", want)
		}
	}
}

func TestShowGlobal(t *testing.T) {
	f := newFixture(t)
	f.bind(t, 1, settings.Address{1})
	if err := f.con.Execute("s"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(f.out.String(), "Connections: 1 / 1") {
		t.Errorf("output = %q", f.out.String())
	}
}

func TestSave(t *testing.T) {
	f := newFixture(t)
	dev := f.bind(t, 1, settings.Address{1})

	if err := f.con.Execute("S"); err != nil {
		t.Fatal(err)
	}
	if f.store.globalSaves != 1 {
		t.Errorf("global saves = %d, want 1", f.store.globalSaves)
	}
	if len(f.store.devicesSaved) != 1 || f.store.devicesSaved[0] != dev {
		t.Errorf("devices saved = %v", f.store.devicesSaved)
	}

	f.store.failSave = true
	if err := f.con.Execute("S"); err == nil {
		t.Error("save failure not reported")
	}
}

func TestCycleLogLevelUpdatesHandler(t *testing.T) {
	f := newFixture(t)

	want := []struct {
		setting uint8
		level   slog.Level
	}{
		{settings.LogLevelInfo, slog.LevelInfo},
		{settings.LogLevelVerbose, config.LevelVerbose},
		{settings.LogLevelDebug, slog.LevelDebug},
	}
	for _, w := range want {
		if err := f.con.Execute("l"); err != nil {
			t.Fatal(err)
		}
		if got := f.glob.LogLevel(); got != w.setting {
			t.Errorf("setting = %d, want %d", got, w.setting)
		}
		if got := f.level.Level(); got != w.level {
			t.Errorf("handler level = %v, want %v", got, w.level)
		}
	}
	if !strings.Contains(f.out.String(), "log level 3: verbose") {
		t.Errorf("output = %q", f.out.String())
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.bind(t, 7, settings.Address{0xaa})
	rec, _ := f.table.Get(7)
	rec.CountCaught()
	rec.CountCaught()
	rec.CountFled()

	if err := f.con.Execute("r"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(f.out.String(), "conn=7") || !strings.Contains(f.out.String(), "caught=2 fled=1 spin=0") {
		t.Errorf("output = %q", f.out.String())
	}
}

func TestBluetoothCommands(t *testing.T) {
	f := newFixture(t)

	for _, cmd := range []string{"bA", "ba"} {
		if err := f.con.Execute(cmd); err != nil {
			t.Fatalf("%s: %v", cmd, err)
		}
	}
	if !slices.Equal(f.link.advertising, []bool{true, false}) {
		t.Errorf("advertising = %v", f.link.advertising)
	}

	if err := f.con.Execute("b3"); err != nil {
		t.Fatal(err)
	}
	if f.glob.TargetConnections() != 3 {
		t.Errorf("target = %d, want 3", f.glob.TargetConnections())
	}
	if err := f.con.Execute("b5"); err == nil {
		t.Error("b5 accepted with 4 slots")
	}
	if f.glob.TargetConnections() != 3 {
		t.Errorf("target changed to %d by rejected command", f.glob.TargetConnections())
	}
	if err := f.con.Execute("bz"); !errors.Is(err, ErrUnknownCommand) {
		t.Errorf("bz = %v, want ErrUnknownCommand", err)
	}
}

func TestDumpAndReset(t *testing.T) {
	f := newFixture(t)
	f.bind(t, 1, settings.Address{1})
	f.bind(t, 2, settings.Address{2})

	if err := f.con.Execute("bs"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(f.out.String(), "active: 2/4") {
		t.Errorf("dump = %q", f.out.String())
	}

	if err := f.con.Execute("br"); err != nil {
		t.Fatal(err)
	}
	if f.table.ActiveCount() != 0 {
		t.Errorf("active = %d after reset", f.table.ActiveCount())
	}
	if !slices.Equal(f.link.disconnected, []session.ConnID{1, 2}) {
		t.Errorf("disconnected = %v, want [1 2]", f.link.disconnected)
	}
}

func TestDeviceCommands(t *testing.T) {
	f := newFixture(t)
	f.bind(t, 1, settings.Address{1})
	dev := f.bind(t, 2, settings.Address{2})

	steps := []struct {
		cmd   string
		check func() bool
	}{
		{"1s", func() bool { return !dev.Enabled(settings.AutoSpin) }},
		{"1c", func() bool { return !dev.Enabled(settings.AutoCatch) }},
		{"1c", func() bool { return dev.Enabled(settings.AutoCatch) }},
		{"17", func() bool { return dev.SpinProbability() == 7 }},
		{"10", func() bool { return dev.SpinProbability() == 0 }},
	}
	for _, s := range steps {
		if err := f.con.Execute(s.cmd); err != nil {
			t.Fatalf("%s: %v", s.cmd, err)
		}
		if !s.check() {
			t.Errorf("%s: device = %+v", s.cmd, dev.Values())
		}
	}

	// Slot 0 is untouched.
	rec, _ := f.table.GetByIndex(0)
	if v := rec.Settings().Values(); !v.AutoSpin || !v.AutoCatch {
		t.Errorf("slot 0 changed: %+v", v)
	}
}

func TestDeviceCommandErrors(t *testing.T) {
	f := newFixture(t)
	if err := f.con.Execute("0s"); err == nil {
		t.Error("command on free slot accepted")
	}

	if _, err := f.table.CreateOrGet(1); err != nil {
		t.Fatal(err)
	}
	if err := f.con.Execute("0s"); err == nil {
		t.Error("command on slot without settings accepted")
	}

	f.table.AttachSettings(1, settings.NewDevice(settings.Address{1}))
	for _, cmd := range []string{"0", "0x", "0ss"} {
		if err := f.con.Execute(cmd); !errors.Is(err, ErrUnknownCommand) {
			t.Errorf("%q = %v, want ErrUnknownCommand", cmd, err)
		}
	}
}

func TestSecrets(t *testing.T) {
	f := newFixture(t)
	if err := f.con.Execute("xs"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(f.out.String(), "no secrets") {
		t.Errorf("output = %q", f.out.String())
	}

	f.store.secrets = &persist.Secrets{Name: "PGPclone", MAC: settings.Address{1, 2, 3, 4, 5, 6}, DeviceKey: [16]byte{0xde, 0xad}}
	f.out.Reset()
	if err := f.con.Execute("xs"); err != nil {
		t.Fatal(err)
	}
	out := f.out.String()
	if !strings.Contains(out, "PGPclone") || !strings.Contains(out, "01:02:03:04:05:06") || !strings.Contains(out, "dead...") {
		t.Errorf("output = %q", out)
	}

	if err := f.con.Execute("xr"); err != nil {
		t.Fatal(err)
	}
	if f.store.secrets != nil {
		t.Error("secrets not reset")
	}
}

func TestUnknownCommand(t *testing.T) {
	f := newFixture(t)
	for _, cmd := range []string{"q", "help", "xq"} {
		if err := f.con.Execute(cmd); !errors.Is(err, ErrUnknownCommand) {
			t.Errorf("%q = %v, want ErrUnknownCommand", cmd, err)
		}
	}
}

func TestRunProcessesLines(t *testing.T) {
	f := newFixture(t)
	input := strings.NewReader("b2\nnonsense\ns\n")

	if err := f.con.Run(context.Background(), input); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.glob.TargetConnections() != 2 {
		t.Errorf("target = %d, want 2", f.glob.TargetConnections())
	}
	out := f.out.String()
	if !strings.Contains(out, "error: console: unknown command") {
		t.Errorf("unknown command not reported: %q", out)
	}
	if !strings.Contains(out, "---GLOBAL SETTINGS---") {
		t.Errorf("later command not run: %q", out)
	}
}

// blockingReader never returns.
type blockingReader struct{ ch chan struct{} }

func (r blockingReader) Read([]byte) (int, error) {
	<-r.ch
	return 0, nil
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	r := blockingReader{ch: make(chan struct{})}
	defer close(r.ch)

	done := make(chan error, 1)
	go func() { done <- f.con.Run(ctx, r) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
