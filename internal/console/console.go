// Package console implements the line-based operator console: settings
// inspection and editing, connection control and runtime stats.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"strings"
	"time"

	"github.com/chaz8081/pgpemu/internal/config"
	"github.com/chaz8081/pgpemu/internal/persist"
	"github.com/chaz8081/pgpemu/internal/session"
	"github.com/chaz8081/pgpemu/internal/settings"
)

// ErrUnknownCommand is returned by Execute for unrecognized input.
var ErrUnknownCommand = errors.New("console: unknown command")

// Store persists settings and exposes the accessory secrets.
type Store interface {
	SaveGlobal(g *settings.Global) bool
	SaveDevices(devs []*settings.Device) bool
	LoadSecrets() (persist.Secrets, bool)
	ResetSecrets() bool
}

// Link controls the BLE peripheral.
type Link interface {
	SetAdvertising(on bool) error
	Disconnect(id session.ConnID) error
}

// Resetter releases every connection slot.
type Resetter interface {
	ResetConnections() []session.ConnID
}

// Console executes operator commands and writes replies to Out.
type Console struct {
	Table  *session.Table
	Global *settings.Global
	Store  Store
	Link   Link
	Reset  Resetter
	// Level is updated when the log level setting changes. May be nil.
	Level *slog.LevelVar
	Out   io.Writer

	started time.Time
}

// New creates a Console. Call Run or Execute to process commands.
func New(table *session.Table, global *settings.Global, store Store, link Link, reset Resetter, level *slog.LevelVar, out io.Writer) *Console {
	return &Console{
		Table:   table,
		Global:  global,
		Store:   store,
		Link:    link,
		Reset:   reset,
		Level:   level,
		Out:     out,
		started: time.Now(),
	}
}

// Run executes one command per line read from r until ctx is done or r is
// exhausted. Command errors are reported on Out and do not stop the loop.
func (c *Console) Run(ctx context.Context, r io.Reader) error {
	lines := make(chan string)
	errc := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		errc <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			if err != nil {
				return fmt.Errorf("console: read: %w", err)
			}
			return nil
		case line := <-lines:
			if err := c.Execute(line); err != nil {
				c.printf("error: %v\n", err)
			}
		}
	}
}

// Execute runs a single command line.
func (c *Console) Execute(line string) error {
	cmd := strings.TrimSpace(line)
	if cmd == "" {
		return nil
	}
	slog.Debug("[CONSOLE] command", "cmd", cmd)

	switch cmd {
	case "?":
		c.help()
		return nil
	case "s":
		c.showGlobal()
		return nil
	case "S":
		return c.save()
	case "l":
		return c.cycleLogLevel()
	case "r":
		c.stats()
		return nil
	}

	switch cmd[0] {
	case 'b':
		return c.bluetooth(cmd[1:])
	case 'x':
		return c.secrets(cmd[1:])
	}
	if cmd[0] >= '0' && cmd[0] <= '9' {
		return c.device(int(cmd[0]-'0'), cmd[1:])
	}
	return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd)
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.Out, format, args...)
}

func (c *Console) help() {
	c.printf(`---HELP---
Commands:
- ? - help
- l - cycle through log levels
- r - show runtime stats
- s - show global settings values
- S - save settings permanently
Secrets:
- xs - show loaded secrets
- xr - reset stored secrets
Bluetooth:
- bA - start advertising
- ba - stop advertising
- bs - show client states
- br - clear connections
- b<n> - set target client connections (up to %d, currently %d)
Device Settings (n is the slot, 0..%d):
- <n>s - toggle autospin
- <n>c - toggle autocatch
- <n><0-9> - autospin probability
`, c.Global.MaxConnections(), c.Global.TargetConnections(), c.Table.MaxConnections()-1)
}

func (c *Console) showGlobal() {
	v := c.Global.Snapshot()
	c.printf("---GLOBAL SETTINGS---\n- Log level: %d\n- Connections: %d / %d\n",
		v.LogLevel, c.Table.ActiveCount(), v.TargetConnections)
}

func (c *Console) save() error {
	c.printf("saving global configuration\n")
	globalOK := c.Store.SaveGlobal(c.Global)
	c.printf("saving devices configuration\n")
	devicesOK := c.Store.SaveDevices(c.Table.Devices())
	if !globalOK || !devicesOK {
		return errors.New("console: save failed")
	}
	c.printf("success!\n")
	return nil
}

func (c *Console) cycleLogLevel() error {
	if !c.Global.CycleLogLevel() {
		return errors.New("console: log level busy")
	}
	level := c.Global.LogLevel()
	if c.Level != nil {
		c.Level.Set(config.SlogLevelFor(level))
	}
	names := map[uint8]string{
		settings.LogLevelDebug:   "debug",
		settings.LogLevelInfo:    "info",
		settings.LogLevelVerbose: "verbose",
	}
	c.printf("log level %d: %s\n", level, names[level])
	return nil
}

func (c *Console) stats() {
	c.printf("uptime: %s\n", time.Since(c.started).Truncate(time.Second))
	c.printf("goroutines: %d\n", runtime.NumGoroutine())
	for _, rec := range c.Table.Records() {
		st := rec.Stats()
		c.printf("slot %d: conn=%d addr=%s caught=%d fled=%d spin=%d\n",
			rec.Slot(), rec.ConnID(), rec.Address(), st.Caught, st.Fled, st.Spin)
	}
}

func (c *Console) bluetooth(arg string) error {
	switch arg {
	case "A":
		return c.Link.SetAdvertising(true)
	case "a":
		return c.Link.SetAdvertising(false)
	case "s":
		return c.Table.Dump(c.Out)
	case "r":
		ids := c.Reset.ResetConnections()
		for _, id := range ids {
			if err := c.Link.Disconnect(id); err != nil {
				slog.Warn("[CONSOLE] disconnect failed", "conn", id, "error", err)
			}
		}
		c.printf("cleared %d connections\n", len(ids))
		return nil
	}
	if len(arg) == 1 && arg[0] >= '1' && arg[0] <= '9' {
		n := arg[0] - '0'
		if !c.Global.SetTargetConnections(n) {
			return fmt.Errorf("console: target connections %d outside 1..%d", n, c.Global.MaxConnections())
		}
		c.printf("target_active_connections now %d (press 'S' to save permanently)\n", n)
		return nil
	}
	return fmt.Errorf("%w: b%s", ErrUnknownCommand, arg)
}

func (c *Console) secrets(arg string) error {
	switch arg {
	case "s":
		sec, ok := c.Store.LoadSecrets()
		if !ok {
			c.printf("no secrets loaded\n")
			return nil
		}
		c.printf("name: %s\nmac: %s\ndevice key: %x...\n", sec.Name, sec.MAC, sec.DeviceKey[:2])
		return nil
	case "r":
		if !c.Store.ResetSecrets() {
			return errors.New("console: unable to clear secrets")
		}
		c.printf("secrets cleared\n")
		return nil
	}
	return fmt.Errorf("%w: x%s", ErrUnknownCommand, arg)
}

func (c *Console) device(slot int, arg string) error {
	rec, ok := c.Table.GetByIndex(slot)
	if !ok {
		return fmt.Errorf("console: slot %d is not connected", slot)
	}
	dev := rec.Settings()
	if dev == nil {
		return fmt.Errorf("console: slot %d has no settings yet", slot)
	}
	if len(arg) != 1 {
		return fmt.Errorf("%w: %d%s", ErrUnknownCommand, slot, arg)
	}

	switch op := arg[0]; {
	case op == 's':
		on, ok := dev.Toggle(settings.AutoSpin)
		if !ok {
			return errors.New("console: device settings busy")
		}
		c.printf("autospin: %t\n", on)
	case op == 'c':
		on, ok := dev.Toggle(settings.AutoCatch)
		if !ok {
			return errors.New("console: device settings busy")
		}
		c.printf("autocatch: %t\n", on)
	case op >= '0' && op <= '9':
		p := op - '0'
		if !dev.SetSpinProbability(p) {
			return fmt.Errorf("console: spin probability %d rejected", p)
		}
		c.printf("autospin_probability: %d\n", p)
	default:
		return fmt.Errorf("%w: %d%c", ErrUnknownCommand, slot, op)
	}
	return nil
}
