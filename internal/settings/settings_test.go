package settings

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestGlobalDefaults(t *testing.T) {
	g := NewGlobal(4)

	if got := g.TargetConnections(); got != 1 {
		t.Errorf("TargetConnections() = %d, want 1", got)
	}
	if got := g.LogLevel(); got != LogLevelDebug {
		t.Errorf("LogLevel() = %d, want %d", got, LogLevelDebug)
	}
	if got := g.MaxConnections(); got != 4 {
		t.Errorf("MaxConnections() = %d, want 4", got)
	}
}

func TestGlobalTargetConnectionsBounds(t *testing.T) {
	g := NewGlobal(4)

	for _, n := range []uint8{0, 5, 255} {
		if g.SetTargetConnections(n) {
			t.Errorf("SetTargetConnections(%d) = true, want false", n)
		}
	}
	if got := g.TargetConnections(); got != 1 {
		t.Errorf("TargetConnections() after rejected sets = %d, want 1", got)
	}

	for n := uint8(1); n <= 4; n++ {
		if !g.SetTargetConnections(n) {
			t.Errorf("SetTargetConnections(%d) = false, want true", n)
		}
		if got := g.TargetConnections(); got != n {
			t.Errorf("TargetConnections() = %d, want %d", got, n)
		}
	}
}

func TestCycleLogLevel(t *testing.T) {
	g := NewGlobal(4)

	want := []uint8{2, 3, 1, 2}
	for i, w := range want {
		if !g.CycleLogLevel() {
			t.Fatalf("CycleLogLevel() #%d failed", i)
		}
		if got := g.LogLevel(); got != w {
			t.Errorf("LogLevel() after cycle #%d = %d, want %d", i, got, w)
		}
	}
}

func TestCycleBelowMin(t *testing.T) {
	cell := NewGuarded(GlobalValues{LogLevel: 0})
	if !Cycle(cell, logLevelField, 1, 3) {
		t.Fatal("Cycle() = false")
	}
	got, _ := Get(cell, logLevelField)
	if got != 1 {
		t.Errorf("Cycle from 0 = %d, want 1", got)
	}
}

func TestNilFieldFails(t *testing.T) {
	cell := NewGuarded(GlobalValues{})
	if Set[GlobalValues, uint8](cell, nil, 3) {
		t.Error("Set with nil field should fail")
	}
	if Toggle[GlobalValues](cell, nil) {
		t.Error("Toggle with nil field should fail")
	}
	if _, ok := Get[GlobalValues, uint8](cell, nil); ok {
		t.Error("Get with nil field should fail")
	}

	var nilCell *Guarded[GlobalValues]
	if nilCell.With(context.Background(), func(*GlobalValues) {}) {
		t.Error("With on nil cell should fail")
	}
}

func TestLockTimeout(t *testing.T) {
	cell := NewGuarded(DeviceValues{})

	held := make(chan struct{})
	release := make(chan struct{})
	go cell.WithBlocking(func(*DeviceValues) {
		close(held)
		<-release
	})
	<-held

	start := time.Now()
	ok := cell.WithTimeout(50*time.Millisecond, func(v *DeviceValues) { v.AutoSpin = true })
	if ok {
		t.Error("WithTimeout() should fail while the lock is held")
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("WithTimeout() returned after %v, expected to wait for the timeout", elapsed)
	}
	close(release)

	if !cell.WithTimeout(time.Second, func(v *DeviceValues) { v.AutoSpin = true }) {
		t.Error("WithTimeout() should succeed once the lock is released")
	}
}

func TestDeviceDefaults(t *testing.T) {
	d := NewDevice(Address{1, 2, 3, 4, 5, 6})
	v := d.Values()

	if !v.AutoCatch || !v.AutoSpin {
		t.Errorf("defaults AutoCatch=%v AutoSpin=%v, want both true", v.AutoCatch, v.AutoSpin)
	}
	if v.SpinProbability != 0 {
		t.Errorf("default SpinProbability = %d, want 0", v.SpinProbability)
	}
	if v.CatchRetogglePending || v.SpinRetogglePending {
		t.Error("no retoggle should be pending by default")
	}
	if !v.CatchRetoggleAt.IsZero() || !v.SpinRetoggleAt.IsZero() {
		t.Error("retoggle timestamps should be zero by default")
	}
}

func TestNewDeviceWithClampsProbability(t *testing.T) {
	d := NewDeviceWith(Address{1}, DeviceValues{SpinProbability: 12})
	if got := d.SpinProbability(); got != 0 {
		t.Errorf("SpinProbability() = %d, want 0", got)
	}
}

func TestSpinProbabilitySetter(t *testing.T) {
	d := NewDevice(Address{1})

	for p := uint8(0); p <= 9; p++ {
		if !d.SetSpinProbability(p) {
			t.Errorf("SetSpinProbability(%d) = false, want true", p)
		}
		if got := d.SpinProbability(); got != p {
			t.Errorf("SpinProbability() = %d, want %d", got, p)
		}
	}

	d.SetSpinProbability(4)
	for _, p := range []uint8{10, 42, 255} {
		if d.SetSpinProbability(p) {
			t.Errorf("SetSpinProbability(%d) = true, want false", p)
		}
		if got := d.SpinProbability(); got != 4 {
			t.Errorf("SpinProbability() after rejected %d = %d, want 4", p, got)
		}
	}
}

func TestDeviceToggle(t *testing.T) {
	d := NewDevice(Address{1})

	on, ok := d.Toggle(AutoSpin)
	if !ok || on {
		t.Errorf("Toggle(AutoSpin) = (%v, %v), want (false, true)", on, ok)
	}
	if d.Enabled(AutoSpin) {
		t.Error("AutoSpin should be off after toggle")
	}
	if !d.Enabled(AutoCatch) {
		t.Error("AutoCatch should be untouched")
	}
}

func TestDeviceIsolation(t *testing.T) {
	a := NewDevice(Address{1})
	b := NewDevice(Address{2})

	held := make(chan struct{})
	release := make(chan struct{})
	go a.cell.WithBlocking(func(*DeviceValues) {
		close(held)
		<-release
	})
	<-held
	defer close(release)

	done := make(chan bool, 1)
	go func() { done <- b.Enabled(AutoSpin) }()

	select {
	case on := <-done:
		if !on {
			t.Error("device b AutoSpin should be on")
		}
	case <-time.After(time.Second):
		t.Fatal("reading device b blocked while device a was locked")
	}
}

func TestConcurrentToggleParity(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		each    int
	}{
		{"even total", 4, 1000},
		{"odd total", 3, 1001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDevice(Address{9})
			initial := d.Enabled(AutoSpin)

			var wg sync.WaitGroup
			for w := 0; w < tt.workers; w++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for i := 0; i < tt.each; i++ {
						if _, ok := d.Toggle(AutoSpin); !ok {
							t.Error("Toggle() timed out")
							return
						}
					}
				}()
			}
			wg.Wait()

			want := initial
			if (tt.workers*tt.each)%2 == 1 {
				want = !initial
			}
			if got := d.Enabled(AutoSpin); got != want {
				t.Errorf("AutoSpin = %v after %d toggles, want %v", got, tt.workers*tt.each, want)
			}
		})
	}
}

func TestSuspendAndRetoggle(t *testing.T) {
	d := NewDevice(Address{1})
	due := time.Now().Add(5 * time.Minute)

	if !d.Suspend(AutoSpin, due) {
		t.Fatal("Suspend() = false, want true")
	}
	v := d.Values()
	if v.AutoSpin {
		t.Error("AutoSpin should be off after Suspend")
	}
	if !v.SpinRetogglePending || !v.SpinRetoggleAt.Equal(due) {
		t.Errorf("pending=%v at=%v, want pending at %v", v.SpinRetogglePending, v.SpinRetoggleAt, due)
	}

	if d.Suspend(AutoSpin, due) {
		t.Error("second Suspend() while pending should be a no-op")
	}

	changed, ok := d.Retoggle(AutoSpin)
	if !ok || !changed {
		t.Errorf("Retoggle() = (%v, %v), want (true, true)", changed, ok)
	}
	v = d.Values()
	if !v.AutoSpin || v.SpinRetogglePending || !v.SpinRetoggleAt.IsZero() {
		t.Errorf("after Retoggle: AutoSpin=%v pending=%v at=%v", v.AutoSpin, v.SpinRetogglePending, v.SpinRetoggleAt)
	}
}

func TestRetoggleSkipsManuallyEnabled(t *testing.T) {
	d := NewDevice(Address{1})
	d.Suspend(AutoCatch, time.Now())

	// user turns it back on before the cooldown ends
	d.SetEnabled(AutoCatch, true)

	changed, ok := d.Retoggle(AutoCatch)
	if !ok {
		t.Fatal("Retoggle() timed out")
	}
	if changed {
		t.Error("Retoggle() should not flip a setting that is already on")
	}
	if !d.Enabled(AutoCatch) {
		t.Error("AutoCatch should stay on")
	}
}

func TestSuspendDisabledSettingIsNoop(t *testing.T) {
	d := NewDevice(Address{1})
	d.SetEnabled(AutoCatch, false)

	if d.Suspend(AutoCatch, time.Now()) {
		t.Error("Suspend() on a disabled setting should not queue a retoggle")
	}
}

func TestNilDevice(t *testing.T) {
	var d *Device
	if d.Enabled(AutoSpin) {
		t.Error("nil device should report disabled")
	}
	if _, ok := d.Toggle(AutoSpin); ok {
		t.Error("Toggle on nil device should fail")
	}
	if d.SetSpinProbability(1) {
		t.Error("SetSpinProbability on nil device should fail")
	}
}

func TestParseAddress(t *testing.T) {
	tests := []struct {
		in      string
		want    Address
		wantErr bool
	}{
		{"aa:bb:cc:dd:ee:ff", Address{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}, false},
		{"AA-BB-CC-DD-EE-01", Address{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0x01}, false},
		{"010203040506", Address{1, 2, 3, 4, 5, 6}, false},
		{"01:02:03", Address{}, true},
		{"zz:bb:cc:dd:ee:ff", Address{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAddress(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAddress(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseAddress(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestAddressFormatting(t *testing.T) {
	a := Address{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}
	if got := a.String(); got != "aa:bb:cc:dd:ee:ff" {
		t.Errorf("String() = %q", got)
	}
	if got := a.Hex(); got != "aabbccddeeff" {
		t.Errorf("Hex() = %q", got)
	}
	if a.IsZero() {
		t.Error("IsZero() = true for non-zero address")
	}
	if !(Address{}).IsZero() {
		t.Error("IsZero() = false for zero address")
	}
}
