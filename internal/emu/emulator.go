// Package emu turns BLE stack callbacks into connection table updates and
// LED-driven actions. It is the only place where the session, settings,
// classifier and dispatch packages meet.
package emu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/chaz8081/pgpemu/internal/dispatch"
	"github.com/chaz8081/pgpemu/internal/session"
	"github.com/chaz8081/pgpemu/internal/settings"
)

// Press delay bounds used when Options leaves them unset.
const (
	DefaultPressDelayMin = 1000 * time.Millisecond
	DefaultPressDelayMax = 2500 * time.Millisecond
)

// EventKind identifies a BLE stack callback.
type EventKind int

const (
	Connect EventKind = iota
	Disconnect
	ReconnectUpdate
	RemoteAddress
	LEDNotify
)

func (k EventKind) String() string {
	switch k {
	case Connect:
		return "connect"
	case Disconnect:
		return "disconnect"
	case ReconnectUpdate:
		return "reconnect-update"
	case RemoteAddress:
		return "remote-address"
	case LEDNotify:
		return "led-notify"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// Event is one callback from the BLE stack. Addr is set for RemoteAddress,
// Payload for LEDNotify.
type Event struct {
	Kind    EventKind
	ConnID  session.ConnID
	Addr    settings.Address
	Payload []byte
}

// DeviceLoader restores the stored settings of a device.
type DeviceLoader interface {
	LoadDevice(addr settings.Address) (*settings.Device, bool)
}

// ButtonPusher queues button presses.
type ButtonPusher interface {
	Push(ctx context.Context, item dispatch.ButtonItem) error
	Purge(id session.ConnID) int
}

// RetogglePusher queues setting retoggles.
type RetogglePusher interface {
	Push(ctx context.Context, item dispatch.RetoggleItem) error
}

// Options tunes the LED policy.
type Options struct {
	// ButtonHandle is the GATT handle button notifications are sent on.
	ButtonHandle  uint16
	RetoggleDelay time.Duration
	PressDelayMin time.Duration
	PressDelayMax time.Duration
	// Rand drives press delays and spin rolls. Nil seeds a new source.
	Rand *rand.Rand
	// Now stamps retoggle due times. Nil uses time.Now.
	Now func() time.Time
}

// Emulator handles the events of all connections.
type Emulator struct {
	table     *session.Table
	global    *settings.Global
	devices   DeviceLoader
	buttons   ButtonPusher
	retoggles RetogglePusher
	opts      Options

	rndMu sync.Mutex
	intN  func(n int) int
}

// New wires an Emulator. Zero Options fields get defaults.
func New(table *session.Table, global *settings.Global, devices DeviceLoader, buttons ButtonPusher, retoggles RetogglePusher, opts Options) *Emulator {
	if opts.RetoggleDelay <= 0 {
		opts.RetoggleDelay = dispatch.DefaultRetoggleDelay
	}
	if opts.PressDelayMin <= 0 {
		opts.PressDelayMin = DefaultPressDelayMin
	}
	if opts.PressDelayMax < opts.PressDelayMin {
		opts.PressDelayMax = max(DefaultPressDelayMax, opts.PressDelayMin)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Emulator{
		table:     table,
		global:    global,
		devices:   devices,
		buttons:   buttons,
		retoggles: retoggles,
		opts:      opts,
		intN:      opts.Rand.IntN,
	}
}

func (e *Emulator) randN(n int) int {
	e.rndMu.Lock()
	defer e.rndMu.Unlock()
	return e.intN(n)
}

// Handle dispatches ev to the matching handler.
func (e *Emulator) Handle(ctx context.Context, ev Event) error {
	switch ev.Kind {
	case Connect:
		return e.OnConnect(ev.ConnID)
	case Disconnect:
		e.OnDisconnect(ev.ConnID)
		return nil
	case ReconnectUpdate:
		return e.OnReconnectUpdate(ev.ConnID)
	case RemoteAddress:
		return e.OnRemoteAddress(ev.ConnID, ev.Addr)
	case LEDNotify:
		_, err := e.OnLEDNotify(ctx, ev.ConnID, ev.Payload)
		return err
	default:
		return fmt.Errorf("emu: unknown event %s", ev.Kind)
	}
}

// ErrUnknownConnection is returned for events on connections that are not in
// the table.
var ErrUnknownConnection = errors.New("emu: unknown connection")

// OnConnect binds a slot for id. session.ErrNoCapacity means the caller must
// refuse the connection.
func (e *Emulator) OnConnect(id session.ConnID) error {
	rec, err := e.table.CreateOrGet(id)
	if err != nil {
		return fmt.Errorf("emu: connect %d: %w", id, err)
	}
	e.table.Start(id)
	slog.Info("[BLE] client connected", "conn", id, "slot", rec.Slot(),
		"active", e.table.ActiveCount(), "max", e.table.MaxConnections())
	return nil
}

// OnRemoteAddress records the address of id and attaches the device's stored
// settings.
func (e *Emulator) OnRemoteAddress(id session.ConnID, addr settings.Address) error {
	if !e.table.SetRemoteAddress(id, addr) {
		return fmt.Errorf("emu: remote address for %d: %w", id, ErrUnknownConnection)
	}
	dev, _ := e.devices.LoadDevice(addr)
	if !e.table.AttachSettings(id, dev) {
		return fmt.Errorf("emu: attach settings for %d: %w", id, ErrUnknownConnection)
	}
	v := dev.Values()
	slog.Info("[BLE] client identified", "conn", id, "addr", addr,
		"autocatch", v.AutoCatch, "autospin", v.AutoSpin, "spin_probability", v.SpinProbability)
	return nil
}

// OnReconnectUpdate stamps a reconnect of id.
func (e *Emulator) OnReconnectUpdate(id session.ConnID) error {
	if !e.table.Update(id) {
		return fmt.Errorf("emu: reconnect %d: %w", id, ErrUnknownConnection)
	}
	slog.Debug("[BLE] reconnect update", "conn", id)
	return nil
}

// OnDisconnect drops pending presses for id and releases its slot.
func (e *Emulator) OnDisconnect(id session.ConnID) {
	e.buttons.Purge(id)

	rec, ok := e.table.Get(id)
	if !ok {
		slog.Debug("[BLE] disconnect for unknown connection", "conn", id)
		return
	}
	st := rec.Stats()
	ts := rec.Timestamps()
	e.table.Remove(id)

	var up time.Duration
	if !ts.ConnectionStart.IsZero() {
		up = time.Since(ts.ConnectionStart).Truncate(time.Second)
	}
	slog.Info("[BLE] client disconnected", "conn", id, "addr", rec.Address(), "up", up,
		"caught", st.Caught, "fled", st.Fled, "spin", st.Spin, "active", e.table.ActiveCount())
}

// ActiveConnectionCount returns the number of bound connections.
func (e *Emulator) ActiveConnectionCount() int {
	return e.table.ActiveCount()
}

// MaxConnections returns the table capacity.
func (e *Emulator) MaxConnections() int {
	return e.table.MaxConnections()
}

// ShouldAdvertise reports whether another client may connect.
func (e *Emulator) ShouldAdvertise() bool {
	return e.table.ActiveCount() < int(e.global.TargetConnections())
}

// ResetConnections releases every slot and drops their pending presses. It
// returns the released connections so the caller can disconnect them.
func (e *Emulator) ResetConnections() []session.ConnID {
	ids := e.table.Reset()
	for _, id := range ids {
		e.buttons.Purge(id)
	}
	return ids
}
