package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/chaz8081/pgpemu/internal/emu"
	"github.com/chaz8081/pgpemu/internal/session"
	"github.com/chaz8081/pgpemu/internal/settings"
)

// ErrNotStarted is returned by Peripheral methods called before Start.
var ErrNotStarted = errors.New("ble: peripheral not started")

// Sink consumes the events raised by the peripheral.
type Sink interface {
	Handle(ctx context.Context, ev emu.Event) error
}

// Peripheral runs the accessory GATT service on a Stack.
type Peripheral struct {
	stack Stack
	name  string
	reg   *registry

	mu          sync.Mutex
	ctx         context.Context
	sink        Sink
	chars       []Characteristic
	advertising bool
}

// NewPeripheral creates a Peripheral that advertises as name.
func NewPeripheral(stack Stack, name string) *Peripheral {
	return &Peripheral{
		stack: stack,
		name:  name,
		reg:   newRegistry(),
	}
}

// Start enables the adapter, registers the accessory service and routes
// stack callbacks to sink. Events are handled with ctx.
func (p *Peripheral) Start(ctx context.Context, sink Sink) error {
	if err := p.stack.Enable(); err != nil {
		return err
	}

	p.mu.Lock()
	p.ctx = ctx
	p.sink = sink
	p.mu.Unlock()

	p.stack.SetConnectHandler(p.handleConnect)

	chars, err := p.stack.AddService(ServiceSpec{
		UUID: ServiceUUID,
		Characteristics: []CharSpec{
			{UUID: LEDCharUUID, Write: true, OnWrite: p.handleLEDWrite},
			{UUID: ButtonCharUUID, Read: true, Notify: true},
		},
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.chars = chars
	p.mu.Unlock()

	slog.Info("[BLE] GATT service registered", "service", ServiceUUID, "name", p.name)
	return nil
}

func (p *Peripheral) context() (context.Context, Sink) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ctx, p.sink
}

func (p *Peripheral) handleConnect(peer Peer, connected bool) {
	ctx, sink := p.context()
	if sink == nil {
		return
	}

	if !connected {
		id, ok := p.reg.remove(peer.Address())
		if !ok {
			slog.Debug("[BLE] disconnect from untracked peer", "peer", peer.Address())
			return
		}
		if err := sink.Handle(ctx, emu.Event{Kind: emu.Disconnect, ConnID: id}); err != nil {
			slog.Error("[BLE] disconnect handling failed", "conn", id, "error", err)
		}
		return
	}

	id, existing := p.reg.add(peer)
	if existing {
		if err := sink.Handle(ctx, emu.Event{Kind: emu.ReconnectUpdate, ConnID: id}); err != nil {
			slog.Error("[BLE] reconnect handling failed", "conn", id, "error", err)
		}
		return
	}

	if err := sink.Handle(ctx, emu.Event{Kind: emu.Connect, ConnID: id}); err != nil {
		p.reg.remove(peer.Address())
		if errors.Is(err, session.ErrNoCapacity) {
			slog.Warn("[BLE] connection refused, no free slot", "peer", peer.Address())
		} else {
			slog.Error("[BLE] connect handling failed", "conn", id, "error", err)
		}
		if derr := peer.Disconnect(); derr != nil {
			slog.Error("[BLE] disconnect refused peer", "peer", peer.Address(), "error", derr)
		}
		return
	}

	addr, err := PeerAddress(peer.Address())
	if err != nil {
		slog.Warn("[BLE] unparseable peer address", "peer", peer.Address(), "error", err)
		return
	}
	if err := sink.Handle(ctx, emu.Event{Kind: emu.RemoteAddress, ConnID: id, Addr: addr}); err != nil {
		slog.Error("[BLE] remote address handling failed", "conn", id, "error", err)
	}
}

func (p *Peripheral) handleLEDWrite(peer string, value []byte) {
	ctx, sink := p.context()
	if sink == nil {
		return
	}
	id, ok := p.reg.resolve(peer)
	if !ok {
		slog.Warn("[LED] write without a connected peer", "len", len(value))
		return
	}
	payload := append([]byte(nil), value...)
	if err := sink.Handle(ctx, emu.Event{Kind: emu.LEDNotify, ConnID: id, Payload: payload}); err != nil {
		slog.Warn("[LED] pattern rejected", "conn", id, "error", err)
	}
}

// Notify sends data on the characteristic with the given handle. It
// implements dispatch.Notifier.
func (p *Peripheral) Notify(id session.ConnID, handle uint16, data []byte) error {
	p.mu.Lock()
	chars := p.chars
	p.mu.Unlock()
	if chars == nil {
		return ErrNotStarted
	}
	if int(handle) >= len(chars) {
		return fmt.Errorf("ble: notify conn %d: unknown handle %d", id, handle)
	}
	if !p.reg.has(id) {
		return fmt.Errorf("ble: notify conn %d: not connected", id)
	}
	if err := chars[handle].Write(data); err != nil {
		return fmt.Errorf("ble: notify conn %d: %w", id, err)
	}
	return nil
}

// Disconnect drops connection id.
func (p *Peripheral) Disconnect(id session.ConnID) error {
	peer, ok := p.reg.peer(id)
	if !ok {
		return fmt.Errorf("ble: disconnect conn %d: not connected", id)
	}
	if err := peer.Disconnect(); err != nil {
		return fmt.Errorf("ble: disconnect conn %d: %w", id, err)
	}
	return nil
}

// SetAdvertising starts or stops advertising. It is a no-op when the state
// already matches.
func (p *Peripheral) SetAdvertising(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.advertising == on {
		return nil
	}
	var err error
	if on {
		err = p.stack.StartAdvertising(p.name, ServiceUUID)
	} else {
		err = p.stack.StopAdvertising()
	}
	if err != nil {
		return err
	}
	p.advertising = on
	slog.Info("[BLE] advertising", "on", on, "name", p.name)
	return nil
}

// Advertising reports whether the peripheral is advertising.
func (p *Peripheral) Advertising() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.advertising
}

// PeerAddress converts a stack peer identifier to a device address. MAC
// strings parse directly. CoreBluetooth UUIDs map to their last six bytes,
// which are stable for a given central.
func PeerAddress(s string) (settings.Address, error) {
	if addr, err := settings.ParseAddress(s); err == nil {
		return addr, nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return settings.Address{}, fmt.Errorf("ble: peer address %q: neither MAC nor UUID", s)
	}
	var addr settings.Address
	copy(addr[:], u[10:])
	return addr, nil
}
