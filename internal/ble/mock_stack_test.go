package ble

import (
	"context"
	"errors"
	"sync"

	"github.com/chaz8081/pgpemu/internal/dispatch"
	"github.com/chaz8081/pgpemu/internal/emu"
	"github.com/chaz8081/pgpemu/internal/session"
	"github.com/chaz8081/pgpemu/internal/settings"
)

// mockCharacteristic records writes.
type mockCharacteristic struct {
	mu     sync.Mutex
	writes [][]byte
	err    error
}

func (c *mockCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	c.writes = append(c.writes, cp)
	return nil
}

func (c *mockCharacteristic) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

// mockPeer simulates a connected central.
type mockPeer struct {
	addr string

	mu           sync.Mutex
	disconnected bool
}

func (p *mockPeer) Address() string { return p.addr }

func (p *mockPeer) Disconnect() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disconnected = true
	return nil
}

func (p *mockPeer) wasDisconnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnected
}

// mockStack simulates the adapter. Tests drive callbacks through connect,
// disconnect and write.
type mockStack struct {
	mu          sync.Mutex
	enabled     bool
	enableErr   error
	connectCb   func(Peer, bool)
	services    []ServiceSpec
	chars       []*mockCharacteristic
	advertising bool
	advName     string
	advUUIDs    []string
	advStarts   int
}

func (s *mockStack) Enable() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enableErr != nil {
		return s.enableErr
	}
	s.enabled = true
	return nil
}

func (s *mockStack) SetConnectHandler(cb func(Peer, bool)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectCb = cb
}

func (s *mockStack) AddService(svc ServiceSpec) ([]Characteristic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services = append(s.services, svc)
	out := make([]Characteristic, len(svc.Characteristics))
	for i := range svc.Characteristics {
		c := &mockCharacteristic{}
		s.chars = append(s.chars, c)
		out[i] = c
	}
	return out, nil
}

func (s *mockStack) StartAdvertising(name string, serviceUUIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advertising = true
	s.advName = name
	s.advUUIDs = serviceUUIDs
	s.advStarts++
	return nil
}

func (s *mockStack) StopAdvertising() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advertising = false
	return nil
}

func (s *mockStack) connect(p *mockPeer) {
	s.mu.Lock()
	cb := s.connectCb
	s.mu.Unlock()
	cb(p, true)
}

func (s *mockStack) disconnect(p *mockPeer) {
	s.mu.Lock()
	cb := s.connectCb
	s.mu.Unlock()
	cb(p, false)
}

// write simulates a central writing to characteristic idx of the first
// service.
func (s *mockStack) write(idx int, peer string, value []byte) {
	s.mu.Lock()
	onWrite := s.services[0].Characteristics[idx].OnWrite
	s.mu.Unlock()
	onWrite(peer, value)
}

// mockSink records events and can refuse connects.
type mockSink struct {
	mu         sync.Mutex
	events     []emu.Event
	connectErr error
}

func (s *mockSink) Handle(_ context.Context, ev emu.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	if ev.Kind == emu.Connect && s.connectErr != nil {
		return s.connectErr
	}
	return nil
}

func (s *mockSink) kinds() []emu.EventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]emu.EventKind, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Kind
	}
	return out
}

func (s *mockSink) last() emu.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events[len(s.events)-1]
}

var errMockRefused = errors.New("mock: refused")

// Emulator collaborators for end-to-end tests.
type stubLoader struct{}

func (stubLoader) LoadDevice(addr settings.Address) (*settings.Device, bool) {
	return settings.NewDevice(addr), false
}

type stubButtons struct{}

func (*stubButtons) Push(context.Context, dispatch.ButtonItem) error { return nil }
func (*stubButtons) Purge(session.ConnID) int                      { return 0 }

type stubRetoggles struct{}

func (stubRetoggles) Push(context.Context, dispatch.RetoggleItem) error { return nil }
