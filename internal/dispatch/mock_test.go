package dispatch

import (
	"sync"

	"github.com/chaz8081/pgpemu/internal/session"
	"github.com/chaz8081/pgpemu/internal/settings"
)

// mockActive reports a fixed set of connections as active.
type mockActive struct {
	mu  sync.Mutex
	ids map[session.ConnID]bool
}

func newMockActive(ids ...session.ConnID) *mockActive {
	m := &mockActive{ids: map[session.ConnID]bool{}}
	for _, id := range ids {
		m.ids[id] = true
	}
	return m
}

func (m *mockActive) IsActive(id session.ConnID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ids[id]
}

func (m *mockActive) drop(id session.ConnID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.ids, id)
}

type notification struct {
	conn   session.ConnID
	handle uint16
	data   []byte
}

// mockNotifier records notifications and signals each one on sent.
type mockNotifier struct {
	mu   sync.Mutex
	sent []notification
	ch   chan notification
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{ch: make(chan notification, 16)}
}

func (m *mockNotifier) Notify(id session.ConnID, handle uint16, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	n := notification{conn: id, handle: handle, data: cp}
	m.mu.Lock()
	m.sent = append(m.sent, n)
	m.mu.Unlock()
	m.ch <- n
	return nil
}

func (m *mockNotifier) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// mockResolver serves device settings by address.
type mockResolver struct {
	mu   sync.Mutex
	devs map[settings.Address]*settings.Device
}

func newMockResolver(devs ...*settings.Device) *mockResolver {
	m := &mockResolver{devs: map[settings.Address]*settings.Device{}}
	for _, d := range devs {
		m.devs[d.Address()] = d
	}
	return m
}

func (m *mockResolver) DeviceSettings(addr settings.Address) (*settings.Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devs[addr]
	return d, ok
}

func (m *mockResolver) set(d *settings.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devs[d.Address()] = d
}

// mockSaver records saved devices.
type mockSaver struct {
	mu    sync.Mutex
	saved []settings.Address
	ch    chan settings.Address
}

func newMockSaver() *mockSaver {
	return &mockSaver{ch: make(chan settings.Address, 16)}
}

func (m *mockSaver) SaveDevice(dev *settings.Device) bool {
	m.mu.Lock()
	m.saved = append(m.saved, dev.Address())
	m.mu.Unlock()
	m.ch <- dev.Address()
	return true
}

func (m *mockSaver) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.saved)
}
