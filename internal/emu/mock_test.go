package emu

import (
	"context"
	"sync"

	"github.com/chaz8081/pgpemu/internal/dispatch"
	"github.com/chaz8081/pgpemu/internal/session"
	"github.com/chaz8081/pgpemu/internal/settings"
)

// mockLoader returns preset settings per address, defaults otherwise.
type mockLoader struct {
	mu      sync.Mutex
	stored  map[settings.Address]settings.DeviceValues
	loadCnt int
}

func newMockLoader() *mockLoader {
	return &mockLoader{stored: map[settings.Address]settings.DeviceValues{}}
}

func (m *mockLoader) LoadDevice(addr settings.Address) (*settings.Device, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loadCnt++
	if v, ok := m.stored[addr]; ok {
		return settings.NewDeviceWith(addr, v), true
	}
	return settings.NewDevice(addr), false
}

// mockButtons records pushed presses and purges.
type mockButtons struct {
	mu     sync.Mutex
	items  []dispatch.ButtonItem
	purged []session.ConnID
}

func (m *mockButtons) Push(_ context.Context, item dispatch.ButtonItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, item)
	return nil
}

func (m *mockButtons) Purge(id session.ConnID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purged = append(m.purged, id)
	kept := m.items[:0]
	removed := 0
	for _, it := range m.items {
		if it.ConnID == id {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	m.items = kept
	return removed
}

func (m *mockButtons) pushed() []dispatch.ButtonItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]dispatch.ButtonItem(nil), m.items...)
}

// mockRetoggles records pushed retoggles.
type mockRetoggles struct {
	mu    sync.Mutex
	items []dispatch.RetoggleItem
}

func (m *mockRetoggles) Push(_ context.Context, item dispatch.RetoggleItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = append(m.items, item)
	return nil
}

func (m *mockRetoggles) pushed() []dispatch.RetoggleItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]dispatch.RetoggleItem(nil), m.items...)
}
