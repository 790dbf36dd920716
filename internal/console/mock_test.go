package console

import (
	"sync"

	"github.com/chaz8081/pgpemu/internal/persist"
	"github.com/chaz8081/pgpemu/internal/session"
	"github.com/chaz8081/pgpemu/internal/settings"
)

// mockStore records saves and serves fixed secrets.
type mockStore struct {
	mu           sync.Mutex
	globalSaves  int
	devicesSaved []*settings.Device
	secrets      *persist.Secrets
	failSave     bool
}

func (m *mockStore) SaveGlobal(*settings.Global) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.globalSaves++
	return !m.failSave
}

func (m *mockStore) SaveDevices(devs []*settings.Device) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devicesSaved = append(m.devicesSaved, devs...)
	return !m.failSave
}

func (m *mockStore) LoadSecrets() (persist.Secrets, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.secrets == nil {
		return persist.Secrets{}, false
	}
	return *m.secrets, true
}

func (m *mockStore) ResetSecrets() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets = nil
	return true
}

// mockLink records advertising changes and disconnects.
type mockLink struct {
	mu           sync.Mutex
	advertising  []bool
	disconnected []session.ConnID
}

func (m *mockLink) SetAdvertising(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.advertising = append(m.advertising, on)
	return nil
}

func (m *mockLink) Disconnect(id session.ConnID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = append(m.disconnected, id)
	return nil
}

// tableReset releases the table directly.
type tableReset struct{ table *session.Table }

func (r tableReset) ResetConnections() []session.ConnID { return r.table.Reset() }
