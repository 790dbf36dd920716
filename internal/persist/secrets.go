package persist

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/chaz8081/pgpemu/internal/kv"
	"github.com/chaz8081/pgpemu/internal/settings"
)

// Sizes of the accessory identity material.
const (
	MaxCloneNameLen = 15
	DeviceKeyLen    = 16
	BlobLen         = 256
)

const (
	keyCloneName = "name"
	keyMAC       = "mac"
	keyDeviceKey = "dkey"
	keyBlob      = "blob"
)

// Secrets is the identity of the emulated accessory. The handshake uses the
// device key and blob; the name is advertised.
type Secrets struct {
	Name      string
	MAC       settings.Address
	DeviceKey [DeviceKeyLen]byte
	Blob      [BlobLen]byte
}

// Validate checks the field sizes that are not enforced by the types.
func (s Secrets) Validate() error {
	if s.Name == "" {
		return errors.New("persist: secrets name must not be empty")
	}
	if len(s.Name) > MaxCloneNameLen {
		return fmt.Errorf("persist: secrets name %q longer than %d characters", s.Name, MaxCloneNameLen)
	}
	return nil
}

// LoadSecrets reads the accessory identity. ok is false if any part is
// missing or has the wrong size.
func (s *Storage) LoadSecrets() (Secrets, bool) {
	var out Secrets
	h, ok := s.open(SecretsNamespace, kv.ReadOnly)
	if !ok {
		return out, false
	}
	defer h.Close()

	name, err := h.GetBlob(keyCloneName)
	if !readOK(err, keyCloneName) || len(name) == 0 || len(name) > MaxCloneNameLen {
		return Secrets{}, false
	}
	out.Name = string(name)
	if !readExact(h, keyMAC, out.MAC[:]) ||
		!readExact(h, keyDeviceKey, out.DeviceKey[:]) ||
		!readExact(h, keyBlob, out.Blob[:]) {
		return Secrets{}, false
	}
	return out, true
}

// SaveSecrets replaces the accessory identity.
func (s *Storage) SaveSecrets(sec Secrets) bool {
	if err := sec.Validate(); err != nil {
		slog.Error("[STORAGE] invalid secrets", "error", err)
		return false
	}
	h, ok := s.open(SecretsNamespace, kv.ReadWrite)
	if !ok {
		return false
	}
	entries := []struct {
		key string
		val []byte
	}{
		{keyCloneName, []byte(sec.Name)},
		{keyMAC, sec.MAC[:]},
		{keyDeviceKey, sec.DeviceKey[:]},
		{keyBlob, sec.Blob[:]},
	}
	for _, e := range entries {
		if err := h.SetBlob(e.key, e.val); err != nil {
			slog.Error("[STORAGE] cannot store secret", "key", e.key, "error", err)
			h.Close()
			return false
		}
	}
	if !s.commit(h) {
		return false
	}
	slog.Info("[STORAGE] secrets stored", "name", sec.Name, "mac", sec.MAC)
	return true
}

// ResetSecrets erases the accessory identity.
func (s *Storage) ResetSecrets() bool {
	h, ok := s.open(SecretsNamespace, kv.ReadWrite)
	if !ok {
		return false
	}
	for _, key := range []string{keyCloneName, keyMAC, keyDeviceKey, keyBlob} {
		if err := h.EraseKey(key); err != nil && !errors.Is(err, kv.ErrNotFound) {
			slog.Error("[STORAGE] cannot erase secret", "key", key, "error", err)
			h.Close()
			return false
		}
	}
	if !s.commit(h) {
		return false
	}
	slog.Info("[STORAGE] secrets deleted")
	return true
}
