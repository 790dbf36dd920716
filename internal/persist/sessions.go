package persist

import (
	"errors"
	"log/slog"

	"github.com/chaz8081/pgpemu/internal/kv"
	"github.com/chaz8081/pgpemu/internal/session"
	"github.com/chaz8081/pgpemu/internal/settings"
)

// SessionKeys are the cached reconnect credentials of a device.
type SessionKeys struct {
	Key       [session.SessionKeyLen]byte
	Challenge [session.ReconnectChallengeLen]byte
}

// PersistSession stores the session key and reconnect challenge of addr.
func (s *Storage) PersistSession(addr settings.Address, keys SessionKeys) bool {
	h, ok := s.open(DeviceNamespace, kv.ReadWrite)
	if !ok {
		return false
	}
	key := DeriveKey(OptionSessionKey, addr)
	if err := h.SetBlob(key, keys.Key[:]); err != nil {
		slog.Error("[STORAGE] cannot store session key", "addr", addr, "error", err)
		h.Close()
		return false
	}
	key = DeriveKey(OptionReconnectChallenge, addr)
	if err := h.SetBlob(key, keys.Challenge[:]); err != nil {
		slog.Error("[STORAGE] cannot store reconnect challenge", "addr", addr, "error", err)
		h.Close()
		return false
	}
	if !s.commit(h) {
		return false
	}
	slog.Debug("[STORAGE] session keys persisted", "addr", addr)
	return true
}

// RetrieveSession reads back the cached keys of addr. Entries whose stored
// size differs from the expected length are rejected.
func (s *Storage) RetrieveSession(addr settings.Address) (SessionKeys, bool) {
	var out SessionKeys
	h, ok := s.open(DeviceNamespace, kv.ReadOnly)
	if !ok {
		return out, false
	}
	defer h.Close()

	if !readExact(h, DeriveKey(OptionSessionKey, addr), out.Key[:]) {
		return SessionKeys{}, false
	}
	if !readExact(h, DeriveKey(OptionReconnectChallenge, addr), out.Challenge[:]) {
		return SessionKeys{}, false
	}
	return out, true
}

func readExact(h *kv.Handle, key string, dst []byte) bool {
	blob, err := h.GetBlob(key)
	if !readOK(err, key) {
		return false
	}
	if len(blob) != len(dst) {
		slog.Error("[STORAGE] stored blob has wrong size", "key", key, "size", len(blob), "want", len(dst))
		return false
	}
	copy(dst, blob)
	return true
}

// HasCachedSession reports whether a session key of the right size is stored
// for addr, without reading it.
func (s *Storage) HasCachedSession(addr settings.Address) bool {
	h, err := s.backend.Open(DeviceNamespace, kv.ReadOnly)
	if err != nil {
		if !errors.Is(err, kv.ErrNotFound) {
			slog.Error("[STORAGE] cannot open namespace", "namespace", DeviceNamespace, "error", err)
		}
		return false
	}
	defer h.Close()

	size, err := h.BlobSize(DeriveKey(OptionSessionKey, addr))
	return err == nil && size == session.SessionKeyLen
}

// ClearSession erases the cached keys of addr. Missing entries count as
// erased, so clearing twice succeeds.
func (s *Storage) ClearSession(addr settings.Address) bool {
	h, ok := s.open(DeviceNamespace, kv.ReadWrite)
	if !ok {
		return false
	}
	for _, option := range []string{OptionSessionKey, OptionReconnectChallenge} {
		err := h.EraseKey(DeriveKey(option, addr))
		if err != nil && !errors.Is(err, kv.ErrNotFound) {
			slog.Error("[STORAGE] cannot erase session entry", "addr", addr, "option", option, "error", err)
			h.Close()
			return false
		}
	}
	if !s.commit(h) {
		return false
	}
	slog.Debug("[STORAGE] session keys cleared", "addr", addr)
	return true
}
