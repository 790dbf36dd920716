package persist

import (
	"errors"
	"log/slog"

	"github.com/chaz8081/pgpemu/internal/kv"
	"github.com/chaz8081/pgpemu/internal/settings"
)

// Backend opens namespaces of the kv store.
type Backend interface {
	Open(ns string, mode kv.Mode) (*kv.Handle, error)
}

// Storage bridges the settings and session state to a Backend. Failures are
// logged and reported as false; they never abort the process.
type Storage struct {
	backend Backend
}

// New creates a Storage over b.
func New(b Backend) *Storage {
	return &Storage{backend: b}
}

// open opens ns and logs the failure. A missing namespace is a warning since
// defaults apply.
func (s *Storage) open(ns string, mode kv.Mode) (*kv.Handle, bool) {
	h, err := s.backend.Open(ns, mode)
	if errors.Is(err, kv.ErrNotFound) {
		slog.Warn("[STORAGE] namespace not found, using defaults", "namespace", ns)
		return nil, false
	}
	if err != nil {
		slog.Error("[STORAGE] cannot open namespace", "namespace", ns, "error", err)
		return nil, false
	}
	return h, true
}

func (s *Storage) commit(h *kv.Handle) bool {
	if err := h.CommitAndClose(); err != nil {
		slog.Error("[STORAGE] commit failed", "namespace", h.Namespace(), "error", err)
		return false
	}
	return true
}

// readOK reports whether a read succeeded, logging anything but a missing key
// as an error.
func readOK(err error, key string) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, kv.ErrNotFound) {
		slog.Debug("[STORAGE] key not stored", "key", key)
		return false
	}
	slog.Error("[STORAGE] read failed", "key", key, "error", err)
	return false
}

// LoadGlobal restores the global settings into g. Missing keys keep their
// current value; a stored log level outside 1..3 or target connection count
// outside 1..max is ignored.
func (s *Storage) LoadGlobal(g *settings.Global) bool {
	h, ok := s.open(GlobalNamespace, kv.ReadOnly)
	if !ok {
		return false
	}
	defer h.Close()

	level, errLevel := h.GetU8(KeyLogLevel)
	target, errTarget := h.GetU8(KeyTargetConnections)
	max := g.MaxConnections()

	g.Load(func(v *settings.GlobalValues) {
		if readOK(errLevel, KeyLogLevel) {
			if level >= settings.LogLevelDebug && level <= settings.LogLevelVerbose {
				v.LogLevel = level
			} else {
				slog.Error("[STORAGE] invalid log level", "value", level)
			}
		}
		if readOK(errTarget, KeyTargetConnections) {
			if target >= 1 && target <= max {
				v.TargetConnections = target
			} else {
				slog.Error("[STORAGE] invalid target active connections", "value", target, "max", max)
			}
		}
	})
	slog.Info("[STORAGE] global settings restored")
	return true
}

// SaveGlobal writes the global settings.
func (s *Storage) SaveGlobal(g *settings.Global) bool {
	v := g.Snapshot()

	h, ok := s.open(GlobalNamespace, kv.ReadWrite)
	if !ok {
		return false
	}
	allOK := true
	if err := h.SetU8(KeyLogLevel, v.LogLevel); err != nil {
		slog.Error("[STORAGE] write failed", "key", KeyLogLevel, "error", err)
		allOK = false
	}
	if err := h.SetU8(KeyTargetConnections, v.TargetConnections); err != nil {
		slog.Error("[STORAGE] write failed", "key", KeyTargetConnections, "error", err)
		allOK = false
	}
	return s.commit(h) && allOK
}

// LoadDevice returns the settings stored for addr. The returned device is
// never nil: missing values fall back to defaults. ok is false when nothing
// could be read.
func (s *Storage) LoadDevice(addr settings.Address) (dev *settings.Device, ok bool) {
	v := settings.DefaultDeviceValues()
	if addr.IsZero() {
		slog.Error("[STORAGE] cannot load device settings for zero address")
		return settings.NewDeviceWith(addr, v), false
	}

	h, opened := s.open(DeviceNamespace, kv.ReadOnly)
	if !opened {
		return settings.NewDeviceWith(addr, v), false
	}
	defer h.Close()

	key := DeriveKey(OptionAutoCatch, addr)
	if c, err := h.GetI8(key); readOK(err, key) {
		v.AutoCatch = c != 0
	}
	key = DeriveKey(OptionAutoSpin, addr)
	if sp, err := h.GetI8(key); readOK(err, key) {
		v.AutoSpin = sp != 0
	}
	key = DeriveKey(OptionSpinProbability, addr)
	if p, err := h.GetU8(key); readOK(err, key) {
		if p > settings.MaxSpinProbability {
			slog.Error("[STORAGE] invalid autospin probability, using 0", "addr", addr, "value", p)
			p = 0
		}
		v.SpinProbability = p
	}

	slog.Info("[STORAGE] device settings restored", "addr", addr)
	return settings.NewDeviceWith(addr, v), true
}

func boolI8(b bool) int8 {
	if b {
		return 1
	}
	return 0
}

// SaveDevice writes the settings of one device.
func (s *Storage) SaveDevice(dev *settings.Device) bool {
	if dev == nil || dev.Address().IsZero() {
		return false
	}
	var v settings.DeviceValues
	if !dev.Update(func(cur *settings.DeviceValues) { v = *cur }) {
		slog.Error("[STORAGE] cannot lock device settings", "addr", dev.Address())
		return false
	}

	h, ok := s.open(DeviceNamespace, kv.ReadWrite)
	if !ok {
		return false
	}
	addr := dev.Address()
	allOK := true
	write := func(option string, fn func(key string) error) {
		key := DeriveKey(option, addr)
		if err := fn(key); err != nil {
			slog.Warn("[STORAGE] write failed", "addr", addr, "option", option, "error", err)
			allOK = false
		}
	}
	write(OptionAutoSpin, func(k string) error { return h.SetI8(k, boolI8(v.AutoSpin)) })
	write(OptionAutoCatch, func(k string) error { return h.SetI8(k, boolI8(v.AutoCatch)) })
	write(OptionSpinProbability, func(k string) error { return h.SetU8(k, v.SpinProbability) })

	if !s.commit(h) {
		return false
	}
	if allOK {
		slog.Info("[STORAGE] device settings persisted", "addr", addr)
	}
	return allOK
}

// SaveDevices writes every device in devs, continuing past failures.
func (s *Storage) SaveDevices(devs []*settings.Device) bool {
	allOK := true
	for _, dev := range devs {
		if !s.SaveDevice(dev) {
			allOK = false
		}
	}
	return allOK
}
