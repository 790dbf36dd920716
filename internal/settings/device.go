package settings

import "time"

// MaxSpinProbability is the highest accepted auto-spin probability.
const MaxSpinProbability uint8 = 9

// Setting names one of the per-device automation behaviours.
type Setting int

const (
	AutoCatch Setting = iota
	AutoSpin
)

func (s Setting) String() string {
	switch s {
	case AutoCatch:
		return "autocatch"
	case AutoSpin:
		return "autospin"
	default:
		return "unknown"
	}
}

// DeviceValues are the settings of one remote device.
type DeviceValues struct {
	AutoCatch bool
	AutoSpin  bool
	// SpinProbability is 0 for "always spin"; 1..9 enables random skipping.
	SpinProbability uint8

	CatchRetogglePending bool
	SpinRetogglePending  bool
	CatchRetoggleAt      time.Time
	SpinRetoggleAt       time.Time
}

func (v *DeviceValues) enabled(s Setting) *bool {
	if s == AutoSpin {
		return &v.AutoSpin
	}
	return &v.AutoCatch
}

func (v *DeviceValues) pending(s Setting) (*bool, *time.Time) {
	if s == AutoSpin {
		return &v.SpinRetogglePending, &v.SpinRetoggleAt
	}
	return &v.CatchRetogglePending, &v.CatchRetoggleAt
}

// Device holds the settings of one remote device, guarded by its own lock so
// that one device never blocks another.
type Device struct {
	addr Address
	cell *Guarded[DeviceValues]
}

// DefaultDeviceValues are used for devices without stored settings.
func DefaultDeviceValues() DeviceValues {
	return DeviceValues{
		AutoCatch:       true,
		AutoSpin:        true,
		SpinProbability: 0,
	}
}

// NewDevice creates settings for addr with default values.
func NewDevice(addr Address) *Device {
	return NewDeviceWith(addr, DefaultDeviceValues())
}

// NewDeviceWith creates settings for addr with the given values. An out of
// range probability is replaced by 0.
func NewDeviceWith(addr Address, v DeviceValues) *Device {
	if v.SpinProbability > MaxSpinProbability {
		v.SpinProbability = 0
	}
	return &Device{addr: addr, cell: NewGuarded(v)}
}

// Address returns the device address the settings belong to.
func (d *Device) Address() Address {
	return d.addr
}

// Values returns a copy of all values, blocking until the lock is free.
func (d *Device) Values() DeviceValues {
	var out DeviceValues
	if d == nil {
		return out
	}
	d.cell.WithBlocking(func(v *DeviceValues) { out = *v })
	return out
}

// Enabled reports whether s is currently on.
func (d *Device) Enabled(s Setting) bool {
	if d == nil {
		return false
	}
	on, _ := Get(d.cell, func(v *DeviceValues) *bool { return v.enabled(s) })
	return on
}

// Toggle flips s and returns its new value. ok is false on lock timeout.
func (d *Device) Toggle(s Setting) (on bool, ok bool) {
	if d == nil {
		return false, false
	}
	ok = d.cell.WithTimeout(InteractiveTimeout, func(v *DeviceValues) {
		p := v.enabled(s)
		*p = !*p
		on = *p
	})
	return on, ok
}

// SetEnabled switches s on or off.
func (d *Device) SetEnabled(s Setting, on bool) bool {
	if d == nil {
		return false
	}
	return Set(d.cell, func(v *DeviceValues) *bool { return v.enabled(s) }, on)
}

// SpinProbability returns the auto-spin skip probability.
func (d *Device) SpinProbability() uint8 {
	if d == nil {
		return 0
	}
	p, _ := Get(d.cell, func(v *DeviceValues) *uint8 { return &v.SpinProbability })
	return p
}

// SetSpinProbability stores p. Values above MaxSpinProbability are rejected
// and leave the stored value unchanged.
func (d *Device) SetSpinProbability(p uint8) bool {
	if d == nil || p > MaxSpinProbability {
		return false
	}
	return Set(d.cell, func(v *DeviceValues) *uint8 { return &v.SpinProbability }, p)
}

// Suspend turns s off and marks it for re-enabling at due. It only acts when
// s is on and no retoggle is pending, and reports whether it did so; the
// caller queues the retoggle only in that case.
func (d *Device) Suspend(s Setting, due time.Time) bool {
	if d == nil {
		return false
	}
	suspended := false
	d.cell.WithTimeout(InteractiveTimeout, func(v *DeviceValues) {
		on := v.enabled(s)
		pending, at := v.pending(s)
		if !*on || *pending {
			return
		}
		*on = false
		*pending = true
		*at = due
		suspended = true
	})
	return suspended
}

// Retoggle clears the pending flag of s and turns s back on unless it is
// already on. changed reports whether the value was flipped.
func (d *Device) Retoggle(s Setting) (changed bool, ok bool) {
	if d == nil {
		return false, false
	}
	ok = d.cell.WithTimeout(InteractiveTimeout, func(v *DeviceValues) {
		pending, at := v.pending(s)
		*pending = false
		*at = time.Time{}
		if on := v.enabled(s); !*on {
			*on = true
			changed = true
		}
	})
	return changed, ok
}

// Update runs fn with the lock held, giving up after InteractiveTimeout.
func (d *Device) Update(fn func(v *DeviceValues)) bool {
	if d == nil {
		return false
	}
	return d.cell.WithTimeout(InteractiveTimeout, fn)
}
