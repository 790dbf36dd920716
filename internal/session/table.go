package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/pgpemu/internal/settings"
)

// DefaultMaxConnections is the table capacity used when none is configured.
const DefaultMaxConnections = 4

// ErrNoCapacity is returned when every slot is bound and a new connection
// arrives. The caller must refuse the underlying connection.
var ErrNoCapacity = errors.New("session: connection table full")

type slot struct {
	bound bool
	rec   *Record
}

// Table maps connection handles to session records. Slot mutations are
// serialized by mu; the active counter has its own lock so counter reads never
// wait behind a dump holding mu.
type Table struct {
	mu    sync.RWMutex
	slots []slot

	countMu sync.Mutex
	active  int

	now func() time.Time
}

// NewTable creates a table with room for max concurrent connections.
func NewTable(max int) *Table {
	if max <= 0 {
		max = DefaultMaxConnections
	}
	return &Table{
		slots: make([]slot, max),
		now:   time.Now,
	}
}

// MaxConnections returns the table capacity.
func (t *Table) MaxConnections() int {
	return len(t.slots)
}

// ActiveCount returns the number of bound slots.
func (t *Table) ActiveCount() int {
	t.countMu.Lock()
	defer t.countMu.Unlock()
	return t.active
}

func (t *Table) incrementActive() {
	t.countMu.Lock()
	defer t.countMu.Unlock()
	t.active++
}

func (t *Table) decrementActive() {
	t.countMu.Lock()
	defer t.countMu.Unlock()
	if t.active <= 0 {
		slog.Error("[SESSION] active connection count underflow", "count", t.active)
		t.active = 0
		return
	}
	t.active--
}

// indexOf returns the slot bound to id, or -1. Caller holds mu.
func (t *Table) indexOf(id ConnID) int {
	for i := range t.slots {
		if t.slots[i].bound && t.slots[i].rec.connID == id {
			return i
		}
	}
	return -1
}

// CreateOrGet returns the record bound to id. If id is new, the first free
// slot is bound to a fresh record with the handshake start stamped.
func (t *Table) CreateOrGet(id ConnID) (*Record, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if i := t.indexOf(id); i >= 0 {
		return t.slots[i].rec, nil
	}
	for i := range t.slots {
		if t.slots[i].bound {
			continue
		}
		rec := newRecord(id, i, t.now())
		t.slots[i] = slot{bound: true, rec: rec}
		t.incrementActive()
		slog.Debug("[SESSION] bound connection", "conn", id, "slot", i, "trace", rec.traceID)
		return rec, nil
	}
	slog.Warn("[SESSION] no free slot", "conn", id, "max", len(t.slots))
	return nil, ErrNoCapacity
}

// Get returns the record bound to id without allocating.
func (t *Table) Get(id ConnID) (*Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i := t.indexOf(id); i >= 0 {
		return t.slots[i].rec, true
	}
	return nil, false
}

// GetByIndex returns the record in slot i if that slot is bound.
func (t *Table) GetByIndex(i int) (*Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i < 0 || i >= len(t.slots) || !t.slots[i].bound {
		return nil, false
	}
	return t.slots[i].rec, true
}

// IsActive reports whether id is bound.
func (t *Table) IsActive(id ConnID) bool {
	_, ok := t.Get(id)
	return ok
}

// Remove releases the slot bound to id, dropping its device settings and
// zeroing its handshake state. Unknown ids are ignored.
func (t *Table) Remove(id ConnID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i := t.indexOf(id)
	if i < 0 {
		return
	}
	rec := t.slots[i].rec
	rec.wipe(t.now())
	t.slots[i] = slot{}
	t.decrementActive()
	slog.Debug("[SESSION] released connection", "conn", id, "slot", i, "trace", rec.traceID)
}

// Start stamps the connection start of id.
func (t *Table) Start(id ConnID) bool {
	return t.stamp(id, func(ts *Timestamps) { ts.ConnectionStart = t.now() })
}

// Update stamps a reconnect of id.
func (t *Table) Update(id ConnID) bool {
	return t.stamp(id, func(ts *Timestamps) { ts.ReconnectAt = t.now() })
}

// Stop stamps the connection end of id without releasing it.
func (t *Table) Stop(id ConnID) bool {
	return t.stamp(id, func(ts *Timestamps) { ts.ConnectionEnd = t.now() })
}

func (t *Table) stamp(id ConnID, fn func(ts *Timestamps)) bool {
	rec, ok := t.Get(id)
	if !ok {
		return false
	}
	rec.stamp(fn)
	return true
}

// SetRemoteAddress records the device address of id once it is known.
func (t *Table) SetRemoteAddress(id ConnID, addr settings.Address) bool {
	rec, ok := t.Get(id)
	if !ok {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.closed {
		return false
	}
	rec.addr = addr
	return true
}

// AttachSettings hands dev to the record bound to id. The settings live until
// the slot is released.
func (t *Table) AttachSettings(id ConnID, dev *settings.Device) bool {
	rec, ok := t.Get(id)
	if !ok {
		return false
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.closed {
		return false
	}
	rec.device = dev
	return true
}

// FindByAddress returns the bound record whose remote address is addr.
func (t *Table) FindByAddress(addr settings.Address) (*Record, bool) {
	if addr.IsZero() {
		return nil, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	for i := range t.slots {
		if !t.slots[i].bound {
			continue
		}
		if rec := t.slots[i].rec; rec.Address() == addr {
			return rec, true
		}
	}
	return nil, false
}

// DeviceSettings returns the live settings of the device with address addr,
// whatever connection it currently uses.
func (t *Table) DeviceSettings(addr settings.Address) (*settings.Device, bool) {
	rec, ok := t.FindByAddress(addr)
	if !ok {
		return nil, false
	}
	dev := rec.Settings()
	return dev, dev != nil
}

// Records returns the bound records in slot order.
func (t *Table) Records() []*Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Record, 0, len(t.slots))
	for i := range t.slots {
		if t.slots[i].bound {
			out = append(out, t.slots[i].rec)
		}
	}
	return out
}

// Devices returns the settings attached to bound records.
func (t *Table) Devices() []*settings.Device {
	var out []*settings.Device
	for _, rec := range t.Records() {
		if dev := rec.Settings(); dev != nil {
			out = append(out, dev)
		}
	}
	return out
}

// Reset releases every slot and returns the connection handles that were
// bound, so the caller can disconnect them.
func (t *Table) Reset() []ConnID {
	t.mu.Lock()
	defer t.mu.Unlock()

	var ids []ConnID
	now := t.now()
	for i := range t.slots {
		if !t.slots[i].bound {
			continue
		}
		rec := t.slots[i].rec
		ids = append(ids, rec.connID)
		rec.wipe(now)
		t.slots[i] = slot{}
		t.decrementActive()
	}
	slog.Info("[SESSION] reset all connections", "released", len(ids))
	return ids
}

// Dump writes one line per slot plus the active count.
func (t *Table) Dump(w io.Writer) error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	now := t.now()
	for i := range t.slots {
		s := t.slots[i]
		if !s.bound {
			if _, err := fmt.Fprintf(w, "slot %d: free\n", i); err != nil {
				return err
			}
			continue
		}
		rec := s.rec
		hs := rec.Handshake()
		ts := rec.Timestamps()
		st := rec.Stats()
		up := time.Duration(0)
		if !ts.ConnectionStart.IsZero() {
			up = now.Sub(ts.ConnectionStart).Truncate(time.Second)
		}
		_, err := fmt.Fprintf(w, "slot %d: conn=%d addr=%s cert=%d reconnect_key=%t notify=%t up=%s caught=%d fled=%d spin=%d\n",
			i, rec.connID, rec.Address(), hs.CertState, hs.HasReconnectKey, hs.Notify, up, st.Caught, st.Fled, st.Spin)
		if err != nil {
			return err
		}
	}
	_, err := fmt.Fprintf(w, "active: %d/%d\n", t.ActiveCount(), len(t.slots))
	return err
}
