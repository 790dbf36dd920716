// Package session tracks the connected clients: a fixed capacity table of
// slots, each owning the handshake state, timestamps and device settings of
// one live connection.
package session

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/chaz8081/pgpemu/internal/settings"
)

// ConnID is the transient connection handle assigned by the BLE stack. It is
// only valid for the lifetime of one physical connection.
type ConnID uint16

// Buffer sizes of the handshake state.
const (
	NonceLen              = 16
	SessionKeyLen         = 16
	ReconnectChallengeLen = 32
	CertBufferLen         = 378
)

// Handshake is the cryptographic state filled in by the certificate exchange.
// CertState is non-zero while an exchange is in progress; the buffers then
// hold partial protocol data.
type Handshake struct {
	CertState       uint8
	HasReconnectKey bool
	Notify          bool

	CertBuffer         [CertBufferLen]byte
	State0Nonce        [NonceLen]byte
	Challenge          [NonceLen]byte
	MainNonce          [NonceLen]byte
	OuterNonce         [NonceLen]byte
	SessionKey         [SessionKeyLen]byte
	ReconnectChallenge [ReconnectChallengeLen]byte
}

// Timestamps are the monotonic lifecycle stamps of a connection.
type Timestamps struct {
	HandshakeStart  time.Time
	ReconnectAt     time.Time
	ConnectionStart time.Time
	ConnectionEnd   time.Time
}

// Stats counts classified outcomes during one connection.
type Stats struct {
	Caught uint32
	Fled   uint32
	Spin   uint32
}

// Record is the state of one connection. A record is created when its slot is
// bound and discarded when the slot is released, so a pointer obtained from
// the table never observes a later connection.
type Record struct {
	connID  ConnID
	slot    int
	traceID uuid.UUID

	mu     sync.Mutex
	addr   settings.Address
	hs     Handshake
	ts     Timestamps
	device *settings.Device
	closed bool

	caught atomic.Uint32
	fled   atomic.Uint32
	spin   atomic.Uint32
}

func newRecord(id ConnID, slot int, now time.Time) *Record {
	r := &Record{
		connID:  id,
		slot:    slot,
		traceID: uuid.New(),
	}
	r.ts.HandshakeStart = now
	return r
}

// ConnID returns the connection handle the record is bound to.
func (r *Record) ConnID() ConnID { return r.connID }

// Slot returns the table index holding the record.
func (r *Record) Slot() int { return r.slot }

// TraceID identifies this connection in logs across reconnect updates.
func (r *Record) TraceID() uuid.UUID { return r.traceID }

// Address returns the remote device address, zero until it is known.
func (r *Record) Address() settings.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.addr
}

// Settings returns the device settings owned by this connection, or nil if
// none are attached yet.
func (r *Record) Settings() *settings.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.device
}

// Handshake returns a copy of the handshake state.
func (r *Record) Handshake() Handshake {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hs
}

// UpdateHandshake runs fn on the handshake state with the record locked.
// Calls on a released record are ignored and return false.
func (r *Record) UpdateHandshake(fn func(h *Handshake)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	fn(&r.hs)
	return true
}

// Timestamps returns a copy of the lifecycle stamps.
func (r *Record) Timestamps() Timestamps {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ts
}

// Closed reports whether the record's slot has been released.
func (r *Record) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Stats returns the outcome counters.
func (r *Record) Stats() Stats {
	return Stats{
		Caught: r.caught.Load(),
		Fled:   r.fled.Load(),
		Spin:   r.spin.Load(),
	}
}

func (r *Record) CountCaught() { r.caught.Add(1) }
func (r *Record) CountFled()   { r.fled.Add(1) }
func (r *Record) CountSpin()   { r.spin.Add(1) }

func (r *Record) stamp(fn func(ts *Timestamps)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.ts)
}

// wipe zeroes the sensitive state and drops the settings reference. The
// connection end stamp survives so late readers can still log the duration.
func (r *Record) wipe(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hs = Handshake{}
	r.device = nil
	r.closed = true
	r.ts.ConnectionEnd = now
}
