package dispatch

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/chaz8081/pgpemu/internal/session"
)

// Press pattern geometry: the button state is sampled every 50 ms over ten
// samples, and a press lasts at least four samples.
const (
	pressSamples    = 10
	pressMaxStart   = 5
	pressMinSamples = 4
)

// ActiveChecker reports whether a connection is still bound.
type ActiveChecker interface {
	IsActive(id session.ConnID) bool
}

// Notifier sends a GATT notification to a connection.
type Notifier interface {
	Notify(id session.ConnID, handle uint16, data []byte) error
}

// ButtonItem is a queued button press.
type ButtonItem struct {
	ConnID session.ConnID
	Handle uint16
	Delay  time.Duration

	queuedAt time.Time
}

// ButtonQueue delays and sends simulated button presses.
type ButtonQueue struct {
	q        *fifo[ButtonItem]
	active   ActiveChecker
	notifier Notifier

	rndMu sync.Mutex
	rnd   *rand.Rand

	// the item the worker is currently waiting on
	inflightMu     sync.Mutex
	inflightConn   session.ConnID
	inflightCancel context.CancelFunc
}

// NewButtonQueue creates a queue with room for size items. rnd drives the
// press window; nil selects a randomly seeded source.
func NewButtonQueue(size int, active ActiveChecker, notifier Notifier, rnd *rand.Rand) *ButtonQueue {
	if rnd == nil {
		rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &ButtonQueue{
		q:        newFIFO[ButtonItem](size),
		active:   active,
		notifier: notifier,
		rnd:      rnd,
	}
}

// Push queues a press, blocking while the queue is full.
func (b *ButtonQueue) Push(ctx context.Context, item ButtonItem) error {
	item.queuedAt = time.Now()
	return b.q.push(ctx, item)
}

// Len returns the number of queued presses.
func (b *ButtonQueue) Len() int { return b.q.len() }

// Pending returns the queued presses in order.
func (b *ButtonQueue) Pending() []ButtonItem { return b.q.snapshot() }

// Purge drops every press for id, including one the worker is waiting on.
// The remaining items keep their order.
func (b *ButtonQueue) Purge(id session.ConnID) int {
	removed := b.q.purge(func(it ButtonItem) bool { return it.ConnID == id })

	b.inflightMu.Lock()
	if b.inflightCancel != nil && b.inflightConn == id {
		b.inflightCancel()
		removed++
	}
	b.inflightMu.Unlock()

	slog.Info("[BUTTON] purged queue for connection", "conn", id, "removed", removed)
	return removed
}

// PressPattern returns a random 10-sample press window encoded as sent to
// the app: the two high bits in byte 0, the low eight in byte 1.
func (b *ButtonQueue) PressPattern() ([2]byte, time.Duration) {
	b.rndMu.Lock()
	start := b.rnd.IntN(pressMaxStart + 1)
	last := start + pressMinSamples + b.rnd.IntN(pressSamples-start-pressMinSamples)
	b.rndMu.Unlock()

	var pattern uint16
	for i := 0; i < pressSamples; i++ {
		pattern <<= 1
		if i >= start && i <= last {
			pattern |= 1
		}
	}
	pattern &= 0x03ff
	return [2]byte{byte(pattern>>8) & 0x03, byte(pattern)}, time.Duration(last-start+1) * 50 * time.Millisecond
}

// Run drains the queue until ctx is cancelled.
func (b *ButtonQueue) Run(ctx context.Context) {
	slog.Info("[BUTTON] worker started")
	for {
		item, err := b.q.pop(ctx)
		if err != nil {
			slog.Info("[BUTTON] worker stopped")
			return
		}
		b.deliver(ctx, item)
	}
}

func (b *ButtonQueue) deliver(ctx context.Context, item ButtonItem) {
	itemCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.inflightMu.Lock()
	b.inflightConn, b.inflightCancel = item.ConnID, cancel
	b.inflightMu.Unlock()
	defer func() {
		b.inflightMu.Lock()
		b.inflightCancel = nil
		b.inflightMu.Unlock()
	}()

	data, hold := b.PressPattern()
	slog.Debug("[BUTTON] pressing button", "conn", item.ConnID, "delay", item.Delay, "duration", hold)

	if !sleepUntil(itemCtx, item.queuedAt.Add(item.Delay)) {
		if ctx.Err() == nil {
			slog.Warn("[BUTTON] press purged before delivery", "conn", item.ConnID)
		}
		return
	}
	if !b.active.IsActive(item.ConnID) {
		slog.Warn("[BUTTON] connection no longer active, skipping press", "conn", item.ConnID)
		return
	}
	if err := b.notifier.Notify(item.ConnID, item.Handle, data[:]); err != nil {
		slog.Error("[BUTTON] notify failed", "conn", item.ConnID, "error", err)
	}
}
