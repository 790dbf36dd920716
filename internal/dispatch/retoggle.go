package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/chaz8081/pgpemu/internal/settings"
)

// DefaultRetoggleDelay is how long a suspended setting stays off.
const DefaultRetoggleDelay = 300 * time.Second

// DeviceResolver finds the live settings of a device by address.
type DeviceResolver interface {
	DeviceSettings(addr settings.Address) (*settings.Device, bool)
}

// DeviceSaver persists device settings.
type DeviceSaver interface {
	SaveDevice(dev *settings.Device) bool
}

// RetoggleItem re-enables Setting on the device Addr after Delay. Items are
// keyed by address so they survive a reconnect under a new connection id.
type RetoggleItem struct {
	Addr    settings.Address
	Setting settings.Setting
	Delay   time.Duration

	queuedAt time.Time
}

// RetoggleQueue re-enables suspended settings once their cooldown ends.
type RetoggleQueue struct {
	q        *fifo[RetoggleItem]
	resolver DeviceResolver
	saver    DeviceSaver
}

// NewRetoggleQueue creates a queue with room for size items.
func NewRetoggleQueue(size int, resolver DeviceResolver, saver DeviceSaver) *RetoggleQueue {
	return &RetoggleQueue{
		q:        newFIFO[RetoggleItem](size),
		resolver: resolver,
		saver:    saver,
	}
}

// Push queues a retoggle, blocking while the queue is full.
func (r *RetoggleQueue) Push(ctx context.Context, item RetoggleItem) error {
	item.queuedAt = time.Now()
	return r.q.push(ctx, item)
}

// Len returns the number of queued retoggles.
func (r *RetoggleQueue) Len() int { return r.q.len() }

// Pending returns the queued retoggles in order.
func (r *RetoggleQueue) Pending() []RetoggleItem { return r.q.snapshot() }

// Run drains the queue until ctx is cancelled.
func (r *RetoggleQueue) Run(ctx context.Context) {
	slog.Info("[SETTING] worker started")
	for {
		item, err := r.q.pop(ctx)
		if err != nil {
			slog.Info("[SETTING] worker stopped")
			return
		}
		slog.Debug("[SETTING] retoggle scheduled", "addr", item.Addr, "setting", item.Setting, "delay", item.Delay)
		if !sleepUntil(ctx, item.queuedAt.Add(item.Delay)) {
			slog.Info("[SETTING] worker stopped")
			return
		}
		r.deliver(item)
	}
}

func (r *RetoggleQueue) deliver(item RetoggleItem) {
	dev, ok := r.resolver.DeviceSettings(item.Addr)
	if !ok {
		slog.Warn("[SETTING] device disconnected before retoggle", "addr", item.Addr, "setting", item.Setting)
		return
	}
	changed, ok := dev.Retoggle(item.Setting)
	if !ok {
		slog.Warn("[SETTING] cannot lock device settings", "addr", item.Addr, "setting", item.Setting)
		return
	}
	if !changed {
		slog.Debug("[SETTING] already enabled", "addr", item.Addr, "setting", item.Setting)
		return
	}
	slog.Info("[SETTING] re-enabled", "addr", item.Addr, "setting", item.Setting)
	if !r.saver.SaveDevice(dev) {
		slog.Warn("[SETTING] failed to persist device settings", "addr", item.Addr)
	}
}
