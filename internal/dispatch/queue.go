// Package dispatch runs delayed actions triggered by LED events: simulated
// button presses and the re-enabling of temporarily suspended settings. Each
// kind has a small bounded FIFO drained by one worker goroutine.
package dispatch

import (
	"context"
	"sync"
	"time"
)

// DefaultQueueSize is the capacity of each queue.
const DefaultQueueSize = 10

// fifo is a bounded queue whose Push blocks while full and whose Pop blocks
// while empty. Both honour context cancellation.
type fifo[T any] struct {
	mu    sync.Mutex
	items []T
	size  int

	notEmpty chan struct{}
	notFull  chan struct{}
}

func newFIFO[T any](size int) *fifo[T] {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &fifo[T]{
		items:    make([]T, 0, size),
		size:     size,
		notEmpty: make(chan struct{}, 1),
		notFull:  make(chan struct{}, 1),
	}
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// signalLocked wakes waiters whose condition currently holds. Caller holds mu.
func (q *fifo[T]) signalLocked() {
	if len(q.items) > 0 {
		signal(q.notEmpty)
	}
	if len(q.items) < q.size {
		signal(q.notFull)
	}
}

func (q *fifo[T]) push(ctx context.Context, item T) error {
	for {
		q.mu.Lock()
		if len(q.items) < q.size {
			q.items = append(q.items, item)
			q.signalLocked()
			q.mu.Unlock()
			return nil
		}
		q.mu.Unlock()

		select {
		case <-q.notFull:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *fifo[T]) pop(ctx context.Context) (T, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			var zero T
			q.items[0] = zero
			q.items = q.items[1:]
			q.signalLocked()
			q.mu.Unlock()
			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notEmpty:
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		}
	}
}

// purge removes every item matching drop and keeps the rest in order.
func (q *fifo[T]) purge(drop func(T) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := make([]T, 0, q.size)
	removed := 0
	for _, it := range q.items {
		if drop(it) {
			removed++
			continue
		}
		kept = append(kept, it)
	}
	q.items = kept
	q.signalLocked()
	return removed
}

func (q *fifo[T]) snapshot() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]T, len(q.items))
	copy(out, q.items)
	return out
}

func (q *fifo[T]) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// sleepUntil waits until due without spinning. It returns false if ctx ends
// first.
func sleepUntil(ctx context.Context, due time.Time) bool {
	d := time.Until(due)
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
