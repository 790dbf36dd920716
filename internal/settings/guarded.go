// Package settings holds the process-wide and per-device configuration values.
// Every value lives inside a Guarded cell, so it can only be read or written
// while the cell's lock is held.
package settings

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// InteractiveTimeout bounds how long an interactive mutation (console, config
// surface) waits for a contended lock before giving up.
const InteractiveTimeout = 10 * time.Second

// Guarded is a value that is only reachable through a locked scope. The lock
// is a weighted semaphore of size one so acquisition can be bounded by a
// context deadline.
type Guarded[T any] struct {
	sem *semaphore.Weighted
	val T
}

// NewGuarded wraps v in a new cell.
func NewGuarded[T any](v T) *Guarded[T] {
	return &Guarded[T]{
		sem: semaphore.NewWeighted(1),
		val: v,
	}
}

// With runs fn with the lock held. It returns false if the lock could not be
// acquired before ctx is done, or if g is nil.
func (g *Guarded[T]) With(ctx context.Context, fn func(v *T)) bool {
	if g == nil || fn == nil {
		return false
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return false
	}
	defer g.sem.Release(1)
	fn(&g.val)
	return true
}

// WithTimeout is With bounded by d.
func (g *Guarded[T]) WithTimeout(d time.Duration, fn func(v *T)) bool {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	return g.With(ctx, fn)
}

// WithBlocking waits for the lock indefinitely. Only meant for reads at
// startup, before other goroutines exist.
func (g *Guarded[T]) WithBlocking(fn func(v *T)) bool {
	return g.With(context.Background(), fn)
}

// Field selects one value inside a guarded struct.
type Field[T, V any] func(*T) *V

// Get reads a field, blocking until the lock is free.
func Get[T, V any](g *Guarded[T], f Field[T, V]) (V, bool) {
	var out V
	if f == nil {
		return out, false
	}
	ok := g.WithBlocking(func(v *T) {
		out = *f(v)
	})
	return out, ok
}

// Set writes a field, giving up after InteractiveTimeout.
func Set[T, V any](g *Guarded[T], f Field[T, V], val V) bool {
	if f == nil {
		return false
	}
	return g.WithTimeout(InteractiveTimeout, func(v *T) {
		*f(v) = val
	})
}

// Toggle flips a boolean field, giving up after InteractiveTimeout.
func Toggle[T any](g *Guarded[T], f Field[T, bool]) bool {
	if f == nil {
		return false
	}
	return g.WithTimeout(InteractiveTimeout, func(v *T) {
		p := f(v)
		*p = !*p
	})
}

// Cycle increments a field and wraps it back to min once it passes max.
// Values below min are moved to min.
func Cycle[T any](g *Guarded[T], f Field[T, uint8], min, max uint8) bool {
	if f == nil || min > max {
		return false
	}
	return g.WithTimeout(InteractiveTimeout, func(v *T) {
		p := f(v)
		switch {
		case *p < min:
			*p = min
		case *p >= max:
			*p = min
		default:
			*p++
		}
	})
}
