// Package epoch implements the epoch clock and RCU-style deferred
// reclamation queue described in spec.md §4.5: a monotonically advancing
// global epoch, a per-thread pin table used to derive a safe epoch, and a
// thread-local grouped queue of callbacks deferred against an epoch. The
// queue never decides safety itself; it obeys the bound the caller (the
// transaction runtime) supplies.
package epoch

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/sharedcode/oltpcore/syncutil"
)

const noPin = ^uint64(0)

// Clock is a monotonically increasing epoch counter with a derived safe
// epoch E_safe = min over live threads of each thread's pinned epoch. ID is
// whatever comparable identity the caller uses for threads (this module's
// root package uses its UUID type).
type Clock[ID comparable] struct {
	global atomic.Uint64
	mu     syncutil.RWMutex
	pins   map[ID]*atomic.Uint64
}

// NewClock creates a Clock starting at epoch 0 with no registered threads.
func NewClock[ID comparable]() *Clock[ID] {
	return &Clock[ID]{pins: make(map[ID]*atomic.Uint64)}
}

// Join registers id as a live thread with no pinned epoch. Per spec.md §6,
// this is the one-time registration step a thread performs before calling
// into any container operation.
func (c *Clock[ID]) Join(id ID) {
	p := &atomic.Uint64{}
	p.Store(noPin)
	c.mu.Lock()
	c.pins[id] = p
	c.mu.Unlock()
}

// Leave deregisters id. Its pinned epoch (if any) no longer bounds the safe
// epoch computed by Safe.
func (c *Clock[ID]) Leave(id ID) {
	c.mu.Lock()
	delete(c.pins, id)
	c.mu.Unlock()
}

// Pin records that id is now observing the current global epoch and
// returns it. A transaction pins its thread for the duration it may hold
// references into the containers (spec.md §5's "records are enqueued
// against the thread's current epoch").
func (c *Clock[ID]) Pin(id ID) uint64 {
	e := c.global.Load()
	c.mu.RLock()
	p, ok := c.pins[id]
	c.mu.RUnlock()
	if !ok {
		panic("epoch: Pin of an unregistered thread")
	}
	p.Store(e)
	return e
}

// Unpin clears id's pinned epoch, meaning it no longer bounds Safe.
func (c *Clock[ID]) Unpin(id ID) {
	c.mu.RLock()
	p, ok := c.pins[id]
	c.mu.RUnlock()
	if ok {
		p.Store(noPin)
	}
}

// Advance increments the global epoch and returns its new value.
func (c *Clock[ID]) Advance() uint64 {
	return c.global.Add(1)
}

// Safe computes E_safe = min(global epoch, every live thread's pinned
// epoch), fanning out over the registered threads concurrently so that a
// clock with many live threads does not serialize the scan on one core.
func (c *Clock[ID]) Safe(ctx context.Context) uint64 {
	c.mu.RLock()
	ptrs := make([]*atomic.Uint64, 0, len(c.pins))
	for _, p := range c.pins {
		ptrs = append(ptrs, p)
	}
	c.mu.RUnlock()

	safe := c.global.Load()
	if len(ptrs) == 0 {
		return safe
	}

	observed := make([]uint64, len(ptrs))
	g, _ := errgroup.WithContext(ctx)
	for i, p := range ptrs {
		i, p := i, p
		g.Go(func() error {
			observed[i] = p.Load()
			return nil
		})
	}
	_ = g.Wait()

	for _, v := range observed {
		if v == noPin {
			continue
		}
		if v < safe {
			safe = v
		}
	}
	return safe
}
