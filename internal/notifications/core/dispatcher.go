package core

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrentDeliveries bounds in-flight sender calls when no limit
// is configured.
const DefaultMaxConcurrentDeliveries = 64

// Dispatcher runs delivery tasks on their own goroutines, at most limit at a
// time. Submit never blocks the caller.
type Dispatcher struct {
	sem  *semaphore.Weighted
	base context.Context
	wg   sync.WaitGroup
}

// NewDispatcher creates a Dispatcher whose tasks run under base. Cancelling
// base makes queued tasks give up acquiring a slot.
func NewDispatcher(base context.Context, limit int) *Dispatcher {
	if limit <= 0 {
		limit = DefaultMaxConcurrentDeliveries
	}
	if base == nil {
		base = context.Background()
	}
	return &Dispatcher{
		sem:  semaphore.NewWeighted(int64(limit)),
		base: base,
	}
}

// Submit schedules run. If no slot can be acquired because the base context
// is done, rejected is called with that error instead.
func (d *Dispatcher) Submit(run func(ctx context.Context), rejected func(ctx context.Context, err error)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.sem.Acquire(d.base, 1); err != nil {
			if rejected != nil {
				rejected(context.WithoutCancel(d.base), err)
			}
			return
		}
		defer d.sem.Release(1)
		run(d.base)
	}()
}

// track counts one unit of work in Wait. The returned func must be called
// exactly once when the work is done. Work that submits tasks must be tracked
// so Wait cannot return before those tasks exist.
func (d *Dispatcher) track() func() {
	d.wg.Add(1)
	return d.wg.Done
}

// Wait blocks until every submitted task and tracked unit of work has
// finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
