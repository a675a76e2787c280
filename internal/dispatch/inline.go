package dispatch

import (
	"context"
	"sync"
)

// Inline executes every work order in-process on its own goroutine, with no
// queue and no concurrency bound. It suits development and tests; production
// controllers use Queued.
type Inline struct {
	executor *Executor

	mu      sync.Mutex
	stopped bool
	wg      sync.WaitGroup
}

func NewInline(e *Executor) *Inline {
	return &Inline{executor: e}
}

// Dispatch starts the order and returns without waiting for it. The work
// outlives ctx, which usually belongs to an HTTP request.
func (d *Inline) Dispatch(ctx context.Context, order WorkOrder) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrStopped
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.executor.Execute(context.WithoutCancel(ctx), order)
	}()
	return nil
}

// Close refuses further orders and waits for the running ones to report.
func (d *Inline) Close() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
	d.wg.Wait()
}
