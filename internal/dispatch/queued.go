package dispatch

import (
	"context"
	"log/slog"
	"sync"
)

// QueuedConfig sizes the queued dispatcher.
type QueuedConfig struct {
	Concurrency int // Maximum concurrent executions (default: 4)
	QueueSize   int // Pending work orders buffered before Dispatch blocks (default: 64)
}

// Queued buffers work orders and executes them on a bounded pool of goroutines.
type Queued struct {
	executor *Executor
	config   QueuedConfig
	logger   *slog.Logger

	orders   chan WorkOrder
	stopped  chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewQueued creates a queued dispatcher. Orders are only executed once Run is started.
func NewQueued(e *Executor, cfg QueuedConfig, logger *slog.Logger) *Queued {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &Queued{
		executor: e,
		config:   cfg,
		logger:   logger,
		orders:   make(chan WorkOrder, cfg.QueueSize),
		stopped:  make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Dispatch enqueues an order, blocking while the queue is full.
func (q *Queued) Dispatch(ctx context.Context, order WorkOrder) error {
	select {
	case <-q.stopped:
		return ErrStopped
	default:
	}

	select {
	case q.orders <- order:
		return nil
	case <-q.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of buffered orders.
func (q *Queued) Pending() int {
	return len(q.orders)
}

// Run executes queued orders until ctx is cancelled, then stops accepting new
// orders and waits for in-flight executions to finish. Orders still buffered
// at shutdown are left to the timeout sweeper.
func (q *Queued) Run(ctx context.Context) error {
	q.logger.Info("dispatcher starting", "concurrency", q.config.Concurrency, "queue_size", q.config.QueueSize)

	sem := make(chan struct{}, q.config.Concurrency)
	var wg sync.WaitGroup

	defer close(q.done)
	defer q.stopOnce.Do(func() { close(q.stopped) })

	// In-flight executions outlive ctx so their results are still reported.
	execCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			q.stopOnce.Do(func() { close(q.stopped) })
			q.logger.Info("dispatcher stopping, waiting for running tasks", "abandoned", len(q.orders))
			wg.Wait()
			return ctx.Err()

		case order := <-q.orders:
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				q.logger.Warn("dispatcher stopped before task could start", "task_id", order.TaskID)
				continue
			}

			wg.Add(1)
			go func(order WorkOrder) {
				defer wg.Done()
				defer func() { <-sem }()
				q.executor.Execute(execCtx, order)
			}(order)
		}
	}
}

// Done returns a channel that is closed when Run has returned.
func (q *Queued) Done() <-chan struct{} {
	return q.done
}
