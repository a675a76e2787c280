package engine

import (
	"context"
	"time"
)

// reallocateBatch bounds how many pending jobs one sweep tries to place.
const reallocateBatch = 100

// SweepReport describes what one sweep changed.
type SweepReport struct {
	InactiveNodes int
	TimedOut      []string
	Allocated     int
}

// Sweep marks silent nodes inactive, fails overdue jobs and retries the
// allocation of pending jobs. Each step runs even if an earlier one failed.
func (e *Engine) Sweep(ctx context.Context) SweepReport {
	var report SweepReport

	n, err := e.directory.SweepInactive(ctx)
	if err != nil {
		e.logger.Error("node liveness sweep failed", "error", err)
	}
	report.InactiveNodes = n

	report.TimedOut, err = e.jobs.SweepTimeouts(ctx, e.config.JobTimeout)
	if err != nil {
		e.logger.Error("job timeout sweep failed", "error", err)
	}
	e.telemetry.recordTimeouts(ctx, len(report.TimedOut))

	pending, err := e.jobs.ListPending(ctx, reallocateBatch)
	if err != nil {
		e.logger.Error("failed to list pending jobs", "error", err)
		return report
	}
	for _, job := range pending {
		nodeID, err := e.Allocate(ctx, job.JobID)
		if err != nil {
			e.logger.Warn("re-allocation failed", "job_id", job.JobID, "error", err)
			continue
		}
		if nodeID != "" {
			report.Allocated++
		}
	}

	if report.InactiveNodes > 0 || len(report.TimedOut) > 0 || report.Allocated > 0 {
		e.logger.Info("sweep finished",
			"inactive_nodes", report.InactiveNodes,
			"timed_out", len(report.TimedOut),
			"allocated", report.Allocated,
		)
	}
	return report
}

// RunSweeper sweeps every SweepInterval until ctx is cancelled.
func (e *Engine) RunSweeper(ctx context.Context) error {
	ticker := time.NewTicker(e.config.SweepInterval)
	defer ticker.Stop()

	e.logger.Info("sweeper started", "interval", e.config.SweepInterval.String())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.Sweep(ctx)
		}
	}
}
