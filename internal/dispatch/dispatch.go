// Package dispatch hands allocated jobs to an execution runtime and reports
// their outcome back to the lifecycle manager.
package dispatch

import (
	"context"
	"errors"
	"time"

	"meshplane/internal/store"
)

// ErrStopped is returned by Dispatch once a dispatcher has shut down.
var ErrStopped = errors.New("dispatcher stopped")

// WorkOrder is everything a runtime needs to execute one task.
type WorkOrder struct {
	TaskID       string
	JobID        string
	NodeID       string
	JobType      string
	Model        string
	Dataset      string
	DurationHint time.Duration
}

// DurationHint returns the expected run time for a speed policy.
func DurationHint(speed string) time.Duration {
	switch speed {
	case "fast":
		return 10 * time.Second
	case "cheap":
		return 60 * time.Second
	default:
		return 30 * time.Second
	}
}

// NewWorkOrder builds the work order for a running job and its open task.
func NewWorkOrder(job *store.Job, task *store.Task) WorkOrder {
	order := WorkOrder{
		TaskID:       task.TaskID,
		JobID:        job.JobID,
		NodeID:       task.NodeID,
		JobType:      job.JobType,
		Model:        job.Model,
		DurationHint: DurationHint(job.Speed),
	}
	if job.Dataset != nil {
		order.Dataset = *job.Dataset
	}
	return order
}

// Result is the outcome of one execution.
type Result struct {
	JobID        string
	TaskID       string
	Status       store.JobStatus // completed or failed
	ErrorMessage string
	Duration     time.Duration
}

// Reporter receives execution outcomes.
type Reporter interface {
	Report(ctx context.Context, result Result) error
}

// Dispatcher accepts work orders for execution.
type Dispatcher interface {
	Dispatch(ctx context.Context, order WorkOrder) error
}
