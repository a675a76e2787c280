// Package jobs owns the job state machine:
//
//	pending -> running -> completed | failed
//	failed  -> pending (retry)
//
// Every status write carries the expected current status as a precondition,
// so concurrent completions and timeouts cannot both succeed.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"meshplane/internal/clock"
	"meshplane/internal/nodes"
	"meshplane/internal/settlement"
	"meshplane/internal/store"
)

// DefaultTimeout is how long a job may stay running before the sweeper fails it.
const DefaultTimeout = time.Hour

// TimeoutMessage is the error message of jobs failed by SweepTimeouts.
const TimeoutMessage = "timeout"

var (
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidJob        = errors.New("invalid job")
)

// Allocator is invoked after a retry puts a job back to pending.
type Allocator interface {
	Allocate(ctx context.Context, jobID string) (string, error)
}

// CreateParams describes a job submission.
type CreateParams struct {
	UserID   string
	JobType  string
	Model    string
	Dataset  *string
	Budget   *float64
	Speed    string
	Metadata map[string]any
}

// TransitionOptions carries the outcome reported with a terminal transition.
type TransitionOptions struct {
	ErrorMessage string
	// Cost overrides the duration-based price when set.
	Cost *float64
	// Duration is the measured execution time. When nil it is derived from startedAt.
	Duration *time.Duration
}

// Manager drives jobs through their lifecycle.
type Manager struct {
	store     store.Store
	directory *nodes.Directory
	settler   *settlement.Settler
	allocator Allocator
	clock     clock.Clock
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewManager creates a Manager. The allocator is attached later with SetAllocator
// because the allocator itself starts jobs through the manager.
func NewManager(s store.Store, d *nodes.Directory, settler *settlement.Settler, c clock.Clock, logger *slog.Logger) *Manager {
	return &Manager{
		store:     s,
		directory: d,
		settler:   settler,
		clock:     c,
		logger:    logger,
		tracer:    otel.Tracer("meshplane/jobs"),
	}
}

// SetAllocator wires the allocator used by Retry.
func (m *Manager) SetAllocator(a Allocator) {
	m.allocator = a
}

// Create stores a new pending job.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*store.Job, error) {
	switch {
	case p.UserID == "":
		return nil, fmt.Errorf("%w: user_id is required", ErrInvalidJob)
	case p.JobType == "":
		return nil, fmt.Errorf("%w: job_type is required", ErrInvalidJob)
	case p.Model == "":
		return nil, fmt.Errorf("%w: model is required", ErrInvalidJob)
	case p.Budget != nil && *p.Budget < 0:
		return nil, fmt.Errorf("%w: budget must be >= 0", ErrInvalidJob)
	}

	speed := p.Speed
	if speed == "" {
		speed = "balanced"
	}

	job := &store.Job{
		JobID:     store.NewID("job"),
		UserID:    p.UserID,
		JobType:   p.JobType,
		Model:     p.Model,
		Dataset:   p.Dataset,
		Budget:    p.Budget,
		Speed:     speed,
		Status:    store.JobStatusPending,
		CreatedAt: m.clock.Now(),
		Metadata:  p.Metadata,
	}
	if err := m.store.CreateJob(ctx, nil, job); err != nil {
		return nil, err
	}

	m.logger.Info("job created", "job_id", job.JobID, "user_id", job.UserID, "job_type", job.JobType, "speed", job.Speed)
	return job, nil
}

// Get returns a job or store.ErrNotFound.
func (m *Manager) Get(ctx context.Context, jobID string) (*store.Job, error) {
	return m.store.GetJob(ctx, nil, jobID)
}

// ListPending returns pending jobs, oldest first.
func (m *Manager) ListPending(ctx context.Context, limit int) ([]store.Job, error) {
	return m.store.ListJobs(ctx, nil, store.JobFilter{Status: store.JobStatusPending, Limit: limit})
}

// StartOn moves a pending job to running on nodeID within tx and opens its task.
// It fails with store.ErrConflict when the job is no longer pending.
func (m *Manager) StartOn(ctx context.Context, tx store.DBTransaction, job *store.Job, nodeID string) error {
	now := m.clock.Now()

	next := *job
	next.Status = store.JobStatusRunning
	next.AssignedNode = &nodeID
	next.StartedAt = &now
	next.CompletedAt = nil
	next.ErrorMessage = nil

	ok, err := m.store.UpdateJob(ctx, tx, &next, store.JobStatusPending)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("start job %s: %w", job.JobID, store.ErrConflict)
	}

	task := &store.Task{
		TaskID:    store.NewID("task"),
		JobID:     job.JobID,
		NodeID:    nodeID,
		Status:    store.TaskStatusRunning,
		CreatedAt: now,
		StartedAt: &now,
	}
	if err := m.store.CreateTask(ctx, tx, task); err != nil {
		return err
	}

	*job = next
	return nil
}

// Transition moves a job to a new status. Terminal transitions release the
// node and settle the job in the same transaction as the status write.
func (m *Manager) Transition(ctx context.Context, jobID string, to store.JobStatus, opts TransitionOptions) (*store.Job, error) {
	ctx, span := m.tracer.Start(ctx, "transition", trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.String("job.to", string(to)),
	))
	defer span.End()

	var result *store.Job
	err := store.RunInTx(ctx, m.store, func(tx store.DBTransaction) error {
		job, err := m.store.GetJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if !allowed(job.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, to)
		}

		switch to {
		case store.JobStatusPending:
			result, err = m.reset(ctx, tx, job)
		default:
			result, err = m.finish(ctx, tx, job, to, opts)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("job transitioned", "job_id", jobID, "status", result.Status, "cost", result.Cost)
	return result, nil
}

// allowed reports whether Transition may move a job from one status to another.
// Running is only entered through StartOn.
func allowed(from, to store.JobStatus) bool {
	switch from {
	case store.JobStatusRunning:
		return to == store.JobStatusCompleted || to == store.JobStatusFailed
	case store.JobStatusFailed:
		return to == store.JobStatusPending
	default:
		return false
	}
}

func (m *Manager) finish(ctx context.Context, tx store.DBTransaction, job *store.Job, to store.JobStatus, opts TransitionOptions) (*store.Job, error) {
	now := m.clock.Now()

	duration := m.duration(job, now, opts.Duration)
	next := *job
	next.Status = to
	next.CompletedAt = &now
	next.Cost = 0

	if to == store.JobStatusCompleted {
		cost, ok := m.settler.Quote(job, opts.Cost, duration)
		if ok {
			next.Cost = cost
		} else {
			m.logger.Warn("job exceeded budget", "job_id", job.JobID, "cost", cost, "budget", *job.Budget)
			next.Status = store.JobStatusFailed
			msg := settlement.BudgetExceeded
			next.ErrorMessage = &msg
		}
	} else {
		msg := opts.ErrorMessage
		if msg == "" {
			msg = "failed"
		}
		next.ErrorMessage = &msg
	}

	ok, err := m.store.UpdateJob(ctx, tx, &next, store.JobStatusRunning)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("finish job %s: %w", job.JobID, store.ErrConflict)
	}

	if err := m.closeTask(ctx, tx, job.JobID, next.Status, now, duration); err != nil {
		return nil, err
	}

	if next.AssignedNode != nil {
		if err := m.directory.Release(ctx, tx, *next.AssignedNode); err != nil {
			return nil, fmt.Errorf("release node %s: %w", *next.AssignedNode, err)
		}
	}

	if err := m.settler.Settle(ctx, tx, &next); err != nil {
		return nil, err
	}
	return &next, nil
}

func (m *Manager) duration(job *store.Job, now time.Time, reported *time.Duration) time.Duration {
	if reported != nil {
		return *reported
	}
	if job.StartedAt == nil {
		return 0
	}
	return now.Sub(*job.StartedAt)
}

func (m *Manager) closeTask(ctx context.Context, tx store.DBTransaction, jobID string, status store.JobStatus, now time.Time, d time.Duration) error {
	task, err := m.store.GetRunningTask(ctx, tx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	secs := d.Seconds()
	task.Status = store.TaskStatusCompleted
	if status == store.JobStatusFailed {
		task.Status = store.TaskStatusFailed
	}
	task.CompletedAt = &now
	task.DurationSeconds = &secs
	return m.store.UpdateTask(ctx, tx, task)
}

func (m *Manager) reset(ctx context.Context, tx store.DBTransaction, job *store.Job) (*store.Job, error) {
	next := *job
	next.Status = store.JobStatusPending
	next.AssignedNode = nil
	next.StartedAt = nil
	next.CompletedAt = nil
	next.ErrorMessage = nil
	next.Cost = 0

	ok, err := m.store.UpdateJob(ctx, tx, &next, store.JobStatusFailed)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("reset job %s: %w", job.JobID, store.ErrConflict)
	}
	return &next, nil
}

// Requeue hands a running job that never reached its node back to pending.
// The open task is closed as failed and the node released, but nothing is
// settled: neither the user nor the node is charged for a hand-off the
// controller could not make.
func (m *Manager) Requeue(ctx context.Context, jobID, reason string) (*store.Job, error) {
	var result *store.Job
	err := store.RunInTx(ctx, m.store, func(tx store.DBTransaction) error {
		job, err := m.store.GetJob(ctx, tx, jobID)
		if err != nil {
			return err
		}
		if job.Status != store.JobStatusRunning {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, store.JobStatusPending)
		}

		next := *job
		next.Status = store.JobStatusPending
		next.AssignedNode = nil
		next.StartedAt = nil
		next.CompletedAt = nil
		next.ErrorMessage = nil

		ok, err := m.store.UpdateJob(ctx, tx, &next, store.JobStatusRunning)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("requeue job %s: %w", jobID, store.ErrConflict)
		}

		if err := m.closeTask(ctx, tx, jobID, store.JobStatusFailed, m.clock.Now(), 0); err != nil {
			return err
		}
		if job.AssignedNode != nil {
			if err := m.directory.Release(ctx, tx, *job.AssignedNode); err != nil {
				return fmt.Errorf("release node %s: %w", *job.AssignedNode, err)
			}
		}
		result = &next
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.logger.Warn("job requeued", "job_id", jobID, "reason", reason)
	return result, nil
}

// Retry puts a failed job back to pending and immediately tries to allocate it.
// It reports false, changing nothing, when the job is not failed.
func (m *Manager) Retry(ctx context.Context, jobID string) (bool, error) {
	job, err := m.store.GetJob(ctx, nil, jobID)
	if err != nil {
		return false, err
	}
	if job.Status != store.JobStatusFailed {
		return false, nil
	}

	if _, err := m.Transition(ctx, jobID, store.JobStatusPending, TransitionOptions{}); err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			return false, nil
		}
		return false, err
	}
	m.logger.Info("job queued for retry", "job_id", jobID)

	if m.allocator != nil {
		if _, err := m.allocator.Allocate(ctx, jobID); err != nil {
			// The job is pending again; the sweeper will pick it up.
			m.logger.Warn("allocation after retry failed", "job_id", jobID, "error", err)
		}
	}
	return true, nil
}

// SweepTimeouts fails running jobs that started more than maxDuration ago and
// returns their IDs. A failure on one job does not stop the sweep.
func (m *Manager) SweepTimeouts(ctx context.Context, maxDuration time.Duration) ([]string, error) {
	if maxDuration <= 0 {
		maxDuration = DefaultTimeout
	}
	cutoff := m.clock.Now().Add(-maxDuration)

	overdue, err := m.store.ListJobs(ctx, nil, store.JobFilter{
		Status:        store.JobStatusRunning,
		StartedBefore: &cutoff,
	})
	if err != nil {
		return nil, fmt.Errorf("list overdue jobs: %w", err)
	}

	var timedOut []string
	for _, job := range overdue {
		if _, err := m.Transition(ctx, job.JobID, store.JobStatusFailed, TransitionOptions{ErrorMessage: TimeoutMessage}); err != nil {
			m.logger.Warn("failed to time out job", "job_id", job.JobID, "error", err)
			continue
		}
		m.logger.Warn("job timed out", "job_id", job.JobID, "max_duration", maxDuration.String())
		timedOut = append(timedOut, job.JobID)
	}
	return timedOut, nil
}
