// Package engine wires the node directory, allocator, lifecycle manager and
// settlement into the single facade used by the API and the sweeper.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"meshplane/internal/clock"
	"meshplane/internal/dispatch"
	"meshplane/internal/jobs"
	"meshplane/internal/nodes"
	"meshplane/internal/scheduler"
	"meshplane/internal/settlement"
	"meshplane/internal/store"
)

// Config tunes the engine and the components it builds.
type Config struct {
	LivenessWindow time.Duration
	JobTimeout     time.Duration
	SweepInterval  time.Duration
	RatePerMinute  float64
	CandidateLimit int
	CheapOrder     scheduler.CheapOrder
}

// Engine is the entry point for every mesh operation.
type Engine struct {
	store      store.Store
	clock      clock.Clock
	directory  *nodes.Directory
	allocator  *meteredAllocator
	jobs       *jobs.Manager
	settler    *settlement.Settler
	dispatcher dispatch.Dispatcher
	config     Config
	logger     *slog.Logger
	telemetry  *telemetry
}

// New builds an engine over s. Without a dispatcher, allocated jobs wait for
// their result to be reported through Transition.
func New(s store.Store, c clock.Clock, cfg Config, logger *slog.Logger) (*Engine, error) {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = jobs.DefaultTimeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 30 * time.Second
	}

	tel, err := newTelemetry()
	if err != nil {
		return nil, fmt.Errorf("failed to create instruments: %w", err)
	}

	directory := nodes.NewDirectory(s, c, cfg.LivenessWindow, logger)
	settler := settlement.NewSettler(s, c, cfg.RatePerMinute, logger)
	manager := jobs.NewManager(s, directory, settler, c, logger)
	allocator := &meteredAllocator{
		Allocator: scheduler.NewAllocator(s, directory, manager, scheduler.Config{
			CandidateLimit: cfg.CandidateLimit,
			CheapOrder:     cfg.CheapOrder,
		}, logger),
		telemetry: tel,
	}
	manager.SetAllocator(allocator)

	return &Engine{
		store:     s,
		clock:     c,
		directory: directory,
		allocator: allocator,
		jobs:      manager,
		settler:   settler,
		config:    cfg,
		logger:    logger,
		telemetry: tel,
	}, nil
}

// SetDispatcher attaches the execution path. The dispatcher usually reports
// back to the engine, so it is created after it.
func (e *Engine) SetDispatcher(d dispatch.Dispatcher) {
	e.dispatcher = d
}

// Clock returns the engine's time source.
func (e *Engine) Clock() clock.Clock {
	return e.clock
}

// CreateJob stores a pending job and immediately tries to allocate and dispatch it.
// A job nobody can take yet, or whose allocation failed, is returned pending;
// the sweeper retries it.
func (e *Engine) CreateJob(ctx context.Context, p jobs.CreateParams) (*store.Job, error) {
	job, err := e.jobs.Create(ctx, p)
	if err != nil {
		return nil, err
	}
	if _, err := e.Allocate(ctx, job.JobID); err != nil {
		e.logger.Warn("allocation on submit failed, leaving job pending", "job_id", job.JobID, "error", err)
		return job, nil
	}
	return e.jobs.Get(ctx, job.JobID)
}

// GetJob returns a job or store.ErrNotFound.
func (e *Engine) GetJob(ctx context.Context, jobID string) (*store.Job, error) {
	return e.jobs.Get(ctx, jobID)
}

// Allocate assigns a pending job to a node and hands it to the dispatcher.
// It returns the node ID, or "" when the job was not allocated.
func (e *Engine) Allocate(ctx context.Context, jobID string) (string, error) {
	nodeID, err := e.allocator.Allocate(ctx, jobID)
	if err != nil || nodeID == "" {
		return nodeID, err
	}
	e.dispatch(ctx, jobID)
	return nodeID, nil
}

// RetryJob requeues a failed job. It reports false when the job was not failed.
func (e *Engine) RetryJob(ctx context.Context, jobID string) (bool, error) {
	ok, err := e.jobs.Retry(ctx, jobID)
	if err != nil || !ok {
		return ok, err
	}

	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return true, err
	}
	if job.Status == store.JobStatusRunning {
		e.dispatch(ctx, jobID)
	}
	return true, nil
}

// dispatch hands a freshly allocated job to the dispatcher. When the
// controller itself could not hand the job over, the job goes back to pending
// and its node is freed untouched; any other error fails the job.
func (e *Engine) dispatch(ctx context.Context, jobID string) {
	if e.dispatcher == nil {
		return
	}

	order, err := e.workOrder(ctx, jobID)
	if err == nil {
		err = e.dispatcher.Dispatch(ctx, order)
	}
	if err == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)
	if handOffError(err) {
		e.logger.Warn("could not hand job to dispatcher", "job_id", jobID, "error", err)
		if _, rerr := e.jobs.Requeue(ctx, jobID, err.Error()); rerr != nil {
			e.logger.Warn("failed to requeue undispatched job", "job_id", jobID, "error", rerr)
		}
		return
	}

	e.logger.Error("failed to dispatch job", "job_id", jobID, "error", err)
	msg := fmt.Sprintf("dispatch failed: %v", err)
	if _, terr := e.Transition(ctx, jobID, store.JobStatusFailed, jobs.TransitionOptions{ErrorMessage: msg}); terr != nil {
		e.logger.Warn("failed to fail undispatched job", "job_id", jobID, "error", terr)
	}
}

// handOffError reports whether err comes from the controller side of a
// dispatch: a stopped dispatcher or a caller that gave up waiting for room.
func handOffError(err error) bool {
	return errors.Is(err, dispatch.ErrStopped) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func (e *Engine) workOrder(ctx context.Context, jobID string) (dispatch.WorkOrder, error) {
	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return dispatch.WorkOrder{}, err
	}
	task, err := e.store.GetRunningTask(ctx, nil, jobID)
	if err != nil {
		return dispatch.WorkOrder{}, fmt.Errorf("running task for %s: %w", jobID, err)
	}
	return dispatch.NewWorkOrder(job, task), nil
}

// Transition advances a job. Terminal transitions release the node and settle.
func (e *Engine) Transition(ctx context.Context, jobID string, to store.JobStatus, opts jobs.TransitionOptions) (*store.Job, error) {
	job, err := e.jobs.Transition(ctx, jobID, to, opts)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		e.telemetry.recordTerminal(ctx, job)
	}
	return job, nil
}

// Report implements dispatch.Reporter.
func (e *Engine) Report(ctx context.Context, r dispatch.Result) error {
	d := r.Duration
	_, err := e.Transition(ctx, r.JobID, r.Status, jobs.TransitionOptions{
		ErrorMessage: r.ErrorMessage,
		Duration:     &d,
	})
	if errors.Is(err, jobs.ErrInvalidTransition) {
		return fmt.Errorf("result for job %s arrived too late: %w", r.JobID, err)
	}
	return err
}

// RegisterNode creates or refreshes a node.
func (e *Engine) RegisterNode(ctx context.Context, p nodes.RegisterParams) (*store.Node, error) {
	return e.directory.Register(ctx, p)
}

// Heartbeat records liveness. It reports false for unknown nodes.
func (e *Engine) Heartbeat(ctx context.Context, nodeID string) (bool, error) {
	return e.directory.Heartbeat(ctx, nodeID)
}

// GetNode returns a node or store.ErrNotFound.
func (e *Engine) GetNode(ctx context.Context, nodeID string) (*store.Node, error) {
	return e.directory.Get(ctx, nodeID)
}

// ListNodes returns every node.
func (e *Engine) ListNodes(ctx context.Context) ([]store.Node, error) {
	return e.directory.List(ctx)
}

// ListLiveNodes returns active nodes that heartbeated within the liveness window.
func (e *Engine) ListLiveNodes(ctx context.Context) ([]store.Node, error) {
	return e.directory.ListLive(ctx)
}

// ReputationHistory returns a node's reputation changes, newest first.
func (e *Engine) ReputationHistory(ctx context.Context, nodeID string, limit int) ([]store.ReputationEntry, error) {
	if _, err := e.directory.Get(ctx, nodeID); err != nil {
		return nil, err
	}
	return e.settler.ReputationHistory(ctx, nodeID, limit)
}

// GetJobCost returns the completed payments made for a job.
func (e *Engine) GetJobCost(ctx context.Context, jobID string) (float64, error) {
	return e.settler.GetJobCost(ctx, jobID)
}

// Ping checks the store.
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

// meteredAllocator counts allocation outcomes. Retries go through it as well.
type meteredAllocator struct {
	*scheduler.Allocator
	telemetry *telemetry
}

func (a *meteredAllocator) Allocate(ctx context.Context, jobID string) (string, error) {
	nodeID, err := a.Allocator.Allocate(ctx, jobID)
	if err == nil {
		a.telemetry.recordAllocation(ctx, nodeID)
	}
	return nodeID, err
}
