package dispatch

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"meshplane/internal/dispatch/runtime"
	"meshplane/internal/store"
)

const (
	DefaultImage   = "python:3.11-slim"
	DefaultTimeout = time.Hour
	// TimeoutMessage matches the message the sweeper uses for overdue jobs.
	TimeoutMessage = "timeout"
)

// ExecutorConfig holds execution settings shared by every dispatcher.
type ExecutorConfig struct {
	Image string
	// Command overrides the default script. Nil runs a placeholder workload
	// that sleeps for the work order's duration hint.
	Command []string
	Timeout time.Duration
}

// Executor runs a single work order on a runtime and reports the result.
type Executor struct {
	runtime  runtime.Runtime
	reporter Reporter
	config   ExecutorConfig
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewExecutor creates an Executor.
func NewExecutor(rt runtime.Runtime, reporter Reporter, cfg ExecutorConfig, logger *slog.Logger) *Executor {
	if cfg.Image == "" {
		cfg.Image = DefaultImage
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Executor{
		runtime:  rt,
		reporter: reporter,
		config:   cfg,
		logger:   logger,
		tracer:   otel.Tracer("meshplane/dispatch"),
	}
}

func (e *Executor) startOptions(order WorkOrder) runtime.StartOptions {
	cmd := e.config.Command
	if cmd == nil {
		cmd = []string{
			"python", "-c",
			fmt.Sprintf("import time; print('running %s on %s'); time.sleep(%d)",
				order.JobType, order.Model, int(order.DurationHint.Seconds())),
		}
	}
	return runtime.StartOptions{
		Name:    "meshplane_" + order.TaskID,
		Image:   e.config.Image,
		Command: cmd,
		Env: map[string]string{
			"TASK_ID":          order.TaskID,
			"JOB_ID":           order.JobID,
			"JOB_TYPE":         order.JobType,
			"MODEL":            order.Model,
			"DATASET":          order.Dataset,
			"PYTHONUNBUFFERED": "1",
		},
		Duration: order.DurationHint,
	}
}

// Execute runs the order to completion and reports its outcome. Reporting
// uses a fresh context so a cancelled caller still records the result.
func (e *Executor) Execute(ctx context.Context, order WorkOrder) Result {
	ctx, span := e.tracer.Start(ctx, "execute", trace.WithAttributes(
		attribute.String("job.id", order.JobID),
		attribute.String("task.id", order.TaskID),
		attribute.String("node.id", order.NodeID),
	), trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	result := e.run(ctx, order)
	if result.Status == store.JobStatusFailed {
		span.SetStatus(codes.Error, result.ErrorMessage)
	}

	reportCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.reporter.Report(reportCtx, result); err != nil {
		// Usually the sweeper already timed the job out.
		e.logger.Warn("failed to report execution result", "job_id", order.JobID, "task_id", order.TaskID, "error", err)
	}
	return result
}

func (e *Executor) run(ctx context.Context, order WorkOrder) Result {
	result := Result{JobID: order.JobID, TaskID: order.TaskID, Status: store.JobStatusFailed}
	started := time.Now()

	execCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	handle, err := e.runtime.Start(execCtx, e.startOptions(order))
	if err != nil {
		e.logger.Error("failed to start runtime", "job_id", order.JobID, "task_id", order.TaskID, "error", err)
		result.ErrorMessage = fmt.Sprintf("failed to start runtime: %v", err)
		return result
	}
	e.logger.Info("task started", "job_id", order.JobID, "task_id", order.TaskID, "node_id", order.NodeID)

	logsDone := make(chan struct{})
	go func() {
		defer close(logsDone)
		e.drainLogs(execCtx, order, handle)
	}()

	exit, err := handle.Wait(execCtx)
	<-logsDone

	result.Duration = time.Since(started)
	if exit.Elapsed > 0 {
		result.Duration = exit.Elapsed
	}

	if err != nil {
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			e.logger.Warn("task timed out", "job_id", order.JobID, "task_id", order.TaskID, "timeout", e.config.Timeout.String())
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			if err := handle.Stop(stopCtx); err != nil {
				e.logger.Warn("failed to stop task", "task_id", order.TaskID, "error", err)
			}
			result.ErrorMessage = TimeoutMessage
			return result
		}
		result.ErrorMessage = fmt.Sprintf("runtime wait error: %v", err)
		return result
	}

	if exit.ExitCode != 0 {
		result.ErrorMessage = fmt.Sprintf("exit code %d", exit.ExitCode)
		if exit.Error != nil {
			result.ErrorMessage = exit.Error.Error()
		}
		e.logger.Info("task failed", "job_id", order.JobID, "task_id", order.TaskID, "exit_code", exit.ExitCode)
		return result
	}

	result.Status = store.JobStatusCompleted
	e.logger.Info("task completed", "job_id", order.JobID, "task_id", order.TaskID, "duration", result.Duration.String())
	return result
}

func (e *Executor) drainLogs(ctx context.Context, order WorkOrder, handle runtime.Handle) {
	rc, err := handle.StreamLogs(ctx)
	if err != nil {
		e.logger.Debug("no log stream", "task_id", order.TaskID, "error", err)
		return
	}
	defer rc.Close()

	scanner := bufio.NewScanner(rc)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}
		e.logger.Debug("task output", "task_id", order.TaskID, "line", line)
	}
}
