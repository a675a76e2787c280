// Package runtime provides the Runtime interface for work order execution backends.
package runtime

import (
	"context"
	"io"
	"time"
)

// Runtime defines the interface for executing work orders.
// Implementations include a simulator, Docker and Kubernetes.
type Runtime interface {
	// Start begins execution and returns a handle.
	Start(ctx context.Context, opts StartOptions) (Handle, error)
}

// StartOptions contains the parameters for starting a task.
type StartOptions struct {
	Name    string // Unique per task, used for container and job names
	Image   string
	Command []string
	Env     map[string]string
	// Duration is the expected run time. Only the simulator honours it.
	Duration time.Duration
}

// ExitResult describes how an execution ended.
type ExitResult struct {
	ExitCode int
	Error    error
	// Elapsed overrides the wall-clock duration measured by the caller when set.
	Elapsed time.Duration
}

// Handle represents a running execution.
type Handle interface {
	// Wait blocks until the execution completes.
	Wait(ctx context.Context) (ExitResult, error)

	// Stop forcefully terminates the execution.
	Stop(ctx context.Context) error

	// StreamLogs returns a reader for the execution's stdout/stderr.
	StreamLogs(ctx context.Context) (io.ReadCloser, error)
}
