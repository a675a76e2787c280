package runtime

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// SimulatedRuntime stands in for real hardware: every task sleeps for its
// expected duration divided by Scale and then succeeds.
type SimulatedRuntime struct {
	// Scale compresses time, e.g. 60 runs a one-minute task in one second.
	Scale float64
	// FailEnv names an environment variable that, when set to an integer exit
	// code, makes the task fail with it. Empty disables the hook.
	FailEnv string
}

// NewSimulatedRuntime creates a simulator. A non-positive scale means real time.
func NewSimulatedRuntime(scale float64) *SimulatedRuntime {
	if scale <= 0 {
		scale = 1
	}
	return &SimulatedRuntime{Scale: scale}
}

// SimulatedHandle is a task running inside the simulator.
type SimulatedHandle struct {
	name     string
	nominal  time.Duration
	wait     time.Duration
	exitCode int
	stopped  chan struct{}
	stopOnce sync.Once
}

func (s *SimulatedRuntime) Start(ctx context.Context, opts StartOptions) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scale := s.Scale
	if scale <= 0 {
		scale = 1
	}

	exitCode := 0
	if s.FailEnv != "" {
		if v, ok := opts.Env[s.FailEnv]; ok {
			if _, err := fmt.Sscanf(v, "%d", &exitCode); err != nil {
				return nil, fmt.Errorf("invalid %s value %q", s.FailEnv, v)
			}
		}
	}

	return &SimulatedHandle{
		name:     opts.Name,
		nominal:  opts.Duration,
		wait:     time.Duration(float64(opts.Duration) / scale),
		exitCode: exitCode,
		stopped:  make(chan struct{}),
	}, nil
}

func (h *SimulatedHandle) Wait(ctx context.Context) (ExitResult, error) {
	timer := time.NewTimer(h.wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return ExitResult{ExitCode: h.exitCode, Elapsed: h.nominal}, nil
	case <-h.stopped:
		err := fmt.Errorf("task %s stopped", h.name)
		return ExitResult{ExitCode: -1, Error: err}, err
	case <-ctx.Done():
		return ExitResult{ExitCode: -1, Error: ctx.Err()}, ctx.Err()
	}
}

func (h *SimulatedHandle) Stop(ctx context.Context) error {
	h.stopOnce.Do(func() { close(h.stopped) })
	return nil
}

func (h *SimulatedHandle) StreamLogs(ctx context.Context) (io.ReadCloser, error) {
	line := fmt.Sprintf("simulated task %s running for %s\n", h.name, h.nominal)
	return io.NopCloser(strings.NewReader(line)), nil
}
