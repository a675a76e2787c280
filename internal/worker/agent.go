// Package worker contains the node agent that keeps a compute node
// registered with the controller.
package worker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"meshplane/pkg/api"
	"meshplane/pkg/client"
)

// NodeAPI is the part of the controller API the agent calls.
type NodeAPI interface {
	RegisterNode(ctx context.Context, req api.RegisterNodeRequest) (*api.NodeResponse, error)
	Heartbeat(ctx context.Context, nodeID string) (*api.HeartbeatResponse, error)
}

// AgentConfig holds configuration for the node agent.
type AgentConfig struct {
	NodeID       string
	Host         string
	Port         int
	GPUMemoryGB  int
	ComputeScore float64
	Metadata     map[string]any

	HeartbeatInterval time.Duration // Interval between heartbeats (default: 1m)
	RetryInterval     time.Duration // First retry delay after a failed call (default: 1s)
	MaxBackoff        time.Duration // Retry delay cap (default: 30s)
}

// Agent registers the node and then heartbeats until stopped.
// A heartbeat for a node the controller no longer knows triggers a re-registration.
type Agent struct {
	api     NodeAPI
	config  AgentConfig
	logger  *slog.Logger
	tracer  trace.Tracer
	calls   metric.Int64Counter
	done    chan struct{}
	healthy atomic.Bool
}

// New creates a new node agent.
func New(c NodeAPI, config AgentConfig, logger *slog.Logger) *Agent {
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = time.Minute
	}

	if config.RetryInterval <= 0 {
		config.RetryInterval = time.Second
	}

	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 30 * time.Second
	}

	// Never wait longer between retries than between heartbeats
	if config.MaxBackoff > config.HeartbeatInterval {
		config.MaxBackoff = config.HeartbeatInterval
	}
	if config.RetryInterval > config.MaxBackoff {
		config.RetryInterval = config.MaxBackoff
	}

	calls, err := otel.Meter("meshplane/worker").Int64Counter("meshplane.agent.calls",
		metric.WithDescription("Controller calls made by the node agent"),
	)
	if err != nil {
		logger.Warn("failed to create agent counter", "error", err)
	}

	return &Agent{
		api:    c,
		config: config,
		logger: logger.With("node_id", config.NodeID),
		tracer: otel.Tracer("meshplane/worker"),
		calls:  calls,
		done:   make(chan struct{}),
	}
}

// Run registers the node and heartbeats until ctx is cancelled.
// Failed calls are retried with exponential backoff.
func (a *Agent) Run(ctx context.Context) error {
	defer close(a.done)

	a.logger.Info("agent starting", "heartbeat_interval", a.config.HeartbeatInterval.String())

	registered := false
	wait := time.Duration(0)
	backoff := a.config.RetryInterval

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("agent stopping")
			return ctx.Err()
		case <-time.After(wait):
		}

		var err error
		if !registered {
			err = a.register(ctx)
			registered = err == nil
		} else {
			err = a.heartbeat(ctx)
			if client.IsNotFound(err) {
				// The controller lost the node; register again right away.
				a.logger.Warn("controller does not know this node, re-registering")
				registered = false
				wait = 0
				continue
			}
		}

		if err != nil {
			a.healthy.Store(false)
			if ctx.Err() != nil {
				continue
			}
			a.logger.Warn("controller call failed", "registered", registered, "retry_in", backoff.String(), "error", err)
			wait = backoff
			backoff = min(backoff*2, a.config.MaxBackoff)
			continue
		}

		a.healthy.Store(true)
		wait = a.config.HeartbeatInterval
		backoff = a.config.RetryInterval
	}
}

// Done returns a channel that is closed when the agent has fully stopped.
func (a *Agent) Done() <-chan struct{} {
	return a.done
}

// Healthy reports whether the last controller call succeeded.
func (a *Agent) Healthy() bool {
	return a.healthy.Load()
}

func (a *Agent) register(ctx context.Context) error {
	ctx, span := a.tracer.Start(ctx, "register_node", trace.WithAttributes(
		attribute.String("node.id", a.config.NodeID),
	), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	node, err := a.api.RegisterNode(ctx, api.RegisterNodeRequest{
		NodeID:       a.config.NodeID,
		Host:         a.config.Host,
		Port:         a.config.Port,
		GPUMemory:    a.config.GPUMemoryGB,
		ComputeScore: a.config.ComputeScore,
		Metadata:     a.config.Metadata,
	})
	a.record(ctx, "register", err)
	if err != nil {
		span.RecordError(err)
		return err
	}

	a.logger.Info("node registered", "status", node.Status, "reputation", node.Reputation)
	return nil
}

func (a *Agent) heartbeat(ctx context.Context) error {
	ctx, span := a.tracer.Start(ctx, "heartbeat", trace.WithAttributes(
		attribute.String("node.id", a.config.NodeID),
	), trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	_, err := a.api.Heartbeat(ctx, a.config.NodeID)
	a.record(ctx, "heartbeat", err)
	if err != nil {
		span.RecordError(err)
		return err
	}
	a.logger.Debug("heartbeat sent")
	return nil
}

func (a *Agent) record(ctx context.Context, call string, err error) {
	if a.calls == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	a.calls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("call", call),
		attribute.String("result", result),
	))
}
