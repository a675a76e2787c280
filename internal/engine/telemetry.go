package engine

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"meshplane/internal/store"
)

type telemetry struct {
	allocations metric.Int64Counter
	noCapacity  metric.Int64Counter
	terminal    metric.Int64Counter
	settled     metric.Float64Counter
}

func newTelemetry() (*telemetry, error) {
	meter := otel.Meter("meshplane/engine")

	allocations, err := meter.Int64Counter("meshplane.allocations",
		metric.WithDescription("Jobs assigned to a node"))
	if err != nil {
		return nil, err
	}
	noCapacity, err := meter.Int64Counter("meshplane.allocation.no_capacity",
		metric.WithDescription("Allocation attempts that found no node"))
	if err != nil {
		return nil, err
	}
	terminal, err := meter.Int64Counter("meshplane.jobs.terminal",
		metric.WithDescription("Jobs that reached a terminal status"))
	if err != nil {
		return nil, err
	}
	settled, err := meter.Float64Counter("meshplane.settlement.amount",
		metric.WithDescription("Cost credited to nodes"),
		metric.WithUnit("USD"))
	if err != nil {
		return nil, err
	}

	return &telemetry{
		allocations: allocations,
		noCapacity:  noCapacity,
		terminal:    terminal,
		settled:     settled,
	}, nil
}

func (t *telemetry) recordAllocation(ctx context.Context, nodeID string) {
	if nodeID == "" {
		t.noCapacity.Add(ctx, 1)
		return
	}
	t.allocations.Add(ctx, 1)
}

func (t *telemetry) recordTerminal(ctx context.Context, job *store.Job) {
	t.terminal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(job.Status))))
	if job.Status == store.JobStatusCompleted && job.Cost > 0 {
		t.settled.Add(ctx, job.Cost)
	}
}

func (t *telemetry) recordTimeouts(ctx context.Context, n int) {
	if n > 0 {
		t.terminal.Add(ctx, int64(n), metric.WithAttributes(attribute.String("status", string(store.JobStatusFailed))))
	}
}
