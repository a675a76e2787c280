// Package observability provides OpenTelemetry instrumentation for tracing and metrics.
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a Prometheus exporter.
// It returns the HTTP handler for the /metrics endpoint and a shutdown function.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := metric.NewMeterProvider(
		metric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// MeshGauges are read from the store on every scrape.
type MeshGauges interface {
	LiveNodeCount(ctx context.Context) (int64, error)
	PendingJobCount(ctx context.Context) (int64, error)
}

// RegisterMeshGauges registers the meshplane.nodes.live and meshplane.jobs.pending
// observable gauges on the global meter provider.
func RegisterMeshGauges(src MeshGauges, logger *slog.Logger) error {
	meter := otel.Meter("meshplane/controller")

	_, err := meter.Int64ObservableGauge("meshplane.nodes.live",
		otelmetric.WithDescription("Active nodes that heartbeated within the liveness window"),
		otelmetric.WithInt64Callback(func(ctx context.Context, obs otelmetric.Int64Observer) error {
			n, err := src.LiveNodeCount(ctx)
			if err != nil {
				logger.Warn("failed to count live nodes", "error", err)
				return nil // Don't fail the scrape on a DB error
			}
			obs.Observe(n)
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to register live nodes gauge: %w", err)
	}

	_, err = meter.Int64ObservableGauge("meshplane.jobs.pending",
		otelmetric.WithDescription("Jobs waiting for a node"),
		otelmetric.WithInt64Callback(func(ctx context.Context, obs otelmetric.Int64Observer) error {
			n, err := src.PendingJobCount(ctx)
			if err != nil {
				logger.Warn("failed to count pending jobs", "error", err)
				return nil
			}
			obs.Observe(n)
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to register pending jobs gauge: %w", err)
	}
	return nil
}
