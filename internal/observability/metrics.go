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
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics initializes the OpenTelemetry metrics provider with a Prometheus exporter.
// It returns the HTTP handler for the /metrics endpoint and a shutdown function.
// The shutdown function should be called on application exit for graceful cleanup.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// RegisterJobGauges registers gauges read on every scrape: jobs the store
// holds as pending or running, and jobs with a live runner in this process.
func RegisterJobGauges(countActive func(context.Context) (int64, error), running func() int, logger *slog.Logger) error {
	meter := otel.Meter("sap-qa-scheduler")

	_, err := meter.Int64ObservableGauge("sap_qa_jobs_active",
		metric.WithDescription("Jobs currently pending or running"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			count, err := countActive(ctx)
			if err != nil {
				logger.Warn("failed to count active jobs", "error", err)
				return nil // Don't fail the scrape on a store error
			}
			obs.Observe(count)
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to register active jobs gauge: %w", err)
	}

	_, err = meter.Int64ObservableGauge("sap_qa_runners_live",
		metric.WithDescription("Runner processes supervised by this instance"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			obs.Observe(int64(running()))
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to register live runners gauge: %w", err)
	}
	return nil
}
