package scheduler

import (
	"context"

	"github.com/Azure/sap-automation-qa/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type scheduleMetrics struct {
	fires metric.Int64Counter
}

func newScheduleMetrics() (*scheduleMetrics, error) {
	fires, err := otel.Meter("sap-qa-scheduler").Int64Counter("sap_qa_schedule_fires_total",
		metric.WithDescription("Per-workspace outcomes of schedule fires"),
	)
	if err != nil {
		return nil, err
	}
	return &scheduleMetrics{fires: fires}, nil
}

// recordFire counts one workspace outcome: created, skipped or error.
func (sm *scheduleMetrics) recordFire(ctx context.Context, sc *store.Schedule, outcome string) {
	if sm == nil {
		return
	}
	sm.fires.Add(ctx, 1, metric.WithAttributes(
		attribute.String("schedule_id", sc.ID),
		attribute.String("outcome", outcome),
	))
}
