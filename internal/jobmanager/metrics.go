package jobmanager

import (
	"context"
	"errors"

	"github.com/Azure/sap-automation-qa/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type jobMetrics struct {
	created  metric.Int64Counter
	finished metric.Int64Counter
	duration metric.Float64Histogram
}

func newJobMetrics() (*jobMetrics, error) {
	meter := otel.Meter("sap-qa-jobmanager")

	created, err1 := meter.Int64Counter("sap_qa_jobs_created_total",
		metric.WithDescription("Jobs accepted, by test group"),
	)
	finished, err2 := meter.Int64Counter("sap_qa_jobs_finished_total",
		metric.WithDescription("Jobs that reached a final state, by status"),
	)
	duration, err3 := meter.Float64Histogram("sap_qa_job_duration_seconds",
		metric.WithDescription("Wall time from start to end of a job run"),
		metric.WithUnit("s"),
	)
	if err := errors.Join(err1, err2, err3); err != nil {
		return nil, err
	}
	return &jobMetrics{created: created, finished: finished, duration: duration}, nil
}

func (jm *jobMetrics) recordCreated(ctx context.Context, job *store.Job) {
	if jm == nil {
		return
	}
	jm.created.Add(ctx, 1, metric.WithAttributes(
		attribute.String("test_group", string(job.TestGroup)),
	))
}

func (jm *jobMetrics) recordFinished(ctx context.Context, job *store.Job) {
	if jm == nil || job == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("test_group", string(job.TestGroup)),
		attribute.String("status", string(job.Status)),
	)
	jm.finished.Add(ctx, 1, attrs)
	if job.StartedAt != nil && job.EndedAt != nil {
		jm.duration.Record(ctx, job.EndedAt.Sub(*job.StartedAt).Seconds(), attrs)
	}
}
