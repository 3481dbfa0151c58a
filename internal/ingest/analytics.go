package ingest

import (
	"context"

	"hookrelay/pkg/metrics"
)

// Recorder receives best-effort pipeline stage notifications. Calls must
// never block or fail the pipeline; implementations swallow their own
// errors.
type Recorder interface {
	RecordEventReceived(ctx context.Context, source string)
	RecordEventProcessed(ctx context.Context, source string)
	RecordEventFiltered(ctx context.Context, source string)
	RecordEventFailed(ctx context.Context, source string)
}

// PrometheusRecorder maps pipeline stages onto the shared metric set.
type PrometheusRecorder struct{}

func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{}
}

func (PrometheusRecorder) RecordEventReceived(ctx context.Context, source string) {
	metrics.EventsReceivedTotal.WithLabelValues(source).Inc()
}

func (PrometheusRecorder) RecordEventProcessed(ctx context.Context, source string) {
	metrics.IngestOutcomesTotal.WithLabelValues(source, "queued").Inc()
}

func (PrometheusRecorder) RecordEventFiltered(ctx context.Context, source string) {
	metrics.IngestOutcomesTotal.WithLabelValues(source, "filtered").Inc()
}

func (PrometheusRecorder) RecordEventFailed(ctx context.Context, source string) {
	metrics.IngestOutcomesTotal.WithLabelValues(source, "failed").Inc()
}

// NopRecorder is used by tests and deployments without analytics.
type NopRecorder struct{}

func (NopRecorder) RecordEventReceived(ctx context.Context, source string)  {}
func (NopRecorder) RecordEventProcessed(ctx context.Context, source string) {}
func (NopRecorder) RecordEventFiltered(ctx context.Context, source string)  {}
func (NopRecorder) RecordEventFailed(ctx context.Context, source string)    {}
