package observability

import (
	"context"
	"time"

	"passcore/pkg/domain"
)

// MetricsRecorder captures the outcome and latency of one operation.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// StatusChangeObserver is implemented by recorders that also count persisted
// status changes.
type StatusChangeObserver interface {
	ObserveStatusChange(ctx context.Context, from, to domain.Status)
}

// Tracer opens spans around operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, Span)
}

// NopMetrics discards observations.
type NopMetrics struct{}

// Observe implements MetricsRecorder.
func (NopMetrics) Observe(context.Context, string, bool, time.Duration) {}

// NopTracer opens spans that record nothing.
type NopTracer struct{}

// Start implements Tracer.
func (NopTracer) Start(ctx context.Context, _ string) (context.Context, Span) { return ctx, nopSpan{} }

type nopSpan struct{}

func (nopSpan) End(error) {}

var (
	_ MetricsRecorder      = (*PrometheusRecorder)(nil)
	_ MetricsRecorder      = (*ExpvarRecorder)(nil)
	_ StatusChangeObserver = (*PrometheusRecorder)(nil)
	_ StatusChangeObserver = (*ExpvarRecorder)(nil)
	_ Tracer               = (*JSONTracer)(nil)
	_ Tracer               = NopTracer{}
)

// Multi fans observations out to every recorder.
type Multi []MetricsRecorder

// Observe implements MetricsRecorder.
func (m Multi) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	for _, r := range m {
		r.Observe(ctx, operation, success, duration)
	}
}

// ObserveStatusChange forwards to recorders that count status changes.
func (m Multi) ObserveStatusChange(ctx context.Context, from, to domain.Status) {
	for _, r := range m {
		if obs, ok := r.(StatusChangeObserver); ok {
			obs.ObserveStatusChange(ctx, from, to)
		}
	}
}
