// Package observability provides metrics recorders and tracers for the status
// service: Prometheus collectors for long-running processes, an expvar
// recorder for process-local inspection, and a JSON-lines tracer.
package observability

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"passcore/pkg/domain"
)

const subsystem = "passcore"

// PrometheusRecorder records status service operations as Prometheus series.
type PrometheusRecorder struct {
	operations    *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	statusChanges *prometheus.CounterVec
	register      sync.Once
	registerErr   error
}

// NewPrometheusRecorder builds the collectors without registering them.
func NewPrometheusRecorder() *PrometheusRecorder {
	return &PrometheusRecorder{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      "operations_total",
				Help:      "Count of status service operations by operation and result.",
			},
			[]string{"operation", "result"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Subsystem: subsystem,
				Name:      "operation_duration_seconds",
				Help:      "Status service operation latency in seconds.",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"operation"},
		),
		statusChanges: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      "status_changes_total",
				Help:      "Count of persisted submission status changes by source and target status.",
			},
			[]string{"from", "to"},
		),
	}
}

// Register adds the collectors to reg once. Later calls return the first result.
func (r *PrometheusRecorder) Register(reg prometheus.Registerer) error {
	r.register.Do(func() {
		for _, c := range []prometheus.Collector{r.operations, r.latency, r.statusChanges} {
			if err := reg.Register(c); err != nil {
				r.registerErr = err
				return
			}
		}
	})
	return r.registerErr
}

// Observe records one operation outcome.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	result := "error"
	if success {
		result = "success"
	}
	r.operations.WithLabelValues(operation, result).Inc()
	r.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveStatusChange counts a persisted status change.
func (r *PrometheusRecorder) ObserveStatusChange(_ context.Context, from, to domain.Status) {
	r.statusChanges.WithLabelValues(string(from), string(to)).Inc()
}
