package observability

import (
	"context"
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"passcore/pkg/domain"
)

var expvarSeq uint64

// ExpvarRecorder publishes aggregate timing, result counters and status
// change counts through expvar.
type ExpvarRecorder struct {
	name      string
	mu        sync.Mutex
	durations map[string]float64
	results   map[string]map[string]int64
	changes   map[string]int64
}

// ExpvarSnapshot is a read-only view of the recorded metrics.
type ExpvarSnapshot struct {
	DurationsMS   map[string]float64          `json:"durations_ms_total"`
	Results       map[string]map[string]int64 `json:"results_total"`
	StatusChanges map[string]int64            `json:"status_changes_total"`
	RecordedAt    time.Time                   `json:"recorded_at"`
}

// NewExpvarRecorder publishes a recorder under name, generating a unique name
// when empty.
func NewExpvarRecorder(name string) *ExpvarRecorder {
	if name == "" {
		name = fmt.Sprintf("passcore_status_metrics_%d", atomic.AddUint64(&expvarSeq, 1))
	}
	rec := &ExpvarRecorder{
		name:      name,
		durations: make(map[string]float64),
		results:   make(map[string]map[string]int64),
		changes:   make(map[string]int64),
	}
	expvar.Publish(name, expvar.Func(func() any { return rec.Snapshot() }))
	return rec
}

// Name returns the expvar export name.
func (r *ExpvarRecorder) Name() string { return r.name }

// Snapshot copies the aggregated metrics.
func (r *ExpvarRecorder) Snapshot() ExpvarSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap := ExpvarSnapshot{
		DurationsMS:   make(map[string]float64, len(r.durations)),
		Results:       make(map[string]map[string]int64, len(r.results)),
		StatusChanges: make(map[string]int64, len(r.changes)),
		RecordedAt:    time.Now().UTC(),
	}
	for op, total := range r.durations {
		snap.DurationsMS[op] = total
	}
	for op, counts := range r.results {
		cpy := make(map[string]int64, len(counts))
		for result, n := range counts {
			cpy[result] = n
		}
		snap.Results[op] = cpy
	}
	for k, n := range r.changes {
		snap.StatusChanges[k] = n
	}
	return snap
}

// Observe records one operation outcome.
func (r *ExpvarRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	result := "error"
	if success {
		result = "success"
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.durations[operation] += float64(duration) / float64(time.Millisecond)
	if r.results[operation] == nil {
		r.results[operation] = make(map[string]int64, 2)
	}
	r.results[operation][result]++
}

// ObserveStatusChange counts a persisted status change keyed "from->to".
func (r *ExpvarRecorder) ObserveStatusChange(_ context.Context, from, to domain.Status) {
	r.mu.Lock()
	r.changes[from.String()+"->"+to.String()]++
	r.mu.Unlock()
}
