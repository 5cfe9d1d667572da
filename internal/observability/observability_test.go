package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRecorder()
	require.NoError(t, rec.Register(reg))
	require.NoError(t, rec.Register(reg), "second register is a no-op")

	rec.Observe(ctx, "update", true, 20*time.Millisecond)
	rec.Observe(ctx, "update", false, 5*time.Millisecond)
	rec.Observe(ctx, "update", true, time.Millisecond)
	rec.Observe(ctx, "", true, time.Millisecond)
	rec.ObserveStatusChange(ctx, "submitted", "complete")

	assert.Equal(t, 2.0, testutil.ToFloat64(rec.operations.WithLabelValues("update", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.operations.WithLabelValues("update", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.statusChanges.WithLabelValues("submitted", "complete")))

	expected := `
# HELP passcore_status_changes_total Count of persisted submission status changes by source and target status.
# TYPE passcore_status_changes_total counter
passcore_status_changes_total{from="submitted",to="complete"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "passcore_status_changes_total"))
	count, err := testutil.GatherAndCount(reg, "passcore_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestExpvarRecorder(t *testing.T) {
	ctx := context.Background()
	rec := NewExpvarRecorder("")
	rec.Observe(ctx, "calculate", true, 2*time.Millisecond)
	rec.Observe(ctx, "calculate", false, 3*time.Millisecond)
	rec.ObserveStatusChange(ctx, "", "manuscript-required")

	snap := rec.Snapshot()
	assert.InDelta(t, 5.0, snap.DurationsMS["calculate"], 0.0001)
	assert.Equal(t, int64(1), snap.Results["calculate"]["success"])
	assert.Equal(t, int64(1), snap.Results["calculate"]["error"])
	assert.Equal(t, int64(1), snap.StatusChanges["<none>->manuscript-required"])

	published := expvar.Get(rec.Name())
	require.NotNil(t, published)
	var decoded ExpvarSnapshot
	require.NoError(t, json.Unmarshal([]byte(published.String()), &decoded))
	assert.Equal(t, int64(1), decoded.Results["calculate"]["success"])
}

func TestJSONTracer(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, span := tracer.Start(context.Background(), "update")
	span.End(nil)
	_, span = tracer.Start(context.Background(), "calculate")
	span.End(errors.New("boom"))
	span.End(nil)

	entries := tracer.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "success", entries[0].Status)
	assert.Equal(t, "error", entries[1].Status)
	assert.Equal(t, "boom", entries[1].Error)
	assert.Equal(t, 2, strings.Count(buf.String(), "\n"))
}

func TestMultiFansOut(t *testing.T) {
	ctx := context.Background()
	prom := NewPrometheusRecorder()
	exp := NewExpvarRecorder("")
	multi := Multi{prom, exp, NopMetrics{}}
	multi.Observe(ctx, "update", true, time.Millisecond)
	multi.ObserveStatusChange(ctx, "submitted", "needs-attention")

	assert.Equal(t, 1.0, testutil.ToFloat64(prom.operations.WithLabelValues("update", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(prom.statusChanges.WithLabelValues("submitted", "needs-attention")))
	assert.Equal(t, int64(1), exp.Snapshot().StatusChanges["submitted->needs-attention"])
}
