package observability

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics(t *testing.T) {
	t.Parallel()

	m := NewMetrics()

	assert.NotNil(t, m.registry)
	assert.NotNil(t, m.decisions)
	assert.NotNil(t, m.bypass)
	assert.NotNil(t, m.storeOps)
	assert.NotNil(t, m.storeDuration)
	assert.NotNil(t, m.storeAvailable)
}

func TestMetrics_RecordDecision(t *testing.T) {
	t.Parallel()

	m := NewMetrics()

	m.RecordDecision("/api/auth/login", "allowed")
	m.RecordDecision("/api/auth/login", "allowed")
	m.RecordDecision("/api/auth/login", "rejected")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.decisions.WithLabelValues("/api/auth/login", "allowed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.decisions.WithLabelValues("/api/auth/login", "rejected")))
}

func TestMetrics_RecordBypass(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.RecordBypass("open")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.bypass.WithLabelValues("open")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.bypass.WithLabelValues("closed")))
}

func TestMetrics_SetStoreAvailable(t *testing.T) {
	t.Parallel()

	m := NewMetrics()

	m.SetStoreAvailable(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeAvailable))

	m.SetStoreAvailable(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.storeAvailable))
}

func TestMetrics_ObserveStoreOperation(t *testing.T) {
	t.Parallel()

	m := NewMetrics()

	m.ObserveStoreOperation("incr", "success", 2*time.Millisecond)
	m.ObserveStoreOperation("incr", "error", 50*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeOps.WithLabelValues("incr", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeOps.WithLabelValues("incr", "error")))

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	var histogram *dto.Histogram
	for _, mf := range families {
		if mf.GetName() == "ratelimit_store_operation_duration_seconds" {
			require.Len(t, mf.GetMetric(), 1)
			histogram = mf.GetMetric()[0].GetHistogram()
		}
	}
	require.NotNil(t, histogram)
	assert.Equal(t, uint64(2), histogram.GetSampleCount())
	assert.InDelta(t, 0.052, histogram.GetSampleSum(), 1e-9)
}

func TestMetrics_Handler(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	m.RecordDecision("default", "allowed")
	m.SetBuildInfo("1.0.0", "abc123", "2026-01-01")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `ratelimit_decisions_total{decision="allowed",route="default"} 1`)
	assert.Contains(t, string(body), "avalimit_build_info")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestMetricsMiddleware(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	handler := MetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues(http.MethodPost, "429")))
}

func TestMetricsMiddleware_DefaultStatus(t *testing.T) {
	t.Parallel()

	m := NewMetrics()
	handler := MetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.requestsTotal.WithLabelValues(http.MethodGet, "200")))
}

func TestMetricsResponseWriter_Flush(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	rw := &metricsResponseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.Flush()
	assert.True(t, rec.Flushed)
}
