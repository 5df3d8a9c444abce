package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the service. It implements the
// recorder interfaces of the ratelimit and store packages.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	decisions       *prometheus.CounterVec
	bypass          *prometheus.CounterVec
	storeOps        *prometheus.CounterVec
	storeDuration   *prometheus.HistogramVec
	storeAvailable  prometheus.Gauge
	buildInfo       *prometheus.GaugeVec
	startTime       prometheus.Gauge
	registry        *prometheus.Registry
}

// NewMetrics creates a new Metrics instance on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	m.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
			Buckets: []float64{
				.001, .005, .01, .025, .05,
				.1, .25, .5, 1, 2.5, 5, 10,
			},
		},
		[]string{"method", "status"},
	)

	m.decisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Admission decisions by policy route " +
				"(allowed, rejected, unavailable)",
		},
		[]string{"route", "decision"},
	)

	m.bypass = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_bypass_total",
			Help: "Requests handled while the counter " +
				"store was unavailable, by failure mode",
		},
		[]string{"mode"},
	)

	m.storeOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ratelimit_store_operations_total",
			Help: "Total number of counter store operations",
		},
		[]string{"operation", "status"},
	)

	m.storeDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "ratelimit_store_operation_duration_seconds",
			Help: "Duration of counter store operations in seconds",
			Buckets: []float64{
				0.0001, 0.0005, 0.001, 0.005, 0.01,
				0.025, 0.05, 0.1, 0.25, 0.5, 1,
			},
		},
		[]string{"operation"},
	)

	m.storeAvailable = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ratelimit_store_available",
			Help: "Whether the counter store is in use " +
				"(1) or bypassed (0)",
		},
	)

	m.buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "avalimit_build_info",
			Help: "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)

	m.startTime = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "avalimit_start_time_seconds",
			Help: "Start time of the process " +
				"in unix seconds",
		},
	)

	m.registerCollectors()

	m.startTime.SetToCurrentTime()

	return m
}

// registerCollectors registers all metric collectors with the
// Prometheus registry.
func (m *Metrics) registerCollectors() {
	m.registry.MustRegister(
		m.requestsTotal,
		m.requestDuration,
		m.decisions,
		m.bypass,
		m.storeOps,
		m.storeDuration,
		m.storeAvailable,
		m.buildInfo,
		m.startTime,
	)

	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(
		collectors.NewProcessCollector(
			collectors.ProcessCollectorOpts{},
		),
	)
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(method string, status int, duration time.Duration) {
	statusStr := strconv.Itoa(status)
	m.requestsTotal.WithLabelValues(method, statusStr).Inc()
	m.requestDuration.WithLabelValues(method, statusStr).Observe(duration.Seconds())
}

// RecordDecision counts an admission decision. The route label is the
// policy name, never the raw path.
func (m *Metrics) RecordDecision(route, decision string) {
	m.decisions.WithLabelValues(route, decision).Inc()
}

// RecordBypass counts a request handled in BYPASS.
func (m *Metrics) RecordBypass(mode string) {
	m.bypass.WithLabelValues(mode).Inc()
}

// SetStoreAvailable sets the counter store availability gauge.
func (m *Metrics) SetStoreAvailable(available bool) {
	value := 0.0
	if available {
		value = 1.0
	}
	m.storeAvailable.Set(value)
}

// ObserveStoreOperation records one counter store round trip.
func (m *Metrics) ObserveStoreOperation(operation, status string, duration time.Duration) {
	m.storeOps.WithLabelValues(operation, status).Inc()
	m.storeDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetBuildInfo sets the build information metric.
func (m *Metrics) SetBuildInfo(version, commit, buildTime string) {
	m.buildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(
		m.registry,
		promhttp.HandlerOpts{EnableOpenMetrics: true},
	)
}

// Registry returns the Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MetricsMiddleware returns a middleware that records request metrics.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &metricsResponseWriter{
				ResponseWriter: w,
				status:         http.StatusOK,
			}

			next.ServeHTTP(rw, r)

			metrics.RecordRequest(r.Method, rw.status, time.Since(start))
		})
	}
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status.
type metricsResponseWriter struct {
	http.ResponseWriter
	status int
}

// WriteHeader captures the status code.
func (rw *metricsResponseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher interface for streaming support.
func (rw *metricsResponseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
