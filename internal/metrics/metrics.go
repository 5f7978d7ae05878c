// Package metrics provides Prometheus metrics for the logreach server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logreach_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logreach_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Tool operation metrics
	operationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logreach_operations_total",
			Help: "Total tool operations by name and outcome",
		},
		[]string{"operation", "status"},
	)

	operationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "logreach_operation_duration_seconds",
			Help:    "Tool operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	remoteBytesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logreach_remote_bytes_read_total",
			Help: "Total bytes read from remote hosts",
		},
	)

	securityRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logreach_security_rejections_total",
			Help: "Total requests rejected by the security gate",
		},
		[]string{"kind"},
	)

	// Cache metrics
	cacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logreach_cache_hits_total",
			Help: "Total content cache hits",
		},
	)

	cacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logreach_cache_misses_total",
			Help: "Total content cache misses",
		},
	)

	cacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logreach_cache_evictions_total",
			Help: "Total content cache evictions",
		},
	)

	cacheBytesUsed = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logreach_cache_bytes_used",
			Help: "Approximate bytes held by the content cache",
		},
	)

	// Session pool metrics
	sessionConnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "logreach_session_connects_total",
			Help: "Total SSH connection attempts",
		},
		[]string{"result"},
	)

	sessionReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logreach_session_reconnects_total",
			Help: "Total recoveries after at least one failed connection attempt",
		},
	)

	sessionProbeFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "logreach_session_probe_failures_total",
			Help: "Total keepalive probe failures on pooled sessions",
		},
	)

	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "logreach_sessions_active",
			Help: "Number of live pooled SSH sessions",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordOperation records one tool operation with its outcome.
func RecordOperation(operation string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	operationsTotal.WithLabelValues(operation, status).Inc()
	operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordRemoteBytesRead adds to the remote read byte counter.
func RecordRemoteBytesRead(n int64) {
	remoteBytesRead.Add(float64(n))
}

// RecordSecurityRejection records a gate rejection by kind
// (path, command, credentials).
func RecordSecurityRejection(kind string) {
	securityRejectionsTotal.WithLabelValues(kind).Inc()
}

// RecordCacheHit records a content cache hit.
func RecordCacheHit() {
	cacheHitsTotal.Inc()
}

// RecordCacheMiss records a content cache miss.
func RecordCacheMiss() {
	cacheMissesTotal.Inc()
}

// RecordCacheEviction records a content cache eviction.
func RecordCacheEviction() {
	cacheEvictionsTotal.Inc()
}

// SetCacheBytesUsed sets the current cache occupancy gauge.
func SetCacheBytesUsed(n int64) {
	cacheBytesUsed.Set(float64(n))
}

// RecordSessionConnect records one SSH connection attempt.
func RecordSessionConnect(success bool) {
	result := "success"
	if !success {
		result = "failure"
	}
	sessionConnectsTotal.WithLabelValues(result).Inc()
}

// RecordSessionReconnect records a recovery after failed attempts.
func RecordSessionReconnect() {
	sessionReconnectsTotal.Inc()
}

// RecordSessionProbeFailure records a keepalive probe failure.
func RecordSessionProbeFailure() {
	sessionProbeFailuresTotal.Inc()
}

// SetSessionsActive sets the live session gauge.
func SetSessionsActive(count int) {
	sessionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
