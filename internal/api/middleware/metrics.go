// Package middleware provides HTTP middleware components for the CodeBuddy API gateway.
// This file contains Prometheus metrics middleware for observability.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// httpRequestsTotal counts the total number of HTTP requests processed.
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codebuddy_http_requests_total",
			Help: "Total number of HTTP requests processed",
		},
		[]string{"method", "path", "status"},
	)

	// httpRequestDurationSeconds tracks the duration of HTTP requests.
	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codebuddy_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpRequestSizeBytes = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codebuddy_http_request_size_bytes",
			Help:    "Size of HTTP request bodies in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "codebuddy_active_connections",
			Help: "Number of currently active HTTP connections",
		},
	)

	activeConnectionsCount int64

	// upstreamRequestsTotal counts calls to the CodeBuddy endpoint by outcome.
	upstreamRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codebuddy_upstream_requests_total",
			Help: "Total upstream CodeBuddy requests",
		},
		[]string{"model", "stream", "status"},
	)

	upstreamDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "codebuddy_upstream_request_duration_seconds",
			Help:    "Time from sending an upstream request to the end of its body",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"model", "stream"},
	)

	upstreamRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "codebuddy_upstream_retries_total",
			Help: "Total streaming retries after transient upstream failures",
		},
	)

	apiRequestErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codebuddy_api_request_errors_total",
			Help: "Total number of API request errors",
		},
		[]string{"error_type"},
	)

	tokenUsage = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "codebuddy_token_usage_total",
			Help: "Total tokens used in API requests",
		},
		[]string{"model", "type"}, // type: prompt or completion
	)

	credentialRotationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "codebuddy_credential_selections_total",
			Help: "Total credentials handed out by the pool",
		},
	)

	// metricsRegistered ensures metrics are only registered once.
	metricsRegistered atomic.Bool
	metricsEnabled    atomic.Bool
)

// SetMetricsEnabled toggles Prometheus metrics collection.
func SetMetricsEnabled(enabled bool) {
	metricsEnabled.Store(enabled)
}

// IsMetricsEnabled reports whether metrics are enabled.
func IsMetricsEnabled() bool {
	return metricsEnabled.Load()
}

// RegisterMetrics registers all Prometheus metrics.
// It is safe to call multiple times; metrics will only be registered once.
func RegisterMetrics() {
	if !metricsRegistered.CompareAndSwap(false, true) {
		return
	}

	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDurationSeconds,
		httpRequestSizeBytes,
		activeConnections,
		upstreamRequestsTotal,
		upstreamDurationSeconds,
		upstreamRetriesTotal,
		apiRequestErrors,
		tokenUsage,
		credentialRotationsTotal,
	)
}

// PrometheusMiddleware returns a Gin middleware that collects request count,
// duration and active connection metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsMetricsEnabled() {
			c.Next()
			return
		}
		RegisterMetrics()

		// Skip metrics endpoint to avoid self-referential metrics
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		atomic.AddInt64(&activeConnectionsCount, 1)
		activeConnections.Inc()
		defer func() {
			atomic.AddInt64(&activeConnectionsCount, -1)
			activeConnections.Dec()
		}()

		path := normalizePath(c.Request.URL.Path)
		method := c.Request.Method
		if c.Request.ContentLength > 0 {
			httpRequestSizeBytes.WithLabelValues(method, path).Observe(float64(c.Request.ContentLength))
		}

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
		httpRequestDurationSeconds.WithLabelValues(method, path).Observe(time.Since(start).Seconds())

		if status >= 400 {
			errorType := "client_error"
			if status >= 500 {
				errorType = "server_error"
			}
			apiRequestErrors.WithLabelValues(errorType).Inc()
		}
	}
}

// normalizePath keeps label cardinality bounded.
func normalizePath(path string) string {
	switch {
	case path == "/", path == "/healthz", path == "/metrics":
		return path
	case path == "/v1/models", path == "/v1/chat/completions", path == "/v1/usage", path == "/v1/logs":
		return path
	case strings.HasPrefix(path, "/v1/credentials"):
		return "/v1/credentials/*"
	default:
		if len(path) > 50 {
			return path[:50] + "..."
		}
		return path
	}
}

// MetricsHandler returns the Prometheus HTTP handler for the /metrics endpoint.
func MetricsHandler() gin.HandlerFunc {
	handler := promhttp.Handler()
	return func(c *gin.Context) {
		if !IsMetricsEnabled() {
			c.AbortWithStatus(http.StatusNotFound)
			return
		}
		RegisterMetrics()
		handler.ServeHTTP(c.Writer, c.Request)
	}
}

// GetActiveConnections returns the current number of active connections.
func GetActiveConnections() int64 {
	return atomic.LoadInt64(&activeConnectionsCount)
}

// RecordUpstreamRequest records one finished upstream call. status is the
// HTTP status, or 0 when the request never produced a response.
func RecordUpstreamRequest(model string, stream bool, status int, elapsed time.Duration) {
	if !IsMetricsEnabled() {
		return
	}
	RegisterMetrics()
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	streamLabel := strconv.FormatBool(stream)
	upstreamRequestsTotal.WithLabelValues(model, streamLabel, label).Inc()
	upstreamDurationSeconds.WithLabelValues(model, streamLabel).Observe(elapsed.Seconds())
}

// RecordUpstreamRetry counts one streaming retry.
func RecordUpstreamRetry() {
	if !IsMetricsEnabled() {
		return
	}
	RegisterMetrics()
	upstreamRetriesTotal.Inc()
}

// RecordCredentialSelection counts one credential handed out by the pool.
func RecordCredentialSelection() {
	if !IsMetricsEnabled() {
		return
	}
	RegisterMetrics()
	credentialRotationsTotal.Inc()
}

// RecordTokenUsage records token usage for a completion.
// tokenType should be either "prompt" or "completion".
func RecordTokenUsage(model, tokenType string, tokens int64) {
	if !IsMetricsEnabled() || tokens <= 0 {
		return
	}
	RegisterMetrics()
	tokenUsage.WithLabelValues(model, tokenType).Add(float64(tokens))
}

// RecordAPIError records an API error by type, e.g. "rate_limit_error".
func RecordAPIError(errorType string) {
	if !IsMetricsEnabled() {
		return
	}
	RegisterMetrics()
	apiRequestErrors.WithLabelValues(errorType).Inc()
}
