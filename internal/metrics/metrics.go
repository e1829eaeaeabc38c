// Package metrics provides Prometheus instrumentation for the triage service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sentinel",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// SessionsTotal counts triage sessions by terminal status.
	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "sessions_total",
			Help:      "Total triage sessions by terminal status.",
		},
		[]string{"status"}, // "completed", "failed", "rejected"
	)

	// ActiveSessions tracks currently running triage sessions.
	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentinel",
			Name:      "active_sessions",
			Help:      "Number of currently running triage sessions.",
		},
	)

	// StepDuration observes pipeline step latency by step id and outcome.
	StepDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "sentinel",
			Name:      "step_duration_seconds",
			Help:      "Pipeline step duration in seconds by step and outcome.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"step", "outcome"}, // "completed", "failed"
	)

	// ToolCallsTotal counts collaborator calls by step and result.
	ToolCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "tool_calls_total",
			Help:      "Total collaborator calls by step and result.",
		},
		[]string{"step", "result"}, // "success", "failure"
	)

	// FallbacksTotal counts best-effort fallbacks by reason.
	FallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "fallbacks_total",
			Help:      "Total best-effort fallbacks by reason.",
		},
		[]string{"reason"},
	)

	// RateLimitBlocksTotal counts rate-limited requests by endpoint.
	RateLimitBlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "rate_limit_blocks_total",
			Help:      "Total requests denied by the token bucket limiter.",
		},
		[]string{"endpoint"},
	)

	// PolicyBlocksTotal counts compliance blocks by policy type.
	PolicyBlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "policy_blocks_total",
			Help:      "Total transactions blocked by compliance policy.",
		},
		[]string{"policy_type"},
	)

	// ThreatBlocksTotal counts requests rejected by the threat screen.
	ThreatBlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "threat_blocks_total",
			Help:      "Total requests rejected by the threat screen, by pattern.",
		},
		[]string{"pattern"},
	)

	// ActionsTotal counts side-effecting actions by type and result.
	ActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "sentinel",
			Name:      "actions_total",
			Help:      "Total side-effecting actions by type and result.",
		},
		[]string{"action", "result"}, // "executed", "replayed", "failed"
	)

	// ActiveWebSocketClients tracks connected event stream clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "sentinel",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected event stream clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sentinel", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		SessionsTotal,
		ActiveSessions,
		StepDuration,
		ToolCallsTotal,
		FallbacksTotal,
		RateLimitBlocksTotal,
		PolicyBlocksTotal,
		ThreatBlocksTotal,
		ActionsTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
