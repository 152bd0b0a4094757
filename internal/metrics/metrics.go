// Package metrics provides Prometheus instrumentation for the arena engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SessionsTotal counts trading sessions by outcome (ok, aborted, dry_run).
	SessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_sessions_total",
		Help: "Total number of trading sessions run",
	}, []string{"outcome"})

	// SessionDuration tracks wall time of a full session.
	SessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "arena_session_duration_seconds",
		Help:    "Trading session duration in seconds",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
	})

	// TradesTotal counts executed trades, partitioned by action and mode.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_trades_total",
		Help: "Total number of trades executed",
	}, []string{"action", "mode"})

	// ValidationRejections counts proposed actions rejected by validation.
	ValidationRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_validation_rejections_total",
		Help: "Proposed actions rejected by mode or account rules",
	}, []string{"mode"})

	// ProviderCalls counts AI backend calls by model and outcome.
	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_provider_calls_total",
		Help: "Total AI provider calls",
	}, []string{"model", "outcome"})

	// ProviderLatency tracks AI backend latency by model.
	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arena_provider_latency_seconds",
		Help:    "AI provider call latency in seconds",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 40, 60, 90, 120},
	}, []string{"model"})

	// TokensUsed accumulates tokens reported by each backend.
	TokensUsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_tokens_used_total",
		Help: "Total tokens consumed per model",
	}, []string{"model"})

	// ParseFailures counts responses with no structured decision.
	ParseFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_parse_failures_total",
		Help: "Provider responses that contained no parseable decision",
	}, []string{"model"})

	// SnapshotFallbacks counts market data sub-fetches that fell back to defaults.
	SnapshotFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_snapshot_fallbacks_total",
		Help: "Market data sub-fetches replaced by defaults",
	}, []string{"source"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "arena_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "arena_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arena_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 5.0, 30.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
