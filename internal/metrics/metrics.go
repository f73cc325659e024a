// Package metrics provides Prometheus instrumentation for the trading engine.
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
	// PositionsOpened counts opened positions, partitioned by asset and side.
	PositionsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claerdex_positions_opened_total",
		Help: "Total number of positions opened",
	}, []string{"asset", "side"})

	// PositionsClosed counts closed positions, partitioned by asset and side.
	PositionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claerdex_positions_closed_total",
		Help: "Total number of positions closed",
	}, []string{"asset", "side"})

	// OpenRejections counts open requests rejected by a precondition.
	OpenRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claerdex_open_rejections_total",
		Help: "Position open requests rejected by a precondition",
	}, []string{"reason"})

	// FeedResolutions counts price-feed resolutions by operation and the
	// source that answered (recorded, primary, synthetic).
	FeedResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claerdex_feed_resolutions_total",
		Help: "Price feed resolutions by operation and source",
	}, []string{"op", "source"})

	// AttestationFailures counts swallowed attestation errors.
	AttestationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "claerdex_attestation_failures_total",
		Help: "Trade attestations that failed and were swallowed",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "claerdex_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "claerdex_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "claerdex_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
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

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
		path := r.URL.Path
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
