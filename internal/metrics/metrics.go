// Package metrics provides Prometheus instrumentation for the PnL service.
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
	// ReportsTotal counts PnL reports computed, partitioned by fill source.
	ReportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_reports_total",
		Help: "Total number of PnL reports computed",
	}, []string{"source"}) // "cache" or "upstream"

	// ReportLatency tracks end-to-end report computation latency.
	ReportLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pnl_report_latency_seconds",
		Help:    "Report computation latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// FillsFetched counts fills fetched from the upstream venue API.
	FillsFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pnl_fills_fetched_total",
		Help: "Fills fetched from the upstream activity feed",
	})

	// Oversells counts sell fills that exceeded the open quantity for
	// their position key (upstream data-quality anomaly, handled leniently).
	Oversells = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pnl_oversell_fills_total",
		Help: "Sell fills exceeding open bought quantity",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pnl_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pnl_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pnl_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
	}, []string{"method", "path"})

	// RateLimitRejections counts requests rejected by the rate limiter.
	RateLimitRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pnl_rate_limit_rejections_total",
		Help: "Requests rejected by the rate limiter",
	})
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

		// Use the raw path for the label; wallet addresses keep cardinality
		// bounded to active users, acceptable for a dashboard service.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)

		if wrapped.status == http.StatusTooManyRequests {
			RateLimitRejections.Inc()
		}
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
