// Package metrics provides Prometheus instrumentation for the margin engine.
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
	// TradesTotal counts trade executions, partitioned by kind (open/close).
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margin_trades_total",
		Help: "Total number of trades executed",
	}, []string{"kind"})

	// TradeLatency tracks trade execution latency by kind.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "margin_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// TradeRejections counts failed trades by error class.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margin_trade_rejections_total",
		Help: "Trades rejected by the engine",
	}, []string{"kind", "reason"})

	// ActivePairs tracks the number of listed pairs.
	ActivePairs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "margin_active_pairs",
		Help: "Number of listed trading pairs",
	})

	// InsuranceReserve tracks each pair's insurance reserve per asset side.
	InsuranceReserve = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "margin_insurance_reserve",
		Help: "Insurance reserve balance per pair and asset side",
	}, []string{"pair", "side"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "margin_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "margin_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "margin_http_request_duration_seconds",
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

		// Use the raw path for the label; route cardinality is low.
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
