// Package metrics provides Prometheus instrumentation for the market engine.
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
	// ClaimsSubmitted counts claims accepted into the pending state.
	ClaimsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prophet_claims_submitted_total",
		Help: "Total number of claims submitted",
	})

	// ClaimsRejectedByValidator counts submissions refused by the validator,
	// partitioned by the rule that failed.
	ClaimsRejectedByValidator = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prophet_claims_invalid_total",
		Help: "Claim submissions rejected by the validator",
	}, []string{"rule"})

	// ClaimTransitions counts lifecycle transitions by target status.
	ClaimTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prophet_claim_transitions_total",
		Help: "Claim status transitions",
	}, []string{"to"})

	// ReviewsTotal counts AI review outcomes.
	ReviewsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prophet_reviews_total",
		Help: "AI reviews by outcome",
	}, []string{"outcome"})

	// ReviewQueueDepth tracks claims waiting for review.
	ReviewQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "prophet_review_queue_depth",
		Help: "Claims queued for AI review",
	})

	// ReviewLatency tracks reviewer round-trip time.
	ReviewLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "prophet_review_latency_seconds",
		Help:    "AI reviewer latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	// TradesTotal counts buys executed, partitioned by side.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prophet_trades_total",
		Help: "Total number of buys executed",
	}, []string{"side"})

	// TradeLatency tracks buy execution latency, lock wait included.
	TradeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prophet_trade_latency_seconds",
		Help:    "Buy execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"side"})

	// TradeRejections counts buys refused, by reason.
	TradeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prophet_trade_rejections_total",
		Help: "Buys rejected before execution",
	}, []string{"reason"})

	// TradeConflicts counts optimistic-concurrency retries inside buys.
	TradeConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prophet_trade_conflicts_total",
		Help: "Buy retries caused by concurrent supply changes",
	})

	// MarketsCreated counts markets opened.
	MarketsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prophet_markets_created_total",
		Help: "Markets created",
	})

	// MarketVolume tracks cumulative shares bought per side.
	MarketVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prophet_market_volume_total",
		Help: "Cumulative shares bought",
	}, []string{"side"})

	// Deposits counts wallet credits.
	Deposits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "prophet_deposits_total",
		Help: "Wallet deposits",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "prophet_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "prophet_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "prophet_http_request_duration_seconds",
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

// Hijack passes through to the underlying writer so WebSocket upgrades
// work behind the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
