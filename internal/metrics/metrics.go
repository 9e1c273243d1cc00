// Package metrics provides Prometheus instrumentation for the barter engine.
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
	// OffersCreatedTotal counts offers accepted into the book.
	OffersCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "barter_offers_created_total",
		Help: "Total number of offers created",
	})

	// OffersRemovedTotal counts offers leaving the book, partitioned by
	// reason (deleted, expired, revoked, traded, reset).
	OffersRemovedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "barter_offers_removed_total",
		Help: "Total number of offers removed",
	}, []string{"reason"})

	// TradesTotal counts trade attempts by outcome.
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "barter_trades_total",
		Help: "Total number of trade executions attempted",
	}, []string{"result"})

	// TradeLatency tracks execute_trade duration including custody transfers.
	TradeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "barter_trade_latency_seconds",
		Help:    "Trade execution latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// TransfersTotal counts custody transfers performed by committed trades.
	TransfersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "barter_transfers_total",
		Help: "Total custody transfers performed by trades",
	})

	// LiveOffers tracks the number of offers in the book.
	LiveOffers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "barter_live_offers",
		Help: "Number of live offers",
	})

	// CustodyActive tracks assets currently held in custody.
	CustodyActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "barter_custody_active_assets",
		Help: "Number of assets held in neutral custody",
	})

	// RejectionsTotal counts operations refused by the engine, by operation and error.
	RejectionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "barter_rejections_total",
		Help: "Operations rejected by the engine",
	}, []string{"op", "reason"})

	// CompensationsTotal counts custody calls issued to undo a failed operation.
	CompensationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "barter_custody_compensations_total",
		Help: "Custody compensations issued, by result",
	}, []string{"result"})

	// OutboxPending tracks outbox events not yet acknowledged by the broker.
	OutboxPending = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "barter_outbox_pending",
		Help: "Outbox events awaiting publication",
	})

	// OutboxPublishedTotal counts outbox publication attempts by result.
	OutboxPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "barter_outbox_published_total",
		Help: "Outbox publication attempts, by result",
	}, []string{"result"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "barter_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "barter_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "barter_http_request_duration_seconds",
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

// Hijack lets WebSocket upgrades pass through the middleware.
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
