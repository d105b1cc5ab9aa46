// Package metrics provides Prometheus instrumentation for the pool engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stormvane/pool-engine/internal/events"
)

var (
	// SharesMinted counts shares minted across all policies.
	SharesMinted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pool_shares_minted_total",
		Help: "Total LP shares minted",
	})

	// SharesBurned counts shares burned across all policies.
	SharesBurned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pool_shares_burned_total",
		Help: "Total LP shares burned",
	})

	// TradesTotal counts individual fills executed by the matching engine.
	TradesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pool_trades_total",
		Help: "Total fills executed",
	})

	// TradeVolume counts shares traded.
	TradeVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pool_trade_volume_total",
		Help: "Cumulative traded share volume",
	})

	// OrdersPlaced and OrdersCancelled count ask lifecycle transitions.
	OrdersPlaced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pool_orders_placed_total",
		Help: "Total ask orders placed",
	})
	OrdersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pool_orders_cancelled_total",
		Help: "Total ask orders cancelled",
	})

	// OpenOrders tracks the number of resting asks.
	OpenOrders = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pool_open_orders",
		Help: "Number of currently resting ask orders",
	})

	// PayoutsDistributed counts settlement distributions.
	PayoutsDistributed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pool_payouts_distributed_total",
		Help: "Total pro-rata payout distributions",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pool_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pool_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pool_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Observe is an event-bus handler that keeps the counters current.
func Observe(ev events.Event) {
	switch ev.Type {
	case events.SharesMinted:
		SharesMinted.Add(float64(ev.Amount))
	case events.SharesBurned:
		SharesBurned.Add(float64(ev.Amount))
	case events.TradeExecuted:
		TradesTotal.Inc()
		TradeVolume.Add(float64(ev.Amount))
	case events.AskPlaced:
		OrdersPlaced.Inc()
		OpenOrders.Inc()
	case events.AskCancelled:
		OrdersCancelled.Inc()
		OpenOrders.Dec()
	case events.OrderFilled:
		OpenOrders.Dec()
	case events.PayoutDistributed:
		PayoutsDistributed.Inc()
	}
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; routes here are low-cardinality.
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
