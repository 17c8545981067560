// Package metrics provides Prometheus instrumentation for the risk engine.
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
	// SnapshotRefreshes counts snapshot refreshes, partitioned by outcome.
	SnapshotRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_snapshot_refreshes_total",
		Help: "Total number of snapshot refreshes",
	}, []string{"outcome"})

	// SnapshotRefreshDuration tracks how long a full snapshot capture takes.
	SnapshotRefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "risk_snapshot_refresh_duration_seconds",
		Help:    "Snapshot capture latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// SnapshotAge is the age of the snapshot most recently served, per account.
	SnapshotAge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "risk_snapshot_age_seconds",
		Help: "Seconds since the current snapshot was captured",
	}, []string{"account"})

	// LedgerFetches counts ledger reads by entity and outcome.
	LedgerFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_ledger_fetches_total",
		Help: "Total ledger reads",
	}, []string{"entity", "outcome"})

	// RiskQueryDuration tracks risk computations by operation.
	RiskQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "risk_query_duration_seconds",
		Help:    "Risk query latency in seconds",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"operation"})

	// LiquidatableAccounts tracks tracked accounts that can be liquidated.
	LiquidatableAccounts = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "risk_liquidatable_accounts",
		Help: "Number of tracked accounts below maintenance margin",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "risk_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "risk_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "risk_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Outcome maps an error to its label value.
func Outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}

// ObserveQuery records the latency of a risk operation started at start.
func ObserveQuery(operation string, start time.Time) {
	RiskQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

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
