// Package metrics provides Prometheus instrumentation for the ledger engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BalanceMutations counts balance mutation attempts, partitioned by
	// operation kind and outcome.
	BalanceMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betpay_balance_mutations_total",
		Help: "Total balance mutation attempts by op and outcome",
	}, []string{"op", "status"})

	// CASConflicts counts compare-and-swap writes lost to a concurrent
	// mutation.
	CASConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betpay_cas_conflicts_total",
		Help: "Balance writes rejected by the version check",
	})

	// InvoiceCredits counts invoices settled and credited.
	InvoiceCredits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betpay_invoice_credits_total",
		Help: "Invoices transitioned unpaid to paid",
	})

	// OrphanedPositions counts positions whose compensating delete failed
	// after a failed stake debit. Each increment is a manual
	// reconciliation case.
	OrphanedPositions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betpay_orphaned_positions_total",
		Help: "Positions left without a debit after failed compensation",
	})

	// AuditAppendFailures counts audit log writes that failed. The audit
	// log is best-effort: these never surface to ledger callers.
	AuditAppendFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "betpay_audit_append_failures_total",
		Help: "Audit log inserts that failed",
	})

	// WebSocketClients tracks connected event-stream clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "betpay_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "betpay_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "betpay_http_request_duration_seconds",
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

		// Use the route pattern for the path label to avoid high
		// cardinality; the pattern is only known after routing.
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
