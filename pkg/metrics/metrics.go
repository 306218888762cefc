package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "savelo_api_build_info",
			Help: "Build information of the Savelo API",
		},
		[]string{"version", "commit", "date"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "savelo_api_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "savelo_api_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "savelo_api_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Ledger metrics
	LedgerCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "savelo_api_ledger_calls_total",
			Help: "Total number of ledger operations",
		},
		[]string{"op", "status"}, // op: "create_plan", "pay_today", "get_plan"
	)

	LedgerCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "savelo_api_ledger_call_duration_seconds",
			Help:    "Duration of ledger operations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~41s
		},
		[]string{"op"},
	)

	// Reconciliation metrics
	PlanResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "savelo_api_plan_resolutions_total",
			Help: "Total number of wallet plan resolutions",
		},
		[]string{"outcome"}, // "resolved", "none", "error"
	)

	PlanEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "savelo_api_plan_evictions_total",
			Help: "Total number of plan ids evicted from the local wallet index",
		},
	)
)

// Middleware returns a chi middleware that records HTTP metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Use the route pattern if available, otherwise use the path
		path := chi.RouteContext(r.Context()).RoutePattern()
		if path == "" {
			path = r.URL.Path
		}

		status := strconv.Itoa(ww.Status())
		duration := time.Since(start).Seconds()

		HTTPRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// RecordLedgerCall records metrics for a ledger operation.
func RecordLedgerCall(op string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	LedgerCallsTotal.WithLabelValues(op, status).Inc()
	LedgerCallDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordResolution records the outcome of a wallet plan resolution.
func RecordResolution(outcome string, evicted int) {
	PlanResolutionsTotal.WithLabelValues(outcome).Inc()
	if evicted > 0 {
		PlanEvictionsTotal.Add(float64(evicted))
	}
}
