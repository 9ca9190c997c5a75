package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Billing generation metrics
	GenerationRunsTotal     *prometheus.CounterVec
	GenerationDuration      prometheus.Histogram
	SubscriptionOrdersTotal *prometheus.CounterVec
	LastGenerationTimestamp prometheus.Gauge

	// Plan change metrics
	PlanChangesTotal *prometheus.CounterVec

	// Renewal metrics
	RenewalsTotal *prometheus.CounterVec

	// Storage metrics
	StorageOperationsTotal *prometheus.CounterVec
	StorageErrorsTotal     *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subbill_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "subbill_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		GenerationRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subbill_generation_runs_total",
				Help: "Total number of monthly order generation runs",
			},
			[]string{"outcome"},
		),
		GenerationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "subbill_generation_duration_seconds",
				Help:    "Monthly order generation run duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
		),
		SubscriptionOrdersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subbill_subscription_orders_total",
				Help: "Subscription orders by generation result",
			},
			[]string{"result"},
		),
		LastGenerationTimestamp: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "subbill_last_generation_timestamp_seconds",
				Help: "Unix time of the last completed generation run",
			},
		),

		PlanChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subbill_plan_changes_total",
				Help: "Recorded plan changes by direction",
			},
			[]string{"change_type"},
		),

		RenewalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subbill_renewals_total",
				Help: "Subscription renewals by result",
			},
			[]string{"result"},
		),

		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subbill_storage_operations_total",
				Help: "Total number of storage operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StorageErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "subbill_storage_errors_total",
				Help: "Total number of storage errors",
			},
			[]string{"operation", "backend"},
		),
	}

	if registry != nil {
		registry.MustRegister(
			m.HTTPRequestsTotal,
			m.HTTPRequestDuration,
			m.GenerationRunsTotal,
			m.GenerationDuration,
			m.SubscriptionOrdersTotal,
			m.LastGenerationTimestamp,
			m.PlanChangesTotal,
			m.RenewalsTotal,
			m.StorageOperationsTotal,
			m.StorageErrorsTotal,
		)
	}

	return m
}

// RecordStorageOperation counts a storage call and its failure, if any
func (m *Metrics) RecordStorageOperation(operation, backend string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		m.StorageErrorsTotal.WithLabelValues(operation, backend).Inc()
	}
	m.StorageOperationsTotal.WithLabelValues(operation, backend, status).Inc()
}

// responseWriter captures the status code written by a handler
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware records request counts and latencies.
// pathLabel maps a request to a low-cardinality label such as its route template.
func HTTPMetricsMiddleware(metrics *Metrics, pathLabel func(*http.Request) string) func(http.Handler) http.Handler {
	if pathLabel == nil {
		pathLabel = func(r *http.Request) string { return r.URL.Path }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			path := pathLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		})
	}
}

// RegisterMetricsEndpoint exposes the registry at /metrics
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
