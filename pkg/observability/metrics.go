package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Build metrics
	BuildsTotal   *prometheus.CounterVec
	BuildDuration *prometheus.HistogramVec

	// Packaging metrics
	PackagesTotal    *prometheus.CounterVec
	PackageSizeBytes prometheus.Histogram

	// Verification metrics
	VerificationsTotal      *prometheus.CounterVec
	VerificationDuration    *prometheus.HistogramVec
	VerificationFailedStage *prometheus.CounterVec
	InboxPending            prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cadplug_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cadplug_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		BuildsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cadplug_builds_total",
				Help: "Total number of plugin builds",
			},
			[]string{"strategy", "status"},
		),
		BuildDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cadplug_build_duration_seconds",
				Help:    "Plugin build duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"strategy"},
		),

		PackagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cadplug_packages_total",
				Help: "Total number of packaging runs",
			},
			[]string{"status"},
		),
		PackageSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "cadplug_package_size_bytes",
				Help:    "Size of written plugin packages in bytes",
				Buckets: prometheus.ExponentialBuckets(1024, 4, 10),
			},
		),

		VerificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cadplug_verifications_total",
				Help: "Total number of package verifications",
			},
			[]string{"mode", "status"},
		),
		VerificationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cadplug_verification_duration_seconds",
				Help:    "Package verification duration in seconds",
				Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 10},
			},
			[]string{"mode"},
		),
		VerificationFailedStage: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cadplug_verification_failures_total",
				Help: "Failed archive verifications by the last stage reached",
			},
			[]string{"stage"},
		),
		InboxPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "cadplug_inbox_pending",
				Help: "Archives waiting in the inbox debounce window",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.BuildsTotal,
		m.BuildDuration,
		m.PackagesTotal,
		m.PackageSizeBytes,
		m.VerificationsTotal,
		m.VerificationDuration,
		m.VerificationFailedStage,
		m.InboxPending,
	)

	return m
}

func statusLabel(ok bool) string {
	if ok {
		return StatusSuccess
	}
	return StatusFailure
}

// RecordBuild records one build run
func (m *Metrics) RecordBuild(strategy string, ok bool, duration time.Duration) {
	if strategy == "" {
		strategy = "unknown"
	}
	m.BuildsTotal.WithLabelValues(strategy, statusLabel(ok)).Inc()
	m.BuildDuration.WithLabelValues(strategy).Observe(duration.Seconds())
}

// RecordPackage records one packaging run; size is ignored on failure
func (m *Metrics) RecordPackage(ok bool, size int64) {
	m.PackagesTotal.WithLabelValues(statusLabel(ok)).Inc()
	if ok {
		m.PackageSizeBytes.Observe(float64(size))
	}
}

// RecordVerification records one verification run. stage is the last stage
// reached and is only counted for failed runs.
func (m *Metrics) RecordVerification(mode string, valid bool, stage string, duration time.Duration) {
	m.VerificationsTotal.WithLabelValues(mode, statusLabel(valid)).Inc()
	m.VerificationDuration.WithLabelValues(mode).Observe(duration.Seconds())
	if !valid && stage != "" {
		m.VerificationFailedStage.WithLabelValues(stage).Inc()
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled with their mux route template so IDs in paths do
// not create new series.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := r.URL.Path
			if current := mux.CurrentRoute(r); current != nil {
				if tmpl, err := current.GetPathTemplate(); err == nil {
					route = tmpl
				}
			}
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
