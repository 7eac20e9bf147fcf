// Package metrics defines the Prometheus metric collectors used across
// termfreq and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the counting pipeline and the
// HTTP service.
type Metrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge
	HTTPResponseSize     *prometheus.HistogramVec
	RunsTotal            *prometheus.CounterVec
	RunDuration          *prometheus.HistogramVec
	PartitionScan        *prometheus.HistogramVec
	TermsScannedTotal    prometheus.Counter
	TermsTruncatedTotal  prometheus.Counter
	CapacityDropsTotal   *prometheus.CounterVec
	MergesTotal          prometheus.Counter
	CacheHitsTotal       prometheus.Counter
	CacheMissesTotal     prometheus.Counter
	EventsPublishedTotal *prometheus.CounterVec
	CircuitBreakerState  *prometheus.GaugeVec
}

// New creates all collectors and registers them with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all collectors and registers them with reg.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds.",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed.",
			},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_response_size_bytes",
				Help:    "HTTP response body size in bytes.",
				Buckets: prometheus.ExponentialBuckets(64, 4, 8),
			},
			[]string{"path"},
		),
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termfreq_runs_total",
				Help: "Total counting runs by strategy and status (ok, error).",
			},
			[]string{"strategy", "status"},
		),
		RunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termfreq_run_duration_seconds",
				Help:    "Wall-clock duration of a counting run in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"strategy"},
		),
		PartitionScan: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "termfreq_partition_scan_seconds",
				Help:    "Time spent scanning one partition in seconds.",
				Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"strategy"},
		),
		TermsScannedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "termfreq_terms_scanned_total",
				Help: "Total term occurrences read by partition scanners.",
			},
		),
		TermsTruncatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "termfreq_terms_truncated_total",
				Help: "Total terms cut to the maximum term length.",
			},
		),
		CapacityDropsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termfreq_capacity_drops_total",
				Help: "Term insertions dropped because a table was full, by scope (local, global).",
			},
			[]string{"scope"},
		),
		MergesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "termfreq_merges_total",
				Help: "Total partition tables merged into a global table.",
			},
		),
		CacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_hits_total",
				Help: "Total number of result cache hits.",
			},
		),
		CacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "cache_misses_total",
				Help: "Total number of result cache misses.",
			},
		),
		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "termfreq_events_published_total",
				Help: "Run events handed to Kafka by status (ok, error).",
			},
			[]string{"status"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"name"},
		),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.HTTPResponseSize,
		m.RunsTotal,
		m.RunDuration,
		m.PartitionScan,
		m.TermsScannedTotal,
		m.TermsTruncatedTotal,
		m.CapacityDropsTotal,
		m.MergesTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.EventsPublishedTotal,
		m.CircuitBreakerState,
	)

	return m
}

// ObserveHTTP records one finished HTTP request.
func (m *Metrics) ObserveHTTP(method, path string, status int, elapsed time.Duration, size int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(elapsed.Seconds())
	m.HTTPResponseSize.WithLabelValues(path).Observe(float64(size))
}

// ObserveRun records the outcome of one counting run.
func (m *Metrics) ObserveRun(strategy string, elapsed time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.RunsTotal.WithLabelValues(strategy, status).Inc()
	if err == nil {
		m.RunDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
	}
}

// ObservePartition records the scan of one partition.
func (m *Metrics) ObservePartition(strategy string, elapsed time.Duration, terms, truncated, dropped int64) {
	m.PartitionScan.WithLabelValues(strategy).Observe(elapsed.Seconds())
	m.TermsScannedTotal.Add(float64(terms))
	m.TermsTruncatedTotal.Add(float64(truncated))
	if dropped > 0 {
		m.CapacityDropsTotal.WithLabelValues("local").Add(float64(dropped))
	}
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
