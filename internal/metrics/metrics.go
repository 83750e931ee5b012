// Package metrics exposes Prometheus collectors for the scanner service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scansTotal                 *prometheus.CounterVec
	pagesScannedTotal          prometheus.Counter
	findingsTotal              *prometheus.CounterVec
	scanDurationSeconds        *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	activeScans                prometheus.Gauge
	progressObservers          prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scansTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_scans_total",
				Help: "Total number of scans finished, labeled by terminal status.",
			},
			[]string{"status"},
		)

		pagesScannedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scanner_pages_scanned_total",
				Help: "Total number of pages discovered and checked.",
			},
		)

		findingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_findings_total",
				Help: "Total number of findings produced, labeled by severity.",
			},
			[]string{"severity"},
		)

		scanDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scanner_scan_duration_seconds",
				Help:    "Histogram of wall-clock scan durations, labeled by scan type.",
				Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"scan_type"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		activeScans = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scanner_active_scans",
				Help: "Number of scans currently running.",
			},
		)

		progressObservers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scanner_progress_observers",
				Help: "Number of websocket observers currently connected.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveScanFinished records one finished scan with its terminal status and
// duration.
func ObserveScanFinished(status, scanType string, duration time.Duration) {
	scansTotal.WithLabelValues(status).Inc()
	scanDurationSeconds.WithLabelValues(scanType).Observe(duration.Seconds())
}

// ObservePage increments the scanned pages counter.
func ObservePage() {
	pagesScannedTotal.Inc()
}

// ObserveFinding increments the finding counter for one severity.
func ObserveFinding(severity string) {
	findingsTotal.WithLabelValues(severity).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// IncActiveScans increments the running scans gauge.
func IncActiveScans() {
	activeScans.Inc()
}

// DecActiveScans decrements the running scans gauge.
func DecActiveScans() {
	activeScans.Dec()
}

// IncProgressObservers increments the websocket observer gauge.
func IncProgressObservers() {
	progressObservers.Inc()
}

// DecProgressObservers decrements the websocket observer gauge.
func DecProgressObservers() {
	progressObservers.Dec()
}
