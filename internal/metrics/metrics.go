// Package metrics exposes Prometheus collectors for the scanner service.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scannerScansTotal          *prometheus.CounterVec
	scannerScanDurationSeconds *prometheus.HistogramVec
	scannerActiveInstances     prometheus.Gauge
	scannerMemoryPercent       prometheus.Gauge
	scannerEvictionsTotal      prometheus.Counter
	scannerClassificationTotal *prometheus.CounterVec
	scannerProviderFailures    *prometheus.CounterVec
	scannerCacheHitsTotal      prometheus.Counter
	scannerAlertsTotal         *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scannerScansTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_scans_total",
				Help: "Total number of scans, labeled by target site and terminal status.",
			},
			[]string{"site", "status"},
		)

		scannerScanDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scanner_scan_duration_seconds",
				Help:    "Histogram of end-to-end scan latencies, labeled by status.",
				Buckets: []float64{0.5, 1, 2.5, 5, 10, 20, 45, 90},
			},
			[]string{"status"},
		)

		scannerActiveInstances = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scanner_active_instances",
				Help: "Number of live headless-browser instances.",
			},
		)

		scannerMemoryPercent = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scanner_memory_percent",
				Help: "Last sampled process memory percentage.",
			},
		)

		scannerEvictionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scanner_instance_evictions_total",
				Help: "Total browser instances force-terminated under memory pressure.",
			},
		)

		scannerClassificationTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_classifications_total",
				Help: "Total classifications, labeled by winning detection method.",
			},
			[]string{"method"},
		)

		scannerProviderFailures = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_provider_failures_total",
				Help: "Total classification provider failures, labeled by provider.",
			},
			[]string{"provider"},
		)

		scannerCacheHitsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scanner_cache_hits_total",
				Help: "Total scans short-circuited by a cache hit.",
			},
		)

		scannerAlertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scanner_alerts_total",
				Help: "Total alert deliveries, labeled by outcome.",
			},
			[]string{"outcome"},
		)
	})
}

// SanitizeSite sanitizes a target to extract a lowercase hostname.
// It returns "unknown" if the target is invalid.
func SanitizeSite(target string) string {
	if !strings.HasPrefix(target, "http") {
		target = "http://" + target
	}
	u, err := url.Parse(target)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveScan records one finished scan.
func ObserveScan(target string, status string, duration time.Duration) {
	Init()
	scannerScansTotal.WithLabelValues(SanitizeSite(target), status).Inc()
	scannerScanDurationSeconds.WithLabelValues(status).Observe(duration.Seconds())
}

// SetActiveInstances updates the live instance gauge.
func SetActiveInstances(n int) {
	Init()
	scannerActiveInstances.Set(float64(n))
}

// SetMemoryPercent updates the sampled memory gauge.
func SetMemoryPercent(pct float64) {
	Init()
	scannerMemoryPercent.Set(pct)
}

// ObserveEvictions counts instances force-terminated under pressure.
func ObserveEvictions(n int) {
	Init()
	if n > 0 {
		scannerEvictionsTotal.Add(float64(n))
	}
}

// ObserveClassification counts a verdict by winning detection method.
func ObserveClassification(method string) {
	Init()
	scannerClassificationTotal.WithLabelValues(method).Inc()
}

// ObserveProviderFailure counts a failed provider call.
func ObserveProviderFailure(provider string) {
	Init()
	scannerProviderFailures.WithLabelValues(provider).Inc()
}

// ObserveCacheHit counts a cache read-through hit.
func ObserveCacheHit() {
	Init()
	scannerCacheHitsTotal.Inc()
}

// ObserveAlert counts an alert delivery attempt by outcome.
func ObserveAlert(outcome string) {
	Init()
	scannerAlertsTotal.WithLabelValues(outcome).Inc()
}
