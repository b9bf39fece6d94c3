// Package metrics exposes Prometheus collectors for the scraping service.
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
	scrapeOutcomesTotal        *prometheus.CounterVec
	cacheLookupsTotal          *prometheus.CounterVec
	extractionDurationSeconds  *prometheus.HistogramVec
	blockedPagesTotal          *prometheus.CounterVec
	telemetryFailuresTotal     *prometheus.CounterVec
	backgroundTasksTotal       *prometheus.CounterVec
	backgroundTasksInflight    prometheus.Gauge
	estimatedCostUSDTotal      *prometheus.CounterVec
	circuitState               *prometheus.GaugeVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors with the default registry. It is safe to
// call more than once; the Observe helpers call it themselves.
func Init() {
	once.Do(func() {
		scrapeOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraping_outcomes_total",
				Help: "Scrape and map requests by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraping_cache_lookups_total",
				Help: "Cache lookups by result (hit, miss, bypass).",
			},
			[]string{"result"},
		)

		extractionDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraping_extraction_duration_seconds",
				Help:    "Latency of Firecrawl calls by operation and status.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"operation", "status"},
		)

		blockedPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraping_blocked_pages_total",
				Help: "Extracted pages that look like anti-bot interstitials, by block type.",
			},
			[]string{"block_type"},
		)

		telemetryFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraping_telemetry_failures_total",
				Help: "Failed calls to the runs service, by operation.",
			},
			[]string{"operation"},
		)

		backgroundTasksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraping_background_tasks_total",
				Help: "Detached tasks by name and status.",
			},
			[]string{"task", "status"},
		)

		backgroundTasksInflight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "scraping_background_tasks_inflight",
				Help: "Detached tasks currently running.",
			},
		)

		estimatedCostUSDTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraping_estimated_cost_usd_total",
				Help: "Estimated provider spend in USD, by cost name.",
			},
			[]string{"cost_name"},
		)

		circuitState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "scraping_circuit_state",
				Help: "Circuit breaker state (0 closed, 1 open, 2 half-open).",
			},
			[]string{"name"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveOutcome counts one finished scrape or map request.
func ObserveOutcome(operation, outcome string) {
	Init()
	scrapeOutcomesTotal.WithLabelValues(operation, outcome).Inc()
}

// ObserveCacheLookup counts one cache lookup.
func ObserveCacheLookup(result string) {
	Init()
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// ObserveExtraction records the latency of one provider call.
func ObserveExtraction(operation string, ok bool, d time.Duration) {
	Init()
	status := "success"
	if !ok {
		status = "error"
	}
	extractionDurationSeconds.WithLabelValues(operation, status).Observe(d.Seconds())
}

// ObserveBlockedPage counts one extracted page that looks blocked.
func ObserveBlockedPage(blockType string) {
	Init()
	blockedPagesTotal.WithLabelValues(blockType).Inc()
}

// ObserveTelemetryFailure counts one failed runs service call.
func ObserveTelemetryFailure(operation string) {
	Init()
	telemetryFailuresTotal.WithLabelValues(operation).Inc()
}

// ObserveBackgroundTask counts one finished detached task.
func ObserveBackgroundTask(task, status string) {
	Init()
	backgroundTasksTotal.WithLabelValues(task, status).Inc()
}

// IncBackgroundInflight increments the in-flight detached task gauge.
func IncBackgroundInflight() {
	Init()
	backgroundTasksInflight.Inc()
}

// DecBackgroundInflight decrements the in-flight detached task gauge.
func DecBackgroundInflight() {
	Init()
	backgroundTasksInflight.Dec()
}

// ObserveCost adds estimated spend for a cost name.
func ObserveCost(costName string, usd float64) {
	Init()
	if usd > 0 {
		estimatedCostUSDTotal.WithLabelValues(costName).Add(usd)
	}
}

// SetCircuitState records a breaker transition.
func SetCircuitState(name string, state int) {
	Init()
	circuitState.WithLabelValues(name).Set(float64(state))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
