// Package metrics exposes Prometheus collectors for the sync service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/heyitswin/zipsea-sub004/internal/pricesync"
)

var (
	syncJobsTotal              *prometheus.CounterVec
	syncFilesTotal             *prometheus.CounterVec
	syncItemsWrittenTotal      prometheus.Counter
	syncActiveJobs             prometheus.Gauge
	syncWebhooksTotal          *prometheus.CounterVec
	archivePoolInUse           prometheus.Gauge
	archivePoolIdle            prometheus.Gauge
	archiveBreakerState        prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		syncJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_jobs_total",
				Help: "Total number of sync jobs finished, labeled by status.",
			},
			[]string{"status"},
		)

		syncFilesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_files_total",
				Help: "Total number of files observed by sync jobs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		syncItemsWrittenTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sync_items_written_total",
				Help: "Total number of sailing items persisted to the database.",
			},
		)

		syncActiveJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "sync_active_jobs",
				Help: "Number of sync jobs currently executing.",
			},
		)

		syncWebhooksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sync_webhooks_total",
				Help: "Total number of webhook deliveries received, labeled by result.",
			},
			[]string{"result"},
		)

		archivePoolInUse = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "archive_pool_connections_in_use",
				Help: "Archive connections currently checked out of the pool.",
			},
		)

		archivePoolIdle = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "archive_pool_connections_idle",
				Help: "Archive connections parked in the pool's idle list.",
			},
		)

		archiveBreakerState = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "archive_breaker_state",
				Help: "Circuit breaker state: 0 closed, 1 half-open, 2 open.",
			},
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
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// JobFinished increments the job counter for the given terminal status.
func JobFinished(status string) {
	syncJobsTotal.WithLabelValues(status).Inc()
}

// FilesObserved records a finished job's per-outcome file counts.
func FilesObserved(c pricesync.JobCounters) {
	if c.Succeeded > 0 {
		syncFilesTotal.WithLabelValues(string(pricesync.OutcomeSuccess)).Add(float64(c.Succeeded))
	}
	if c.NotFound > 0 {
		syncFilesTotal.WithLabelValues(string(pricesync.OutcomeNotFound)).Add(float64(c.NotFound))
	}
	if c.ConnectionFailures > 0 {
		syncFilesTotal.WithLabelValues(string(pricesync.OutcomeConnectionFailure)).Add(float64(c.ConnectionFailures))
	}
	if c.ParseErrors > 0 {
		syncFilesTotal.WithLabelValues(string(pricesync.OutcomeParseError)).Add(float64(c.ParseErrors))
	}
	if c.ItemsWritten > 0 {
		syncItemsWrittenTotal.Add(float64(c.ItemsWritten))
	}
}

// ActiveJobs sets the in-flight job gauge.
func ActiveJobs(n int64) {
	syncActiveJobs.Set(float64(n))
}

// WebhookReceived increments the webhook counter for the given result,
// one of "accepted", "duplicate" or "rejected".
func WebhookReceived(result string) {
	syncWebhooksTotal.WithLabelValues(result).Inc()
}

// PoolObserved mirrors current pool occupancy into the gauges.
func PoolObserved(inUse, idle int) {
	archivePoolInUse.Set(float64(inUse))
	archivePoolIdle.Set(float64(idle))
}

// BreakerObserved mirrors the circuit breaker state into its gauge.
func BreakerObserved(state string) {
	var v float64
	switch state {
	case "half_open":
		v = 1
	case "open":
		v = 2
	}
	archiveBreakerState.Set(v)
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
