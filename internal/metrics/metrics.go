// Package metrics exposes Prometheus collectors for the crawl and upload pipeline.
package metrics

import (
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchPagesTotal            *prometheus.CounterVec
	fetchBytesTotal            *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	robotsFailOpenTotal        prometheus.Counter
	schedulerInFlight          prometheus.Gauge
	pacingDelaySeconds         prometheus.Histogram
	uploadBatchesTotal         *prometheus.CounterVec
	uploadRetriesTotal         prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		fetchPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datapull_fetch_pages_total",
				Help: "Total number of pages fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
		)

		fetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datapull_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site.",
			},
			[]string{"site"},
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

		robotsFailOpenTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "datapull_robots_fail_open_total",
				Help: "Total robots.txt lookups that failed and were treated as allow-all.",
			},
		)

		schedulerInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "datapull_scheduler_in_flight",
				Help: "Number of fetches currently running in the scheduler pool.",
			},
		)

		pacingDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "datapull_pacing_delay_seconds",
				Help:    "Histogram of time spent waiting on the global pacing gate.",
				Buckets: []float64{0.01, 0.1, 0.25, 0.5, 1, 2, 5},
			},
		)

		uploadBatchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "datapull_upload_batches_total",
				Help: "Total upload batches sent to the ingest endpoint, labeled by result.",
			},
			[]string{"result"},
		)

		uploadRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "datapull_upload_retries_total",
				Help: "Total retried ingest calls.",
			},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObserveFetch increments the fetch counters.
func ObserveFetch(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	fetchPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		fetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRobotsFailOpen counts robots lookups that fell back to allow-all.
func ObserveRobotsFailOpen() {
	Init()
	robotsFailOpenTotal.Inc()
}

// IncInFlight increments the scheduler in-flight gauge.
func IncInFlight() {
	Init()
	schedulerInFlight.Inc()
}

// DecInFlight decrements the scheduler in-flight gauge.
func DecInFlight() {
	Init()
	schedulerInFlight.Dec()
}

// ObservePacingDelay records time spent blocked on the pacing gate.
func ObservePacingDelay(duration time.Duration) {
	Init()
	pacingDelaySeconds.Observe(duration.Seconds())
}

// ObserveUploadBatch counts one ingest batch by result ("success", "failed").
func ObserveUploadBatch(result string) {
	Init()
	uploadBatchesTotal.WithLabelValues(result).Inc()
}

// ObserveUploadRetry counts one retried ingest call.
func ObserveUploadRetry() {
	Init()
	uploadRetriesTotal.Inc()
}
