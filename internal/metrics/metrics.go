// Package metrics exposes Prometheus collectors for the warmup service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	resourcesResolvedTotal     *prometheus.CounterVec
	resolutionFailuresTotal    *prometheus.CounterVec
	resourcesPersistedTotal    *prometheus.CounterVec
	batchesTotal               *prometheus.CounterVec
	pendingItems               prometheus.Gauge
	assetFetchTotal            *prometheus.CounterVec
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		resourcesResolvedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warmup_resources_resolved_total",
				Help: "Total number of resources resolved to content, labeled by kind.",
			},
			[]string{"kind"},
		)

		resolutionFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warmup_resolution_failures_total",
				Help: "Total number of candidate references that could not be resolved, labeled by reason.",
			},
			[]string{"reason"},
		)

		resourcesPersistedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warmup_resources_persisted_total",
				Help: "Total number of drained resources, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		batchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warmup_batches_total",
				Help: "Total number of batch state transitions, labeled by state.",
			},
			[]string{"state"},
		)

		pendingItems = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "warmup_pending_items",
				Help: "Number of resources waiting in the pending-work list after the last drain.",
			},
		)

		assetFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "warmup_asset_fetch_total",
				Help: "Total number of remote asset fetches, labeled by host and status.",
			},
			[]string{"host", "status"},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "warmup_rate_limit_delays_seconds",
				Help:    "Histogram of per-host rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
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

// SanitizeHost extracts a lowercase hostname from a URL.
// It returns "unknown" if the URL is invalid.
func SanitizeHost(rawURL string) string {
	if strings.HasPrefix(rawURL, "//") {
		rawURL = "http:" + rawURL
	} else if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObserveResolved counts a successfully resolved resource.
func ObserveResolved(kind string) {
	Init()
	resourcesResolvedTotal.WithLabelValues(kind).Inc()
}

// ObserveResolutionFailure counts a dropped candidate.
func ObserveResolutionFailure(reason string) {
	Init()
	resolutionFailuresTotal.WithLabelValues(reason).Inc()
}

// ObservePersisted counts a drained resource by outcome (written, unchanged, failed).
func ObservePersisted(outcome string) {
	Init()
	resourcesPersistedTotal.WithLabelValues(outcome).Inc()
}

// ObserveBatch counts a batch entering the given state.
func ObserveBatch(state string) {
	Init()
	batchesTotal.WithLabelValues(state).Inc()
}

// SetPendingItems records the pending-work list length.
func SetPendingItems(n int) {
	Init()
	pendingItems.Set(float64(n))
}

// ObserveAssetFetch counts a remote asset fetch.
func ObserveAssetFetch(rawURL string, status int) {
	Init()
	assetFetchTotal.WithLabelValues(SanitizeHost(rawURL), strconv.Itoa(status)).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
