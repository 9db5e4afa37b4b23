// Package metrics exposes Prometheus collectors for the ingestion service.
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
	pagesFetchedTotal          *prometheus.CounterVec
	fetchFallbacksTotal        prometheus.Counter
	robotsFallbacksTotal       prometheus.Counter
	jobsTotal                  *prometheus.CounterVec
	jobStageDurationSeconds    *prometheus.HistogramVec
	comprehensionPassesTotal   *prometheus.CounterVec
	registryConfidence         prometheus.Histogram
	pushTotal                  *prometheus.CounterVec
	schedulerResubmittedTotal  *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capreg_pages_fetched_total",
				Help: "Pages fetched during crawls, labeled by strategy and outcome.",
			},
			[]string{"strategy", "outcome"},
		)

		fetchFallbacksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "capreg_fetch_fallbacks_total",
				Help: "Crawls that fell back from the rendering service to direct fetching.",
			},
		)

		robotsFallbacksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "capreg_robots_tls_fallbacks_total",
				Help: "robots.txt lookups that gave up after repeated TLS handshake timeouts.",
			},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capreg_jobs_total",
				Help: "Ingest jobs that reached a terminal state, labeled by status.",
			},
			[]string{"status"},
		)

		jobStageDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "capreg_job_stage_duration_seconds",
				Help:    "Time spent in each pipeline stage.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"stage"},
		)

		comprehensionPassesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capreg_comprehension_passes_total",
				Help: "Comprehension passes, labeled by pass and outcome.",
			},
			[]string{"pass", "outcome"},
		)

		registryConfidence = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "capreg_registry_confidence",
				Help:    "Confidence score of built registries.",
				Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
			},
		)

		pushTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capreg_push_total",
				Help: "Push submissions, labeled by response status.",
			},
			[]string{"status"},
		)

		schedulerResubmittedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "capreg_scheduler_resubmissions_total",
				Help: "Stale registries resubmitted by the scheduler, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "capreg_active_workers",
				Help: "Number of workers currently processing a job.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "capreg_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5},
			},
			[]string{"domain"},
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

// SanitizeSite extracts a lowercase hostname from a URL or bare domain.
// It returns "unknown" if the input is invalid.
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObservePage counts one page fetch attempt.
func ObservePage(strategy, outcome string) {
	Init()
	pagesFetchedTotal.WithLabelValues(strategy, outcome).Inc()
}

// ObserveFallback counts a switch from the rendering service to direct fetching.
func ObserveFallback() {
	Init()
	fetchFallbacksTotal.Inc()
}

// ObserveRobotsFallback counts a robots.txt lookup that fell back to allow-all.
func ObserveRobotsFallback() {
	Init()
	robotsFallbacksTotal.Inc()
}

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(status string) {
	Init()
	jobsTotal.WithLabelValues(status).Inc()
}

// ObserveStage records the time spent in a pipeline stage.
func ObserveStage(stage string, d time.Duration) {
	Init()
	jobStageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// ObservePass counts one comprehension pass outcome.
func ObservePass(pass, outcome string) {
	Init()
	comprehensionPassesTotal.WithLabelValues(pass, outcome).Inc()
}

// ObserveConfidence records a built registry's confidence score.
func ObserveConfidence(score float64) {
	Init()
	registryConfidence.Observe(score)
}

// ObservePush counts one push submission by response status.
func ObservePush(status string) {
	Init()
	pushTotal.WithLabelValues(status).Inc()
}

// ObserveResubmission counts one scheduler resubmission attempt.
func ObserveResubmission(outcome string) {
	Init()
	schedulerResubmittedTotal.WithLabelValues(outcome).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(SanitizeSite(domain)).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
