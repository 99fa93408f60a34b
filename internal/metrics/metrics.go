// Package metrics exposes Prometheus metrics for the autocomplete service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "geosuggest"

// Autocomplete outcomes used as the "outcome" label.
const (
	OutcomeOK            = "ok"
	OutcomeCacheHit      = "cache_hit"
	OutcomeInvalid       = "invalid"
	OutcomeRateLimited   = "rate_limited"
	OutcomeUpstreamError = "upstream_error"
	OutcomeError         = "error"
)

// Metrics holds all application metrics on a private registry, so several
// servers (and tests) can coexist in one process.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests         *prometheus.CounterVec   // labels: method, path, status
	HTTPDuration         *prometheus.HistogramVec // labels: method, path
	HTTPRequestsInFlight prometheus.Gauge

	// Autocomplete metrics
	AutocompleteRequests *prometheus.CounterVec // labels: outcome
	AutocompleteResults  prometheus.Histogram

	// Rate limiting
	RateLimitRejections *prometheus.CounterVec // labels: window

	// Cache metrics
	CacheHits   *prometheus.CounterVec // labels: backend
	CacheMisses *prometheus.CounterVec // labels: backend

	// Geocoder metrics
	GeocoderRequests *prometheus.CounterVec // labels: outcome
	GeocoderLatency  prometheus.Histogram

	// Feedback metrics
	FeedbackSelections prometheus.Counter
	FeedbackErrors     prometheus.Counter

	// Bus metrics
	BusEventsPublished *prometheus.CounterVec   // labels: topic
	BusEventLatency    *prometheus.HistogramVec // labels: topic
	BusErrors          *prometheus.CounterVec   // labels: topic
}

// New creates a metrics instance with all metrics registered, plus the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	latencyBuckets := []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

	return &Metrics{
		registry: reg,

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   latencyBuckets,
		}, []string{"method", "path"}),
		HTTPRequestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		}),

		AutocompleteRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "autocomplete_requests_total",
			Help:      "Autocomplete requests by outcome",
		}, []string{"outcome"}),
		AutocompleteResults: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "autocomplete_results",
			Help:      "Number of suggestions returned per autocomplete request",
			Buckets:   []float64{0, 1, 2, 5, 10, 15, 20},
		}),

		RateLimitRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the rate limiter, by exceeded window",
		}, []string{"window"}),

		CacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Result cache hits",
		}, []string{"backend"}),
		CacheMisses: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Result cache misses, including degraded lookups",
		}, []string{"backend"}),

		GeocoderRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocoder_requests_total",
			Help:      "Outbound geocoder requests by outcome",
		}, []string{"outcome"}),
		GeocoderLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocoder_request_duration_seconds",
			Help:      "Outbound geocoder request duration in seconds",
			Buckets:   latencyBuckets,
		}),

		FeedbackSelections: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedback_selections_total",
			Help:      "Selections persisted to the feedback store",
		}),
		FeedbackErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedback_errors_total",
			Help:      "Feedback submissions that failed to persist",
		}),

		BusEventsPublished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_events_published_total",
			Help:      "Events published on the bus",
		}, []string{"topic"}),
		BusEventLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "bus_publish_duration_seconds",
			Help:      "Bus publish duration in seconds",
			Buckets:   latencyBuckets,
		}, []string{"topic"}),
		BusErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_errors_total",
			Help:      "Failed bus publishes",
		}, []string{"topic"}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler that serves the Prometheus exposition.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RegisterLimiterClients exposes the number of clients tracked by the rate
// limiter, read at scrape time.
func (m *Metrics) RegisterLimiterClients(clients func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "rate_limit_clients",
		Help:      "Clients with admission history in the rate limiter",
	}, func() float64 { return float64(clients()) }))
}

// RecordHTTP records a completed HTTP request.
func (m *Metrics) RecordHTTP(method, path string, status int, duration time.Duration) {
	path = normalizePath(path)
	m.HTTPRequests.WithLabelValues(method, path, statusCode(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordAutocomplete records one autocomplete request outcome.
// results is ignored unless the request succeeded.
func (m *Metrics) RecordAutocomplete(outcome string, results int) {
	m.AutocompleteRequests.WithLabelValues(outcome).Inc()
	if outcome == OutcomeOK || outcome == OutcomeCacheHit {
		m.AutocompleteResults.Observe(float64(results))
	}
}

// RecordRateLimited records a rejection by the named window.
func (m *Metrics) RecordRateLimited(window string) {
	m.RateLimitRejections.WithLabelValues(window).Inc()
}

// RecordCacheHit records a result cache hit.
func (m *Metrics) RecordCacheHit(backend string) {
	m.CacheHits.WithLabelValues(backend).Inc()
}

// RecordCacheMiss records a result cache miss.
func (m *Metrics) RecordCacheMiss(backend string) {
	m.CacheMisses.WithLabelValues(backend).Inc()
}

// RecordGeocoder records an outbound geocoder call.
func (m *Metrics) RecordGeocoder(duration time.Duration, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	m.GeocoderRequests.WithLabelValues(outcome).Inc()
	m.GeocoderLatency.Observe(duration.Seconds())
}

// RecordFeedbackError records a feedback submission that failed to persist.
func (m *Metrics) RecordFeedbackError() {
	m.FeedbackErrors.Inc()
}

// RecordBusPublish implements bus.MetricsRecorder.
func (m *Metrics) RecordBusPublish(topic string, latency time.Duration, err error) {
	m.BusEventsPublished.WithLabelValues(topic).Inc()
	m.BusEventLatency.WithLabelValues(topic).Observe(latency.Seconds())
	if err != nil {
		m.BusErrors.WithLabelValues(topic).Inc()
	}
}
