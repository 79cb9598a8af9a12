// Package observability wires metrics and logging for the server.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"Imgate/internal/core/imageproxy"
)

// HTTPMetrics captures request metrics for the API server.
type HTTPMetrics interface {
	ObserveRequest(method, route, status string, durationSeconds float64)
}

// Prom implements imageproxy.Recorder and HTTPMetrics on Prometheus collectors.
type Prom struct {
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	cacheStatus *prometheus.CounterVec
	fetches     *prometheus.HistogramVec
	transcodes  prometheus.Histogram
	outputBytes prometheus.Histogram
	lockWaits   *prometheus.HistogramVec
}

var (
	_ imageproxy.Recorder = (*Prom)(nil)
	_ HTTPMetrics         = (*Prom)(nil)
)

// NewProm creates the collectors and registers them on reg. A nil reg uses
// prometheus.DefaultRegisterer.
func NewProm(namespace string, reg prometheus.Registerer) *Prom {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	p := &Prom{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method/route/status",
		}, []string{"method", "route", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method/route",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		cacheStatus: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_responses_total",
			Help:      "Served images by cache status",
		}, []string{"status"}),
		fetches: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "origin_fetch_duration_seconds",
			Help:      "Time to origin response headers by outcome",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		transcodes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcode_duration_seconds",
			Help:      "Origin stream, decode, resize and encode time",
			Buckets:   prometheus.DefBuckets,
		}),
		outputBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcode_output_bytes",
			Help:      "Size of transcoded images",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 8),
		}),
		lockWaits: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_wait_duration_seconds",
			Help:      "Time spent waiting on another worker by outcome",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),
	}
	reg.MustRegister(p.requests, p.latency, p.cacheStatus, p.fetches, p.transcodes, p.outputBytes, p.lockWaits)
	return p
}

func (p *Prom) ObserveRequest(method, route, status string, durationSeconds float64) {
	p.requests.WithLabelValues(method, route, status).Inc()
	p.latency.WithLabelValues(method, route).Observe(durationSeconds)
}

func (p *Prom) IncCacheStatus(status imageproxy.CacheStatus) {
	p.cacheStatus.WithLabelValues(string(status)).Inc()
}

func (p *Prom) ObserveFetch(outcome string, seconds float64) {
	p.fetches.WithLabelValues(outcome).Observe(seconds)
}

func (p *Prom) ObserveTranscode(seconds float64, outputBytes int) {
	p.transcodes.Observe(seconds)
	p.outputBytes.Observe(float64(outputBytes))
}

func (p *Prom) ObserveLockWait(outcome string, seconds float64) {
	p.lockWaits.WithLabelValues(outcome).Observe(seconds)
}

// Handler returns an HTTP handler for /metrics. A nil gatherer uses
// prometheus.DefaultGatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
