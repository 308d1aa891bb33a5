package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder registers and updates the service's Prometheus collectors. It
// satisfies the usecase Metrics interface.
type Recorder struct {
	registry *prometheus.Registry

	classifications *prometheus.CounterVec
	remoteFailures  *prometheus.CounterVec
	cacheHits       prometheus.Counter
	duration        *prometheus.HistogramVec
}

// NewRecorder builds a recorder with its own registry so tests and multiple
// instances never collide on global state.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()

	r := &Recorder{
		registry: registry,
		classifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fruits_classifications_total",
			Help: "Classification requests by producing source and outcome.",
		}, []string{"source", "outcome"}),
		remoteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fruits_remote_failures_total",
			Help: "Remote backend failures by decoded failure kind.",
		}, []string{"kind"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fruits_cache_hits_total",
			Help: "Predictions served from the response cache.",
		}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "fruits_classification_duration_seconds",
			Help:    "End-to-end classification latency by producing source.",
			Buckets: prometheus.DefBuckets,
		}, []string{"source"}),
	}

	registry.MustRegister(r.classifications, r.remoteFailures, r.cacheHits, r.duration)
	return r
}

// ObserveClassification records one finished classification attempt.
func (r *Recorder) ObserveClassification(source, outcome string, seconds float64) {
	r.classifications.WithLabelValues(source, outcome).Inc()
	r.duration.WithLabelValues(source).Observe(seconds)
}

// RecordRemoteFailure counts a decoded remote backend failure.
func (r *Recorder) RecordRemoteFailure(kind string) {
	r.remoteFailures.WithLabelValues(kind).Inc()
}

// RecordCacheHit counts a prediction served from the response cache.
func (r *Recorder) RecordCacheHit() {
	r.cacheHits.Inc()
}

// Handler exposes the registry in Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
