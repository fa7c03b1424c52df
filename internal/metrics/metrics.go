// Package metrics exports conquest counters and latencies to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements app.Metrics on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	conquestsTotal     *prometheus.CounterVec
	conquestDurationMs *prometheus.HistogramVec
	resolutionsTotal   *prometheus.CounterVec
	conflictRetries    prometheus.Counter
}

// NewRecorder registers turf collectors plus the Go runtime and process collectors.
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		conquestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "turf_conquests_total",
			Help: "Conquests by final status.",
		}, []string{"status"}),
		conquestDurationMs: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "turf_conquest_duration_ms",
			Help:    "Conquest latency in milliseconds.",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		}, []string{"status"}),
		resolutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "turf_resolutions_total",
			Help: "Resolved candidate territories by outcome.",
		}, []string{"outcome"}),
		conflictRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "turf_conflict_retries_total",
			Help: "Conquests retried after a stale basis.",
		}),
	}
	r.registry.MustRegister(
		r.conquestsTotal,
		r.conquestDurationMs,
		r.resolutionsTotal,
		r.conflictRetries,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// ObserveConquest counts one conquest and its latency.
func (r *Recorder) ObserveConquest(status string, seconds float64) {
	r.conquestsTotal.WithLabelValues(status).Inc()
	r.conquestDurationMs.WithLabelValues(status).Observe(seconds * 1000)
}

// ObserveResolution counts one resolved candidate.
func (r *Recorder) ObserveResolution(outcome string) {
	r.resolutionsTotal.WithLabelValues(outcome).Inc()
}

// IncConflictRetry counts one stale-basis retry.
func (r *Recorder) IncConflictRetry() {
	r.conflictRetries.Inc()
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus text format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
