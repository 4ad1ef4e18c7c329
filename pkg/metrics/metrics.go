// Package metrics exports Prometheus metrics for the lock manager.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chatlock"

// Registry holds all chatlock metrics on a private Prometheus registry so
// tests and multiple servers in one process do not collide.
type Registry struct {
	reg        *prometheus.Registry
	operations *prometheus.CounterVec
	durations  *prometheus.HistogramVec
	retries    *prometheus.CounterVec
	swept      prometheus.Counter
}

// NewRegistry creates a registry with the lock metrics and the standard
// Go and process collectors.
func NewRegistry() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_operations_total",
			Help:      "Lock operations by operation and outcome.",
		}, []string{"op", "outcome"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "lock_operation_duration_seconds",
			Help:      "Latency of lock operations including store retries.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"op"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "store_retries_total",
			Help:      "Retries of transient lock store failures.",
		}, []string{"op"}),
		swept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "locks_swept_total",
			Help:      "Expired locks removed by the sweeper.",
		}),
	}
	r.reg.MustRegister(
		r.operations,
		r.durations,
		r.retries,
		r.swept,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// RecordOperation records one lock operation. A nil Registry is a no-op.
func (r *Registry) RecordOperation(op, outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	r.operations.WithLabelValues(op, outcome).Inc()
	r.durations.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordRetry records one retried store call.
func (r *Registry) RecordRetry(op string) {
	if r == nil {
		return
	}
	r.retries.WithLabelValues(op).Inc()
}

// RecordSweep records locks removed by one sweep.
func (r *Registry) RecordSweep(removed int) {
	if r == nil || removed <= 0 {
		return
	}
	r.swept.Add(float64(removed))
}

// Gatherer exposes the underlying registry for tests and custom exporters.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return r.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}
