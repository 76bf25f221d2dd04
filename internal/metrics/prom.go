// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sortmesh_jobs_total", Help: "Sort jobs by outcome"},
		[]string{"status"},
	)
	DispatchSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sortmesh_dispatch_seconds",
			Help:    "Round-trip time of one chunk exchange with a worker",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		},
	)
	RegisteredWorkers = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "sortmesh_registered_workers", Help: "Workers currently in the registry"},
	)
	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "sortmesh_probes_total", Help: "Liveness probes by result"},
		[]string{"status"},
	)
)

// Job outcome labels.
const (
	JobOK        = "ok"
	JobEmpty     = "empty"
	JobFailed    = "failed"
	JobPartial   = "partial"
	JobNoWorkers = "no_workers"
)

// Collectors returns every collector for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{JobsTotal, DispatchSeconds, RegisteredWorkers, ProbesTotal}
}

// NewRegistry returns a registry holding Collectors plus the Go runtime and
// process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(Collectors()...)
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}
