// Package metrics counts engine activity with Prometheus collectors. There
// is no long-running process to scrape, so metrics are exported through the
// node exporter textfile convention.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics receives engine events.
type Metrics interface {
	ObserveAction(action, op, outcome string)
	IncSalvaged()
	ObserveApply(durationSeconds float64)
}

// Noop implements Metrics without recording anything.
type Noop struct{}

func (Noop) ObserveAction(string, string, string) {}
func (Noop) IncSalvaged()                         {}
func (Noop) ObserveApply(float64)                 {}

// Prom implements Metrics on a private registry.
type Prom struct {
	Registry *prometheus.Registry

	actions  *prometheus.CounterVec
	salvaged prometheus.Counter
	apply    prometheus.Histogram
}

// NewProm returns collectors named under namespace and registered on a new
// registry.
func NewProm(namespace string) *Prom {
	p := &Prom{
		Registry: prometheus.NewRegistry(),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_total",
			Help:      "Actions applied by type, operation and outcome",
		}, []string{"type", "op", "outcome"}),
		salvaged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "salvaged_total",
			Help:      "Directories moved to the salvage area",
		}),
		apply: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "apply_duration_seconds",
			Help:      "Wall time of a plan apply",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
	p.Registry.MustRegister(p.actions, p.salvaged, p.apply)
	return p
}

func (p *Prom) ObserveAction(action, op, outcome string) {
	p.actions.WithLabelValues(action, op, outcome).Inc()
}

func (p *Prom) IncSalvaged() {
	p.salvaged.Inc()
}

func (p *Prom) ObserveApply(durationSeconds float64) {
	p.apply.Observe(durationSeconds)
}

// WriteTextfile writes the current values to path atomically.
func (p *Prom) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, p.Registry)
}
