// Package metrics registers the application-level Prometheus metrics.
// Store-level latency histograms live next to their stores.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gate's Prometheus metrics.
type Metrics struct {
	Decisions *prometheus.CounterVec
}

// New creates and registers all metrics.
func New() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "tradegate_decisions_total",
			Help: "Admission decisions by outcome.",
		}, []string{"outcome"}),
	}
}

// ObserveDecision records one admission decision outcome.
func (m *Metrics) ObserveDecision(outcome string) {
	m.Decisions.WithLabelValues(outcome).Inc()
}
