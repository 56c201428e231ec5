// Package metrics holds the Prometheus collectors for rate limit decisions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Decision outcomes.
const (
	OutcomeAdmit    = "admit"
	OutcomeDeny     = "deny"
	OutcomeFailOpen = "fail_open"
)

const (
	namespace = "gatekeep"
	subsystem = "ratelimit"
)

// Metrics groups the limiter collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	decisions      *prometheus.CounterVec
	recordFailures *prometheus.CounterVec
	storeDuration  *prometheus.HistogramVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		decisions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "decisions_total",
				Help:      "Rate limit decisions by policy, algorithm and outcome.",
			},
			[]string{"policy", "algorithm", "outcome"},
		),
		recordFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "record_failures_total",
				Help:      "Successful operations whose attempt could not be written to the store.",
			},
			[]string{"policy", "algorithm"},
		),
		storeDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "store_duration_seconds",
				Help:      "Latency of shared store calls made by the limiter.",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
	}
}

// ObserveDecision counts one decision.
func (m *Metrics) ObserveDecision(policy, algorithm, outcome string) {
	if m == nil {
		return
	}
	m.decisions.WithLabelValues(policy, algorithm, outcome).Inc()
}

// RecordFailure counts one attempt lost because the store write failed.
func (m *Metrics) RecordFailure(policy, algorithm string) {
	if m == nil {
		return
	}
	m.recordFailures.WithLabelValues(policy, algorithm).Inc()
}

// ObserveStore records the latency of one store call.
func (m *Metrics) ObserveStore(operation string, d time.Duration) {
	if m == nil {
		return
	}
	m.storeDuration.WithLabelValues(operation).Observe(d.Seconds())
}
