// Package metrics exposes Prometheus collectors for instance coordination.
//
// A nil *Metrics is valid and records nothing, so callers that do not want
// metrics never need to check.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "singleinstance"

// Election results.
const (
	ResultFirst     = "first"
	ResultSecondary = "secondary"
	ResultError     = "error"
)

// Publish outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomeTimeout = "timeout"
)

// Metrics holds the coordinator's collectors.
type Metrics struct {
	// elections counts Initialize calls by result.
	// Labels: result (first, secondary, error)
	elections *prometheus.CounterVec

	// invocations counts argument payloads handed to the target.
	invocations prometheus.Counter

	// decodeFailures counts payloads dropped because they could not be decoded.
	decodeFailures prometheus.Counter

	// publishes counts secondary-instance publish attempts.
	// Labels: outcome (ok, error, timeout)
	publishes *prometheus.CounterVec

	// publishDuration measures how long a publish took, whatever its outcome.
	publishDuration prometheus.Histogram
}

// New creates the collectors and registers them on reg. A nil reg creates
// unregistered collectors, which is convenient in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		elections: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "elections_total",
			Help:      "Instance elections by result",
		}, []string{"result"}),

		invocations: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invocations_received_total",
			Help:      "Argument payloads delivered to the first instance",
		}),

		decodeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Payloads dropped because they could not be decoded",
		}),

		publishes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publishes_total",
			Help:      "Secondary instance publish attempts by outcome",
		}, []string{"outcome"}),

		publishDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "publish_duration_seconds",
			Help:      "Time taken to hand arguments to the first instance",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
	}
}

// Election records the result of one Initialize call.
func (m *Metrics) Election(result string) {
	if m == nil {
		return
	}
	m.elections.WithLabelValues(result).Inc()
}

// InvocationReceived records one payload delivered to the target.
func (m *Metrics) InvocationReceived() {
	if m == nil {
		return
	}
	m.invocations.Inc()
}

// DecodeFailed records one payload dropped on decode.
func (m *Metrics) DecodeFailed() {
	if m == nil {
		return
	}
	m.decodeFailures.Inc()
}

// Published records one publish attempt and its duration.
func (m *Metrics) Published(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.publishes.WithLabelValues(outcome).Inc()
	m.publishDuration.Observe(d.Seconds())
}
