package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_Counters(t *testing.T) {
	m := New(nil)

	m.Election(ResultFirst)
	m.Election(ResultSecondary)
	m.Election(ResultSecondary)
	m.InvocationReceived()
	m.DecodeFailed()
	m.Published(OutcomeOK, 3*time.Millisecond)
	m.Published(OutcomeTimeout, 5*time.Second)

	tests := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"first elections", m.elections.WithLabelValues(ResultFirst), 1},
		{"secondary elections", m.elections.WithLabelValues(ResultSecondary), 2},
		{"error elections", m.elections.WithLabelValues(ResultError), 0},
		{"invocations", m.invocations, 1},
		{"decode failures", m.decodeFailures, 1},
		{"ok publishes", m.publishes.WithLabelValues(OutcomeOK), 1},
		{"timeout publishes", m.publishes.WithLabelValues(OutcomeTimeout), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.c); got != tt.want {
				t.Errorf("value = %v, want %v", got, tt.want)
			}
		})
	}

	if got := testutil.CollectAndCount(m.publishDuration); got != 1 {
		t.Errorf("publish duration series = %d, want 1", got)
	}
}

func TestMetrics_Registered(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Election(ResultFirst)
	m.InvocationReceived()

	expected := `
# HELP singleinstance_elections_total Instance elections by result
# TYPE singleinstance_elections_total counter
singleinstance_elections_total{result="first"} 1
# HELP singleinstance_invocations_received_total Argument payloads delivered to the first instance
# TYPE singleinstance_invocations_received_total counter
singleinstance_invocations_received_total 1
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"singleinstance_elections_total", "singleinstance_invocations_received_total")
	if err != nil {
		t.Errorf("GatherAndCompare() error = %v", err)
	}
}

func TestMetrics_DoubleRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)

	defer func() {
		if recover() == nil {
			t.Error("registering the same collectors twice should panic")
		}
	}()
	New(reg)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.Election(ResultFirst)
	m.InvocationReceived()
	m.DecodeFailed()
	m.Published(OutcomeError, time.Second)
}
