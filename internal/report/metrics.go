package report

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/labrig/labrig/internal/plan"
)

// Metrics exposes run progress as prometheus series, served by the
// status endpoint while a run is in flight.
type Metrics struct {
	transitionsTotal *prometheus.CounterVec
	stageOutcomes    *prometheus.CounterVec
	stageDuration    *prometheus.HistogramVec
	runsTotal        *prometheus.CounterVec
}

// NewMetrics builds the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "labrig",
				Subsystem: "run",
				Name:      "transitions_total",
				Help:      "Total number of stage state transitions by host and target state",
			},
			[]string{"host", "to"},
		),
		stageOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "labrig",
				Subsystem: "run",
				Name:      "stage_outcomes_total",
				Help:      "Total number of sealed stages by host and terminal state",
			},
			[]string{"host", "state"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "labrig",
				Subsystem: "run",
				Name:      "stage_duration_seconds",
				Help:      "Wall-clock duration of sealed stages in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 100ms to ~3.4min
			},
			[]string{"host"},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "labrig",
				Subsystem: "run",
				Name:      "runs_total",
				Help:      "Total number of completed runs by status",
			},
			[]string{"status"},
		),
	}
	reg.MustRegister(m.transitionsTotal, m.stageOutcomes, m.stageDuration, m.runsTotal)
	return m
}

// Transition counts a state transition.
func (m *Metrics) Transition(t plan.Transition) {
	m.transitionsTotal.WithLabelValues(t.Host, string(t.To)).Inc()
}

// Outcome counts a sealed stage and observes its duration.
func (m *Metrics) Outcome(o plan.Outcome) {
	m.stageOutcomes.WithLabelValues(o.Host, string(o.State)).Inc()
	m.stageDuration.WithLabelValues(o.Host).Observe(o.EndedAt.Sub(o.StartedAt).Seconds())
}

// RecordRun counts a completed run. Called once the driver returns.
func (m *Metrics) RecordRun(r *plan.Run) {
	m.runsTotal.WithLabelValues(string(r.Status())).Inc()
}
