package report

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/labrig/labrig/internal/plan"
)

func summaryRun() *plan.Run {
	start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	return &plan.Run{
		ID:        "a1b2c3d4-e5f6",
		Plan:      "provision",
		StartedAt: start,
		EndedAt:   start.Add(95 * time.Second),
		Outcomes: []plan.Outcome{
			{StageID: "promote", Host: "dc1", State: plan.StateSucceeded},
			{StageID: "dns", Host: "dc1", State: plan.StateSkipped},
			{StageID: "install-db", Host: "db1", State: plan.StateFailed, Reason: "exhausted 3 attempts: exit 100", Output: "E: Could not get lock /var/lib/dpkg/lock"},
			{StageID: "create-db", Host: "db1", State: plan.StateIndeterminate, Reason: "blocked: dependency install-db failed"},
			{StageID: "replicate", Host: "dc1", State: plan.StateIndeterminate, Warned: true, Reason: "postcondition mismatch (warn only)"},
		},
	}
}

func TestSummary(t *testing.T) {
	t.Run("contains expected sections", func(t *testing.T) {
		out := Summary(summaryRun())

		assert.Contains(t, out, "labrig run a1b2c3d4: plan provision")
		assert.Contains(t, out, "1 succeeded")
		assert.Contains(t, out, "1 skipped")
		assert.Contains(t, out, "1 failed")
		assert.Contains(t, out, "1 blocked")
		assert.Contains(t, out, "1 warned")
		assert.Contains(t, out, "db1/install-db")
		assert.Contains(t, out, "exhausted 3 attempts")
		assert.Contains(t, out, "Could not get lock")
		assert.Contains(t, out, "db1/create-db")
		assert.Contains(t, out, "blocked: dependency install-db failed")
		assert.Contains(t, out, "partial failure (exit 1)")
	})

	t.Run("clean run", func(t *testing.T) {
		run := &plan.Run{
			ID:   "run-1",
			Plan: "provision",
			Outcomes: []plan.Outcome{
				{StageID: "a", Host: "dc1", State: plan.StateSucceeded},
				{StageID: "b", Host: "dc1", State: plan.StateSkipped},
			},
		}
		out := Summary(run)

		assert.Contains(t, out, "1 succeeded")
		assert.Contains(t, out, "all stages passed (exit 0)")
		assert.NotContains(t, out, "failed")
		assert.NotContains(t, out, "blocked")
	})

	t.Run("warned-only run still passes", func(t *testing.T) {
		run := &plan.Run{
			ID:   "run-2",
			Plan: "provision",
			Outcomes: []plan.Outcome{
				{StageID: "a", Host: "dc1", State: plan.StateSucceeded},
				{StageID: "b", Host: "dc1", State: plan.StateIndeterminate, Warned: true, Reason: "postcondition mismatch (warn only)"},
			},
		}
		out := Summary(run)

		assert.Contains(t, out, "1 warned")
		assert.Contains(t, out, "all stages passed (exit 0)")
	})

	t.Run("aborted run", func(t *testing.T) {
		run := &plan.Run{
			ID:      "run-3",
			Plan:    "provision",
			Aborted: true,
			Outcomes: []plan.Outcome{
				{StageID: "a", Host: "dc1", State: plan.StateSucceeded},
				{StageID: "b", Host: "dc1", State: plan.StateIndeterminate, Reason: "aborted before start"},
			},
		}
		out := Summary(run)

		assert.Contains(t, out, "run aborted (exit 3)")
		assert.Contains(t, out, "aborted before start")
	})
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.Transition(plan.Transition{Host: "dc1", To: plan.StateExecuting})
	m.Transition(plan.Transition{Host: "dc1", To: plan.StateSucceeded})
	m.Outcome(plan.Outcome{
		Host:      "dc1",
		State:     plan.StateSucceeded,
		StartedAt: time.Now().Add(-2 * time.Second),
		EndedAt:   time.Now(),
	})
	m.RecordRun(&plan.Run{Outcomes: []plan.Outcome{{State: plan.StateSucceeded}}})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitionsTotal.WithLabelValues("dc1", "executing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.stageOutcomes.WithLabelValues("dc1", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsTotal.WithLabelValues("all_succeeded")))
}
