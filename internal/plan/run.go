package plan

import "time"

// Outcome is a stage's sealed terminal record. Immutable once
// recorded.
type Outcome struct {
	StageID string `json:"stage"`
	Host    string `json:"host"`
	State   State  `json:"state"`

	// Attempts is how many times the action ran. Greater than 1 means
	// the stage succeeded or failed only after retries.
	Attempts int `json:"attempts,omitempty"`

	// Reason says why the stage ended in a non-passed state: the
	// failure classification, the blocking dependency, or the abort.
	Reason string `json:"reason,omitempty"`

	// Output is the tail of the last captured remote diagnostics.
	// Always populated for failures.
	Output string `json:"output,omitempty"`

	// Warned marks a postcondition mismatch downgraded per stage
	// configuration. Warned outcomes do not fail the run.
	Warned bool `json:"warned,omitempty"`

	// RebootRequired marks an action that succeeded but left the host
	// needing a reboot. Plans express any wait as an explicit probe
	// stage; nothing is inferred.
	RebootRequired bool `json:"reboot_required,omitempty"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Transition is one structured log record: a stage moving between
// states at a point in time.
type Transition struct {
	Time    time.Time `json:"ts"`
	Host    string    `json:"host"`
	StageID string    `json:"stage"`
	From    State     `json:"from"`
	To      State     `json:"to"`

	// Attempt is the 1-indexed attempt during retries, zero outside
	// the retry loop.
	Attempt int `json:"attempt,omitempty"`

	// Detail carries the probe verdict, failure reason or diagnostic
	// tail for this transition.
	Detail string `json:"detail,omitempty"`
}

// RunStatus is the overall verdict of a run.
type RunStatus string

const (
	// StatusAllSucceeded means every stage passed or only warned.
	StatusAllSucceeded RunStatus = "all_succeeded"

	// StatusPartialFailure means at least one stage failed or was
	// blocked; unaffected lanes still completed.
	StatusPartialFailure RunStatus = "partial_failure"

	// StatusAborted means the run was cancelled before completion.
	StatusAborted RunStatus = "aborted"
)

// Run is one execution of a plan. Outcomes are in completion order,
// not declaration order, since hosts proceed concurrently. A Run is
// sealed when the driver exits and never modified afterwards.
type Run struct {
	ID        string    `json:"id"`
	Lab       string    `json:"lab,omitempty"`
	Plan      string    `json:"plan"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Aborted   bool      `json:"aborted,omitempty"`
	Outcomes  []Outcome `json:"outcomes"`
}

// Counts partitions a run's stages for the final summary.
type Counts struct {
	Succeeded int
	Skipped   int
	Failed    int
	Blocked   int
	Warned    int
}

// Counts tallies terminal states. Warned outcomes count under Warned,
// not Blocked, even though both are indeterminate.
func (r *Run) Counts() Counts {
	var c Counts
	for _, o := range r.Outcomes {
		switch {
		case o.State == StateSucceeded:
			c.Succeeded++
		case o.State == StateSkipped:
			c.Skipped++
		case o.State == StateFailed:
			c.Failed++
		case o.Warned:
			c.Warned++
		default:
			c.Blocked++
		}
	}
	return c
}

// Status derives the overall verdict.
func (r *Run) Status() RunStatus {
	if r.Aborted {
		return StatusAborted
	}
	c := r.Counts()
	if c.Failed > 0 || c.Blocked > 0 {
		return StatusPartialFailure
	}
	return StatusAllSucceeded
}

// ExitCode maps the verdict to the process exit code: 0 all passed,
// 1 partial failure, 3 aborted. Plan validation errors exit 2 before
// a Run ever exists.
func (r *Run) ExitCode() int {
	switch r.Status() {
	case StatusAborted:
		return 3
	case StatusPartialFailure:
		return 1
	default:
		return 0
	}
}

// OutcomeFor returns the outcome recorded for a stage.
func (r *Run) OutcomeFor(stageID string) (Outcome, bool) {
	for _, o := range r.Outcomes {
		if o.StageID == stageID {
			return o, true
		}
	}
	return Outcome{}, false
}

// Duration is the wall-clock length of the run.
func (r *Run) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}
