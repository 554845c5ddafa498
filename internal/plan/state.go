package plan

// State is a stage's position in its execution state machine.
type State string

const (
	// StatePending means dependencies are not yet cleared.
	StatePending State = "pending"

	// StateCheckingPrecondition means the precondition probe is running.
	StateCheckingPrecondition State = "checking_precondition"

	// StateSkipped means the precondition was already satisfied and
	// the action never ran. Terminal.
	StateSkipped State = "skipped"

	// StateExecuting means the action is being dispatched.
	StateExecuting State = "executing"

	// StateCheckingPostcondition means the action finished and its
	// effect is being confirmed.
	StateCheckingPostcondition State = "checking_postcondition"

	// StateSucceeded means the action took effect. Terminal.
	StateSucceeded State = "succeeded"

	// StateFailed means the action failed, retries exhausted, or the
	// postcondition did not hold. Terminal.
	StateFailed State = "failed"

	// StateIndeterminate means the true state is unknown: blocked by
	// a failed dependency, aborted, or downgraded to a warning.
	// Terminal.
	StateIndeterminate State = "indeterminate"
)

// validNext encodes the stage state machine. Stages without a
// precondition go straight from pending to executing.
var validNext = map[State][]State{
	StatePending:               {StateCheckingPrecondition, StateExecuting, StateIndeterminate},
	StateCheckingPrecondition:  {StateSkipped, StateExecuting, StateFailed, StateIndeterminate},
	StateExecuting:             {StateCheckingPostcondition, StateSucceeded, StateFailed, StateIndeterminate},
	StateCheckingPostcondition: {StateSucceeded, StateFailed, StateIndeterminate},
}

// IsValid returns true if the state is known.
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateCheckingPrecondition, StateSkipped, StateExecuting,
		StateCheckingPostcondition, StateSucceeded, StateFailed, StateIndeterminate:
		return true
	default:
		return false
	}
}

// Terminal returns true once a stage can no longer change state.
func (s State) Terminal() bool {
	switch s {
	case StateSkipped, StateSucceeded, StateFailed, StateIndeterminate:
		return true
	default:
		return false
	}
}

// Passed returns true if the stage's goal holds, which is what clears
// its dependents: either the action succeeded or it was never needed.
func (s State) Passed() bool {
	return s == StateSucceeded || s == StateSkipped
}

// CanAdvanceTo reports whether the machine permits moving to next.
func (s State) CanAdvanceTo(next State) bool {
	for _, n := range validNext[s] {
		if n == next {
			return true
		}
	}
	return false
}
