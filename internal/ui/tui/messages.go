// Package tui provides a Bubble Tea dashboard showing a run's host
// lanes live while the driver works.
package tui

import "github.com/labrig/labrig/internal/plan"

// TransitionMsg carries a stage state transition from the driver.
type TransitionMsg struct {
	Transition plan.Transition
}

// OutcomeMsg carries a sealed stage outcome from the driver.
type OutcomeMsg struct {
	Outcome plan.Outcome
}

// TickMsg is sent periodically to refresh the spinner and clock.
type TickMsg struct{}

// DoneMsg signals that the run is sealed and the dashboard may close.
type DoneMsg struct{}
