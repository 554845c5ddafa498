package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/labrig/labrig/internal/plan"
)

// Reporter forwards driver events into the dashboard. It satisfies the
// engine's Reporter interface, so it tees alongside the log reporter.
type Reporter struct {
	p *tea.Program
}

// Transition forwards a stage state transition.
func (r Reporter) Transition(t plan.Transition) {
	r.p.Send(TransitionMsg{Transition: t})
}

// Outcome forwards a sealed stage outcome.
func (r Reporter) Outcome(o plan.Outcome) {
	r.p.Send(OutcomeMsg{Outcome: o})
}

// Run wraps a plan execution with the live dashboard. runFn executes
// the plan with the given reporter and returns once the run is sealed;
// it runs on a background goroutine while the dashboard owns the
// terminal. An interrupt cancels via the model's cancel function and
// the dashboard stays up until the driver finishes sealing.
func Run(cancel context.CancelFunc, lab string, pl *plan.Plan, runID string, runFn func(Reporter)) error {
	m := NewModel(lab, pl, runID, cancel)
	p := tea.NewProgram(m, tea.WithAltScreen())

	go func() {
		runFn(Reporter{p: p})
		p.Send(DoneMsg{})
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard failed: %w", err)
	}
	return nil
}
