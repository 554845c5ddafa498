package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/labrig/labrig/internal/plan"
)

// StageRow is one stage's display state inside a lane.
type StageRow struct {
	ID       string
	State    plan.State
	Attempts int
	Reason   string
	Warned   bool
	Reboot   bool
}

// Lane is one host's stage column.
type Lane struct {
	Host   string
	Stages []StageRow
}

// Model is the Bubble Tea model for the run dashboard.
type Model struct {
	Lab     string
	Plan    string
	RunID   string
	Lanes   []Lane
	rowByID map[string][2]int

	StartTime    time.Time
	SpinnerFrame int

	// Aborting is set after ctrl+c: new stages stop, in-flight ones
	// finish, and the dashboard stays up until the run seals.
	Aborting bool
	Done     bool

	Width  int
	Height int

	cancel context.CancelFunc
}

// NewModel builds the dashboard for one run, with every stage pending.
// cancel is invoked when the user interrupts the run.
func NewModel(lab string, p *plan.Plan, runID string, cancel context.CancelFunc) Model {
	m := Model{
		Lab:       lab,
		Plan:      p.Name,
		RunID:     runID,
		StartTime: time.Now(),
		rowByID:   make(map[string][2]int, len(p.Stages)),
		cancel:    cancel,
	}
	for _, host := range p.Hosts() {
		m.Lanes = append(m.Lanes, Lane{Host: host})
	}
	for _, s := range p.Stages {
		for i := range m.Lanes {
			if m.Lanes[i].Host != s.Host {
				continue
			}
			m.rowByID[s.ID] = [2]int{i, len(m.Lanes[i].Stages)}
			m.Lanes[i].Stages = append(m.Lanes[i].Stages, StageRow{
				ID:    s.ID,
				State: plan.StatePending,
			})
		}
	}
	return m
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			if m.cancel != nil {
				m.cancel()
			}
			m.Aborting = true
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case TransitionMsg:
		t := msg.Transition
		if row, ok := m.rowByID[t.StageID]; ok {
			r := &m.Lanes[row[0]].Stages[row[1]]
			r.State = t.To
			if t.Attempt > 0 {
				r.Attempts = t.Attempt
			}
		}
		return m, nil

	case OutcomeMsg:
		o := msg.Outcome
		if row, ok := m.rowByID[o.StageID]; ok {
			r := &m.Lanes[row[0]].Stages[row[1]]
			r.State = o.State
			r.Attempts = o.Attempts
			r.Reason = o.Reason
			r.Warned = o.Warned
			r.Reboot = o.RebootRequired
		}
		return m, nil

	case TickMsg:
		m.SpinnerFrame++
		return m, tickCmd()

	case DoneMsg:
		m.Done = true
		return m, tea.Quit
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	return renderView(m)
}

func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(time.Time) tea.Msg {
		return TickMsg{}
	})
}
