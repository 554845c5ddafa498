package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/labrig/labrig/internal/plan"
)

func renderView(m Model) string {
	var b strings.Builder

	renderHeader(&b, m)
	for _, lane := range m.Lanes {
		renderLane(&b, m, lane)
	}
	renderFooter(&b, m)

	return b.String()
}

func renderHeader(b *strings.Builder, m Model) {
	title := fmt.Sprintf("labrig: %s", m.Plan)
	if m.Lab != "" {
		title += fmt.Sprintf(" (%s)", m.Lab)
	}
	b.WriteString(titleStyle.Render(title))

	switch {
	case m.Aborting:
		b.WriteString(" " + warningStyle.Render("aborting, letting in-flight stages finish"))
	case m.Done:
		b.WriteString(" " + doneStyle.Render("done"))
	}
	b.WriteString("\n")
	b.WriteString(dimStyle.Render(strings.Repeat("─", 50)))
	b.WriteString("\n")
}

func renderLane(b *strings.Builder, m Model, lane Lane) {
	b.WriteString(hostStyle.Render(lane.Host))
	b.WriteString("\n")

	for _, row := range lane.Stages {
		mark, style := rowLook(m, row)
		line := fmt.Sprintf("  %s %s", mark, row.ID)
		if row.Attempts > 1 {
			line += fmt.Sprintf(" (attempt %d)", row.Attempts)
		}
		if row.Reboot {
			line += " (reboot required)"
		}
		b.WriteString(style(line))
		b.WriteString("\n")
		if row.Reason != "" && row.State != plan.StateSucceeded && row.State != plan.StateSkipped {
			b.WriteString(dimStyle.Render("       " + row.Reason))
			b.WriteString("\n")
		}
	}
}

func rowLook(m Model, row StageRow) (string, styleFunc) {
	switch row.State {
	case plan.StateSucceeded:
		return checkMark, doneStyle.Render
	case plan.StateSkipped:
		return skipMark, dimStyle.Render
	case plan.StateFailed:
		return crossMark, failedStyle.Render
	case plan.StateIndeterminate:
		return warnMark, warningStyle.Render
	case plan.StatePending:
		return pending, dimStyle.Render
	default:
		return currentSpinner(m.SpinnerFrame), activeStyle.Render
	}
}

// styleFunc is a single-string styling function, so rowLook can return
// a lipgloss style's Render directly.
type styleFunc func(...string) string

func renderFooter(b *strings.Builder, m Model) {
	elapsed := time.Since(m.StartTime).Round(time.Second)
	footer := fmt.Sprintf("run %.8s  elapsed %s  q/ctrl+c to abort", m.RunID, elapsed)
	b.WriteString(footerStyle.Render(footer))
	b.WriteString("\n")
}
