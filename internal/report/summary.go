package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/labrig/labrig/internal/plan"
)

// Colors matching internal/ui/tui/styles.go palette.
var (
	sumColorGreen  = lipgloss.Color("#22c55e")
	sumColorRed    = lipgloss.Color("#ef4444")
	sumColorYellow = lipgloss.Color("#eab308")
	sumColorDim    = lipgloss.Color("#6b7280")
	sumColorWhite  = lipgloss.Color("#f9fafb")
)

var (
	sumTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(sumColorWhite)

	sumDimStyle = lipgloss.NewStyle().
			Foreground(sumColorDim)

	sumGreenStyle = lipgloss.NewStyle().
			Foreground(sumColorGreen)

	sumRedStyle = lipgloss.NewStyle().
			Foreground(sumColorRed)

	sumYellowStyle = lipgloss.NewStyle().
			Foreground(sumColorYellow)
)

// Summary renders the final run report: the partition of stages into
// succeeded, skipped, failed, blocked and warned, the diagnostics of
// everything that did not pass, and the overall verdict.
func Summary(run *plan.Run) string {
	var b strings.Builder
	c := run.Counts()

	b.WriteString("\n")
	b.WriteString(sumTitleStyle.Render(fmt.Sprintf("  labrig run %s: plan %s", shortID(run.ID), run.Plan)))
	b.WriteString("\n")
	b.WriteString(sumDimStyle.Render("  " + strings.Repeat("═", 40)))
	b.WriteString("\n\n")

	b.WriteString("  ")
	b.WriteString(sumGreenStyle.Render(fmt.Sprintf("%d succeeded", c.Succeeded)))
	b.WriteString(sumDimStyle.Render(fmt.Sprintf("   %d skipped", c.Skipped)))
	if c.Failed > 0 {
		b.WriteString(sumRedStyle.Render(fmt.Sprintf("   %d failed", c.Failed)))
	}
	if c.Blocked > 0 {
		b.WriteString(sumYellowStyle.Render(fmt.Sprintf("   %d blocked", c.Blocked)))
	}
	if c.Warned > 0 {
		b.WriteString(sumYellowStyle.Render(fmt.Sprintf("   %d warned", c.Warned)))
	}
	b.WriteString("\n")

	renderProblemSection(&b, "Failed", run, func(o plan.Outcome) bool {
		return o.State == plan.StateFailed
	})
	renderProblemSection(&b, "Blocked", run, func(o plan.Outcome) bool {
		return o.State == plan.StateIndeterminate && !o.Warned
	})
	renderProblemSection(&b, "Warned", run, func(o plan.Outcome) bool {
		return o.Warned
	})

	b.WriteString("\n")
	verdict := fmt.Sprintf("  %s (exit %d) in %s", statusText(run.Status()), run.ExitCode(), run.Duration().Round(durationUnit(run)))
	switch run.Status() {
	case plan.StatusAllSucceeded:
		b.WriteString(sumGreenStyle.Render(verdict))
	case plan.StatusAborted:
		b.WriteString(sumYellowStyle.Render(verdict))
	default:
		b.WriteString(sumRedStyle.Render(verdict))
	}
	b.WriteString("\n")

	return b.String()
}

// renderProblemSection lists every outcome matching the filter with its
// reason and captured diagnostics.
func renderProblemSection(b *strings.Builder, title string, run *plan.Run, match func(plan.Outcome) bool) {
	var list []plan.Outcome
	for _, o := range run.Outcomes {
		if match(o) {
			list = append(list, o)
		}
	}
	if len(list) == 0 {
		return
	}

	b.WriteString("\n")
	b.WriteString(sumDimStyle.Render("  " + strings.Repeat("─", 40)))
	b.WriteString("\n")
	for _, o := range list {
		style := sumRedStyle
		if title != "Failed" {
			style = sumYellowStyle
		}
		b.WriteString(style.Render(fmt.Sprintf("  %s  %s/%s", strings.ToLower(title), o.Host, o.StageID)))
		if o.Reason != "" {
			b.WriteString(sumDimStyle.Render("  " + o.Reason))
		}
		b.WriteString("\n")
		if o.Output != "" {
			for _, line := range strings.Split(o.Output, "\n") {
				b.WriteString(sumDimStyle.Render("    " + line))
				b.WriteString("\n")
			}
		}
	}
}

func statusText(s plan.RunStatus) string {
	switch s {
	case plan.StatusAllSucceeded:
		return "all stages passed"
	case plan.StatusAborted:
		return "run aborted"
	default:
		return "partial failure"
	}
}

// durationUnit picks a rounding that keeps short runs readable.
func durationUnit(run *plan.Run) time.Duration {
	if run.Duration() < time.Minute {
		return time.Millisecond
	}
	return time.Second
}
