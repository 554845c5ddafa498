// Package plan defines provisioning plans: per-host stage sequences
// with preconditions, actions, postconditions and explicit cross-host
// ordering, plus the sealed record of one execution.
package plan

import (
	"time"

	"github.com/labrig/labrig/internal/util/retry"
	"github.com/labrig/labrig/internal/util/yamltime"
)

// Plan is an ordered list of stages partitioned by host. Stages on the
// same host run strictly in declaration order; across hosts only the
// explicit needs edges order execution.
type Plan struct {
	// Name identifies the plan. Must be DNS-safe.
	Name string `yaml:"plan"`

	// Description is shown in listings and run summaries.
	Description string `yaml:"description,omitempty"`

	// Stages in declaration order.
	Stages []Stage `yaml:"stages"`
}

// Stage is the unit of orchestration: an optional precondition, one
// action, an optional postcondition, a retry policy and a target host.
type Stage struct {
	// ID is unique within the plan. Must be DNS-safe.
	ID string `yaml:"id"`

	// Host is the id of the configured host this stage runs on.
	Host string `yaml:"host"`

	// Description is shown in logs and summaries.
	Description string `yaml:"description,omitempty"`

	// Needs lists stage ids that must pass before this stage starts.
	// May point at stages on other hosts.
	Needs []string `yaml:"needs,omitempty"`

	// Uses references a catalog action such as "database.install".
	// Exactly one of Uses or Action must be set.
	Uses string `yaml:"uses,omitempty"`

	// With passes parameters to the catalog action.
	With map[string]string `yaml:"with,omitempty"`

	// Action is an inline shell action. Success is exit 0.
	Action *CommandSpec `yaml:"action,omitempty"`

	// Pre is the precondition probe. When it reports satisfied the
	// action is skipped.
	Pre *ProbeSpec `yaml:"pre,omitempty"`

	// Post is the postcondition probe confirming the action took
	// effect. May be the same probe as Pre.
	Post *ProbeSpec `yaml:"post,omitempty"`

	// Retry overrides the default backoff policy. Unset fields
	// inherit from the defaults.
	Retry *retry.Policy `yaml:"retry,omitempty"`

	// Timeout bounds each action or probe command. Zero inherits the
	// configured default.
	Timeout yamltime.Duration `yaml:"timeout,omitempty"`

	// WarnOnly downgrades a postcondition mismatch from failure to a
	// warning, for actions known to converge slowly.
	WarnOnly bool `yaml:"warn_only,omitempty"`
}

// CommandSpec is an inline shell action.
type CommandSpec struct {
	Run string `yaml:"run"`
}

// ProbeSpec is a read-only remote check. Exactly one of Run or Uses
// must be set.
type ProbeSpec struct {
	// Run is an inline probe command: exit 0 means satisfied, any
	// other exit means unsatisfied.
	Run string `yaml:"run,omitempty"`

	// Uses references a catalog probe such as "directory.replicated".
	Uses string `yaml:"uses,omitempty"`

	// With passes parameters to the catalog probe.
	With map[string]string `yaml:"with,omitempty"`

	// Retryable wraps the probe in the stage's retry policy, for
	// target state that is eventually consistent.
	Retryable bool `yaml:"retryable,omitempty"`
}

// RetryOr returns the stage's retry policy merged over the default:
// unset fields inherit.
func (s *Stage) RetryOr(def retry.Policy) retry.Policy {
	if s.Retry == nil {
		return def
	}
	p := *s.Retry
	if p.MaxAttempts == 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialDelay == 0 {
		p.InitialDelay = def.InitialDelay
	}
	if p.Multiplier == 0 {
		p.Multiplier = def.Multiplier
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = def.MaxDelay
	}
	return p
}

// TimeoutOr returns the stage's command timeout, or def when unset.
func (s *Stage) TimeoutOr(def time.Duration) time.Duration {
	if s.Timeout == 0 {
		return def
	}
	return s.Timeout.Std()
}

// StagesByHost groups stages by host, preserving declaration order
// within each host.
func (p *Plan) StagesByHost() map[string][]Stage {
	lanes := make(map[string][]Stage)
	for _, s := range p.Stages {
		lanes[s.Host] = append(lanes[s.Host], s)
	}
	return lanes
}

// StageByID returns the stage with the given id.
func (p *Plan) StageByID(id string) (*Stage, bool) {
	for i := range p.Stages {
		if p.Stages[i].ID == id {
			return &p.Stages[i], true
		}
	}
	return nil, false
}

// Hosts returns the distinct hosts in declaration order.
func (p *Plan) Hosts() []string {
	seen := make(map[string]bool)
	var hosts []string
	for _, s := range p.Stages {
		if !seen[s.Host] {
			seen[s.Host] = true
			hosts = append(hosts, s.Host)
		}
	}
	return hosts
}

// FilterHosts returns a copy of the plan keeping only stages on the
// given hosts. Needs edges into dropped stages are pruned; the second
// return is how many were pruned, so callers can warn that the
// narrowed plan assumes those stages already hold.
func (p *Plan) FilterHosts(keep []string) (*Plan, int) {
	keepHost := make(map[string]bool, len(keep))
	for _, h := range keep {
		keepHost[h] = true
	}

	kept := make(map[string]bool)
	for _, s := range p.Stages {
		if keepHost[s.Host] {
			kept[s.ID] = true
		}
	}

	filtered := &Plan{Name: p.Name, Description: p.Description}
	pruned := 0
	for _, s := range p.Stages {
		if !keepHost[s.Host] {
			continue
		}
		var needs []string
		for _, n := range s.Needs {
			if kept[n] {
				needs = append(needs, n)
			} else {
				pruned++
			}
		}
		s.Needs = needs
		filtered.Stages = append(filtered.Stages, s)
	}
	return filtered, pruned
}
