// Package actions is the collaborator catalog: the concrete commands
// and exit-code conventions behind plan references such as
// "database.install", plus inline shell actions declared in plans.
//
// The orchestrator never interprets an exit code itself. Each catalog
// action carries its collaborator's classification function, so a new
// collaborator means a new catalog entry, never a new branch in the
// driver.
package actions

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/labrig/labrig/internal/plan"
)

// Classification is what a finished command's exit code means to the
// collaborator that produced it.
type Classification int

const (
	// Succeeded means the action took effect.
	Succeeded Classification = iota

	// SucceededRebootRequired means the action took effect but the
	// host wants a reboot before the change is fully live. Recorded as
	// success with an annotation; any wait is the plan author's call.
	SucceededRebootRequired

	// RetryableFailure means the failure is expected to clear on its
	// own: a lock held by another installer, state not yet converged.
	RetryableFailure

	// FatalFailure means retrying cannot help: bad credentials,
	// missing package, rejected parameters.
	FatalFailure
)

// Success reports whether the classification counts as the action
// having taken effect.
func (c Classification) Success() bool {
	return c == Succeeded || c == SucceededRebootRequired
}

// String returns the log form.
func (c Classification) String() string {
	switch c {
	case Succeeded:
		return "succeeded"
	case SucceededRebootRequired:
		return "succeeded (reboot required)"
	case RetryableFailure:
		return "retryable failure"
	case FatalFailure:
		return "fatal failure"
	default:
		return fmt.Sprintf("classification(%d)", int(c))
	}
}

// Action is a resolved, dispatchable collaborator operation.
type Action struct {
	// Ref is the catalog reference, or "shell" for inline actions.
	Ref string

	// Line is the remote command line.
	Line string

	// Classify maps the exit code of a finished dispatch to what it
	// means for this collaborator.
	Classify func(exitCode int) Classification
}

// Probe is a resolved read-only check. Probes are uniform across
// collaborators: exit 0 satisfied, non-zero unsatisfied, transport
// failure indeterminate.
type Probe struct {
	// Ref is the catalog reference, or "shell" for inline probes.
	Ref string

	// Line is the remote command line.
	Line string
}

// Params are the key/value arguments a plan passes to a catalog entry.
type Params map[string]string

// classifyDefault is the convention for collaborators without their
// own: exit 0 succeeded, anything else fatal.
func classifyDefault(code int) Classification {
	if code == 0 {
		return Succeeded
	}
	return FatalFailure
}

// ResolveAction maps a stage's action declaration to a dispatchable
// command. Inline shell actions classify exit 0 as success and
// anything else as fatal.
func ResolveAction(s plan.Stage) (Action, error) {
	if s.Action != nil {
		return Action{Ref: "shell", Line: s.Action.Run, Classify: classifyDefault}, nil
	}

	entry, ok := actionCatalog[s.Uses]
	if !ok {
		return Action{}, fmt.Errorf("unknown action %q (known: %s)", s.Uses, knownActions())
	}
	params, err := resolveParams(s.With, entry.required, entry.optional)
	if err != nil {
		return Action{}, fmt.Errorf("action %s: %w", s.Uses, err)
	}

	classify := entry.classify
	if classify == nil {
		classify = classifyDefault
	}
	return Action{Ref: s.Uses, Line: entry.build(params), Classify: classify}, nil
}

// ResolveProbe maps a probe spec to its command line.
func ResolveProbe(spec plan.ProbeSpec) (Probe, error) {
	if spec.Run != "" {
		return Probe{Ref: "shell", Line: spec.Run}, nil
	}

	entry, ok := probeCatalog[spec.Uses]
	if !ok {
		return Probe{}, fmt.Errorf("unknown probe %q (known: %s)", spec.Uses, knownProbes())
	}
	params, err := resolveParams(spec.With, entry.required, entry.optional)
	if err != nil {
		return Probe{}, fmt.Errorf("probe %s: %w", spec.Uses, err)
	}
	return Probe{Ref: spec.Uses, Line: entry.build(params)}, nil
}

// ValidatePlan resolves every catalog reference in the plan, so broken
// references are rejected before any command is dispatched.
func ValidatePlan(p *plan.Plan) error {
	var errs []error
	for i := range p.Stages {
		s := p.Stages[i]
		if _, err := ResolveAction(s); err != nil {
			errs = append(errs, fmt.Errorf("stage %s: %w", s.ID, err))
		}
		if s.Pre != nil {
			if _, err := ResolveProbe(*s.Pre); err != nil {
				errs = append(errs, fmt.Errorf("stage %s: pre: %w", s.ID, err))
			}
		}
		if s.Post != nil {
			if _, err := ResolveProbe(*s.Post); err != nil {
				errs = append(errs, fmt.Errorf("stage %s: post: %w", s.ID, err))
			}
		}
	}
	return errors.Join(errs...)
}

// resolveParams overlays the plan's with block on the entry's optional
// defaults, then checks required keys are present and no unknown keys
// slipped in.
func resolveParams(with map[string]string, required []string, optional map[string]string) (Params, error) {
	params := make(Params, len(with)+len(optional))
	for k, v := range optional {
		params[k] = v
	}

	allowed := make(map[string]bool, len(required)+len(optional))
	for _, k := range required {
		allowed[k] = true
	}
	for k := range optional {
		allowed[k] = true
	}

	for k, v := range with {
		if !allowed[k] {
			return nil, fmt.Errorf("unknown parameter %q", k)
		}
		params[k] = v
	}

	for _, k := range required {
		if params[k] == "" {
			return nil, fmt.Errorf("missing required parameter %q", k)
		}
	}
	return params, nil
}

// shQuote wraps s in single quotes for POSIX shells, escaping embedded
// quotes. Windows-bound builders (msiexec, sc) quote their own way.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func knownActions() string {
	refs := make([]string, 0, len(actionCatalog))
	for ref := range actionCatalog {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return strings.Join(refs, ", ")
}

func knownProbes() string {
	refs := make([]string, 0, len(probeCatalog))
	for ref := range probeCatalog {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return strings.Join(refs, ", ")
}
