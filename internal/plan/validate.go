package plan

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/labrig/labrig/internal/util/retry"
)

// nameRegex constrains plan and stage ids.
var nameRegex = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// refRegex constrains catalog references like "database.install".
var refRegex = regexp.MustCompile(`^[a-z][a-z0-9-]*\.[a-z][a-z0-9-]*$`)

// Validate checks the plan structurally: ids, hosts, action and probe
// shape, dependency edges and schedulability. knownHosts are the
// configured host ids; defaults is the policy stage retry overrides
// merge with. A non-nil error means the plan must be rejected before
// any command is dispatched.
func (p *Plan) Validate(knownHosts []string, defaults retry.Policy) error {
	var errs []error

	if p.Name == "" {
		errs = append(errs, errors.New("plan name is required"))
	} else if !nameRegex.MatchString(p.Name) {
		errs = append(errs, errors.New("plan name must be DNS-safe (lowercase alphanumeric and hyphens, must start with a letter)"))
	}
	if len(p.Stages) == 0 {
		errs = append(errs, errors.New("plan has no stages"))
	}

	hosts := make(map[string]bool, len(knownHosts))
	for _, h := range knownHosts {
		hosts[h] = true
	}

	// First pass: ids, so dependency checks can name stages.
	index := make(map[string]int, len(p.Stages))
	for i, s := range p.Stages {
		if s.ID == "" {
			errs = append(errs, fmt.Errorf("stages[%d]: id is required", i))
			continue
		}
		if !nameRegex.MatchString(s.ID) {
			errs = append(errs, fmt.Errorf("stage %s: id must be DNS-safe (lowercase alphanumeric and hyphens, must start with a letter)", s.ID))
		}
		if prev, dup := index[s.ID]; dup {
			errs = append(errs, fmt.Errorf("stage %s: duplicate id (stages[%d] and stages[%d])", s.ID, prev, i))
			continue
		}
		index[s.ID] = i
	}

	for _, s := range p.Stages {
		if s.ID == "" {
			continue
		}

		if s.Host == "" {
			errs = append(errs, fmt.Errorf("stage %s: host is required", s.ID))
		} else if !hosts[s.Host] {
			errs = append(errs, fmt.Errorf("stage %s: unknown host %q", s.ID, s.Host))
		}

		switch {
		case s.Uses != "" && s.Action != nil:
			errs = append(errs, fmt.Errorf("stage %s: declare either uses or action, not both", s.ID))
		case s.Uses == "" && s.Action == nil:
			errs = append(errs, fmt.Errorf("stage %s: needs an action (uses or action.run)", s.ID))
		case s.Uses != "" && !refRegex.MatchString(s.Uses):
			errs = append(errs, fmt.Errorf("stage %s: uses must look like \"collaborator.operation\", got %q", s.ID, s.Uses))
		case s.Action != nil && s.Action.Run == "":
			errs = append(errs, fmt.Errorf("stage %s: action.run is empty", s.ID))
		}
		if len(s.With) > 0 && s.Uses == "" {
			errs = append(errs, fmt.Errorf("stage %s: with requires uses", s.ID))
		}

		errs = append(errs, validateProbe(s.ID, "pre", s.Pre)...)
		errs = append(errs, validateProbe(s.ID, "post", s.Post)...)

		if s.WarnOnly && s.Post == nil {
			errs = append(errs, fmt.Errorf("stage %s: warn_only requires a post probe", s.ID))
		}

		if err := s.RetryOr(defaults).Validate(); err != nil {
			errs = append(errs, fmt.Errorf("stage %s: retry: %w", s.ID, err))
		}

		for _, n := range s.Needs {
			if n == s.ID {
				errs = append(errs, fmt.Errorf("stage %s: depends on itself", s.ID))
				continue
			}
			ni, known := index[n]
			if !known {
				errs = append(errs, fmt.Errorf("stage %s: needs unknown stage %q", s.ID, n))
				continue
			}
			dep := p.Stages[ni]
			if dep.Host == s.Host && ni > index[s.ID] {
				errs = append(errs, fmt.Errorf("stage %s: needs %q which is declared later on the same host", s.ID, n))
			}
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	if cycle := p.findCycle(); cycle != nil {
		return fmt.Errorf("dependency cycle: %s", strings.Join(cycle, " -> "))
	}
	return nil
}

func validateProbe(stageID, which string, probe *ProbeSpec) []error {
	if probe == nil {
		return nil
	}
	var errs []error
	switch {
	case probe.Run != "" && probe.Uses != "":
		errs = append(errs, fmt.Errorf("stage %s: %s: declare either run or uses, not both", stageID, which))
	case probe.Run == "" && probe.Uses == "":
		errs = append(errs, fmt.Errorf("stage %s: %s: needs run or uses", stageID, which))
	case probe.Uses != "" && !refRegex.MatchString(probe.Uses):
		errs = append(errs, fmt.Errorf("stage %s: %s: uses must look like \"collaborator.operation\", got %q", stageID, which, probe.Uses))
	}
	if len(probe.With) > 0 && probe.Uses == "" {
		errs = append(errs, fmt.Errorf("stage %s: %s: with requires uses", stageID, which))
	}
	return errs
}

// combinedEdges returns ordering edges u -> v meaning u must finish
// before v starts: explicit needs plus the implicit chain between
// consecutive stages on the same host.
func (p *Plan) combinedEdges() map[string][]string {
	next := make(map[string][]string)
	for _, s := range p.Stages {
		for _, n := range s.Needs {
			next[n] = append(next[n], s.ID)
		}
	}
	lastOnHost := make(map[string]string)
	for _, s := range p.Stages {
		if prev, ok := lastOnHost[s.Host]; ok {
			next[prev] = append(next[prev], s.ID)
		}
		lastOnHost[s.Host] = s.ID
	}
	return next
}

// findCycle returns the ids of a dependency cycle, or nil. The in-host
// declaration chain participates: a cycle through it deadlocks the
// lanes just as surely as one through explicit needs.
func (p *Plan) findCycle() []string {
	next := p.combinedEdges()

	const (
		white = iota
		grey
		black
	)
	color := make(map[string]int, len(p.Stages))
	var stack []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = grey
		stack = append(stack, id)
		for _, nb := range next[id] {
			switch color[nb] {
			case white:
				if visit(nb) {
					return true
				}
			case grey:
				for i, v := range stack {
					if v == nb {
						cycle = append(append([]string{}, stack[i:]...), nb)
						return true
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return false
	}

	for _, s := range p.Stages {
		if color[s.ID] == white {
			if visit(s.ID) {
				return cycle
			}
		}
	}
	return nil
}

// ExecutionOrder returns stage ids in scheduling waves: every stage in
// a wave has all of its ordering predecessors, explicit needs and
// earlier stages on its host, in earlier waves. Waves list stages in
// declaration order. The plan must already have passed Validate.
func (p *Plan) ExecutionOrder() [][]string {
	next := p.combinedEdges()

	idx := make(map[string]int, len(p.Stages))
	indeg := make(map[string]int, len(p.Stages))
	for i, s := range p.Stages {
		idx[s.ID] = i
		indeg[s.ID] = 0
	}
	for _, outs := range next {
		for _, v := range outs {
			indeg[v]++
		}
	}

	var frontier []string
	for _, s := range p.Stages {
		if indeg[s.ID] == 0 {
			frontier = append(frontier, s.ID)
		}
	}

	var waves [][]string
	for len(frontier) > 0 {
		waves = append(waves, frontier)

		var nf []string
		for _, id := range frontier {
			for _, v := range next[id] {
				indeg[v]--
				if indeg[v] == 0 {
					nf = append(nf, v)
				}
			}
		}
		sort.Slice(nf, func(i, j int) bool { return idx[nf[i]] < idx[nf[j]] })
		frontier = nf
	}
	return waves
}
