package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/labrig/labrig/internal/plan"
)

// Run executes the plan and returns the sealed record. Plans are
// validated before they reach the driver, so Run reports every problem
// as a stage outcome rather than an error: unreachable hosts, failed
// actions and cancellations all land in the run record.
func (d *Driver) Run(ctx context.Context, p *plan.Plan) *plan.Run {
	run := &plan.Run{
		ID:        d.runID(),
		Lab:       d.cfg.Lab,
		Plan:      p.Name,
		StartedAt: time.Now().UTC(),
	}

	execs, broken := resolveStages(p, d.cfg.Defaults.Retry, d.cfg.Defaults.CommandTimeout.Std())

	transports := newPool(d.cfg, d.connect)
	defer transports.CloseAll()

	s := &scheduler{
		d:      d,
		run:    run,
		execs:  execs,
		broken: broken,
		state:  make(map[string]plan.State, len(p.Stages)),
		events: make(chan plan.Outcome),
		limit:  d.concurrency(),
	}
	for _, host := range p.Hosts() {
		s.lanes = append(s.lanes, &lane{host: host})
	}
	for _, st := range p.Stages {
		l := s.lane(st.Host)
		l.stages = append(l.stages, st)
	}

	for {
		sealed := s.advance()
		if ctx.Err() != nil {
			break
		}
		launched := s.launch(ctx, transports)
		if s.inFlight == 0 {
			if s.allDone() {
				break
			}
			if sealed == 0 && launched == 0 {
				// A stuck ready set with nothing in flight means a
				// dependency cycle, which validation rejects.
				break
			}
			continue
		}
		select {
		case o := <-s.events:
			s.finish(o)
		case <-ctx.Done():
		}
	}

	// On abort, in-flight stages run to their own conclusion before
	// anything is sealed, so no mutation is left mid-dispatch.
	for s.inFlight > 0 {
		s.finish(<-s.events)
	}
	if ctx.Err() != nil {
		run.Aborted = true
		s.sealRemaining("aborted before start")
	}

	run.EndedAt = time.Now().UTC()
	return run
}

// lane is one host's stage queue. stages[next] is the head; a lane is
// active while its head executes on a worker goroutine.
type lane struct {
	host   string
	stages []plan.Stage
	next   int
	active bool
}

func (l *lane) head() (plan.Stage, bool) {
	if l.active || l.next >= len(l.stages) {
		return plan.Stage{}, false
	}
	return l.stages[l.next], true
}

func (l *lane) exhausted() bool {
	return l.next >= len(l.stages)
}

// scheduler owns all run bookkeeping. Only the driver goroutine
// touches it; workers communicate through the events channel.
type scheduler struct {
	d        *Driver
	run      *plan.Run
	execs    map[string]stageExec
	broken   map[string]error
	lanes    []*lane
	state    map[string]plan.State
	events   chan plan.Outcome
	inFlight int
	limit    int
}

func (s *scheduler) lane(host string) *lane {
	for _, l := range s.lanes {
		if l.host == host {
			return l
		}
	}
	return nil
}

func (s *scheduler) allDone() bool {
	for _, l := range s.lanes {
		if !l.exhausted() {
			return false
		}
	}
	return true
}

// depState classifies a head stage's dependencies: ready to start,
// waiting for a dependency still in flight, or blocked by a dependency
// that terminated without passing.
func (s *scheduler) depState(st plan.Stage) (ready bool, blockedBy string, blockedIn plan.State) {
	ready = true
	for _, need := range st.Needs {
		term, ok := s.state[need]
		if !ok {
			ready = false
			continue
		}
		if !term.Passed() {
			return false, need, term
		}
	}
	return ready, "", ""
}

// advance seals every head that can never start: blocked by a failed
// or indeterminate dependency, or carrying an unresolvable reference.
// Sealing one head can block another, so it loops to a fixpoint.
func (s *scheduler) advance() int {
	sealed := 0
	for {
		progressed := false
		for _, l := range s.lanes {
			st, ok := l.head()
			if !ok {
				continue
			}
			if err, bad := s.broken[st.ID]; bad {
				s.sealHead(l, fmt.Sprintf("unresolvable reference: %v", err))
				sealed++
				progressed = true
				continue
			}
			if _, blockedBy, blockedIn := s.depState(st); blockedBy != "" {
				s.sealHead(l, fmt.Sprintf("blocked: dependency %s %s", blockedBy, blockedIn))
				sealed++
				progressed = true
			}
		}
		if !progressed {
			return sealed
		}
	}
}

// launch starts ready heads until the concurrency cap is reached.
func (s *scheduler) launch(ctx context.Context, transports *pool) int {
	launched := 0
	for _, l := range s.lanes {
		if s.inFlight >= s.limit {
			break
		}
		st, ok := l.head()
		if !ok {
			continue
		}
		if ready, _, _ := s.depState(st); !ready {
			continue
		}
		ex := s.execs[st.ID]
		l.active = true
		s.inFlight++
		launched++
		go func() {
			s.events <- s.d.execStage(ctx, transports, ex)
		}()
	}
	return launched
}

// finish records a worker's sealed outcome and frees its lane.
func (s *scheduler) finish(o plan.Outcome) {
	l := s.lane(o.Host)
	l.active = false
	l.next++
	s.inFlight--
	s.record(o)
}

// sealHead seals a never-started head as indeterminate and advances
// the lane past it.
func (s *scheduler) sealHead(l *lane, reason string) {
	st := l.stages[l.next]
	now := time.Now().UTC()
	s.d.emit(plan.Transition{
		Time:    now,
		Host:    st.Host,
		StageID: st.ID,
		From:    plan.StatePending,
		To:      plan.StateIndeterminate,
		Detail:  reason,
	})
	l.next++
	s.record(plan.Outcome{
		StageID:   st.ID,
		Host:      st.Host,
		State:     plan.StateIndeterminate,
		Reason:    reason,
		StartedAt: now,
		EndedAt:   now,
	})
}

// sealRemaining seals every stage still queued after an abort.
func (s *scheduler) sealRemaining(reason string) {
	for _, l := range s.lanes {
		for !l.exhausted() {
			s.sealHead(l, reason)
		}
	}
}

func (s *scheduler) record(o plan.Outcome) {
	s.state[o.StageID] = o.State
	s.run.Outcomes = append(s.run.Outcomes, o)
	s.d.emitOutcome(o)
}
