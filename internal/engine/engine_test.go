package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/labrig/labrig/internal/config"
	"github.com/labrig/labrig/internal/dispatch"
	"github.com/labrig/labrig/internal/plan"
	"github.com/labrig/labrig/internal/util/retry"
	"github.com/labrig/labrig/internal/util/yamltime"
)

// labSim is a scripted lab: it hands the driver one fake transport per
// host and records every dispatch, per-host overlap and the in-flight
// high-water mark.
type labSim struct {
	mu      sync.Mutex
	script  func(host, line string, nth int) (dispatch.Result, error)
	delay   time.Duration
	seen    map[string]int
	order   []string
	running map[string]int
	total   int
	peak    int
	overlap bool
}

func newLabSim(script func(host, line string, nth int) (dispatch.Result, error)) *labSim {
	return &labSim{
		script:  script,
		seen:    make(map[string]int),
		running: make(map[string]int),
	}
}

func (s *labSim) connect(h config.Host) (dispatch.Transport, error) {
	return &simTransport{host: h.ID, sim: s}, nil
}

func (s *labSim) dispatched(host, line string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seen[host+"|"+line]
}

type simTransport struct {
	host string
	sim  *labSim
}

func (t *simTransport) Run(_ context.Context, cmd dispatch.Command) (dispatch.Result, error) {
	s := t.sim
	s.mu.Lock()
	if s.running[t.host] > 0 {
		s.overlap = true
	}
	s.running[t.host]++
	s.total++
	if s.total > s.peak {
		s.peak = s.total
	}
	key := t.host + "|" + cmd.Line
	nth := s.seen[key]
	s.seen[key]++
	s.order = append(s.order, t.host+":"+cmd.Line)
	delay := s.delay
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	res, err := s.script(t.host, cmd.Line, nth)

	s.mu.Lock()
	s.running[t.host]--
	s.total--
	s.mu.Unlock()
	return res, err
}

func (t *simTransport) Close() error { return nil }

// recordingReporter keeps everything the driver emits.
type recordingReporter struct {
	mu          sync.Mutex
	transitions []plan.Transition
	outcomes    []plan.Outcome
}

func (r *recordingReporter) Transition(t plan.Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

func (r *recordingReporter) Outcome(o plan.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *recordingReporter) statesFor(stageID string) []plan.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	var states []plan.State
	for _, t := range r.transitions {
		if t.StageID == stageID {
			states = append(states, t.To)
		}
	}
	return states
}

func testConfig() *config.Config {
	return &config.Config{
		Lab: "testlab",
		Defaults: config.Defaults{
			Concurrency:    4,
			CommandTimeout: yamltime.Duration(5 * time.Second),
			Retry:          retry.Policy{MaxAttempts: 3, InitialDelay: 0, Multiplier: 1},
		},
		Hosts: []config.Host{
			{ID: "dc1", Transport: config.TransportLocal},
			{ID: "db1", Transport: config.TransportLocal},
			{ID: "ws1", Transport: config.TransportLocal},
		},
	}
}

func shellStage(id, host, line string) plan.Stage {
	return plan.Stage{ID: id, Host: host, Action: &plan.CommandSpec{Run: line}}
}

func exit(code int) (dispatch.Result, error) {
	return dispatch.Result{ExitCode: code}, nil
}

func runPlan(t *testing.T, p *plan.Plan, sim *labSim, opts Options) (*plan.Run, *recordingReporter) {
	t.Helper()
	rep := &recordingReporter{}
	opts.Reporter = rep
	opts.Connect = sim.connect
	run := New(testConfig(), opts).Run(context.Background(), p)
	require.NotNil(t, run)
	return run, rep
}

func TestRun_SecondRunSkipsEverything(t *testing.T) {
	sim := newLabSim(func(host, line string, nth int) (dispatch.Result, error) {
		return exit(0) // every precondition already satisfied
	})
	p := &plan.Plan{Name: "provision", Stages: []plan.Stage{
		{ID: "a", Host: "dc1", Action: &plan.CommandSpec{Run: "do-a"}, Pre: &plan.ProbeSpec{Run: "check-a"}},
		{ID: "b", Host: "dc1", Action: &plan.CommandSpec{Run: "do-b"}, Pre: &plan.ProbeSpec{Run: "check-b"}},
		{ID: "c", Host: "db1", Action: &plan.CommandSpec{Run: "do-c"}, Pre: &plan.ProbeSpec{Run: "check-c"}},
	}}

	run, _ := runPlan(t, p, sim, Options{})

	assert.Equal(t, plan.StatusAllSucceeded, run.Status())
	assert.Equal(t, 0, run.ExitCode())
	c := run.Counts()
	assert.Equal(t, 3, c.Skipped)
	assert.Zero(t, sim.dispatched("dc1", "do-a"))
	assert.Zero(t, sim.dispatched("dc1", "do-b"))
	assert.Zero(t, sim.dispatched("db1", "do-c"))
}

func TestRun_FullStageLifecycle(t *testing.T) {
	sim := newLabSim(func(host, line string, nth int) (dispatch.Result, error) {
		if line == "check" {
			return exit(1) // not provisioned yet
		}
		return exit(0)
	})
	p := &plan.Plan{Name: "provision", Stages: []plan.Stage{
		{
			ID:     "install",
			Host:   "dc1",
			Action: &plan.CommandSpec{Run: "install"},
			Pre:    &plan.ProbeSpec{Run: "check"},
			Post:   &plan.ProbeSpec{Run: "verify"},
		},
	}}

	run, rep := runPlan(t, p, sim, Options{})

	o, ok := run.OutcomeFor("install")
	require.True(t, ok)
	assert.Equal(t, plan.StateSucceeded, o.State)
	assert.Equal(t, 1, o.Attempts)
	assert.Equal(t, []plan.State{
		plan.StateCheckingPrecondition,
		plan.StateExecuting,
		plan.StateCheckingPostcondition,
		plan.StateSucceeded,
	}, rep.statesFor("install"))
	assert.Equal(t, 1, sim.dispatched("dc1", "install"))
	assert.Equal(t, 1, sim.dispatched("dc1", "verify"))
}

func TestRun_FailedDependencyBlocksAcrossHosts(t *testing.T) {
	sim := newLabSim(func(host, line string, nth int) (dispatch.Result, error) {
		if line == "promote" {
			return exit(1)
		}
		return exit(0)
	})
	p := &plan.Plan{Name: "provision", Stages: []plan.Stage{
		shellStage("promote-dc", "dc1", "promote"),
		{ID: "join-db", Host: "db1", Needs: []string{"promote-dc"}, Action: &plan.CommandSpec{Run: "join"}},
		shellStage("tune-db", "db1", "tune"),
	}}

	run, rep := runPlan(t, p, sim, Options{})

	promote, _ := run.OutcomeFor("promote-dc")
	assert.Equal(t, plan.StateFailed, promote.State)

	join, _ := run.OutcomeFor("join-db")
	assert.Equal(t, plan.StateIndeterminate, join.State)
	assert.Equal(t, "blocked: dependency promote-dc failed", join.Reason)
	assert.Zero(t, sim.dispatched("db1", "join"))
	assert.NotContains(t, rep.statesFor("join-db"), plan.StateExecuting)

	// A later stage on the same lane with no edge onto the failure
	// still runs: ordering is not an implicit dependency.
	tune, _ := run.OutcomeFor("tune-db")
	assert.Equal(t, plan.StateSucceeded, tune.State)

	assert.Equal(t, plan.StatusPartialFailure, run.Status())
	assert.Equal(t, 1, run.ExitCode())
	c := run.Counts()
	assert.Equal(t, 1, c.Failed)
	assert.Equal(t, 1, c.Blocked)
}

func TestRun_BlockingCascades(t *testing.T) {
	sim := newLabSim(func(host, line string, nth int) (dispatch.Result, error) {
		if line == "fail" {
			return exit(1)
		}
		return exit(0)
	})
	p := &plan.Plan{Name: "provision", Stages: []plan.Stage{
		shellStage("a", "dc1", "fail"),
		{ID: "b", Host: "db1", Needs: []string{"a"}, Action: &plan.CommandSpec{Run: "b"}},
		{ID: "c", Host: "ws1", Needs: []string{"b"}, Action: &plan.CommandSpec{Run: "c"}},
	}}

	run, _ := runPlan(t, p, sim, Options{})

	b, _ := run.OutcomeFor("b")
	assert.Equal(t, "blocked: dependency a failed", b.Reason)
	c, _ := run.OutcomeFor("c")
	assert.Equal(t, "blocked: dependency b indeterminate", c.Reason)
	assert.Zero(t, sim.dispatched("db1", "b"))
	assert.Zero(t, sim.dispatched("ws1", "c"))
}

func TestRun_FatalFailureNeverRetries(t *testing.T) {
	sim := newLabSim(func(host, line string, nth int) (dispatch.Result, error) {
		return exit(1) // inline actions classify non-zero as fatal
	})
	p := &plan.Plan{Name: "provision", Stages: []plan.Stage{
		{
			ID:     "install",
			Host:   "dc1",
			Action: &plan.CommandSpec{Run: "install"},
			Retry:  &retry.Policy{MaxAttempts: 5, InitialDelay: 0, Multiplier: 1},
		},
	}}

	run, _ := runPlan(t, p, sim, Options{})

	o, _ := run.OutcomeFor("install")
	assert.Equal(t, plan.StateFailed, o.State)
	assert.Equal(t, 1, o.Attempts)
	assert.Equal(t, 1, sim.dispatched("dc1", "install"))
	assert.Contains(t, o.Reason, "exit 1")
}

func TestRun_RetryableFailureRecovers(t *testing.T) {
	sim := newLabSim(func(host, line string, nth int) (dispatch.Result, error) {
		if nth < 2 {
			return exit(100) // apt lock held
		}
		return exit(0)
	})
	p := &plan.Plan{Name: "provision", Stages: []plan.Stage{
		{ID: "db", Host: "db1", Uses: "database.install"},
	}}

	run, _ := runPlan(t, p, sim, Options{})

	o, _ := run.OutcomeFor("db")
	assert.Equal(t, plan.StateSucceeded, o.State)
	assert.Equal(t, 3, o.Attempts)
}

func TestRun_RetryableFailureExhausts(t *testing.T) {
	sim := newLabSim(func(host, line string, nth int) (dispatch.Result, error) {
		return exit(100)
	})
	p := &plan.Plan{Name: "provision", Stages: []plan.Stage{
		{ID: "db", Host: "db1", Uses: "database.install"},
	}}

	run, _ := runPlan(t, p, sim, Options{})

	o, _ := run.OutcomeFor("db")
	assert.Equal(t, plan.StateFailed, o.State)
	assert.Equal(t, 3, o.Attempts)
	assert.Contains(t, o.Reason, "exhausted 3 attempts")
}

func TestRun_TimeoutIsRetryable(t *testing.T) {
	sim := newLabSim(func(host, line string, nth int) (dispatch.Result, error) {
		if nth == 0 {
			return dispatch.Result{ExitCode: -1, Stderr: "partial\n"},
				fmt.Errorf("%w after 5s", dispatch.ErrTimeout)
		}
		return exit(0)
	})
	p := &plan.Plan{Name: "provision", Stages: []plan.Stage{
		shellStage("slow", "dc1", "slow-install"),
	}}

	run, _ := runPlan(t, p, sim, Options{})

	o, _ := run.OutcomeFor("slow")
	assert.Equal(t, plan.StateSucceeded, o.State)
	assert.Equal(t, 2, o.Attempts)
}

func TestRun_PostconditionMismatchFails(t *testing.T) {
	sim := newLabSim(func(host, line string, nth int) (dispatch.Result, error) {
		if line == "verify" {
			return dispatch.Result{ExitCode: 1, Stderr: "zone missing\n"}, nil
		}
		return exit(0)
	})
	p := &plan.Plan{Name: "provision", Stages: []plan.Stage{
		{
			ID:     "dns",
			Host:   "dc1",
			Action: &plan.CommandSpec{Run: "add-zone"},
			Post:   &plan.ProbeSpec{Run: "verify"},
		},
	}}

	run, _ := runPlan(t, p, sim, Options{})

	o, _ := run.OutcomeFor("dns")
	assert.Equal(t, plan.StateFailed, o.State)
	assert.Contains(t, o.Reason, "postcondition mismatch")
	assert.Equal(t, "zone missing", o.Output)
	assert.Equal(t, 1, run.ExitCode())
}

func TestRun_WarnOnlyMismatchDoesNotFailTheRun(t *testing.T) {
	sim := newLabSim(func(host, line string, nth int) (dispatch.Result, error) {
		if line == "verify" {
			return exit(1)
		}
		return exit(0)
	})
	p := &plan.Plan{Name: "provision", Stages: []plan.Stage{
		{
			ID:       "replicate",
			Host:     "dc1",
			Action:   &plan.CommandSpec{Run: "sync"},
			Post:     &plan.ProbeSpec{Run: "verify"},
			WarnOnly: true,
		},
		shellStage("after", "dc1", "after"),
	}}

	run, _ := runPlan(t, p, sim, Options{})

	o, _ := run.OutcomeFor("replicate")
	assert.Equal(t, plan.StateIndeterminate, o.State)
	assert.True(t, o.Warned)

	assert.Equal(t, plan.StatusAllSucceeded, run.Status())
	assert.Equal(t, 0, run.ExitCode())
	c := run.Counts()
	assert.Equal(t, 1, c.Warned)
	assert.Zero(t, c.Blocked)
}

func TestRun_RetryablePostconditionWaitsForConvergence(t *testing.T) {
	sim := newLabSim(func(host, line string, nth int) (dispatch.Result, error) {
		if line == "verify" && nth < 2 {
			return exit(1) // not converged yet
		}
		return exit(0)
	})
	p := &plan.Plan{Name: "provision", Stages: []plan.Stage{
		{
			ID:     "replicate",
			Host:   "dc1",
			Action: &plan.CommandSpec{Run: "sync"},
			Post:   &plan.ProbeSpec{Run: "verify", Retryable: true},
		},
	}}

	run, _ := runPlan(t, p, sim, Options{})

	o, _ := run.OutcomeFor("replicate")
	assert.Equal(t, plan.StateSucceeded, o.State)
	assert.Equal(t, 3, sim.dispatched("dc1", "verify"))
}

func TestRun_RebootCodeSucceedsWithAnnotation(t *testing.T) {
	sim := newLabSim(func(host, line string, nth int) (dispatch.Result, error) {
		return exit(3010)
	})
	p := &plan.Plan{Name: "provision", Stages: []plan.Stage{
		{
			ID:   "agent",
			Host: "ws1",
			Uses: "endpoint.install-agent",
			With: map[string]string{"msi": `C:\staging\agent.msi`},
		},
		shellStage("next", "ws1", "next"),
	}}

	run, _ := runPlan(t, p, sim, Options{})

	o, _ := run.OutcomeFor("agent")
	assert.Equal(t, plan.StateSucceeded, o.State)
	assert.True(t, o.RebootRequired)

	// No implicit wait: the next stage on the host runs immediately.
	next, _ := run.OutcomeFor("next")
	assert.Equal(t, plan.StateSucceeded, next.State)
	assert.Equal(t, plan.StatusAllSucceeded, run.Status())
}

func TestRun_ForceSkipsPreconditions(t *testing.T) {
	sim := newLabSim(func(host, line string, nth int) (dispatch.Result, error) {
		return exit(0)
	})
	p := &plan.Plan{Name: "provision", Stages: []plan.Stage{
		{
			ID:     "install",
			Host:   "dc1",
			Action: &plan.CommandSpec{Run: "install"},
			Pre:    &plan.ProbeSpec{Run: "check"},
		},
	}}

	run, rep := runPlan(t, p, sim, Options{Force: true})

	o, _ := run.OutcomeFor("install")
	assert.Equal(t, plan.StateSucceeded, o.State)
	assert.Zero(t, sim.dispatched("dc1", "check"))
	assert.Equal(t, 1, sim.dispatched("dc1", "install"))
	assert.NotContains(t, rep.statesFor("install"), plan.StateCheckingPrecondition)
}

func TestRun_IndeterminatePreconditionFails(t *testing.T) {
	sim := newLabSim(func(host, line string, nth int) (dispatch.Result, error) {
		if line == "check" {
			return dispatch.Result{ExitCode: -1}, fmt.Errorf("failed to dial dc1:22")
		}
		return exit(0)
	})
	p := &plan.Plan{Name: "provision", Stages: []plan.Stage{
		{
			ID:     "install",
			Host:   "dc1",
			Action: &plan.CommandSpec{Run: "install"},
			Pre:    &plan.ProbeSpec{Run: "check"},
		},
	}}

	run, _ := runPlan(t, p, sim, Options{})

	o, _ := run.OutcomeFor("install")
	assert.Equal(t, plan.StateFailed, o.State)
	assert.Equal(t, "precondition indeterminate", o.Reason)
	assert.Contains(t, o.Output, "failed to dial")
	assert.Zero(t, sim.dispatched("dc1", "install"))
}

func TestRun_RetryablePreconditionRecovers(t *testing.T) {
	sim := newLabSim(func(host, line string, nth int) (dispatch.Result, error) {
		if line == "check" && nth == 0 {
			return dispatch.Result{ExitCode: -1}, fmt.Errorf("host not up yet")
		}
		if line == "check" {
			return exit(1) // reachable now, not provisioned
		}
		return exit(0)
	})
	p := &plan.Plan{Name: "provision", Stages: []plan.Stage{
		{
			ID:     "install",
			Host:   "dc1",
			Action: &plan.CommandSpec{Run: "install"},
			Pre:    &plan.ProbeSpec{Run: "check", Retryable: true},
		},
	}}

	run, _ := runPlan(t, p, sim, Options{})

	o, _ := run.OutcomeFor("install")
	assert.Equal(t, plan.StateSucceeded, o.State)
	assert.Equal(t, 1, sim.dispatched("dc1", "install"))
}

func TestRun_SameHostStagesNeverOverlap(t *testing.T) {
	sim := newLabSim(func(host, line string, nth int) (dispatch.Result, error) {
		return exit(0)
	})
	sim.delay = 3 * time.Millisecond

	var stages []plan.Stage
	for i := range 5 {
		stages = append(stages, shellStage(fmt.Sprintf("s%d", i), "dc1", fmt.Sprintf("cmd-%d", i)))
	}
	for i := range 5 {
		stages = append(stages, shellStage(fmt.Sprintf("t%d", i), "db1", fmt.Sprintf("cmd-%d", i)))
	}
	p := &plan.Plan{Name: "provision", Stages: stages}

	run, _ := runPlan(t, p, sim, Options{})

	assert.Equal(t, plan.StatusAllSucceeded, run.Status())
	assert.False(t, sim.overlap, "two stages overlapped on one host")
}

func TestRun_ConcurrencyLimitCapsParallelHosts(t *testing.T) {
	sim := newLabSim(func(host, line string, nth int) (dispatch.Result, error) {
		return exit(0)
	})
	sim.delay = 5 * time.Millisecond

	p := &plan.Plan{Name: "provision", Stages: []plan.Stage{
		shellStage("a", "dc1", "a"),
		shellStage("b", "db1", "b"),
		shellStage("c", "ws1", "c"),
	}}

	run, _ := runPlan(t, p, sim, Options{Concurrency: 1})

	assert.Equal(t, plan.StatusAllSucceeded, run.Status())
	assert.Equal(t, 1, sim.peak, "more hosts in flight than the limit allows")
}

func TestRun_CrossHostOrdering(t *testing.T) {
	sim := newLabSim(func(host, line string, nth int) (dispatch.Result, error) {
		return exit(0)
	})
	sim.delay = 2 * time.Millisecond

	p := &plan.Plan{Name: "provision", Stages: []plan.Stage{
		shellStage("promote", "dc1", "promote"),
		{ID: "join", Host: "db1", Needs: []string{"promote"}, Action: &plan.CommandSpec{Run: "join"}},
	}}

	run, _ := runPlan(t, p, sim, Options{})

	assert.Equal(t, plan.StatusAllSucceeded, run.Status())
	require.Len(t, sim.order, 2)
	assert.Equal(t, "dc1:promote", sim.order[0])
	assert.Equal(t, "db1:join", sim.order[1])
}

func TestRun_CancellationSealsUnstartedStages(t *testing.T) {
	sim := newLabSim(func(host, line string, nth int) (dispatch.Result, error) {
		if line == "long" {
			time.Sleep(60 * time.Millisecond)
		}
		return exit(0)
	})
	p := &plan.Plan{Name: "provision", Stages: []plan.Stage{
		shellStage("running", "dc1", "long"),
		shellStage("queued", "dc1", "short"),
		shellStage("other", "db1", "long"),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(15*time.Millisecond, cancel)

	rep := &recordingReporter{}
	run := New(testConfig(), Options{Reporter: rep, Connect: sim.connect}).Run(ctx, p)

	// The in-flight dispatches finished rather than being killed.
	running, _ := run.OutcomeFor("running")
	assert.Equal(t, plan.StateSucceeded, running.State)
	other, _ := run.OutcomeFor("other")
	assert.Equal(t, plan.StateSucceeded, other.State)

	queued, _ := run.OutcomeFor("queued")
	assert.Equal(t, plan.StateIndeterminate, queued.State)
	assert.Equal(t, "aborted before start", queued.Reason)
	assert.Zero(t, sim.dispatched("dc1", "short"))

	assert.True(t, run.Aborted)
	assert.Equal(t, plan.StatusAborted, run.Status())
	assert.Equal(t, 3, run.ExitCode())
}

func TestRun_TransportFailureSealsStage(t *testing.T) {
	sim := newLabSim(func(host, line string, nth int) (dispatch.Result, error) {
		return exit(0)
	})
	connect := func(h config.Host) (dispatch.Transport, error) {
		if h.ID == "db1" {
			return nil, fmt.Errorf("failed to read identity file: no such file")
		}
		return sim.connect(h)
	}

	p := &plan.Plan{Name: "provision", Stages: []plan.Stage{
		shellStage("ok", "dc1", "ok"),
		shellStage("broken", "db1", "x"),
	}}

	rep := &recordingReporter{}
	run := New(testConfig(), Options{Reporter: rep, Connect: connect}).Run(context.Background(), p)

	ok, _ := run.OutcomeFor("ok")
	assert.Equal(t, plan.StateSucceeded, ok.State)
	broken, _ := run.OutcomeFor("broken")
	assert.Equal(t, plan.StateIndeterminate, broken.State)
	assert.Contains(t, broken.Reason, "transport unavailable")
	assert.Equal(t, plan.StatusPartialFailure, run.Status())
}

func TestRun_RecordsMetadata(t *testing.T) {
	sim := newLabSim(func(host, line string, nth int) (dispatch.Result, error) {
		return exit(0)
	})
	p := &plan.Plan{Name: "provision", Stages: []plan.Stage{
		shellStage("a", "dc1", "a"),
	}}

	run, rep := runPlan(t, p, sim, Options{RunID: "run-123"})

	assert.Equal(t, "run-123", run.ID)
	assert.Equal(t, "testlab", run.Lab)
	assert.Equal(t, "provision", run.Plan)
	assert.False(t, run.StartedAt.IsZero())
	assert.False(t, run.EndedAt.Before(run.StartedAt))
	require.Len(t, run.Outcomes, 1)
	require.Len(t, rep.outcomes, 1)
	assert.Equal(t, run.Outcomes[0].StageID, rep.outcomes[0].StageID)
}

func TestRun_GeneratesRunID(t *testing.T) {
	sim := newLabSim(func(host, line string, nth int) (dispatch.Result, error) {
		return exit(0)
	})
	p := &plan.Plan{Name: "provision", Stages: []plan.Stage{
		shellStage("a", "dc1", "a"),
	}}

	run, _ := runPlan(t, p, sim, Options{})
	assert.NotEmpty(t, run.ID)
}
