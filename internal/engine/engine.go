// Package engine runs a validated plan to completion.
//
// The driver schedules stages over per-host lanes: a host processes
// its own stages strictly in declaration order, lanes on different
// hosts proceed in parallel up to the concurrency cap, and explicit
// needs edges gate stages across hosts. Failure isolation follows the
// dependency edges: a failed stage blocks its dependents and nothing
// else.
package engine

import (
	"sync"

	"github.com/google/uuid"

	"github.com/labrig/labrig/internal/config"
	"github.com/labrig/labrig/internal/dispatch"
	"github.com/labrig/labrig/internal/plan"
	"github.com/labrig/labrig/internal/platform"
)

// ConnectFunc opens a transport to a configured host. Swapped in tests
// for scripted transports.
type ConnectFunc func(config.Host) (dispatch.Transport, error)

// Reporter consumes stage state transitions as they occur and sealed
// outcomes as stages finish. The driver serializes all calls, so
// implementations need no locking of their own.
type Reporter interface {
	Transition(t plan.Transition)
	Outcome(o plan.Outcome)
}

type nopReporter struct{}

func (nopReporter) Transition(plan.Transition) {}
func (nopReporter) Outcome(plan.Outcome)       {}

// Options tune one run.
type Options struct {
	// Concurrency caps how many host lanes execute at once. Zero
	// falls back to the configured default.
	Concurrency int

	// Force skips precondition probes and always executes actions.
	Force bool

	// RunID overrides the generated run id.
	RunID string

	// Reporter receives transitions and outcomes. Nil discards them.
	Reporter Reporter

	// Connect overrides the transport factory. Nil dials real hosts.
	Connect ConnectFunc
}

// Driver executes plans against the configured lab.
type Driver struct {
	cfg      *config.Config
	opts     Options
	reporter Reporter
	connect  ConnectFunc

	mu sync.Mutex
}

// New builds a driver for the given lab configuration.
func New(cfg *config.Config, opts Options) *Driver {
	d := &Driver{cfg: cfg, opts: opts, reporter: opts.Reporter, connect: opts.Connect}
	if d.reporter == nil {
		d.reporter = nopReporter{}
	}
	if d.connect == nil {
		d.connect = platform.Connect
	}
	return d
}

func (d *Driver) concurrency() int {
	if d.opts.Concurrency > 0 {
		return d.opts.Concurrency
	}
	if d.cfg.Defaults.Concurrency > 0 {
		return d.cfg.Defaults.Concurrency
	}
	return config.DefaultConcurrency
}

func (d *Driver) runID() string {
	if d.opts.RunID != "" {
		return d.opts.RunID
	}
	return uuid.NewString()
}

// emit forwards a transition to the reporter. Stage bodies run on
// separate goroutines, so emission is serialized here.
func (d *Driver) emit(t plan.Transition) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reporter.Transition(t)
}

// emitOutcome forwards a sealed outcome to the reporter.
func (d *Driver) emitOutcome(o plan.Outcome) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reporter.Outcome(o)
}
