package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/labrig/labrig/internal/actions"
	"github.com/labrig/labrig/internal/dispatch"
	"github.com/labrig/labrig/internal/plan"
	"github.com/labrig/labrig/internal/probe"
	"github.com/labrig/labrig/internal/util/retry"
)

// outputTailLines bounds the remote diagnostics kept on an outcome.
const outputTailLines = 20

// stageExec is a stage with its references resolved and its policy and
// timeout merged over the configured defaults.
type stageExec struct {
	stage   plan.Stage
	action  actions.Action
	pre     *actions.Probe
	post    *actions.Probe
	policy  retry.Policy
	timeout time.Duration
}

// resolveStages resolves every stage's catalog references up front.
// Plans are validated before a run starts, so errors here mean the
// caller skipped validation; the affected stages are sealed instead of
// dispatched.
func resolveStages(p *plan.Plan, defaults retry.Policy, defaultTimeout time.Duration) (map[string]stageExec, map[string]error) {
	execs := make(map[string]stageExec, len(p.Stages))
	broken := make(map[string]error)
	for _, s := range p.Stages {
		ex := stageExec{
			stage:   s,
			policy:  s.RetryOr(defaults),
			timeout: s.TimeoutOr(defaultTimeout),
		}
		act, err := actions.ResolveAction(s)
		if err != nil {
			broken[s.ID] = err
			continue
		}
		ex.action = act
		if s.Pre != nil {
			pr, err := actions.ResolveProbe(*s.Pre)
			if err != nil {
				broken[s.ID] = err
				continue
			}
			ex.pre = &pr
		}
		if s.Post != nil {
			po, err := actions.ResolveProbe(*s.Post)
			if err != nil {
				broken[s.ID] = err
				continue
			}
			ex.post = &po
		}
		execs[s.ID] = ex
	}
	return execs, broken
}

// execStage walks one stage through its state machine and returns the
// sealed outcome. It runs on its own goroutine, one per active lane.
func (d *Driver) execStage(ctx context.Context, transports *pool, ex stageExec) (o plan.Outcome) {
	o = plan.Outcome{
		StageID:   ex.stage.ID,
		Host:      ex.stage.Host,
		StartedAt: time.Now().UTC(),
	}
	defer func() { o.EndedAt = time.Now().UTC() }()

	state := plan.StatePending
	move := func(next plan.State, attempt int, detail string) {
		d.emit(plan.Transition{
			Time:    time.Now().UTC(),
			Host:    ex.stage.Host,
			StageID: ex.stage.ID,
			From:    state,
			To:      next,
			Attempt: attempt,
			Detail:  detail,
		})
		state = next
	}

	tr, err := transports.Get(ex.stage.Host)
	if err != nil {
		move(plan.StateIndeterminate, 0, err.Error())
		o.State = plan.StateIndeterminate
		o.Reason = fmt.Sprintf("transport unavailable: %v", err)
		return o
	}

	// Precondition
	switch {
	case ex.pre != nil && !d.opts.Force:
		move(plan.StateCheckingPrecondition, 0, ex.pre.Ref)

		var res probe.Result
		if ex.stage.Pre.Retryable {
			res = probe.CheckRetry(ctx, tr, *ex.pre, ex.timeout, ex.policy, probe.Indeterminate)
		} else {
			res = probe.Check(ctx, tr, *ex.pre, ex.timeout)
		}

		switch res.Verdict {
		case probe.Satisfied:
			move(plan.StateSkipped, res.Attempts, "precondition already satisfied")
			o.State = plan.StateSkipped
			o.Reason = "precondition already satisfied"
			o.Output = res.Detail
			return o
		case probe.Unsatisfied:
			move(plan.StateExecuting, res.Attempts, "")
		case probe.Indeterminate:
			if ctx.Err() != nil || errors.Is(res.Err, context.Canceled) {
				move(plan.StateIndeterminate, res.Attempts, "aborted during precondition")
				o.State = plan.StateIndeterminate
				o.Reason = "aborted during precondition"
				return o
			}
			move(plan.StateFailed, res.Attempts, res.Detail)
			o.State = plan.StateFailed
			o.Reason = "precondition indeterminate"
			o.Output = res.Detail
			return o
		}
	case ex.pre != nil && d.opts.Force:
		move(plan.StateExecuting, 0, "precondition skipped (forced)")
	default:
		move(plan.StateExecuting, 0, "")
	}

	// Action. The dispatch itself is shielded from cancellation so an
	// in-flight mutation finishes; the retry loop still stops between
	// attempts when the run is aborted.
	var last dispatch.Result
	var reboot bool
	dispatchCtx := context.WithoutCancel(ctx)
	rr := retry.Do(ctx, ex.policy, func(context.Context) error {
		res, err := tr.Run(dispatchCtx, dispatch.Command{Line: ex.action.Line, Timeout: ex.timeout})
		last = res
		if err != nil {
			return err
		}
		switch ex.action.Classify(res.ExitCode) {
		case actions.Succeeded:
			return nil
		case actions.SucceededRebootRequired:
			reboot = true
			return nil
		case actions.RetryableFailure:
			return fmt.Errorf("exit %d (retryable)", res.ExitCode)
		default:
			return retry.Fatal(fmt.Errorf("exit %d", res.ExitCode))
		}
	})
	o.Attempts = rr.Attempts
	o.RebootRequired = reboot
	o.Output = last.Tail(outputTailLines)

	if rr.Err != nil {
		if errors.Is(rr.Err, context.Canceled) {
			move(plan.StateIndeterminate, rr.Attempts, "aborted between attempts")
			o.State = plan.StateIndeterminate
			o.Reason = "aborted between attempts"
			return o
		}
		move(plan.StateFailed, rr.Attempts, rr.Err.Error())
		o.State = plan.StateFailed
		o.Reason = rr.Err.Error()
		return o
	}

	// Postcondition
	if ex.post == nil {
		detail := ""
		if reboot {
			detail = "reboot required"
		}
		move(plan.StateSucceeded, rr.Attempts, detail)
		o.State = plan.StateSucceeded
		return o
	}
	move(plan.StateCheckingPostcondition, rr.Attempts, ex.post.Ref)

	var res probe.Result
	if ex.stage.Post.Retryable {
		res = probe.CheckRetry(ctx, tr, *ex.post, ex.timeout, ex.policy, probe.Indeterminate, probe.Unsatisfied)
	} else {
		res = probe.Check(ctx, tr, *ex.post, ex.timeout)
	}

	switch res.Verdict {
	case probe.Satisfied:
		move(plan.StateSucceeded, res.Attempts, "")
		o.State = plan.StateSucceeded
	case probe.Unsatisfied:
		if ex.stage.WarnOnly {
			move(plan.StateIndeterminate, res.Attempts, "postcondition mismatch (warn only)")
			o.State = plan.StateIndeterminate
			o.Warned = true
			o.Reason = "postcondition mismatch (warn only)"
			o.Output = res.Detail
		} else {
			move(plan.StateFailed, res.Attempts, res.Detail)
			o.State = plan.StateFailed
			o.Reason = "postcondition mismatch: action reported success but the condition does not hold"
			o.Output = res.Detail
		}
	case probe.Indeterminate:
		if ctx.Err() != nil || errors.Is(res.Err, context.Canceled) {
			move(plan.StateIndeterminate, res.Attempts, "aborted during postcondition")
			o.State = plan.StateIndeterminate
			o.Reason = "aborted during postcondition"
			return o
		}
		move(plan.StateIndeterminate, res.Attempts, res.Detail)
		o.State = plan.StateIndeterminate
		o.Reason = "postcondition indeterminate"
		o.Output = res.Detail
	}
	return o
}
