// Package probe evaluates read-only condition checks on hosts.
//
// A probe answers a question in three values. Satisfied and Unsatisfied
// are answers: the condition holds or it confirmed does not.
// Indeterminate means the probe itself could not complete (host
// unreachable, timeout) and the caller must not assume absence.
package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/labrig/labrig/internal/actions"
	"github.com/labrig/labrig/internal/dispatch"
	"github.com/labrig/labrig/internal/util/retry"
)

// Verdict is a probe's tri-state answer.
type Verdict string

const (
	Satisfied     Verdict = "satisfied"
	Unsatisfied   Verdict = "unsatisfied"
	Indeterminate Verdict = "indeterminate"
)

// Result is one probe evaluation.
type Result struct {
	Verdict Verdict

	// Detail is the captured remote output, or the transport error
	// text behind an Indeterminate verdict.
	Detail string

	// Attempts counts probe invocations, > 1 when a retryable probe
	// was re-run.
	Attempts int

	// Err is the transport error behind an Indeterminate verdict, nil
	// otherwise. Callers inspect it to tell cancellation apart from an
	// unreachable host.
	Err error
}

// Check runs the probe once over the transport. A zero exit code is
// Satisfied, any other exit code is Unsatisfied, and a transport
// failure (including timeout) is Indeterminate.
func Check(ctx context.Context, tr dispatch.Transport, p actions.Probe, timeout time.Duration) Result {
	res, err := tr.Run(ctx, dispatch.Command{Line: p.Line, Timeout: timeout})
	if err != nil {
		return Result{Verdict: Indeterminate, Detail: err.Error(), Attempts: 1, Err: err}
	}
	if res.ExitCode == 0 {
		return Result{Verdict: Satisfied, Detail: res.Output(), Attempts: 1}
	}
	return Result{Verdict: Unsatisfied, Detail: res.Output(), Attempts: 1}
}

// CheckRetry re-runs Check under the policy while the verdict is one
// of retryOn, returning the last evaluation with the total attempt
// count. Which verdicts warrant another attempt is the caller's call:
// a precondition retries only Indeterminate, a postcondition against
// an eventually-consistent system retries Unsatisfied too.
func CheckRetry(ctx context.Context, tr dispatch.Transport, p actions.Probe, timeout time.Duration, policy retry.Policy, retryOn ...Verdict) Result {
	var last Result
	outcome := retry.Do(ctx, policy, func(ctx context.Context) error {
		last = Check(ctx, tr, p, timeout)
		if last.Err != nil && errors.Is(last.Err, context.Canceled) {
			return retry.Fatal(last.Err)
		}
		for _, v := range retryOn {
			if last.Verdict == v {
				return fmt.Errorf("probe %s %s: %s", p.Ref, last.Verdict, last.Detail)
			}
		}
		return nil
	})
	last.Attempts = outcome.Attempts
	return last
}
