// Package retry provides bounded retry with exponential backoff for
// operations against eventually-consistent remote state.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/labrig/labrig/internal/util/yamltime"
)

// Policy bounds the retry loop. Attempt 1 runs immediately; attempt n
// (n > 1) waits min(InitialDelay * Multiplier^(n-2), MaxDelay) first.
type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultPolicy returns the policy used when a stage does not declare one.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
	}
}

// SingleAttempt returns a policy that never retries.
func SingleAttempt() Policy {
	return Policy{MaxAttempts: 1, InitialDelay: 0, Multiplier: 1, MaxDelay: 0}
}

// Validate checks the policy invariants.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.MaxAttempts > 1 && p.Multiplier < 1 {
		return fmt.Errorf("multiplier must be >= 1, got %g", p.Multiplier)
	}
	if p.InitialDelay < 0 {
		return fmt.Errorf("initial_delay must not be negative, got %v", p.InitialDelay)
	}
	if p.MaxDelay < 0 {
		return fmt.Errorf("max_delay must not be negative, got %v", p.MaxDelay)
	}
	return nil
}

// Delay returns the wait before the given 1-indexed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := p.InitialDelay
	for i := 2; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// policyWire mirrors Policy for YAML, with unit-suffixed delays.
type policyWire struct {
	MaxAttempts  int               `yaml:"max_attempts"`
	InitialDelay yamltime.Duration `yaml:"initial_delay"`
	Multiplier   float64           `yaml:"multiplier"`
	MaxDelay     yamltime.Duration `yaml:"max_delay"`
}

// UnmarshalYAML implements yaml.Unmarshaler so plan and config files
// can write delays as "10s" rather than nanosecond integers.
func (p *Policy) UnmarshalYAML(value *yaml.Node) error {
	var raw policyWire
	if err := value.Decode(&raw); err != nil {
		return err
	}
	p.MaxAttempts = raw.MaxAttempts
	p.InitialDelay = raw.InitialDelay.Std()
	p.Multiplier = raw.Multiplier
	p.MaxDelay = raw.MaxDelay.Std()
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (p Policy) MarshalYAML() (interface{}, error) {
	return policyWire{
		MaxAttempts:  p.MaxAttempts,
		InitialDelay: yamltime.Duration(p.InitialDelay),
		Multiplier:   p.Multiplier,
		MaxDelay:     yamltime.Duration(p.MaxDelay),
	}, nil
}

// Result records what the retry loop did.
type Result struct {
	// Attempts is how many times the operation ran (>= 1 unless the
	// context was cancelled before the first attempt).
	Attempts int

	// Err is nil on success. On exhaustion it is the last attempt's
	// error wrapped with the attempt count; on a fatal error it is
	// that error with its Fatal marker intact, so callers can still
	// distinguish the two with IsFatal.
	Err error
}

// Succeeded reports whether the operation eventually returned nil.
func (r Result) Succeeded() bool {
	return r.Err == nil && r.Attempts > 0
}

// sleep waits for d or until the context is done. Swapped in tests to
// observe the schedule without real waiting.
var sleep = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs op under the policy. op returns nil on success, an error
// wrapped with Fatal to stop immediately, and any other error to retry.
// The classification is the caller's: Do never inspects error contents
// beyond the Fatal marker. Context cancellation stops the loop between
// attempts.
func Do(ctx context.Context, policy Policy, op func(ctx context.Context) error) Result {
	res := Result{}
	delay := policy.InitialDelay

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			if policy.MaxDelay > 0 && delay > policy.MaxDelay {
				delay = policy.MaxDelay
			}
			if err := sleep(ctx, delay); err != nil {
				res.Err = fmt.Errorf("cancelled after %d attempts: %w", res.Attempts, err)
				return res
			}
			delay = time.Duration(float64(delay) * policy.Multiplier)
		}

		res.Attempts = attempt
		err := op(ctx)
		if err == nil {
			res.Err = nil
			return res
		}

		if IsFatal(err) {
			res.Err = err
			return res
		}
		res.Err = err

		if ctx.Err() != nil {
			res.Err = fmt.Errorf("cancelled after %d attempts: %w", res.Attempts, ctx.Err())
			return res
		}
	}

	res.Err = fmt.Errorf("exhausted %d attempts: %w", policy.MaxAttempts, res.Err)
	return res
}

// FatalError marks an error as non-retryable.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return e.Err.Error()
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal marks an error as fatal. Do stops on the first fatal error
// regardless of how many attempts the policy allows.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsFatal reports whether err carries the fatal marker.
func IsFatal(err error) bool {
	var fatalErr *FatalError
	return errors.As(err, &fatalErr)
}
