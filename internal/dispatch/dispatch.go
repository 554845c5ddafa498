// Package dispatch defines the transport contract for running
// collaborator commands on lab hosts.
//
// Transports are deliberately dumb: they deliver a command line, wait
// for it to finish or hit its deadline, and hand back exit code and
// captured output. Retry decisions and exit-code interpretation belong
// to the stage executing the command, not to the transport.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"time"
)

// DefaultTimeout applies when an action does not declare its own.
const DefaultTimeout = 5 * time.Minute

// Command is a fully resolved invocation for one host.
type Command struct {
	// Line is the remote shell command line.
	Line string

	// Timeout bounds the execution. Zero means DefaultTimeout.
	Timeout time.Duration
}

// Result is the raw outcome of one command execution.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Output returns stderr if present, otherwise stdout, trimmed. Used for
// diagnostics where only one captured stream is wanted.
func (r Result) Output() string {
	if s := strings.TrimSpace(r.Stderr); s != "" {
		return s
	}
	return strings.TrimSpace(r.Stdout)
}

// Tail returns at most n trailing lines of the combined output,
// for failure records that must carry remote diagnostics without
// flooding the log.
func (r Result) Tail(n int) string {
	combined := strings.TrimSpace(r.Stdout + "\n" + r.Stderr)
	if combined == "" {
		return ""
	}
	lines := strings.Split(combined, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// ErrTimeout marks a command that hit its own deadline. Timeouts are
// transient by default: the caller classifies them retryable unless the
// action says otherwise.
var ErrTimeout = errors.New("command timed out")

// IsTimeout reports whether err is a command deadline, either our own
// marker or a context deadline surfaced by the transport.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// Transport executes commands on a single host. Implementations must
// not retry and must not interpret exit codes: a non-zero exit is a
// successful dispatch with a non-zero Result.ExitCode, not an error.
// Errors are reserved for the transport itself failing (unreachable
// host, broken session, deadline).
type Transport interface {
	// Run executes the command and blocks until it finishes or times
	// out. The returned Result is valid even when err is non-nil, so
	// partial output is available for diagnostics.
	Run(ctx context.Context, cmd Command) (Result, error)

	// Close releases the underlying connection.
	Close() error
}
