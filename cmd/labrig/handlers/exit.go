// Package handlers implements the business logic for CLI commands.
//
// This package contains handler functions that are called by command
// definitions in the commands package. Handlers are framework-agnostic
// and can be tested independently of the CLI framework.
package handlers

import "fmt"

// Process exit codes. A run's verdict maps through plan.Run.ExitCode;
// structural plan problems exit before any command is dispatched.
const (
	ExitOK        = 0
	ExitRunFailed = 1
	ExitInvalid   = 2
	ExitAborted   = 3
)

// ExitError carries a specific process exit code up to main. Err may
// be nil when the failure was already reported (a run summary was
// printed).
type ExitError struct {
	Code int
	Err  error
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

// Unwrap exposes the wrapped error to errors.Is/As.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// invalid wraps a plan or config validation error with exit code 2.
func invalid(err error) *ExitError {
	return &ExitError{Code: ExitInvalid, Err: err}
}
