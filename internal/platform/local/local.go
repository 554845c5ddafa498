// Package local runs commands on the machine labrig itself runs on,
// for workstation hosts that need no SSH hop.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/labrig/labrig/internal/dispatch"
)

// Transport implements dispatch.Transport with os/exec.
type Transport struct {
	// Shell interprets command lines. "/bin/sh" when empty.
	Shell string
}

// New returns a local transport using the default shell.
func New() *Transport {
	return &Transport{}
}

// Run executes the command line through the shell.
func (t *Transport) Run(ctx context.Context, cmd dispatch.Command) (dispatch.Result, error) {
	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = dispatch.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell := t.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	execCmd := exec.CommandContext(ctx, shell, "-c", cmd.Line)
	var stdout, stderr bytes.Buffer
	execCmd.Stdout = &stdout
	execCmd.Stderr = &stderr

	start := time.Now()
	err := execCmd.Run()
	res := dispatch.Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err == nil {
		return res, nil
	}

	// A killed process also surfaces as an exit error, so the context
	// has to be checked before the exit code is believed.
	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return res, fmt.Errorf("%w after %v", dispatch.ErrTimeout, timeout)
		}
		return res, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}

	res.ExitCode = -1
	return res, fmt.Errorf("failed to start command: %w", err)
}

// Close implements dispatch.Transport. Nothing to release.
func (t *Transport) Close() error {
	return nil
}
