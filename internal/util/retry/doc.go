// Package retry wraps fallible operations in a bounded exponential
// backoff loop.
//
// Callers classify their own failures: a plain error is retried, an
// error wrapped with [Fatal] stops the loop immediately. [Do] returns a
// [Result] carrying the attempt count so diagnostics can report how
// long convergence took.
package retry
