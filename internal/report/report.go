// Package report turns driver events into operator-facing output: a
// live console log, an append-only per-run transition file, prometheus
// metrics and the final summary.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/labrig/labrig/internal/engine"
	"github.com/labrig/labrig/internal/plan"
)

// NewConsoleLogger builds the process logger: human-readable console
// encoding on stderr, debug level when verbose.
func NewConsoleLogger(verbose bool) *zap.Logger {
	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level)
	return zap.New(core)
}

// LogReporter writes one JSON record per state transition to the
// per-run log file and narrates stage progress on the console logger.
// The driver serializes calls; the mutex only guards against Close
// racing a late write.
type LogReporter struct {
	log  *zap.Logger
	mu   sync.Mutex
	f    *os.File
	enc  *json.Encoder
	path string
}

// RunLogPath is the append-only log file for one run, named by its
// start time so files sort chronologically.
func RunLogPath(logDir, runID string, startedAt time.Time) string {
	name := fmt.Sprintf("run-%s-%s.jsonl", startedAt.UTC().Format("20060102-150405"), shortID(runID))
	return filepath.Join(logDir, name)
}

// NewLogReporter opens the append-only run log under logDir.
func NewLogReporter(log *zap.Logger, logDir, runID string, startedAt time.Time) (*LogReporter, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	path := RunLogPath(logDir, runID, startedAt)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}
	return &LogReporter{log: log, f: f, enc: json.NewEncoder(f), path: path}, nil
}

// Path returns the run log file location.
func (r *LogReporter) Path() string {
	return r.path
}

// Transition appends the record to the run log and narrates the start
// of work on the console. Terminal states are narrated by Outcome,
// which carries the attempt count and diagnostics.
func (r *LogReporter) Transition(t plan.Transition) {
	r.mu.Lock()
	if r.enc != nil {
		if err := r.enc.Encode(t); err != nil {
			r.log.Warn("run log write failed", zap.Error(err))
		}
	}
	r.mu.Unlock()

	fields := []zap.Field{
		zap.String("host", t.Host),
		zap.String("stage", t.StageID),
	}
	if t.Detail != "" {
		fields = append(fields, zap.String("detail", t.Detail))
	}
	switch t.To {
	case plan.StateExecuting:
		r.log.Info("stage executing", fields...)
	case plan.StateCheckingPrecondition, plan.StateCheckingPostcondition:
		r.log.Debug("stage "+string(t.To), fields...)
	}
}

// Outcome narrates a sealed stage on the console.
func (r *LogReporter) Outcome(o plan.Outcome) {
	fields := []zap.Field{
		zap.String("host", o.Host),
		zap.String("stage", o.StageID),
		zap.Duration("took", o.EndedAt.Sub(o.StartedAt)),
	}
	if o.Attempts > 1 {
		fields = append(fields, zap.Int("attempts", o.Attempts))
	}
	if o.Reason != "" {
		fields = append(fields, zap.String("reason", o.Reason))
	}
	if o.Output != "" && o.State != plan.StateSucceeded && o.State != plan.StateSkipped {
		fields = append(fields, zap.String("output", o.Output))
	}

	switch {
	case o.State == plan.StateSucceeded && o.RebootRequired:
		r.log.Info("stage succeeded, reboot required", fields...)
	case o.State == plan.StateSucceeded:
		r.log.Info("stage succeeded", fields...)
	case o.State == plan.StateSkipped:
		r.log.Info("stage skipped", fields...)
	case o.State == plan.StateFailed:
		r.log.Error("stage failed", fields...)
	case o.Warned:
		r.log.Warn("stage warned", fields...)
	default:
		r.log.Warn("stage "+string(o.State), fields...)
	}
}

// Close flushes and closes the run log file.
func (r *LogReporter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.f == nil {
		return nil
	}
	err := r.f.Close()
	r.f = nil
	r.enc = nil
	return err
}

// Tee fans driver events out to several sinks in order.
func Tee(sinks ...engine.Reporter) engine.Reporter {
	return &tee{sinks: sinks}
}

type tee struct {
	sinks []engine.Reporter
}

func (t *tee) Transition(tr plan.Transition) {
	for _, s := range t.sinks {
		s.Transition(tr)
	}
}

func (t *tee) Outcome(o plan.Outcome) {
	for _, s := range t.sinks {
		s.Outcome(o)
	}
}

// shortID keeps the first uuid group so file names stay readable.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
