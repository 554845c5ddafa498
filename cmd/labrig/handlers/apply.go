package handlers

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/labrig/labrig/internal/actions"
	"github.com/labrig/labrig/internal/config"
	"github.com/labrig/labrig/internal/engine"
	"github.com/labrig/labrig/internal/history"
	"github.com/labrig/labrig/internal/plan"
	"github.com/labrig/labrig/internal/report"
	"github.com/labrig/labrig/internal/server"
	"github.com/labrig/labrig/internal/ui/tui"
)

// Factory function variables - can be replaced in tests for dependency injection.
var (
	// loadConfigFile loads and validates the lab configuration.
	loadConfigFile = config.Load

	// findConfigFile locates labrig.yaml when no path is given.
	findConfigFile = config.FindConfigFile

	// loadPlanFile loads a plan file.
	loadPlanFile = plan.Load

	// newDriver builds the orchestration driver.
	newDriver = engine.New

	// openHistory opens the run history store.
	openHistory = history.Open

	// newLogReporter opens the per-run transition log.
	newLogReporter = report.NewLogReporter

	// runDashboard wraps a run with the live TUI.
	runDashboard = tui.Run

	// stdoutIsTerminal reports whether stdout is a TTY.
	stdoutIsTerminal = func() bool {
		return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
	}
)

// ApplyOptions are the apply command's flags.
type ApplyOptions struct {
	ConfigPath  string
	PlanArg     string
	PlanFile    string
	Hosts       []string
	DryRun      bool
	Force       bool
	NoTUI       bool
	Concurrency int
	StatusAddr  string
	LogDir      string
	Verbose     bool
}

// Apply runs a provisioning plan against the configured lab.
//
// The flow is:
//  1. Load labrig.yaml and the selected plan, narrow to --hosts lanes.
//  2. Validate plan structure and catalog references; exit 2 on any
//     problem, before a single command is dispatched.
//  3. Dry-run prints the scheduling waves and stops.
//  4. Run the driver with the transition log, metrics, optional status
//     endpoint and, on a terminal, the live dashboard.
//  5. Persist the sealed run, print the summary, map the verdict to
//     the process exit code.
func Apply(ctx context.Context, opts ApplyOptions) error {
	cfg, p, err := loadAndValidate(opts.ConfigPath, opts.PlanArg, opts.PlanFile, opts.Hosts)
	if err != nil {
		return err
	}

	if opts.DryRun {
		printDryRun(p, opts.Force)
		return nil
	}

	runID := uuid.NewString()
	startedAt := time.Now()

	logDir := cfg.LogDir
	if opts.LogDir != "" {
		logDir = opts.LogDir
	}

	useTUI := !opts.NoTUI && stdoutIsTerminal()
	consoleLog := report.NewConsoleLogger(opts.Verbose)
	if useTUI {
		// The dashboard owns the terminal; transitions still go to
		// the run log file.
		consoleLog = zap.NewNop()
	}
	logReporter, err := newLogReporter(consoleLog, logDir, runID, startedAt)
	if err != nil {
		return err
	}
	defer logReporter.Close()

	registry := prometheus.NewRegistry()
	metrics := report.NewMetrics(registry)

	sinks := []engine.Reporter{logReporter, metrics}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var tracker *server.Tracker
	serverErrs := make(chan error, 1)
	if opts.StatusAddr != "" {
		tracker = server.NewTracker(runID, cfg.Lab, p)
		sinks = append(sinks, tracker)
		go server.Serve(ctx, opts.StatusAddr, server.NewHandler(tracker, registry), serverErrs)
	}

	var run *plan.Run
	if useTUI {
		err = runDashboard(cancel, cfg.Lab, p, runID, func(r tui.Reporter) {
			driver := newDriver(cfg, engine.Options{
				Concurrency: opts.Concurrency,
				Force:       opts.Force,
				RunID:       runID,
				Reporter:    report.Tee(append(sinks, r)...),
			})
			run = driver.Run(ctx, p)
		})
		if err != nil {
			return err
		}
	} else {
		driver := newDriver(cfg, engine.Options{
			Concurrency: opts.Concurrency,
			Force:       opts.Force,
			RunID:       runID,
			Reporter:    report.Tee(sinks...),
		})
		run = driver.Run(ctx, p)
	}

	metrics.RecordRun(run)

	select {
	case err := <-serverErrs:
		log.Printf("Warning: %v", err)
	default:
	}

	if err := saveRun(cfg.HistoryDB, run); err != nil {
		log.Printf("Warning: failed to record run history: %v", err)
	}

	fmt.Print(report.Summary(run))
	fmt.Printf("Transition log: %s\n", logReporter.Path())

	if code := run.ExitCode(); code != ExitOK {
		return &ExitError{Code: code}
	}
	return nil
}

// loadAndValidate loads the configuration and the selected plan,
// narrows it to the requested hosts, and validates it. All validation
// problems map to exit code 2.
func loadAndValidate(configPath, planArg, planFile string, hosts []string) (*config.Config, *plan.Plan, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	path := planFile
	if path == "" {
		if planArg == "" {
			return nil, nil, invalid(fmt.Errorf("no plan given: pass a plan name or --file\nPlans directory: %s", cfg.PlansDir))
		}
		path = plan.Resolve(cfg.PlansDir, planArg)
	}

	p, err := loadPlanFile(path)
	if err != nil {
		return nil, nil, invalid(err)
	}

	if len(hosts) > 0 {
		filtered, pruned := p.FilterHosts(hosts)
		if len(filtered.Stages) == 0 {
			return nil, nil, invalid(fmt.Errorf("no stages match hosts %v", hosts))
		}
		if pruned > 0 {
			log.Printf("Warning: host filter cut %d dependency edge(s); the narrowed plan assumes those stages already hold", pruned)
		}
		p = filtered
	}

	if err := p.Validate(cfg.HostIDs(), cfg.Defaults.Retry); err != nil {
		return nil, nil, invalid(fmt.Errorf("plan %s is invalid: %w", p.Name, err))
	}
	if err := actions.ValidatePlan(p); err != nil {
		return nil, nil, invalid(fmt.Errorf("plan %s is invalid: %w", p.Name, err))
	}
	return cfg, p, nil
}

// loadConfig loads and validates the lab configuration. If configPath
// is empty, it looks for labrig.yaml walking up from the current
// directory.
func loadConfig(configPath string) (*config.Config, error) {
	if configPath == "" {
		path, err := findConfigFile()
		if err != nil {
			return nil, fmt.Errorf("no config file found: %w\nRun 'labrig init' to create one", err)
		}
		configPath = path
	}

	cfg, err := loadConfigFile(configPath)
	if err != nil {
		return nil, invalid(err)
	}
	return cfg, nil
}

// printDryRun prints the scheduling waves without probing or acting.
func printDryRun(p *plan.Plan, force bool) {
	fmt.Printf("Plan %s: %d stage(s) across %d host(s)\n", p.Name, len(p.Stages), len(p.Hosts()))
	if force {
		fmt.Println("Preconditions will be skipped (--force): every action executes.")
	}
	fmt.Println()

	for i, wave := range p.ExecutionOrder() {
		fmt.Printf("  wave %d:\n", i+1)
		for _, id := range wave {
			s, _ := p.StageByID(id)
			desc := s.Description
			if desc == "" {
				desc = actionRef(s)
			}
			fmt.Printf("    %-12s %-24s %s\n", s.Host, s.ID, desc)
		}
	}
	fmt.Println()
	fmt.Println("Dry run: no probes executed, no actions dispatched.")
}

func actionRef(s *plan.Stage) string {
	if s.Uses != "" {
		return s.Uses
	}
	if s.Action != nil {
		return s.Action.Run
	}
	return ""
}

// saveRun persists a sealed run to the history store.
func saveRun(dbPath string, run *plan.Run) error {
	store, err := openHistory(dbPath)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Save(run)
}
