package commands

import (
	"github.com/spf13/cobra"

	"github.com/labrig/labrig/cmd/labrig/handlers"
)

// Apply returns the command for running a provisioning plan.
//
// This command walks the plan's stages across the lab hosts: each
// stage checks its precondition, dispatches its action if needed,
// retries against eventually-consistent state per its policy, and
// confirms its postcondition.
//
// Exit codes:
//
//	0: every stage succeeded or was skipped
//	1: one or more stages failed
//	2: plan validation error (cycle, unknown host, bad reference)
//	3: aborted by cancellation before completion
func Apply() *cobra.Command {
	var opts handlers.ApplyOptions

	cmd := &cobra.Command{
		Use:   "apply [plan]",
		Short: "Run a provisioning plan against the lab",
		Long: `Run a provisioning plan against the configured lab.

Stages run strictly in order per host; hosts proceed in parallel up to
--concurrency, ordered across hosts only by the plan's needs edges.
A stage whose precondition already holds is skipped, so re-applying a
fully provisioned plan is a no-op.

The plan argument is a name resolved in the plans directory, or use
--file for an explicit path.

Examples:
  # Run the bringup plan
  labrig apply bringup

  # Show what would run, in scheduling order, without touching hosts
  labrig apply bringup --dry-run

  # Re-run only the database server's lane
  labrig apply bringup --hosts db1

  # Execute every action even where preconditions hold
  labrig apply bringup --force`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				opts.PlanArg = args[0]
			}
			return handlers.Apply(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "Path to configuration file (default: labrig.yaml)")
	cmd.Flags().StringVarP(&opts.PlanFile, "file", "f", "", "Path to a plan file (instead of a plan name)")
	cmd.Flags().StringSliceVar(&opts.Hosts, "hosts", nil, "Run only the lanes of these host ids")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "Print the stages that would execute and in what order")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Skip precondition checks, always execute actions")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "Max host lanes running at once (default from config)")
	cmd.Flags().BoolVar(&opts.NoTUI, "no-tui", false, "Disable the live dashboard, log transitions instead")
	cmd.Flags().StringVar(&opts.StatusAddr, "status-addr", "", "Serve live run status and metrics on this address (e.g. :9090)")
	cmd.Flags().StringVar(&opts.LogDir, "log-dir", "", "Override the run log directory")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Log probe transitions too")

	return cmd
}
