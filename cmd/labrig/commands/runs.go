package commands

import (
	"github.com/spf13/cobra"

	"github.com/labrig/labrig/cmd/labrig/handlers"
)

// Runs returns the parent command for run history operations.
func Runs() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect and manage recorded runs",
		Long: `Inspect and manage the run history.

Every completed apply is recorded: its plan, its per-stage outcomes
and the captured diagnostics of everything that did not pass.`,
	}

	cmd.AddCommand(runsList())
	cmd.AddCommand(runsShow())
	cmd.AddCommand(runsPrune())
	cmd.AddCommand(runsArchive())

	return cmd
}

func runsList() *cobra.Command {
	var configPath string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent runs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.RunsList(cmd.Context(), configPath, limit)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: labrig.yaml)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to list")

	return cmd
}

func runsShow() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run's full summary",
		Long: `Show a recorded run's summary: every stage's terminal state and the
diagnostics of everything that failed, was blocked or warned.

Unambiguous run id prefixes are accepted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.RunsShow(cmd.Context(), configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: labrig.yaml)")

	return cmd
}

func runsPrune() *cobra.Command {
	var configPath string
	var keep int

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the newest runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.RunsPrune(cmd.Context(), configPath, keep)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: labrig.yaml)")
	cmd.Flags().IntVar(&keep, "keep", 20, "How many runs to keep")

	return cmd
}

func runsArchive() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "archive <run-id>",
		Short: "Upload a run's record and transition log to object storage",
		Long: `Upload a recorded run to the configured S3-compatible archive.

Requires an archive block in labrig.yaml and credentials in the
LABRIG_S3_ACCESS_KEY and LABRIG_S3_SECRET_KEY environment variables.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return handlers.RunsArchive(cmd.Context(), configPath, args[0])
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: labrig.yaml)")

	return cmd
}
