package commands

import (
	"github.com/spf13/cobra"

	"github.com/labrig/labrig/cmd/labrig/handlers"
)

// Validate returns the command for checking a plan without running it.
//
// Validation covers everything apply would reject before dispatching:
// stage ids, host references, catalog references, retry policies and
// the dependency graph (cycles, dangling needs).
func Validate() *cobra.Command {
	var configPath string
	var planFile string
	var hosts []string

	cmd := &cobra.Command{
		Use:   "validate [plan]",
		Short: "Check a plan's structure without touching any host",
		Long: `Check a plan against the configured lab without probing or acting.

Exits 2 on any structural problem, exactly as apply would before its
first dispatch.

Examples:
  # Validate the bringup plan
  labrig validate bringup

  # Validate an explicit file
  labrig validate --file ./plans/bringup.yaml`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			planArg := ""
			if len(args) > 0 {
				planArg = args[0]
			}
			return handlers.Validate(cmd.Context(), configPath, planArg, planFile, hosts)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: labrig.yaml)")
	cmd.Flags().StringVarP(&planFile, "file", "f", "", "Path to a plan file (instead of a plan name)")
	cmd.Flags().StringSliceVar(&hosts, "hosts", nil, "Validate the narrowed plan for these host ids")

	return cmd
}
