package commands

import (
	"github.com/spf13/cobra"

	"github.com/labrig/labrig/cmd/labrig/handlers"
)

// Hosts returns the command for listing and checking lab hosts.
func Hosts() *cobra.Command {
	var configPath string
	var check bool

	cmd := &cobra.Command{
		Use:   "hosts",
		Short: "List the configured lab hosts",
		Long: `List the lab hosts plans may target.

With --check, a trivial probe is dispatched to every host over its
configured transport, so connection problems surface before a real run.

Examples:
  # List hosts
  labrig hosts

  # Prove every host answers
  labrig hosts --check`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Hosts(cmd.Context(), configPath, check)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: labrig.yaml)")
	cmd.Flags().BoolVar(&check, "check", false, "Dispatch a reachability probe to every host")

	return cmd
}

// Plans returns the command for listing available plans.
func Plans() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "plans",
		Short: "List the plans in the plans directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Plans(cmd.Context(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file (default: labrig.yaml)")

	return cmd
}

// Catalog returns the command for listing built-in actions and probes.
func Catalog() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List the built-in collaborator actions and probes",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Catalog(cmd.Context())
		},
	}
}
