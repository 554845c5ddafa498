package commands

import (
	"github.com/spf13/cobra"

	"github.com/labrig/labrig/cmd/labrig/handlers"
	"github.com/labrig/labrig/internal/config"
)

// Init returns the command for creating a new lab configuration.
//
// This command runs an interactive wizard that describes the lab
// machines and how to reach them, then scaffolds labrig.yaml and an
// example plan.
func Init() *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a lab configuration interactively",
		Long: `Create a new lab configuration with an interactive wizard.

The wizard asks for the lab name, SSH access and the core machine
addresses, then writes labrig.yaml and a starter plan.

Examples:
  # Create labrig.yaml in the current directory
  labrig init

  # Write the configuration somewhere else
  labrig init -o lab/labrig.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Init(cmd.Context(), outputPath)
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", config.DefaultConfigFilename, "Where to write the configuration")

	return cmd
}
