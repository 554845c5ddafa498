// Package commands defines the CLI command structure and flag bindings.
//
// This package contains cobra command definitions that handle argument
// parsing, flag binding, and validation. Command execution is delegated
// to handler functions in the handlers package.
package commands

import "github.com/spf13/cobra"

// Root returns the root command for the labrig CLI.
//
// The root command serves as the entry point and parent for all
// subcommands. It provides basic CLI metadata and organizes the
// command hierarchy.
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "labrig",
		Short:         "Bring up multi-machine lab topologies with idempotent plans",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Core commands
	cmd.AddCommand(Init())
	cmd.AddCommand(Apply())
	cmd.AddCommand(Validate())
	cmd.AddCommand(Hosts())
	cmd.AddCommand(Plans())
	cmd.AddCommand(Runs())

	// Utility commands
	cmd.AddCommand(Catalog())
	cmd.AddCommand(Version())
	cmd.AddCommand(Completion())

	return cmd
}
