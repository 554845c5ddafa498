// Package main is the entry point for the labrig CLI.
//
// labrig brings up multi-machine lab topologies (directory server,
// database server, client endpoints) by running ordered, idempotent
// provisioning plans over SSH or local exec. Stages check their
// preconditions before acting, retry against eventually-consistent
// remote state, and confirm their effect afterwards.
//
// Commands: init, apply, validate, hosts, plans, runs.
//
// For detailed usage information, run:
//
//	labrig --help
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/labrig/labrig/cmd/labrig/commands"
	"github.com/labrig/labrig/cmd/labrig/handlers"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().Execute(); err != nil {
		var exit *handlers.ExitError
		if errors.As(err, &exit) {
			if exit.Err != nil {
				fmt.Fprintln(os.Stderr, exit.Err)
			}
			os.Exit(exit.Code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
