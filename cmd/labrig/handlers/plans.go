package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/labrig/labrig/internal/actions"
	"github.com/labrig/labrig/internal/plan"
)

// Plans lists the plans in the configured plans directory.
func Plans(_ context.Context, configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	names, err := plan.List(cfg.PlansDir)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Printf("No plans in %s.\n", cfg.PlansDir)
		return nil
	}

	for _, name := range names {
		p, err := plan.Load(plan.Resolve(cfg.PlansDir, name))
		if err != nil {
			fmt.Printf("  %-16s (unreadable: %v)\n", name, err)
			continue
		}
		fmt.Printf("  %-16s %d stage(s), hosts: %s\n", name, len(p.Stages), strings.Join(p.Hosts(), ", "))
		if p.Description != "" {
			fmt.Printf("  %-16s %s\n", "", p.Description)
		}
	}
	return nil
}

// Catalog lists the built-in collaborator actions and probes plans can
// reference with uses:.
func Catalog(_ context.Context) error {
	fmt.Println("Built-in catalog (reference with uses:):")
	fmt.Println()

	entries := actions.Catalog()
	for _, kind := range []string{"action", "probe"} {
		fmt.Printf("%ss:\n", strings.ToUpper(kind[:1])+kind[1:])
		for _, e := range entries {
			if e.Kind != kind {
				continue
			}
			fmt.Printf("  %-26s %s\n", e.Ref, e.Summary)
			if len(e.Required) > 0 {
				fmt.Printf("  %-26s   with: %s\n", "", strings.Join(e.Required, ", "))
			}
		}
		fmt.Println()
	}
	return nil
}
