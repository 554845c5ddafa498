package handlers

import (
	"context"
	"fmt"
)

// Validate checks a plan's structure against the configured lab
// without touching any host. Exit code 2 on any problem, matching what
// apply would have rejected.
func Validate(_ context.Context, configPath, planArg, planFile string, hosts []string) error {
	_, p, err := loadAndValidate(configPath, planArg, planFile, hosts)
	if err != nil {
		return err
	}

	fmt.Printf("Plan %s is valid: %d stage(s) across %d host(s).\n", p.Name, len(p.Stages), len(p.Hosts()))
	return nil
}
