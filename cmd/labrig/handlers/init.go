package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/labrig/labrig/internal/config"
)

// Factory function variables for init - can be replaced in tests.
var (
	// fileExists checks if a file exists.
	fileExists = func(path string) bool {
		_, err := os.Stat(path)
		return err == nil
	}

	// runWizard runs the interactive topology wizard.
	runWizard = config.RunWizard

	// saveConfig writes the config to a file.
	saveConfig = config.Save

	// writeFile writes data to a file (for testing injection).
	writeFile = os.WriteFile
)

// Init runs the topology wizard, writes labrig.yaml and scaffolds an
// example plan in the plans directory.
func Init(ctx context.Context, outputPath string) error {
	if fileExists(outputPath) {
		fmt.Printf("Warning: %s already exists and will be overwritten.\n\n", outputPath)
	}

	printWelcome()

	result, err := runWizard(ctx)
	if err != nil {
		return fmt.Errorf("wizard canceled: %w", err)
	}

	cfg := result.ToConfig()

	if err := saveConfig(cfg, outputPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	planPath, err := scaffoldExamplePlan(cfg, filepath.Dir(outputPath))
	if err != nil {
		return fmt.Errorf("failed to scaffold example plan: %w", err)
	}

	printInitSuccess(outputPath, planPath, cfg)
	return nil
}

// printWelcome prints the welcome message.
func printWelcome() {
	fmt.Println()
	fmt.Println("labrig - lab topology provisioning")
	fmt.Println("==================================")
	fmt.Println()
	fmt.Println("This wizard describes your lab machines and how to reach them.")
	fmt.Println("Plans live next to the config and reference hosts by id.")
	fmt.Println()
}

// scaffoldExamplePlan writes a starter plan exercising the configured
// hosts, so 'labrig apply example --dry-run' works right after init.
func scaffoldExamplePlan(cfg *config.Config, baseDir string) (string, error) {
	plansDir := cfg.PlansDir
	if plansDir == "" {
		plansDir = config.DefaultPlansDir
	}
	dir := filepath.Join(baseDir, plansDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	path := filepath.Join(dir, "example.yaml")
	if fileExists(path) {
		return path, nil
	}
	if err := writeFile(path, []byte(examplePlan(cfg)), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// examplePlan builds a starter plan for the wizard's host set.
func examplePlan(cfg *config.Config) string {
	host := cfg.Hosts[0].ID
	return fmt.Sprintf(`plan: example
description: starter plan; replace the stages with your own bring-up

stages:
  - id: host-ready
    host: %[1]s
    description: the host answers at all
    action:
      run: "true"

  - id: clock-synced
    host: %[1]s
    needs: [host-ready]
    description: skip when NTP is already synchronized
    pre:
      run: timedatectl show --property=NTPSynchronized --value | grep -q yes
    action:
      run: systemctl restart systemd-timesyncd
    post:
      run: timedatectl show --property=NTPSynchronized --value | grep -q yes
      retryable: true
    retry:
      max_attempts: 4
      initial_delay: 5s
      multiplier: 2
      max_delay: 30s
`, host)
}

// printInitSuccess prints the success message with summary and next steps.
func printInitSuccess(outputPath, planPath string, cfg *config.Config) {
	fmt.Println()
	fmt.Println("Configuration saved!")
	fmt.Println()
	fmt.Printf("  Config: %s\n", outputPath)
	fmt.Printf("  Plan:   %s\n", planPath)
	fmt.Println()

	fmt.Println("Lab Summary")
	fmt.Println("-----------")
	fmt.Printf("  Name:  %s\n", cfg.Lab)
	fmt.Printf("  Hosts: %d\n", len(cfg.Hosts))
	for _, h := range cfg.Hosts {
		target := h.Address
		if h.Transport == config.TransportLocal {
			target = "local"
		}
		fmt.Printf("    %-8s %-10s %s\n", h.ID, h.Transport, target)
	}
	fmt.Println()

	fmt.Println("Next Steps")
	fmt.Println("----------")
	fmt.Println("  1. labrig hosts --check        # confirm every host answers")
	fmt.Println("  2. labrig apply example --dry-run")
	fmt.Println("  3. Edit plans/ to describe your bring-up, then labrig apply <plan>")
	fmt.Println()
}
