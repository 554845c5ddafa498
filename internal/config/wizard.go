package config

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
)

// WizardResult holds the user's choices from the init wizard.
type WizardResult struct {
	LabName       string
	SSHUser       string
	IdentityFile  string
	DirectoryAddr string
	DatabaseAddr  string
	LocalHost     bool
}

// RunWizard runs the interactive init wizard.
func RunWizard(ctx context.Context) (*WizardResult, error) {
	result := &WizardResult{
		// Defaults
		SSHUser:      "labadmin",
		IdentityFile: "~/.ssh/id_ed25519",
		LocalHost:    true,
	}

	// Build the form
	form := huh.NewForm(
		// Lab identity
		huh.NewGroup(
			huh.NewInput().
				Title("Lab name").
				Description("A unique name for this lab (DNS-safe, lowercase)").
				Placeholder("corelab").
				Value(&result.LabName).
				Validate(validateLabName),
		),

		// SSH access
		huh.NewGroup(
			huh.NewInput().
				Title("SSH user").
				Description("Account labrig logs in as on lab machines").
				Value(&result.SSHUser).
				Validate(validateRequired("ssh user")),

			huh.NewInput().
				Title("SSH identity file").
				Description("Private key used for all hosts (~/ expands)").
				Value(&result.IdentityFile).
				Validate(validateRequired("identity file")),
		),

		// Hosts
		huh.NewGroup(
			huh.NewInput().
				Title("Directory server address").
				Description("Hostname or IP of the directory server (dc1)").
				Placeholder("10.20.0.10").
				Value(&result.DirectoryAddr).
				Validate(validateRequired("directory server address")),

			huh.NewInput().
				Title("Database server address (optional)").
				Description("Hostname or IP of the database server (db1). Leave empty to skip.").
				Placeholder("10.20.0.11").
				Value(&result.DatabaseAddr),

			huh.NewConfirm().
				Title("Include this machine?").
				Description("Adds a local-transport host (ws1) for workstation stages").
				Value(&result.LocalHost),
		),
	)

	// Run the form
	if err := form.RunWithContext(ctx); err != nil {
		return nil, fmt.Errorf("wizard canceled: %w", err)
	}

	return result, nil
}

// ToConfig converts the wizard result to a Config.
func (r *WizardResult) ToConfig() *Config {
	cfg := &Config{
		Lab: r.LabName,
		Hosts: []Host{
			{
				ID:           "dc1",
				Address:      r.DirectoryAddr,
				Transport:    TransportSSH,
				User:         r.SSHUser,
				IdentityFile: r.IdentityFile,
				Roles:        []string{"directory"},
			},
		},
	}

	if r.DatabaseAddr != "" {
		cfg.Hosts = append(cfg.Hosts, Host{
			ID:           "db1",
			Address:      r.DatabaseAddr,
			Transport:    TransportSSH,
			User:         r.SSHUser,
			IdentityFile: r.IdentityFile,
			Roles:        []string{"database"},
		})
	}

	if r.LocalHost {
		cfg.Hosts = append(cfg.Hosts, Host{
			ID:        "ws1",
			Transport: TransportLocal,
			Roles:     []string{"workstation"},
		})
	}

	return cfg
}

// validateLabName validates the lab name.
func validateLabName(s string) error {
	if s == "" {
		return fmt.Errorf("lab name is required")
	}
	s = strings.ToLower(s)
	if len(s) > 63 {
		return fmt.Errorf("lab name must be 63 characters or less")
	}
	if !nameRegex.MatchString(s) {
		return fmt.Errorf("lab name can only contain lowercase letters, numbers, and hyphens")
	}
	return nil
}

// validateRequired returns a validator that rejects empty input.
func validateRequired(what string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", what)
		}
		return nil
	}
}
