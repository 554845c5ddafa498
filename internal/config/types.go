// Package config defines the lab topology and tool configuration
// loaded from labrig.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/labrig/labrig/internal/util/retry"
	"github.com/labrig/labrig/internal/util/yamltime"
)

// nameRegex is compiled once at package init for lab and host names.
var nameRegex = regexp.MustCompile(`^[a-z]([a-z0-9-]*[a-z0-9])?$`)

// Defaults for optional fields, applied by ApplyDefaults.
const (
	DefaultPlansDir       = "plans"
	DefaultLogDir         = ".labrig/logs"
	DefaultHistoryDB      = ".labrig/history.db"
	DefaultConcurrency    = 4
	DefaultSSHPort        = 22
	DefaultIdentityFile   = "~/.ssh/id_ed25519"
	DefaultCommandTimeout = 5 * time.Minute
)

// Config is the root of labrig.yaml: which machines the lab has, how
// to reach them, and the defaults every plan inherits.
type Config struct {
	// Lab names the environment. Used in run IDs, log file names and
	// archive keys. Must be DNS-safe: lowercase alphanumeric and
	// hyphens, starting with a letter.
	Lab string `yaml:"lab"`

	// PlansDir is where plan files live, relative to the config file.
	PlansDir string `yaml:"plans_dir,omitempty"`

	// LogDir receives the append-only per-run transition logs.
	LogDir string `yaml:"log_dir,omitempty"`

	// HistoryDB is the SQLite file recording sealed runs.
	HistoryDB string `yaml:"history_db,omitempty"`

	// Defaults apply to every stage that does not override them.
	Defaults Defaults `yaml:"defaults,omitempty"`

	// Archive, when set, uploads sealed run records to object storage.
	Archive *Archive `yaml:"archive,omitempty"`

	// Hosts are the machines plans may target.
	Hosts []Host `yaml:"hosts"`
}

// Defaults are inherited by stages that do not set their own values.
type Defaults struct {
	// Concurrency caps how many hosts may execute stages at once.
	Concurrency int `yaml:"concurrency,omitempty"`

	// CommandTimeout bounds a single action or probe command.
	CommandTimeout yamltime.Duration `yaml:"command_timeout,omitempty"`

	// Retry is the backoff policy for stages without their own.
	Retry retry.Policy `yaml:"retry,omitempty"`
}

// Host is one machine in the lab.
type Host struct {
	// ID is the name plans use to target this host. Must be DNS-safe.
	ID string `yaml:"id"`

	// Address is the hostname or IP to dial. Ignored for local.
	Address string `yaml:"address,omitempty"`

	// Port is the SSH port, 22 when unset.
	Port int `yaml:"port,omitempty"`

	// Transport selects how commands reach the host.
	Transport Transport `yaml:"transport,omitempty"`

	// User is the account commands run as over SSH.
	User string `yaml:"user,omitempty"`

	// IdentityFile is the SSH private key path. "~/" expands to the
	// home directory of the user running labrig.
	IdentityFile string `yaml:"identity_file,omitempty"`

	// Roles tag the host for listings and scaffolded plans, e.g.
	// "directory" or "database". labrig itself attaches no meaning.
	Roles []string `yaml:"roles,omitempty"`
}

// Transport is how labrig reaches a host.
type Transport string

const (
	// TransportSSH dispatches commands over SSH.
	TransportSSH Transport = "ssh"

	// TransportLocal runs commands on the machine labrig runs on.
	TransportLocal Transport = "local"
)

// ValidTransports returns all valid transports.
func ValidTransports() []Transport {
	return []Transport{TransportSSH, TransportLocal}
}

// IsValid returns true if the transport is known.
func (t Transport) IsValid() bool {
	switch t {
	case TransportSSH, TransportLocal:
		return true
	default:
		return false
	}
}

// Archive configures sealed-run upload to S3-compatible storage.
// Credentials come from the LABRIG_S3_ACCESS_KEY and
// LABRIG_S3_SECRET_KEY environment variables.
type Archive struct {
	// Endpoint is the S3-compatible endpoint URL.
	Endpoint string `yaml:"endpoint"`

	// Region is passed through to the S3 client.
	Region string `yaml:"region"`

	// Bucket receives run records.
	Bucket string `yaml:"bucket"`

	// Prefix is prepended to object keys.
	Prefix string `yaml:"prefix,omitempty"`
}

// ApplyDefaults fills unset optional fields. Load calls this before
// Validate, so a validated config always has complete defaults.
func (c *Config) ApplyDefaults() {
	if c.PlansDir == "" {
		c.PlansDir = DefaultPlansDir
	}
	if c.LogDir == "" {
		c.LogDir = DefaultLogDir
	}
	if c.HistoryDB == "" {
		c.HistoryDB = DefaultHistoryDB
	}
	if c.Defaults.Concurrency == 0 {
		c.Defaults.Concurrency = DefaultConcurrency
	}
	if c.Defaults.CommandTimeout == 0 {
		c.Defaults.CommandTimeout = yamltime.Duration(DefaultCommandTimeout)
	}
	if c.Defaults.Retry.MaxAttempts == 0 {
		c.Defaults.Retry = retry.DefaultPolicy()
	}

	for i := range c.Hosts {
		h := &c.Hosts[i]
		if h.Transport == "" {
			h.Transport = TransportSSH
		}
		if h.Transport == TransportSSH {
			if h.Port == 0 {
				h.Port = DefaultSSHPort
			}
			if h.IdentityFile == "" {
				h.IdentityFile = DefaultIdentityFile
			}
		}
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	var errs []error

	// Lab: required, DNS-safe
	if c.Lab == "" {
		errs = append(errs, errors.New("lab is required"))
	} else if !nameRegex.MatchString(c.Lab) {
		errs = append(errs, errors.New("lab must be DNS-safe (lowercase alphanumeric and hyphens, must start with a letter)"))
	}

	// Hosts: at least one, unique DNS-safe ids, reachable over a known transport
	if len(c.Hosts) == 0 {
		errs = append(errs, errors.New("at least one host is required"))
	}
	seen := make(map[string]bool, len(c.Hosts))
	for i, h := range c.Hosts {
		name := h.ID
		if name == "" {
			name = fmt.Sprintf("hosts[%d]", i)
		}

		if h.ID == "" {
			errs = append(errs, fmt.Errorf("%s: id is required", name))
		} else if !nameRegex.MatchString(h.ID) {
			errs = append(errs, fmt.Errorf("host %s: id must be DNS-safe (lowercase alphanumeric and hyphens, must start with a letter)", name))
		}
		if seen[h.ID] {
			errs = append(errs, fmt.Errorf("host %s: duplicate id", name))
		}
		seen[h.ID] = true

		if !h.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("host %s: transport must be one of: %v", name, ValidTransports()))
			continue
		}
		if h.Transport == TransportSSH {
			if h.Address == "" {
				errs = append(errs, fmt.Errorf("host %s: address is required for ssh transport", name))
			}
			if h.User == "" {
				errs = append(errs, fmt.Errorf("host %s: user is required for ssh transport", name))
			}
			if h.Port < 1 || h.Port > 65535 {
				errs = append(errs, fmt.Errorf("host %s: port must be 1-65535, got %d", name, h.Port))
			}
		}
	}

	// Defaults
	if c.Defaults.Concurrency < 1 {
		errs = append(errs, errors.New("defaults.concurrency must be >= 1"))
	}
	if err := c.Defaults.Retry.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("defaults.retry: %w", err))
	}

	// Archive: if set, complete and credentialed
	if c.Archive != nil {
		if c.Archive.Endpoint == "" {
			errs = append(errs, errors.New("archive.endpoint is required when archive is set"))
		}
		if c.Archive.Region == "" {
			errs = append(errs, errors.New("archive.region is required when archive is set"))
		}
		if c.Archive.Bucket == "" {
			errs = append(errs, errors.New("archive.bucket is required when archive is set"))
		}
		if os.Getenv("LABRIG_S3_ACCESS_KEY") == "" {
			errs = append(errs, errors.New("LABRIG_S3_ACCESS_KEY environment variable required when archive is set"))
		}
		if os.Getenv("LABRIG_S3_SECRET_KEY") == "" {
			errs = append(errs, errors.New("LABRIG_S3_SECRET_KEY environment variable required when archive is set"))
		}
	}

	return errors.Join(errs...)
}

// HostByID returns the host with the given id.
func (c *Config) HostByID(id string) (*Host, bool) {
	for i := range c.Hosts {
		if c.Hosts[i].ID == id {
			return &c.Hosts[i], true
		}
	}
	return nil, false
}

// HostIDs returns all host ids in declaration order.
func (c *Config) HostIDs() []string {
	ids := make([]string, 0, len(c.Hosts))
	for _, h := range c.Hosts {
		ids = append(ids, h.ID)
	}
	return ids
}

// HasArchive returns true if run archiving is configured.
func (c *Config) HasArchive() bool {
	return c.Archive != nil
}
