// Package platform wires configured hosts to their transports.
package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/labrig/labrig/internal/config"
	"github.com/labrig/labrig/internal/dispatch"
	"github.com/labrig/labrig/internal/platform/local"
	"github.com/labrig/labrig/internal/platform/ssh"
)

// Connect builds the transport for a host. SSH hosts get a lazy client
// that dials on first use, so Connect itself never touches the network.
func Connect(h config.Host) (dispatch.Transport, error) {
	switch h.Transport {
	case config.TransportLocal:
		return local.New(), nil

	case config.TransportSSH:
		keyPath, err := ExpandHome(h.IdentityFile)
		if err != nil {
			return nil, fmt.Errorf("host %s: %w", h.ID, err)
		}
		key, err := os.ReadFile(keyPath)
		if err != nil {
			return nil, fmt.Errorf("host %s: failed to read identity file: %w", h.ID, err)
		}
		client, err := ssh.NewClient(&ssh.Config{
			Host:       h.Address,
			Port:       h.Port,
			User:       h.User,
			PrivateKey: key,
		})
		if err != nil {
			return nil, fmt.Errorf("host %s: %w", h.ID, err)
		}
		return client, nil

	default:
		return nil, fmt.Errorf("host %s: unknown transport %q", h.ID, h.Transport)
	}
}

// ExpandHome resolves a leading "~/" against the current user's home
// directory.
func ExpandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to resolve home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
