package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/labrig/labrig/internal/config"
	"github.com/labrig/labrig/internal/dispatch"
	"github.com/labrig/labrig/internal/platform"
)

// connectHost opens a transport to a host - replaced in tests.
var connectHost = platform.Connect

// reachabilityTimeout bounds the probe dispatched by 'hosts --check'.
const reachabilityTimeout = 15 * time.Second

// Hosts lists the configured lab hosts. With check, it dispatches a
// trivial probe to each host and reports reachability; an unreachable
// host makes the command fail.
func Hosts(ctx context.Context, configPath string, check bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	fmt.Printf("Lab %s: %d host(s)\n\n", cfg.Lab, len(cfg.Hosts))

	unreachable := 0
	for _, h := range cfg.Hosts {
		target := h.Address
		if h.Transport == config.TransportLocal {
			target = "local"
		}
		roles := strings.Join(h.Roles, ",")

		line := fmt.Sprintf("  %-10s %-8s %-20s %s", h.ID, h.Transport, target, roles)
		if !check {
			fmt.Println(line)
			continue
		}

		if err := checkHost(ctx, h); err != nil {
			unreachable++
			fmt.Printf("%s  UNREACHABLE: %v\n", line, err)
		} else {
			fmt.Printf("%s  ok\n", line)
		}
	}

	if unreachable > 0 {
		return fmt.Errorf("%d host(s) unreachable", unreachable)
	}
	return nil
}

// checkHost dispatches a no-op command to prove the transport works.
func checkHost(ctx context.Context, h config.Host) error {
	tr, err := connectHost(h)
	if err != nil {
		return err
	}
	defer tr.Close()

	res, err := tr.Run(ctx, dispatch.Command{Line: "true", Timeout: reachabilityTimeout})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("probe exited %d", res.ExitCode)
	}
	return nil
}
