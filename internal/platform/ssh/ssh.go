package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/labrig/labrig/internal/dispatch"
)

const (
	defaultPort        = 22
	defaultDialTimeout = 10 * time.Second

	// killGrace is how long Run waits for a killed session to unwind
	// before reading the output buffers.
	killGrace = 2 * time.Second
)

// Config holds SSH client configuration.
type Config struct {
	Host       string
	Port       int
	User       string
	PrivateKey []byte

	// DialTimeout bounds the TCP dial and the SSH handshake.
	// If zero, defaultDialTimeout is used.
	DialTimeout time.Duration

	// HostKeyCallback handles host key verification.
	// If nil, ssh.InsecureIgnoreHostKey() is used.
	HostKeyCallback ssh.HostKeyCallback
}

// Client executes commands on one remote host. It implements
// dispatch.Transport and is safe for concurrent use.
type Client struct {
	config *Config
	signer ssh.Signer

	mu   sync.Mutex
	conn *ssh.Client
}

// NewClient creates a new SSH client and validates the private key.
// No connection is made until the first Run.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("config host cannot be empty")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("config user cannot be empty")
	}
	if len(cfg.PrivateKey) == 0 {
		return nil, fmt.Errorf("config private key cannot be empty")
	}

	// Copy config to avoid mutating caller's struct
	configCopy := *cfg

	if configCopy.Port == 0 {
		configCopy.Port = defaultPort
	}
	if configCopy.DialTimeout == 0 {
		configCopy.DialTimeout = defaultDialTimeout
	}
	if configCopy.HostKeyCallback == nil {
		configCopy.HostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // Default for reimaged lab machines
	}

	// Parse private key once during construction
	signer, err := ssh.ParsePrivateKey(configCopy.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return &Client{
		config: &configCopy,
		signer: signer,
	}, nil
}

// Run executes the command on the remote host. Non-zero remote exits
// are reported in the Result, not as errors; errors mean the transport
// itself failed or the command hit its deadline.
func (c *Client) Run(ctx context.Context, cmd dispatch.Command) (dispatch.Result, error) {
	timeout := cmd.Timeout
	if timeout == 0 {
		timeout = dispatch.DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	client, err := c.connect(ctx)
	if err != nil {
		return dispatch.Result{ExitCode: -1, Duration: time.Since(start)}, err
	}

	session, err := client.NewSession()
	if err != nil {
		// A dead cached connection usually surfaces here. Drop it so
		// the next attempt redials.
		c.drop(client)
		return dispatch.Result{ExitCode: -1, Duration: time.Since(start)},
			fmt.Errorf("failed to create SSH session on %s: %w", c.config.Host, err)
	}
	defer func() { _ = session.Close() }()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd.Line) }()

	select {
	case err = <-done:
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		_ = session.Close()
		// Wait for the session to unwind so the buffers are quiet
		// before reading them.
		select {
		case <-done:
		case <-time.After(killGrace):
		}

		res := dispatch.Result{
			ExitCode: -1,
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
			Duration: time.Since(start),
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return res, fmt.Errorf("%w after %v on %s", dispatch.ErrTimeout, timeout, c.config.Host)
		}
		return res, ctx.Err()
	}

	res := dispatch.Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitStatus()
			return res, nil
		}
		// Lost connection, missing exit status and other transport
		// failures.
		c.drop(client)
		res.ExitCode = -1
		return res, fmt.Errorf("command transport failed on %s: %w", c.config.Host, err)
	}

	return res, nil
}

// connect returns the cached connection, dialing if needed.
func (c *Client) connect(ctx context.Context) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}

	config := &ssh.ClientConfig{
		User: c.config.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(c.signer),
		},
		HostKeyCallback: c.config.HostKeyCallback,
		Timeout:         c.config.DialTimeout,
	}

	addr := net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))

	d := net.Dialer{Timeout: c.config.DialTimeout}
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	// Bound the handshake as well as the TCP dial.
	if err := raw.SetDeadline(time.Now().Add(c.config.DialTimeout)); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("failed to set handshake deadline on %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(raw, addr, config)
	if err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("failed to establish SSH connection to %s: %w", addr, err)
	}
	_ = raw.SetDeadline(time.Time{})

	c.conn = ssh.NewClient(sshConn, chans, reqs)
	return c.conn, nil
}

// drop discards the cached connection if it is still the given one.
func (c *Client) drop(client *ssh.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == client {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Close releases the cached connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}
