// Package remote runs commands on fleet hosts over SSH.
//
// It parses the private key once and opens a fresh connection per call,
// so a Client can be shared across hosts and goroutines.
package remote

import (
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	defaultPort        = 22
	defaultDialTimeout = 10 * time.Second
)

// Config holds SSH client configuration.
type Config struct {
	User       string
	Port       int
	PrivateKey []byte

	// KnownHostsFile enables host key verification; if empty host keys are not checked.
	KnownHostsFile string

	// DialTimeout bounds the TCP dial and the SSH handshake.
	// If zero, defaultDialTimeout is used.
	DialTimeout time.Duration
}

// Client executes commands on remote hosts via SSH.
type Client struct {
	config          Config
	signer          ssh.Signer
	hostKeyCallback ssh.HostKeyCallback
}

// NewClient validates the configuration and parses the private key.
func NewClient(cfg Config) (*Client, error) {
	if cfg.User == "" {
		return nil, errors.New("remote: config user cannot be empty")
	}
	if len(cfg.PrivateKey) == 0 {
		return nil, errors.New("remote: config private key cannot be empty")
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaultDialTimeout
	}

	signer, err := ssh.ParsePrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, errors.Wrap(err, "remote: failed to parse private key")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey() //nolint:gosec // fleets are ephemeral
	if cfg.KnownHostsFile != "" {
		hostKeyCallback, err = knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, errors.Wrapf(err, "remote: failed to load known hosts %s", cfg.KnownHostsFile)
		}
	}

	return &Client{
		config:          cfg,
		signer:          signer,
		hostKeyCallback: hostKeyCallback,
	}, nil
}

// Run executes command on host and returns its combined output.
func (c *Client) Run(ctx context.Context, host, command string) (string, error) {
	client, err := c.connect(ctx, host)
	if err != nil {
		return "", err
	}
	defer func() { _ = client.Close() }()

	session, err := client.NewSession()
	if err != nil {
		return "", errors.Wrapf(err, "remote: failed to create SSH session on %s", host)
	}
	defer func() { _ = session.Close() }()

	type result struct {
		output []byte
		err    error
	}
	done := make(chan result, 1)
	go func() {
		output, err := session.CombinedOutput(command)
		done <- result{output: output, err: err}
	}()

	select {
	case <-ctx.Done():
		_ = client.Close()
		return "", errors.Wrapf(ctx.Err(), "remote: command on %s interrupted", host)
	case r := <-done:
		if r.err != nil {
			return string(r.output), errors.Wrapf(r.err, "remote: command failed on %s: %s", host, command)
		}
		return string(r.output), nil
	}
}

// FileExists reports whether path exists on host.
func (c *Client) FileExists(ctx context.Context, host, path string) (bool, error) {
	_, err := c.Run(ctx, host, "test -e "+shellQuote(path))
	if err == nil {
		return true, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitStatus() == 1 {
		return false, nil
	}
	return false, err
}

func (c *Client) connect(ctx context.Context, host string) (*ssh.Client, error) {
	config := &ssh.ClientConfig{
		User:            c.config.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(c.signer)},
		HostKeyCallback: c.hostKeyCallback,
	}

	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = net.JoinHostPort(host, strconv.Itoa(c.config.Port))
	}

	dialer := net.Dialer{Timeout: c.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "remote: failed to connect to %s", addr)
	}
	_ = conn.SetDeadline(time.Now().Add(c.config.DialTimeout))

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return nil, errors.Wrapf(err, "remote: failed to establish SSH connection to %s", addr)
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(sshConn, chans, reqs), nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
