// Package probe decides whether an SSH service is up on a host.
//
// A service that completes the transport handshake but rejects our credentials
// counts as up: the probe measures reachability, not authorization. Transport
// failures, host key mismatches and anything else count as down. Probes never
// retry; polling cadence belongs to the caller.
package probe

import (
	"context"
	"io"
	"net"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	defaultPort    = 22
	defaultTimeout = 10 * time.Second
	defaultUser    = "ubuntu"
)

// Prober reports whether a host is reachable
type Prober interface {
	Probe(ctx context.Context, address string) bool
}

// Checker is a Prober that can also explain its answer
type Checker interface {
	Prober
	Check(ctx context.Context, address string) (Outcome, error)
}

// Outcome classifies a single connection attempt
type Outcome int

const (
	OutcomeReachable Outcome = iota
	OutcomeAuthRejected
	OutcomeUnreachable
	OutcomeHostKeyMismatch
	OutcomeFault
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReachable:
		return "reachable"
	case OutcomeAuthRejected:
		return "auth-rejected"
	case OutcomeUnreachable:
		return "unreachable"
	case OutcomeHostKeyMismatch:
		return "host-key-mismatch"
	default:
		return "fault"
	}
}

// Up reports whether the outcome counts as a live service
func (o Outcome) Up() bool {
	return o == OutcomeReachable || o == OutcomeAuthRejected
}

// Config holds SSH probe configuration.
type Config struct {
	User string
	Port int

	// PrivateKey is optional. Without it only the "none" method is offered,
	// which a normal sshd rejects at the auth stage, which is enough to prove it is alive.
	PrivateKey []byte

	// KnownHostsFile enables host key verification. If empty, host keys are not checked.
	KnownHostsFile string

	// Timeout bounds both the TCP dial and the SSH handshake.
	// If zero, defaultTimeout is used.
	Timeout time.Duration
}

type dialFunc func(ctx context.Context, addr string, config *ssh.ClientConfig, timeout time.Duration) (io.Closer, error)

// SSHProber probes hosts by opening, and immediately closing, an SSH connection
type SSHProber struct {
	config          Config
	auth            []ssh.AuthMethod
	hostKeyCallback ssh.HostKeyCallback
	dial            dialFunc
}

var _ Checker = (*SSHProber)(nil)

// NewSSHProber validates the configuration and parses keys once
func NewSSHProber(cfg Config) (*SSHProber, error) {
	if cfg.User == "" {
		cfg.User = defaultUser
	}
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}

	p := &SSHProber{
		config:          cfg,
		hostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec // fleets are ephemeral
		dial:            dialSSH,
	}

	if len(cfg.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, errors.Wrap(err, "probe: failed to parse private key")
		}
		p.auth = []ssh.AuthMethod{ssh.PublicKeys(signer)}
	}

	if cfg.KnownHostsFile != "" {
		callback, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, errors.Wrapf(err, "probe: failed to load known hosts %s", cfg.KnownHostsFile)
		}
		p.hostKeyCallback = callback
	}

	return p, nil
}

// Probe reports whether an SSH service answers on address
func (p *SSHProber) Probe(ctx context.Context, address string) bool {
	outcome, err := p.Check(ctx, address)
	log.Debug().Str("address", address).Stringer("outcome", outcome).Err(err).Msg("ssh probe")
	return outcome.Up()
}

// Check attempts one connection to address and classifies the result.
// The returned error is the underlying connection error, if any.
func (p *SSHProber) Check(ctx context.Context, address string) (Outcome, error) {
	addr := p.hostPort(address)

	var hostKeyErr error
	config := &ssh.ClientConfig{
		User: p.config.User,
		Auth: p.auth,
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			if err := p.hostKeyCallback(hostname, remote, key); err != nil {
				hostKeyErr = err
				return err
			}
			return nil
		},
	}

	conn, err := p.dial(ctx, addr, config, p.config.Timeout)
	if err != nil {
		if hostKeyErr != nil {
			return OutcomeHostKeyMismatch, err
		}
		return Classify(err), err
	}
	_ = conn.Close()
	return OutcomeReachable, nil
}

func (p *SSHProber) hostPort(address string) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, strconv.Itoa(p.config.Port))
}

// dialSSH opens a TCP connection and runs the SSH handshake on it under a deadline.
// The raw connection is closed on every failure path.
func dialSSH(ctx context.Context, addr string, config *ssh.ClientConfig, timeout time.Duration) (io.Closer, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

// Classify maps a connection error to an Outcome
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeReachable
	}

	var keyErr *knownhosts.KeyError
	var revokedErr *knownhosts.RevokedError
	if errors.As(err, &keyErr) || errors.As(err, &revokedErr) {
		return OutcomeHostKeyMismatch
	}

	msg := err.Error()
	if strings.Contains(msg, "unable to authenticate") || strings.Contains(msg, "no supported methods remain") {
		return OutcomeAuthRejected
	}

	var netErr net.Error
	var opErr *net.OpError
	var dnsErr *net.DNSError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return OutcomeUnreachable
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return OutcomeUnreachable
	case errors.As(err, &opErr), errors.As(err, &dnsErr):
		return OutcomeUnreachable
	case errors.As(err, &netErr) && netErr.Timeout():
		return OutcomeUnreachable
	case errors.Is(err, io.EOF), strings.HasSuffix(msg, "EOF"), strings.Contains(msg, "i/o timeout"):
		// closed or stalled before the handshake finished
		return OutcomeUnreachable
	}
	return OutcomeFault
}
