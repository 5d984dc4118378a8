// Package transport opens interactive command sessions on network devices
// over SSH. Two dialects are supported: a tolerant interactive shell with
// legacy algorithms enabled, and a standard exec-per-command session.
package transport

//go:generate mockgen -destination=mocks/mock_transport.go -package=mocks github.com/anstrom/netman/internal/transport Transport,Session

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/anstrom/netman/internal/logging"
)

// Dialect selects how a session talks to the device.
type Dialect string

const (
	// DialectLegacy drives a PTY shell and accepts old ciphers and key exchanges.
	DialectLegacy Dialect = "legacy"
	// DialectStandard runs each command on its own exec channel.
	DialectStandard Dialect = "standard"
)

// ParseDialect validates a configured dialect name.
func ParseDialect(s string) (Dialect, error) {
	switch Dialect(s) {
	case DialectLegacy, DialectStandard:
		return Dialect(s), nil
	default:
		return "", fmt.Errorf("unknown dialect %q", s)
	}
}

// Session is an authenticated command session on one device.
type Session interface {
	// Exec runs command and returns its raw output. It blocks until the
	// command finishes or timeout elapses.
	Exec(command string, timeout time.Duration) (string, error)
	// Disconnect closes the session. Calling it more than once is harmless.
	Disconnect() error
}

// Transport opens sessions.
type Transport interface {
	Connect(ctx context.Context, ip, username, passkey string, dialect Dialect) (Session, error)
}

// Config holds SSH connection settings.
type Config struct {
	Port           int
	ConnectTimeout time.Duration
}

// DefaultConfig returns the default SSH settings.
func DefaultConfig() Config {
	return Config{
		Port:           22,
		ConnectTimeout: 30 * time.Second,
	}
}

// SSHTransport implements Transport with golang.org/x/crypto/ssh.
type SSHTransport struct {
	config Config
	logger *logging.Logger
}

// NewSSHTransport creates an SSH transport.
func NewSSHTransport(cfg Config, logger *logging.Logger) *SSHTransport {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &SSHTransport{
		config: cfg,
		logger: logger.WithComponent("transport"),
	}
}

var (
	legacyCiphers = []string{
		"aes128-ctr", "aes192-ctr", "aes256-ctr",
		"aes128-gcm@openssh.com", "aes256-gcm@openssh.com",
		"chacha20-poly1305@openssh.com",
		"aes128-cbc", "3des-cbc",
	}
	legacyKeyExchanges = []string{
		"curve25519-sha256", "curve25519-sha256@libssh.org",
		"ecdh-sha2-nistp256", "ecdh-sha2-nistp384", "ecdh-sha2-nistp521",
		"diffie-hellman-group14-sha256",
		"diffie-hellman-group-exchange-sha256",
		"diffie-hellman-group14-sha1",
		"diffie-hellman-group-exchange-sha1",
		"diffie-hellman-group1-sha1",
	}
	legacyHostKeyAlgorithms = []string{
		ssh.KeyAlgoED25519,
		ssh.KeyAlgoECDSA256, ssh.KeyAlgoECDSA384, ssh.KeyAlgoECDSA521,
		ssh.KeyAlgoRSASHA512, ssh.KeyAlgoRSASHA256,
		"ssh-rsa", "ssh-dss",
	}
	legacyMACs = []string{
		"hmac-sha2-256-etm@openssh.com", "hmac-sha2-256", "hmac-sha2-512",
		"hmac-sha1", "hmac-sha1-96",
	}
)

func (t *SSHTransport) clientConfig(username, passkey string, dialect Dialect) *ssh.ClientConfig {
	cfg := &ssh.ClientConfig{
		User: username,
		Auth: []ssh.AuthMethod{
			ssh.Password(passkey),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = passkey
				}
				return answers, nil
			}),
		},
		// Device host keys are not pinned.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint:gosec
		Timeout:         t.config.ConnectTimeout,
	}
	if dialect == DialectLegacy {
		cfg.Ciphers = legacyCiphers
		cfg.KeyExchanges = legacyKeyExchanges
		cfg.MACs = legacyMACs
		cfg.HostKeyAlgorithms = legacyHostKeyAlgorithms
	}
	return cfg
}

// Connect dials ip, authenticates and returns a session in the requested dialect.
func (t *SSHTransport) Connect(ctx context.Context, ip, username, passkey string, dialect Dialect) (Session, error) {
	addr := net.JoinHostPort(ip, strconv.Itoa(t.config.Port))

	dialer := net.Dialer{Timeout: t.config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	// Bound the handshake; cleared once the client is up.
	if err := conn.SetDeadline(time.Now().Add(t.config.ConnectTimeout)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, t.clientConfig(username, passkey, dialect))
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s (%s): %w", addr, dialect, err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	switch dialect {
	case DialectLegacy:
		sess, err := openShell(client, t.config.ConnectTimeout)
		if err != nil {
			_ = client.Close()
			_ = conn.Close()
			return nil, err
		}
		_ = conn.SetDeadline(time.Time{})
		t.logger.Debug("Legacy session established", "ip", ip, "username", username, "prompt", sess.prompt)
		return sess, nil
	default:
		_ = conn.SetDeadline(time.Time{})
		t.logger.Debug("Standard session established", "ip", ip, "username", username)
		return newExecSession(client), nil
	}
}
