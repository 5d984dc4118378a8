package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// execSession runs every command on a fresh exec channel of one client.
type execSession struct {
	client *ssh.Client

	closeOnce sync.Once
	closed    chan struct{}
	closeErr  error
}

func newExecSession(client *ssh.Client) *execSession {
	return &execSession{
		client: client,
		closed: make(chan struct{}),
	}
}

type execResult struct {
	output []byte
	err    error
}

// Exec runs command and returns its combined output. A non-zero exit status
// still returns the output; the device ran the command.
func (s *execSession) Exec(command string, timeout time.Duration) (string, error) {
	select {
	case <-s.closed:
		return "", ErrClosed
	default:
	}

	session, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	done := make(chan execResult, 1)
	go func() {
		output, err := session.CombinedOutput(command)
		done <- execResult{output: output, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		if res.err != nil {
			var exitErr *ssh.ExitError
			if errors.As(res.err, &exitErr) {
				return string(res.output), nil
			}
			return "", fmt.Errorf("command failed: %w", res.err)
		}
		return string(res.output), nil
	case <-timer.C:
		_ = session.Signal(ssh.SIGKILL)
		return "", ErrTimeout
	}
}

// Disconnect closes the client connection once.
func (s *execSession) Disconnect() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if err := s.client.Close(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			s.closeErr = err
		}
	})
	return s.closeErr
}
