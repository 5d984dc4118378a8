package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

var (
	// ErrNoPrompt is returned when a shell never presents a prompt.
	ErrNoPrompt = errors.New("no prompt received")
	// ErrTimeout is returned when a command does not finish in time.
	ErrTimeout = errors.New("command timed out")
	// ErrClosed is returned by Exec after Disconnect.
	ErrClosed = errors.New("session closed")

	promptPattern = regexp.MustCompile(`[>#$%]\s*$`)
)

const (
	termWidth  = 511
	termHeight = 0
	chunkSize  = 4096
)

// shellSession drives a PTY shell, reading until the device prompt returns.
type shellSession struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	chunks  chan []byte
	done    chan struct{}
	prompt  string
	// stale is set when a command timed out and its output has not yet been
	// read up to the prompt.
	stale bool

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func openShell(client *ssh.Client, promptTimeout time.Duration) (*shellSession, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          0,
		ssh.TTY_OP_ISPEED: 38400,
		ssh.TTY_OP_OSPEED: 38400,
	}
	if err := session.RequestPty("vt100", termHeight, termWidth, modes); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("request pty: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("stdin: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("stdout: %w", err)
	}
	if err := session.Shell(); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("start shell: %w", err)
	}

	s := &shellSession{
		client:  client,
		session: session,
		stdin:   stdin,
		chunks:  make(chan []byte, 64),
		done:    make(chan struct{}),
	}
	go s.pump(stdout)

	banner, err := s.readUntil(promptTimeout, func(buf string) bool {
		return promptPattern.MatchString(buf)
	})
	if err != nil {
		close(s.done)
		_ = session.Close()
		return nil, fmt.Errorf("%w: %v", ErrNoPrompt, err)
	}
	s.prompt = lastLine(normalize(banner))
	return s, nil
}

// pump copies shell output into the chunk channel until the stream ends.
func (s *shellSession) pump(r io.Reader) {
	defer close(s.chunks)
	for {
		buf := make([]byte, chunkSize)
		n, err := r.Read(buf)
		if n > 0 {
			select {
			case s.chunks <- buf[:n]:
			case <-s.done:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// readUntil accumulates output until done reports true or timeout elapses.
func (s *shellSession) readUntil(timeout time.Duration, done func(string) bool) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var buf []byte
	for {
		select {
		case chunk, ok := <-s.chunks:
			if !ok {
				return string(buf), io.EOF
			}
			buf = append(buf, chunk...)
			if done(string(buf)) {
				return string(buf), nil
			}
		case <-timer.C:
			return string(buf), ErrTimeout
		}
	}
}

// Exec writes command to the shell and returns the output between the echo
// and the next prompt.
func (s *shellSession) Exec(command string, timeout time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stdin == nil {
		return "", ErrClosed
	}
	if err := s.resync(timeout); err != nil {
		return "", err
	}
	if _, err := io.WriteString(s.stdin, command+"\n"); err != nil {
		return "", fmt.Errorf("write command: %w", err)
	}

	raw, err := s.readUntil(timeout, s.atPrompt)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			s.stale = true
		}
		return "", err
	}
	return clean(raw, command, s.prompt), nil
}

// resync discards the late output of a timed out command up to its prompt.
// The next command is not sent until the shell is back at the prompt.
func (s *shellSession) resync(timeout time.Duration) error {
	if s.stale {
		if _, err := s.readUntil(timeout, s.atPrompt); err != nil {
			return err
		}
		s.stale = false
	}
	s.drain()
	return nil
}

// drain discards output already buffered.
func (s *shellSession) drain() {
	for {
		select {
		case _, ok := <-s.chunks:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (s *shellSession) atPrompt(buf string) bool {
	tail := strings.TrimRight(normalize(buf), " \t\n")
	if s.prompt != "" {
		return strings.HasSuffix(tail, s.prompt)
	}
	return promptPattern.MatchString(tail)
}

// Disconnect closes the shell and the underlying connection once.
func (s *shellSession) Disconnect() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		if s.stdin != nil {
			_, _ = io.WriteString(s.stdin, "exit\n")
			s.stdin = nil
		}
		s.mu.Unlock()
		close(s.done)
		_ = s.session.Close()
		if err := s.client.Close(); err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
			s.closeErr = err
		}
	})
	return s.closeErr
}

func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "")
}

func lastLine(s string) string {
	s = strings.TrimRight(s, " \t\n")
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

// clean strips the command echo and the trailing prompt from raw shell output.
func clean(raw, command, prompt string) string {
	lines := strings.Split(normalize(raw), "\n")

	if len(lines) > 0 {
		first := strings.TrimSpace(lines[0])
		if first == command || strings.HasSuffix(first, command) {
			lines = lines[1:]
		}
	}
	for len(lines) > 0 {
		last := strings.TrimSpace(lines[len(lines)-1])
		if last == "" || (prompt != "" && last == prompt) || (prompt == "" && promptPattern.MatchString(last)) {
			lines = lines[:len(lines)-1]
			continue
		}
		break
	}
	return strings.Join(lines, "\n")
}
