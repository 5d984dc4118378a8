package discovery

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/netman/internal/device"
	"github.com/anstrom/netman/internal/errors"
	"github.com/anstrom/netman/internal/logging"
	"github.com/anstrom/netman/internal/transport"
)

// Attempt records one failed credential/dialect combination.
type Attempt struct {
	CredentialID uuid.UUID         `json:"credential_id"`
	Username     string            `json:"username"`
	Dialect      transport.Dialect `json:"dialect"`
	Error        string            `json:"error"`
	At           time.Time         `json:"at"`
}

const attemptsKey = "attempts"

// AttemptsFromError returns the per-credential diagnostics carried by an
// UNREACHABLE error, or nil.
func AttemptsFromError(err error) []Attempt {
	var deviceErr *errors.DeviceError
	if !stderrors.As(err, &deviceErr) {
		return nil
	}
	attempts, _ := deviceErr.Context[attemptsKey].([]Attempt)
	return attempts
}

// SessionEstablisher opens authenticated sessions, trying each dialect in
// order for each candidate credential.
type SessionEstablisher struct {
	transport      transport.Transport
	credentials    *CredentialProvider
	dialects       []transport.Dialect
	pagingCommands []string
	commandTimeout time.Duration
	recorder       Recorder
	logger         *logging.Logger
}

// Connect tries every dialect with one credential. The first session that
// authenticates wins; paging is then disabled, ignoring failures.
func (e *SessionEstablisher) Connect(ctx context.Context, ip string, cred device.Credential) (transport.Session, []Attempt, error) {
	var attempts []Attempt
	var lastErr error

	for _, dialect := range e.dialects {
		if err := ctx.Err(); err != nil {
			return nil, attempts, err
		}

		sess, err := e.transport.Connect(ctx, ip, cred.Username, cred.Passkey, dialect)
		if err != nil {
			lastErr = err
			attempts = append(attempts, Attempt{
				CredentialID: cred.ID,
				Username:     cred.Username,
				Dialect:      dialect,
				Error:        err.Error(),
				At:           time.Now(),
			})
			e.recorder.SessionFailed(dialect)
			e.logger.Debug("Session attempt failed",
				"ip", ip, "username", cred.Username, "dialect", dialect, "error", err)
			continue
		}

		for _, cmd := range e.pagingCommands {
			if _, err := sess.Exec(cmd, e.commandTimeout); err != nil {
				e.logger.Debug("Paging command ignored", "ip", ip, "command", cmd, "error", err)
			}
		}
		return sess, attempts, nil
	}

	return nil, attempts, lastErr
}

// Open connects to dev with the first candidate credential that works and
// binds that credential to the device.
func (e *SessionEstablisher) Open(ctx context.Context, dev *device.Device) (transport.Session, error) {
	candidates, err := e.credentials.Candidates(ctx, dev)
	if err != nil {
		return nil, err
	}

	var attempts []Attempt
	var lastErr error
	for _, cred := range candidates {
		sess, tried, err := e.Connect(ctx, dev.IP, cred)
		attempts = append(attempts, tried...)
		if err == nil {
			dev.BindCredential(cred.ID)
			return sess, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, errors.WrapDeviceError(errors.CodeCanceled, "Discovery canceled", dev.IP, ctxErr)
		}
		lastErr = err
	}

	return nil, errors.ErrUnreachable(dev.IP, lastErr).WithContext(attemptsKey, attempts)
}
