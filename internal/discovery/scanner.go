package discovery

import (
	"context"

	"github.com/anstrom/netman/internal/device"
	"github.com/anstrom/netman/internal/errors"
	"github.com/anstrom/netman/internal/logging"
	"github.com/anstrom/netman/internal/registry"
)

// CommandScanner runs a type's scan battery against a device.
type CommandScanner struct {
	sessions *SessionEstablisher
	config   Config
	recorder Recorder
	logger   *logging.Logger
}

// Scan runs every scan command of node in order over one session. A failed
// or timed out command stores empty output. If ctx is canceled between
// commands the data collected so far is returned with the error.
func (s *CommandScanner) Scan(ctx context.Context, dev *device.Device, node *registry.TypeNode) (device.ScanData, error) {
	sess, err := s.sessions.Open(ctx, dev)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := sess.Disconnect(); err != nil {
			s.logger.Debug("Disconnect failed", "ip", dev.IP, "error", err)
		}
	}()

	data := make(device.ScanData, 0, len(node.ScanCommands))
	for _, cmd := range node.ScanCommands {
		if err := ctx.Err(); err != nil {
			return data, errors.WrapDeviceError(errors.CodeCanceled, "Scan canceled", dev.IP, err)
		}

		out, err := sess.Exec(cmd.Command, s.config.CommandTimeout)
		if err != nil {
			s.recorder.CommandFailed(node.ID)
			s.logger.Warn("Scan command failed",
				"error", errors.ErrCommandFailed(dev.IP, cmd.Command, err), "key", cmd.Key)
			out = ""
		}
		data = append(data, device.Output{Key: cmd.Key, Output: out})
	}
	return data, nil
}
