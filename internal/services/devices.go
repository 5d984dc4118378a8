// Package services provides business logic services for netman.
// DeviceService is the caller the discovery engine hands records back to:
// it validates requests, consults the status cache, stores ad-hoc
// credentials and persists whatever the engine produced.
package services

import (
	"context"
	"net"

	"github.com/google/uuid"

	"github.com/anstrom/netman/internal/db"
	"github.com/anstrom/netman/internal/device"
	"github.com/anstrom/netman/internal/errors"
	"github.com/anstrom/netman/internal/logging"
)

// Engine runs discovery and scans; *discovery.Engine implements it.
type Engine interface {
	Discover(ctx context.Context, stub *device.Device) (*device.Device, error)
	Scan(ctx context.Context, existing *device.Device) (*device.Device, error)
}

// DeviceStore persists devices; *db.DeviceRepository implements it.
type DeviceStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*device.Device, error)
	List(ctx context.Context, filter db.DeviceFilter) ([]*device.Device, int64, error)
	Save(ctx context.Context, dev *device.Device) error
	Delete(ctx context.Context, id uuid.UUID) error
	IDs(ctx context.Context) ([]uuid.UUID, error)
}

// CredentialStore persists credentials; *db.CredentialRepository implements it.
type CredentialStore interface {
	Create(ctx context.Context, cred *device.Credential) error
	List(ctx context.Context) ([]device.Credential, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// StatusCache remembers addresses that recently failed discovery.
type StatusCache interface {
	IsUndiscoverable(ip string) bool
}

// Sweeper finds candidate device addresses in a network.
type Sweeper interface {
	Sweep(ctx context.Context, network string) ([]string, error)
}

// DiscoverRequest names the device to discover, either by address or by the
// ID of a stored record. Username and Password are an optional credential to
// try first.
type DiscoverRequest struct {
	IP       string     `json:"ip,omitempty" validate:"omitempty,ip"`
	DeviceID *uuid.UUID `json:"device_id,omitempty"`
	Username string     `json:"username,omitempty" validate:"required_with=Password,max=255"`
	Password string     `json:"password,omitempty" validate:"max=1024"`
}

// DeviceService coordinates discovery, scanning and storage of devices.
type DeviceService struct {
	engine      Engine
	devices     DeviceStore
	credentials CredentialStore
	status      StatusCache
	sweeper     Sweeper
	logger      *logging.Logger
}

// Option customizes a DeviceService.
type Option func(*DeviceService)

// WithStatusCache short-circuits discovery of recently undiscoverable addresses.
func WithStatusCache(status StatusCache) Option {
	return func(s *DeviceService) { s.status = status }
}

// WithSweeper enables network sweeps.
func WithSweeper(sweeper Sweeper) Option {
	return func(s *DeviceService) { s.sweeper = sweeper }
}

// WithLogger sets the service logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *DeviceService) { s.logger = logger }
}

// NewDeviceService creates a new device service.
func NewDeviceService(engine Engine, devices DeviceStore, credentials CredentialStore, opts ...Option) *DeviceService {
	s := &DeviceService{
		engine:      engine,
		devices:     devices,
		credentials: credentials,
		logger:      logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logging.Default()
	}
	s.logger = s.logger.WithComponent("devices")
	return s
}

// Discover classifies and scans the requested device and stores the result.
func (s *DeviceService) Discover(ctx context.Context, req DiscoverRequest) (*device.Device, error) {
	stub, err := s.stub(ctx, req)
	if err != nil {
		return nil, err
	}

	if s.status != nil && s.status.IsUndiscoverable(stub.IP) {
		return nil, errors.ErrRecentlyUndiscoverable(stub.IP)
	}

	var created *device.Credential
	if req.Username != "" {
		cred, isNew, err := s.adHocCredential(ctx, req.Username, req.Password)
		if err != nil {
			return nil, err
		}
		if isNew {
			created = cred
		}
		stub.BindCredential(cred.ID)
	}

	dev, err := s.engine.Discover(ctx, stub)
	if err == nil {
		if err = s.devices.Save(ctx, dev); err != nil {
			s.logger.ErrorDevice("Failed to store discovered device", dev.IP, err)
		}
	}
	if err != nil {
		if created != nil {
			s.discardCredential(ctx, created)
		}
		return nil, err
	}
	return dev, nil
}

// adHocCredential returns the global credential matching username and
// password, storing a new one when none exists. isNew reports whether it
// was stored by this call.
func (s *DeviceService) adHocCredential(
	ctx context.Context, username, password string,
) (cred *device.Credential, isNew bool, err error) {
	existing, err := s.credentials.List(ctx)
	if err != nil {
		return nil, false, err
	}
	for i := range existing {
		c := existing[i]
		if c.IsGlobal() && c.Username == username && c.Passkey == password {
			return &c, false, nil
		}
	}

	cred = &device.Credential{Username: username, Passkey: password}
	if err := s.credentials.Create(ctx, cred); err != nil {
		return nil, false, err
	}
	s.logger.Debug("Stored ad-hoc credential", "credential_id", cred.ID, "username", username)
	return cred, true, nil
}

// discardCredential removes an ad-hoc credential whose discovery failed. It
// runs even when ctx was canceled.
func (s *DeviceService) discardCredential(ctx context.Context, cred *device.Credential) {
	if err := s.credentials.Delete(context.WithoutCancel(ctx), cred.ID); err != nil {
		s.logger.Warn("Failed to remove ad-hoc credential", "credential_id", cred.ID, "error", err)
		return
	}
	s.logger.Debug("Removed ad-hoc credential after failed discovery", "credential_id", cred.ID)
}

// stub builds the record discovery starts from.
func (s *DeviceService) stub(ctx context.Context, req DiscoverRequest) (*device.Device, error) {
	switch {
	case req.DeviceID != nil && req.IP != "":
		return nil, errors.NewDeviceError(errors.CodeValidation,
			"Specify either an address or a device ID, not both", req.IP)
	case req.DeviceID != nil:
		return s.devices.GetByID(ctx, *req.DeviceID)
	case req.IP == "":
		return nil, errors.NewDeviceError(errors.CodeValidation, "An address or a device ID is required", "")
	case net.ParseIP(req.IP) == nil:
		return nil, errors.ErrInvalidAddress(req.IP)
	default:
		return &device.Device{IP: req.IP}, nil
	}
}

// Scan reruns the command battery of a stored device and stores the result.
func (s *DeviceService) Scan(ctx context.Context, id uuid.UUID) (*device.Device, error) {
	existing, err := s.devices.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	dev, err := s.engine.Scan(ctx, existing)
	if err != nil {
		return nil, err
	}

	if err := s.devices.Save(ctx, dev); err != nil {
		s.logger.ErrorDevice("Failed to store scanned device", dev.IP, err)
		return nil, err
	}
	return dev, nil
}

// ScanAll hands every stored device to submit and returns how many were
// submitted. It stops at the first submit error.
func (s *DeviceService) ScanAll(ctx context.Context, submit func(id uuid.UUID) error) (int, error) {
	ids, err := s.devices.IDs(ctx)
	if err != nil {
		return 0, err
	}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := submit(id); err != nil {
			s.logger.Warn("Stopped submitting scans", "submitted", i, "total", len(ids), "error", err)
			return i, err
		}
	}
	s.logger.Info("Submitted scans for all devices", "count", len(ids))
	return len(ids), nil
}

// Sweep lists the addresses in network that look like devices. Addresses
// that recently failed discovery are left out.
func (s *DeviceService) Sweep(ctx context.Context, network string) ([]string, error) {
	if s.sweeper == nil {
		return nil, errors.NewDeviceError(errors.CodeServiceUnavailable, "Network sweeps are not configured", "")
	}

	hosts, err := s.sweeper.Sweep(ctx, network)
	if err != nil {
		return nil, err
	}

	candidates := hosts[:0]
	for _, ip := range hosts {
		if s.status != nil && s.status.IsUndiscoverable(ip) {
			continue
		}
		candidates = append(candidates, ip)
	}
	s.logger.Info("Network swept", "network", network, "hosts", len(hosts), "candidates", len(candidates))
	return candidates, nil
}

// Get returns a stored device.
func (s *DeviceService) Get(ctx context.Context, id uuid.UUID) (*device.Device, error) {
	return s.devices.GetByID(ctx, id)
}

// List returns a page of stored devices and the total count.
func (s *DeviceService) List(ctx context.Context, filter db.DeviceFilter) ([]*device.Device, int64, error) {
	return s.devices.List(ctx, filter)
}

// Delete removes a stored device.
func (s *DeviceService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.devices.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Device deleted", "device_id", id)
	return nil
}

// AddCredential stores a credential. An empty scope makes it global.
func (s *DeviceService) AddCredential(ctx context.Context, cred *device.Credential) error {
	if cred.Username == "" {
		return errors.NewDeviceError(errors.CodeValidation, "Credential username is required", "")
	}
	if err := s.credentials.Create(ctx, cred); err != nil {
		return err
	}
	s.logger.Info("Credential added", "credential_id", cred.ID, "username", cred.Username, "scope", cred.Scope)
	return nil
}

// ListCredentials returns every stored credential in storage order.
func (s *DeviceService) ListCredentials(ctx context.Context) ([]device.Credential, error) {
	return s.credentials.List(ctx)
}

// DeleteCredential removes a credential. Devices bound to it fall back to
// enumeration on their next discovery.
func (s *DeviceService) DeleteCredential(ctx context.Context, id uuid.UUID) error {
	return s.credentials.Delete(ctx, id)
}
