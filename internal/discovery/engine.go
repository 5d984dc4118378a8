// Package discovery identifies network devices. Starting from an address it
// opens a command session, walks the type registry to classify the device,
// runs the type's command battery and extracts the identity fields.
//
// The engine never persists: records are handed back to the caller, which
// decides whether to save them.
package discovery

import (
	"context"
	"time"

	"github.com/anstrom/netman/internal/device"
	"github.com/anstrom/netman/internal/errors"
	"github.com/anstrom/netman/internal/logging"
	"github.com/anstrom/netman/internal/registry"
	"github.com/anstrom/netman/internal/transport"
)

// StatusCache remembers whether an address was recently discoverable.
type StatusCache interface {
	Put(ip string, discoverable bool, ttl time.Duration)
}

// Recorder receives engine events for metrics. All methods must be safe for
// concurrent use.
type Recorder interface {
	DiscoveryCompleted(outcome string, duration time.Duration)
	Classified(typeID registry.TypeID)
	SessionFailed(dialect transport.Dialect)
	CommandFailed(typeID registry.TypeID)
}

type nopRecorder struct{}

func (nopRecorder) DiscoveryCompleted(string, time.Duration) {}
func (nopRecorder) Classified(registry.TypeID)               {}
func (nopRecorder) SessionFailed(transport.Dialect)          {}
func (nopRecorder) CommandFailed(registry.TypeID)            {}

type nopStatusCache struct{}

func (nopStatusCache) Put(string, bool, time.Duration) {}

// Discovery outcomes reported to the Recorder.
const (
	OutcomeSuccess      = "success"
	OutcomeUnreachable  = "unreachable"
	OutcomeUnclassified = "unclassified"
	OutcomeFailed       = "failed"
)

// Config holds engine settings.
type Config struct {
	CommandTimeout time.Duration
	StatusTTL      time.Duration
	MaxRestarts    int
	Dialects       []transport.Dialect
	PagingCommands []string
}

// DefaultConfig returns the default engine settings.
func DefaultConfig() Config {
	return Config{
		CommandTimeout: 30 * time.Second,
		StatusTTL:      15 * time.Second,
		MaxRestarts:    1,
		Dialects:       []transport.Dialect{transport.DialectLegacy, transport.DialectStandard},
		PagingCommands: []string{"terminal length 0", "no paging"},
	}
}

// Engine runs discovery and scans. It holds no per-device state and is safe
// for concurrent use on different devices.
type Engine struct {
	config     Config
	registry   *registry.Registry
	repo       Repository
	status     StatusCache
	recorder   Recorder
	logger     *logging.Logger
	sessions   *SessionEstablisher
	classifier *Classifier
	scanner    *CommandScanner
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(recorder Recorder) Option {
	return func(e *Engine) { e.recorder = recorder }
}

// WithStatusCache sets the cache told about discoverable addresses.
func WithStatusCache(status StatusCache) Option {
	return func(e *Engine) { e.status = status }
}

// NewEngine wires the discovery pipeline.
func NewEngine(cfg Config, reg *registry.Registry, tr transport.Transport,
	creds CredentialStore, repo Repository, opts ...Option) *Engine {
	defaults := DefaultConfig()
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = defaults.CommandTimeout
	}
	if len(cfg.Dialects) == 0 {
		cfg.Dialects = defaults.Dialects
	}
	if cfg.MaxRestarts < 0 {
		cfg.MaxRestarts = 0
	}

	e := &Engine{
		config:   cfg,
		registry: reg,
		repo:     repo,
		status:   nopStatusCache{},
		recorder: nopRecorder{},
		logger:   logging.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.Default()
	}
	if e.recorder == nil {
		e.recorder = nopRecorder{}
	}
	if e.status == nil {
		e.status = nopStatusCache{}
	}
	e.logger = e.logger.WithComponent("discovery")

	e.sessions = &SessionEstablisher{
		transport:      tr,
		credentials:    NewCredentialProvider(creds),
		dialects:       cfg.Dialects,
		pagingCommands: cfg.PagingCommands,
		commandTimeout: cfg.CommandTimeout,
		recorder:       e.recorder,
		logger:         e.logger,
	}
	e.classifier = &Classifier{
		registry: reg,
		sessions: e.sessions,
		config:   cfg,
		recorder: e.recorder,
		logger:   e.logger,
	}
	e.scanner = &CommandScanner{
		sessions: e.sessions,
		config:   cfg,
		recorder: e.recorder,
		logger:   e.logger,
	}
	return e
}

// Registry returns the type registry the engine classifies against.
func (e *Engine) Registry() *registry.Registry {
	return e.registry
}

// Sessions returns the session establisher.
func (e *Engine) Sessions() *SessionEstablisher {
	return e.sessions
}

// Classifier returns the device classifier.
func (e *Engine) Classifier() *Classifier {
	return e.classifier
}

// Scanner returns the command scanner.
func (e *Engine) Scanner() *CommandScanner {
	return e.scanner
}

// FindExisting looks dev up by IP, then serial, then name.
func (e *Engine) FindExisting(ctx context.Context, dev *device.Device) (*device.Device, MatchKind, error) {
	return FindExisting(ctx, e.repo, dev)
}

// Discover classifies and scans the device at stub.IP and returns the
// populated record. If the address belongs to a known device, that record
// is updated instead. If a new device turns out to share a serial or name
// with a known one, discovery restarts on the known record.
func (e *Engine) Discover(ctx context.Context, stub *device.Device) (*device.Device, error) {
	start := time.Now()
	dev, err := e.discover(ctx, stub, 0)
	e.recorder.DiscoveryCompleted(outcome(err), time.Since(start))
	if err != nil {
		e.logger.ErrorDevice("Discovery failed", stub.IP, err)
		return nil, err
	}
	e.logger.InfoDevice("Device discovered", dev.IP,
		"type", dev.Type, "name", dev.Name, "serial", dev.Serial, "model", dev.Model)
	return dev, nil
}

func (e *Engine) discover(ctx context.Context, stub *device.Device, restarts int) (*device.Device, error) {
	if !stub.ValidIP() {
		return nil, errors.ErrInvalidAddress(stub.IP)
	}

	dev, err := e.base(ctx, stub)
	if err != nil {
		return nil, err
	}

	node, err := e.classify(ctx, dev)
	if err != nil {
		if undiscoverable(err) {
			e.status.Put(dev.IP, false, e.config.StatusTTL)
		}
		return nil, err
	}
	e.status.Put(dev.IP, true, e.config.StatusTTL)

	if err := e.scan(ctx, dev, node); err != nil {
		return nil, err
	}
	now := time.Now()
	dev.LastDiscoveredAt = &now

	if !dev.IsNew() {
		return dev, nil
	}

	existing, kind, err := e.FindExisting(ctx, dev)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return dev, nil
	}
	if restarts >= e.config.MaxRestarts {
		return nil, errors.ErrDuplicateIdentity(dev.IP, existing.IP).WithContext("match", string(kind))
	}

	e.logger.Info("Device already known, restarting on existing record",
		"ip", dev.IP, "existing_ip", existing.IP, "existing_id", existing.ID, "match", kind)
	return e.discover(ctx, existing, restarts+1)
}

// base picks the record discovery works on: a known record with the same
// address, otherwise the stub itself. A credential bound on the stub wins.
func (e *Engine) base(ctx context.Context, stub *device.Device) (*device.Device, error) {
	dev := stub
	if stub.IsNew() {
		existing, err := e.repo.FindByIP(ctx, stub.IP)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			dev = existing
			if stub.CredentialID != nil {
				dev.CredentialID = stub.CredentialID
			}
		}
	}

	if _, ok := e.registry.Get(dev.Type); !ok {
		dev.Type = e.registry.Root().ID
	}
	return dev, nil
}

// classify resolves the node to scan dev with. Exhausting below the root
// keeps the last matched type; nothing matching at all is an error.
func (e *Engine) classify(ctx context.Context, dev *device.Device) (*registry.TypeNode, error) {
	start := e.registry.Resolve(dev.Type)
	node, err := e.classifier.Classify(ctx, dev, start)
	if err != nil {
		return nil, err
	}
	if node == nil {
		node = e.registry.Resolve(dev.Type)
	}
	if len(node.ScanCommands) == 0 {
		return nil, errors.ErrClassificationExhausted(dev.IP).WithContext("type", string(node.ID))
	}
	return node, nil
}

func (e *Engine) scan(ctx context.Context, dev *device.Device, node *registry.TypeNode) error {
	data, err := e.scanner.Scan(ctx, dev, node)
	if err != nil {
		return err
	}
	dev.Data = data
	Extract(data, node).Apply(dev)
	now := time.Now()
	dev.LastScannedAt = &now
	return nil
}

// Scan reruns the command battery of an already classified device without
// classifying it again.
func (e *Engine) Scan(ctx context.Context, existing *device.Device) (*device.Device, error) {
	if !existing.ValidIP() {
		return nil, errors.ErrInvalidAddress(existing.IP)
	}
	node, ok := e.registry.Get(existing.Type)
	if !ok || len(node.ScanCommands) == 0 {
		return nil, errors.NewDeviceError(errors.CodeValidation,
			"Device type has no scan battery", existing.IP).WithContext("type", string(existing.Type))
	}

	if err := e.scan(ctx, existing, node); err != nil {
		e.logger.ErrorDevice("Scan failed", existing.IP, err)
		return nil, err
	}
	e.logger.InfoDevice("Device scanned", existing.IP, "type", existing.Type, "commands", len(existing.Data))
	return existing, nil
}

// undiscoverable reports whether err says the device itself could not be
// reached or identified. Missing credentials and cancellation do not.
func undiscoverable(err error) bool {
	return errors.IsCode(err, errors.CodeUnreachable) || errors.IsCode(err, errors.CodeClassificationExhausted)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.IsCode(err, errors.CodeUnreachable), errors.IsCode(err, errors.CodeNoCredentials):
		return OutcomeUnreachable
	case errors.IsCode(err, errors.CodeClassificationExhausted):
		return OutcomeUnclassified
	default:
		return OutcomeFailed
	}
}
