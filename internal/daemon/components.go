package daemon

import (
	"fmt"

	"github.com/anstrom/netman/internal/config"
	"github.com/anstrom/netman/internal/db"
	"github.com/anstrom/netman/internal/discovery"
	"github.com/anstrom/netman/internal/logging"
	"github.com/anstrom/netman/internal/metrics"
	"github.com/anstrom/netman/internal/registry"
	"github.com/anstrom/netman/internal/services"
	"github.com/anstrom/netman/internal/statuscache"
	"github.com/anstrom/netman/internal/sweep"
	"github.com/anstrom/netman/internal/transport"
	"github.com/anstrom/netman/internal/workers"
)

// Components is the discovery stack shared by the daemon and the CLI.
type Components struct {
	Registry    *registry.Registry
	Metrics     *metrics.Metrics
	Status      *statuscache.Cache
	Devices     *db.DeviceRepository
	Credentials *db.CredentialRepository
	Engine      *discovery.Engine
	Sweeper     *sweep.Sweeper
	Service     *services.DeviceService
	Pool        *workers.Pool
}

// LoadRegistry returns the configured type registry, or the built-in one.
func LoadRegistry(cfg *config.Config) (*registry.Registry, error) {
	if cfg.Discovery.RegistryFile != "" {
		return registry.LoadFile(cfg.Discovery.RegistryFile)
	}
	return registry.Default()
}

// EngineConfig translates the discovery section into engine settings.
func EngineConfig(cfg *config.Config) (discovery.Config, error) {
	dialects := make([]transport.Dialect, 0, len(cfg.Discovery.Dialects))
	for _, name := range cfg.Discovery.Dialects {
		d, err := transport.ParseDialect(name)
		if err != nil {
			return discovery.Config{}, err
		}
		dialects = append(dialects, d)
	}

	return discovery.Config{
		CommandTimeout: cfg.Discovery.CommandTimeout,
		StatusTTL:      cfg.Discovery.StatusTTL,
		MaxRestarts:    cfg.Discovery.MaxRestarts,
		Dialects:       dialects,
		PagingCommands: cfg.Discovery.PagingCommands,
	}, nil
}

// NewComponents wires the repositories, engine, service and worker pool on
// top of database. The pool is created but not started.
func NewComponents(cfg *config.Config, database *db.DB, logger *logging.Logger) (*Components, error) {
	if logger == nil {
		logger = logging.Default()
	}

	reg, err := LoadRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load type registry: %w", err)
	}
	engineConfig, err := EngineConfig(cfg)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	database.SetRecorder(m)

	c := &Components{
		Registry:    reg,
		Metrics:     m,
		Status:      statuscache.New(cfg.Discovery.StatusCacheSize, cfg.Discovery.StatusTTL),
		Devices:     db.NewDeviceRepository(database),
		Credentials: db.NewCredentialRepository(database),
	}

	tr := transport.NewSSHTransport(transport.Config{
		Port:           cfg.Discovery.Port,
		ConnectTimeout: cfg.Discovery.ConnectTimeout,
	}, logger)

	c.Engine = discovery.NewEngine(engineConfig, reg, tr, c.Credentials, c.Devices,
		discovery.WithLogger(logger),
		discovery.WithRecorder(m),
		discovery.WithStatusCache(c.Status))

	c.Sweeper = sweep.New(sweep.Config{
		Port:    cfg.Discovery.SweepPort,
		Timeout: cfg.Discovery.ConnectTimeout,
	}, logger)

	c.Service = services.NewDeviceService(c.Engine, c.Devices, c.Credentials,
		services.WithStatusCache(c.Status),
		services.WithSweeper(c.Sweeper),
		services.WithLogger(logger))

	c.Pool = workers.New(workers.Config{
		Size:            cfg.Workers.Size,
		QueueSize:       cfg.Workers.QueueSize,
		MaxRetries:      cfg.Workers.MaxRetries,
		RetryDelay:      cfg.Workers.RetryDelay,
		ShutdownTimeout: cfg.Workers.ShutdownTimeout,
		RateLimit:       cfg.Workers.RateLimit,
	}, workers.WithRecorder(m), workers.WithLogger(logger))

	return c, nil
}
