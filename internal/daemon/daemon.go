// Package daemon provides the background service for netman. It owns the
// database connection, the worker pool, the scheduler and the API server,
// and coordinates their startup and shutdown.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/anstrom/netman/internal/api"
	"github.com/anstrom/netman/internal/config"
	"github.com/anstrom/netman/internal/db"
	"github.com/anstrom/netman/internal/logging"
	"github.com/anstrom/netman/internal/scheduler"
)

const (
	defaultHealthCheckInterval = 30 * time.Second
	metricsUpdateInterval      = 15 * time.Second
)

// File permission constants.
const (
	DefaultDirPermissions  = 0o750
	DefaultFilePermissions = 0o600
)

// Daemon represents the main daemon process.
type Daemon struct {
	config     *config.Config
	configPath string
	database   *db.DB
	components *Components
	scheduler  *scheduler.Scheduler
	apiServer  *api.Server
	pidFile    string
	logger     *logging.Logger
	signals    chan os.Signal
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	cleanOnce  sync.Once
	wg         sync.WaitGroup
	mu         sync.RWMutex
}

// New creates a new daemon instance. configPath is re-read on SIGHUP.
func New(cfg *config.Config, configPath string) *Daemon {
	ctx, cancel := context.WithCancel(context.Background())

	return &Daemon{
		config:     cfg,
		configPath: configPath,
		pidFile:    cfg.Daemon.PIDFile,
		logger:     logging.Default().WithComponent("daemon"),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// SetLogger replaces the daemon logger.
func (d *Daemon) SetLogger(logger *logging.Logger) {
	if logger != nil {
		d.logger = logger.WithComponent("daemon")
	}
}

// Start starts the daemon and blocks until it shuts down.
func (d *Daemon) Start() error {
	d.logger.Info("Starting netman daemon")

	if err := d.config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if d.config.Daemon.WorkDir != "" {
		if err := os.MkdirAll(d.config.Daemon.WorkDir, DefaultDirPermissions); err != nil {
			return fmt.Errorf("failed to create working directory: %w", err)
		}
		if err := os.Chdir(d.config.Daemon.WorkDir); err != nil {
			return fmt.Errorf("failed to change to working directory: %w", err)
		}
	}

	if err := d.createPIDFile(); err != nil {
		return fmt.Errorf("failed to create PID file: %w", err)
	}

	d.setupSignalHandlers()

	if err := d.initDatabase(); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	components, err := NewComponents(d.config, d.database, d.logger)
	if err != nil {
		d.cleanup()
		return fmt.Errorf("failed to initialize discovery: %w", err)
	}
	d.components = components

	if err := d.initScheduler(); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to initialize scheduler: %w", err)
	}

	if err := d.initAPIServer(); err != nil {
		d.cleanup()
		return fmt.Errorf("failed to initialize API server: %w", err)
	}

	d.logger.Info("Daemon started successfully", "pid", os.Getpid())
	return d.run()
}

// Stop stops the daemon gracefully.
func (d *Daemon) Stop() error {
	d.logger.Info("Stopping daemon")
	d.cancel()

	select {
	case <-d.done:
		d.logger.Info("Daemon stopped gracefully")
	case <-time.After(d.config.Daemon.ShutdownTimeout):
		d.logger.Warn("Shutdown timeout reached, forcing cleanup")
		d.cleanup()
	}
	return nil
}

// createPIDFile creates the PID file.
func (d *Daemon) createPIDFile() error {
	if d.pidFile == "" {
		return nil
	}

	dir := filepath.Dir(d.pidFile)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		return fmt.Errorf("failed to create PID file directory: %w", err)
	}

	if err := d.checkExistingPID(); err != nil {
		return err
	}

	pid := os.Getpid()
	if err := os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)), DefaultFilePermissions); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	d.logger.Info("Created PID file", "path", d.pidFile, "pid", pid)
	return nil
}

// checkExistingPID fails if the PID file names a live process and removes
// it otherwise.
func (d *Daemon) checkExistingPID() error {
	if _, err := os.Stat(d.pidFile); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(d.pidFile)
	if err != nil {
		return fmt.Errorf("failed to read existing PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		_ = os.Remove(d.pidFile)
		return nil
	}

	if d.isProcessRunning(pid) {
		return fmt.Errorf("daemon already running with PID %d", pid)
	}

	_ = os.Remove(d.pidFile)
	return nil
}

// isProcessRunning checks if a process with the given PID is running.
func (d *Daemon) isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = process.Signal(syscall.Signal(0))
	return err == nil
}

// setupSignalHandlers sets up signal handling for graceful shutdown.
func (d *Daemon) setupSignalHandlers() {
	d.signals = make(chan os.Signal, 1)

	signal.Notify(d.signals,
		syscall.SIGTERM,
		syscall.SIGINT,
		syscall.SIGHUP,  // reload schedules
		syscall.SIGUSR1, // dump status
	)

	go func() {
		for {
			select {
			case <-d.ctx.Done():
				return
			case sig := <-d.signals:
				d.handleSignal(sig)
			}
		}
	}()
}

func (d *Daemon) handleSignal(sig os.Signal) {
	d.logger.Info("Received signal", "signal", sig.String())

	switch sig {
	case syscall.SIGTERM, syscall.SIGINT:
		d.logger.Info("Initiating graceful shutdown")
		d.cancel()
	case syscall.SIGHUP:
		if err := d.reloadConfiguration(); err != nil {
			d.logger.Error("Configuration reload failed", "error", err)
		} else {
			d.logger.Info("Configuration reloaded successfully")
		}
	case syscall.SIGUSR1:
		d.dumpStatus()
	}
}

// initDatabase connects to the database and applies pending migrations.
func (d *Daemon) initDatabase() error {
	d.logger.Info("Connecting to database")

	dbConfig := d.config.GetDatabaseConfig()
	database, err := db.ConnectAndMigrate(d.ctx, &dbConfig)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}

	d.database = database
	d.logger.InfoDatabase("Database connection established")
	return nil
}

// initScheduler registers the configured schedules.
func (d *Daemon) initScheduler() error {
	d.scheduler = scheduler.NewScheduler(d.components.Service, d.components.Pool,
		scheduler.WithRecorder(d.components.Metrics),
		scheduler.WithLogger(d.logger))

	for _, sc := range d.config.Daemon.Schedules {
		if err := d.scheduler.Add(sc); err != nil {
			return err
		}
	}
	return nil
}

// initAPIServer initializes the API server.
func (d *Daemon) initAPIServer() error {
	if !d.config.IsAPIEnabled() {
		d.logger.Info("API server disabled, skipping initialization")
		return nil
	}

	deps := api.Dependencies{
		Service:  d.components.Service,
		Jobs:     d.components.Pool,
		Registry: d.components.Registry,
		Metrics:  d.components.Metrics,
	}
	// Interface fields stay nil rather than holding a typed nil.
	if d.database != nil {
		deps.Database = d.database
	}
	if d.scheduler != nil {
		deps.Scheduler = d.scheduler
	}

	apiServer, err := api.New(d.config, deps, d.logger)
	if err != nil {
		return fmt.Errorf("API server creation failed: %w", err)
	}

	d.apiServer = apiServer
	d.logger.Info("API server initialized", "address", d.config.GetAPIAddress())
	return nil
}

// run executes the main daemon loop.
func (d *Daemon) run() error {
	c := d.components
	c.Pool.Start()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.consumeResults()
	}()

	go c.Metrics.StartPeriodicUpdates(d.ctx, metricsUpdateInterval)

	if err := d.scheduler.Start(); err != nil {
		d.logger.Error("Scheduler failed to start", "error", err)
	}

	if d.apiServer != nil {
		go func() {
			if err := d.apiServer.Start(d.ctx); err != nil {
				d.logger.Error("API server error", "error", err)
				d.cancel()
			}
		}()
	}

	interval := d.config.Daemon.HealthCheckInterval
	if interval <= 0 {
		interval = defaultHealthCheckInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			d.logger.Info("Shutdown signal received")
			d.cleanup()
			close(d.done)
			return nil
		case <-ticker.C:
			d.performHealthCheck()
		}
	}
}

// consumeResults logs job outcomes until the pool closes its results.
func (d *Daemon) consumeResults() {
	for result := range d.components.Pool.Results() {
		if result.Error != nil {
			d.logger.Warn("Job failed",
				"job_id", result.JobID,
				"job_type", result.JobType,
				"retries", result.Retries,
				"duration", result.Duration,
				"error", result.Error)
			continue
		}
		d.logger.Debug("Job completed",
			"job_id", result.JobID,
			"job_type", result.JobType,
			"duration", result.Duration)
	}
}

// performHealthCheck pings the database and refreshes the connection gauge.
func (d *Daemon) performHealthCheck() {
	if d.database == nil {
		return
	}

	ctx, cancel := context.WithTimeout(d.ctx, 5*time.Second)
	defer cancel()

	if err := d.database.Ping(ctx); err != nil {
		d.logger.ErrorDatabase("Database health check failed", err)
	}
	if d.components != nil {
		d.components.Metrics.SetActiveConnections(d.database.OpenConnections())
	}
}

// cleanup stops every component in reverse start order. It runs once.
func (d *Daemon) cleanup() {
	d.cleanOnce.Do(func() {
		d.logger.Info("Performing cleanup")

		if d.signals != nil {
			signal.Stop(d.signals)
		}

		if d.scheduler != nil {
			d.scheduler.Stop()
		}

		if d.apiServer != nil {
			if err := d.apiServer.Stop(); err != nil {
				d.logger.Error("Error stopping API server", "error", err)
			}
		}

		if d.components != nil {
			if err := d.components.Pool.Shutdown(); err != nil {
				d.logger.Error("Worker pool shutdown incomplete", "error", err)
			}
			d.wg.Wait()
		}

		if d.database != nil {
			if err := d.database.Close(); err != nil {
				d.logger.ErrorDatabase("Error closing database", err)
			}
		}

		if d.pidFile != "" {
			if err := os.Remove(d.pidFile); err != nil && !os.IsNotExist(err) {
				d.logger.Error("Error removing PID file", "error", err)
			}
		}

		d.logger.Info("Cleanup completed")
	})
}

// GetPID returns the daemon's PID.
func (d *Daemon) GetPID() int {
	return os.Getpid()
}

// IsRunning checks if the daemon is running.
func (d *Daemon) IsRunning() bool {
	select {
	case <-d.ctx.Done():
		return false
	default:
		return true
	}
}

// reloadConfiguration re-reads the config file and replaces the schedules.
// Other sections need a restart to take effect.
func (d *Daemon) reloadConfiguration() error {
	newConfig, err := config.Load(d.configPath)
	if err != nil {
		return fmt.Errorf("failed to load new configuration: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.hasAPIConfigChanged(d.config, newConfig) {
		d.logger.Warn("API configuration changed; restart the daemon to apply it")
	}

	if d.scheduler != nil {
		d.replaceSchedules(newConfig.Daemon.Schedules)
	}

	d.config.Daemon.Schedules = newConfig.Daemon.Schedules
	d.config.Logging = newConfig.Logging
	return nil
}

// replaceSchedules swaps the scheduler's entries for schedules. Invalid
// entries are logged and skipped.
func (d *Daemon) replaceSchedules(schedules []config.ScheduleConfig) {
	for _, entry := range d.scheduler.Entries() {
		if err := d.scheduler.Remove(entry.Name); err != nil {
			d.logger.Warn("Failed to remove schedule", "schedule", entry.Name, "error", err)
		}
	}
	for _, sc := range schedules {
		if err := d.scheduler.Add(sc); err != nil {
			d.logger.Error("Failed to add schedule", "schedule", sc.Name, "error", err)
		}
	}
	d.logger.Info("Schedules reloaded", "count", len(d.scheduler.Entries()))
}

// dumpStatus writes the current daemon status to the log.
func (d *Daemon) dumpStatus() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	fields := []any{
		"pid", os.Getpid(),
		"goroutines", runtime.NumGoroutine(),
		"alloc_kb", m.Alloc / 1024,
		"sys_kb", m.Sys / 1024,
		"num_gc", m.NumGC,
		"work_dir", d.config.Daemon.WorkDir,
	}

	if d.database != nil {
		status := "connected"
		if err := d.database.Ping(d.ctx); err != nil {
			status = "disconnected"
		}
		fields = append(fields, "database", status, "open_connections", d.database.OpenConnections())
	}
	if d.components != nil {
		fields = append(fields, "queue_length", d.components.Pool.QueueLength())
	}
	if d.scheduler != nil {
		fields = append(fields, "schedules", len(d.scheduler.Entries()))
	}
	if d.apiServer != nil {
		fields = append(fields, "api_address", d.apiServer.Address())
	}

	d.logger.Info("Daemon status", fields...)
}

// hasAPIConfigChanged checks if API configuration has changed.
func (d *Daemon) hasAPIConfigChanged(oldConfig, newConfig *config.Config) bool {
	return oldConfig.API.Enabled != newConfig.API.Enabled ||
		oldConfig.API.Host != newConfig.API.Host ||
		oldConfig.API.Port != newConfig.API.Port
}

// GetContext returns the daemon's context.
func (d *Daemon) GetContext() context.Context {
	return d.ctx
}

// GetDatabase returns the database connection.
func (d *Daemon) GetDatabase() *db.DB {
	return d.database
}

// GetConfig returns the daemon configuration.
func (d *Daemon) GetConfig() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}
