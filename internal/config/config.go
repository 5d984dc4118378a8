// Package config loads, validates and saves the netman configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/anstrom/netman/internal/db"
	"github.com/anstrom/netman/internal/errors"
)

const (
	configDirPerm  = 0750
	configFilePerm = 0600

	envPrefix = "NETMAN_"
)

// Config represents the complete netman configuration
type Config struct {
	// Daemon configuration
	Daemon DaemonConfig `yaml:"daemon" json:"daemon"`

	// Database configuration
	Database db.Config `yaml:"database" json:"database"`

	// Discovery engine configuration
	Discovery DiscoveryConfig `yaml:"discovery" json:"discovery"`

	// Worker pool configuration
	Workers WorkersConfig `yaml:"workers" json:"workers"`

	// API configuration
	API APIConfig `yaml:"api" json:"api"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging" json:"logging"`
}

// DaemonConfig holds daemon-specific settings
type DaemonConfig struct {
	// PID file location
	PIDFile string `yaml:"pid_file" json:"pid_file"`

	// Working directory
	WorkDir string `yaml:"work_dir" json:"work_dir"`

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`

	// Interval between database health checks
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`

	// Periodic jobs started by the daemon
	Schedules []ScheduleConfig `yaml:"schedules" json:"schedules"`
}

// Schedule kinds understood by the daemon.
const (
	ScheduleScanAll = "scan_all"
	ScheduleSweep   = "sweep"
)

// ScheduleConfig describes one cron entry.
type ScheduleConfig struct {
	Name    string `yaml:"name" json:"name"`
	Kind    string `yaml:"kind" json:"kind"`
	Cron    string `yaml:"cron" json:"cron"`
	Network string `yaml:"network,omitempty" json:"network,omitempty"`
}

// DiscoveryConfig holds the discovery engine settings
type DiscoveryConfig struct {
	// SSH port devices listen on
	Port int `yaml:"port" json:"port"`

	// Timeout for establishing a session
	ConnectTimeout time.Duration `yaml:"connect_timeout" json:"connect_timeout"`

	// Timeout for a single command
	CommandTimeout time.Duration `yaml:"command_timeout" json:"command_timeout"`

	// How long a discoverable/undiscoverable verdict is remembered
	StatusTTL time.Duration `yaml:"status_ttl" json:"status_ttl"`

	// Maximum number of addresses kept in the status cache
	StatusCacheSize int `yaml:"status_cache_size" json:"status_cache_size"`

	// Session dialects, in the order they are tried
	Dialects []string `yaml:"dialects" json:"dialects"`

	// Commands sent after login to disable output paging
	PagingCommands []string `yaml:"paging_commands" json:"paging_commands"`

	// Type registry file; empty uses the built-in registry
	RegistryFile string `yaml:"registry_file" json:"registry_file"`

	// How many times discovery may restart on an existing record
	MaxRestarts int `yaml:"max_restarts" json:"max_restarts"`

	// Port probed when sweeping a network for candidates
	SweepPort int `yaml:"sweep_port" json:"sweep_port"`
}

// WorkersConfig holds worker pool settings
type WorkersConfig struct {
	Size            int           `yaml:"size" json:"size"`
	QueueSize       int           `yaml:"queue_size" json:"queue_size"`
	MaxRetries      int           `yaml:"max_retries" json:"max_retries"`
	RetryDelay      time.Duration `yaml:"retry_delay" json:"retry_delay"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	RateLimit       int           `yaml:"rate_limit" json:"rate_limit"`
}

// APIConfig holds API server settings
type APIConfig struct {
	// Enable API server
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Listen address
	Host string `yaml:"host" json:"host"`

	// Listen port
	Port int `yaml:"port" json:"port"`

	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// Allowed CORS origins
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`

	// Maximum request size
	MaxRequestSize int64 `yaml:"max_request_size" json:"max_request_size"`
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	// Log level (debug, info, warn, error)
	Level string `yaml:"level" json:"level"`

	// Log format (text, json)
	Format string `yaml:"format" json:"format"`

	// Log output (stdout, stderr, file path)
	Output string `yaml:"output" json:"output"`

	// Enable request logging for API
	RequestLogging bool `yaml:"request_logging" json:"request_logging"`
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Daemon: DaemonConfig{
			PIDFile:             "/var/run/netman.pid",
			WorkDir:             "/var/lib/netman",
			ShutdownTimeout:     30 * time.Second,
			HealthCheckInterval: 30 * time.Second,
		},
		Database: db.DefaultConfig(),
		Discovery: DiscoveryConfig{
			Port:            22,
			ConnectTimeout:  30 * time.Second,
			CommandTimeout:  30 * time.Second,
			StatusTTL:       15 * time.Second,
			StatusCacheSize: 4096,
			Dialects:        []string{"legacy", "standard"},
			PagingCommands:  []string{"terminal length 0", "no paging"},
			RegistryFile:    "",
			MaxRestarts:     1,
			SweepPort:       22,
		},
		Workers: WorkersConfig{
			Size:            10,
			QueueSize:       1000,
			MaxRetries:      2,
			RetryDelay:      5 * time.Second,
			ShutdownTimeout: 60 * time.Second,
			RateLimit:       0,
		},
		API: APIConfig{
			Enabled:        true,
			Host:           "127.0.0.1",
			Port:           8080,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			IdleTimeout:    60 * time.Second,
			AllowedOrigins: []string{"*"},
			MaxRequestSize: 1024 * 1024, // 1MB
		},
		Logging: LoggingConfig{
			Level:          "info",
			Format:         "text",
			Output:         "stdout",
			RequestLogging: true,
		},
	}
}

// Load loads configuration from a file. A missing file yields the defaults.
// NETMAN_DB_* environment variables override the database section.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// defaults only
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, errors.WrapConfigError(errors.CodeConfiguration, "failed to parse config", err)
			}
		}
	}

	if err := applyDatabaseEnv(&config.Database); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// applyDatabaseEnv overrides database settings from the environment.
func applyDatabaseEnv(cfg *db.Config) error {
	if v := os.Getenv(envPrefix + "DB_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv(envPrefix + "DB_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.ErrConfigInvalid("database.port", v)
		}
		cfg.Port = port
	}
	if v := os.Getenv(envPrefix + "DB_NAME"); v != "" {
		cfg.Database = v
	}
	if v := os.Getenv(envPrefix + "DB_USER"); v != "" {
		cfg.Username = v
	}
	if v := os.Getenv(envPrefix + "DB_PASSWORD"); v != "" {
		cfg.Password = v
	}
	if v := os.Getenv(envPrefix + "DB_SSLMODE"); v != "" {
		cfg.SSLMode = v
	}
	return nil
}

// Save saves configuration to a file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPerm); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, configFilePerm); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Database.Host == "" {
		return errors.ErrConfigMissing("database.host")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return errors.ErrConfigInvalid("database.port", c.Database.Port)
	}

	if err := c.validateDiscovery(); err != nil {
		return err
	}

	if c.Workers.Size <= 0 {
		return errors.ErrConfigInvalid("workers.size", c.Workers.Size)
	}
	if c.Workers.QueueSize <= 0 {
		return errors.ErrConfigInvalid("workers.queue_size", c.Workers.QueueSize)
	}

	for _, s := range c.Daemon.Schedules {
		if s.Cron == "" {
			return errors.ErrConfigMissing("daemon.schedules.cron")
		}
		switch s.Kind {
		case ScheduleScanAll:
		case ScheduleSweep:
			if s.Network == "" {
				return errors.ErrConfigMissing("daemon.schedules.network")
			}
		default:
			return errors.ErrConfigInvalid("daemon.schedules.kind", s.Kind)
		}
	}

	if c.API.Enabled {
		if c.API.Port <= 0 || c.API.Port > 65535 {
			return errors.ErrConfigInvalid("api.port", c.API.Port)
		}
		if c.API.Host == "" {
			return errors.ErrConfigMissing("api.host")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return errors.ErrConfigInvalid("logging.level", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"text": true,
		"json": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return errors.ErrConfigInvalid("logging.format", c.Logging.Format)
	}

	return nil
}

func (c *Config) validateDiscovery() error {
	d := c.Discovery
	if d.Port <= 0 || d.Port > 65535 {
		return errors.ErrConfigInvalid("discovery.port", d.Port)
	}
	if d.SweepPort <= 0 || d.SweepPort > 65535 {
		return errors.ErrConfigInvalid("discovery.sweep_port", d.SweepPort)
	}
	if d.ConnectTimeout <= 0 {
		return errors.ErrConfigInvalid("discovery.connect_timeout", d.ConnectTimeout)
	}
	if d.CommandTimeout <= 0 {
		return errors.ErrConfigInvalid("discovery.command_timeout", d.CommandTimeout)
	}
	if d.StatusTTL < 0 {
		return errors.ErrConfigInvalid("discovery.status_ttl", d.StatusTTL)
	}
	if d.StatusCacheSize <= 0 {
		return errors.ErrConfigInvalid("discovery.status_cache_size", d.StatusCacheSize)
	}
	if d.MaxRestarts < 0 {
		return errors.ErrConfigInvalid("discovery.max_restarts", d.MaxRestarts)
	}
	if len(d.Dialects) == 0 {
		return errors.ErrConfigMissing("discovery.dialects")
	}
	validDialects := map[string]bool{
		"legacy":   true,
		"standard": true,
	}
	for _, dialect := range d.Dialects {
		if !validDialects[dialect] {
			return errors.ErrConfigInvalid("discovery.dialects", dialect)
		}
	}
	return nil
}

// GetDatabaseConfig returns the database configuration
func (c *Config) GetDatabaseConfig() db.Config {
	return c.Database
}

// GetAPIAddress returns the full API address
func (c *Config) GetAPIAddress() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

// IsAPIEnabled returns true if API server is enabled
func (c *Config) IsAPIEnabled() bool {
	return c.API.Enabled
}
