package daemon

import (
	"os"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netman/internal/config"
	"github.com/anstrom/netman/internal/db"
	"github.com/anstrom/netman/internal/logging"
	"github.com/anstrom/netman/internal/transport"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Daemon.PIDFile = filepath.Join(t.TempDir(), "netman.pid")
	cfg.Daemon.WorkDir = ""
	cfg.Daemon.ShutdownTimeout = time.Second
	return cfg
}

func newMockDatabase(t *testing.T) (*db.DB, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return db.NewFromSQLX(sqlx.NewDb(conn, "sqlmock")), mock
}

func newTestDaemon(t *testing.T, cfg *config.Config) *Daemon {
	t.Helper()
	d := New(cfg, "")
	d.SetLogger(logging.NewDiscard())
	return d
}

func TestNewDaemon(t *testing.T) {
	cfg := testConfig(t)
	d := New(cfg, "/etc/netman/config.yaml")

	require.NotNil(t, d)
	assert.Same(t, cfg, d.GetConfig())
	assert.Equal(t, cfg.Daemon.PIDFile, d.pidFile)
	assert.Equal(t, "/etc/netman/config.yaml", d.configPath)
	assert.NotNil(t, d.logger)
	assert.True(t, d.IsRunning())
	assert.Equal(t, os.Getpid(), d.GetPID())
}

func TestPIDFileHandling(t *testing.T) {
	cfg := testConfig(t)
	d := newTestDaemon(t, cfg)

	require.NoError(t, d.createPIDFile())

	content, err := os.ReadFile(cfg.Daemon.PIDFile)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(content))

	d.cleanup()
	_, err = os.Stat(cfg.Daemon.PIDFile)
	assert.True(t, os.IsNotExist(err), "PID file was not removed")
}

func TestPIDFileNestedDirectory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Daemon.PIDFile = filepath.Join(t.TempDir(), "run", "netman", "netman.pid")
	d := newTestDaemon(t, cfg)

	require.NoError(t, d.createPIDFile())
	assert.FileExists(t, cfg.Daemon.PIDFile)
}

func TestPIDFileNotConfigured(t *testing.T) {
	cfg := testConfig(t)
	cfg.Daemon.PIDFile = ""
	d := newTestDaemon(t, cfg)

	assert.NoError(t, d.createPIDFile())
}

func TestExistingPIDFile(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{"live process", strconv.Itoa(os.Getpid()), true},
		{"stale process", "999999999", false},
		{"garbage", "not-a-pid", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			require.NoError(t, os.WriteFile(cfg.Daemon.PIDFile, []byte(tt.content), DefaultFilePermissions))
			d := newTestDaemon(t, cfg)

			err := d.createPIDFile()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "already running")
				return
			}
			require.NoError(t, err)
			content, err := os.ReadFile(cfg.Daemon.PIDFile)
			require.NoError(t, err)
			assert.Equal(t, strconv.Itoa(os.Getpid()), string(content))
		})
	}
}

func TestTerminationSignalCancelsContext(t *testing.T) {
	for _, sig := range []syscall.Signal{syscall.SIGTERM, syscall.SIGINT} {
		t.Run(sig.String(), func(t *testing.T) {
			d := newTestDaemon(t, testConfig(t))
			d.handleSignal(sig)

			select {
			case <-d.GetContext().Done():
			case <-time.After(time.Second):
				t.Fatal("context was not canceled")
			}
			assert.False(t, d.IsRunning())
		})
	}
}

func TestStatusSignalKeepsRunning(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	d.handleSignal(syscall.SIGUSR1)
	assert.True(t, d.IsRunning())
}

func TestStopWithoutStart(t *testing.T) {
	cfg := testConfig(t)
	d := newTestDaemon(t, cfg)
	require.NoError(t, d.createPIDFile())

	require.NoError(t, d.Stop())
	assert.False(t, d.IsRunning())
	assert.NoFileExists(t, cfg.Daemon.PIDFile)
}

func TestStartRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Workers.Size = 0
	d := newTestDaemon(t, cfg)

	err := d.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configuration validation failed")
	assert.NoFileExists(t, cfg.Daemon.PIDFile)
}

func TestNewComponents(t *testing.T) {
	database, mock := newMockDatabase(t)

	c, err := NewComponents(testConfig(t), database, logging.NewDiscard())
	require.NoError(t, err)

	assert.NotNil(t, c.Registry)
	assert.NotNil(t, c.Metrics)
	assert.NotNil(t, c.Status)
	assert.NotNil(t, c.Devices)
	assert.NotNil(t, c.Credentials)
	assert.NotNil(t, c.Engine)
	assert.NotNil(t, c.Sweeper)
	assert.NotNil(t, c.Service)
	assert.NotNil(t, c.Pool)
	assert.Zero(t, c.Pool.QueueLength())

	// Wiring must not touch the database.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewComponentsErrors(t *testing.T) {
	tests := []struct {
		name   string
		modify func(cfg *config.Config)
	}{
		{"unknown dialect", func(cfg *config.Config) { cfg.Discovery.Dialects = []string{"telnet"} }},
		{"missing registry file", func(cfg *config.Config) {
			cfg.Discovery.RegistryFile = filepath.Join(os.TempDir(), "netman-missing-registry.yaml")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			database, _ := newMockDatabase(t)
			cfg := testConfig(t)
			tt.modify(cfg)

			_, err := NewComponents(cfg, database, logging.NewDiscard())
			assert.Error(t, err)
		})
	}
}

func TestEngineConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Discovery.Dialects = []string{"standard", "legacy"}
	cfg.Discovery.MaxRestarts = 3

	ec, err := EngineConfig(cfg)
	require.NoError(t, err)

	assert.Equal(t, []transport.Dialect{transport.DialectStandard, transport.DialectLegacy}, ec.Dialects)
	assert.Equal(t, 3, ec.MaxRestarts)
	assert.Equal(t, cfg.Discovery.CommandTimeout, ec.CommandTimeout)
	assert.Equal(t, cfg.Discovery.StatusTTL, ec.StatusTTL)
	assert.Equal(t, cfg.Discovery.PagingCommands, ec.PagingCommands)
}

func TestReloadConfigurationReplacesSchedules(t *testing.T) {
	database, _ := newMockDatabase(t)
	cfg := testConfig(t)
	cfg.Daemon.Schedules = []config.ScheduleConfig{
		{Name: "nightly", Kind: config.ScheduleScanAll, Cron: "0 2 * * *"},
	}

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(`
daemon:
  schedules:
    - name: hourly
      kind: scan_all
      cron: "0 * * * *"
    - name: lab-sweep
      kind: sweep
      cron: "*/30 * * * *"
      network: 10.20.0.0/24
`), DefaultFilePermissions))

	d := New(cfg, configPath)
	d.SetLogger(logging.NewDiscard())

	components, err := NewComponents(cfg, database, logging.NewDiscard())
	require.NoError(t, err)
	d.components = components
	require.NoError(t, d.initScheduler())
	require.Len(t, d.scheduler.Entries(), 1)

	require.NoError(t, d.reloadConfiguration())

	entries := d.scheduler.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "hourly", entries[0].Name)
	assert.Equal(t, "lab-sweep", entries[1].Name)
	assert.Equal(t, "10.20.0.0/24", entries[1].Network)
	assert.Len(t, d.GetConfig().Daemon.Schedules, 2)
}

func TestReloadConfigurationInvalidFile(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("workers:\n  size: 0\n"), DefaultFilePermissions))

	cfg := testConfig(t)
	d := New(cfg, configPath)
	d.SetLogger(logging.NewDiscard())

	assert.Error(t, d.reloadConfiguration())
	assert.Same(t, cfg, d.GetConfig())
}

func TestHasAPIConfigChanged(t *testing.T) {
	d := newTestDaemon(t, testConfig(t))
	oldConfig := config.Default()
	newConfig := config.Default()

	assert.False(t, d.hasAPIConfigChanged(oldConfig, newConfig))

	newConfig.API.Port = 9090
	assert.True(t, d.hasAPIConfigChanged(oldConfig, newConfig))
}
