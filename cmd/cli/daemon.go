package cli

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/anstrom/netman/internal/config"
	"github.com/anstrom/netman/internal/daemon"
)

const (
	daemonStopProgressStep = 5  // show progress every N seconds
	daemonStopTimeout      = 30 // seconds to wait before force kill
	statusLineLength       = 30 // characters for status separator line
)

var daemonPidFile string

// daemonCmd represents the daemon command.
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run netman as a service",
	Long: `Run netman as a long-lived service that executes the configured
schedules, processes discovery and scan jobs through the worker pool
and serves the REST API. Run it under a service manager such as systemd;
it stays in the foreground.`,
	Example: `  netman daemon start
  netman daemon stop
  netman daemon status
  netman daemon reload`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the netman daemon in the foreground",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running netman daemon",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check the status of the netman daemon",
	Args:  cobra.NoArgs,
	Run:   runDaemonStatus,
}

var daemonReloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Make the running daemon reload its schedules",
	Args:  cobra.NoArgs,
	RunE:  runDaemonReload,
}

func init() {
	rootCmd.AddCommand(daemonCmd)
	daemonCmd.AddCommand(daemonStartCmd, daemonStopCmd, daemonStatusCmd, daemonReloadCmd)

	daemonCmd.PersistentFlags().StringVar(&daemonPidFile, "pid-file", "",
		"File holding the daemon process ID (default from config)")
}

// resolvePIDFile returns the --pid-file flag or the configured PID file.
func resolvePIDFile(cfg *config.Config) string {
	if daemonPidFile != "" {
		return daemonPidFile
	}
	if cfg != nil {
		return cfg.Daemon.PIDFile
	}
	return config.Default().Daemon.PIDFile
}

func runDaemonStart(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Daemon.PIDFile = resolvePIDFile(cfg)

	if pid, running := daemonRunning(cfg.Daemon.PIDFile); running {
		return fmt.Errorf("daemon is already running with PID %d; use 'netman daemon stop' first", pid)
	}

	if verbose {
		fmt.Printf("Starting daemon with configuration:\n")
		fmt.Printf("  Config file: %s\n", getConfigFilePath())
		fmt.Printf("  PID file: %s\n", cfg.Daemon.PIDFile)
		fmt.Printf("  API: %t (%s)\n", cfg.IsAPIEnabled(), cfg.GetAPIAddress())
		fmt.Printf("  Workers: %d\n", cfg.Workers.Size)
		fmt.Printf("  Schedules: %d\n", len(cfg.Daemon.Schedules))
	}

	d := daemon.New(cfg, getConfigFilePath())
	if err := d.Start(); err != nil {
		return fmt.Errorf("error starting daemon: %w", err)
	}
	return nil
}

func runDaemonStop(_ *cobra.Command, _ []string) error {
	pidFile := resolvePIDFile(configOrNil())

	pid, running := daemonRunning(pidFile)
	if !running {
		fmt.Printf("Daemon is not running (no live PID in %s)\n", pidFile)
		return nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("error finding daemon process: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("error sending stop signal to daemon: %w", err)
	}

	fmt.Printf("Stopping daemon (PID %d)...\n", pid)
	for i := 0; i < daemonStopTimeout; i++ {
		if _, running := daemonRunning(pidFile); !running {
			fmt.Println("Daemon stopped successfully")
			return nil
		}
		time.Sleep(1 * time.Second)
		if i%daemonStopProgressStep == (daemonStopProgressStep - 1) {
			fmt.Printf("Waiting for daemon to stop... (%d seconds)\n", i+1)
		}
	}

	fmt.Printf("Daemon did not stop gracefully, sending SIGKILL...\n")
	if err := process.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("error force-killing daemon: %w", err)
	}
	_ = os.Remove(pidFile)
	fmt.Println("Daemon force-stopped")
	return nil
}

func runDaemonStatus(_ *cobra.Command, _ []string) {
	pidFile := resolvePIDFile(configOrNil())

	fmt.Printf("netman Daemon Status\n")
	fmt.Println(strings.Repeat("=", statusLineLength))

	pid, running := daemonRunning(pidFile)
	if !running {
		fmt.Printf("Status: Not running\n")
		fmt.Printf("PID file: %s\n", pidFile)
		return
	}

	fmt.Printf("Status: Running\n")
	fmt.Printf("PID: %d\n", pid)
	fmt.Printf("PID file: %s\n", pidFile)

	if info, err := os.Stat(pidFile); err == nil {
		fmt.Printf("Started: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
		fmt.Printf("Uptime: %s\n", formatDuration(time.Since(info.ModTime())))
	}

	fmt.Printf("\nTo dump daemon status to its log: kill -USR1 %d\n", pid)
	fmt.Printf("To stop daemon: netman daemon stop\n")
}

func runDaemonReload(_ *cobra.Command, _ []string) error {
	pidFile := resolvePIDFile(configOrNil())

	pid, running := daemonRunning(pidFile)
	if !running {
		return fmt.Errorf("daemon is not running")
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("error finding daemon process: %w", err)
	}
	if err := process.Signal(syscall.SIGHUP); err != nil {
		return fmt.Errorf("error sending reload signal to daemon: %w", err)
	}
	fmt.Printf("Reload requested (PID %d)\n", pid)
	return nil
}

// configOrNil loads the config for commands that can do without it.
func configOrNil() *config.Config {
	cfg, err := loadConfig()
	if err != nil {
		return nil
	}
	return cfg
}

// daemonRunning reads pidFile and reports whether that process is alive.
func daemonRunning(pidFile string) (int, bool) {
	pid, err := readPIDFile(pidFile)
	if err != nil {
		return 0, false
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}
	return pid, process.Signal(syscall.Signal(0)) == nil
}

func readPIDFile(pidFile string) (int, error) {
	// #nosec G304 - pidFile comes from the config or a command line flag
	data, err := os.ReadFile(pidFile)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID in file: %w", err)
	}
	return pid, nil
}
