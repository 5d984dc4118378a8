package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/anstrom/netman/internal/daemon"
	"github.com/anstrom/netman/internal/workers"
)

var scanAll bool

// scanCmd represents the scan command.
var scanCmd = &cobra.Command{
	Use:   "scan [ID]",
	Short: "Rescan stored devices",
	Long: `Rerun the scan commands of a stored device's type without
classifying it again, and store the refreshed output. With --all
every stored device is rescanned through the worker pool.`,
	Example: `  netman scan 6f1c0b8e-5c55-4d7b-9a3e-0f9d3b1f2a10
  netman scan --all`,
	Args: func(cmd *cobra.Command, args []string) error {
		if scanAll {
			return cobra.NoArgs(cmd, args)
		}
		return cobra.ExactArgs(1)(cmd, args)
	},
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	scanCmd.Flags().BoolVar(&scanAll, "all", false, "Rescan every stored device")
}

func runScan(_ *cobra.Command, args []string) error {
	if scanAll {
		return runScanAll()
	}

	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	return withComponents(func(ctx context.Context, c *daemon.Components) error {
		dev, err := c.Service.Scan(ctx, id)
		if err != nil {
			return fmt.Errorf("scan failed: %w", err)
		}
		displayDevice(os.Stdout, dev, verbose)
		return nil
	})
}

func runScanAll() error {
	return withComponents(func(ctx context.Context, c *daemon.Components) error {
		var jobs []workers.Job
		if _, err := c.Service.ScanAll(ctx, func(id uuid.UUID) error {
			jobs = append(jobs, c.Service.ScanJob(id))
			return nil
		}); err != nil {
			return fmt.Errorf("error listing devices: %w", err)
		}
		if len(jobs) == 0 {
			fmt.Println("No devices to scan.")
			return nil
		}
		fmt.Printf("Scanning %d devices...\n", len(jobs))

		result, err := runBatch(ctx, c.Pool, jobs)
		printBatchResult(os.Stdout, "scanned", result)
		return err
	})
}
