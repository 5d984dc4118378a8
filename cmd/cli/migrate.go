package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/netman/internal/config"
	"github.com/anstrom/netman/internal/db"
)

var migrateForce bool

// migrateCmd represents the migrate command.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
	Example: `  netman migrate up
  netman migrate status
  netman migrate reset --force`,
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return withDatabase(func(ctx context.Context, _ *config.Config, database *db.DB) error {
			if err := db.NewMigrator(database.DB).Up(ctx); err != nil {
				return err
			}
			fmt.Println("Database schema is up to date")
			return nil
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show which migrations have been applied",
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		return withDatabase(func(ctx context.Context, _ *config.Config, database *db.DB) error {
			status, err := db.NewMigrator(database.DB).Status(ctx)
			if err != nil {
				return err
			}
			displayMigrationStatus(os.Stdout, status)
			return nil
		})
	},
}

var migrateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Drop all tables and reapply every migration",
	Long:  `Drop all netman tables and reapply every migration. All stored devices and credentials are lost.`,
	Args:  cobra.NoArgs,
	RunE: func(_ *cobra.Command, _ []string) error {
		if !migrateForce {
			return fmt.Errorf("reset deletes all data; rerun with --force to confirm")
		}
		return withDatabase(func(ctx context.Context, _ *config.Config, database *db.DB) error {
			if err := db.NewMigrator(database.DB).Reset(ctx); err != nil {
				return err
			}
			fmt.Println("Database reset complete")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd, migrateStatusCmd, migrateResetCmd)
	migrateResetCmd.Flags().BoolVar(&migrateForce, "force", false, "Confirm dropping all data")
}

func displayMigrationStatus(w io.Writer, status []db.MigrationStatus) {
	table := tablewriter.NewWriter(w)
	table.Header("Migration", "Applied", "Applied At")

	for _, s := range status {
		applied, at := "no", ""
		if s.Applied {
			applied = "yes"
			at = s.AppliedAt.Local().Format(timestampFormat)
		}
		_ = table.Append([]string{s.Name, applied, at})
	}
	_ = table.Render()
}
