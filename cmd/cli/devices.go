package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/anstrom/netman/internal/config"
	"github.com/anstrom/netman/internal/db"
	"github.com/anstrom/netman/internal/device"
)

const (
	defaultListLimit = 100
	hoursPerDay      = 24
	timestampFormat  = "2006-01-02 15:04"
)

var (
	devicesType   string
	devicesName   string
	devicesLimit  int
	devicesOutput string
)

// devicesCmd represents the devices command.
var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Manage discovered devices",
	Long: `View and manage the devices stored by discovery. Devices can be
filtered by type and name.`,
	Example: `  netman devices list
  netman devices list --type cisco --output json
  netman devices show 6f1c0b8e-5c55-4d7b-9a3e-0f9d3b1f2a10
  netman devices delete 6f1c0b8e-5c55-4d7b-9a3e-0f9d3b1f2a10`,
}

var devicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored devices",
	Args:  cobra.NoArgs,
	RunE:  runDevicesList,
}

var devicesShowCmd = &cobra.Command{
	Use:   "show [ID]",
	Short: "Show a device and its collected output",
	Args:  cobra.ExactArgs(1),
	RunE:  runDevicesShow,
}

var devicesDeleteCmd = &cobra.Command{
	Use:   "delete [ID]",
	Short: "Delete a stored device",
	Args:  cobra.ExactArgs(1),
	RunE:  runDevicesDelete,
}

func init() {
	rootCmd.AddCommand(devicesCmd)
	devicesCmd.AddCommand(devicesListCmd, devicesShowCmd, devicesDeleteCmd)

	devicesListCmd.Flags().StringVar(&devicesType, "type", "", "Filter by device type")
	devicesListCmd.Flags().StringVar(&devicesName, "name", "", "Filter by name (substring)")
	devicesListCmd.Flags().IntVar(&devicesLimit, "limit", defaultListLimit, "Maximum number of devices to list")
	devicesCmd.PersistentFlags().StringVarP(&devicesOutput, "output", "o", "table", "Output format: table or json")
}

func runDevicesList(_ *cobra.Command, _ []string) error {
	if err := validateOutputFormat(devicesOutput); err != nil {
		return err
	}

	return withDatabase(func(ctx context.Context, _ *config.Config, database *db.DB) error {
		devices, total, err := db.NewDeviceRepository(database).List(ctx, db.DeviceFilter{
			Type:  devicesType,
			Name:  devicesName,
			Limit: devicesLimit,
		})
		if err != nil {
			return fmt.Errorf("error querying devices: %w", err)
		}

		if devicesOutput == "json" {
			return writeJSON(os.Stdout, map[string]interface{}{"devices": devices, "total": total})
		}
		displayDevices(os.Stdout, devices, total)
		return nil
	})
}

func runDevicesShow(_ *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := validateOutputFormat(devicesOutput); err != nil {
		return err
	}

	return withDatabase(func(ctx context.Context, _ *config.Config, database *db.DB) error {
		dev, err := db.NewDeviceRepository(database).GetByID(ctx, id)
		if err != nil {
			return err
		}
		if devicesOutput == "json" {
			return writeJSON(os.Stdout, dev)
		}
		displayDevice(os.Stdout, dev, true)
		return nil
	})
}

func runDevicesDelete(_ *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}

	return withDatabase(func(ctx context.Context, _ *config.Config, database *db.DB) error {
		if err := db.NewDeviceRepository(database).Delete(ctx, id); err != nil {
			return err
		}
		fmt.Printf("Deleted device %s\n", id)
		return nil
	})
}

// displayDevices renders devices as a table.
func displayDevices(w io.Writer, devices []*device.Device, total int64) {
	if len(devices) == 0 {
		fmt.Fprintln(w, "No devices found.")
		return
	}

	table := tablewriter.NewWriter(w)
	table.Header("ID", "IP", "Name", "Type", "Model", "Serial", "Last Discovered")

	for _, dev := range devices {
		_ = table.Append([]string{
			dev.ID.String(),
			dev.IP,
			dev.Name,
			string(dev.Type),
			dev.Model,
			dev.Serial,
			formatTimestamp(dev.LastDiscoveredAt),
		})
	}
	_ = table.Render()

	if total > int64(len(devices)) {
		fmt.Fprintf(w, "Showing %d of %d devices\n", len(devices), total)
	}
}

// displayDevice prints one device. With outputs set, every collected
// command output follows the summary.
func displayDevice(w io.Writer, dev *device.Device, outputs bool) {
	fmt.Fprintf(w, "ID:              %s\n", dev.ID)
	fmt.Fprintf(w, "IP:              %s\n", dev.IP)
	fmt.Fprintf(w, "Name:            %s\n", dev.Name)
	fmt.Fprintf(w, "Type:            %s\n", dev.Type)
	fmt.Fprintf(w, "Model:           %s\n", dev.Model)
	fmt.Fprintf(w, "Serial:          %s\n", dev.Serial)
	fmt.Fprintf(w, "Last discovered: %s\n", formatTimestamp(dev.LastDiscoveredAt))
	fmt.Fprintf(w, "Last scanned:    %s\n", formatTimestamp(dev.LastScannedAt))

	if !outputs {
		fmt.Fprintf(w, "Collected:       %s\n", strings.Join(dev.Data.Keys(), ", "))
		return
	}
	for _, out := range dev.Data {
		fmt.Fprintf(w, "\n--- %s ---\n%s\n", out.Key, strings.TrimRight(out.Output, "\n"))
	}
}

func formatTimestamp(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "never"
	}
	return t.Local().Format(timestampFormat)
}

func formatDuration(d time.Duration) string {
	if d < time.Hour {
		return fmt.Sprintf("%.0fm", d.Minutes())
	} else if d < hoursPerDay*time.Hour {
		return fmt.Sprintf("%.1fh", d.Hours())
	}
	days := int(d.Hours() / hoursPerDay)
	return fmt.Sprintf("%dd", days)
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid ID '%s': %w", s, err)
	}
	return id, nil
}

func validateOutputFormat(format string) error {
	switch format {
	case "table", "json":
		return nil
	default:
		return fmt.Errorf("invalid output format '%s'. Valid formats: table, json", format)
	}
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
