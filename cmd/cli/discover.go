package cli

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/anstrom/netman/internal/daemon"
	"github.com/anstrom/netman/internal/services"
	"github.com/anstrom/netman/internal/workers"
)

var (
	discoverDeviceID string
	discoverUsername string
	discoverPassword string
	discoverNetwork  string
)

// discoverCmd represents the discover command.
var discoverCmd = &cobra.Command{
	Use:   "discover [IP]",
	Short: "Discover and classify a network device",
	Long: `Log into a device, work out its type by walking the device type
hierarchy, collect the output of that type's scan commands and store
the result.

A device is named by address, or by --id to rediscover a stored device.
--username and --password supply a credential to try before the stored
ones; it is saved for later use. With --network every address in the
CIDR block that answers on the SSH port is discovered.`,
	Example: `  netman discover 10.0.0.1
  netman discover 10.0.0.1 --username admin --password secret
  netman discover --id 6f1c0b8e-5c55-4d7b-9a3e-0f9d3b1f2a10
  netman discover --network 10.0.0.0/24`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDiscover,
}

func init() {
	rootCmd.AddCommand(discoverCmd)

	discoverCmd.Flags().StringVar(&discoverDeviceID, "id", "", "ID of a stored device to rediscover")
	discoverCmd.Flags().StringVar(&discoverUsername, "username", "", "Username to try first")
	discoverCmd.Flags().StringVar(&discoverPassword, "password", "", "Password for --username")
	discoverCmd.Flags().StringVar(&discoverNetwork, "network", "", "Discover every device in a CIDR block")

	discoverCmd.MarkFlagsMutuallyExclusive("id", "network")
	discoverCmd.MarkFlagsRequiredTogether("username", "password")
}

// buildDiscoverRequest turns the command line into a discovery request.
func buildDiscoverRequest(args []string, id, username, password string) (services.DiscoverRequest, error) {
	req := services.DiscoverRequest{Username: username, Password: password}

	switch {
	case len(args) == 1 && id != "":
		return req, fmt.Errorf("specify either an address or --id, not both")
	case len(args) == 1:
		if err := validateIP(args[0]); err != nil {
			return req, fmt.Errorf("invalid IP address '%s': %w", args[0], err)
		}
		req.IP = args[0]
	case id != "":
		deviceID, err := uuid.Parse(id)
		if err != nil {
			return req, fmt.Errorf("invalid device ID '%s': %w", id, err)
		}
		req.DeviceID = &deviceID
	default:
		return req, fmt.Errorf("an IP address, --id or --network is required")
	}
	return req, nil
}

func runDiscover(_ *cobra.Command, args []string) error {
	if discoverNetwork != "" {
		if len(args) > 0 {
			return fmt.Errorf("--network cannot be combined with an address")
		}
		return runDiscoverNetwork(discoverNetwork)
	}

	req, err := buildDiscoverRequest(args, discoverDeviceID, discoverUsername, discoverPassword)
	if err != nil {
		return err
	}

	return withComponents(func(ctx context.Context, c *daemon.Components) error {
		dev, err := c.Service.Discover(ctx, req)
		if err != nil {
			return fmt.Errorf("discovery failed: %w", err)
		}
		displayDevice(os.Stdout, dev, verbose)
		return nil
	})
}

func runDiscoverNetwork(network string) error {
	return withComponents(func(ctx context.Context, c *daemon.Components) error {
		hosts, err := c.Service.Sweep(ctx, network)
		if err != nil {
			return fmt.Errorf("sweep failed: %w", err)
		}
		if len(hosts) == 0 {
			fmt.Printf("No devices answered on %s\n", network)
			return nil
		}
		fmt.Printf("Discovering %d devices on %s...\n", len(hosts), network)

		jobs := make([]workers.Job, 0, len(hosts))
		for _, ip := range hosts {
			jobs = append(jobs, c.Service.DiscoverJob(services.DiscoverRequest{IP: ip}))
		}

		result, err := runBatch(ctx, c.Pool, jobs)
		printBatchResult(os.Stdout, "discovered", result)
		return err
	})
}

// printBatchResult writes a summary of a pool batch.
func printBatchResult(w io.Writer, verb string, r batchResult) {
	fmt.Fprintf(w, "%d %s, %d failed\n", r.Succeeded, verb, len(r.Failed))
	for _, f := range r.Failed {
		fmt.Fprintf(w, "  %s: %v\n", f.JobID, f.Error)
	}
}

// validateIP accepts IPv4 and IPv6 addresses.
func validateIP(ip string) error {
	if net.ParseIP(ip) == nil {
		return fmt.Errorf("not an IPv4 or IPv6 address")
	}
	return nil
}
