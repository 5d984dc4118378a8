// Package sweep finds discovery candidates on a network: hosts that answer on
// the management port.
package sweep

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/Ullaakut/nmap/v3"

	"github.com/anstrom/netman/internal/logging"
)

const (
	defaultTimeout     = 5 * time.Minute
	maxNetworkSizeBits = 16 // Limit to /16 or smaller networks
)

// Config holds sweep settings.
type Config struct {
	Port    int
	Timeout time.Duration
}

// Runner executes an nmap scan. Swappable in tests.
type Runner func(ctx context.Context, options ...nmap.Option) (*nmap.Run, error)

// Sweeper scans networks for hosts with the management port open.
type Sweeper struct {
	config Config
	run    Runner
	logger *logging.Logger
}

// New creates a sweeper that runs the nmap binary.
func New(cfg Config, logger *logging.Logger) *Sweeper {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	s := &Sweeper{config: cfg, logger: logger.WithComponent("sweep")}
	s.run = s.runNmap
	return s
}

// WithRunner replaces the nmap runner.
func (s *Sweeper) WithRunner(run Runner) *Sweeper {
	s.run = run
	return s
}

// ValidateNetwork checks that network is a CIDR no larger than a /16.
func ValidateNetwork(network string) (*net.IPNet, error) {
	_, ipnet, err := net.ParseCIDR(network)
	if err != nil {
		return nil, fmt.Errorf("invalid network: %w", err)
	}
	ones, bits := ipnet.Mask.Size()
	if bits == 32 && ones < maxNetworkSizeBits {
		return nil, fmt.Errorf("network %s is larger than /%d", network, maxNetworkSizeBits)
	}
	return ipnet, nil
}

// buildOptions constructs nmap options for a TCP connect probe of one port.
func buildOptions(network string, port int, timeout time.Duration) []nmap.Option {
	options := []nmap.Option{
		nmap.WithTargets(network),
		nmap.WithPorts(strconv.Itoa(port)),
		nmap.WithConnectScan(),
	}

	if timeout <= 30*time.Second {
		options = append(options, nmap.WithTimingTemplate(nmap.TimingAggressive))
	} else {
		options = append(options, nmap.WithTimingTemplate(nmap.TimingNormal))
	}

	return options
}

func (s *Sweeper) runNmap(ctx context.Context, options ...nmap.Option) (*nmap.Run, error) {
	scanner, err := nmap.NewScanner(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("failed to create nmap scanner: %w", err)
	}

	result, warnings, err := scanner.Run()
	if err != nil {
		return nil, fmt.Errorf("nmap sweep failed: %w", err)
	}
	if warnings != nil && len(*warnings) > 0 {
		s.logger.Warn("Sweep completed with warnings", "warnings", *warnings)
	}
	return result, nil
}

// Sweep returns the addresses in network with the management port open.
func (s *Sweeper) Sweep(ctx context.Context, network string) ([]string, error) {
	if _, err := ValidateNetwork(network); err != nil {
		return nil, err
	}

	sweepCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	start := time.Now()
	result, err := s.run(sweepCtx, buildOptions(network, s.config.Port, s.config.Timeout)...)
	if err != nil {
		return nil, err
	}

	ips := openHosts(result, s.config.Port)
	s.logger.Info("Sweep finished",
		"network", network, "port", s.config.Port, "candidates", len(ips), "duration", time.Since(start))
	return ips, nil
}

// openHosts lists the IPv4/IPv6 addresses of hosts that are up with port open.
func openHosts(result *nmap.Run, port int) []string {
	if result == nil {
		return nil
	}
	var ips []string
	for i := range result.Hosts {
		host := &result.Hosts[i]
		if host.Status.State != "up" {
			continue
		}
		if !portOpen(host, port) {
			continue
		}
		for _, addr := range host.Addresses {
			if addr.AddrType == "ipv4" || addr.AddrType == "ipv6" {
				ips = append(ips, addr.Addr)
				break
			}
		}
	}
	return ips
}

func portOpen(host *nmap.Host, port int) bool {
	for _, p := range host.Ports {
		if int(p.ID) == port && p.State.State == "open" {
			return true
		}
	}
	return false
}
