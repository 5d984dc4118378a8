package services

import (
	"context"

	"github.com/google/uuid"

	"github.com/anstrom/netman/internal/workers"
)

// DiscoverJob wraps Discover for the worker pool. req.IP names the job's
// address; requests by device ID report an empty address.
func (s *DeviceService) DiscoverJob(req DiscoverRequest) *workers.DiscoverJob {
	return workers.NewDiscoverJob(req.IP, func(ctx context.Context, _ string) error {
		_, err := s.Discover(ctx, req)
		return err
	})
}

// ScanJob wraps Scan for the worker pool.
func (s *DeviceService) ScanJob(id uuid.UUID) *workers.ScanJob {
	return workers.NewScanJob(id, func(ctx context.Context, id uuid.UUID) error {
		_, err := s.Scan(ctx, id)
		return err
	})
}
