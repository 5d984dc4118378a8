package workers

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Job types.
const (
	TypeDiscover = "discover"
	TypeScan     = "scan"
)

// DiscoverJob discovers the device at one address.
type DiscoverJob struct {
	id       string
	ip       string
	executor func(ctx context.Context, ip string) error
}

// NewDiscoverJob creates a discovery job for ip.
func NewDiscoverJob(ip string, executor func(ctx context.Context, ip string) error) *DiscoverJob {
	return &DiscoverJob{
		id:       fmt.Sprintf("%s-%s-%s", TypeDiscover, ip, uuid.NewString()[:8]),
		ip:       ip,
		executor: executor,
	}
}

// Execute implements the Job interface.
func (j *DiscoverJob) Execute(ctx context.Context) error {
	return j.executor(ctx, j.ip)
}

// ID implements the Job interface.
func (j *DiscoverJob) ID() string {
	return j.id
}

// Type implements the Job interface.
func (j *DiscoverJob) Type() string {
	return TypeDiscover
}

// IP returns the address the job discovers.
func (j *DiscoverJob) IP() string {
	return j.ip
}

// ScanJob rescans one known device.
type ScanJob struct {
	id       string
	deviceID uuid.UUID
	executor func(ctx context.Context, id uuid.UUID) error
}

// NewScanJob creates a scan job for the device with the given ID.
func NewScanJob(deviceID uuid.UUID, executor func(ctx context.Context, id uuid.UUID) error) *ScanJob {
	return &ScanJob{
		id:       fmt.Sprintf("%s-%s", TypeScan, deviceID),
		deviceID: deviceID,
		executor: executor,
	}
}

// Execute implements the Job interface.
func (j *ScanJob) Execute(ctx context.Context) error {
	return j.executor(ctx, j.deviceID)
}

// ID implements the Job interface.
func (j *ScanJob) ID() string {
	return j.id
}

// Type implements the Job interface.
func (j *ScanJob) Type() string {
	return TypeScan
}

// DeviceID returns the device the job scans.
func (j *ScanJob) DeviceID() uuid.UUID {
	return j.deviceID
}
