package workers

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverJob(t *testing.T) {
	var got string
	job := NewDiscoverJob("10.0.0.1", func(_ context.Context, ip string) error {
		got = ip
		return nil
	})

	require.NoError(t, job.Execute(context.Background()))
	assert.Equal(t, "10.0.0.1", got)
	assert.Equal(t, TypeDiscover, job.Type())
	assert.Equal(t, "10.0.0.1", job.IP())
	assert.Contains(t, job.ID(), "discover-10.0.0.1-")

	other := NewDiscoverJob("10.0.0.1", nil)
	assert.NotEqual(t, job.ID(), other.ID())
}

func TestScanJob(t *testing.T) {
	id := uuid.New()
	var got uuid.UUID
	job := NewScanJob(id, func(_ context.Context, deviceID uuid.UUID) error {
		got = deviceID
		return nil
	})

	require.NoError(t, job.Execute(context.Background()))
	assert.Equal(t, id, got)
	assert.Equal(t, id, job.DeviceID())
	assert.Equal(t, TypeScan, job.Type())
	assert.Equal(t, "scan-"+id.String(), job.ID())
}
