package discovery

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/netman/internal/device"
)

func TestFindExisting(t *testing.T) {
	store := &memoryStore{}
	a := &device.Device{ID: uuid.New(), IP: "10.0.0.1", Serial: "SN1", Name: "sw-a"}
	b := &device.Device{ID: uuid.New(), IP: "10.0.0.2", Serial: "SN1", Name: "sw-b"}
	unnamed := &device.Device{ID: uuid.New(), IP: "10.0.0.5"}
	for _, d := range []*device.Device{a, b, unnamed} {
		require.NoError(t, store.Save(context.Background(), d))
	}

	tests := []struct {
		name   string
		dev    device.Device
		wantID uuid.UUID
		kind   MatchKind
	}{
		{"ip wins over serial", device.Device{IP: "10.0.0.2", Serial: "SN1"}, b.ID, MatchIP},
		{"serial when ip is unknown", device.Device{IP: "10.0.0.9", Serial: "SN1"}, a.ID, MatchSerial},
		{"name when serial is unknown", device.Device{IP: "10.0.0.9", Serial: "SN9", Name: "sw-b"}, b.ID, MatchName},
		{"empty serial and name are not looked up", device.Device{IP: "10.0.0.9"}, uuid.Nil, MatchNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := tt.dev
			got, kind, err := FindExisting(context.Background(), store, &dev)
			require.NoError(t, err)
			assert.Equal(t, tt.kind, kind)
			if tt.wantID == uuid.Nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.wantID, got.ID)
		})
	}
}
