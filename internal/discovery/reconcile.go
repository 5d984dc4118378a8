package discovery

import (
	"context"

	"github.com/anstrom/netman/internal/device"
)

// Repository is the device storage the engine reconciles against. Finders
// return nil, nil when nothing matches.
type Repository interface {
	FindByIP(ctx context.Context, ip string) (*device.Device, error)
	FindBySerial(ctx context.Context, serial string) (*device.Device, error)
	FindByName(ctx context.Context, name string) (*device.Device, error)
	Save(ctx context.Context, dev *device.Device) error
}

// MatchKind says which identity field matched an existing record.
type MatchKind string

const (
	MatchNone   MatchKind = ""
	MatchIP     MatchKind = "ip"
	MatchSerial MatchKind = "serial"
	MatchName   MatchKind = "name"
)

// FindExisting looks dev up by IP, then serial, then name. Empty serial and
// name are never looked up.
func FindExisting(ctx context.Context, repo Repository, dev *device.Device) (*device.Device, MatchKind, error) {
	if dev.IP != "" {
		existing, err := repo.FindByIP(ctx, dev.IP)
		if err != nil {
			return nil, MatchNone, err
		}
		if existing != nil {
			return existing, MatchIP, nil
		}
	}
	if dev.Serial != "" {
		existing, err := repo.FindBySerial(ctx, dev.Serial)
		if err != nil {
			return nil, MatchNone, err
		}
		if existing != nil {
			return existing, MatchSerial, nil
		}
	}
	if dev.Name != "" {
		existing, err := repo.FindByName(ctx, dev.Name)
		if err != nil {
			return nil, MatchNone, err
		}
		if existing != nil {
			return existing, MatchName, nil
		}
	}
	return nil, MatchNone, nil
}
