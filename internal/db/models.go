package db

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/netman/internal/device"
	"github.com/anstrom/netman/internal/registry"
)

// IPAddr wraps net.IP to implement PostgreSQL INET type.
type IPAddr struct {
	net.IP
}

// Scan implements sql.Scanner for PostgreSQL INET type.
func (ip *IPAddr) Scan(value interface{}) error {
	if value == nil {
		return nil
	}

	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("cannot scan %T into IPAddr", value)
	}

	// A host address may come back with its prefix length.
	if parsed, _, err := net.ParseCIDR(s); err == nil {
		ip.IP = parsed
		return nil
	}
	parsed := net.ParseIP(s)
	if parsed == nil {
		return fmt.Errorf("failed to parse IP address: %s", s)
	}
	ip.IP = parsed
	return nil
}

// Value implements driver.Valuer for PostgreSQL INET type.
func (ip IPAddr) Value() (driver.Value, error) {
	if ip.IP == nil {
		return nil, nil
	}
	return ip.IP.String(), nil
}

// String returns the IP address string.
func (ip IPAddr) String() string {
	if ip.IP == nil {
		return ""
	}
	return ip.IP.String()
}

// JSON wraps json.RawMessage for a PostgreSQL JSON column. Unlike JSONB the
// text is stored verbatim, so object key order survives a round trip.
type JSON json.RawMessage

// Scan implements sql.Scanner.
func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		*j = append(JSON(nil), v...)
		return nil
	case string:
		*j = JSON(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into JSON", value)
	}
}

// Value implements driver.Valuer.
func (j JSON) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return []byte(j), nil
}

// String returns the JSON text.
func (j JSON) String() string {
	return string(j)
}

// deviceRow is the devices table as sqlx sees it.
type deviceRow struct {
	ID               uuid.UUID  `db:"id"`
	IP               IPAddr     `db:"ip"`
	Name             string     `db:"name"`
	Serial           string     `db:"serial"`
	Model            string     `db:"model"`
	Type             string     `db:"type"`
	Data             JSON       `db:"data"`
	CredentialID     *uuid.UUID `db:"credential_id"`
	CreatedAt        time.Time  `db:"created_at"`
	UpdatedAt        time.Time  `db:"updated_at"`
	LastDiscoveredAt *time.Time `db:"last_discovered_at"`
	LastScannedAt    *time.Time `db:"last_scanned_at"`
}

func newDeviceRow(d *device.Device) (*deviceRow, error) {
	ip := net.ParseIP(d.IP)
	if ip == nil {
		return nil, fmt.Errorf("invalid device address %q", d.IP)
	}
	data, err := json.Marshal(d.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode scan data: %w", err)
	}
	return &deviceRow{
		ID:               d.ID,
		IP:               IPAddr{IP: ip},
		Name:             d.Name,
		Serial:           d.Serial,
		Model:            d.Model,
		Type:             string(d.Type),
		Data:             JSON(data),
		CredentialID:     d.CredentialID,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
		LastDiscoveredAt: d.LastDiscoveredAt,
		LastScannedAt:    d.LastScannedAt,
	}, nil
}

func (r *deviceRow) toDevice() (*device.Device, error) {
	d := &device.Device{
		ID:               r.ID,
		IP:               r.IP.String(),
		Name:             r.Name,
		Serial:           r.Serial,
		Model:            r.Model,
		Type:             registry.TypeID(r.Type),
		CredentialID:     r.CredentialID,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		LastDiscoveredAt: r.LastDiscoveredAt,
		LastScannedAt:    r.LastScannedAt,
	}
	if len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, &d.Data); err != nil {
			return nil, fmt.Errorf("failed to decode scan data for %s: %w", r.ID, err)
		}
	}
	return d, nil
}
