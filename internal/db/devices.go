package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/netman/internal/device"
	"github.com/anstrom/netman/internal/errors"
)

const deviceColumns = `id, ip, name, serial, model, type, data, credential_id,
	created_at, updated_at, last_discovered_at, last_scanned_at`

// DeviceFilter narrows a device listing.
type DeviceFilter struct {
	Type   string
	Name   string
	Limit  int
	Offset int
}

// DeviceRepository stores devices in the devices table.
type DeviceRepository struct {
	db *DB
}

// NewDeviceRepository creates a new device repository.
func NewDeviceRepository(db *DB) *DeviceRepository {
	return &DeviceRepository{db: db}
}

// FindByIP returns the device at ip, or nil when none is stored.
func (r *DeviceRepository) FindByIP(ctx context.Context, ip string) (*device.Device, error) {
	return r.findOne(ctx, "find_by_ip", "ip = $1", ip)
}

// FindBySerial returns the first device with serial, or nil.
func (r *DeviceRepository) FindBySerial(ctx context.Context, serial string) (*device.Device, error) {
	return r.findOne(ctx, "find_by_serial", "serial = $1", serial)
}

// FindByName returns the first device named name, or nil.
func (r *DeviceRepository) FindByName(ctx context.Context, name string) (*device.Device, error) {
	return r.findOne(ctx, "find_by_name", "name = $1", name)
}

func (r *DeviceRepository) findOne(ctx context.Context, operation, where string, arg interface{}) (*device.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE ` + where + ` ORDER BY created_at LIMIT 1`

	var row deviceRow
	err := r.db.timed(operation, func() error {
		return r.db.GetContext(ctx, &row, query, arg)
	})
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, sanitizeDBError(operation, err)
	}
	return row.toDevice()
}

// GetByID returns the device with id or a NOT_FOUND error.
func (r *DeviceRepository) GetByID(ctx context.Context, id uuid.UUID) (*device.Device, error) {
	query := `SELECT ` + deviceColumns + ` FROM devices WHERE id = $1`

	var row deviceRow
	err := r.db.timed("get_device", func() error {
		return r.db.GetContext(ctx, &row, query, id)
	})
	if err != nil {
		return nil, sanitizeDBError("get device", err)
	}
	return row.toDevice()
}

// List returns a page of devices and the total number matching filter.
func (r *DeviceRepository) List(ctx context.Context, filter DeviceFilter) ([]*device.Device, int64, error) {
	var conditions []filterCondition
	if filter.Type != "" {
		conditions = append(conditions, filterCondition{"type = $%d", filter.Type})
	}
	if filter.Name != "" {
		conditions = append(conditions, filterCondition{"name ILIKE $%d", "%" + filter.Name + "%"})
	}
	where, args := buildWhereClause(conditions)

	var total int64
	err := r.db.timed("count_devices", func() error {
		return r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM devices`+where, args...)
	})
	if err != nil {
		return nil, 0, sanitizeDBError("count devices", err)
	}

	query := `SELECT ` + deviceColumns + ` FROM devices` + where + ` ORDER BY ip`
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	var rows []deviceRow
	err = r.db.timed("list_devices", func() error {
		return r.db.SelectContext(ctx, &rows, query, args...)
	})
	if err != nil {
		return nil, 0, sanitizeDBError("list devices", err)
	}

	devices := make([]*device.Device, 0, len(rows))
	for i := range rows {
		d, err := rows[i].toDevice()
		if err != nil {
			return nil, 0, err
		}
		devices = append(devices, d)
	}
	return devices, total, nil
}

// Save inserts a new device or updates an existing one. A new device gets
// its ID and timestamps from the insert.
func (r *DeviceRepository) Save(ctx context.Context, dev *device.Device) error {
	row, err := newDeviceRow(dev)
	if err != nil {
		return errors.WrapDeviceError(errors.CodeInvalidAddress, "Cannot store device", dev.IP, err)
	}

	if dev.IsNew() {
		return r.insert(ctx, dev, row)
	}
	return r.update(ctx, dev, row)
}

func (r *DeviceRepository) insert(ctx context.Context, dev *device.Device, row *deviceRow) error {
	row.ID = uuid.New()
	query := `
		INSERT INTO devices (id, ip, name, serial, model, type, data, credential_id,
			last_discovered_at, last_scanned_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at`

	var stamps struct {
		CreatedAt time.Time `db:"created_at"`
		UpdatedAt time.Time `db:"updated_at"`
	}
	err := r.db.timed("insert_device", func() error {
		return r.db.QueryRowxContext(ctx, query,
			row.ID, row.IP, row.Name, row.Serial, row.Model, row.Type, row.Data,
			row.CredentialID, row.LastDiscoveredAt, row.LastScannedAt,
		).StructScan(&stamps)
	})
	if err != nil {
		return sanitizeDBError("insert device", err)
	}

	dev.ID = row.ID
	dev.CreatedAt = stamps.CreatedAt
	dev.UpdatedAt = stamps.UpdatedAt
	return nil
}

func (r *DeviceRepository) update(ctx context.Context, dev *device.Device, row *deviceRow) error {
	query := `
		UPDATE devices
		SET ip = $2, name = $3, serial = $4, model = $5, type = $6, data = $7,
			credential_id = $8, last_discovered_at = $9, last_scanned_at = $10
		WHERE id = $1
		RETURNING updated_at`

	var updatedAt time.Time
	err := r.db.timed("update_device", func() error {
		return r.db.QueryRowxContext(ctx, query,
			row.ID, row.IP, row.Name, row.Serial, row.Model, row.Type, row.Data,
			row.CredentialID, row.LastDiscoveredAt, row.LastScannedAt,
		).Scan(&updatedAt)
	})
	if err != nil {
		return sanitizeDBError("update device", err)
	}

	dev.UpdatedAt = updatedAt
	return nil
}

// Delete removes the device with id.
func (r *DeviceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	var affected int64
	err := r.db.timed("delete_device", func() error {
		result, err := r.db.ExecContext(ctx, `DELETE FROM devices WHERE id = $1`, id)
		if err != nil {
			return err
		}
		affected, err = result.RowsAffected()
		return err
	})
	if err != nil {
		return sanitizeDBError("delete device", err)
	}
	if affected == 0 {
		return errors.NewDatabaseError(errors.CodeNotFound, "Device not found")
	}
	return nil
}

// IDs returns the IDs of every stored device, ordered by address.
func (r *DeviceRepository) IDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.timed("list_device_ids", func() error {
		return r.db.SelectContext(ctx, &ids, `SELECT id FROM devices ORDER BY ip`)
	})
	if err != nil {
		return nil, sanitizeDBError("list device ids", err)
	}
	return ids, nil
}
