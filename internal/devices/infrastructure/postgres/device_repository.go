package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	devices "irrigation-cloud/internal/devices/domain"
)

const defaultDevicesTable = "devices"

// DeviceRepository is a Postgres implementation for devices.
type DeviceRepository struct {
	db    *sql.DB
	table string
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db *sql.DB, opts ...DeviceOption) *DeviceRepository {
	repo := &DeviceRepository{db: db, table: defaultDevicesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// DeviceOption configures the repository.
type DeviceOption func(*DeviceRepository)

// WithDevicesTable overrides the default table name.
func WithDevicesTable(table string) DeviceOption {
	return func(repo *DeviceRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Get loads a device by id, nil when absent.
func (r *DeviceRepository) Get(ctx context.Context, id string) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if id == "" {
		return nil, errors.New("device repo: empty id")
	}

	query := fmt.Sprintf(`
SELECT id, name, mqtt_client_id, last_seen, created_at, updated_at
FROM %s
WHERE id = $1
LIMIT 1`, r.table)

	var device devices.Device
	var lastSeen sql.NullTime
	if err := r.db.QueryRowContext(ctx, query, id).Scan(
		&device.ID,
		&device.Name,
		&device.MQTTClientID,
		&lastSeen,
		&device.CreatedAt,
		&device.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if lastSeen.Valid {
		device.LastSeen = lastSeen.Time.UTC()
	}
	device.CreatedAt = device.CreatedAt.UTC()
	device.UpdatedAt = device.UpdatedAt.UTC()
	return &device, nil
}

// TouchLastSeen updates the device's last_seen timestamp. Any message
// from the device, state or ack, proves it is alive.
func (r *DeviceRepository) TouchLastSeen(ctx context.Context, id string, seenAt time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if id == "" {
		return errors.New("device repo: empty id")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET last_seen = $1, updated_at = NOW()
WHERE id = $2`, r.table)
	_, err := r.db.ExecContext(ctx, query, seenAt, id)
	return err
}

// FindLastSeen returns the device's last_seen timestamp, nil when the
// device is unknown or has never been seen. Used as the degraded shadow
// fallback after a cold start.
func (r *DeviceRepository) FindLastSeen(ctx context.Context, id string) (*time.Time, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if id == "" {
		return nil, errors.New("device repo: empty id")
	}
	query := fmt.Sprintf(`
SELECT last_seen
FROM %s
WHERE id = $1
LIMIT 1`, r.table)

	var lastSeen sql.NullTime
	if err := r.db.QueryRowContext(ctx, query, id).Scan(&lastSeen); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if !lastSeen.Valid {
		return nil, nil
	}
	seen := lastSeen.Time.UTC()
	return &seen, nil
}
