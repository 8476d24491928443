package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	shadowapp "irrigation-cloud/internal/shadow/application"
)

const defaultStatesTable = "device_states"

// StateRepository is a Postgres implementation for durable device state.
type StateRepository struct {
	db    *sql.DB
	table string
}

// NewStateRepository constructs a repository.
func NewStateRepository(db *sql.DB, opts ...StateOption) *StateRepository {
	repo := &StateRepository{db: db, table: defaultStatesTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// StateOption configures the repository.
type StateOption func(*StateRepository)

// WithStatesTable overrides the default table name.
func WithStatesTable(table string) StateOption {
	return func(repo *StateRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// UpsertState writes the one durable row a device owns.
func (r *StateRepository) UpsertState(ctx context.Context, record shadowapp.StateRecord) error {
	if r == nil || r.db == nil {
		return errors.New("state repo: nil db")
	}
	if record.DeviceID == "" {
		return errors.New("state repo: empty device id")
	}
	payload := record.State
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if !json.Valid(payload) {
		return errors.New("state repo: invalid state payload")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (device_id, state, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (device_id)
DO UPDATE SET
	state = EXCLUDED.state,
	updated_at = EXCLUDED.updated_at`, r.table)
	_, err := r.db.ExecContext(ctx, query, record.DeviceID, payload, record.UpdatedAt)
	return err
}

// FindState loads the durable row for a device, nil when absent.
func (r *StateRepository) FindState(ctx context.Context, deviceID string) (*shadowapp.StateRecord, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("state repo: nil db")
	}
	if deviceID == "" {
		return nil, errors.New("state repo: empty device id")
	}
	query := fmt.Sprintf(`
SELECT device_id, state, updated_at
FROM %s
WHERE device_id = $1
LIMIT 1`, r.table)

	var record shadowapp.StateRecord
	if err := r.db.QueryRowContext(ctx, query, deviceID).Scan(
		&record.DeviceID,
		&record.State,
		&record.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	record.UpdatedAt = record.UpdatedAt.UTC()
	return &record, nil
}
