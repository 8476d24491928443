package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	acks "irrigation-cloud/internal/acks/domain"
)

const defaultAcksTable = "ack_records"

// AckRepository is a Postgres implementation for durable ack records.
type AckRepository struct {
	db    *sql.DB
	table string
}

// NewAckRepository constructs a repository.
func NewAckRepository(db *sql.DB, opts ...AckOption) *AckRepository {
	repo := &AckRepository{db: db, table: defaultAcksTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// AckOption configures the repository.
type AckOption func(*AckRepository)

// WithAcksTable overrides the default table name.
func WithAcksTable(table string) AckOption {
	return func(repo *AckRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// UpsertRecord writes an ack record; a redelivered ack updates in place.
func (r *AckRepository) UpsertRecord(ctx context.Context, record acks.Record) error {
	if r == nil || r.db == nil {
		return errors.New("ack repo: nil db")
	}
	if record.CorrelationID == "" {
		return errors.New("ack repo: empty correlation id")
	}
	payload := record.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (correlation_id, device_id, result, status, payload, received_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (correlation_id)
DO UPDATE SET
	device_id = EXCLUDED.device_id,
	result = EXCLUDED.result,
	status = EXCLUDED.status,
	payload = EXCLUDED.payload,
	received_at = EXCLUDED.received_at,
	expires_at = EXCLUDED.expires_at`, r.table)
	_, err := r.db.ExecContext(ctx, query,
		record.CorrelationID,
		record.DeviceID,
		record.Result,
		record.Status,
		payload,
		record.ReceivedAt,
		record.ExpiresAt,
	)
	return err
}

// FindRecord loads an ack record by correlation id, nil when absent.
func (r *AckRepository) FindRecord(ctx context.Context, correlationID string) (*acks.Record, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("ack repo: nil db")
	}
	if correlationID == "" {
		return nil, errors.New("ack repo: empty correlation id")
	}
	query := fmt.Sprintf(`
SELECT correlation_id, device_id, result, status, payload, received_at, expires_at
FROM %s
WHERE correlation_id = $1
LIMIT 1`, r.table)

	var record acks.Record
	var status sql.NullString
	if err := r.db.QueryRowContext(ctx, query, correlationID).Scan(
		&record.CorrelationID,
		&record.DeviceID,
		&record.Result,
		&status,
		&record.Payload,
		&record.ReceivedAt,
		&record.ExpiresAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if status.Valid {
		record.Status = status.String
	}
	record.ReceivedAt = record.ReceivedAt.UTC()
	record.ExpiresAt = record.ExpiresAt.UTC()
	return &record, nil
}

// DeleteExpired removes all records whose expiry has passed.
func (r *AckRepository) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("ack repo: nil db")
	}
	query := fmt.Sprintf(`
DELETE FROM %s
WHERE expires_at <= $1`, r.table)
	result, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, err
	}
	count, _ := result.RowsAffected()
	return int(count), nil
}
