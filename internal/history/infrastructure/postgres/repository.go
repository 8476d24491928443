package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	history "irrigation-cloud/internal/history/domain"
)

const (
	defaultSensorTable   = "sensor_samples"
	defaultWateringTable = "watering_samples"
)

// HistoryRepository is a Postgres implementation for time-series
// samples.
type HistoryRepository struct {
	db            *sql.DB
	sensorTable   string
	wateringTable string
}

// NewHistoryRepository constructs a repository.
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{
		db:            db,
		sensorTable:   defaultSensorTable,
		wateringTable: defaultWateringTable,
	}
}

// InsertSensorSamples writes a batch of sensor readings in one
// transaction.
func (r *HistoryRepository) InsertSensorSamples(ctx context.Context, samples []history.SensorSample) error {
	if r == nil || r.db == nil {
		return errors.New("history repo: nil db")
	}
	if len(samples) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (device_id, key, value, ts)
VALUES ($1, $2, $3, $4)`, r.sensorTable)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, sample := range samples {
		if _, err := stmt.ExecContext(ctx, sample.DeviceID, sample.Key, sample.Value, sample.TS); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// InsertWateringSample records one watering event.
func (r *HistoryRepository) InsertWateringSample(ctx context.Context, sample history.WateringSample) error {
	if r == nil || r.db == nil {
		return errors.New("history repo: nil db")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (plant_id, device_id, volume_l, duration_s, ts)
VALUES ($1, $2, $3, $4, $5)`, r.wateringTable)
	_, err := r.db.ExecContext(ctx, query,
		sample.PlantID,
		sample.DeviceID,
		sample.VolumeLiters,
		sample.DurationSeconds,
		sample.TS,
	)
	return err
}

// ListWateringSamples returns watering samples for a device in a time
// range, oldest first.
func (r *HistoryRepository) ListWateringSamples(ctx context.Context, deviceID string, from, to time.Time) ([]history.WateringSample, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("history repo: nil db")
	}
	if deviceID == "" {
		return nil, errors.New("history repo: empty device id")
	}
	query := fmt.Sprintf(`
SELECT plant_id, device_id, volume_l, duration_s, ts
FROM %s
WHERE device_id = $1 AND ts >= $2 AND ts < $3
ORDER BY ts ASC`, r.wateringTable)

	rows, err := r.db.QueryContext(ctx, query, deviceID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []history.WateringSample
	for rows.Next() {
		var sample history.WateringSample
		if err := rows.Scan(
			&sample.PlantID,
			&sample.DeviceID,
			&sample.VolumeLiters,
			&sample.DurationSeconds,
			&sample.TS,
		); err != nil {
			return nil, err
		}
		sample.TS = sample.TS.UTC()
		result = append(result, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
