package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	plants "irrigation-cloud/internal/plants/domain"
)

const defaultPlantsTable = "plants"

// PlantRepository is a Postgres implementation for plants.
type PlantRepository struct {
	db    *sql.DB
	table string
}

// NewPlantRepository constructs a repository.
func NewPlantRepository(db *sql.DB, opts ...PlantOption) *PlantRepository {
	repo := &PlantRepository{db: db, table: defaultPlantsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// PlantOption configures the repository.
type PlantOption func(*PlantRepository)

// WithPlantsTable overrides the default table name.
func WithPlantsTable(table string) PlantOption {
	return func(repo *PlantRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// ListByDevice returns all plants bound to a pump device.
func (r *PlantRepository) ListByDevice(ctx context.Context, deviceID string) ([]plants.Plant, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("plant repo: nil db")
	}
	if deviceID == "" {
		return nil, errors.New("plant repo: empty device id")
	}

	query := fmt.Sprintf(`
SELECT id, device_id, name, delivery_rate_lph, created_at
FROM %s
WHERE device_id = $1
ORDER BY created_at ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []plants.Plant
	for rows.Next() {
		var plant plants.Plant
		if err := rows.Scan(
			&plant.ID,
			&plant.DeviceID,
			&plant.Name,
			&plant.DeliveryRateLPH,
			&plant.CreatedAt,
		); err != nil {
			return nil, err
		}
		plant.CreatedAt = plant.CreatedAt.UTC()
		result = append(result, plant)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
