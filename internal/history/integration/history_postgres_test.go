package integration_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	history "irrigation-cloud/internal/history/domain"
	historyrepo "irrigation-cloud/internal/history/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestWateringSampleRangeQuery(t *testing.T) {
	db := openDB(t)
	defer db.Close()

	if err := applyMigrations(db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	ctx := context.Background()
	_, _ = db.ExecContext(ctx, "DELETE FROM watering_samples")
	_, _ = db.ExecContext(ctx, "DELETE FROM sensor_samples")

	repo := historyrepo.NewHistoryRepository(db)
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	samples := []history.WateringSample{
		{PlantID: "p1", DeviceID: "pump-it", VolumeLiters: 1.5, DurationSeconds: 60, TS: base.Add(2 * time.Hour)},
		{PlantID: "p1", DeviceID: "pump-it", VolumeLiters: 0.5, DurationSeconds: 20, TS: base.Add(26 * time.Hour)},
		{PlantID: "p2", DeviceID: "other", VolumeLiters: 3, DurationSeconds: 120, TS: base.Add(3 * time.Hour)},
	}
	for _, sample := range samples {
		if err := repo.InsertWateringSample(ctx, sample); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	got, err := repo.ListWateringSamples(ctx, "pump-it", base, base.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 sample inside the window, got %d", len(got))
	}
	if got[0].PlantID != "p1" || got[0].VolumeLiters != 1.5 {
		t.Fatalf("unexpected sample: %+v", got[0])
	}
}

func TestSensorSampleBatchInsert(t *testing.T) {
	db := openDB(t)
	defer db.Close()

	if err := applyMigrations(db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	ctx := context.Background()
	_, _ = db.ExecContext(ctx, "DELETE FROM sensor_samples")

	repo := historyrepo.NewHistoryRepository(db)
	ts := time.Now().UTC()
	batch := []history.SensorSample{
		{DeviceID: "pump-it", Key: "soil_moisture", Value: 44.5, TS: ts},
		{DeviceID: "pump-it", Key: "air_temp", Value: 21.3, TS: ts},
		{DeviceID: "pump-it", Key: "soil_port_a", Value: 39, TS: ts},
	}
	if err := repo.InsertSensorSamples(ctx, batch); err != nil {
		t.Fatalf("insert batch: %v", err)
	}

	var count int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sensor_samples WHERE device_id = 'pump-it'").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3 sensor rows, got %d", count)
	}
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	return db
}

func applyMigrations(db *sql.DB) error {
	root := projectRoot()
	content, err := os.ReadFile(filepath.Join(root, "migrations", "004_history.sql"))
	if err != nil {
		return err
	}
	_, err = db.Exec(string(content))
	return err
}

func projectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return filepath.Clean(filepath.Join(dir, "..", "..", ".."))
}
