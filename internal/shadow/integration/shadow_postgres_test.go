package integration_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	devicerepo "irrigation-cloud/internal/devices/infrastructure/postgres"
	shadowapp "irrigation-cloud/internal/shadow/application"
	shadow "irrigation-cloud/internal/shadow/domain"
	shadowrepo "irrigation-cloud/internal/shadow/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestShadowDurableRoundTrip(t *testing.T) {
	db := openDB(t)
	defer db.Close()

	if err := applyMigrations(db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	ctx := context.Background()
	_, _ = db.ExecContext(ctx, "DELETE FROM device_states")
	_, _ = db.ExecContext(ctx, "DELETE FROM plants")
	_, _ = db.ExecContext(ctx, "DELETE FROM devices")

	repo := shadowrepo.NewStateRepository(db)
	devices := devicerepo.NewDeviceRepository(db)

	store, err := shadowapp.NewStore(repo, devices, 30*time.Second, nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	state := shadow.DeviceState{DeviceID: "pump-it", FirmwareVersion: "v9", PumpOn: true}
	observedAt := time.Now().UTC().Truncate(time.Millisecond)
	if err := store.UpdateFromStateAndPersist(ctx, "pump-it", state, observedAt); err != nil {
		t.Fatalf("persist: %v", err)
	}

	// Simulate a restart: the cache is empty, the durable row remains.
	store.Clear()
	snap, err := store.GetSnapshotOrLoad(ctx, "pump-it")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap == nil || snap.Source != shadow.SourceDBState {
		t.Fatalf("expected durable recovery, got %+v", snap)
	}
	if snap.State.FirmwareVersion != "v9" || !snap.State.PumpOn {
		t.Fatalf("unexpected recovered state: %+v", snap.State)
	}
	if !snap.UpdatedAt.Equal(observedAt) {
		t.Fatalf("expected updated_at %s, got %s", observedAt, snap.UpdatedAt)
	}
}

func TestShadowLastSeenFallback(t *testing.T) {
	db := openDB(t)
	defer db.Close()

	if err := applyMigrations(db); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	ctx := context.Background()
	_, _ = db.ExecContext(ctx, "DELETE FROM device_states")
	_, _ = db.ExecContext(ctx, "DELETE FROM plants")
	_, _ = db.ExecContext(ctx, "DELETE FROM devices")

	_, err := db.ExecContext(ctx, `
INSERT INTO devices (id, name, mqtt_client_id, last_seen)
VALUES ('pump-it', 'balcony pump', 'pump-it-client', NOW() - INTERVAL '2 minutes')`)
	if err != nil {
		t.Fatalf("seed device: %v", err)
	}

	repo := shadowrepo.NewStateRepository(db)
	devices := devicerepo.NewDeviceRepository(db)
	store, err := shadowapp.NewStore(repo, devices, 30*time.Second, nil)
	if err != nil {
		t.Fatalf("store: %v", err)
	}

	snap, err := store.GetSnapshotOrLoad(ctx, "pump-it")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap == nil || snap.Source != shadow.SourceDBFallback {
		t.Fatalf("expected last_seen fallback, got %+v", snap)
	}
	if snap.Online {
		t.Fatal("a device last seen 2 minutes ago must be offline")
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
	files := []string{
		filepath.Join(root, "migrations", "001_devices.sql"),
		filepath.Join(root, "migrations", "002_device_states.sql"),
	}
	for _, path := range files {
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		if _, err := db.Exec(string(content)); err != nil {
			return err
		}
	}
	return nil
}

func projectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return "."
	}
	return filepath.Clean(filepath.Join(dir, "..", "..", ".."))
}
