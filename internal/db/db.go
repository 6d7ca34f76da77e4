package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/mileage/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// Init initializes the SQLite database at baseDir/mileage.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.mileage.
func Init(baseDir string) (*sql.DB, error) {
	// Create base directory with restricted permissions
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// Explicit chmod (best-effort, may not work on all platforms)
	_ = os.Chmod(baseDir, 0700)

	// Create exports subdirectory
	exportsDir := filepath.Join(baseDir, "exports")
	if err := os.MkdirAll(exportsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create exports directory: %w", err)
	}
	_ = os.Chmod(exportsDir, 0700)

	// Open database with pragmas in connection string (applies to all connections)
	dbPath := filepath.Join(baseDir, "mileage.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Verify WAL mode is active
	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}

	// Run migrations (this creates the file if it doesn't exist)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	// Set file permissions after file exists (best-effort)
	_ = os.Chmod(dbPath, 0600)

	return db, nil
}

// ConfigurePool applies connection pool settings from config.
// Only sets limits if explicitly configured (non-zero values).
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate applies schema migrations based on user_version.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}

	// Migration 0 -> 1: Initial schema (v1)
	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS trip_snapshot (
		  slot       INTEGER PRIMARY KEY CHECK (slot = 1),
		  session_id TEXT NOT NULL,
		  payload    TEXT NOT NULL,
		  saved_at   INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS snapshot_points (
		  session_id TEXT NOT NULL,
		  seq        INTEGER NOT NULL,
		  lat        REAL NOT NULL,
		  lon        REAL NOT NULL,
		  ts         INTEGER NOT NULL,
		  speed      REAL,
		  course     REAL,
		  altitude   REAL,
		  PRIMARY KEY (session_id, seq)
		);

		CREATE TABLE IF NOT EXISTS trips (
		  id                   TEXT PRIMARY KEY,
		  trip_date            INTEGER NOT NULL,
		  trip_year            INTEGER NOT NULL,
		  tracking_mode        TEXT NOT NULL,
		  distance_m           REAL NOT NULL,
		  round_trip           INTEGER NOT NULL DEFAULT 0,
		  effective_distance_m REAL NOT NULL,
		  start_lat            REAL,
		  start_lon            REAL,
		  end_lat              REAL,
		  end_lon              REAL,
		  start_name           TEXT,
		  end_name             TEXT,
		  started_at           INTEGER,
		  ended_at             INTEGER,
		  duration_sec         INTEGER,
		  purpose              TEXT,
		  notes                TEXT,
		  job_id               TEXT,
		  client_name          TEXT,
		  est_distance_m       REAL,
		  est_travel_sec       REAL,
		  polyline_json        TEXT,
		  was_route_calculated INTEGER NOT NULL DEFAULT 0,
		  destination_source   TEXT,
		  recovered            INTEGER NOT NULL DEFAULT 0,
		  created_at           INTEGER NOT NULL,
		  updated_at           INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_trips_year_date
		ON trips(trip_year, trip_date, created_at);

		CREATE INDEX IF NOT EXISTS idx_trips_mode
		ON trips(tracking_mode);

		CREATE TABLE IF NOT EXISTS trip_route_points (
		  trip_id  TEXT NOT NULL,
		  seq      INTEGER NOT NULL,
		  lat      REAL NOT NULL,
		  lon      REAL NOT NULL,
		  ts       INTEGER NOT NULL,
		  speed    REAL,
		  course   REAL,
		  altitude REAL,
		  PRIMARY KEY (trip_id, seq)
		);

		CREATE TABLE IF NOT EXISTS jobs (
		  id          TEXT PRIMARY KEY,
		  name        TEXT NOT NULL,
		  name_norm   TEXT NOT NULL,
		  address     TEXT,
		  lat         REAL,
		  lon         REAL,
		  client_name TEXT,
		  created_at  INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_name_norm
		ON jobs(name_norm);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if err := SetUserVersion(db, 1); err != nil {
			return err
		}
	}

	// Future migrations go here:
	// if version < 2 { ... }

	return nil
}

// verifyWALMode checks that WAL mode is active (set via connection string).
func verifyWALMode(db *sql.DB) error {
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if journalMode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", journalMode)
	}
	return nil
}

// GetUserVersion returns the current schema version (user_version pragma).
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion sets the schema version (user_version pragma).
func SetUserVersion(db *sql.DB, version int) error {
	_, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version))
	if err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}

// WithTx runs fn inside a transaction, committing on success and rolling back
// on error or panic.
func WithTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
