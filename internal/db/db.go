package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/caliber-ai/caliber/internal/config"
	_ "modernc.org/sqlite"
)

// CurrentSchemaVersion is the latest schema version.
// Bump this when adding migrations.
const CurrentSchemaVersion = 1

// Init initializes the SQLite database at baseDir/caliber.db.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.caliber.
func Init(baseDir string) (*sql.DB, error) {
	if err := os.MkdirAll(baseDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	// Explicit chmod (best-effort, may not work on all platforms)
	_ = os.Chmod(baseDir, 0700)

	// Open database with pragmas in connection string (applies to all connections)
	dbPath := filepath.Join(baseDir, "caliber.db")
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

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
		CREATE TABLE IF NOT EXISTS trajectories (
		  id          TEXT PRIMARY KEY,
		  name        TEXT NOT NULL,
		  status      TEXT NOT NULL,
		  created_at  INTEGER NOT NULL,
		  updated_at  INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS scopes (
		  id               TEXT PRIMARY KEY,
		  trajectory_id    TEXT NOT NULL REFERENCES trajectories(id),
		  name             TEXT NOT NULL,
		  status           TEXT NOT NULL,
		  max_tokens       INTEGER NOT NULL,
		  max_turns        INTEGER NOT NULL,
		  checkpoint_id    TEXT,
		  revision         INTEGER NOT NULL DEFAULT 0,
		  tokens_committed INTEGER NOT NULL DEFAULT 0,
		  created_at       INTEGER NOT NULL,
		  updated_at       INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_scopes_trajectory
		ON scopes(trajectory_id, created_at);

		CREATE TABLE IF NOT EXISTS turns (
		  id             TEXT PRIMARY KEY,
		  scope_id       TEXT NOT NULL REFERENCES scopes(id),
		  sequence       INTEGER NOT NULL,
		  input_content  TEXT NOT NULL,
		  output_content TEXT NOT NULL,
		  token_count    INTEGER NOT NULL,
		  state          TEXT NOT NULL,
		  artifact_ids   TEXT,
		  note_ids       TEXT,
		  created_at     INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_turns_scope_sequence
		ON turns(scope_id, sequence)
		WHERE state != 'discarded';

		CREATE INDEX IF NOT EXISTS idx_turns_scope_state
		ON turns(scope_id, state, sequence);

		CREATE TABLE IF NOT EXISTS artifacts (
		  id            TEXT PRIMARY KEY,
		  trajectory_id TEXT NOT NULL REFERENCES trajectories(id),
		  turn_id       TEXT NOT NULL,
		  name          TEXT NOT NULL,
		  mime_type     TEXT NOT NULL,
		  content       TEXT NOT NULL,
		  content_hash  TEXT NOT NULL,
		  orphaned      INTEGER NOT NULL DEFAULT 0,
		  created_at    INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_artifacts_trajectory
		ON artifacts(trajectory_id, created_at);

		CREATE INDEX IF NOT EXISTS idx_artifacts_hash
		ON artifacts(content_hash);

		CREATE TABLE IF NOT EXISTS notes (
		  id                   TEXT PRIMARY KEY,
		  content              TEXT NOT NULL,
		  tags_json            TEXT,
		  source_trajectory_id TEXT NOT NULL,
		  token_count          INTEGER NOT NULL,
		  orphaned             INTEGER NOT NULL DEFAULT 0,
		  created_at           INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_notes_source_trajectory
		ON notes(source_trajectory_id, created_at);

		CREATE TABLE IF NOT EXISTS checkpoints (
		  id          TEXT PRIMARY KEY,
		  scope_id    TEXT NOT NULL REFERENCES scopes(id),
		  parent_id   TEXT,
		  sequence    INTEGER NOT NULL,
		  turn_ids    TEXT NOT NULL,
		  digest      TEXT NOT NULL,
		  token_count INTEGER NOT NULL,
		  validation  TEXT NOT NULL,
		  created_at  INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_checkpoints_scope
		ON checkpoints(scope_id, sequence);

		CREATE TABLE IF NOT EXISTS delegations (
		  id            TEXT PRIMARY KEY,
		  trajectory_id TEXT NOT NULL REFERENCES trajectories(id),
		  from_agent_id TEXT NOT NULL,
		  to_agent_id   TEXT NOT NULL,
		  sequence      INTEGER NOT NULL,
		  payload       TEXT NOT NULL,
		  status        TEXT NOT NULL,
		  created_at    INTEGER NOT NULL,
		  updated_at    INTEGER NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_delegations_trajectory_sequence
		ON delegations(trajectory_id, sequence);
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
