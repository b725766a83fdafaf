// Package store is the durable record of every job, worker, request,
// processing item, approval, and the sync-state cursor (spec.md §3, §6).
// It is the source of truth; the job queue's in-memory sets are best-effort
// caches rebuilt from it (spec.md §5).
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/atlasarr/atlasarr/internal/log"
	persistsqlite "github.com/atlasarr/atlasarr/internal/persistence/sqlite"
)

// Store wraps a sqlite connection and exposes the domain-specific queries
// used by the job queue, pipeline executor, and approval gate.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the database at path using the hardened PRAGMA
// set from internal/persistence/sqlite.
func Open(path string) (*Store, error) {
	db, err := persistsqlite.Open(path, persistsqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

const schemaVersion = 1

func (s *Store) migrate() error {
	var current int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&current); err != nil {
		return fmt.Errorf("store: read user_version: %w", err)
	}
	if current >= schemaVersion {
		return nil
	}

	logger := log.WithComponent("store")
	logger.Info().Int("from", current).Int("to", schemaVersion).Msg("applying migrations")

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: begin migration: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, stmt := range migrationDDL {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("store: migration statement failed: %w", err)
		}
	}

	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("store: set user_version: %w", err)
	}

	return tx.Commit()
}

var migrationDDL = []string{
	`CREATE TABLE IF NOT EXISTS job (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		payload TEXT NOT NULL,
		priority INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		max_attempts INTEGER NOT NULL DEFAULT 3,
		dedupe_key TEXT,
		scheduled_for TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		heartbeat_at TIMESTAMP,
		completed_at TIMESTAMP,
		worker_id TEXT,
		cancel_requested INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		result TEXT,
		progress_current INTEGER NOT NULL DEFAULT 0,
		progress_total INTEGER NOT NULL DEFAULT 0,
		parent_job_id TEXT,
		request_id TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS job_dedupe_active
		ON job(dedupe_key)
		WHERE status IN ('Pending','Running','Paused') AND dedupe_key IS NOT NULL`,
	`CREATE INDEX IF NOT EXISTS job_claim_order ON job(status, priority DESC, created_at ASC)`,
	`CREATE TABLE IF NOT EXISTS worker (
		worker_id TEXT PRIMARY KEY,
		hostname TEXT NOT NULL,
		pid INTEGER NOT NULL,
		status TEXT NOT NULL,
		last_heartbeat TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS media_request (
		id TEXT PRIMARY KEY,
		external_id TEXT,
		kind TEXT NOT NULL,
		title TEXT NOT NULL,
		year INTEGER,
		targets TEXT NOT NULL,
		required_resolution TEXT,
		preferred_resolution TEXT,
		selected_release TEXT,
		available_releases TEXT,
		status TEXT NOT NULL,
		current_step TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS processing_item (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		season INTEGER NOT NULL,
		episode INTEGER,
		status TEXT NOT NULL,
		quality_met INTEGER NOT NULL DEFAULT 0,
		available_releases TEXT,
		selected_release TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS processing_item_request ON processing_item(request_id)`,
	`CREATE TABLE IF NOT EXISTS approval (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		step_order INTEGER NOT NULL,
		reason TEXT,
		required_role TEXT,
		timeout_hours REAL NOT NULL DEFAULT 0,
		auto_action TEXT NOT NULL,
		status TEXT NOT NULL,
		processed_by TEXT,
		processed_at TIMESTAMP,
		comment TEXT,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS sync_state (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		last_processed_external_id TEXT,
		total_count INTEGER NOT NULL DEFAULT 0,
		active_job_id TEXT
	)`,
	`CREATE TABLE IF NOT EXISTS setting (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
}

func utcNow() time.Time { return time.Now().UTC() }
