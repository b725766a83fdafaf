package store

import (
	"database/sql"
	"errors"

	"github.com/atlasarr/atlasarr/internal/media/model"
)

// GetSyncState loads the singleton sync-state row, returning a zero-value
// SyncState if no hydration job has ever run.
func (s *Store) GetSyncState() (model.SyncState, error) {
	var st model.SyncState
	var lastID sql.NullString
	var activeJobID sql.NullString

	err := s.db.QueryRow(`SELECT last_processed_external_id, total_count, active_job_id
		FROM sync_state WHERE id = 1`).Scan(&lastID, &st.TotalCount, &activeJobID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SyncState{}, nil
	}
	if err != nil {
		return model.SyncState{}, err
	}
	st.LastProcessedExternalID = lastID.String
	st.ActiveJobID = activeJobID.String
	return st, nil
}

// SaveSyncState upserts the singleton sync-state row, used by a long-running
// hydration job to persist a resumable cursor (spec.md §4.3 "Crash recovery
// at startup" extends to hydration jobs via this cursor).
func (s *Store) SaveSyncState(st model.SyncState) error {
	_, err := s.db.Exec(`INSERT INTO sync_state (id, last_processed_external_id, total_count, active_job_id)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			last_processed_external_id = excluded.last_processed_external_id,
			total_count = excluded.total_count,
			active_job_id = excluded.active_job_id`,
		nullIfEmpty(st.LastProcessedExternalID), st.TotalCount, nullIfEmpty(st.ActiveJobID))
	return err
}

// GetSetting loads a single config-like key/value from the setting table.
func (s *Store) GetSetting(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM setting WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// SetSetting upserts a single config-like key/value.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`INSERT INTO setting (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}
