package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/atlasarr/atlasarr/internal/apperr"
	"github.com/atlasarr/atlasarr/internal/media/model"
	"github.com/google/uuid"
)

// CreateRequest persists a new media request in req.Status (StatusAwaiting
// when unset) and, for TV requests, fans out one ProcessingItem per
// season/episode named in req.Episodes (spec.md §4.4 "TV episode / season-pack
// fan-out").
func (s *Store) CreateRequest(req model.Request) (*model.Request, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = utcNow()
	}
	if req.Status == "" {
		req.Status = model.StatusAwaiting
	}

	targets, err := json.Marshal(req.Targets)
	if err != nil {
		return nil, fmt.Errorf("store: marshal targets: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`INSERT INTO media_request
		(id, external_id, kind, title, year, targets, required_resolution,
		 preferred_resolution, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		req.ID, nullIfEmpty(req.ExternalID), req.Kind, req.Title, req.Year, string(targets),
		nullIfEmpty(string(req.RequiredResolution)), nullIfEmpty(string(req.PreferredResolution)),
		req.Status, req.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: insert request: %w", err)
	}

	for _, t := range req.Episodes {
		item := model.ProcessingItem{
			ID:        uuid.NewString(),
			RequestID: req.ID,
			Season:    t.Season,
			Episode:   t.Episode,
			Status:    model.ItemStatusAwaiting,
		}
		if _, err := tx.Exec(`INSERT INTO processing_item (id, request_id, season, episode, status, quality_met)
			VALUES (?, ?, ?, ?, ?, 0)`, item.ID, item.RequestID, item.Season, item.Episode, item.Status); err != nil {
			return nil, fmt.Errorf("store: insert processing item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	return &req, nil
}

func nullIfEmpty(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// GetRequest loads a request by id, without its processing items.
func (s *Store) GetRequest(id string) (*model.Request, error) {
	var req model.Request
	var externalID, requiredRes, preferredRes, selected, available sql.NullString
	var targets string

	err := s.db.QueryRow(`SELECT id, external_id, kind, title, year, targets, required_resolution,
		preferred_resolution, selected_release, available_releases, status, current_step, created_at
		FROM media_request WHERE id = ?`, id).Scan(
		&req.ID, &externalID, &req.Kind, &req.Title, &req.Year, &targets, &requiredRes,
		&preferredRes, &selected, &available, &req.Status, &req.CurrentStep, &req.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan request: %w", err)
	}

	req.ExternalID = externalID.String
	req.RequiredResolution = model.Resolution(requiredRes.String)
	req.PreferredResolution = model.Resolution(preferredRes.String)
	if err := json.Unmarshal([]byte(targets), &req.Targets); err != nil {
		return nil, fmt.Errorf("store: unmarshal targets: %w", err)
	}
	if selected.Valid {
		if err := json.Unmarshal([]byte(selected.String), &req.SelectedRelease); err != nil {
			return nil, fmt.Errorf("store: unmarshal selected_release: %w", err)
		}
	}
	if available.Valid {
		if err := json.Unmarshal([]byte(available.String), &req.AvailableReleases); err != nil {
			return nil, fmt.Errorf("store: unmarshal available_releases: %w", err)
		}
	}
	return &req, nil
}

// UpdateRequestStatus advances a request's status and current pipeline
// step.
func (s *Store) UpdateRequestStatus(id string, status model.RequestStatus, step string) error {
	_, err := s.db.Exec(`UPDATE media_request SET status = ?, current_step = ? WHERE id = ?`, status, step, id)
	return err
}

// SetRequestReleases persists the selector's candidate set and, if chosen, a
// selected release.
func (s *Store) SetRequestReleases(id string, available []model.Release, selected *model.Release) error {
	availBody, err := json.Marshal(available)
	if err != nil {
		return fmt.Errorf("store: marshal available_releases: %w", err)
	}
	var selBody []byte
	if selected != nil {
		selBody, err = json.Marshal(selected)
		if err != nil {
			return fmt.Errorf("store: marshal selected_release: %w", err)
		}
	}
	_, err = s.db.Exec(`UPDATE media_request SET available_releases = ?, selected_release = ? WHERE id = ?`,
		string(availBody), string(selBody), id)
	return err
}

// ListProcessingItems returns every item fanned out for a request.
func (s *Store) ListProcessingItems(requestID string) ([]model.ProcessingItem, error) {
	rows, err := s.db.Query(`SELECT id, request_id, season, episode, status, quality_met,
		available_releases, selected_release FROM processing_item WHERE request_id = ? ORDER BY season, episode`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.ProcessingItem
	for rows.Next() {
		var item model.ProcessingItem
		var episode sql.NullInt64
		var qualityMet int
		var available, selected sql.NullString
		if err := rows.Scan(&item.ID, &item.RequestID, &item.Season, &episode, &item.Status,
			&qualityMet, &available, &selected); err != nil {
			return nil, err
		}
		if episode.Valid {
			e := int(episode.Int64)
			item.Episode = &e
		}
		item.QualityMet = qualityMet != 0
		if available.Valid {
			if err := json.Unmarshal([]byte(available.String), &item.AvailableReleases); err != nil {
				return nil, fmt.Errorf("store: unmarshal item available_releases: %w", err)
			}
		}
		if selected.Valid {
			if err := json.Unmarshal([]byte(selected.String), &item.SelectedRelease); err != nil {
				return nil, fmt.Errorf("store: unmarshal item selected_release: %w", err)
			}
		}
		items = append(items, item)
	}
	return items, nil
}

// UpdateProcessingItem persists an item's status, quality-met flag, and
// release selection after a SEARCH/APPROVE step.
func (s *Store) UpdateProcessingItem(item model.ProcessingItem) error {
	available, err := json.Marshal(item.AvailableReleases)
	if err != nil {
		return fmt.Errorf("store: marshal item available_releases: %w", err)
	}
	var selected []byte
	if item.SelectedRelease != nil {
		selected, err = json.Marshal(item.SelectedRelease)
		if err != nil {
			return fmt.Errorf("store: marshal item selected_release: %w", err)
		}
	}
	qualityMet := 0
	if item.QualityMet {
		qualityMet = 1
	}
	_, err = s.db.Exec(`UPDATE processing_item SET status = ?, quality_met = ?,
		available_releases = ?, selected_release = ? WHERE id = ?`,
		item.Status, qualityMet, string(available), string(selected), item.ID)
	return err
}

// ListRequestsByStatus returns every request currently in one of the given
// statuses, used by the pipeline dispatcher to find work.
func (s *Store) ListRequestsByStatus(statuses ...model.RequestStatus) ([]model.Request, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := ""
	args := make([]any, len(statuses))
	for i, st := range statuses {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args[i] = st
	}
	rows, err := s.db.Query(`SELECT id FROM media_request WHERE status IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []model.Request
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		req, err := s.GetRequest(id)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *req)
	}
	return requests, nil
}
