package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/atlasarr/atlasarr/internal/apperr"
	"github.com/atlasarr/atlasarr/internal/media/model"
	"github.com/google/uuid"
)

// CreateApproval persists a new Pending approval gating one step of a
// request (spec.md §4.6 approval gate).
func (s *Store) CreateApproval(a model.Approval) (*model.Approval, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = utcNow()
	}
	if a.Status == "" {
		a.Status = model.ApprovalPending
	}

	_, err := s.db.Exec(`INSERT INTO approval
		(id, request_id, step_order, reason, required_role, timeout_hours, auto_action, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RequestID, a.StepOrder, a.Reason, nullIfEmpty(a.RequiredRole), a.TimeoutHours,
		a.AutoAction, a.Status, a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("store: insert approval: %w", err)
	}
	return &a, nil
}

// GetApproval loads one approval by id.
func (s *Store) GetApproval(id string) (*model.Approval, error) {
	return scanApprovalRow(s.db.QueryRow(`SELECT id, request_id, step_order, reason, required_role,
		timeout_hours, auto_action, status, processed_by, processed_at, comment, created_at
		FROM approval WHERE id = ?`, id))
}

func scanApprovalRow(row *sql.Row) (*model.Approval, error) {
	var a model.Approval
	var requiredRole, processedBy, comment sql.NullString
	var processedAt sql.NullTime

	err := row.Scan(&a.ID, &a.RequestID, &a.StepOrder, &a.Reason, &requiredRole, &a.TimeoutHours,
		&a.AutoAction, &a.Status, &processedBy, &processedAt, &comment, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan approval: %w", err)
	}
	a.RequiredRole = requiredRole.String
	a.ProcessedBy = processedBy.String
	a.Comment = comment.String
	if processedAt.Valid {
		t := processedAt.Time
		a.ProcessedAt = &t
	}
	return &a, nil
}

// ProcessApproval records a human decision (or the cooldown's autoAction)
// and transitions the approval out of Pending.
func (s *Store) ProcessApproval(id string, status model.ApprovalStatus, processedBy, comment string) error {
	res, err := s.db.Exec(`UPDATE approval SET status = ?, processed_by = ?, processed_at = ?, comment = ?
		WHERE id = ? AND status = 'Pending'`, status, nullIfEmpty(processedBy), utcNow(), nullIfEmpty(comment), id)
	if err != nil {
		return fmt.Errorf("store: process approval: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("store: approval %s is not Pending", id)
	}
	return nil
}

// DueApprovals returns every Pending approval whose cooldown has elapsed,
// for the scheduled timeout sweep to auto-resolve (spec.md §4.6).
func (s *Store) DueApprovals() ([]model.Approval, error) {
	rows, err := s.db.Query(`SELECT id, request_id, step_order, reason, required_role,
		timeout_hours, auto_action, status, processed_by, processed_at, comment, created_at
		FROM approval WHERE status = 'Pending'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var due []model.Approval
	now := utcNow()
	for rows.Next() {
		var a model.Approval
		var requiredRole, processedBy, comment sql.NullString
		var processedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.RequestID, &a.StepOrder, &a.Reason, &requiredRole, &a.TimeoutHours,
			&a.AutoAction, &a.Status, &processedBy, &processedAt, &comment, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.RequiredRole = requiredRole.String
		a.ProcessedBy = processedBy.String
		a.Comment = comment.String
		if a.TimeoutHours <= 0 {
			continue // no cooldown configured, stays Pending indefinitely
		}
		if now.After(a.Deadline()) {
			due = append(due, a)
		}
	}
	return due, nil
}

// ListApprovalsForRequest returns every approval recorded against a
// request, ordered by step.
func (s *Store) ListApprovalsForRequest(requestID string) ([]model.Approval, error) {
	rows, err := s.db.Query(`SELECT id, request_id, step_order, reason, required_role,
		timeout_hours, auto_action, status, processed_by, processed_at, comment, created_at
		FROM approval WHERE request_id = ? ORDER BY step_order`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Approval
	for rows.Next() {
		var a model.Approval
		var requiredRole, processedBy, comment sql.NullString
		var processedAt sql.NullTime
		if err := rows.Scan(&a.ID, &a.RequestID, &a.StepOrder, &a.Reason, &requiredRole, &a.TimeoutHours,
			&a.AutoAction, &a.Status, &processedBy, &processedAt, &comment, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.RequiredRole = requiredRole.String
		a.ProcessedBy = processedBy.String
		a.Comment = comment.String
		if processedAt.Valid {
			t := processedAt.Time
			a.ProcessedAt = &t
		}
		out = append(out, a)
	}
	return out, nil
}
