package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/atlasarr/atlasarr/internal/apperr"
	"github.com/google/uuid"
)

// JobStatus is a Job's lifecycle state (spec.md §3).
type JobStatus string

const (
	JobPending   JobStatus = "Pending"
	JobRunning   JobStatus = "Running"
	JobPaused    JobStatus = "Paused"
	JobCompleted JobStatus = "Completed"
	JobFailed    JobStatus = "Failed"
	JobCancelled JobStatus = "Cancelled"
)

// AddOptions configures a job submission.
type AddOptions struct {
	Priority    int
	MaxAttempts int
	DedupeKey   string
	RequestID   string
	ParentJobID string
	ScheduledFor time.Time
}

// Job is the durable unit of work described in spec.md §3.
type Job struct {
	ID              string
	Type            string
	Payload         json.RawMessage
	Priority        int
	Status          JobStatus
	Attempts        int
	MaxAttempts     int
	DedupeKey       sql.NullString
	ScheduledFor    time.Time
	StartedAt       sql.NullTime
	HeartbeatAt     sql.NullTime
	CompletedAt     sql.NullTime
	WorkerID        sql.NullString
	CancelRequested bool
	Error           sql.NullString
	Result          json.RawMessage
	ProgressCurrent int
	ProgressTotal   int
	ParentJobID     sql.NullString
	RequestID       sql.NullString
	CreatedAt       time.Time
}

// Add inserts a new Pending job unconditionally.
func (s *Store) Add(jobType string, payload any, opts AddOptions) (*Job, error) {
	return s.insertJob(jobType, payload, opts, false)
}

// AddIfNotExists inserts a new Pending job unless an active (non-terminal)
// job already holds opts.DedupeKey, in which case it returns
// (nil, apperr.ErrDedupeConflict). Spec.md §4.3, invariant §8.1/§8.8.
func (s *Store) AddIfNotExists(jobType string, payload any, opts AddOptions) (*Job, error) {
	if opts.DedupeKey == "" {
		return nil, errors.New("store: AddIfNotExists requires a dedupe key")
	}
	return s.insertJob(jobType, payload, opts, true)
}

func (s *Store) insertJob(jobType string, payload any, opts AddOptions, checkDedupe bool) (*Job, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("store: marshal payload: %w", err)
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	scheduledFor := opts.ScheduledFor
	if scheduledFor.IsZero() {
		scheduledFor = utcNow()
	}

	id := uuid.NewString()
	now := utcNow()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if checkDedupe {
		var existing string
		err := tx.QueryRow(`SELECT id FROM job WHERE dedupe_key = ? AND status IN ('Pending','Running','Paused')`, opts.DedupeKey).Scan(&existing)
		if err == nil {
			return nil, apperr.ErrDedupeConflict
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store: dedupe check: %w", err)
		}
	}

	var dedupeKey sql.NullString
	if opts.DedupeKey != "" {
		dedupeKey = sql.NullString{String: opts.DedupeKey, Valid: true}
	}
	var requestID, parentJobID sql.NullString
	if opts.RequestID != "" {
		requestID = sql.NullString{String: opts.RequestID, Valid: true}
	}
	if opts.ParentJobID != "" {
		parentJobID = sql.NullString{String: opts.ParentJobID, Valid: true}
	}

	_, err = tx.Exec(`INSERT INTO job
		(id, type, payload, priority, status, attempts, max_attempts, dedupe_key,
		 scheduled_for, worker_id, cancel_requested, progress_current, progress_total,
		 parent_job_id, request_id, created_at)
		VALUES (?, ?, ?, ?, 'Pending', 0, ?, ?, ?, NULL, 0, 0, 0, ?, ?, ?)`,
		id, jobType, string(body), opts.Priority, maxAttempts, dedupeKey, scheduledFor,
		parentJobID, requestID, now)
	if err != nil {
		// The unique partial index is the final backstop if a concurrent
		// transaction raced us between the check and the insert.
		if checkDedupe {
			return nil, apperr.ErrDedupeConflict
		}
		return nil, fmt.Errorf("store: insert job: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}

	return &Job{
		ID: id, Type: jobType, Payload: body, Priority: opts.Priority,
		Status: JobPending, MaxAttempts: maxAttempts, DedupeKey: dedupeKey,
		ScheduledFor: scheduledFor, ParentJobID: parentJobID, RequestID: requestID,
		CreatedAt: now,
	}, nil
}

// ClaimPending claims up to `limit` Pending jobs whose scheduledFor has
// elapsed, ordered priority DESC, createdAt ASC, and transitions them to
// Running owned by workerID (spec.md §4.3 "Claim & run"). The claim is a
// conditional UPDATE keyed by status='Pending' so two workers cannot claim
// the same row.
func (s *Store) ClaimPending(workerID string, limit int) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := utcNow()

	rows, err := s.db.Query(`SELECT id FROM job
		WHERE status = 'Pending' AND scheduled_for <= ?
		ORDER BY priority DESC, created_at ASC
		LIMIT ?`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("store: select claimable: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()

	claimed := make([]*Job, 0, len(ids))
	for _, id := range ids {
		res, err := s.db.Exec(`UPDATE job SET status = 'Running', started_at = ?, heartbeat_at = ?,
			worker_id = ?, attempts = attempts + 1
			WHERE id = ? AND status = 'Pending'`, now, now, workerID, id)
		if err != nil {
			return nil, fmt.Errorf("store: claim job %s: %w", id, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			continue // lost the race to another worker
		}
		job, err := s.GetJob(id)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, job)
	}
	return claimed, nil
}

// GetJob loads one job by id.
func (s *Store) GetJob(id string) (*Job, error) {
	row := s.db.QueryRow(`SELECT id, type, payload, priority, status, attempts, max_attempts,
		dedupe_key, scheduled_for, started_at, heartbeat_at, completed_at, worker_id,
		cancel_requested, error, result, progress_current, progress_total,
		parent_job_id, request_id, created_at
		FROM job WHERE id = ?`, id)
	return scanJob(row)
}

func scanJob(row *sql.Row) (*Job, error) {
	var j Job
	var payload, result sql.NullString
	var cancelRequested int
	err := row.Scan(&j.ID, &j.Type, &payload, &j.Priority, &j.Status, &j.Attempts, &j.MaxAttempts,
		&j.DedupeKey, &j.ScheduledFor, &j.StartedAt, &j.HeartbeatAt, &j.CompletedAt, &j.WorkerID,
		&cancelRequested, &j.Error, &result, &j.ProgressCurrent, &j.ProgressTotal,
		&j.ParentJobID, &j.RequestID, &j.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan job: %w", err)
	}
	j.CancelRequested = cancelRequested != 0
	if payload.Valid {
		j.Payload = json.RawMessage(payload.String)
	}
	if result.Valid {
		j.Result = json.RawMessage(result.String)
	}
	return &j, nil
}

// Heartbeat refreshes heartbeat_at for every Running job owned by workerID,
// per spec.md §4.3 "Heartbeats" (at least once per 30s while Running).
func (s *Store) Heartbeat(workerID string) error {
	_, err := s.db.Exec(`UPDATE job SET heartbeat_at = ? WHERE worker_id = ? AND status = 'Running'`,
		utcNow(), workerID)
	return err
}

// UpdateProgress records a handler's progress for a meaningful advance.
func (s *Store) UpdateProgress(jobID string, current, total int) error {
	_, err := s.db.Exec(`UPDATE job SET progress_current = ?, progress_total = ? WHERE id = ?`,
		current, total, jobID)
	return err
}

// CompleteJob transitions a Running job to Completed and persists its
// result.
func (s *Store) CompleteJob(jobID string, result any) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("store: marshal result: %w", err)
	}
	_, err = s.db.Exec(`UPDATE job SET status = 'Completed', result = ?, completed_at = ?
		WHERE id = ?`, string(body), utcNow(), jobID)
	return err
}

// FailJob either re-pends a job for retry with exponential backoff, or, once
// maxAttempts is exhausted, marks it terminally Failed (spec.md §4.3
// "Completion").
func (s *Store) FailJob(jobID string, execErr error) error {
	job, err := s.GetJob(jobID)
	if err != nil {
		return err
	}

	if job.Attempts < job.MaxAttempts && !errors.Is(execErr, apperr.ErrPermanentUpstream) {
		backoff := time.Duration(1<<uint(job.Attempts)) * time.Second
		_, err = s.db.Exec(`UPDATE job SET status = 'Pending', scheduled_for = ?, error = ?
			WHERE id = ?`, utcNow().Add(backoff), execErr.Error(), jobID)
		return err
	}

	_, err = s.db.Exec(`UPDATE job SET status = 'Failed', error = ?, completed_at = ?
		WHERE id = ?`, execErr.Error(), utcNow(), jobID)
	return err
}

// CancelOrPause finalizes a job whose in-memory cancel flag was observed at
// handler exit. If the store's current status is already Paused (a user
// paused it mid-run), it is left Paused; otherwise it transitions to
// Cancelled. This is the single mechanism behind both pause and cancel
// (spec.md §9 "Heartbeat + cancellation as a single mechanism").
func (s *Store) CancelOrPause(jobID string) error {
	job, err := s.GetJob(jobID)
	if err != nil {
		return err
	}
	if job.Status == JobPaused {
		return nil
	}
	_, err = s.db.Exec(`UPDATE job SET status = 'Cancelled', error = 'Cancelled by user', completed_at = ?
		WHERE id = ?`, utcNow(), jobID)
	return err
}

// RequestCancel marks jobID for cancellation: Pending jobs are cancelled
// immediately; Running jobs get cancel_requested=true for the handler (and
// the in-memory cache) to observe.
func (s *Store) RequestCancel(jobID string) error {
	job, err := s.GetJob(jobID)
	if err != nil {
		return err
	}
	if job.Status == JobPending {
		_, err = s.db.Exec(`UPDATE job SET status = 'Cancelled', error = 'Cancelled by user', completed_at = ?
			WHERE id = ?`, utcNow(), jobID)
		return err
	}
	_, err = s.db.Exec(`UPDATE job SET cancel_requested = 1 WHERE id = ? AND status = 'Running'`, jobID)
	return err
}

// Pause sets a job Paused: Pending jobs transition directly; Running jobs
// get cancel_requested=true so the handler exits, and the queue observes
// Paused (not Cancelled) at exit.
func (s *Store) Pause(jobID string) error {
	job, err := s.GetJob(jobID)
	if err != nil {
		return err
	}
	switch job.Status {
	case JobPending:
		_, err = s.db.Exec(`UPDATE job SET status = 'Paused' WHERE id = ?`, jobID)
		return err
	case JobRunning:
		_, err = s.db.Exec(`UPDATE job SET status = 'Paused', cancel_requested = 1 WHERE id = ?`, jobID)
		return err
	default:
		return fmt.Errorf("store: cannot pause job in status %s", job.Status)
	}
}

// Resume transitions a Paused job back to Pending, clearing run-state.
func (s *Store) Resume(jobID string) error {
	res, err := s.db.Exec(`UPDATE job SET status = 'Pending', started_at = NULL, heartbeat_at = NULL,
		worker_id = NULL, cancel_requested = 0, scheduled_for = ?
		WHERE id = ? AND status = 'Paused'`, utcNow(), jobID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("store: job %s is not Paused", jobID)
	}
	return nil
}

// RecoverCrashedJobs rewrites every Running job back to Pending, clearing
// startedAt/heartbeatAt/workerId/cancelRequested, per spec.md §4.3 "Crash
// recovery at startup". Unique dedupe keys naturally coalesce duplicates.
func (s *Store) RecoverCrashedJobs() (int64, error) {
	res, err := s.db.Exec(`UPDATE job SET status = 'Pending', started_at = NULL, heartbeat_at = NULL,
		worker_id = NULL, cancel_requested = 0
		WHERE status = 'Running'`)
	if err != nil {
		return 0, fmt.Errorf("store: recover crashed jobs: %w", err)
	}
	return res.RowsAffected()
}

// RunningOwnedBy lists job ids currently Running and owned by workerID, used
// by the heartbeat task to refresh the in-memory cancel cache.
func (s *Store) RunningOwnedBy(workerID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT id FROM job WHERE status = 'Running' AND worker_id = ?`, workerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// CancelRequestedFor reports whether jobID currently has cancel_requested
// set in the store, used by the heartbeat task to refresh the in-memory
// cancel cache so cancels survive process restarts.
func (s *Store) CancelRequestedFor(jobID string) (bool, error) {
	var v int
	err := s.db.QueryRow(`SELECT cancel_requested FROM job WHERE id = ?`, jobID).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, apperr.ErrNotFound
	}
	return v != 0, err
}

// ActiveJobCountForRequest counts non-terminal jobs of the given types
// belonging to requestID, excluding excludeJobID, used by the pipeline
// executor to decide whether a multi-target stage (ENCODE/DELIVER) has fully
// drained (spec.md §4.4: "the request reaches Complete when all targets have
// either succeeded or exhausted retries"). excludeJobID is the caller's own
// job row, which is still Running in the store while its handler executes;
// without excluding it, two siblings finishing concurrently both observe
// each other and neither ever sees "last one out" (spec.md §9).
func (s *Store) ActiveJobCountForRequest(requestID, excludeJobID string, jobTypes ...string) (int, error) {
	if len(jobTypes) == 0 {
		return 0, nil
	}
	placeholders := ""
	args := make([]any, 0, len(jobTypes)+2)
	args = append(args, requestID)
	for i, t := range jobTypes {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, t)
	}
	args = append(args, excludeJobID)
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM job
		WHERE request_id = ? AND type IN (`+placeholders+`) AND status IN ('Pending','Running','Paused')
		AND id != ?`, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: count active jobs for request %s: %w", requestID, err)
	}
	return count, nil
}

// Stats summarizes job counts by status and pending counts by type, for
// observability (spec.md §4.3 "Stats").
type Stats struct {
	ByStatus      map[JobStatus]int
	PendingByType map[string]int
}

// ComputeStats returns current job counts.
func (s *Store) ComputeStats() (Stats, error) {
	stats := Stats{ByStatus: map[JobStatus]int{}, PendingByType: map[string]int{}}

	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM job GROUP BY status`)
	if err != nil {
		return stats, err
	}
	for rows.Next() {
		var status JobStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return stats, err
		}
		stats.ByStatus[status] = count
	}
	rows.Close()

	rows, err = s.db.Query(`SELECT type, COUNT(*) FROM job WHERE status = 'Pending' GROUP BY type`)
	if err != nil {
		return stats, err
	}
	defer rows.Close()
	for rows.Next() {
		var jobType string
		var count int
		if err := rows.Scan(&jobType, &count); err != nil {
			return stats, err
		}
		stats.PendingByType[jobType] = count
	}
	return stats, nil
}
