package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// WorkerStatus is a worker registration's reported state.
type WorkerStatus string

const (
	WorkerActive WorkerStatus = "active"
	WorkerStale  WorkerStatus = "stale"
)

// Worker is a self-registered job-queue worker (spec.md §4.3 "Claim & run":
// "Workers self-register").
type Worker struct {
	WorkerID      string
	Hostname      string
	PID           int
	Status        WorkerStatus
	LastHeartbeat time.Time
}

// staleWorkerAfter is how long a worker may go without a heartbeat before it
// is considered dead and its claimed jobs are eligible for crash recovery.
const staleWorkerAfter = 10 * time.Minute

// RegisterWorker upserts a worker row as active with a fresh heartbeat.
func (s *Store) RegisterWorker(workerID, hostname string, pid int) error {
	_, err := s.db.Exec(`INSERT INTO worker (worker_id, hostname, pid, status, last_heartbeat)
		VALUES (?, ?, ?, 'active', ?)
		ON CONFLICT(worker_id) DO UPDATE SET
			hostname = excluded.hostname, pid = excluded.pid,
			status = 'active', last_heartbeat = excluded.last_heartbeat`,
		workerID, hostname, pid, utcNow())
	return err
}

// HeartbeatWorker refreshes a worker's own liveness row, independent of the
// per-job heartbeat (spec.md §4.3 "Heartbeats").
func (s *Store) HeartbeatWorker(workerID string) error {
	_, err := s.db.Exec(`UPDATE worker SET status = 'active', last_heartbeat = ? WHERE worker_id = ?`,
		utcNow(), workerID)
	return err
}

// ReapStaleWorkers marks any worker whose last heartbeat is older than
// staleWorkerAfter as stale and returns their ids, so the caller can crash-
// recover the jobs they were holding.
func (s *Store) ReapStaleWorkers() ([]string, error) {
	cutoff := utcNow().Add(-staleWorkerAfter)

	rows, err := s.db.Query(`SELECT worker_id FROM worker WHERE status = 'active' AND last_heartbeat < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("store: select stale workers: %w", err)
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

	if len(ids) == 0 {
		return nil, nil
	}

	_, err = s.db.Exec(`UPDATE worker SET status = 'stale' WHERE status = 'active' AND last_heartbeat < ?`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("store: mark stale workers: %w", err)
	}

	for _, id := range ids {
		if _, err := s.db.Exec(`UPDATE job SET status = 'Pending', started_at = NULL, heartbeat_at = NULL,
			worker_id = NULL, cancel_requested = 0 WHERE status = 'Running' AND worker_id = ?`, id); err != nil {
			return nil, fmt.Errorf("store: recover jobs for stale worker %s: %w", id, err)
		}
	}

	return ids, nil
}

// GetWorker loads one worker row.
func (s *Store) GetWorker(workerID string) (*Worker, error) {
	var w Worker
	err := s.db.QueryRow(`SELECT worker_id, hostname, pid, status, last_heartbeat FROM worker WHERE worker_id = ?`, workerID).
		Scan(&w.WorkerID, &w.Hostname, &w.PID, &w.Status, &w.LastHeartbeat)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}
