// Package jobqueue is the in-memory runtime over the durable job store: it
// claims Pending jobs, dispatches them to registered handlers, heartbeats
// Running work, and reconciles crashed/stale workers on a recurring
// schedule (spec.md §4.3). The store remains the source of truth; every set
// kept here is a best-effort cache rebuildable from it.
package jobqueue

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/atlasarr/atlasarr/internal/apperr"
	"github.com/atlasarr/atlasarr/internal/bus"
	"github.com/atlasarr/atlasarr/internal/log"
	"github.com/atlasarr/atlasarr/internal/metrics"
	"github.com/atlasarr/atlasarr/internal/scheduler"
	"github.com/atlasarr/atlasarr/internal/store"
	"github.com/google/uuid"
)

// EventKind names a job lifecycle transition published on the event bus.
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventStarted   EventKind = "started"
	EventProgress  EventKind = "progress"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
	EventCancelled EventKind = "cancelled"
)

// Event is published to Queue.Events() on every job lifecycle transition.
type Event struct {
	Kind  EventKind
	JobID string
	Type  string
	Error string
}

// Handler executes one job's payload. It must check ctx regularly (the
// queue cancels ctx when the job is paused or cancelled) and return
// apperr.ErrPermanentUpstream-wrapped errors for failures that should never
// be retried.
type Handler func(ctx context.Context, job *store.Job) error

// Config tunes the queue's polling cadence and worker identity.
type Config struct {
	WorkerID          string
	Concurrency       int
	PollInterval      time.Duration
	HeartbeatInterval time.Duration
	ReapInterval      time.Duration
}

// DefaultConfig mirrors spec.md §4.3's stated cadences: at least one
// heartbeat per 30s while Running, a short claim-poll loop.
func DefaultConfig() Config {
	hostname, _ := os.Hostname()
	return Config{
		WorkerID:          fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8]),
		Concurrency:       4,
		PollInterval:      2 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		ReapInterval:      time.Minute,
	}
}

// Queue is the running claim/dispatch/heartbeat loop over a Store.
type Queue struct {
	store    *store.Store
	sched    *scheduler.Scheduler
	cfg      Config
	handlers map[string]Handler
	events   *bus.Bus[Event]

	mu        sync.Mutex
	running   map[string]context.CancelFunc // jobID -> cancel for the running handler
	cancelled map[string]bool
	paused    map[string]bool
	inflight  int
}

// New constructs a Queue. Register handlers with RegisterHandler before
// calling Start.
func New(s *store.Store, sched *scheduler.Scheduler, cfg Config) *Queue {
	return &Queue{
		store:     s,
		sched:     sched,
		cfg:       cfg,
		handlers:  make(map[string]Handler),
		events:    bus.New[Event]("jobqueue"),
		running:   make(map[string]context.CancelFunc),
		cancelled: make(map[string]bool),
		paused:    make(map[string]bool),
	}
}

// Events returns the lifecycle event bus.
func (q *Queue) Events() *bus.Bus[Event] { return q.events }

// RegisterHandler binds a job type to its execution logic.
func (q *Queue) RegisterHandler(jobType string, h Handler) {
	q.handlers[jobType] = h
}

// Submit creates a new job unconditionally.
func (q *Queue) Submit(jobType string, payload any, opts store.AddOptions) (*store.Job, error) {
	job, err := q.store.Add(jobType, payload, opts)
	if err != nil {
		return nil, err
	}
	q.events.Publish(Event{Kind: EventCreated, JobID: job.ID, Type: jobType})
	return job, nil
}

// SubmitIfNotExists creates a new job unless an active job already holds
// opts.DedupeKey (spec.md §4.3 "Submission").
func (q *Queue) SubmitIfNotExists(jobType string, payload any, opts store.AddOptions) (*store.Job, error) {
	job, err := q.store.AddIfNotExists(jobType, payload, opts)
	if err != nil {
		return nil, err
	}
	q.events.Publish(Event{Kind: EventCreated, JobID: job.ID, Type: jobType})
	return job, nil
}

// Cancel requests cancellation of jobID, whether Pending or Running.
func (q *Queue) Cancel(jobID string) error {
	if err := q.store.RequestCancel(jobID); err != nil {
		return err
	}
	q.mu.Lock()
	q.cancelled[jobID] = true
	cancel, running := q.running[jobID]
	q.mu.Unlock()
	if running {
		cancel()
	}
	return nil
}

// Pause requests a Running or Pending job be paused.
func (q *Queue) Pause(jobID string) error {
	if err := q.store.Pause(jobID); err != nil {
		return err
	}
	q.mu.Lock()
	q.paused[jobID] = true
	cancel, running := q.running[jobID]
	q.mu.Unlock()
	if running {
		cancel()
	}
	return nil
}

// Resume reactivates a Paused job.
func (q *Queue) Resume(jobID string) error {
	if err := q.store.Resume(jobID); err != nil {
		return err
	}
	q.mu.Lock()
	delete(q.paused, jobID)
	q.mu.Unlock()
	return nil
}

// Stats reports current queue counts.
func (q *Queue) Stats() (store.Stats, error) {
	return q.store.ComputeStats()
}

// Start registers the claim loop, heartbeat task, and stale-worker reaper on
// the scheduler, and performs crash recovery: every job left Running in the
// store, whichever worker owned it, is requeued as Pending.
func (q *Queue) Start(ctx context.Context) error {
	logger := log.WithComponent("jobqueue")

	if err := q.store.RegisterWorker(q.cfg.WorkerID, hostnameOrUnknown(), os.Getpid()); err != nil {
		return fmt.Errorf("jobqueue: register worker: %w", err)
	}

	recovered, err := q.store.RecoverCrashedJobs()
	if err != nil {
		return fmt.Errorf("jobqueue: crash recovery: %w", err)
	}
	if recovered > 0 {
		logger.Info().Int64("recovered", recovered).Msg("crash recovery requeued running jobs")
	}

	if err := q.sched.Register(ctx, "jobqueue:claim", "claim pending jobs", q.cfg.PollInterval, q.claimTick); err != nil {
		return err
	}
	if err := q.sched.Register(ctx, "jobqueue:heartbeat", "heartbeat running jobs", q.cfg.HeartbeatInterval, q.heartbeatTick); err != nil {
		return err
	}
	if err := q.sched.Register(ctx, "jobqueue:reap", "reap stale workers", q.cfg.ReapInterval, q.reapTick); err != nil {
		return err
	}
	return nil
}

func hostnameOrUnknown() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}

func (q *Queue) claimTick(ctx context.Context) error {
	q.mu.Lock()
	available := q.cfg.Concurrency - q.inflight
	q.mu.Unlock()
	if available <= 0 {
		return nil
	}

	jobs, err := q.store.ClaimPending(q.cfg.WorkerID, available)
	if err != nil {
		return fmt.Errorf("jobqueue: claim: %w", err)
	}
	for _, job := range jobs {
		metrics.RecordJobClaimed(job.Type)
		q.dispatch(ctx, job)
	}

	if stats, err := q.store.ComputeStats(); err == nil {
		for jobType, n := range stats.PendingByType {
			metrics.JobQueueDepth.WithLabelValues(jobType).Set(float64(n))
		}
	}
	return nil
}

func (q *Queue) dispatch(parent context.Context, job *store.Job) {
	handler, ok := q.handlers[job.Type]
	if !ok {
		_ = q.store.FailJob(job.ID, apperr.Permanent(fmt.Errorf("jobqueue: no handler registered for type %q", job.Type)))
		q.events.Publish(Event{Kind: EventFailed, JobID: job.ID, Type: job.Type, Error: "no handler registered"})
		return
	}

	jobCtx, cancel := context.WithCancel(parent)
	q.mu.Lock()
	q.running[job.ID] = cancel
	q.inflight++
	q.mu.Unlock()

	q.events.Publish(Event{Kind: EventStarted, JobID: job.ID, Type: job.Type})

	go func() {
		defer func() {
			q.mu.Lock()
			delete(q.running, job.ID)
			wasCancelled := q.cancelled[job.ID]
			wasPaused := q.paused[job.ID]
			delete(q.cancelled, job.ID)
			delete(q.paused, job.ID)
			q.inflight--
			q.mu.Unlock()
			cancel()

			if wasCancelled || wasPaused {
				if err := q.store.CancelOrPause(job.ID); err != nil {
					log.WithComponent("jobqueue").Error().Err(err).Str("job_id", job.ID).Msg("finalize cancel/pause failed")
				}
				// Pause and cancel share the same handler-exit mechanism; the
				// store already recorded which one actually applied.
				metrics.RecordJobCompleted(job.Type, "cancelled")
				q.events.Publish(Event{Kind: EventCancelled, JobID: job.ID, Type: job.Type})
			}
		}()

		err := handler(jobCtx, job)

		q.mu.Lock()
		cancelledMidRun := q.cancelled[job.ID] || q.paused[job.ID]
		q.mu.Unlock()
		if cancelledMidRun {
			return // handled in the deferred finalize above
		}

		if err != nil {
			if ferr := q.store.FailJob(job.ID, err); ferr != nil {
				log.WithComponent("jobqueue").Error().Err(ferr).Str("job_id", job.ID).Msg("failed to record job failure")
			}
			metrics.RecordJobCompleted(job.Type, "failed")
			q.events.Publish(Event{Kind: EventFailed, JobID: job.ID, Type: job.Type, Error: err.Error()})
			return
		}

		if cerr := q.store.CompleteJob(job.ID, nil); cerr != nil {
			log.WithComponent("jobqueue").Error().Err(cerr).Str("job_id", job.ID).Msg("failed to record job completion")
			return
		}
		metrics.RecordJobCompleted(job.Type, "completed")
		q.events.Publish(Event{Kind: EventCompleted, JobID: job.ID, Type: job.Type})
	}()
}

func (q *Queue) heartbeatTick(ctx context.Context) error {
	if err := q.store.Heartbeat(q.cfg.WorkerID); err != nil {
		return fmt.Errorf("jobqueue: heartbeat jobs: %w", err)
	}
	if err := q.store.HeartbeatWorker(q.cfg.WorkerID); err != nil {
		return fmt.Errorf("jobqueue: heartbeat worker: %w", err)
	}
	ids, err := q.store.RunningOwnedBy(q.cfg.WorkerID)
	if err != nil {
		return fmt.Errorf("jobqueue: list running jobs: %w", err)
	}
	for _, id := range ids {
		if flagged, err := q.store.CancelRequestedFor(id); err == nil && flagged {
			q.mu.Lock()
			q.cancelled[id] = true
			cancel, running := q.running[id]
			q.mu.Unlock()
			if running {
				cancel()
			}
		}
	}
	return nil
}

func (q *Queue) reapTick(ctx context.Context) error {
	reaped, err := q.store.ReapStaleWorkers()
	if err != nil {
		return fmt.Errorf("jobqueue: reap stale workers: %w", err)
	}
	if len(reaped) > 0 {
		log.WithComponent("jobqueue").Warn().Strs("workers", reaped).Msg("reaped stale workers, their jobs were recovered")
	}
	return nil
}

// ReportProgress lets a running handler publish a progress update.
func (q *Queue) ReportProgress(jobID string, current, total int) {
	if err := q.store.UpdateProgress(jobID, current, total); err != nil {
		log.WithComponent("jobqueue").Error().Err(err).Str("job_id", jobID).Msg("update progress failed")
		return
	}
	q.events.Publish(Event{Kind: EventProgress, JobID: jobID})
}
