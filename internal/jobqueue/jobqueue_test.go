package jobqueue

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/atlasarr/atlasarr/internal/scheduler"
	"github.com/atlasarr/atlasarr/internal/store"
)

func openTestQueue(t *testing.T) (*Queue, *store.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "atlasarr.sqlite")
	s, err := store.Open(path)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	sched := scheduler.New()
	t.Cleanup(sched.Stop)

	cfg := DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.HeartbeatInterval = time.Hour
	cfg.ReapInterval = time.Hour
	q := New(s, sched, cfg)
	return q, s
}

func waitForEvent(t *testing.T, sub interface{ C() <-chan Event }, want EventKind, timeout time.Duration) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-sub.C():
			if ev.Kind == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %s", want)
		}
	}
}

func TestQueueDispatchesAndCompletesJob(t *testing.T) {
	q, _ := openTestQueue(t)
	sub := q.Events().Subscribe()
	defer sub.Unsubscribe()

	done := make(chan struct{})
	q.RegisterHandler("noop", func(ctx context.Context, job *store.Job) error {
		close(done)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if _, err := q.Submit("noop", nil, store.AddOptions{}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}

	waitForEvent(t, sub, EventCompleted, time.Second)
}

func TestQueueFailsJobWhenAttemptsExhausted(t *testing.T) {
	q, _ := openTestQueue(t)

	attempts := 0
	failed := make(chan struct{})
	q.RegisterHandler("flaky", func(ctx context.Context, job *store.Job) error {
		attempts++
		return errors.New("boom")
	})

	sub := q.Events().Subscribe()
	defer sub.Unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	if _, err := q.Submit("flaky", nil, store.AddOptions{MaxAttempts: 1}); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	go func() {
		waitForEvent(t, sub, EventFailed, 2*time.Second)
		close(failed)
	}()

	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("job never terminally failed")
	}

	if attempts == 0 {
		t.Fatal("handler was never invoked")
	}
}

func TestQueueCancelStopsRunningJob(t *testing.T) {
	q, _ := openTestQueue(t)

	started := make(chan struct{})
	q.RegisterHandler("slow", func(ctx context.Context, job *store.Job) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})

	sub := q.Events().Subscribe()
	defer sub.Unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := q.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	job, err := q.Submit("slow", nil, store.AddOptions{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("handler never started")
	}

	if err := q.Cancel(job.ID); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	waitForEvent(t, sub, EventCancelled, time.Second)
}

func TestSubmitIfNotExistsDeduplicates(t *testing.T) {
	q, _ := openTestQueue(t)

	if _, err := q.SubmitIfNotExists("search", nil, store.AddOptions{DedupeKey: "k"}); err != nil {
		t.Fatalf("first SubmitIfNotExists() error = %v", err)
	}
	if _, err := q.SubmitIfNotExists("search", nil, store.AddOptions{DedupeKey: "k"}); err == nil {
		t.Fatal("expected second SubmitIfNotExists() with the same key to fail")
	}
}
