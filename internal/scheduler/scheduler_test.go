package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

type fakeTimer struct {
	c chan time.Time
}

func (f *fakeTimer) C() <-chan time.Time        { return f.c }
func (f *fakeTimer) Stop() bool                 { return true }
func (f *fakeTimer) Reset(d time.Duration) bool { return true }

type fakeClock struct {
	timer *fakeTimer
}

func (f *fakeClock) Now() time.Time { return time.Time{} }
func (f *fakeClock) NewTimer(d time.Duration) Timer {
	return f.timer
}

func TestRegisterRunsHandlerOnTick(t *testing.T) {
	clock := &fakeClock{timer: &fakeTimer{c: make(chan time.Time, 1)}}
	s := NewWithClock(clock)

	var runs int32
	err := s.Register(context.Background(), "t1", "test task", time.Second, func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		return nil
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	clock.timer.c <- time.Now()
	deadline := time.After(time.Second)
	for atomic.LoadInt32(&runs) == 0 {
		select {
		case <-deadline:
			t.Fatal("handler did not run within deadline")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	s.Unregister("t1")
}

func TestRegisterRejectsNonPositiveInterval(t *testing.T) {
	s := New()
	if err := s.Register(context.Background(), "t", "l", 0, func(ctx context.Context) error { return nil }); err == nil {
		t.Error("expected error for zero interval")
	}
}

func TestHandlerPanicDoesNotStopTask(t *testing.T) {
	clock := &fakeClock{timer: &fakeTimer{c: make(chan time.Time, 2)}}
	s := NewWithClock(clock)

	var calls int32
	_ = s.Register(context.Background(), "panicky", "panicky task", time.Second, func(ctx context.Context) error {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			panic("boom")
		}
		return nil
	})

	clock.timer.c <- time.Now()
	clock.timer.c <- time.Now()

	deadline := time.After(time.Second)
	for atomic.LoadInt32(&calls) < 2 {
		select {
		case <-deadline:
			t.Fatal("second tick never ran after panic")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	s.Unregister("panicky")
}

func TestUpdateIntervalUnknownTask(t *testing.T) {
	s := New()
	if err := s.UpdateInterval("missing", time.Second); err == nil {
		t.Error("expected error for unknown task")
	}
}
