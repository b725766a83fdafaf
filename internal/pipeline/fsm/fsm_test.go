package fsm

import (
	"context"
	"errors"
	"testing"
)

type state string
type event string

const (
	stateNew    state = "New"
	stateOpen   state = "Open"
	stateClosed state = "Closed"

	eventOpen  event = "open"
	eventClose event = "close"
)

func TestFireAppliesValidTransition(t *testing.T) {
	m, err := New(stateNew, []Transition[state, event]{
		{From: stateNew, Event: eventOpen, To: stateOpen},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	got, err := m.Fire(context.Background(), eventOpen)
	if err != nil {
		t.Fatalf("Fire() error = %v", err)
	}
	if got != stateOpen || m.State() != stateOpen {
		t.Fatalf("state = %s, want Open", got)
	}
}

func TestFireRejectsUnknownTransition(t *testing.T) {
	m, err := New(stateNew, []Transition[state, event]{
		{From: stateNew, Event: eventOpen, To: stateOpen},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := m.Fire(context.Background(), eventClose); err == nil {
		t.Fatal("expected an error for an undefined transition")
	}
	if m.State() != stateNew {
		t.Fatalf("state changed after a rejected transition: %s", m.State())
	}
}

func TestFireHonorsGuardRejection(t *testing.T) {
	guardErr := errors.New("not allowed")
	m, err := New(stateNew, []Transition[state, event]{
		{From: stateNew, Event: eventOpen, To: stateOpen, Guard: func(ctx context.Context, from state, e event) error {
			return guardErr
		}},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := m.Fire(context.Background(), eventOpen); !errors.Is(err, guardErr) {
		t.Fatalf("Fire() error = %v, want %v", err, guardErr)
	}
	if m.State() != stateNew {
		t.Fatalf("state changed despite guard rejection: %s", m.State())
	}
}

func TestNewRejectsDuplicateTransitions(t *testing.T) {
	_, err := New(stateNew, []Transition[state, event]{
		{From: stateNew, Event: eventOpen, To: stateOpen},
		{From: stateNew, Event: eventOpen, To: stateClosed},
	})
	if err == nil {
		t.Fatal("expected an error for a duplicate (from, event) transition")
	}
}

func TestFireRunsActionBeforeCommitting(t *testing.T) {
	var actionRanAtState state
	var m *Machine[state, event]
	m, err := New(stateNew, []Transition[state, event]{
		{From: stateNew, Event: eventOpen, To: stateOpen, Action: func(ctx context.Context, from, to state, e event) error {
			actionRanAtState = m.State()
			return nil
		}},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := m.Fire(context.Background(), eventOpen); err != nil {
		t.Fatalf("Fire() error = %v", err)
	}
	if actionRanAtState != stateNew {
		t.Fatalf("action observed state = %s, want New (pre-commit)", actionRanAtState)
	}
}
