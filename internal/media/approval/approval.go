// Package approval implements the optional human-in-the-loop gate between
// SEARCH and DOWNLOAD (spec.md §4.6): a created Approval blocks a request's
// advancement until a human processes it, or its cooldown elapses and
// autoAction applies.
package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/atlasarr/atlasarr/internal/bus"
	"github.com/atlasarr/atlasarr/internal/log"
	"github.com/atlasarr/atlasarr/internal/media/model"
	"github.com/atlasarr/atlasarr/internal/store"
)

// EventKind names an approval lifecycle transition published on the event
// bus (spec.md §4.8 "Approval event bus (exposed)": onNewApproval and
// onApprovalProcessed).
type EventKind string

const (
	EventNew       EventKind = "new_approval"
	EventProcessed EventKind = "approval_processed"
)

// Event is published to Gate.Events() on every approval lifecycle transition.
type Event struct {
	Kind       EventKind
	ApprovalID string
	RequestID  string
	Action     model.ApprovalAction
}

// Gate creates and resolves approvals against the store.
type Gate struct {
	store  *store.Store
	events *bus.Bus[Event]
}

// New builds a Gate over s.
func New(s *store.Store) *Gate {
	return &Gate{store: s, events: bus.New[Event]("approval")}
}

// Events returns the approval lifecycle event bus.
func (g *Gate) Events() *bus.Bus[Event] { return g.events }

// Request creates a Pending approval for one pipeline step and parks the
// owning request in PendingApproval.
func (g *Gate) Request(requestID string, stepOrder int, reason, requiredRole string, timeoutHours float64, autoAction model.ApprovalAction) (*model.Approval, error) {
	approval, err := g.store.CreateApproval(model.Approval{
		RequestID:    requestID,
		StepOrder:    stepOrder,
		Reason:       reason,
		RequiredRole: requiredRole,
		TimeoutHours: timeoutHours,
		AutoAction:   autoAction,
	})
	if err != nil {
		return nil, fmt.Errorf("approval: create: %w", err)
	}
	if err := g.store.UpdateRequestStatus(requestID, model.StatusPendingApproval, "approve"); err != nil {
		return nil, fmt.Errorf("approval: transition request to PendingApproval: %w", err)
	}
	g.events.Publish(Event{Kind: EventNew, ApprovalID: approval.ID, RequestID: requestID, Action: autoAction})
	return approval, nil
}

// Process records a human decision and publishes EventProcessed on the
// gate's event bus. It does not itself resume the pipeline; cmd/daemon's
// bridgeApprovalEvents subscribes to that bus and calls the pipeline
// Executor's ResumeAfterApproval.
func (g *Gate) Process(approvalID string, action model.ApprovalAction, processedBy, comment string) (*model.Approval, error) {
	status, err := statusForAction(action)
	if err != nil {
		return nil, err
	}
	if err := g.store.ProcessApproval(approvalID, status, processedBy, comment); err != nil {
		return nil, fmt.Errorf("approval: process %s: %w", approvalID, err)
	}
	processed, err := g.store.GetApproval(approvalID)
	if err != nil {
		return nil, err
	}
	g.events.Publish(Event{Kind: EventProcessed, ApprovalID: processed.ID, RequestID: processed.RequestID, Action: action})
	return processed, nil
}

func statusForAction(action model.ApprovalAction) (model.ApprovalStatus, error) {
	switch action {
	case model.ApprovalActionApprove:
		return model.ApprovalApproved, nil
	case model.ApprovalActionReject:
		return model.ApprovalRejected, nil
	case model.ApprovalActionSkip:
		return model.ApprovalSkipped, nil
	default:
		return "", fmt.Errorf("approval: unknown action %q", action)
	}
}

// CheckTimeouts is the scheduled task that auto-resolves any approval whose
// cooldown window has elapsed, applying its configured autoAction (spec.md
// §4.6 "Approval cooldown").
func (g *Gate) CheckTimeouts(ctx context.Context) error {
	due, err := g.store.DueApprovals()
	if err != nil {
		return fmt.Errorf("approval: list due approvals: %w", err)
	}

	logger := log.WithComponent("approval")
	for _, a := range due {
		status, err := statusForAction(a.AutoAction)
		if err != nil {
			logger.Error().Err(err).Str("approval_id", a.ID).Msg("cannot auto-resolve approval, invalid autoAction")
			continue
		}
		if err := g.store.ProcessApproval(a.ID, status, "system:cooldown", "auto-resolved after cooldown"); err != nil {
			logger.Error().Err(err).Str("approval_id", a.ID).Msg("failed to auto-resolve expired approval")
			continue
		}
		g.events.Publish(Event{Kind: EventProcessed, ApprovalID: a.ID, RequestID: a.RequestID, Action: a.AutoAction})
		logger.Info().Str("approval_id", a.ID).Str("action", string(a.AutoAction)).
			Dur("overdue_by", time.Since(a.Deadline())).Msg("approval auto-resolved after cooldown")
	}
	return nil
}
