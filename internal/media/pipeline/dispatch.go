package pipeline

import (
	"context"
	"fmt"

	"github.com/atlasarr/atlasarr/internal/apperr"
	"github.com/atlasarr/atlasarr/internal/log"
	"github.com/atlasarr/atlasarr/internal/media/model"
	"github.com/atlasarr/atlasarr/internal/store"
)

// ExecuteStepPayload is the pipeline:execute-step job payload (spec.md §4.6
// "Step advancement"). It carries whichever outcome is racing to move a
// request out of Awaiting/QualityUnavailable: a completed SEARCH, or an
// announce short-circuit. handleExecuteStep is the sole place that applies
// one of these, and every submission is deduped on
// "pipeline:execute-step:{requestId}" (spec.md §5), so only one of two
// contending outcomes for the same request is ever actually applied; the
// other is discarded as stale once handleExecuteStep re-reads the request's
// current status.
type ExecuteStepPayload struct {
	RequestID string `json:"requestId"`
	Source    string `json:"source"` // "search" or "announce"

	Winner   *model.Release  `json:"winner,omitempty"`
	Raw      []model.Release `json:"raw,omitempty"`
	Filtered []model.Release `json:"filtered,omitempty"`

	AnnounceCandidate *AnnounceCandidate `json:"announceCandidate,omitempty"`
}

// dispatchStep submits the step that decided it may advance requestID out
// of Awaiting/QualityUnavailable. The dedupe key is per-request, not
// per-outcome: a SEARCH completion and an announce match racing for the
// same request collapse into a single pipeline:execute-step job, so only
// one outcome is ever applied.
func (e *Executor) dispatchStep(requestID string, payload ExecuteStepPayload) error {
	payload.RequestID = requestID
	_, err := e.Queue.SubmitIfNotExists(JobExecuteStep, payload, store.AddOptions{
		DedupeKey: "pipeline:execute-step:" + requestID, RequestID: requestID, Priority: 5,
	})
	return ignoreDedupeConflict(err)
}

func (e *Executor) handleExecuteStep(ctx context.Context, job *store.Job) error {
	payload, err := decodePayload[ExecuteStepPayload](job)
	if err != nil {
		return apperr.Permanent(err)
	}

	switch payload.Source {
	case "search":
		return e.applySearchOutcome(payload.RequestID, selectionOutcome{
			winner: payload.Winner, raw: payload.Raw, filtered: payload.Filtered,
		})
	case "announce":
		return e.applyAnnounceMatchMovie(payload.RequestID, *payload.AnnounceCandidate)
	default:
		return apperr.Permanent(fmt.Errorf("pipeline: unknown execute-step source %q", payload.Source))
	}
}

// applySearchOutcome re-reads the request before applying a SEARCH result,
// since by the time this runs another pipeline:execute-step job (an
// announce match that got here first) may have already moved the request
// past the point where a SEARCH outcome still applies.
func (e *Executor) applySearchOutcome(requestID string, outcome selectionOutcome) error {
	req, err := e.Store.GetRequest(requestID)
	if err != nil {
		return fmt.Errorf("pipeline: load request %s: %w", requestID, err)
	}
	if req.Status != model.StatusAwaiting && req.Status != model.StatusQualityUnavailable {
		log.WithComponent("pipeline.search").Info().Str("request_id", requestID).
			Str("status", string(req.Status)).Msg("search outcome superseded by a concurrent transition, discarding")
		return nil
	}
	return e.persistRequestOutcome(req, outcome)
}

// applyAnnounceMatchMovie performs the movie announce transition. Like
// applySearchOutcome, it re-validates eligibility against the request's
// current status, since a concurrent SEARCH outcome may have already won
// the race to advance it.
func (e *Executor) applyAnnounceMatchMovie(requestID string, candidate AnnounceCandidate) error {
	req, err := e.Store.GetRequest(requestID)
	if err != nil {
		return fmt.Errorf("pipeline: load request %s: %w", requestID, err)
	}
	if req.Status != model.StatusAwaiting && req.Status != model.StatusQualityUnavailable {
		log.WithComponent("pipeline.announce").Info().Str("request_id", requestID).
			Str("status", string(req.Status)).Msg("announce match superseded by a concurrent transition, discarding")
		return nil
	}
	if req.RequiredResolution != "" && candidate.Release.Resolution.Rank() < req.RequiredResolution.Rank() {
		return fmt.Errorf("pipeline: announce release for %s is below the required resolution", requestID)
	}
	return e.applyAnnounceToMovie(req, candidate.Release)
}
