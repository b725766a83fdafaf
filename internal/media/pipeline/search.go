package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/atlasarr/atlasarr/internal/apperr"
	"github.com/atlasarr/atlasarr/internal/log"
	"github.com/atlasarr/atlasarr/internal/media/indexer"
	"github.com/atlasarr/atlasarr/internal/media/model"
	"github.com/atlasarr/atlasarr/internal/media/selector"
	"github.com/atlasarr/atlasarr/internal/metrics"
	"github.com/atlasarr/atlasarr/internal/store"
)

// handleSearch runs the SEARCH stage for a request: query every indexer,
// score and filter candidates, and apply one of the three outcomes spec.md
// §4.4 describes (winner / quality-gate / no-candidates).
func (e *Executor) handleSearch(ctx context.Context, job *store.Job) error {
	payload, err := decodePayload[SearchPayload](job)
	if err != nil {
		return apperr.Permanent(err)
	}

	req, err := e.Store.GetRequest(payload.RequestID)
	if err != nil {
		return apperr.Permanent(fmt.Errorf("pipeline: load request %s: %w", payload.RequestID, err))
	}

	if req.Kind == model.KindSeries {
		return e.searchSeries(ctx, req)
	}
	return e.searchMovie(ctx, req)
}

func (e *Executor) searchMovie(ctx context.Context, req *model.Request) error {
	result := e.Fanout.Search(ctx, indexer.Query{Kind: req.Kind, Title: req.Title, Year: req.Year})
	outcome := e.applySelection(*req, result.Releases)
	// Route through pipeline:execute-step instead of applying the outcome
	// here directly: an announce match racing this same SEARCH for the same
	// request dedupes onto the same job, so only one outcome is ever applied
	// (spec.md §5's per-request serialization).
	return e.dispatchStep(req.ID, ExecuteStepPayload{
		Source: "search", Winner: outcome.winner, Raw: outcome.raw, Filtered: outcome.filtered,
	})
}

// selectionOutcome classifies what the selector produced for one
// request/item, so callers (the movie search path, the series search path
// and the execute-step handler) share one decision tree.
type selectionOutcome struct {
	winner   *model.Release
	raw      []model.Release
	filtered []model.Release
}

// applySelection resolves the full Constraints (per-request overrides like
// minSeeders/maxSize merged with the request's own resolution gates) and
// runs the pure selector over raw candidates.
func (e *Executor) applySelection(req model.Request, raw []model.Release) selectionOutcome {
	constraints := selector.Constraints{
		RequiredResolution:  req.RequiredResolution,
		PreferredResolution: req.PreferredResolution,
	}
	if e.Constraints != nil {
		resolved := e.Constraints(req)
		constraints.MaxSize = resolved.MaxSize
		constraints.MinSeeders = resolved.MinSeeders
	}
	result := selector.Select(raw, constraints)
	return selectionOutcome{winner: result.Winner, raw: result.Scored, filtered: result.Filtered}
}

func (e *Executor) persistRequestOutcome(req *model.Request, outcome selectionOutcome) error {
	logger := log.WithComponent("pipeline.search")

	switch {
	case outcome.winner != nil:
		metrics.RecordSelectorOutcome("winner")
		if err := e.Store.SetRequestReleases(req.ID, outcome.filtered, outcome.winner); err != nil {
			return fmt.Errorf("pipeline: persist selected release: %w", err)
		}
		if _, err := e.transitionRequest(req, eventSearchWinner, "download"); err != nil {
			return err
		}
		e.publish(EventReleaseSelected, req.ID, "", outcome.winner.Title)
		if _, err := e.Queue.SubmitIfNotExists(JobDownload, DownloadPayload{RequestID: req.ID}, downloadDedupeOpts(req.ID, "")); err != nil {
			if !errors.Is(err, apperr.ErrDedupeConflict) {
				return fmt.Errorf("pipeline: enqueue download: %w", err)
			}
		}
		return nil

	case len(outcome.raw) > 0:
		// Quality gate: candidates exist but none clear the constraints.
		metrics.RecordSelectorOutcome("quality_unavailable")
		if err := e.Store.SetRequestReleases(req.ID, outcome.raw, nil); err != nil {
			return fmt.Errorf("pipeline: persist raw candidates: %w", err)
		}
		if _, err := e.transitionRequest(req, eventSearchQualityGate, "search"); err != nil {
			return err
		}
		e.publish(EventQualityUnavailable, req.ID, "", "")
		logger.Warn().Str("request_id", req.ID).Msg("no release cleared the quality gate, awaiting announce upgrade")
		return nil

	default:
		metrics.RecordSelectorOutcome("no_candidates")
		if _, err := e.transitionRequest(req, eventSearchNoCandidates, "search"); err != nil {
			return err
		}
		e.publish(EventSearchNoCandidates, req.ID, "", "")
		return nil
	}
}

func downloadDedupeOpts(requestID, itemID string) store.AddOptions {
	key := "download:" + requestID
	if itemID != "" {
		key += ":" + itemID
	}
	return store.AddOptions{DedupeKey: key, RequestID: requestID, Priority: 5}
}

// RetryAwaiting re-enqueues SEARCH for every request still Awaiting. It is
// registered as a scheduler task (default interval 6h, spec.md §4.4), not a
// queued job itself, since it is the thing that originates new search jobs.
func (e *Executor) RetryAwaiting(ctx context.Context) error {
	requests, err := e.Store.ListRequestsByStatus(model.StatusAwaiting)
	if err != nil {
		return fmt.Errorf("pipeline: list awaiting requests: %w", err)
	}
	for _, req := range requests {
		if _, err := e.Queue.SubmitIfNotExists(JobSearch, SearchPayload{RequestID: req.ID}, store.AddOptions{
			DedupeKey: "search:" + req.ID, RequestID: req.ID,
		}); err != nil && !errors.Is(err, apperr.ErrDedupeConflict) {
			log.WithComponent("pipeline.retry").Error().Err(err).Str("request_id", req.ID).Msg("re-enqueue search failed")
		}
	}
	return nil
}
