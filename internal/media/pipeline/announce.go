package pipeline

import (
	"fmt"

	"github.com/atlasarr/atlasarr/internal/log"
	"github.com/atlasarr/atlasarr/internal/media/model"
)

// AnnounceCandidate is one synthesized Release an RSS/IRC listener matched
// against a waiting request, plus enough targeting info to know whether it
// hit a movie request, one episode, or a whole season.
type AnnounceCandidate struct {
	Release model.Release
	Season  *int // nil for a movie match
	Episode *int // nil for a movie or season-pack match
}

// ApplyAnnounceMatch short-circuits the SEARCH stage for requestID: it
// writes the synthesized release into selectedRelease, clears
// availableReleases, transitions to Downloading, and enqueues the download
// job directly (spec.md §4.4 "Announce short-circuit"). Only requests in
// Awaiting or QualityUnavailable are eligible; the quality gate still
// applies (callers are expected to have already checked resolution, but
// this is re-verified here defensively).
//
// A movie match is not applied directly: it is handed to
// pipeline:execute-step (see dispatch.go) so it serializes against a SEARCH
// job that may be completing for the same request at the same time. A
// series match is narrower in scope (it only ever touches the items for
// the matched season/episode), so it is applied directly, without going
// through pipeline:execute-step.
func (e *Executor) ApplyAnnounceMatch(requestID string, candidate AnnounceCandidate) error {
	req, err := e.Store.GetRequest(requestID)
	if err != nil {
		return fmt.Errorf("pipeline: load request %s: %w", requestID, err)
	}
	if req.Status != model.StatusAwaiting && req.Status != model.StatusQualityUnavailable {
		return fmt.Errorf("pipeline: request %s is not eligible for an announce upgrade (status=%s)", requestID, req.Status)
	}
	if req.RequiredResolution != "" && candidate.Release.Resolution.Rank() < req.RequiredResolution.Rank() {
		return fmt.Errorf("pipeline: announce release for %s is below the required resolution", requestID)
	}

	switch {
	case candidate.Season == nil:
		return e.dispatchStep(req.ID, ExecuteStepPayload{Source: "announce", AnnounceCandidate: &candidate})
	case candidate.Episode == nil:
		return e.applyAnnounceToSeasonPack(req, *candidate.Season, candidate.Release)
	default:
		return e.applyAnnounceToEpisode(req, *candidate.Season, *candidate.Episode, candidate.Release)
	}
}

func (e *Executor) applyAnnounceToMovie(req *model.Request, release model.Release) error {
	if err := e.Store.SetRequestReleases(req.ID, nil, &release); err != nil {
		return fmt.Errorf("pipeline: persist announce release: %w", err)
	}
	if _, err := e.transitionRequest(req, eventAnnounceMatch, "download"); err != nil {
		return err
	}
	e.publish(EventAnnounceShortCircuit, req.ID, "", release.Title)
	_, err := e.Queue.SubmitIfNotExists(JobDownload, DownloadPayload{RequestID: req.ID}, downloadDedupeOpts(req.ID, ""))
	return ignoreDedupeConflict(err)
}

func (e *Executor) applyAnnounceToSeasonPack(req *model.Request, season int, release model.Release) error {
	items, err := e.Store.ListProcessingItems(req.ID)
	if err != nil {
		return err
	}
	touched := false
	for _, item := range items {
		eligible := item.Status == model.ItemStatusAwaiting || item.Status == model.ItemStatusQualityUnavailable
		if item.Season != season || !eligible {
			continue
		}
		item.SelectedRelease = &release
		item.Status = model.ItemStatusDownloading
		if err := e.Store.UpdateProcessingItem(item); err != nil {
			return fmt.Errorf("pipeline: update item %s: %w", item.ID, err)
		}
		touched = true
	}
	if !touched {
		return nil
	}
	if _, err := e.transitionRequest(req, eventAnnounceMatch, "download"); err != nil {
		return err
	}
	e.publish(EventAnnounceShortCircuit, req.ID, "", release.Title)
	_, err = e.Queue.SubmitIfNotExists(JobTVDownloadSeason, DownloadPayload{RequestID: req.ID},
		downloadDedupeOpts(req.ID, fmt.Sprintf("season-%d", season)))
	return ignoreDedupeConflict(err)
}

func (e *Executor) applyAnnounceToEpisode(req *model.Request, season, episode int, release model.Release) error {
	items, err := e.Store.ListProcessingItems(req.ID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.Season != season || item.Episode == nil || *item.Episode != episode {
			continue
		}
		eligible := item.Status == model.ItemStatusAwaiting || item.Status == model.ItemStatusQualityUnavailable
		if !eligible {
			log.WithComponent("pipeline.announce").Info().Str("request_id", req.ID).Str("item_id", item.ID).
				Str("status", string(item.Status)).Msg("announce match for episode ignored, item already past the quality gate")
			return nil
		}
		item.SelectedRelease = &release
		item.Status = model.ItemStatusDownloading
		if err := e.Store.UpdateProcessingItem(item); err != nil {
			return fmt.Errorf("pipeline: update item %s: %w", item.ID, err)
		}
		if _, err := e.transitionRequest(req, eventAnnounceMatch, "download"); err != nil {
			return err
		}
		e.publish(EventAnnounceShortCircuit, req.ID, item.ID, release.Title)
		_, err := e.Queue.SubmitIfNotExists(JobTVDownloadEpisode,
			DownloadPayload{RequestID: req.ID, ItemID: item.ID}, downloadDedupeOpts(req.ID, item.ID))
		return ignoreDedupeConflict(err)
	}
	log.WithComponent("pipeline.announce").Warn().Str("request_id", req.ID).
		Int("season", season).Int("episode", episode).Msg("announce matched but no corresponding processing item found")
	return nil
}
