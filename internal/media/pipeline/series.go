package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/atlasarr/atlasarr/internal/apperr"
	"github.com/atlasarr/atlasarr/internal/media/indexer"
	"github.com/atlasarr/atlasarr/internal/media/model"
	"github.com/atlasarr/atlasarr/internal/media/selector"
)

// searchSeries runs SEARCH for every Awaiting ProcessingItem of a Series
// request, then decides per spec.md §9's season-pack Open Question whether
// a season pack or the per-episode winners should be acquired.
func (e *Executor) searchSeries(ctx context.Context, req *model.Request) error {
	items, err := e.Store.ListProcessingItems(req.ID)
	if err != nil {
		return fmt.Errorf("pipeline: list processing items for %s: %w", req.ID, err)
	}

	bySeason := make(map[int][]model.ProcessingItem)
	for _, item := range items {
		if item.Status == model.ItemStatusAwaiting {
			bySeason[item.Season] = append(bySeason[item.Season], item)
		}
	}

	for season, awaiting := range bySeason {
		if err := e.searchSeasonEpisodes(ctx, req, season, awaiting); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) searchSeasonEpisodes(ctx context.Context, req *model.Request, season int, awaiting []model.ProcessingItem) error {
	packResult := e.Fanout.Search(ctx, indexer.Query{
		Kind: req.Kind, Title: req.Title, Year: req.Year, Season: &season,
	})
	packOutcome := e.applySelection(*req, packResult.Releases)

	perEpisode := make(map[int]selectionOutcome, len(awaiting))
	bestPerEpisodeScore := -1 << 31
	for _, item := range awaiting {
		if item.Episode == nil {
			continue
		}
		ep := *item.Episode
		result := e.Fanout.Search(ctx, indexer.Query{Kind: req.Kind, Title: req.Title, Year: req.Year, Season: &season, Episode: &ep})
		outcome := e.applySelection(*req, result.Releases)
		perEpisode[ep] = outcome
		if outcome.winner != nil && outcome.winner.Score > bestPerEpisodeScore {
			bestPerEpisodeScore = outcome.winner.Score
		}
	}

	episodeNumbers := make([]int, 0, len(awaiting))
	for _, item := range awaiting {
		if item.Episode != nil {
			episodeNumbers = append(episodeNumbers, *item.Episode)
		}
	}

	// A release returned by a season-scoped indexer query is assumed to cover
	// every episode of that season; indexers don't expose a structured
	// per-episode manifest for a pack, so coverage reduces to "is it a pack".
	usePack := packOutcome.winner != nil && selector.PreferSeasonPack(
		selector.SeasonPackCandidate{Release: *packOutcome.winner, Episodes: episodeSet(episodeNumbers)},
		episodeNumbers, bestPerEpisodeScore)

	if usePack {
		return e.applySeasonPackWinner(req, season, awaiting, *packOutcome.winner)
	}
	return e.applyPerEpisodeOutcomes(req, awaiting, perEpisode)
}

func episodeSet(nums []int) map[int]bool {
	set := make(map[int]bool, len(nums))
	for _, n := range nums {
		set[n] = true
	}
	return set
}

func (e *Executor) applySeasonPackWinner(req *model.Request, season int, awaiting []model.ProcessingItem, pack model.Release) error {
	// A season-pack item has Episode == nil; find or treat the whole group as
	// satisfied by one download (spec.md §3 ProcessingItem invariant).
	for _, item := range awaiting {
		item.SelectedRelease = &pack
		item.Status = model.ItemStatusDownloading
		if err := e.Store.UpdateProcessingItem(item); err != nil {
			return fmt.Errorf("pipeline: update item %s for season pack: %w", item.ID, err)
		}
	}
	if _, err := e.transitionRequest(req, eventSearchWinner, "download"); err != nil {
		return err
	}
	e.publish(EventReleaseSelected, req.ID, "", pack.Title)
	_, err := e.Queue.SubmitIfNotExists(JobTVDownloadSeason,
		DownloadPayload{RequestID: req.ID}, downloadDedupeOpts(req.ID, fmt.Sprintf("season-%d", season)))
	if err != nil {
		return ignoreDedupeConflict(err)
	}
	return nil
}

// applyPerEpisodeOutcomes applies each episode's search outcome to its
// ProcessingItem: a winner moves the item to Downloading and enqueues its
// download; raw candidates with no winner mark the item
// ItemStatusQualityUnavailable (mirroring search.go's movie-path quality
// gate) so it stays visible to an announce upgrade instead of collapsing
// into the same Awaiting state as "no candidates at all"; no candidates at
// all leaves the item Awaiting for retry-awaiting to re-search.
func (e *Executor) applyPerEpisodeOutcomes(req *model.Request, awaiting []model.ProcessingItem, outcomes map[int]selectionOutcome) error {
	anyDownloading := false
	for _, item := range awaiting {
		if item.Episode == nil {
			continue
		}
		outcome, ok := outcomes[*item.Episode]
		if !ok {
			continue
		}

		switch {
		case outcome.winner != nil:
			item.SelectedRelease = outcome.winner
			item.AvailableReleases = outcome.filtered
			item.QualityMet = true
			item.Status = model.ItemStatusDownloading
			if err := e.Store.UpdateProcessingItem(item); err != nil {
				return fmt.Errorf("pipeline: update item %s: %w", item.ID, err)
			}
			anyDownloading = true
			_, err := e.Queue.SubmitIfNotExists(JobTVDownloadEpisode,
				DownloadPayload{RequestID: req.ID, ItemID: item.ID}, downloadDedupeOpts(req.ID, item.ID))
			if err := ignoreDedupeConflict(err); err != nil {
				return err
			}

		case len(outcome.raw) > 0:
			// Quality gate: candidates exist but none clear the constraints.
			item.AvailableReleases = outcome.raw
			item.QualityMet = false
			item.Status = model.ItemStatusQualityUnavailable
			if err := e.Store.UpdateProcessingItem(item); err != nil {
				return fmt.Errorf("pipeline: update item %s: %w", item.ID, err)
			}

		default:
			// no candidates at all; stays Awaiting, retry-awaiting will re-search it
		}
	}
	if anyDownloading {
		if _, err := e.transitionRequest(req, eventSearchWinner, "download"); err != nil {
			return err
		}
	}
	return nil
}

func ignoreDedupeConflict(err error) error {
	if err == nil || errors.Is(err, apperr.ErrDedupeConflict) {
		return nil
	}
	return err
}
