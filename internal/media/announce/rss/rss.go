// Package rss polls configured RSS feeds for new release announces and
// feeds matches into the shared match pipeline (spec.md §4.5 "RSS polling").
// It is one of two announce side channels alongside internal/media/announce/irc;
// both share internal/media/match and both call pipeline.Executor.ApplyAnnounceMatch
// on a hit rather than duplicating the SEARCH stage's selection logic.
package rss

import (
	"context"
	"fmt"
	"time"

	"github.com/atlasarr/atlasarr/internal/log"
	"github.com/atlasarr/atlasarr/internal/media/match"
	"github.com/atlasarr/atlasarr/internal/media/model"
	"github.com/atlasarr/atlasarr/internal/media/pipeline"
	"github.com/atlasarr/atlasarr/internal/metrics"
	"github.com/atlasarr/atlasarr/internal/platform/httpx"
	"github.com/atlasarr/atlasarr/internal/store"
	"github.com/mmcdole/gofeed"
)

// fetchTimeout bounds one feed's fetch+parse round trip.
const fetchTimeout = 15 * time.Second

// DefaultPollInterval matches spec.md §4.5's default cadence.
const DefaultPollInterval = 60 * time.Second

// seenCapacity bounds the dedup window (spec.md §4.5 "last N seen guids").
const seenCapacity = 1000

// FeedFetcher abstracts gofeed's parser so tests can substitute a canned
// feed without a network round trip.
type FeedFetcher interface {
	ParseURLWithContext(ctx context.Context, feedURL string) (*gofeed.Feed, error)
}

// Poller periodically fetches one or more RSS feeds, matches each new item
// against every request awaiting a release, and short-circuits a hit
// through the pipeline.
type Poller struct {
	Store    *store.Store
	Pipeline *pipeline.Executor
	Fetcher  FeedFetcher
	FeedURLs []string

	seen *seenSet
}

// New builds a Poller. If fetcher is nil, a real gofeed.Parser is used.
func New(s *store.Store, exec *pipeline.Executor, feedURLs []string, fetcher FeedFetcher) *Poller {
	if fetcher == nil {
		fp := gofeed.NewParser()
		fp.Client = httpx.NewClient(fetchTimeout)
		fetcher = fp
	}
	return &Poller{
		Store:    s,
		Pipeline: exec,
		Fetcher:  fetcher,
		FeedURLs: feedURLs,
		seen:     newSeenSet(seenCapacity),
	}
}

// Poll fetches every configured feed once and matches new items against
// every request currently waiting for a release. It is registered as a
// scheduler task (spec.md §4.5); one feed's failure does not block others.
func (p *Poller) Poll(ctx context.Context) error {
	logger := log.WithComponent("announce.rss")

	waiting, err := p.Store.ListRequestsByStatus(model.StatusAwaiting, model.StatusQualityUnavailable)
	if err != nil {
		return fmt.Errorf("announce/rss: list waiting requests: %w", err)
	}
	if len(waiting) == 0 {
		return nil
	}

	var firstErr error
	for _, feedURL := range p.FeedURLs {
		feed, err := p.Fetcher.ParseURLWithContext(ctx, feedURL)
		if err != nil {
			logger.Warn().Err(err).Str("feed", feedURL).Msg("rss feed fetch failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, item := range feed.Items {
			guid := item.GUID
			if guid == "" {
				guid = item.Link
			}
			if guid == "" || p.seen.Contains(guid) {
				continue
			}
			p.seen.Add(guid)
			p.matchItem(waiting, item)
		}
	}
	return firstErr
}

func (p *Poller) matchItem(waiting []model.Request, item *gofeed.Item) {
	logger := log.WithComponent("announce.rss")
	candidate := match.Candidate{RawTitle: item.Title}

	for _, req := range waiting {
		if req.Kind == model.KindMovie {
			outcome := match.Match(candidate, match.TargetFromRequest(req))
			if !outcome.Matched {
				continue
			}
			release := releaseFromItem(item, outcome)
			if err := p.Pipeline.ApplyAnnounceMatch(req.ID, pipeline.AnnounceCandidate{Release: release}); err != nil {
				logger.Warn().Err(err).Str("request_id", req.ID).Msg("rss match rejected by pipeline")
			} else {
				metrics.RecordAnnounceMatch("rss")
			}
			continue
		}

		items, err := p.Store.ListProcessingItems(req.ID)
		if err != nil {
			logger.Error().Err(err).Str("request_id", req.ID).Msg("list processing items")
			continue
		}
		for _, pi := range items {
			if pi.Status != model.ItemStatusAwaiting && pi.Status != model.ItemStatusQualityUnavailable {
				continue
			}
			outcome := match.Match(candidate, match.TargetFromProcessingItem(req.Title, req.RequiredResolution, pi))
			if !outcome.Matched {
				continue
			}
			release := releaseFromItem(item, outcome)
			candidateMatch := pipeline.AnnounceCandidate{Release: release, Season: &outcome.Season}
			if !outcome.SeasonPack {
				ep := outcome.Episode
				candidateMatch.Episode = &ep
			}
			if err := p.Pipeline.ApplyAnnounceMatch(req.ID, candidateMatch); err != nil {
				logger.Warn().Err(err).Str("request_id", req.ID).Msg("rss match rejected by pipeline")
			} else {
				metrics.RecordAnnounceMatch("rss")
			}
		}
	}
}

func releaseFromItem(item *gofeed.Item, outcome match.Outcome) model.Release {
	r := model.Release{
		Title:       item.Title,
		Resolution:  outcome.Resolution,
		DownloadURL: item.Link,
		IndexerName: "rss",
	}
	if item.PublishedParsed != nil {
		r.PublishDate = *item.PublishedParsed
	}
	return r
}
