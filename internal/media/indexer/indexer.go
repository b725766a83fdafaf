// Package indexer queries configured indexer adapters in parallel and
// aggregates partial failures into one result set for the release selector.
package indexer

import (
	"context"
	"time"

	"github.com/atlasarr/atlasarr/internal/log"
	"github.com/atlasarr/atlasarr/internal/media/model"
	"golang.org/x/sync/errgroup"
)

// defaultPerCallTimeout bounds any single indexer's response time per
// spec.md §4.5.
const defaultPerCallTimeout = 30 * time.Second

// Query describes a search request sent to every enabled indexer.
type Query struct {
	Kind        model.MediaKind
	ExternalIDs map[string]string
	Title       string
	Year        int
	Season      *int
	Episode     *int
}

// Adapter is the narrow contract an indexer protocol implementation (e.g. a
// Torznab/Newznab client or a private-tracker scraper) must satisfy. The
// concrete adapters themselves are out of scope (spec.md §1); the core only
// depends on this interface.
type Adapter interface {
	Name() string
	Search(ctx context.Context, q Query) ([]model.Release, error)
}

// Result aggregates the outcome of fanning a Query out to every adapter.
type Result struct {
	Releases []model.Release
	Queried  int
	Failed   int
	Errors   []AdapterError
}

// AdapterError records one indexer's failure without failing the whole
// fanout.
type AdapterError struct {
	Indexer string
	Err     error
}

func (e AdapterError) Error() string { return e.Indexer + ": " + e.Err.Error() }

// Fanout queries every adapter concurrently, each bounded by its own
// timeout, and merges whatever results come back.
type Fanout struct {
	Adapters       []Adapter
	PerCallTimeout time.Duration
}

// New creates a Fanout over the given adapters using the default per-call
// timeout.
func New(adapters []Adapter) *Fanout {
	return &Fanout{Adapters: adapters, PerCallTimeout: defaultPerCallTimeout}
}

// Search runs q against every adapter in parallel and aggregates results.
func (f *Fanout) Search(ctx context.Context, q Query) Result {
	logger := log.WithComponent("indexer.fanout")
	timeout := f.PerCallTimeout
	if timeout <= 0 {
		timeout = defaultPerCallTimeout
	}

	type outcome struct {
		releases []model.Release
		err      *AdapterError
	}
	outcomes := make([]outcome, len(f.Adapters))

	g, gctx := errgroup.WithContext(ctx)
	for i, adapter := range f.Adapters {
		i, adapter := i, adapter
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()

			releases, err := adapter.Search(callCtx, q)
			if err != nil {
				outcomes[i] = outcome{err: &AdapterError{Indexer: adapter.Name(), Err: err}}
				logger.Warn().Str("indexer", adapter.Name()).Err(err).Msg("indexer search failed")
				return nil // partial failure: don't cancel siblings
			}
			outcomes[i] = outcome{releases: releases}
			return nil
		})
	}
	// errgroup with no error-returning goroutines never fails; ignore.
	_ = g.Wait()

	var result Result
	for _, o := range outcomes {
		result.Queried++
		if o.err != nil {
			result.Failed++
			result.Errors = append(result.Errors, *o.err)
			continue
		}
		result.Releases = append(result.Releases, o.releases...)
	}
	return result
}
