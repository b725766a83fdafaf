package rss

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/atlasarr/atlasarr/internal/jobqueue"
	"github.com/atlasarr/atlasarr/internal/media/download"
	"github.com/atlasarr/atlasarr/internal/media/indexer"
	"github.com/atlasarr/atlasarr/internal/media/model"
	"github.com/atlasarr/atlasarr/internal/media/pipeline"
	"github.com/atlasarr/atlasarr/internal/media/selector"
	"github.com/atlasarr/atlasarr/internal/scheduler"
	"github.com/atlasarr/atlasarr/internal/store"
	"github.com/mmcdole/gofeed"
)

type fakeFetcher struct {
	feeds map[string]*gofeed.Feed
}

func (f *fakeFetcher) ParseURLWithContext(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	return f.feeds[feedURL], nil
}

type noopClient struct{}

func (noopClient) Add(ctx context.Context, url string, opts download.AddOptions) (string, error) {
	return "", nil
}
func (noopClient) GetProgress(ctx context.Context, hash string) (download.Progress, error) {
	return download.Progress{}, nil
}
func (noopClient) GetMainVideoFile(ctx context.Context, hash string) (download.MainVideoFile, error) {
	return download.MainVideoFile{}, nil
}
func (noopClient) Pause(ctx context.Context, hash string) error  { return nil }
func (noopClient) Resume(ctx context.Context, hash string) error { return nil }
func (noopClient) Delete(ctx context.Context, hash string) error { return nil }

type noopMediaServer struct{}

func (noopMediaServer) FetchLibrary(ctx context.Context, url, key string, q download.LibraryQuery) ([]download.LibraryItem, error) {
	return nil, nil
}
func (noopMediaServer) TriggerScan(ctx context.Context, url, key string) error { return nil }

type noopEncoder struct{}

func (noopEncoder) Encode(ctx context.Context, sourcePath, profileID string) (string, error) {
	return "", nil
}

func newTestSetup(t *testing.T) (*store.Store, *pipeline.Executor) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "atlasarr.sqlite"))
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	sched := scheduler.New()
	t.Cleanup(sched.Stop)

	cfg := jobqueue.DefaultConfig()
	cfg.PollInterval = 5 * time.Millisecond
	cfg.HeartbeatInterval = time.Hour
	cfg.ReapInterval = time.Hour
	q := jobqueue.New(s, sched, cfg)

	fanout := indexer.New(nil)
	exec := pipeline.New(s, q, fanout, func(req model.Request) selector.Constraints { return selector.Constraints{} },
		noopClient{}, noopMediaServer{}, noopEncoder{})

	if err := q.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return s, exec
}

// waitForShortCircuit blocks until the pipeline publishes an
// announce_short_circuit event. A movie announce match is applied by the
// asynchronous pipeline:execute-step job, so the request only reads as
// Downloading once that event has been published.
func waitForShortCircuit(t *testing.T, sub interface{ C() <-chan pipeline.Event }) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub.C():
			if ev.Kind == pipeline.EventAnnounceShortCircuit {
				return
			}
		case <-deadline:
			t.Fatal("expected an announce_short_circuit event")
		}
	}
}

func TestPollMatchesMovieAndShortCircuits(t *testing.T) {
	s, exec := newTestSetup(t)
	req, err := s.CreateRequest(model.Request{Kind: model.KindMovie, Title: "Example Movie", Year: 2020})
	if err != nil {
		t.Fatalf("CreateRequest error = %v", err)
	}
	if err := s.UpdateRequestStatus(req.ID, model.StatusAwaiting, "search"); err != nil {
		t.Fatalf("UpdateRequestStatus error = %v", err)
	}

	feed := &gofeed.Feed{Items: []*gofeed.Item{
		{Title: "Example Movie 2020 1080p BluRay", GUID: "guid-1", Link: "http://example/1"},
	}}
	fetcher := &fakeFetcher{feeds: map[string]*gofeed.Feed{"http://feed": feed}}
	p := New(s, exec, []string{"http://feed"}, fetcher)

	sub := exec.Events.Subscribe()
	defer sub.Unsubscribe()
	if err := p.Poll(context.Background()); err != nil {
		t.Fatalf("Poll error = %v", err)
	}
	waitForShortCircuit(t, sub)

	got, err := s.GetRequest(req.ID)
	if err != nil {
		t.Fatalf("GetRequest error = %v", err)
	}
	if got.Status != model.StatusDownloading {
		t.Fatalf("status = %s, want Downloading", got.Status)
	}
}

func TestPollDeduplicatesSeenGuids(t *testing.T) {
	s, exec := newTestSetup(t)
	req, _ := s.CreateRequest(model.Request{Kind: model.KindMovie, Title: "Another Movie", Year: 2021})
	_ = s.UpdateRequestStatus(req.ID, model.StatusAwaiting, "search")

	feed := &gofeed.Feed{Items: []*gofeed.Item{
		{Title: "Another Movie 2021 1080p BluRay", GUID: "guid-dupe", Link: "http://example/2"},
	}}
	fetcher := &fakeFetcher{feeds: map[string]*gofeed.Feed{"http://feed": feed}}
	p := New(s, exec, []string{"http://feed"}, fetcher)

	sub := exec.Events.Subscribe()
	defer sub.Unsubscribe()
	if err := p.Poll(context.Background()); err != nil {
		t.Fatalf("first Poll error = %v", err)
	}
	waitForShortCircuit(t, sub)
	// Revert the request back to Awaiting to prove the second poll is a
	// guid-dedup no-op, not a second legitimate match.
	_ = s.UpdateRequestStatus(req.ID, model.StatusAwaiting, "search")

	if err := p.Poll(context.Background()); err != nil {
		t.Fatalf("second Poll error = %v", err)
	}
	got, err := s.GetRequest(req.ID)
	if err != nil {
		t.Fatalf("GetRequest error = %v", err)
	}
	if got.Status != model.StatusAwaiting {
		t.Fatalf("status = %s, want Awaiting (seen guid should not rematch)", got.Status)
	}
}

func TestPollIgnoresRequestsNotWaiting(t *testing.T) {
	s, exec := newTestSetup(t)
	req, _ := s.CreateRequest(model.Request{Kind: model.KindMovie, Title: "Done Movie", Year: 2019})
	_ = s.UpdateRequestStatus(req.ID, model.StatusComplete, "")

	feed := &gofeed.Feed{Items: []*gofeed.Item{
		{Title: "Done Movie 2019 1080p BluRay", GUID: "guid-3", Link: "http://example/3"},
	}}
	fetcher := &fakeFetcher{feeds: map[string]*gofeed.Feed{"http://feed": feed}}
	p := New(s, exec, []string{"http://feed"}, fetcher)

	if err := p.Poll(context.Background()); err != nil {
		t.Fatalf("Poll error = %v", err)
	}
	got, err := s.GetRequest(req.ID)
	if err != nil {
		t.Fatalf("GetRequest error = %v", err)
	}
	if got.Status != model.StatusComplete {
		t.Fatalf("status = %s, want unchanged Complete", got.Status)
	}
}
