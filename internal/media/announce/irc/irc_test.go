package irc

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
)

func TestDefaultParserExtractsTitleAndURL(t *testing.T) {
	line := "New Torrent Announcement: <Example.Movie.2020.1080p.BluRay> :: Download: https://tracker.example/dl/abc123"
	result, ok := DefaultParser(line)
	if !ok {
		t.Fatal("expected a match")
	}
	if result.Title != "Example.Movie.2020.1080p.BluRay" {
		t.Fatalf("title = %q", result.Title)
	}
	if result.DownloadURL != "https://tracker.example/dl/abc123" {
		t.Fatalf("downloadURL = %q", result.DownloadURL)
	}
}

func TestDefaultParserRejectsUnrelatedLines(t *testing.T) {
	if _, ok := DefaultParser("hello there, general chat"); ok {
		t.Fatal("expected no match for an unrelated line")
	}
}

func TestSynthesizeTorrentURL(t *testing.T) {
	got := SynthesizeTorrentURL("https://tracker.example/", "rsskey123", "456", "Example Movie 2020")
	want := "https://tracker.example/torrent/456/Example.Movie.2020?key=rsskey123"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestReconnectDelayGrowsAndCaps(t *testing.T) {
	l := &Listener{}
	d1 := l.reconnectDelay(1)
	d5 := l.reconnectDelay(5)
	d10 := l.reconnectDelay(10)
	if d1 >= d5 {
		t.Fatalf("expected delay to grow: d1=%v d5=%v", d1, d5)
	}
	// Past maxReconnectMultiplier the multiplier term is capped, though
	// jitter means d10 can still exceed d5 occasionally; check against the
	// multiplier-only floor instead of exact equality.
	floor := baseReconnectDelay * time.Duration(maxReconnectMultiplier)
	if d10 < floor {
		t.Fatalf("d10 = %v, want at least the capped floor %v", d10, floor)
	}
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

func TestHandleLineMatchesMovieAndShortCircuits(t *testing.T) {
	s, exec := newTestSetup(t)
	req, err := s.CreateRequest(model.Request{Kind: model.KindMovie, Title: "Example Movie", Year: 2020})
	if err != nil {
		t.Fatalf("CreateRequest error = %v", err)
	}
	if err := s.UpdateRequestStatus(req.ID, model.StatusAwaiting, "search"); err != nil {
		t.Fatalf("UpdateRequestStatus error = %v", err)
	}

	sub := exec.Events.Subscribe()
	defer sub.Unsubscribe()
	l := New(s, exec, Config{}, DefaultParser)
	l.handleLine("New Torrent Announcement: <Example Movie 2020 1080p BluRay> :: Download: https://tracker.example/dl/1")
	waitForShortCircuit(t, sub)

	got, err := s.GetRequest(req.ID)
	if err != nil {
		t.Fatalf("GetRequest error = %v", err)
	}
	if got.Status != model.StatusDownloading {
		t.Fatalf("status = %s, want Downloading", got.Status)
	}
}

func TestHandleLineIgnoresUnparseableLines(t *testing.T) {
	s, exec := newTestSetup(t)
	req, _ := s.CreateRequest(model.Request{Kind: model.KindMovie, Title: "Another Movie", Year: 2021})
	_ = s.UpdateRequestStatus(req.ID, model.StatusAwaiting, "search")

	l := New(s, exec, Config{}, DefaultParser)
	l.handleLine("just some chat noise")

	got, err := s.GetRequest(req.ID)
	if err != nil {
		t.Fatalf("GetRequest error = %v", err)
	}
	if got.Status != model.StatusAwaiting {
		t.Fatalf("status = %s, want unchanged Awaiting", got.Status)
	}
}
