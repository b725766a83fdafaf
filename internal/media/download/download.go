// Package download declares the narrow contracts the pipeline executor
// consumes from a download client and a media-server adapter. Concrete
// implementations (a torrent client, a Usenet client, Plex/Jellyfin/Emby
// adapters) are out of scope (spec.md §1); this package exists only so the
// executor can depend on an interface instead of a concrete client.
package download

import "context"

// ClientState is the download client's reported lifecycle state for one
// item (spec.md §6).
type ClientState string

const (
	StateQueued      ClientState = "queued"
	StateDownloading ClientState = "downloading"
	StateStalled     ClientState = "stalled"
	StateChecking    ClientState = "checking"
	StateExtracting  ClientState = "extracting"
	StateComplete    ClientState = "complete"
	StateSeeding     ClientState = "seeding"
	StatePaused      ClientState = "paused"
	StateError       ClientState = "error"
	StateUnknown     ClientState = "unknown"
)

// AddOptions configures how a download is submitted.
type AddOptions struct {
	Category    string
	SavePath    string
	MaxSizeBytes int64
}

// Progress is a point-in-time snapshot of a download's state.
type Progress struct {
	State           ClientState
	ProgressPct     float64
	DownloadedBytes int64
	TotalBytes      int64
	ETASeconds      int64
	SpeedBytesSec   int64
	IsComplete      bool
}

// MainVideoFile is the resolved primary media file from a completed
// download.
type MainVideoFile struct {
	Path string
	Size int64
}

// Client is the contract the DOWNLOAD stage consumes (spec.md §6). Both a
// torrent client and a Usenet client satisfy it identically from the
// executor's point of view.
type Client interface {
	Add(ctx context.Context, urlOrMagnet string, opts AddOptions) (clientHash string, err error)
	GetProgress(ctx context.Context, clientHash string) (Progress, error)
	GetMainVideoFile(ctx context.Context, clientHash string) (MainVideoFile, error)
	Pause(ctx context.Context, clientHash string) error
	Resume(ctx context.Context, clientHash string) error
	Delete(ctx context.Context, clientHash string) error
}

// LibraryItem is one entry returned by a media server's library listing,
// used during reconciliation (spec.md §4.6 SyncState / library:sync jobs).
type LibraryItem struct {
	ExternalID string
	Title      string
	Year       int
}

// LibraryQuery narrows a FetchLibrary call.
type LibraryQuery struct {
	Kind      string
	SinceDate string
}

// MediaServer is the contract ENCODE/DELIVER and the library-sync job
// consume from a downstream media server (spec.md §6).
type MediaServer interface {
	FetchLibrary(ctx context.Context, serverURL, apiKey string, q LibraryQuery) ([]LibraryItem, error)
	TriggerScan(ctx context.Context, serverURL, apiKey string) error
}

// Encoder is the downstream transcoding collaborator the ENCODE stage
// sequences but does not implement itself (spec.md §1 Non-goals:
// "Transcoding itself is delegated to a downstream encoder").
type Encoder interface {
	Encode(ctx context.Context, sourcePath string, profileID string) (outputPath string, err error)
}
