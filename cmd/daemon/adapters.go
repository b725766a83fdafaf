package main

import (
	"context"
	"fmt"

	"github.com/atlasarr/atlasarr/internal/media/download"
)

// unconfiguredClient satisfies download.Client until a real torrent/Usenet
// client is wired at deploy time (spec.md §1: download clients are a
// consumed, out-of-scope interface). Every call fails loudly rather than
// silently pretending to download something.
type unconfiguredClient struct{}

func (unconfiguredClient) Add(ctx context.Context, urlOrMagnet string, opts download.AddOptions) (string, error) {
	return "", fmt.Errorf("download: no client configured")
}

func (unconfiguredClient) GetProgress(ctx context.Context, clientHash string) (download.Progress, error) {
	return download.Progress{}, fmt.Errorf("download: no client configured")
}

func (unconfiguredClient) GetMainVideoFile(ctx context.Context, clientHash string) (download.MainVideoFile, error) {
	return download.MainVideoFile{}, fmt.Errorf("download: no client configured")
}

func (unconfiguredClient) Pause(ctx context.Context, clientHash string) error {
	return fmt.Errorf("download: no client configured")
}

func (unconfiguredClient) Resume(ctx context.Context, clientHash string) error {
	return fmt.Errorf("download: no client configured")
}

func (unconfiguredClient) Delete(ctx context.Context, clientHash string) error {
	return fmt.Errorf("download: no client configured")
}

// unconfiguredMediaServer satisfies download.MediaServer until a real
// Plex/Jellyfin/Emby adapter is wired (spec.md §1).
type unconfiguredMediaServer struct{}

func (unconfiguredMediaServer) FetchLibrary(ctx context.Context, serverURL, apiKey string, q download.LibraryQuery) ([]download.LibraryItem, error) {
	return nil, fmt.Errorf("media server: no adapter configured")
}

func (unconfiguredMediaServer) TriggerScan(ctx context.Context, serverURL, apiKey string) error {
	return fmt.Errorf("media server: no adapter configured")
}

// unconfiguredEncoder satisfies download.Encoder until a real transcoding
// backend is wired (spec.md §1 Non-goals: transcoding itself is out of scope).
type unconfiguredEncoder struct{}

func (unconfiguredEncoder) Encode(ctx context.Context, sourcePath, profileID string) (string, error) {
	return "", fmt.Errorf("encoder: no backend configured")
}
