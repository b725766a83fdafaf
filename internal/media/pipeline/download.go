package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/atlasarr/atlasarr/internal/apperr"
	"github.com/atlasarr/atlasarr/internal/media/download"
	"github.com/atlasarr/atlasarr/internal/media/model"
	"github.com/atlasarr/atlasarr/internal/store"
)

// pollInterval is how often handleDownload checks client progress while a
// download job's handler is running.
const pollInterval = 5 * time.Second

// handleDownload submits the request's (or item's) selectedRelease to the
// download client and polls until it completes or the job is cancelled
// (spec.md §4.4 "DOWNLOAD").
func (e *Executor) handleDownload(ctx context.Context, job *store.Job) error {
	payload, err := decodePayload[DownloadPayload](job)
	if err != nil {
		return apperr.Permanent(err)
	}

	req, err := e.Store.GetRequest(payload.RequestID)
	if err != nil {
		return apperr.Permanent(fmt.Errorf("pipeline: load request %s: %w", payload.RequestID, err))
	}

	release, err := e.resolveRelease(req, payload.ItemID)
	if err != nil {
		return apperr.Permanent(err)
	}

	source := release.DownloadURL
	if release.MagnetURI != "" {
		source = release.MagnetURI
	}

	hash, err := e.Client.Add(ctx, source, download.AddOptions{MaxSizeBytes: release.SizeBytes})
	if err != nil {
		return fmt.Errorf("pipeline: submit download: %w", err)
	}
	e.publish(EventDownloadStarted, req.ID, payload.ItemID, release.Title)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		progress, err := e.Client.GetProgress(ctx, hash)
		if err != nil {
			return fmt.Errorf("pipeline: poll download progress: %w", err)
		}
		if progress.State == download.StateError {
			return fmt.Errorf("pipeline: download client reported error state")
		}
		e.Queue.ReportProgress(job.ID, int(progress.DownloadedBytes), int(progress.TotalBytes))
		if progress.IsComplete {
			return e.onDownloadComplete(ctx, req, payload.ItemID, hash)
		}
		select {
		case <-ctx.Done():
			_ = e.Client.Pause(context.Background(), hash)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *Executor) resolveRelease(req *model.Request, itemID string) (*model.Release, error) {
	if itemID == "" {
		if req.SelectedRelease == nil {
			return nil, fmt.Errorf("pipeline: request %s has no selected release", req.ID)
		}
		return req.SelectedRelease, nil
	}
	items, err := e.Store.ListProcessingItems(req.ID)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item.ID == itemID {
			if item.SelectedRelease == nil {
				return nil, fmt.Errorf("pipeline: item %s has no selected release", itemID)
			}
			return item.SelectedRelease, nil
		}
	}
	return nil, fmt.Errorf("pipeline: item %s not found on request %s", itemID, req.ID)
}

func (e *Executor) onDownloadComplete(ctx context.Context, req *model.Request, itemID, clientHash string) error {
	file, err := e.Client.GetMainVideoFile(ctx, clientHash)
	if err != nil {
		return fmt.Errorf("pipeline: resolve main video file: %w", err)
	}
	e.publish(EventDownloadComplete, req.ID, itemID, file.Path)

	if itemID != "" {
		if err := e.transitionItem(req.ID, itemID, model.ItemStatusEncoding); err != nil {
			return err
		}
	}
	if _, err := e.transitionRequest(req, eventDownloadComplete, "encode"); err != nil {
		return err
	}

	for _, target := range req.Targets {
		_, err := e.Queue.Submit(JobEncode, EncodePayload{
			RequestID: req.ID, ItemID: itemID, Target: target, SourcePath: file.Path,
		}, store.AddOptions{RequestID: req.ID})
		if err != nil {
			return fmt.Errorf("pipeline: enqueue encode for target %s: %w", target.ServerID, err)
		}
	}
	return nil
}

func (e *Executor) transitionItem(requestID, itemID string, status model.ProcessingItemStatus) error {
	items, err := e.Store.ListProcessingItems(requestID)
	if err != nil {
		return err
	}
	for _, item := range items {
		if item.ID == itemID {
			item.Status = status
			return e.Store.UpdateProcessingItem(item)
		}
	}
	return errors.New("pipeline: item not found: " + itemID)
}
