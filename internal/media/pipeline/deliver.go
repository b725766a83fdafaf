package pipeline

import (
	"context"
	"fmt"

	"github.com/atlasarr/atlasarr/internal/apperr"
	"github.com/atlasarr/atlasarr/internal/media/model"
	"github.com/atlasarr/atlasarr/internal/store"
)

// handleDeliver writes the encoded artifact to its target media server and
// triggers a library scan. Targets are independent (spec.md §4.4): one
// target's failure does not fail the request, and the request only reaches
// Complete once every target's encode+deliver chain has drained.
func (e *Executor) handleDeliver(ctx context.Context, job *store.Job) error {
	payload, err := decodePayload[DeliverPayload](job)
	if err != nil {
		return apperr.Permanent(err)
	}

	// Delivery itself (writing the artifact into the server's library path) is
	// the media server's own concern; this stage's job is to trigger its scan
	// once the artifact is in place, per the narrow MediaServer contract.
	if err := e.MediaServer.TriggerScan(ctx, payload.Target.ServerID, ""); err != nil {
		return fmt.Errorf("pipeline: trigger scan for target %s: %w", payload.Target.ServerID, err)
	}
	e.publish(EventDeliverComplete, payload.RequestID, payload.ItemID, payload.ArtifactPath)

	if payload.ItemID != "" {
		if err := e.transitionItem(payload.RequestID, payload.ItemID, model.ItemStatusComplete); err != nil {
			return err
		}
	}

	remaining, err := e.Store.ActiveJobCountForRequest(payload.RequestID, job.ID, JobEncode, JobDeliver)
	if err != nil {
		return err
	}
	// The current deliver job is excluded from the count above, so
	// remaining == 0 means every other target has already drained.
	if remaining == 0 {
		req, err := e.Store.GetRequest(payload.RequestID)
		if err != nil {
			return fmt.Errorf("pipeline: load request %s: %w", payload.RequestID, err)
		}
		if _, err := e.transitionRequest(req, eventDeliverComplete, ""); err != nil {
			return err
		}
		e.publish(EventRequestComplete, payload.RequestID, "", "")
	}
	return nil
}
