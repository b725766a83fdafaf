package pipeline

import (
	"context"
	"fmt"

	"github.com/atlasarr/atlasarr/internal/apperr"
	"github.com/atlasarr/atlasarr/internal/store"
)

// handleEncode runs the ENCODE sub-job for one delivery target. Encoding
// itself is delegated to the Encoder collaborator (spec.md §1 Non-goals);
// this stage only sequences the call and the handoff to DELIVER.
func (e *Executor) handleEncode(ctx context.Context, job *store.Job) error {
	payload, err := decodePayload[EncodePayload](job)
	if err != nil {
		return apperr.Permanent(err)
	}

	profileID := payload.Target.EncodingProfileID
	outputPath, err := e.Encoder.Encode(ctx, payload.SourcePath, profileID)
	if err != nil {
		return fmt.Errorf("pipeline: encode for target %s: %w", payload.Target.ServerID, err)
	}
	e.publish(EventEncodeComplete, payload.RequestID, payload.ItemID, outputPath)

	_, err = e.Queue.Submit(JobDeliver, DeliverPayload{
		RequestID: payload.RequestID, ItemID: payload.ItemID, Target: payload.Target, ArtifactPath: outputPath,
	}, store.AddOptions{RequestID: payload.RequestID})
	if err != nil {
		return fmt.Errorf("pipeline: enqueue deliver for target %s: %w", payload.Target.ServerID, err)
	}
	return nil
}
