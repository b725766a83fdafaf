package pipeline

import (
	"fmt"

	"github.com/atlasarr/atlasarr/internal/media/model"
)

// ResumeAfterApproval advances requestID once its Approval has been decided
// (spec.md §4.8: "Process ... notifies the Executor, which either
// transitions the request to Downloading on approve, or to Cancelled on
// reject"). Callers subscribe to internal/media/approval.Gate's event bus
// and invoke this for every EventProcessed; ResumeAfterApproval itself has
// no opinion on transport or triggering mechanism.
func (e *Executor) ResumeAfterApproval(requestID string, action model.ApprovalAction) error {
	req, err := e.Store.GetRequest(requestID)
	if err != nil {
		return fmt.Errorf("pipeline: load request %s: %w", requestID, err)
	}
	if req.Status != model.StatusPendingApproval {
		return fmt.Errorf("pipeline: request %s is not awaiting approval (status=%s)", requestID, req.Status)
	}

	switch action {
	case model.ApprovalActionApprove, model.ApprovalActionSkip:
		if _, err := e.transitionRequest(req, eventApprovalApproved, "download"); err != nil {
			return err
		}
		e.publish(EventDownloadStarted, req.ID, "", "approved")
		_, err := e.Queue.SubmitIfNotExists(JobDownload, DownloadPayload{RequestID: req.ID}, downloadDedupeOpts(req.ID, ""))
		return ignoreDedupeConflict(err)

	case model.ApprovalActionReject:
		if _, err := e.transitionRequest(req, eventApprovalRejected, "approve"); err != nil {
			return err
		}
		e.publish(EventRequestFailed, req.ID, "", "rejected by approval")
		return nil

	default:
		return fmt.Errorf("pipeline: unknown approval action %q", action)
	}
}
