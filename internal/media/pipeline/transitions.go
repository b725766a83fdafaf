package pipeline

import (
	"context"
	"fmt"

	"github.com/atlasarr/atlasarr/internal/media/model"
	"github.com/atlasarr/atlasarr/internal/pipeline/fsm"
)

// requestEvent names the thing that happened, not the state it leads to;
// the transition table below is what maps (state, event) to the next state.
type requestEvent string

const (
	eventSearchWinner       requestEvent = "search.winner"
	eventSearchQualityGate  requestEvent = "search.quality_gate"
	eventSearchNoCandidates requestEvent = "search.no_candidates"
	eventAnnounceMatch      requestEvent = "announce.match"
	eventApprovalApproved   requestEvent = "approval.approved"
	eventApprovalRejected   requestEvent = "approval.rejected"
	eventDownloadComplete   requestEvent = "download.complete"
	eventDeliverComplete    requestEvent = "deliver.complete"
)

// requestTransitions is the Request-level state machine every pipeline
// status change runs through (pipeline.go package doc: "using the finite
// state machine in internal/pipeline/fsm"). A transition not listed here is
// rejected rather than silently applied, which is the whole point of
// routing every UpdateRequestStatus call through transitionRequest instead
// of calling it directly.
var requestTransitions = []fsm.Transition[model.RequestStatus, requestEvent]{
	{From: model.StatusAwaiting, Event: eventSearchWinner, To: model.StatusDownloading},
	{From: model.StatusAwaiting, Event: eventSearchQualityGate, To: model.StatusQualityUnavailable},
	{From: model.StatusAwaiting, Event: eventSearchNoCandidates, To: model.StatusAwaiting},
	{From: model.StatusAwaiting, Event: eventAnnounceMatch, To: model.StatusDownloading},
	{From: model.StatusQualityUnavailable, Event: eventSearchWinner, To: model.StatusDownloading},
	{From: model.StatusQualityUnavailable, Event: eventSearchQualityGate, To: model.StatusQualityUnavailable},
	{From: model.StatusQualityUnavailable, Event: eventAnnounceMatch, To: model.StatusDownloading},
	{From: model.StatusPendingApproval, Event: eventApprovalApproved, To: model.StatusDownloading},
	{From: model.StatusPendingApproval, Event: eventApprovalRejected, To: model.StatusCancelled},
	{From: model.StatusDownloading, Event: eventDownloadComplete, To: model.StatusEncoding},
	{From: model.StatusEncoding, Event: eventDeliverComplete, To: model.StatusComplete},
}

// transitionRequest validates req's current status against event using the
// shared transition table, then persists the resulting status. The Machine
// is built fresh per call since a Request's state lives in the store, not
// in memory; its job here is purely the (from, event) -> to lookup and the
// rejection of anything not in the table, not holding state across calls.
func (e *Executor) transitionRequest(req *model.Request, event requestEvent, step string) (model.RequestStatus, error) {
	m, err := fsm.New(req.Status, requestTransitions)
	if err != nil {
		return req.Status, fmt.Errorf("pipeline: build transition table: %w", err)
	}
	next, err := m.Fire(context.Background(), event)
	if err != nil {
		return req.Status, fmt.Errorf("pipeline: request %s: %w", req.ID, err)
	}
	if err := e.Store.UpdateRequestStatus(req.ID, next, step); err != nil {
		return req.Status, fmt.Errorf("pipeline: persist transition to %s: %w", next, err)
	}
	return next, nil
}
