// Package pipeline drives a Request (and, for Series requests, its child
// ProcessingItems) through SEARCH -> APPROVE -> DOWNLOAD -> ENCODE ->
// DELIVER using the finite-state machine in internal/pipeline/fsm. Handlers
// are registered against job types on an internal/jobqueue.Queue; the
// announce side channels (RSS/IRC) call into the SEARCH outcome logic
// directly to short-circuit a waiting request.
package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/atlasarr/atlasarr/internal/bus"
	"github.com/atlasarr/atlasarr/internal/jobqueue"
	"github.com/atlasarr/atlasarr/internal/media/download"
	"github.com/atlasarr/atlasarr/internal/media/indexer"
	"github.com/atlasarr/atlasarr/internal/media/model"
	"github.com/atlasarr/atlasarr/internal/media/selector"
	"github.com/atlasarr/atlasarr/internal/store"
)

// Job type names consumed by the Executor (spec.md §6 "Job types").
const (
	JobSearch           = "pipeline:search"
	JobDownload         = "pipeline:download"
	JobEncode           = "pipeline:encode"
	JobDeliver          = "pipeline:deliver"
	JobRetryAwaiting    = "pipeline:retry-awaiting"
	JobExecuteStep      = "pipeline:execute-step"
	JobTVSearch         = "tv:search"
	JobTVDownloadSeason = "tv:download-season"
	JobTVDownloadEpisode = "tv:download-episode"
)

// Constraints resolves the acquisition constraints that gate the selector
// for one request (minSeeders/maxSize/etc. come from settings; required and
// preferred resolution come from the request itself).
type Constraints func(req model.Request) selector.Constraints

// SearchPayload is the pipeline:search / tv:search job payload.
type SearchPayload struct {
	RequestID string `json:"requestId"`
}

// DownloadPayload is the pipeline:download / tv:download-* job payload.
type DownloadPayload struct {
	RequestID string `json:"requestId"`
	ItemID    string `json:"itemId,omitempty"` // set for per-episode/season-pack downloads
}

// EncodePayload is the pipeline:encode job payload, one per delivery target.
type EncodePayload struct {
	RequestID string `json:"requestId"`
	ItemID    string `json:"itemId,omitempty"`
	Target    model.DeliveryTarget `json:"target"`
	SourcePath string `json:"sourcePath"`
}

// DeliverPayload is the pipeline:deliver job payload.
type DeliverPayload struct {
	RequestID  string `json:"requestId"`
	ItemID     string `json:"itemId,omitempty"`
	Target     model.DeliveryTarget `json:"target"`
	ArtifactPath string `json:"artifactPath"`
}

// Executor wires the indexer fanout, release selector, download client,
// media server and encoder collaborators into the stage handlers that the
// job queue dispatches.
type Executor struct {
	Store       *store.Store
	Queue       *jobqueue.Queue
	Fanout      *indexer.Fanout
	Constraints Constraints
	Client      download.Client
	MediaServer download.MediaServer
	Encoder     download.Encoder
	Events      *bus.Bus[Event]
}

// EventKind names a pipeline-level event published for observability and
// for notification providers (out of scope themselves, spec.md §6).
type EventKind string

const (
	EventSearchNoCandidates  EventKind = "search_no_candidates"
	EventQualityUnavailable  EventKind = "quality_unavailable"
	EventReleaseSelected     EventKind = "release_selected"
	EventApprovalRequired    EventKind = "approval_required"
	EventDownloadStarted     EventKind = "download_started"
	EventDownloadComplete    EventKind = "download_complete"
	EventEncodeComplete      EventKind = "encode_complete"
	EventDeliverComplete     EventKind = "deliver_complete"
	EventRequestComplete     EventKind = "request_complete"
	EventRequestFailed       EventKind = "request_failed"
	EventAnnounceShortCircuit EventKind = "announce_short_circuit"
)

// Event is published on Executor.Events for every stage transition.
type Event struct {
	Kind      EventKind
	RequestID string
	ItemID    string
	Detail    string
}

// New builds an Executor and registers its handlers on queue.
func New(s *store.Store, q *jobqueue.Queue, fanout *indexer.Fanout, constraints Constraints,
	client download.Client, mediaServer download.MediaServer, encoder download.Encoder) *Executor {
	e := &Executor{
		Store:       s,
		Queue:       q,
		Fanout:      fanout,
		Constraints: constraints,
		Client:      client,
		MediaServer: mediaServer,
		Encoder:     encoder,
		Events:      bus.New[Event]("pipeline"),
	}
	q.RegisterHandler(JobSearch, e.handleSearch)
	q.RegisterHandler(JobTVSearch, e.handleSearch)
	q.RegisterHandler(JobDownload, e.handleDownload)
	q.RegisterHandler(JobTVDownloadEpisode, e.handleDownload)
	q.RegisterHandler(JobTVDownloadSeason, e.handleDownload)
	q.RegisterHandler(JobEncode, e.handleEncode)
	q.RegisterHandler(JobDeliver, e.handleDeliver)
	q.RegisterHandler(JobExecuteStep, e.handleExecuteStep)
	return e
}

func (e *Executor) publish(kind EventKind, requestID, itemID, detail string) {
	e.Events.Publish(Event{Kind: kind, RequestID: requestID, ItemID: itemID, Detail: detail})
}

func decodePayload[T any](job *store.Job) (T, error) {
	var p T
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		var zero T
		return zero, fmt.Errorf("pipeline: decode payload for job %s: %w", job.ID, err)
	}
	return p, nil
}
