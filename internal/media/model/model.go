// Package model defines the domain types shared across the acquisition
// pipeline: requests, per-episode processing items, candidate releases,
// approvals, and the hydration-job resume cursor.
package model

import "time"

// MediaKind distinguishes a movie request from a TV series request.
type MediaKind string

const (
	KindMovie  MediaKind = "Movie"
	KindSeries MediaKind = "Series"
)

// RequestStatus is the top-level state of a Request.
type RequestStatus string

const (
	StatusNew                RequestStatus = "New"
	StatusSearching          RequestStatus = "Searching"
	StatusAwaiting           RequestStatus = "Awaiting"
	StatusQualityUnavailable RequestStatus = "QualityUnavailable"
	StatusPendingApproval    RequestStatus = "PendingApproval"
	StatusDownloading        RequestStatus = "Downloading"
	StatusEncoding           RequestStatus = "Encoding"
	StatusDelivering         RequestStatus = "Delivering"
	StatusComplete           RequestStatus = "Complete"
	StatusFailed             RequestStatus = "Failed"
	StatusCancelled          RequestStatus = "Cancelled"
)

// Resolution is a release or requirement's vertical resolution class.
type Resolution string

const (
	Res2160p Resolution = "2160p"
	Res1080p Resolution = "1080p"
	Res720p  Resolution = "720p"
	Res480p  Resolution = "480p"
	ResSD    Resolution = "SD"
)

// resolutionRank orders resolutions from worst to best for quality-gate
// comparisons (spec.md §4.4: "rank: SD<480p<720p<1080p<2160p").
var resolutionRank = map[Resolution]int{
	ResSD:    0,
	Res480p:  1,
	Res720p:  2,
	Res1080p: 3,
	Res2160p: 4,
}

// Rank returns the ordinal rank of r, or -1 if r is not a recognized
// resolution.
func (r Resolution) Rank() int {
	rank, ok := resolutionRank[r]
	if !ok {
		return -1
	}
	return rank
}

// Source is the release's origin/quality tier.
type Source string

const (
	SourceRemux  Source = "Remux"
	SourceBluRay Source = "BluRay"
	SourceWebDL  Source = "WebDL"
	SourceWebRip Source = "WebRip"
	SourceHDTV   Source = "HDTV"
	SourceDVDRip Source = "DVDRip"
	SourceCam    Source = "Cam"
	SourceUnknown Source = "Unknown"
)

// Codec is the release's video codec.
type Codec string

const (
	CodecAV1     Codec = "AV1"
	CodecHEVC    Codec = "HEVC"
	CodecH264    Codec = "H264"
	CodecUnknown Codec = "Unknown"
)

// DeliveryTarget names a destination media server and optional encoding
// profile applied before delivery.
type DeliveryTarget struct {
	ServerID         string `json:"serverId"`
	EncodingProfileID string `json:"encodingProfileId,omitempty"`
}

// Release is an in-memory candidate acquisition. The core never persists a
// Release on its own; it travels embedded in a Request's SelectedRelease
// JSON column.
type Release struct {
	Title       string     `json:"title"`
	IndexerID   string     `json:"indexerId"`
	IndexerName string     `json:"indexerName"`
	Resolution  Resolution `json:"resolution"`
	Source      Source     `json:"source"`
	Codec       Codec      `json:"codec"`
	SizeBytes   int64      `json:"sizeBytes"`
	Seeders     int        `json:"seeders"`
	Leechers    int        `json:"leechers"`
	DownloadURL string     `json:"downloadUrl,omitempty"`
	MagnetURI   string     `json:"magnetUri,omitempty"`
	PublishDate time.Time  `json:"publishDate"`
	Categories  []string   `json:"categories,omitempty"`
	Score       int        `json:"score"`
}

// EpisodeTarget names one season, or one episode within a season, to fan
// out into a ProcessingItem for a Series Request (spec.md §4.4 "TV episode
// / season-pack fan-out"). Episode is nil to request the whole season as a
// single processing item (a season pack).
type EpisodeTarget struct {
	Season  int  `json:"season"`
	Episode *int `json:"episode,omitempty"`
}

// Request represents one user intent to acquire a title.
type Request struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"externalId"`
	Kind       MediaKind `json:"kind"`
	Title      string    `json:"title"`
	Year       int       `json:"year"`

	Targets            []DeliveryTarget `json:"targets"`
	Episodes           []EpisodeTarget  `json:"episodes,omitempty"`
	RequiredResolution Resolution       `json:"requiredResolution,omitempty"`
	PreferredResolution Resolution      `json:"preferredResolution,omitempty"`

	SelectedRelease   *Release  `json:"selectedRelease,omitempty"`
	AvailableReleases []Release `json:"availableReleases,omitempty"`

	Status      RequestStatus `json:"status"`
	CurrentStep string        `json:"currentStep"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// ProcessingItemStatus mirrors the per-episode stage of a Series fan-out.
type ProcessingItemStatus string

const (
	ItemStatusNew                ProcessingItemStatus = "New"
	ItemStatusSearching          ProcessingItemStatus = "Searching"
	ItemStatusAwaiting           ProcessingItemStatus = "Awaiting"
	ItemStatusQualityUnavailable ProcessingItemStatus = "QualityUnavailable"
	ItemStatusDownloading        ProcessingItemStatus = "Downloading"
	ItemStatusEncoding           ProcessingItemStatus = "Encoding"
	ItemStatusDelivering         ProcessingItemStatus = "Delivering"
	ItemStatusComplete           ProcessingItemStatus = "Complete"
	ItemStatusFailed             ProcessingItemStatus = "Failed"
)

// ProcessingItem is one episode, or one season pack, belonging to a Series
// Request.
type ProcessingItem struct {
	ID        string `json:"id"`
	RequestID string `json:"requestId"`
	Season    int    `json:"season"`
	// Episode is nil for a season-pack ProcessingItem.
	Episode *int `json:"episode,omitempty"`

	Status            ProcessingItemStatus `json:"status"`
	QualityMet        bool                 `json:"qualityMet"`
	AvailableReleases []Release            `json:"availableReleases,omitempty"`
	SelectedRelease   *Release             `json:"selectedRelease,omitempty"`
}

// IsSeasonPack reports whether this item represents an entire season rather
// than a single episode.
func (p ProcessingItem) IsSeasonPack() bool { return p.Episode == nil }

// ApprovalAction is the outcome a human (or the cooldown timer) applies to
// an Approval.
type ApprovalAction string

const (
	ApprovalActionApprove ApprovalAction = "approve"
	ApprovalActionReject  ApprovalAction = "reject"
	ApprovalActionSkip    ApprovalAction = "skip"
)

// ApprovalStatus is the lifecycle state of an Approval.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "Pending"
	ApprovalApproved ApprovalStatus = "Approved"
	ApprovalRejected ApprovalStatus = "Rejected"
	ApprovalSkipped  ApprovalStatus = "Skipped"
	ApprovalTimeout  ApprovalStatus = "Timeout"
)

// Approval is one pending human decision gating a Request's advancement.
type Approval struct {
	ID            string         `json:"id"`
	RequestID     string         `json:"requestId"`
	StepOrder     int            `json:"stepOrder"`
	Reason        string         `json:"reason"`
	RequiredRole  string         `json:"requiredRole,omitempty"`
	TimeoutHours  float64        `json:"timeoutHours"`
	AutoAction    ApprovalAction `json:"autoAction"`
	Status        ApprovalStatus `json:"status"`
	ProcessedBy   string         `json:"processedBy,omitempty"`
	ProcessedAt   *time.Time     `json:"processedAt,omitempty"`
	Comment       string         `json:"comment,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// Deadline returns the instant at which the cooldown expires and autoAction
// applies.
func (a Approval) Deadline() time.Time {
	return a.CreatedAt.Add(time.Duration(a.TimeoutHours * float64(time.Hour)))
}

// SyncState is the singleton row carrying resumable cursors for long-running
// hydration jobs.
type SyncState struct {
	LastProcessedExternalID string `json:"lastProcessedExternalId"`
	TotalCount              int    `json:"totalCount"`
	ActiveJobID             string `json:"activeJobId,omitempty"`
}
