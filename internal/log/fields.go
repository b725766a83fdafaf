// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldCorrelationID = "correlation_id"
	FieldRequestID     = "request_id"
	FieldJobID         = "job_id"
	FieldWorkerID      = "worker_id"
	FieldDedupeKey     = "dedupe_key"
	FieldApprovalID    = "approval_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldJobType   = "job_type"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Media fields
	FieldTitle      = "title"
	FieldResolution = "resolution"
	FieldIndexer    = "indexer"
)
