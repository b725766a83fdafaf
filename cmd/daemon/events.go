package main

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/atlasarr/atlasarr/internal/bus"
	"github.com/atlasarr/atlasarr/internal/jobqueue"
	xglog "github.com/atlasarr/atlasarr/internal/log"
	"github.com/atlasarr/atlasarr/internal/media/approval"
	"github.com/atlasarr/atlasarr/internal/media/pipeline"
)

// newEventRouter builds the minimal HTTP surface that exercises the job,
// pipeline and approval event buses end to end (spec.md §6 "Job event bus
// (exposed)", "Approval event bus (exposed)"). The transport contract
// itself — WebSocket vs SSE, authentication, routing conventions — is out
// of scope (spec.md §1); this exists so the buses have a real consumer.
func newEventRouter(exec *pipeline.Executor, gate *approval.Gate, queue *jobqueue.Queue) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(xglog.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/events/jobs", streamEvents(queue.Events()))
	r.Get("/events/pipeline", streamEvents(exec.Events))
	r.Get("/events/approvals", streamEvents(gate.Events()))

	return r
}

// streamEvents renders a bus subscription as newline-delimited JSON,
// writing one event object per line as it is published, until the client
// disconnects.
func streamEvents[T any](b *bus.Bus[T]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sub := b.Subscribe()
		defer sub.Unsubscribe()

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		flusher, canFlush := w.(http.Flusher)

		enc := json.NewEncoder(w)
		for {
			select {
			case <-r.Context().Done():
				return
			case ev, ok := <-sub.C():
				if !ok {
					return
				}
				if err := enc.Encode(ev); err != nil {
					return
				}
				if canFlush {
					flusher.Flush()
				}
			}
		}
	}
}

// bridgeApprovalEvents is the Executor-side half of spec.md §4.8's
// "Process ... notifies the Executor": every processed approval resumes
// its owning request to Downloading (approve/skip) or Cancelled (reject).
func bridgeApprovalEvents(ctx context.Context, gate *approval.Gate, exec *pipeline.Executor) {
	logger := xglog.WithComponent("daemon.approval-bridge")
	sub := gate.Events().Subscribe()
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if ev.Kind != approval.EventProcessed {
				continue
			}
			if err := exec.ResumeAfterApproval(ev.RequestID, ev.Action); err != nil {
				logger.Warn().Err(err).Str("request_id", ev.RequestID).Str("approval_id", ev.ApprovalID).
					Msg("failed to resume request after approval decision")
			}
		}
	}
}
