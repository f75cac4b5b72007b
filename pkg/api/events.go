package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/louisjham/hexstrike-ai/internal/core/domain"
)

// handleJobEvents streams lifecycle events for one job over SSE. The stream
// stays open until the client disconnects; terminal job events arrive but do
// not close it, so clients can read trailing notifications.
// GET /v1/jobs/{id}/events
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if _, err := s.store.GetJob(r.Context(), domain.JobID(id)); err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("failed to get job for event stream", "job_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	eventCh, unsub := s.eventBus.Subscribe(id)
	defer unsub()

	fmt.Fprintf(w, "event: connected\ndata: %s\n\n", id)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event, open := <-eventCh:
			if !open {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, event.Data)
			flusher.Flush()
		}
	}
}
