package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ringsight/ringsight/internal/api/response"
	"github.com/ringsight/ringsight/internal/job"
	"github.com/ringsight/ringsight/pkg/models"
)

// Subscriber attaches a sink to a job's event stream: buffered history
// first, then live events until the channel closes after the terminal
// event.
type Subscriber interface {
	Subscribe(id uuid.UUID) (<-chan models.ProgressEvent, func(), error)
}

// NewEventsHandler returns an http.HandlerFunc for
// GET /api/v1/detect/{jobID}/events. It streams the job's events as
// server-sent events and closes the stream once the terminal event has been
// delivered or the client goes away.
func NewEventsHandler(subs Subscriber) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_JOB_ID",
				"Job id must be a valid UUID", nil)
			return
		}

		events, cancel, err := subs.Subscribe(id)
		if err != nil {
			if errors.Is(err, job.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND",
					"No job with that id", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not subscribe to job", nil)
			return
		}
		defer cancel()

		flusher, ok := w.(http.Flusher)
		if !ok {
			response.Error(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED",
				"Response writer does not support streaming", nil)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				data, err := json.Marshal(ev)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "data: %s\n\n", data)
				flusher.Flush()
			}
		}
	}
}
