package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ringsight/ringsight/internal/api/response"
	"github.com/ringsight/ringsight/internal/job"
	"github.com/ringsight/ringsight/pkg/models"
)

// JobGetter reads a point-in-time snapshot of a job.
type JobGetter interface {
	Get(id uuid.UUID) (models.Job, error)
}

// NewResultHandler returns an http.HandlerFunc for
// GET /api/v1/detect/{jobID}/result. A failed job answers 200 with the
// error in the body: the query about job state succeeded, only the job
// itself did not.
func NewResultHandler(jobs JobGetter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_JOB_ID",
				"Job id must be a valid UUID", nil)
			return
		}

		j, err := jobs.Get(id)
		if err != nil {
			if errors.Is(err, job.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND",
					"No job with that id", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not load job", nil)
			return
		}

		switch j.Status {
		case models.JobStatusCompleted:
			response.JSON(w, map[string]any{
				"job_id": j.ID,
				"status": j.Status,
				"result": j.Result,
			})
		case models.JobStatusFailed:
			response.JSON(w, map[string]any{
				"job_id": j.ID,
				"status": j.Status,
				"error":  j.Error,
			})
		default:
			response.JSON(w, map[string]any{
				"job_id":   j.ID,
				"status":   j.Status,
				"progress": j.Progress,
			})
		}
	}
}
