package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/ringsight/ringsight/internal/api/response"
	"github.com/ringsight/ringsight/pkg/models"
)

// JobStarter creates a job for the uploaded artifact and dispatches the
// analysis in the background.
type JobStarter interface {
	Start(ctx context.Context, input []byte) (models.Job, error)
}

// NewDetectHandler returns an http.HandlerFunc for POST /api/v1/detect.
// It accepts a multipart upload under the "file" field and answers 202 with
// the new job id without waiting for the analysis.
func NewDetectHandler(starter JobStarter, maxUploadBytes int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

		file, _, err := r.FormFile("file")
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				response.Error(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE",
					"Uploaded file exceeds the size limit", nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_FILE",
				`multipart field "file" is required`, nil)
			return
		}
		defer file.Close()

		input, err := io.ReadAll(file)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_FILE",
				"Could not read uploaded file", nil)
			return
		}
		if len(input) == 0 {
			response.Error(w, http.StatusBadRequest, "INVALID_FILE",
				"Uploaded file is empty", nil)
			return
		}

		j, err := starter.Start(r.Context(), input)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Could not create job", nil)
			return
		}

		response.Accepted(w, map[string]any{
			"job_id": j.ID,
			"status": j.Status,
		})
	}
}
