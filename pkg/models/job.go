package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Error codes carried by JobError. Every failure while driving a job is
// classified into one of these; clients only ever see the code and message.
const (
	ErrCodeInvalidInput  = "invalid_input"
	ErrCodeTimeout       = "timeout"
	ErrCodeDetectorError = "detector_error"
	ErrCodePanic         = "panic"
)

// ErrInvalidInput is wrapped by a detector that cannot make sense of the
// uploaded artifact, so the driver can classify the failure as
// ErrCodeInvalidInput rather than a detector fault.
var ErrInvalidInput = errors.New("invalid transaction data")

// JobError describes why a job reached the failed state.
type JobError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Job tracks one asynchronous detection run. The API returns a job_id on
// POST /api/v1/detect; clients stream progress from
// GET /api/v1/detect/{job_id}/events and fetch the terminal outcome from
// GET /api/v1/detect/{job_id}/result.
//
// A job is pending until its first stage event, processing until the driver
// records a terminal transition, and then completed or failed forever.
// Result is set only when completed, Error only when failed.
type Job struct {
	ID          uuid.UUID        `json:"id"`
	Status      string           `json:"status"`
	Progress    int              `json:"progress"`
	Events      []ProgressEvent  `json:"events"`
	Result      *DetectionResult `json:"result,omitempty"`
	Error       *JobError        `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
	CompletedAt *time.Time       `json:"completed_at,omitempty"`
	FailedAt    *time.Time       `json:"failed_at,omitempty"`
}

// Terminal reports whether the job can no longer transition.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}
