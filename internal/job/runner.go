package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ringsight/ringsight/internal/cache"
	"github.com/ringsight/ringsight/pkg/models"
)

const statusMirrorTTL = 30 * time.Minute

// Detector is the detection service boundary. It is invoked exactly once
// per job with the raw uploaded artifact and either returns a structured
// result or an error. It must honor ctx cancellation; the runner enforces a
// timeout around the call.
type Detector interface {
	Detect(ctx context.Context, input []byte) (*models.DetectionResult, error)
}

// stage checkpoints emitted before and after the single detector call. True
// granular progress is not observable from the collaborator, so the
// intermediate stages are fixed markers around it.
var (
	preDetectStages = []stageMark{
		{models.StageParsing, "Parsing transaction file", 10},
		{models.StageGraphBuilt, "Transaction graph assembled", 25},
	}
	postDetectStages = []stageMark{
		{models.StageCyclesDone, "Cycle detection pass complete", 50},
		{models.StageSmurfingDone, "Smurfing detection pass complete", 65},
		{models.StageShellsDone, "Shell account detection pass complete", 80},
		{models.StageScoringDone, "Scoring and false positive filtering complete", 95},
	}
)

type stageMark struct {
	stage    string
	message  string
	progress int
}

// Runner drives one job per Start call through the fixed pipeline to a
// terminal state. Every failure along the way is absorbed into the job's
// failed state, never propagated to the caller.
type Runner struct {
	store    *Store
	detector Detector
	timeout  time.Duration
	cache    cache.Cache // optional best-effort status mirror
}

func NewRunner(store *Store, detector Detector, timeout time.Duration, c cache.Cache) *Runner {
	return &Runner{store: store, detector: detector, timeout: timeout, cache: c}
}

// Start creates a pending job and dispatches the analysis in a background
// goroutine. It returns the job immediately; the goroutine's lifetime is
// independent of the request that launched it, and disconnecting observers
// never cancels it.
func (r *Runner) Start(ctx context.Context, input []byte) (models.Job, error) {
	if len(input) == 0 {
		return models.Job{}, fmt.Errorf("empty input artifact")
	}

	id := uuid.New()
	j, err := r.store.Create(id)
	if err != nil {
		return models.Job{}, fmt.Errorf("creating job: %w", err)
	}
	r.mirrorStatus(ctx, id, models.JobStatusPending)

	go r.run(id, input)

	return j, nil
}

// run executes the pipeline for one job. It recovers from panics and always
// leaves the job in a terminal state.
func (r *Runner) run(id uuid.UUID, input []byte) {
	ctx := context.Background()

	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("panic while driving job", "job_id", id, "error", rec)
			r.fail(ctx, id, models.JobError{
				Code:    models.ErrCodePanic,
				Message: fmt.Sprintf("internal error: %v", rec),
			})
		}
	}()

	for _, m := range preDetectStages {
		r.emit(ctx, id, m)
	}

	detectCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	result, err := r.detector.Detect(detectCtx, input)
	if err != nil {
		code := models.ErrCodeDetectorError
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			code = models.ErrCodeTimeout
			err = fmt.Errorf("detection timed out after %s", r.timeout)
		case errors.Is(err, models.ErrInvalidInput):
			code = models.ErrCodeInvalidInput
		}
		r.fail(ctx, id, models.JobError{Code: code, Message: err.Error()})
		return
	}
	if result == nil {
		r.fail(ctx, id, models.JobError{
			Code:    models.ErrCodeDetectorError,
			Message: "detector returned no result",
		})
		return
	}

	for _, m := range postDetectStages {
		r.emit(ctx, id, m)
	}

	if err := r.store.Complete(id, result); err != nil {
		slog.Warn("completing job", "job_id", id, "error", err)
		return
	}
	r.mirrorStatus(ctx, id, models.JobStatusCompleted)
	slog.Info("job completed", "job_id", id,
		"suspicious_accounts", len(result.SuspiciousAccounts),
		"fraud_rings", len(result.FraudRings))
}

func (r *Runner) emit(ctx context.Context, id uuid.UUID, m stageMark) {
	ev := models.ProgressEvent{
		Type:      models.EventTypeFor(m.stage),
		Stage:     m.stage,
		Message:   m.message,
		Progress:  m.progress,
		Timestamp: time.Now().UTC(),
	}
	if err := r.store.AppendEvent(id, ev); err != nil {
		slog.Warn("appending stage event", "job_id", id, "stage", m.stage, "error", err)
		return
	}
	if m.stage == models.StageParsing {
		r.mirrorStatus(ctx, id, models.JobStatusProcessing)
	}
}

func (r *Runner) fail(ctx context.Context, id uuid.UUID, jobErr models.JobError) {
	if err := r.store.Fail(id, jobErr); err != nil {
		slog.Warn("failing job", "job_id", id, "error", err)
		return
	}
	r.mirrorStatus(ctx, id, models.JobStatusFailed)
	slog.Info("job failed", "job_id", id, "code", jobErr.Code, "error", jobErr.Message)
}

func (r *Runner) mirrorStatus(ctx context.Context, id uuid.UUID, status string) {
	if r.cache == nil {
		return
	}
	_ = r.cache.SetJobStatus(ctx, id, status, statusMirrorTTL)
}
