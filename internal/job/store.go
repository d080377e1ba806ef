package job

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ringsight/ringsight/pkg/models"
)

var (
	ErrNotFound    = errors.New("job not found")
	ErrJobExists   = errors.New("job already exists")
	ErrJobTerminal = errors.New("job already terminal")
)

// Store owns the canonical state of every job. All mutations to one job are
// serialized by that job's entry lock; reads return deep-enough snapshots so
// callers never observe a partially applied mutation. The broadcaster is
// invoked inside the same per-job critical section, which makes
// append+publish a single step and lets Subscribe register a sink and replay
// history without a seam where events could be lost or duplicated.
type Store struct {
	hub *Broadcaster

	mu   sync.RWMutex
	jobs map[uuid.UUID]*entry
}

type entry struct {
	mu  sync.Mutex
	job models.Job
}

func NewStore(hub *Broadcaster) *Store {
	return &Store{hub: hub, jobs: make(map[uuid.UUID]*entry)}
}

// Create inserts a new pending job under id.
func (s *Store) Create(id uuid.UUID) (models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; ok {
		return models.Job{}, ErrJobExists
	}
	e := &entry{job: models.Job{
		ID:        id,
		Status:    models.JobStatusPending,
		Progress:  0,
		CreatedAt: time.Now().UTC(),
	}}
	s.jobs[id] = e
	return snapshot(&e.job), nil
}

// Get returns a point-in-time snapshot of the job.
func (s *Store) Get(id uuid.UUID) (models.Job, error) {
	e, err := s.entry(id)
	if err != nil {
		return models.Job{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshot(&e.job), nil
}

// AppendEvent records a stage event and publishes it to live subscribers in
// one step. The first event moves the job from pending to processing. A
// progress value lower than the current one is kept out of the job's
// progress field (the event itself is still recorded); out-of-order driver
// writes must never walk progress backwards. Appending to a terminal job is
// a logged no-op so duplicate or late driver signals cannot crash anything.
func (s *Store) AppendEvent(id uuid.UUID, ev models.ProgressEvent) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.Terminal() {
		slog.Warn("event for terminal job ignored", "job_id", id, "stage", ev.Stage)
		return ErrJobTerminal
	}
	e.job.Events = append(e.job.Events, ev)
	if e.job.Status == models.JobStatusPending {
		e.job.Status = models.JobStatusProcessing
	}
	if ev.Progress >= e.job.Progress {
		e.job.Progress = ev.Progress
	}
	s.hub.Publish(id, ev)
	return nil
}

// Complete transitions the job to its terminal completed state: appends the
// DONE event, sets the result, forces progress to 100 and ends every live
// stream. No-op with a warning when already terminal.
func (s *Store) Complete(id uuid.UUID, result *models.DetectionResult) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.Terminal() {
		slog.Warn("complete for terminal job ignored", "job_id", id)
		return ErrJobTerminal
	}
	now := time.Now().UTC()
	ev := models.ProgressEvent{
		Type:      models.EventTypeDone,
		Stage:     models.StageDone,
		Message:   "Analysis complete",
		Progress:  100,
		Timestamp: now,
	}
	e.job.Events = append(e.job.Events, ev)
	e.job.Status = models.JobStatusCompleted
	e.job.Result = result
	e.job.Progress = 100
	e.job.CompletedAt = &now
	s.hub.Publish(id, ev)
	s.hub.CloseAll(id)
	return nil
}

// Fail transitions the job to its terminal failed state. The ERROR event
// carries the job's last known progress rather than resetting it: prior
// events already told every observer how far the run got, and the terminal
// event should not contradict them. No-op with a warning when already
// terminal.
func (s *Store) Fail(id uuid.UUID, jobErr models.JobError) error {
	e, err := s.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.job.Terminal() {
		slog.Warn("fail for terminal job ignored", "job_id", id, "code", jobErr.Code)
		return ErrJobTerminal
	}
	now := time.Now().UTC()
	ev := models.ProgressEvent{
		Type:      models.EventTypeError,
		Stage:     models.StageError,
		Message:   jobErr.Message,
		Progress:  e.job.Progress,
		Timestamp: now,
	}
	e.job.Events = append(e.job.Events, ev)
	e.job.Status = models.JobStatusFailed
	e.job.Error = &jobErr
	e.job.FailedAt = &now
	s.hub.Publish(id, ev)
	s.hub.CloseAll(id)
	return nil
}

// Subscribe attaches a sink to the job's event stream: buffered history
// first, then live events, no gaps, no duplicates. For a terminal job the
// returned channel replays the full history (which ends with the terminal
// event) and is already closed. The cancel func detaches the sink; it is
// safe to call after the stream ended.
func (s *Store) Subscribe(id uuid.UUID) (<-chan models.ProgressEvent, func(), error) {
	e, err := s.entry(id)
	if err != nil {
		return nil, nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ch := make(chan models.ProgressEvent, len(e.job.Events)+subscriberBuffer)
	for _, ev := range e.job.Events {
		ch <- ev
	}
	if e.job.Terminal() {
		close(ch)
		return ch, func() {}, nil
	}

	sub := &subscriber{ch: ch}
	s.hub.register(id, sub)
	cancel := func() { s.hub.Unsubscribe(id, sub) }
	return ch, cancel, nil
}

// EvictTerminalBefore removes terminal jobs whose terminal timestamp is
// older than cutoff and reports how many were evicted. Memory bounding
// only; in-flight jobs are never touched.
func (s *Store) EvictTerminalBefore(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for id, e := range s.jobs {
		e.mu.Lock()
		expired := e.job.Terminal() && terminalAt(&e.job).Before(cutoff)
		e.mu.Unlock()
		if expired {
			delete(s.jobs, id)
			evicted++
		}
	}
	return evicted
}

// Len reports the number of jobs currently held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func (s *Store) entry(id uuid.UUID) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

func terminalAt(j *models.Job) time.Time {
	if j.CompletedAt != nil {
		return *j.CompletedAt
	}
	if j.FailedAt != nil {
		return *j.FailedAt
	}
	return j.CreatedAt
}

// snapshot copies the job with its own events slice. Result and Error are
// shared pointers but immutable once set.
func snapshot(j *models.Job) models.Job {
	out := *j
	if len(j.Events) > 0 {
		out.Events = make([]models.ProgressEvent, len(j.Events))
		copy(out.Events, j.Events)
	}
	return out
}
