package job_test

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ringsight/ringsight/internal/job"
	"github.com/ringsight/ringsight/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newStore() *job.Store {
	return job.NewStore(job.NewBroadcaster())
}

func stageEvent(stage string, progress int) models.ProgressEvent {
	return models.ProgressEvent{
		Type:      models.EventTypeFor(stage),
		Stage:     stage,
		Message:   stage,
		Progress:  progress,
		Timestamp: time.Now().UTC(),
	}
}

// --- Create / Get ---

func TestCreate_NewJobIsPending(t *testing.T) {
	s := newStore()
	id := uuid.New()

	j, err := s.Create(id)
	require.NoError(t, err)
	assert.Equal(t, id, j.ID)
	assert.Equal(t, models.JobStatusPending, j.Status)
	assert.Equal(t, 0, j.Progress)
	assert.Empty(t, j.Events)
	assert.Nil(t, j.Result)
	assert.Nil(t, j.Error)
	assert.False(t, j.CreatedAt.IsZero())
}

func TestCreate_DuplicateID(t *testing.T) {
	s := newStore()
	id := uuid.New()

	_, err := s.Create(id)
	require.NoError(t, err)

	_, err = s.Create(id)
	assert.ErrorIs(t, err, job.ErrJobExists)
}

func TestGet_NotFound(t *testing.T) {
	s := newStore()

	_, err := s.Get(uuid.New())
	assert.ErrorIs(t, err, job.ErrNotFound)
}

func TestGet_SnapshotIsIsolated(t *testing.T) {
	s := newStore()
	id := uuid.New()
	_, err := s.Create(id)
	require.NoError(t, err)
	require.NoError(t, s.AppendEvent(id, stageEvent(models.StageParsing, 10)))

	snap, err := s.Get(id)
	require.NoError(t, err)

	// Later mutations must not show up in an older snapshot.
	require.NoError(t, s.AppendEvent(id, stageEvent(models.StageGraphBuilt, 25)))
	assert.Len(t, snap.Events, 1)
}

// --- AppendEvent ---

func TestAppendEvent_FirstEventMovesToProcessing(t *testing.T) {
	s := newStore()
	id := uuid.New()
	_, err := s.Create(id)
	require.NoError(t, err)

	require.NoError(t, s.AppendEvent(id, stageEvent(models.StageParsing, 10)))

	j, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusProcessing, j.Status)
	assert.Equal(t, 10, j.Progress)
	require.Len(t, j.Events, 1)
	assert.Equal(t, models.StageParsing, j.Events[0].Stage)
}

func TestAppendEvent_ProgressNeverRegresses(t *testing.T) {
	s := newStore()
	id := uuid.New()
	_, err := s.Create(id)
	require.NoError(t, err)

	require.NoError(t, s.AppendEvent(id, stageEvent(models.StageGraphBuilt, 25)))
	// Out-of-order write: event is recorded but progress must hold at 25.
	require.NoError(t, s.AppendEvent(id, stageEvent(models.StageParsing, 10)))

	j, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, 25, j.Progress)
	assert.Len(t, j.Events, 2)
}

func TestAppendEvent_TerminalJobIsNoOp(t *testing.T) {
	s := newStore()
	id := uuid.New()
	_, err := s.Create(id)
	require.NoError(t, err)
	require.NoError(t, s.Complete(id, &models.DetectionResult{}))

	err = s.AppendEvent(id, stageEvent(models.StageParsing, 10))
	assert.ErrorIs(t, err, job.ErrJobTerminal)

	j, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, j.Status)
	assert.Len(t, j.Events, 1) // only the DONE event
}

func TestAppendEvent_ConcurrentWritersKeepProgressMonotonic(t *testing.T) {
	s := newStore()
	id := uuid.New()
	_, err := s.Create(id)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for p := 0; p < 100; p++ {
		wg.Add(1)
		go func(progress int) {
			defer wg.Done()
			_ = s.AppendEvent(id, stageEvent(models.StageGraphBuilt, progress))
		}(p)
	}
	wg.Wait()

	j, err := s.Get(id)
	require.NoError(t, err)
	assert.Len(t, j.Events, 100)
	last := 0
	for _, ev := range j.Events {
		if ev.Progress >= last {
			last = ev.Progress
		}
	}
	assert.Equal(t, last, j.Progress, "progress must equal the running maximum of appended events")
}

// --- Complete / Fail ---

func TestComplete_SetsResultAndTerminalState(t *testing.T) {
	s := newStore()
	id := uuid.New()
	_, err := s.Create(id)
	require.NoError(t, err)
	require.NoError(t, s.AppendEvent(id, stageEvent(models.StageParsing, 10)))

	result := &models.DetectionResult{}
	require.NoError(t, s.Complete(id, result))

	j, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, j.Status)
	assert.Equal(t, 100, j.Progress)
	assert.Same(t, result, j.Result)
	assert.Nil(t, j.Error)
	require.NotNil(t, j.CompletedAt)
	last := j.Events[len(j.Events)-1]
	assert.Equal(t, models.StageDone, last.Stage)
	assert.Equal(t, 100, last.Progress)
}

func TestComplete_AlreadyTerminal(t *testing.T) {
	s := newStore()
	id := uuid.New()
	_, err := s.Create(id)
	require.NoError(t, err)
	require.NoError(t, s.Fail(id, models.JobError{Code: models.ErrCodeDetectorError, Message: "boom"}))

	err = s.Complete(id, &models.DetectionResult{})
	assert.ErrorIs(t, err, job.ErrJobTerminal)

	j, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, j.Status)
	assert.Nil(t, j.Result)
}

func TestFail_PreservesProgressInErrorEvent(t *testing.T) {
	s := newStore()
	id := uuid.New()
	_, err := s.Create(id)
	require.NoError(t, err)
	require.NoError(t, s.AppendEvent(id, stageEvent(models.StageParsing, 10)))
	require.NoError(t, s.AppendEvent(id, stageEvent(models.StageGraphBuilt, 25)))

	require.NoError(t, s.Fail(id, models.JobError{Code: models.ErrCodeTimeout, Message: "took too long"}))

	j, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, j.Status)
	assert.Equal(t, 25, j.Progress, "failure must not reset progress already shown to observers")
	require.NotNil(t, j.Error)
	assert.Equal(t, models.ErrCodeTimeout, j.Error.Code)
	assert.Nil(t, j.Result)
	require.NotNil(t, j.FailedAt)

	last := j.Events[len(j.Events)-1]
	assert.Equal(t, models.StageError, last.Stage)
	assert.Equal(t, 25, last.Progress)
}

func TestTerminal_ExactlyOneOfResultOrError(t *testing.T) {
	s := newStore()

	completed := uuid.New()
	_, err := s.Create(completed)
	require.NoError(t, err)
	require.NoError(t, s.Complete(completed, &models.DetectionResult{}))

	failed := uuid.New()
	_, err = s.Create(failed)
	require.NoError(t, err)
	require.NoError(t, s.Fail(failed, models.JobError{Code: models.ErrCodeDetectorError, Message: "x"}))

	jc, err := s.Get(completed)
	require.NoError(t, err)
	assert.NotNil(t, jc.Result)
	assert.Nil(t, jc.Error)

	jf, err := s.Get(failed)
	require.NoError(t, err)
	assert.Nil(t, jf.Result)
	assert.NotNil(t, jf.Error)
}

// --- Subscribe ---

func TestSubscribe_UnknownJob(t *testing.T) {
	s := newStore()

	_, _, err := s.Subscribe(uuid.New())
	assert.ErrorIs(t, err, job.ErrNotFound)
}

func TestSubscribe_AfterTerminalReplaysFullHistoryThenCloses(t *testing.T) {
	s := newStore()
	id := uuid.New()
	_, err := s.Create(id)
	require.NoError(t, err)
	require.NoError(t, s.AppendEvent(id, stageEvent(models.StageParsing, 10)))
	require.NoError(t, s.AppendEvent(id, stageEvent(models.StageGraphBuilt, 25)))
	require.NoError(t, s.Complete(id, &models.DetectionResult{}))

	ch, cancel, err := s.Subscribe(id)
	require.NoError(t, err)
	defer cancel()

	var got []models.ProgressEvent
	for ev := range ch { // channel must already be closed
		got = append(got, ev)
	}
	require.Len(t, got, 3)
	assert.Equal(t, models.StageParsing, got[0].Stage)
	assert.Equal(t, models.StageGraphBuilt, got[1].Stage)
	assert.Equal(t, models.StageDone, got[2].Stage)
}

func TestSubscribe_ReplayThenLiveWithoutGapsOrDuplicates(t *testing.T) {
	s := newStore()
	id := uuid.New()
	_, err := s.Create(id)
	require.NoError(t, err)
	require.NoError(t, s.AppendEvent(id, stageEvent(models.StageParsing, 10)))

	ch, cancel, err := s.Subscribe(id)
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, s.AppendEvent(id, stageEvent(models.StageGraphBuilt, 25)))
	require.NoError(t, s.Complete(id, &models.DetectionResult{}))

	var got []models.ProgressEvent
	for ev := range ch {
		got = append(got, ev)
	}
	require.Len(t, got, 3)
	assert.Equal(t, models.StageParsing, got[0].Stage)
	assert.Equal(t, models.StageGraphBuilt, got[1].Stage)
	assert.Equal(t, models.StageDone, got[2].Stage)
}

func TestSubscribe_TwoSubscribersArePrefixConsistent(t *testing.T) {
	s := newStore()
	id := uuid.New()
	_, err := s.Create(id)
	require.NoError(t, err)

	early, cancelEarly, err := s.Subscribe(id)
	require.NoError(t, err)
	defer cancelEarly()

	require.NoError(t, s.AppendEvent(id, stageEvent(models.StageParsing, 10)))
	require.NoError(t, s.AppendEvent(id, stageEvent(models.StageGraphBuilt, 25)))

	// Late subscriber attaches mid-flight and must see the same prefix.
	late, cancelLate, err := s.Subscribe(id)
	require.NoError(t, err)
	defer cancelLate()

	require.NoError(t, s.AppendEvent(id, stageEvent(models.StageCyclesDone, 50)))
	require.NoError(t, s.Complete(id, &models.DetectionResult{}))

	collect := func(ch <-chan models.ProgressEvent) []string {
		var stages []string
		for ev := range ch {
			stages = append(stages, ev.Stage)
		}
		return stages
	}

	want := []string{models.StageParsing, models.StageGraphBuilt, models.StageCyclesDone, models.StageDone}
	assert.Equal(t, want, collect(early))
	assert.Equal(t, want, collect(late))
}

func TestSubscribe_CancelDetachesWithoutStoppingTheJob(t *testing.T) {
	s := newStore()
	id := uuid.New()
	_, err := s.Create(id)
	require.NoError(t, err)

	ch, cancel, err := s.Subscribe(id)
	require.NoError(t, err)
	cancel()
	cancel() // safe to call twice

	// The job keeps running and terminates normally with nobody watching.
	require.NoError(t, s.AppendEvent(id, stageEvent(models.StageParsing, 10)))
	require.NoError(t, s.Complete(id, &models.DetectionResult{}))

	_, open := <-ch
	assert.False(t, open, "cancelled subscriber channel must be closed")

	j, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, j.Status)
}

// --- Eviction ---

func TestEvictTerminalBefore_RemovesOnlyExpiredTerminalJobs(t *testing.T) {
	s := newStore()

	done := uuid.New()
	_, err := s.Create(done)
	require.NoError(t, err)
	require.NoError(t, s.Complete(done, &models.DetectionResult{}))

	running := uuid.New()
	_, err = s.Create(running)
	require.NoError(t, err)
	require.NoError(t, s.AppendEvent(running, stageEvent(models.StageParsing, 10)))

	// Cutoff in the future: every terminal job has expired, running jobs stay.
	n := s.EvictTerminalBefore(time.Now().UTC().Add(time.Minute))
	assert.Equal(t, 1, n)

	_, err = s.Get(done)
	assert.ErrorIs(t, err, job.ErrNotFound)
	_, err = s.Get(running)
	assert.NoError(t, err)
}

func TestEvictTerminalBefore_KeepsRecentTerminalJobs(t *testing.T) {
	s := newStore()
	id := uuid.New()
	_, err := s.Create(id)
	require.NoError(t, err)
	require.NoError(t, s.Complete(id, &models.DetectionResult{}))

	n := s.EvictTerminalBefore(time.Now().UTC().Add(-time.Hour))
	assert.Equal(t, 0, n)
	assert.Equal(t, 1, s.Len())
}
