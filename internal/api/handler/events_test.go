package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ringsight/ringsight/internal/api/handler"
	"github.com/ringsight/ringsight/internal/job"
	"github.com/ringsight/ringsight/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventsRouter(h http.HandlerFunc) http.Handler {
	r := chi.NewRouter()
	r.Get("/api/v1/detect/{jobID}/events", h)
	return r
}

func stageEv(stage string, progress int) models.ProgressEvent {
	return models.ProgressEvent{
		Type:      models.EventTypeFor(stage),
		Stage:     stage,
		Progress:  progress,
		Timestamp: time.Now().UTC(),
	}
}

// sseStages extracts the stage of every data frame in an SSE body.
func sseStages(t *testing.T, body string) []string {
	t.Helper()
	var stages []string
	for _, frame := range strings.Split(body, "\n\n") {
		frame = strings.TrimSpace(frame)
		if !strings.HasPrefix(frame, "data: ") {
			continue
		}
		var ev models.ProgressEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frame, "data: ")), &ev))
		stages = append(stages, ev.Stage)
	}
	return stages
}

func TestEventsHandler_ReplaysTerminalJobHistory(t *testing.T) {
	hub := job.NewBroadcaster()
	store := job.NewStore(hub)
	id := uuid.New()
	_, err := store.Create(id)
	require.NoError(t, err)
	require.NoError(t, store.AppendEvent(id, stageEv(models.StageParsing, 10)))
	require.NoError(t, store.AppendEvent(id, stageEv(models.StageGraphBuilt, 25)))
	require.NoError(t, store.Complete(id, &models.DetectionResult{}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/detect/"+id.String()+"/events", nil)
	rec := httptest.NewRecorder()
	eventsRouter(handler.NewEventsHandler(store)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, []string{
		models.StageParsing, models.StageGraphBuilt, models.StageDone,
	}, sseStages(t, rec.Body.String()))
}

func TestEventsHandler_StreamsLiveEventsUntilTerminal(t *testing.T) {
	hub := job.NewBroadcaster()
	store := job.NewStore(hub)
	id := uuid.New()
	_, err := store.Create(id)
	require.NoError(t, err)
	require.NoError(t, store.AppendEvent(id, stageEv(models.StageParsing, 10)))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/detect/"+id.String()+"/events", nil)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		eventsRouter(handler.NewEventsHandler(store)).ServeHTTP(rec, req)
	}()

	require.Eventually(t, func() bool {
		return hub.SubscriberCount(id) == 1
	}, time.Second, 5*time.Millisecond, "stream never attached")

	require.NoError(t, store.AppendEvent(id, stageEv(models.StageGraphBuilt, 25)))
	require.NoError(t, store.Complete(id, &models.DetectionResult{}))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not close after the terminal event")
	}

	assert.Equal(t, []string{
		models.StageParsing, models.StageGraphBuilt, models.StageDone,
	}, sseStages(t, rec.Body.String()))
}

func TestEventsHandler_ClientDisconnectDetachesStream(t *testing.T) {
	hub := job.NewBroadcaster()
	store := job.NewStore(hub)
	id := uuid.New()
	_, err := store.Create(id)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/detect/"+id.String()+"/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		defer close(done)
		eventsRouter(handler.NewEventsHandler(store)).ServeHTTP(rec, req)
	}()

	require.Eventually(t, func() bool {
		return hub.SubscriberCount(id) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after client disconnect")
	}

	assert.Eventually(t, func() bool {
		return hub.SubscriberCount(id) == 0
	}, time.Second, 5*time.Millisecond, "subscriber not detached")

	// The job keeps running regardless of the disconnect.
	require.NoError(t, store.AppendEvent(id, stageEv(models.StageParsing, 10)))
}

func TestEventsHandler_UnknownJob(t *testing.T) {
	store := job.NewStore(job.NewBroadcaster())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/detect/"+uuid.NewString()+"/events", nil)
	rec := httptest.NewRecorder()
	eventsRouter(handler.NewEventsHandler(store)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "JOB_NOT_FOUND", decodeErrorCode(t, rec))
}

func TestEventsHandler_MalformedJobID(t *testing.T) {
	store := job.NewStore(job.NewBroadcaster())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/detect/not-a-uuid/events", nil)
	rec := httptest.NewRecorder()
	eventsRouter(handler.NewEventsHandler(store)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_JOB_ID", decodeErrorCode(t, rec))
}
