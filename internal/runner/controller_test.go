package runner

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intellixa/console/internal/backend"
	"github.com/intellixa/console/internal/history"
	"github.com/intellixa/console/internal/models"
	"github.com/intellixa/console/internal/storage"
)

const unit = 10 * time.Millisecond

type fakeSubmitter struct {
	delay   time.Duration
	payload map[string]any
	err     error
	release chan struct{}

	mu    sync.Mutex
	goals []string
	email string
}

func (f *fakeSubmitter) Run(ctx context.Context, goal, email string) (map[string]any, error) {
	f.mu.Lock()
	f.goals = append(f.goals, goal)
	f.email = email
	f.mu.Unlock()

	if f.release != nil {
		<-f.release
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.payload, f.err
}

type stageRecorder struct {
	mu     sync.Mutex
	stages []models.Stage
}

func (r *stageRecorder) observe(s models.Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, s)
}

func (r *stageRecorder) all() []models.Stage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Stage(nil), r.stages...)
}

func newTestController(sub Submitter, dwell time.Duration) (*Controller, *history.Store, *stageRecorder) {
	store := history.New(storage.NewMemoryKV(), nil)
	rec := &stageRecorder{}
	c := New(sub, store, Options{Dwell: dwell, Observer: rec.observe})
	return c, store, rec
}

func wantStages() []models.Stage {
	return append(append([]models.Stage(nil), models.Pipeline...), "")
}

func TestStartRunScenario(t *testing.T) {
	dwell := 3 * unit / 2
	sub := &fakeSubmitter{
		delay: 9 * unit,
		payload: map[string]any{
			"session_id": "s1",
			"handoff":    map[string]any{"research": map[string]any{}, "developer": map[string]any{}},
		},
	}
	c, store, rec := newTestController(sub, dwell)

	result, err := c.StartRun(context.Background(), "Write a report")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, models.RunStatusCompleted, result.Status)
	assert.Equal(t, "Write a report", result.Goal)
	assert.Equal(t, []string{"CEO", "Research", "Developer", "Writer", "Confidence", "Reviewer"}, result.AgentsExecuted)
	assert.Equal(t, 3, result.Metrics.APICalls)
	assert.Equal(t, 6, result.Metrics.TotalTasks)
	assert.Empty(t, result.Note)

	assert.Equal(t, wantStages(), rec.all())

	entries := store.List()
	require.Len(t, entries, 1)
	assert.Equal(t, "s1", entries[0].SessionID)
	assert.Equal(t, "Write a report", entries[0].Goal)
	assert.True(t, result.Timestamp.Equal(entries[0].Timestamp))
}

func TestStartRunWaitsForTimelineWhenBackendIsFast(t *testing.T) {
	dwell := 2 * unit
	sub := &fakeSubmitter{payload: map[string]any{"session_id": "fast"}}
	c, _, rec := newTestController(sub, dwell)

	start := time.Now()
	_, err := c.StartRun(context.Background(), "quick")
	require.NoError(t, err)

	assert.GreaterOrEqual(t, time.Since(start), time.Duration(len(models.Pipeline))*dwell)
	assert.Equal(t, wantStages(), rec.all())
}

func TestStartRunSessionRecorded(t *testing.T) {
	sub := &fakeSubmitter{payload: map[string]any{"session_id": "abc123", "result": "ok"}}
	c, store, _ := newTestController(sub, -1)

	store.Append(models.HistoryEntry{SessionID: "older", Goal: "before"})

	_, err := c.StartRun(context.Background(), "  Plan a launch  ")
	require.NoError(t, err)

	entries := store.List()
	require.Len(t, entries, 2)
	assert.Equal(t, "abc123", entries[0].SessionID)
	assert.Equal(t, "Plan a launch", entries[0].Goal)
	assert.Equal(t, "older", entries[1].SessionID)
	assert.Equal(t, []string{"Plan a launch"}, sub.goals)
}

func TestStartRunWithoutSessionID(t *testing.T) {
	sub := &fakeSubmitter{payload: map[string]any{"message": "done"}}
	c, store, _ := newTestController(sub, -1)

	result, err := c.StartRun(context.Background(), "goal")
	require.NoError(t, err)
	assert.Equal(t, 12, result.Metrics.APICalls)
	assert.Empty(t, store.List())
}

func TestStartRunConnectivityFallback(t *testing.T) {
	sub := &fakeSubmitter{err: &backend.ConnectivityError{Op: "run", Err: errors.New("connection refused")}}
	c, store, rec := newTestController(sub, -1)

	result, err := c.StartRun(context.Background(), "goal")
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, models.RunStatusMock, result.Status)
	assert.True(t, result.IsMock())
	assert.Equal(t, 12, result.Metrics.APICalls)
	assert.Equal(t, MockNote, result.Note)
	assert.Equal(t, "Mock execution - backend not connected", result.Data["message"])
	assert.Equal(t, models.PipelineNames(), result.AgentsExecuted)
	assert.Empty(t, store.List())
	assert.Equal(t, wantStages(), rec.all())

	state := c.State()
	assert.False(t, state.Running)
	assert.Equal(t, MockNote, state.Banner)
	assert.NoError(t, state.Err)
	assert.Same(t, result, state.Result)
}

func TestStartRunApplicationError(t *testing.T) {
	apiErr := &backend.APIError{StatusCode: http.StatusBadRequest, Message: "'goal' is required"}
	sub := &fakeSubmitter{err: apiErr}
	c, store, rec := newTestController(sub, -1)

	result, err := c.StartRun(context.Background(), "goal")
	assert.Nil(t, result)
	require.Error(t, err)
	assert.Equal(t, "'goal' is required", err.Error())
	assert.Empty(t, store.List())
	assert.Equal(t, wantStages(), rec.all())

	state := c.State()
	assert.False(t, state.Running)
	assert.Empty(t, state.CurrentAgent)
	assert.Nil(t, state.Result)
	assert.Equal(t, apiErr, state.Err)
}

func TestStartRunEmptyGoal(t *testing.T) {
	sub := &fakeSubmitter{}
	c, _, rec := newTestController(sub, -1)

	_, err := c.StartRun(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyGoal)
	assert.Empty(t, sub.goals)
	assert.Empty(t, rec.all())
	assert.False(t, c.State().Running)
}

func TestStartRunRejectsConcurrentRun(t *testing.T) {
	sub := &fakeSubmitter{release: make(chan struct{}), payload: map[string]any{}}
	c, _, _ := newTestController(sub, -1)

	done := make(chan error, 1)
	go func() {
		_, err := c.StartRun(context.Background(), "first")
		done <- err
	}()

	require.Eventually(t, func() bool { return c.State().Running }, time.Second, unit)

	_, err := c.StartRun(context.Background(), "second")
	assert.ErrorIs(t, err, ErrRunActive)

	close(sub.release)
	require.NoError(t, <-done)

	state := c.State()
	assert.False(t, state.Running)
	assert.Empty(t, state.CurrentAgent)
	assert.Equal(t, []string{"first"}, sub.goals)
}

func TestStateShowsCurrentStage(t *testing.T) {
	sub := &fakeSubmitter{payload: map[string]any{}}
	c, _, _ := newTestController(sub, 5*unit)

	go func() { _, _ = c.StartRun(context.Background(), "g") }()

	require.Eventually(t, func() bool {
		s := c.State()
		return s.Running && s.CurrentAgent != ""
	}, time.Second, unit)
	require.Eventually(t, func() bool { return !c.State().Running }, 2*time.Second, unit)
	assert.Empty(t, c.State().CurrentAgent)
}

func TestStartRunPassesEmail(t *testing.T) {
	sub := &fakeSubmitter{payload: map[string]any{}}
	c := New(sub, nil, Options{Dwell: -1, Email: "me@example.com"})

	_, err := c.StartRun(context.Background(), "g")
	require.NoError(t, err)
	assert.Equal(t, "me@example.com", sub.email)
}

func TestStartRunCanceledContext(t *testing.T) {
	sub := &fakeSubmitter{err: context.Canceled}
	c, store, _ := newTestController(sub, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := c.StartRun(ctx, "g")
	assert.Nil(t, result)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.List())
	assert.False(t, c.State().Running)
}
