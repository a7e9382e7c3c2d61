// Package runner drives a single run: it submits the goal to the backend and,
// alongside, steps a fixed agent timeline for user feedback. The timeline is
// cosmetic and says nothing about the backend's real progress. Both are
// always awaited before the result is produced, so the whole pipeline is
// shown even when the backend answers early.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/intellixa/console/internal/backend"
	"github.com/intellixa/console/internal/models"
	"github.com/intellixa/console/internal/normalize"
)

const (
	DefaultDwell = 1500 * time.Millisecond

	MockNote    = "Backend unavailable - showing mock data"
	mockMessage = "Mock execution - backend not connected"
)

var (
	ErrEmptyGoal = errors.New("goal must not be empty")
	ErrRunActive = errors.New("a run is already in progress")
)

// Submitter sends a goal to the backend.
type Submitter interface {
	Run(ctx context.Context, goal, email string) (map[string]any, error)
}

// HistoryWriter records completed sessions.
type HistoryWriter interface {
	Append(entry models.HistoryEntry)
}

// Observer is told about every stage change. It receives the six pipeline
// stages in order, then the zero Stage once the run is over.
type Observer func(stage models.Stage)

type Options struct {
	// Dwell is how long each stage stays active. Zero means DefaultDwell;
	// a negative value disables waiting.
	Dwell    time.Duration
	Email    string
	Observer Observer
	Logger   *slog.Logger
}

// ViewState is a consistent snapshot for the presentation layer.
type ViewState struct {
	Running      bool
	CurrentAgent models.Stage
	Result       *models.RunResult
	Err          error
	Banner       string
}

type Controller struct {
	submitter Submitter
	history   HistoryWriter
	dwell     time.Duration
	email     string
	observer  Observer
	logger    *slog.Logger
	now       func() time.Time

	mu      sync.Mutex
	running bool
	current models.Stage
	result  *models.RunResult
	err     error
	banner  string
}

func New(submitter Submitter, history HistoryWriter, opts Options) *Controller {
	dwell := opts.Dwell
	switch {
	case dwell == 0:
		dwell = DefaultDwell
	case dwell < 0:
		dwell = 0
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Controller{
		submitter: submitter,
		history:   history,
		dwell:     dwell,
		email:     opts.Email,
		observer:  opts.Observer,
		logger:    logger,
		now:       time.Now,
	}
}

// State returns the current view-state.
func (c *Controller) State() ViewState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ViewState{
		Running:      c.running,
		CurrentAgent: c.current,
		Result:       c.result,
		Err:          c.err,
		Banner:       c.banner,
	}
}

// StartRun submits goal and blocks until both the backend call and the
// stage timeline have finished.
//
// A backend that cannot be reached yields a mock result and a nil error. Any
// other backend failure is returned as an error and produces no result.
func (c *Controller) StartRun(ctx context.Context, goal string) (*models.RunResult, error) {
	goal = strings.TrimSpace(goal)
	if goal == "" {
		return nil, ErrEmptyGoal
	}
	if err := c.begin(); err != nil {
		return nil, err
	}
	defer c.finish()

	c.logger.Info("run started", "goal", goal)

	var payload map[string]any
	var g errgroup.Group
	g.Go(func() error {
		var err error
		payload, err = c.submitter.Run(ctx, goal, c.email)
		return err
	})
	g.Go(func() error {
		return c.playTimeline(ctx)
	})
	err := g.Wait()

	switch {
	case err == nil:
		return c.complete(goal, payload), nil
	case backend.IsConnectivity(err):
		return c.completeMock(goal, err), nil
	default:
		c.fail(err)
		return nil, err
	}
}

func (c *Controller) begin() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return ErrRunActive
	}
	c.running = true
	c.result = nil
	c.err = nil
	c.banner = ""
	return nil
}

func (c *Controller) finish() {
	c.mu.Lock()
	c.running = false
	c.current = ""
	c.mu.Unlock()

	c.notify("")
}

func (c *Controller) playTimeline(ctx context.Context) error {
	for _, stage := range models.Pipeline {
		c.setStage(stage)
		if err := c.wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) wait(ctx context.Context) error {
	if c.dwell <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(c.dwell)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) setStage(stage models.Stage) {
	c.mu.Lock()
	c.current = stage
	c.mu.Unlock()

	c.logger.Debug("stage", "agent", stage)
	c.notify(stage)
}

func (c *Controller) notify(stage models.Stage) {
	if c.observer != nil {
		c.observer(stage)
	}
}

func (c *Controller) complete(goal string, payload map[string]any) *models.RunResult {
	now := c.now()
	result := &models.RunResult{
		Status:         models.RunStatusCompleted,
		Goal:           goal,
		AgentsExecuted: models.PipelineNames(),
		Timestamp:      now,
		Data:           payload,
		Metrics:        normalize.Metrics(payload),
	}

	if sessionID, ok := normalize.SessionID(payload); ok && c.history != nil {
		c.history.Append(models.HistoryEntry{
			SessionID: sessionID,
			Goal:      goal,
			Timestamp: now,
		})
	}

	c.mu.Lock()
	c.result = result
	c.mu.Unlock()

	c.logger.Info("run completed", "api_calls", result.Metrics.APICalls, "session_id", payload["session_id"])
	return result
}

func (c *Controller) completeMock(goal string, cause error) *models.RunResult {
	result := &models.RunResult{
		Status:         models.RunStatusMock,
		Goal:           goal,
		AgentsExecuted: models.PipelineNames(),
		Timestamp:      c.now(),
		Data: map[string]any{
			"message":         mockMessage,
			"api_calls_count": normalize.DefaultAPICalls,
		},
		Note:    MockNote,
		Metrics: normalize.MockMetrics(),
	}

	c.mu.Lock()
	c.result = result
	c.banner = MockNote
	c.mu.Unlock()

	c.logger.Warn("backend unreachable, using mock result", "error", cause)
	return result
}

func (c *Controller) fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()

	c.logger.Error("run failed", "error", err)
}
