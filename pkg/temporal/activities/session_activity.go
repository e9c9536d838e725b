package activities

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"

	"dev/bravebird/flow-verify/pkg/driver"
	"dev/bravebird/flow-verify/pkg/drivers"
	"dev/bravebird/flow-verify/pkg/models"
	"dev/bravebird/flow-verify/pkg/runner"
	"dev/bravebird/flow-verify/pkg/temporal/workflows"
)

// SessionPool manages browser sessions held by this worker
type SessionPool struct {
	sessions map[string]*SessionData
	mu       sync.RWMutex
}

// SessionData holds data for a browser session
type SessionData struct {
	Driver    string
	Page      driver.Page
	CreatedAt time.Time
}

// NewSessionPool creates an empty pool
func NewSessionPool() *SessionPool {
	return &SessionPool{sessions: make(map[string]*SessionData)}
}

func (p *SessionPool) add(id string, s *SessionData) {
	p.mu.Lock()
	p.sessions[id] = s
	p.mu.Unlock()
}

func (p *SessionPool) get(id string) (*SessionData, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sessions[id]
	if !ok {
		return nil, fmt.Errorf("browser session not found: %s", id)
	}
	return s, nil
}

func (p *SessionPool) remove(id string) (*SessionData, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[id]
	delete(p.sessions, id)
	return s, ok
}

// Len returns the number of open sessions
func (p *SessionPool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

// CloseAll closes every open session, e.g. on worker shutdown
func (p *SessionPool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, s := range p.sessions {
		s.Page.Close()
		delete(p.sessions, id)
	}
}

// RunStore persists finished runs
type RunStore interface {
	RecordRun(ctx context.Context, result *models.RunResult) error
}

// DriverFactory creates a browser driver by name
type DriverFactory func(name string, opts driver.Options) (driver.Driver, error)

// Activities holds activity implementations
type Activities struct {
	Options   driver.Options
	NewDriver DriverFactory
	// Store may be nil, in which case runs are not persisted
	Store RunStore
	Pool  *SessionPool
	// TaskQueue is polled only by this worker; sessions launched here are routed to it
	TaskQueue string
}

// NewActivities creates new activities
func NewActivities(opts driver.Options, store RunStore) *Activities {
	return &Activities{
		Options:   opts,
		NewDriver: drivers.New,
		Store:     store,
		Pool:      NewSessionPool(),
	}
}

// LaunchSessionActivity launches a browser and opens a blank page
func (a *Activities) LaunchSessionActivity(ctx context.Context, input workflows.SessionInput) (workflows.Session, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Launching browser session", "driver", input.Driver, "headless", input.Headless)

	opts := a.Options
	opts.Headless = input.Headless

	d, err := a.NewDriver(input.Driver, opts)
	if err != nil {
		return workflows.Session{}, temporal.NewNonRetryableApplicationError(err.Error(), "UnknownDriverError", nil)
	}

	page, err := d.Open(ctx)
	if err != nil {
		return workflows.Session{}, fmt.Errorf("failed to launch %s browser: %w", d.Name(), err)
	}

	sessionID := uuid.New().String()
	a.Pool.add(sessionID, &SessionData{
		Driver:    d.Name(),
		Page:      page,
		CreatedAt: time.Now(),
	})

	logger.Info("Browser session created", "sessionID", sessionID)
	return workflows.Session{SessionID: sessionID, Driver: d.Name(), TaskQueue: a.TaskQueue}, nil
}

// ExecuteStepActivity performs one scenario step on the session page
func (a *Activities) ExecuteStepActivity(ctx context.Context, input workflows.StepInput) (models.StepResult, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Executing step", "index", input.Index, "action", input.Step.Action)

	result := models.StepResult{
		ID:     uuid.New().String(),
		RunID:  input.RunID,
		Index:  input.Index,
		Name:   input.Step.Name,
		Action: input.Step.Action,
		Status: models.StatusRunning,
	}

	session, err := a.Pool.get(input.SessionID)
	if err != nil {
		return result, temporal.NewNonRetryableApplicationError(err.Error(), "SessionNotFoundError", nil)
	}

	// The timeout was resolved by the workflow; scenario defaults do not apply here
	s := models.Scenario{BaseURL: input.BaseURL, Timeout: input.Timeout}
	step := input.Step
	step.Timeout = input.Timeout

	startTime := time.Now()
	err = runner.Execute(ctx, session.Page, s, step)
	executedAt := time.Now()
	result.ExecutedAt = &executedAt
	result.Duration = executedAt.Sub(startTime).Milliseconds()

	if err != nil {
		logger.Warn("Step failed", "index", input.Index, "error", err)
		return result, temporal.NewNonRetryableApplicationError(err.Error(), errorType(err), nil)
	}

	result.Status = models.StatusSuccess
	if step.Action == models.StepScreenshot {
		result.ScreenshotPath = step.Path
	}

	activity.RecordHeartbeat(ctx, fmt.Sprintf("Completed step %d", input.Index))
	return result, nil
}

// ScreenshotActivity captures the session page to input.Path
func (a *Activities) ScreenshotActivity(ctx context.Context, input workflows.ScreenshotInput) (string, error) {
	logger := activity.GetLogger(ctx)
	logger.Info("Taking screenshot", "sessionID", input.SessionID, "path", input.Path)

	session, err := a.Pool.get(input.SessionID)
	if err != nil {
		return "", err
	}

	if err := session.Page.Screenshot(ctx, input.Path); err != nil {
		return "", fmt.Errorf("failed to take screenshot: %w", err)
	}
	return input.Path, nil
}

// CloseSessionActivity closes a browser session
func (a *Activities) CloseSessionActivity(ctx context.Context, sessionID string) error {
	logger := activity.GetLogger(ctx)
	logger.Info("Closing browser session", "sessionID", sessionID)

	session, ok := a.Pool.remove(sessionID)
	if !ok {
		return nil // Already closed
	}
	if err := session.Page.Close(); err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}

// RecordRunActivity stores the final result of a run
func (a *Activities) RecordRunActivity(ctx context.Context, result models.RunResult) error {
	if a.Store == nil {
		return nil
	}
	activity.GetLogger(ctx).Info("Recording run", "runID", result.RunID, "status", result.Status)

	if err := a.Store.RecordRun(ctx, &result); err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// errorType names the failure class of a step error
func errorType(err error) string {
	switch {
	case errors.Is(err, driver.ErrTimeout):
		return "TimeoutError"
	case errors.Is(err, driver.ErrStrictMode):
		return "StrictModeError"
	case errors.Is(err, driver.ErrNavigation):
		return "NavigationError"
	}
	return "StepError"
}
