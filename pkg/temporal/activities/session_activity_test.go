package activities

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"

	"dev/bravebird/flow-verify/pkg/driver"
	"dev/bravebird/flow-verify/pkg/models"
	"dev/bravebird/flow-verify/pkg/temporal/workflows"
)

type stubPage struct {
	clickErr error
	clicked  []models.Locator
	timeouts []time.Duration
	closed   bool
}

func (p *stubPage) Navigate(ctx context.Context, url string) error { return nil }
func (p *stubPage) WaitVisible(ctx context.Context, loc models.Locator, timeout time.Duration) error {
	return nil
}
func (p *stubPage) WaitHidden(ctx context.Context, loc models.Locator, timeout time.Duration) error {
	return nil
}
func (p *stubPage) Click(ctx context.Context, loc models.Locator, timeout time.Duration) error {
	p.clicked = append(p.clicked, loc)
	p.timeouts = append(p.timeouts, timeout)
	return p.clickErr
}
func (p *stubPage) Screenshot(ctx context.Context, path string) error { return nil }
func (p *stubPage) Close() error {
	p.closed = true
	return nil
}

type stubDriver struct{ page *stubPage }

func (d stubDriver) Name() string                                  { return "stub" }
func (d stubDriver) Open(ctx context.Context) (driver.Page, error) { return d.page, nil }

func newActivities(page *stubPage) *Activities {
	a := NewActivities(driver.DefaultOptions(), nil)
	a.NewDriver = func(name string, opts driver.Options) (driver.Driver, error) {
		return stubDriver{page: page}, nil
	}
	return a
}

func TestSessionLifecycle(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()

	page := &stubPage{}
	a := newActivities(page)
	a.TaskQueue = "flow-verification@worker-1"
	env.RegisterActivity(a)

	val, err := env.ExecuteActivity(a.LaunchSessionActivity, workflows.SessionInput{Driver: "stub", Headless: true})
	require.NoError(t, err)
	var session workflows.Session
	require.NoError(t, val.Get(&session))
	assert.NotEmpty(t, session.SessionID)
	assert.Equal(t, "stub", session.Driver)
	assert.Equal(t, "flow-verification@worker-1", session.TaskQueue)
	assert.Equal(t, 1, a.Pool.Len())

	closeBtn := models.ByTooltip("Close Flow")
	val, err = env.ExecuteActivity(a.ExecuteStepActivity, workflows.StepInput{
		SessionID: session.SessionID,
		RunID:     "run-1",
		Index:     8,
		BaseURL:   "http://localhost:3000",
		Timeout:   2 * time.Second,
		Step:      models.Step{Name: "Close", Action: models.StepClick, Target: &closeBtn},
	})
	require.NoError(t, err)
	var sr models.StepResult
	require.NoError(t, val.Get(&sr))
	assert.Equal(t, models.StatusSuccess, sr.Status)
	assert.Equal(t, 8, sr.Index)
	assert.Equal(t, []time.Duration{2 * time.Second}, page.timeouts)

	_, err = env.ExecuteActivity(a.CloseSessionActivity, session.SessionID)
	require.NoError(t, err)
	assert.True(t, page.closed)
	assert.Zero(t, a.Pool.Len())

	// Closing twice is a no-op
	_, err = env.ExecuteActivity(a.CloseSessionActivity, session.SessionID)
	assert.NoError(t, err)
}

func TestExecuteStepUnknownSession(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	a := newActivities(&stubPage{})
	env.RegisterActivity(a)

	_, err := env.ExecuteActivity(a.ExecuteStepActivity, workflows.StepInput{
		SessionID: "missing",
		Step:      models.Step{Name: "Open", Action: models.StepNavigate},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "browser session not found")
}

func TestExecuteStepFailure(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()
	page := &stubPage{clickErr: &driver.StrictModeError{Locator: `getByTooltip("Close Flow")`, Count: 2}}
	a := newActivities(page)
	env.RegisterActivity(a)
	a.Pool.add("s1", &SessionData{Driver: "stub", Page: page, CreatedAt: time.Now()})

	closeBtn := models.ByTooltip("Close Flow")
	_, err := env.ExecuteActivity(a.ExecuteStepActivity, workflows.StepInput{
		SessionID: "s1",
		Index:     8,
		Timeout:   time.Second,
		Step:      models.Step{Name: "Close", Action: models.StepClick, Target: &closeBtn},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strict mode violation")
	assert.Contains(t, err.Error(), "StrictModeError")
}

func TestErrorType(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: &driver.TimeoutError{Timeout: time.Second}, want: "TimeoutError"},
		{err: fmt.Errorf("wrapped: %w", &driver.StrictModeError{Count: 3}), want: "StrictModeError"},
		{err: &driver.NavigationError{URL: "http://localhost:3000", Err: errors.New("refused")}, want: "NavigationError"},
		{err: errors.New("other"), want: "StepError"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, errorType(tt.err))
		})
	}
}

type recordingStore struct{ got *models.RunResult }

func (s *recordingStore) RecordRun(ctx context.Context, result *models.RunResult) error {
	s.got = result
	return nil
}

func TestRecordRunActivity(t *testing.T) {
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestActivityEnvironment()

	store := &recordingStore{}
	a := NewActivities(driver.DefaultOptions(), store)
	env.RegisterActivity(a)

	_, err := env.ExecuteActivity(a.RecordRunActivity, models.RunResult{RunID: "run-1", Status: models.StatusSuccess})
	require.NoError(t, err)
	require.NotNil(t, store.got)
	assert.Equal(t, "run-1", store.got.RunID)

	// Without a store the activity is a no-op
	a.Store = nil
	_, err = env.ExecuteActivity(a.RecordRunActivity, models.RunResult{RunID: "run-2"})
	assert.NoError(t, err)
}
