package api

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/mocks"

	"dev/bravebird/flow-verify/pkg/driver"
	"dev/bravebird/flow-verify/pkg/models"
	"dev/bravebird/flow-verify/pkg/scenario"
	"dev/bravebird/flow-verify/pkg/temporal/workflows"
)

// blockingPage passes every step; a non-nil gate makes navigation wait for it or for cancellation
type blockingPage struct {
	gate   chan struct{}
	mu     sync.Mutex
	closed bool
}

func (p *blockingPage) Navigate(ctx context.Context, url string) error {
	if p.gate == nil {
		return nil
	}
	select {
	case <-p.gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
func (p *blockingPage) WaitVisible(ctx context.Context, loc models.Locator, timeout time.Duration) error {
	return nil
}
func (p *blockingPage) WaitHidden(ctx context.Context, loc models.Locator, timeout time.Duration) error {
	return nil
}
func (p *blockingPage) Click(ctx context.Context, loc models.Locator, timeout time.Duration) error {
	return nil
}
func (p *blockingPage) Screenshot(ctx context.Context, path string) error { return nil }
func (p *blockingPage) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

type pageDriver struct{ page *blockingPage }

func (d pageDriver) Name() string                                  { return "stub" }
func (d pageDriver) Open(ctx context.Context) (driver.Page, error) { return d.page, nil }

type capturingRecorder struct {
	mu      sync.Mutex
	results []models.RunResult
}

func (r *capturingRecorder) RecordRun(ctx context.Context, result *models.RunResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, *result)
	return nil
}

func newLocal(page *blockingPage, rec Recorder) *LocalExecutor {
	e := NewLocalExecutor(driver.DefaultOptions(), rec, nil)
	e.NewDriver = func(name string, opts driver.Options) (driver.Driver, error) {
		return pageDriver{page: page}, nil
	}
	return e
}

func localInput(runID string) models.VerificationInput {
	return models.VerificationInput{
		RunID:    runID,
		Scenario: scenario.FlowRunnerModalScenario("http://localhost:3000", "shots/verification.png"),
		Driver:   "stub",
	}
}

func TestLocalExecutorRunsScenario(t *testing.T) {
	page := &blockingPage{}
	rec := &capturingRecorder{}
	e := newLocal(page, rec)

	exec, err := e.Start(context.Background(), localInput("run-1"))
	require.NoError(t, err)
	assert.Equal(t, "local-run-1", exec.WorkflowID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Wait(ctx, "run-1"))

	progress, err := e.Progress(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusSuccess, progress.Status)
	assert.Equal(t, "run-1", progress.RunID)
	assert.Len(t, progress.StepResults, 9)
	assert.True(t, page.closed)

	require.Len(t, rec.results, 1)
	assert.Equal(t, models.StatusSuccess, rec.results[0].Status)
}

func TestLocalExecutorCancel(t *testing.T) {
	page := &blockingPage{gate: make(chan struct{})}
	rec := &capturingRecorder{}
	e := newLocal(page, rec)

	_, err := e.Start(context.Background(), localInput("run-1"))
	require.NoError(t, err)
	require.NoError(t, e.Cancel(context.Background(), "run-1"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Wait(ctx, "run-1"))

	progress, err := e.Progress(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCanceled, progress.Status)
	require.Len(t, rec.results, 1)
	assert.Equal(t, models.StatusCanceled, rec.results[0].Status)
}

func TestLocalExecutorUnknownRun(t *testing.T) {
	e := newLocal(&blockingPage{}, nil)

	_, err := e.Progress(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
	assert.ErrorIs(t, e.Cancel(context.Background(), "nope"), ErrRunNotFound)
}

func TestLocalExecutorDriverError(t *testing.T) {
	e := NewLocalExecutor(driver.DefaultOptions(), nil, nil)

	in := localInput("run-1")
	in.Driver = "netscape"
	_, err := e.Start(context.Background(), in)
	assert.ErrorIs(t, err, driver.ErrUnknownDriver)
}

func TestTemporalExecutor(t *testing.T) {
	c := &mocks.Client{}
	run := &mocks.WorkflowRun{}
	run.On("GetID").Return("verification-run-1")
	run.On("GetRunID").Return("abc")

	c.On("ExecuteWorkflow", mock.Anything,
		mock.MatchedBy(func(o client.StartWorkflowOptions) bool {
			return o.ID == "verification-run-1" && o.TaskQueue == workflows.TaskQueue
		}),
		mock.Anything, mock.Anything).Return(run, nil)
	c.On("CancelWorkflow", mock.Anything, "verification-run-1", "").Return(nil)

	e := NewTemporalExecutor(c)

	exec, err := e.Start(context.Background(), localInput("run-1"))
	require.NoError(t, err)
	assert.Equal(t, Execution{WorkflowID: "verification-run-1", RunID: "abc"}, exec)

	require.NoError(t, e.Cancel(context.Background(), "run-1"))
	c.AssertExpectations(t)
}

func TestTemporalExecutorStartError(t *testing.T) {
	c := &mocks.Client{}
	c.On("ExecuteWorkflow", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection refused"))

	_, err := NewTemporalExecutor(c).Start(context.Background(), localInput("run-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start workflow")
}
