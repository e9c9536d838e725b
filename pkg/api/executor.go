package api

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"go.temporal.io/sdk/client"

	"dev/bravebird/flow-verify/pkg/driver"
	"dev/bravebird/flow-verify/pkg/drivers"
	"dev/bravebird/flow-verify/pkg/models"
	"dev/bravebird/flow-verify/pkg/runner"
	"dev/bravebird/flow-verify/pkg/temporal/workflows"
)

// ErrRunNotFound is returned by executors for runs they do not know
var ErrRunNotFound = errors.New("run not found")

// Execution identifies a dispatched run
type Execution struct {
	WorkflowID string `json:"temporal_workflow_id,omitempty"`
	RunID      string `json:"temporal_run_id,omitempty"`
}

// Executor dispatches verification runs
type Executor interface {
	Start(ctx context.Context, input models.VerificationInput) (Execution, error)
	// Progress returns the partial result of an active or finished run
	Progress(ctx context.Context, runID string) (*models.RunResult, error)
	Cancel(ctx context.Context, runID string) error
}

// ==================== Temporal ====================

// TemporalExecutor runs scenarios as VerificationWorkflow executions
type TemporalExecutor struct {
	client client.Client
}

// NewTemporalExecutor creates an executor backed by a Temporal client
func NewTemporalExecutor(c client.Client) *TemporalExecutor {
	return &TemporalExecutor{client: c}
}

// WorkflowID returns the Temporal workflow ID of a run
func WorkflowID(runID string) string {
	return fmt.Sprintf("verification-%s", runID)
}

// Start starts the workflow for input.RunID
func (e *TemporalExecutor) Start(ctx context.Context, input models.VerificationInput) (Execution, error) {
	workflowOptions := client.StartWorkflowOptions{
		ID:        WorkflowID(input.RunID),
		TaskQueue: workflows.TaskQueue,
	}

	we, err := e.client.ExecuteWorkflow(ctx, workflowOptions, workflows.VerificationWorkflow, input)
	if err != nil {
		return Execution{}, fmt.Errorf("failed to start workflow: %w", err)
	}
	return Execution{WorkflowID: we.GetID(), RunID: we.GetRunID()}, nil
}

// Progress queries the running workflow
func (e *TemporalExecutor) Progress(ctx context.Context, runID string) (*models.RunResult, error) {
	resp, err := e.client.QueryWorkflow(ctx, WorkflowID(runID), "", workflows.ProgressQuery)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow: %w", err)
	}
	var result models.RunResult
	if err := resp.Get(&result); err != nil {
		return nil, fmt.Errorf("failed to decode progress: %w", err)
	}
	return &result, nil
}

// Cancel requests cancellation; the workflow still closes the browser and records the run
func (e *TemporalExecutor) Cancel(ctx context.Context, runID string) error {
	if err := e.client.CancelWorkflow(ctx, WorkflowID(runID), ""); err != nil {
		return fmt.Errorf("failed to cancel workflow: %w", err)
	}
	return nil
}

// ==================== In-process ====================

// Recorder persists finished runs
type Recorder interface {
	RecordRun(ctx context.Context, result *models.RunResult) error
}

// LocalExecutor runs scenarios in the API process, one goroutine per run
type LocalExecutor struct {
	NewDriver func(name string, opts driver.Options) (driver.Driver, error)

	opts     driver.Options
	recorder Recorder
	log      *logrus.Entry

	mu   sync.Mutex
	runs map[string]*localRun
}

type localRun struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	result models.RunResult
}

// NewLocalExecutor creates an in-process executor. recorder may be nil.
func NewLocalExecutor(opts driver.Options, recorder Recorder, log *logrus.Entry) *LocalExecutor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &LocalExecutor{
		NewDriver: drivers.New,
		opts:      opts,
		recorder:  recorder,
		log:       log,
		runs:      make(map[string]*localRun),
	}
}

// Start launches the run in the background
func (e *LocalExecutor) Start(ctx context.Context, input models.VerificationInput) (Execution, error) {
	opts := e.opts
	opts.Headless = input.Headless
	d, err := e.NewDriver(input.Driver, opts)
	if err != nil {
		return Execution{}, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	lr := &localRun{
		cancel: cancel,
		done:   make(chan struct{}),
		result: models.RunResult{
			RunID:    input.RunID,
			Scenario: input.Scenario.Name,
			Status:   models.StatusRunning,
		},
	}

	e.mu.Lock()
	e.runs[input.RunID] = lr
	e.mu.Unlock()

	log := e.log.WithField("run_id", input.RunID)
	r := runner.New(d,
		runner.WithRunID(input.RunID),
		runner.WithLogger(log),
		runner.WithFailureScreenshots(input.FailureScreenshotDir),
		runner.WithObserver(func(sr models.StepResult) {
			lr.mu.Lock()
			lr.result.StepResults = append(lr.result.StepResults, sr)
			lr.mu.Unlock()
		}),
	)

	go func() {
		defer close(lr.done)
		defer cancel()

		res, err := r.Run(runCtx, input.Scenario)

		lr.mu.Lock()
		if res != nil {
			lr.result = *res
		} else {
			lr.result.Status = models.StatusFailed
			lr.result.ErrorMessage = err.Error()
		}
		if runCtx.Err() != nil && lr.result.Status != models.StatusSuccess {
			lr.result.Status = models.StatusCanceled
		}
		final := lr.result
		lr.mu.Unlock()

		if e.recorder != nil {
			if err := e.recorder.RecordRun(context.Background(), &final); err != nil {
				log.WithError(err).Warn("Failed to record run")
			}
		}
	}()

	return Execution{WorkflowID: "local-" + input.RunID}, nil
}

func (e *LocalExecutor) lookup(runID string) (*localRun, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	lr, ok := e.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return lr, nil
}

// Progress returns a snapshot of the run
func (e *LocalExecutor) Progress(ctx context.Context, runID string) (*models.RunResult, error) {
	lr, err := e.lookup(runID)
	if err != nil {
		return nil, err
	}
	lr.mu.Lock()
	defer lr.mu.Unlock()

	result := lr.result
	result.StepResults = append([]models.StepResult(nil), lr.result.StepResults...)
	return &result, nil
}

// Cancel stops the run; the browser is closed by the runner
func (e *LocalExecutor) Cancel(ctx context.Context, runID string) error {
	lr, err := e.lookup(runID)
	if err != nil {
		return err
	}
	lr.cancel()
	return nil
}

// Wait blocks until the run finished or ctx is done
func (e *LocalExecutor) Wait(ctx context.Context, runID string) error {
	lr, err := e.lookup(runID)
	if err != nil {
		return err
	}
	select {
	case <-lr.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
