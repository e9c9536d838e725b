package workflows

import (
	"errors"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"dev/bravebird/flow-verify/pkg/models"
	"dev/bravebird/flow-verify/pkg/runner"
	"dev/bravebird/flow-verify/pkg/scenario"
)

const (
	// TaskQueue is the queue workers poll for verification runs
	TaskQueue = "flow-verification"
	// ProgressQuery returns the partial RunResult of a running workflow
	ProgressQuery = "getProgress"

	// stepMargin is added to a step's own timeout for the activity deadline
	stepMargin = 30 * time.Second
	// sessionPickup bounds the wait for the session's worker to take an activity
	sessionPickup = time.Minute
)

// SessionTaskQueue returns the queue of the worker process identified by id
func SessionTaskQueue(id string) string {
	return TaskQueue + "@" + id
}

// Activity names
const (
	LaunchSessionActivity = "LaunchSessionActivity"
	ExecuteStepActivity   = "ExecuteStepActivity"
	ScreenshotActivity    = "ScreenshotActivity"
	CloseSessionActivity  = "CloseSessionActivity"
	RecordRunActivity     = "RecordRunActivity"
)

// VerificationWorkflow runs a scenario step by step in a browser session
// owned by one worker. It stops at the first failing step and never retries.
func VerificationWorkflow(ctx workflow.Context, input models.VerificationInput) (models.RunResult, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting verification workflow", "scenario", input.Scenario.Name, "runID", input.RunID)

	result := models.RunResult{
		RunID:       input.RunID,
		Scenario:    input.Scenario.Name,
		Status:      models.StatusRunning,
		StepResults: make([]models.StepResult, 0, len(input.Scenario.Steps)),
	}

	// Register query handler for real-time progress
	err := workflow.SetQueryHandler(ctx, ProgressQuery, func() (models.RunResult, error) {
		return result, nil
	})
	if err != nil {
		logger.Error("Failed to register query handler", "error", err)
	}

	startTime := workflow.Now(ctx)
	finish := func() (models.RunResult, error) {
		result.TotalDuration = workflow.Now(ctx).Sub(startTime).Milliseconds()
		record(ctx, result)
		logger.Info("Workflow completed", "status", result.Status, "duration", result.TotalDuration)
		return result, nil
	}

	if err := scenario.Validate(input.Scenario); err != nil {
		result.Status = models.StatusFailed
		result.ErrorMessage = err.Error()
		return finish()
	}

	// A failed browser action is a verification failure, not a transient error
	noRetry := &temporal.RetryPolicy{MaximumAttempts: 1}

	launchCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy:         noRetry,
	})

	var session Session
	err = workflow.ExecuteActivity(launchCtx, LaunchSessionActivity, SessionInput{
		Driver:   input.Driver,
		Headless: input.Headless,
	}).Get(ctx, &session)
	if err != nil {
		result.Status = statusFor(err)
		result.ErrorMessage = "failed to launch browser: " + err.Error()
		return finish()
	}

	defer func() {
		// Cleanup must run even when the workflow was canceled
		cleanupCtx, _ := workflow.NewDisconnectedContext(ctx)
		cleanupCtx = workflow.WithActivityOptions(cleanupCtx, sessionOptions(session, 30*time.Second))
		if err := workflow.ExecuteActivity(cleanupCtx, CloseSessionActivity, session.SessionID).Get(cleanupCtx, nil); err != nil {
			logger.Warn("Failed to close browser session", "sessionID", session.SessionID, "error", err)
		}
	}()

	for i, step := range input.Scenario.Steps {
		index := i + 1
		logger.Info("Executing step", "index", index, "action", step.Action)

		stepTimeout := scenario.StepTimeout(input.Scenario, step) + stepMargin
		if input.StepTimeout > 0 {
			stepTimeout = time.Duration(input.StepTimeout) * time.Second
		}
		stepCtx := workflow.WithActivityOptions(ctx, sessionOptions(session, stepTimeout))

		var sr models.StepResult
		err := workflow.ExecuteActivity(stepCtx, ExecuteStepActivity, StepInput{
			SessionID: session.SessionID,
			RunID:     input.RunID,
			Index:     index,
			BaseURL:   input.Scenario.BaseURL,
			Timeout:   scenario.StepTimeout(input.Scenario, step),
			Step:      step,
		}).Get(ctx, &sr)

		if err == nil {
			result.StepResults = append(result.StepResults, sr)
			if step.Action == models.StepScreenshot {
				result.ScreenshotPath = step.Path
			}
			continue
		}

		sr = failedStep(ctx, input.RunID, index, step, err)
		if input.FailureScreenshotDir != "" && ctx.Err() == nil {
			path := filepath.Join(input.FailureScreenshotDir, runner.FailureScreenshotName(input.Scenario.Name, index, workflow.Now(ctx)))
			shotCtx := workflow.WithActivityOptions(ctx, sessionOptions(session, time.Minute))
			_ = workflow.ExecuteActivity(shotCtx, ScreenshotActivity, ScreenshotInput{
				SessionID: session.SessionID,
				Path:      path,
			}).Get(ctx, &sr.ScreenshotPath)
		}
		result.StepResults = append(result.StepResults, sr)

		stepErr := &runner.StepError{Index: index, Name: step.Name, Err: errors.New(activityMessage(err))}
		result.Status = statusFor(err)
		result.ErrorMessage = stepErr.Error()
		return finish()
	}

	result.Status = models.StatusSuccess
	return finish()
}

// sessionOptions pins an activity to the worker holding the session
func sessionOptions(s Session, timeout time.Duration) workflow.ActivityOptions {
	opts := workflow.ActivityOptions{
		TaskQueue:           s.TaskQueue,
		StartToCloseTimeout: timeout,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
	if s.TaskQueue != "" {
		opts.ScheduleToStartTimeout = sessionPickup
	}
	return opts
}

// failedStep builds the result of a step whose activity returned an error
func failedStep(ctx workflow.Context, runID string, index int, step models.Step, err error) models.StepResult {
	var id string
	encoded := workflow.SideEffect(ctx, func(workflow.Context) interface{} {
		return uuid.New().String()
	})
	_ = encoded.Get(&id)

	executedAt := workflow.Now(ctx)
	return models.StepResult{
		ID:           id,
		RunID:        runID,
		Index:        index,
		Name:         step.Name,
		Action:       step.Action,
		Status:       statusFor(err),
		ErrorMessage: activityMessage(err),
		ExecutedAt:   &executedAt,
	}
}

// record persists the final result. It runs on a disconnected context so
// canceled runs are stored too.
func record(ctx workflow.Context, result models.RunResult) {
	recordCtx, _ := workflow.NewDisconnectedContext(ctx)
	recordCtx = workflow.WithActivityOptions(recordCtx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval: time.Second,
			MaximumAttempts: 3,
		},
	})
	if err := workflow.ExecuteActivity(recordCtx, RecordRunActivity, result).Get(recordCtx, nil); err != nil {
		workflow.GetLogger(ctx).Warn("Failed to record run", "runID", result.RunID, "error", err)
	}
}

func statusFor(err error) models.RunStatus {
	if temporal.IsCanceledError(err) {
		return models.StatusCanceled
	}
	return models.StatusFailed
}

// activityMessage strips the Temporal wrapping from an activity error
func activityMessage(err error) string {
	var actErr *temporal.ActivityError
	if errors.As(err, &actErr) {
		if cause := errors.Unwrap(actErr); cause != nil {
			return cause.Error()
		}
	}
	return err.Error()
}
