// Package runner executes scenarios against a browser page
package runner

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"dev/bravebird/flow-verify/pkg/driver"
	"dev/bravebird/flow-verify/pkg/locator"
	"dev/bravebird/flow-verify/pkg/models"
	"dev/bravebird/flow-verify/pkg/scenario"
)

// StepError reports the step a run failed at
type StepError struct {
	Index int // 1-based
	Name  string
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %v", e.Index, e.Name, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Observer receives every step result as soon as it is known
type Observer func(models.StepResult)

// Runner runs scenarios on pages opened by a driver
type Runner struct {
	driver     driver.Driver
	log        *logrus.Entry
	failureDir string
	observer   Observer
	runID      string
}

// Option configures a Runner
type Option func(*Runner)

// WithLogger sets the log entry steps are reported to
func WithLogger(log *logrus.Entry) Option {
	return func(r *Runner) { r.log = log }
}

// WithFailureScreenshots captures the page into dir when a step fails
func WithFailureScreenshots(dir string) Option {
	return func(r *Runner) { r.failureDir = dir }
}

// WithObserver registers a callback for step results
func WithObserver(fn Observer) Option {
	return func(r *Runner) { r.observer = fn }
}

// WithRunID sets the run ID reported in results instead of a generated one
func WithRunID(id string) Option {
	return func(r *Runner) { r.runID = id }
}

// New creates a runner
func New(d driver.Driver, opts ...Option) *Runner {
	r := &Runner{
		driver: d,
		log:    logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run opens a page, runs s on it and closes the page on every path.
// The returned error is a *StepError when a step failed.
func (r *Runner) Run(ctx context.Context, s models.Scenario) (*models.RunResult, error) {
	if err := scenario.Validate(s); err != nil {
		return nil, err
	}

	page, err := r.driver.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s browser: %w", r.driver.Name(), err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			r.log.WithError(err).Warn("Failed to close browser page")
		}
	}()

	return r.RunOnPage(ctx, page, s)
}

// RunOnPage runs s on an already open page without closing it
func (r *Runner) RunOnPage(ctx context.Context, page driver.Page, s models.Scenario) (*models.RunResult, error) {
	runID := r.runID
	if runID == "" {
		runID = uuid.New().String()
	}
	result := &models.RunResult{
		RunID:    runID,
		Scenario: s.Name,
		Status:   models.StatusRunning,
	}
	log := r.log.WithFields(logrus.Fields{"scenario": s.Name, "run_id": result.RunID})
	log.WithField("steps", len(s.Steps)).Info("Starting scenario")

	start := time.Now()
	defer func() {
		result.TotalDuration = time.Since(start).Milliseconds()
	}()

	for i, step := range s.Steps {
		sr := models.StepResult{
			ID:     uuid.New().String(),
			RunID:  result.RunID,
			Index:  i + 1,
			Name:   step.Name,
			Action: step.Action,
		}
		stepLog := log.WithFields(logrus.Fields{"step": sr.Index, "action": step.Action})
		stepLog.Debugf("Running %s", step.Name)

		stepStart := time.Now()
		err := Execute(ctx, page, s, step)
		executedAt := time.Now()
		sr.ExecutedAt = &executedAt
		sr.Duration = executedAt.Sub(stepStart).Milliseconds()

		if err != nil {
			sr.Status = models.StatusFailed
			sr.ErrorMessage = err.Error()
			sr.ScreenshotPath = r.captureFailure(ctx, page, s, sr.Index)
			r.record(result, sr)

			stepErr := &StepError{Index: sr.Index, Name: step.Name, Err: err}
			result.Status = models.StatusFailed
			if errors.Is(err, context.Canceled) {
				result.Status = models.StatusCanceled
			}
			result.ErrorMessage = stepErr.Error()
			stepLog.WithError(err).Error("Step failed")
			return result, stepErr
		}

		sr.Status = models.StatusSuccess
		if step.Action == models.StepScreenshot {
			sr.ScreenshotPath = step.Path
			result.ScreenshotPath = step.Path
		}
		r.record(result, sr)
		stepLog.WithField("duration_ms", sr.Duration).Infof("Step passed: %s", step.Name)
	}

	result.Status = models.StatusSuccess
	log.Info("Scenario passed")
	return result, nil
}

func (r *Runner) record(result *models.RunResult, sr models.StepResult) {
	result.StepResults = append(result.StepResults, sr)
	if r.observer != nil {
		r.observer(sr)
	}
}

// captureFailure saves the page state for a failed step, returning the path or ""
func (r *Runner) captureFailure(ctx context.Context, page driver.Page, s models.Scenario, index int) string {
	if r.failureDir == "" || ctx.Err() != nil {
		return ""
	}
	path := filepath.Join(r.failureDir, FailureScreenshotName(s.Name, index, time.Now()))
	if err := page.Screenshot(ctx, path); err != nil {
		r.log.WithError(err).Warn("Failed to capture failure screenshot")
		return ""
	}
	return path
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// FailureScreenshotName builds the file name of a failure screenshot
func FailureScreenshotName(scenarioName string, index int, at time.Time) string {
	name := strings.Trim(unsafeChars.ReplaceAllString(scenarioName, "-"), "-")
	return fmt.Sprintf("%s_step%d_%d.png", name, index, at.Unix())
}

// Execute performs one step on page
func Execute(ctx context.Context, page driver.Page, s models.Scenario, step models.Step) error {
	timeout := scenario.StepTimeout(s, step)

	switch step.Action {
	case models.StepNavigate:
		url, err := scenario.ResolveURL(s.BaseURL, step.URL)
		if err != nil {
			return err
		}
		return page.Navigate(ctx, url)

	case models.StepExpectVisible:
		return page.WaitVisible(ctx, *step.Target, timeout)

	case models.StepExpectHidden:
		return page.WaitHidden(ctx, *step.Target, timeout)

	case models.StepClick:
		return page.Click(ctx, *step.Target, timeout)

	case models.StepScreenshot:
		return page.Screenshot(ctx, step.Path)

	default:
		return fmt.Errorf("unsupported action: %s", step.Action)
	}
}

// Describe renders a step for reports, e.g. `click getByTooltip("Close Flow")`
func Describe(step models.Step) string {
	switch {
	case step.Target != nil:
		return fmt.Sprintf("%s %s", step.Action, locator.Describe(*step.Target))
	case step.Action == models.StepNavigate && step.URL != "":
		return fmt.Sprintf("%s %s", step.Action, step.URL)
	case step.Action == models.StepScreenshot:
		return fmt.Sprintf("%s %s", step.Action, step.Path)
	}
	return string(step.Action)
}
