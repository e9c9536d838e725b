package models

import (
	"time"
)

// ==================== Locator Types ====================

// Locator describes how to find an element on a page.
// Exactly one of Role, Tooltip or CSS selects the candidates; Has and Within refine them.
type Locator struct {
	Role    string `json:"role,omitempty" yaml:"role,omitempty"`
	Name    string `json:"name,omitempty" yaml:"name,omitempty"`
	Exact   bool   `json:"exact,omitempty" yaml:"exact,omitempty"`
	Tooltip string `json:"tooltip,omitempty" yaml:"tooltip,omitempty"`
	CSS     string `json:"css,omitempty" yaml:"css,omitempty"`

	// Has keeps only candidates that contain an element matching it
	Has *Locator `json:"has,omitempty" yaml:"has,omitempty"`
	// Within restricts the search to descendants of the elements it matches
	Within *Locator `json:"within,omitempty" yaml:"within,omitempty"`
}

// ByRole returns a locator matching elements by ARIA role and accessible name
func ByRole(role, name string) Locator {
	return Locator{Role: role, Name: name}
}

// ByTooltip returns a locator matching the element that carries the given tooltip text
func ByTooltip(text string) Locator {
	return Locator{Tooltip: text}
}

// ByCSS returns a locator matching a CSS selector
func ByCSS(selector string) Locator {
	return Locator{CSS: selector}
}

// WithHas returns a copy of l filtered to candidates containing has
func (l Locator) WithHas(has Locator) Locator {
	l.Has = &has
	return l
}

// In returns a copy of l scoped to the descendants of parent
func (l Locator) In(parent Locator) Locator {
	l.Within = &parent
	return l
}

// ==================== Scenario Types ====================

// StepAction represents the kind of scenario step
type StepAction string

const (
	StepNavigate      StepAction = "navigate"       // Load a URL
	StepExpectVisible StepAction = "expect_visible" // Wait until the target is visible
	StepExpectHidden  StepAction = "expect_hidden"  // Wait until the target is hidden or gone
	StepClick         StepAction = "click"          // Wait until visible, then click
	StepScreenshot    StepAction = "screenshot"     // Capture the viewport to a file
)

// Step is a single instruction of a scenario
type Step struct {
	Name    string        `json:"name" yaml:"name" validate:"required"`
	Action  StepAction    `json:"action" yaml:"action" validate:"required,oneof=navigate expect_visible expect_hidden click screenshot"`
	Target  *Locator      `json:"target,omitempty" yaml:"target,omitempty"`
	URL     string        `json:"url,omitempty" yaml:"url,omitempty"`
	Path    string        `json:"path,omitempty" yaml:"path,omitempty"`
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" validate:"gte=0"`
}

// Scenario is an ordered list of steps run against one page
type Scenario struct {
	Name        string        `json:"name" yaml:"name" validate:"required"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	BaseURL     string        `json:"base_url" yaml:"base_url" validate:"required,url"`
	Timeout     time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" validate:"gte=0"`
	Steps       []Step        `json:"steps" yaml:"steps" validate:"required,min=1,dive"`
}

// ==================== Run Types ====================

// RunStatus represents the status of a verification run or step
type RunStatus string

const (
	StatusPending  RunStatus = "pending"
	StatusRunning  RunStatus = "running"
	StatusSuccess  RunStatus = "success"
	StatusFailed   RunStatus = "failed"
	StatusCanceled RunStatus = "canceled"
)

// Done reports whether the status is terminal
func (s RunStatus) Done() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusCanceled
}

// StepResult represents the outcome of executing a single step
type StepResult struct {
	ID             string     `json:"id" db:"id"`
	RunID          string     `json:"run_id" db:"run_id"`
	Index          int        `json:"index" db:"step_index"`
	Name           string     `json:"name" db:"name"`
	Action         StepAction `json:"action" db:"action"`
	Status         RunStatus  `json:"status" db:"status"`
	ScreenshotPath string     `json:"screenshot_path,omitempty" db:"screenshot_path"`
	ErrorMessage   string     `json:"error_message,omitempty" db:"error_message"`
	ExecutedAt     *time.Time `json:"executed_at" db:"executed_at"`
	Duration       int64      `json:"duration_ms" db:"duration_ms"`
}

// RunResult represents the result of a whole scenario run
type RunResult struct {
	RunID          string       `json:"run_id"`
	Scenario       string       `json:"scenario"`
	Status         RunStatus    `json:"status"`
	StepResults    []StepResult `json:"step_results"`
	ScreenshotPath string       `json:"screenshot_path,omitempty"`
	TotalDuration  int64        `json:"total_duration_ms"`
	ErrorMessage   string       `json:"error_message,omitempty"`
}

// FailedStep returns the first failed step, if any
func (r *RunResult) FailedStep() (StepResult, bool) {
	for _, sr := range r.StepResults {
		if sr.Status == StatusFailed {
			return sr, true
		}
	}
	return StepResult{}, false
}

// ==================== Persistence Types ====================

// VerificationRun represents a stored execution of a scenario
type VerificationRun struct {
	ID                 string     `json:"id" db:"id"`
	Scenario           string     `json:"scenario" db:"scenario"`
	BaseURL            string     `json:"base_url" db:"base_url"`
	Driver             string     `json:"driver" db:"driver"`
	TemporalWorkflowID string     `json:"temporal_workflow_id,omitempty" db:"temporal_workflow_id"`
	TemporalRunID      string     `json:"temporal_run_id,omitempty" db:"temporal_run_id"`
	Status             RunStatus  `json:"status" db:"status"`
	ScreenshotPath     string     `json:"screenshot_path,omitempty" db:"screenshot_path"`
	ErrorMessage       string     `json:"error_message,omitempty" db:"error_message"`
	StartedAt          *time.Time `json:"started_at" db:"started_at"`
	CompletedAt        *time.Time `json:"completed_at" db:"completed_at"`
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`

	// Computed fields
	StepResults []StepResult `json:"step_results,omitempty"`
}

// ==================== API Request/Response Types ====================

// VerificationInput represents input for executing a scenario
type VerificationInput struct {
	RunID    string   `json:"run_id"`
	Scenario Scenario `json:"scenario"`
	Driver   string   `json:"driver"`
	Headless bool     `json:"headless"`
	// StepTimeout bounds each step activity, in seconds
	StepTimeout int `json:"step_timeout_seconds"`
	// FailureScreenshotDir receives a screenshot when a step fails; empty disables it
	FailureScreenshotDir string `json:"failure_screenshot_dir,omitempty"`
}

// RunRequest represents a request to start a run
type RunRequest struct {
	Scenario string `json:"scenario"`
	BaseURL  string `json:"base_url,omitempty"`
	Driver   string `json:"driver,omitempty"`
	Headless *bool  `json:"headless,omitempty"`
}

// ==================== WebSocket Message Types ====================

// WSMessage represents a WebSocket message for real-time updates
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}
