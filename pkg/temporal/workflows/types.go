package workflows

import (
	"time"

	"dev/bravebird/flow-verify/pkg/models"
)

// SessionInput is the input for launching a browser session
type SessionInput struct {
	Driver   string `json:"driver"`
	Headless bool   `json:"headless"`
}

// Session identifies a browser page held by a worker. Activities on the
// session are routed to TaskQueue, which only that worker polls.
type Session struct {
	SessionID string `json:"session_id"`
	Driver    string `json:"driver"`
	TaskQueue string `json:"task_queue,omitempty"`
}

// StepInput is the input for executing one scenario step
type StepInput struct {
	SessionID string        `json:"session_id"`
	RunID     string        `json:"run_id"`
	Index     int           `json:"index"`
	BaseURL   string        `json:"base_url"`
	Timeout   time.Duration `json:"timeout"`
	Step      models.Step   `json:"step"`
}

// ScreenshotInput is the input for taking a screenshot
type ScreenshotInput struct {
	SessionID string `json:"session_id"`
	Path      string `json:"path"`
}
