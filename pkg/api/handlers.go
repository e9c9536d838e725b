package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"dev/bravebird/flow-verify/pkg/drivers"
	"dev/bravebird/flow-verify/pkg/models"
	"dev/bravebird/flow-verify/pkg/runner"
	"dev/bravebird/flow-verify/pkg/scenario"
)

// Store is the persistence the handlers need; *database.DB implements it
type Store interface {
	CreateRun(ctx context.Context, run *models.VerificationRun) error
	GetRun(ctx context.Context, id string) (*models.VerificationRun, error)
	ListRuns(ctx context.Context, limit int) ([]models.VerificationRun, error)
	SetTemporalIDs(ctx context.Context, id, workflowID, runID string) error
	UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, errorMsg string) error
	GetStepResults(ctx context.Context, runID string) ([]models.StepResult, error)
}

// Settings are the defaults applied to run requests
type Settings struct {
	Driver               string
	Headless             bool
	FailureScreenshotDir string
	ScreenshotDir        string
	PollInterval         time.Duration
}

// Handlers contains API handlers
type Handlers struct {
	db        Store
	executor  Executor
	scenarios *scenario.Registry
	settings  Settings
	log       *logrus.Entry
	upgrader  websocket.Upgrader
}

// NewHandlers creates new API handlers. db may be nil.
func NewHandlers(db Store, executor Executor, scenarios *scenario.Registry, settings Settings, log *logrus.Entry) *Handlers {
	if settings.PollInterval <= 0 {
		settings.PollInterval = 500 * time.Millisecond
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handlers{
		db:        db,
		executor:  executor,
		scenarios: scenarios,
		settings:  settings,
		log:       log,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router registers every route
func (h *Handlers) Router() *mux.Router {
	router := mux.NewRouter()

	// Health check
	router.HandleFunc("/health", h.Health).Methods("GET")

	apiRouter := router.PathPrefix("/api").Subrouter()

	apiRouter.HandleFunc("/scenarios", h.ListScenarios).Methods("GET")
	apiRouter.HandleFunc("/scenarios/{name}", h.GetScenario).Methods("GET")

	// Runs
	apiRouter.HandleFunc("/runs", h.StartRun).Methods("POST")
	apiRouter.HandleFunc("/runs", h.ListRuns).Methods("GET")
	apiRouter.HandleFunc("/runs/{id}", h.GetRun).Methods("GET")
	apiRouter.HandleFunc("/runs/{id}/cancel", h.CancelRun).Methods("POST")

	// WebSocket for real-time updates
	apiRouter.HandleFunc("/runs/{id}/stream", h.StreamRunUpdates).Methods("GET")

	// Screenshots
	apiRouter.HandleFunc("/screenshots/{filename}", h.ServeScreenshot).Methods("GET")

	return router
}

// Health reports liveness
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==================== Scenario Handlers ====================

type scenarioSummary struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	BaseURL     string   `json:"base_url"`
	Steps       []string `json:"steps"`
}

// ListScenarios lists the registered scenarios
func (h *Handlers) ListScenarios(w http.ResponseWriter, r *http.Request) {
	summaries := []scenarioSummary{}
	for _, s := range h.scenarios.List() {
		steps := make([]string, len(s.Steps))
		for i, step := range s.Steps {
			steps[i] = runner.Describe(step)
		}
		summaries = append(summaries, scenarioSummary{
			Name:        s.Name,
			Description: s.Description,
			BaseURL:     s.BaseURL,
			Steps:       steps,
		})
	}
	respondJSON(w, summaries)
}

// GetScenario returns the YAML definition of a scenario, loadable with --scenario-file
func (h *Handlers) GetScenario(w http.ResponseWriter, r *http.Request) {
	s, err := h.scenarios.Get(mux.Vars(r)["name"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	data, err := scenario.Marshal(s)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Write(data)
}

// ==================== Run Handlers ====================

// StartRun dispatches a scenario run
func (h *Handlers) StartRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.RunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	if req.Scenario == "" {
		req.Scenario = scenario.FlowRunnerModal
	}

	s, err := h.scenarios.Get(req.Scenario)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s = scenario.WithBaseURL(s, req.BaseURL)
	if err := scenario.Validate(s); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	driverName := req.Driver
	if driverName == "" {
		driverName = h.settings.Driver
	}
	if driverName == "" {
		driverName = drivers.Default
	}
	if !slices.Contains(drivers.Names(), driverName) {
		http.Error(w, "Unknown driver: "+driverName, http.StatusBadRequest)
		return
	}

	headless := h.settings.Headless
	if req.Headless != nil {
		headless = *req.Headless
	}

	runID := uuid.New().String()
	run := &models.VerificationRun{
		ID:       runID,
		Scenario: s.Name,
		BaseURL:  s.BaseURL,
		Driver:   driverName,
		Status:   models.StatusPending,
	}
	if h.db != nil {
		if err := h.db.CreateRun(ctx, run); err != nil {
			http.Error(w, "Failed to create run: "+err.Error(), http.StatusInternalServerError)
			return
		}
	}

	input := models.VerificationInput{
		RunID:                runID,
		Scenario:             s,
		Driver:               driverName,
		Headless:             headless,
		FailureScreenshotDir: h.settings.FailureScreenshotDir,
	}

	// Marked before dispatch; the executor records the final status and may finish first
	if h.db != nil {
		if err := h.db.UpdateRunStatus(ctx, runID, models.StatusRunning, ""); err != nil {
			h.log.WithError(err).Warn("Failed to mark run as running")
		}
	}

	exec, err := h.executor.Start(ctx, input)
	if err != nil {
		if h.db != nil {
			h.db.UpdateRunStatus(ctx, runID, models.StatusFailed, err.Error())
		}
		http.Error(w, "Failed to start run: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if h.db != nil {
		if err := h.db.SetTemporalIDs(ctx, runID, exec.WorkflowID, exec.RunID); err != nil {
			h.log.WithError(err).Warn("Failed to store workflow IDs")
		}
	}

	h.log.WithFields(logrus.Fields{"run_id": runID, "scenario": s.Name, "driver": driverName}).Info("Run started")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"run_id":               runID,
		"scenario":             s.Name,
		"driver":               driverName,
		"temporal_workflow_id": exec.WorkflowID,
		"temporal_run_id":      exec.RunID,
		"status":               models.StatusRunning,
	})
}

// ListRuns lists recent runs
func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		http.Error(w, "Database not available", http.StatusServiceUnavailable)
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	runs, err := h.db.ListRuns(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	respondJSON(w, runs)
}

// GetRun retrieves a run with its step results
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	if h.db != nil {
		run, err := h.db.GetRun(ctx, id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if run != nil {
			results, err := h.db.GetStepResults(ctx, id)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			run.StepResults = results
			if len(results) == 0 && !run.Status.Done() {
				// Step results are written at the end; show live progress meanwhile
				if progress, err := h.executor.Progress(ctx, id); err == nil {
					run.StepResults = progress.StepResults
				}
			}
			respondJSON(w, run)
			return
		}
	}

	progress, err := h.executor.Progress(ctx, id)
	if err != nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	respondJSON(w, progress)
}

// CancelRun cancels a running verification
func (h *Handlers) CancelRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := mux.Vars(r)["id"]

	if h.db != nil {
		run, err := h.db.GetRun(ctx, id)
		if err != nil || run == nil {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		if run.Status.Done() {
			http.Error(w, "Run already finished", http.StatusConflict)
			return
		}
	}

	if err := h.executor.Cancel(ctx, id); err != nil {
		if errors.Is(err, ErrRunNotFound) {
			http.Error(w, "Run not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to cancel run: "+err.Error(), http.StatusInternalServerError)
		return
	}

	if h.db != nil {
		h.db.UpdateRunStatus(ctx, id, models.StatusCanceled, "Cancelled by user")
	}

	respondJSON(w, map[string]string{"status": string(models.StatusCanceled)})
}

// StreamRunUpdates streams run updates via WebSocket
func (h *Handlers) StreamRunUpdates(w http.ResponseWriter, r *http.Request) {
	runID := mux.Vars(r)["id"]

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx := r.Context()

	ticker := time.NewTicker(h.settings.PollInterval)
	defer ticker.Stop()

	lastStatus := models.RunStatus("")
	lastCount := -1

	for {
		status, results, ok := h.snapshot(ctx, runID)
		if ok && (status != lastStatus || len(results) != lastCount) {
			msg := models.WSMessage{
				Type: "run_update",
				Payload: map[string]interface{}{
					"run_id":       runID,
					"status":       status,
					"step_results": results,
				},
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
			lastStatus = status
			lastCount = len(results)

			// Close if completed
			if status.Done() {
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// snapshot reads progress from the executor, falling back to the database
func (h *Handlers) snapshot(ctx context.Context, runID string) (models.RunStatus, []models.StepResult, bool) {
	if progress, err := h.executor.Progress(ctx, runID); err == nil {
		return progress.Status, progress.StepResults, true
	}
	if h.db == nil {
		return "", nil, false
	}
	run, err := h.db.GetRun(ctx, runID)
	if err != nil || run == nil {
		return "", nil, false
	}
	results, err := h.db.GetStepResults(ctx, runID)
	if err != nil {
		h.log.WithError(err).WithField("run_id", runID).Warn("Failed to read step results")
		return "", nil, false
	}
	return run.Status, results, true
}

// ==================== Screenshot Handlers ====================

// ServeScreenshot serves a screenshot file
func (h *Handlers) ServeScreenshot(w http.ResponseWriter, r *http.Request) {
	filename := filepath.Base(mux.Vars(r)["filename"])

	// Only PNG files directly inside a configured screenshot directory
	if h.settings.ScreenshotDir == "" || !strings.EqualFold(filepath.Ext(filename), ".png") {
		http.Error(w, "Screenshot not found", http.StatusNotFound)
		return
	}
	filePath := filepath.Join(h.settings.ScreenshotDir, filename)

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		http.Error(w, "Screenshot not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeFile(w, r, filePath)
}

// ==================== Helpers ====================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}
