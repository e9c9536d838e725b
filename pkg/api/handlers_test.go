package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev/bravebird/flow-verify/pkg/driver"
	"dev/bravebird/flow-verify/pkg/models"
	"dev/bravebird/flow-verify/pkg/scenario"
)

// failingDriver cannot start a browser
type failingDriver struct{}

func (failingDriver) Name() string { return "failing" }

func (failingDriver) Open(ctx context.Context) (driver.Page, error) {
	return nil, errors.New("chrome not found")
}

// memStore keeps runs in memory; like the MySQL store it never rewrites a final status
type memStore struct {
	mu       sync.Mutex
	runs     map[string]*models.VerificationRun
	results  map[string][]models.StepResult
	idsDelay time.Duration
}

func newMemStore() *memStore {
	return &memStore{
		runs:    make(map[string]*models.VerificationRun),
		results: make(map[string][]models.StepResult),
	}
}

func (s *memStore) CreateRun(ctx context.Context, run *models.VerificationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *memStore) GetRun(ctx context.Context, id string) (*models.VerificationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

func (s *memStore) ListRuns(ctx context.Context, limit int) ([]models.VerificationRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	runs := []models.VerificationRun{}
	for _, run := range s.runs {
		if len(runs) == limit {
			break
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

func (s *memStore) SetTemporalIDs(ctx context.Context, id, workflowID, runID string) error {
	time.Sleep(s.idsDelay)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[id].TemporalWorkflowID = workflowID
	s.runs[id].TemporalRunID = runID
	return nil
}

func (s *memStore) UpdateRunStatus(ctx context.Context, id string, status models.RunStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs[id].Status.Done() {
		return nil
	}
	s.runs[id].Status = status
	s.runs[id].ErrorMessage = errorMsg
	return nil
}

func (s *memStore) RecordRun(ctx context.Context, result *models.RunResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[result.RunID].Status = result.Status
	s.runs[result.RunID].ErrorMessage = result.ErrorMessage
	s.results[result.RunID] = result.StepResults
	return nil
}

func (s *memStore) status(id string) (models.RunStatus, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[id].Status, s.runs[id].ErrorMessage
}

func (s *memStore) GetStepResults(ctx context.Context, runID string) ([]models.StepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results[runID], nil
}

// stubExecutor records dispatches and serves canned progress
type stubExecutor struct {
	mu        sync.Mutex
	started   []models.VerificationInput
	canceled  []string
	startErr  error
	cancelErr error
	progress  map[string]*models.RunResult
	onCancel  func(runID string)
}

func (e *stubExecutor) Start(ctx context.Context, input models.VerificationInput) (Execution, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.startErr != nil {
		return Execution{}, e.startErr
	}
	e.started = append(e.started, input)
	return Execution{WorkflowID: WorkflowID(input.RunID), RunID: "temporal-run"}, nil
}

func (e *stubExecutor) Progress(ctx context.Context, runID string) (*models.RunResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.progress[runID]; ok {
		return p, nil
	}
	return nil, ErrRunNotFound
}

func (e *stubExecutor) Cancel(ctx context.Context, runID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelErr != nil {
		return e.cancelErr
	}
	e.canceled = append(e.canceled, runID)
	if e.onCancel != nil {
		e.onCancel(runID)
	}
	return nil
}

func newTestServer(t *testing.T, db Store, exec Executor, settings Settings) *httptest.Server {
	t.Helper()
	registry := scenario.NewRegistry("http://localhost:3000", "shots/verification.png")
	h := NewHandlers(db, exec, registry, settings, nil)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url, body string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, nil, &stubExecutor{}, Settings{})

	resp, body := do(t, "GET", srv.URL+"/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, body)
}

func TestListScenarios(t *testing.T) {
	srv := newTestServer(t, nil, &stubExecutor{}, Settings{})

	resp, body := do(t, "GET", srv.URL+"/api/scenarios", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []scenarioSummary
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	require.Len(t, got, 1)
	assert.Equal(t, scenario.FlowRunnerModal, got[0].Name)
	require.Len(t, got[0].Steps, 9)
	assert.Equal(t, `click getByTooltip("Close Flow")`, got[0].Steps[7])
	assert.Equal(t, `expect_hidden getByRole("dialog")`, got[0].Steps[8])
}

func TestStartRun(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		db := newMemStore()
		exec := &stubExecutor{}
		srv := newTestServer(t, db, exec, Settings{Driver: "rod", Headless: true, FailureScreenshotDir: "failures"})

		resp, body := do(t, "POST", srv.URL+"/api/runs", "")
		require.Equal(t, http.StatusAccepted, resp.StatusCode, body)

		var out map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(body), &out))
		runID := out["run_id"].(string)
		assert.Equal(t, "running", out["status"])
		assert.Equal(t, WorkflowID(runID), out["temporal_workflow_id"])

		require.Len(t, exec.started, 1)
		in := exec.started[0]
		assert.Equal(t, runID, in.RunID)
		assert.Equal(t, "rod", in.Driver)
		assert.True(t, in.Headless)
		assert.Equal(t, "http://localhost:3000", in.Scenario.BaseURL)
		assert.Equal(t, "failures", in.FailureScreenshotDir)

		run := db.runs[runID]
		require.NotNil(t, run)
		assert.Equal(t, models.StatusRunning, run.Status)
		assert.Equal(t, WorkflowID(runID), run.TemporalWorkflowID)
		assert.Equal(t, "temporal-run", run.TemporalRunID)
	})

	t.Run("Overrides", func(t *testing.T) {
		exec := &stubExecutor{}
		srv := newTestServer(t, nil, exec, Settings{Headless: true})

		resp, body := do(t, "POST", srv.URL+"/api/runs",
			`{"scenario":"flow-runner-modal","base_url":"http://staging:8080","driver":"chromedp","headless":false}`)
		require.Equal(t, http.StatusAccepted, resp.StatusCode, body)

		require.Len(t, exec.started, 1)
		assert.Equal(t, "http://staging:8080", exec.started[0].Scenario.BaseURL)
		assert.Equal(t, "chromedp", exec.started[0].Driver)
		assert.False(t, exec.started[0].Headless)
	})

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "Unknown scenario", body: `{"scenario":"checkout"}`, want: http.StatusNotFound},
		{name: "Unknown driver", body: `{"driver":"netscape"}`, want: http.StatusBadRequest},
		{name: "Invalid base URL", body: `{"base_url":"not a url"}`, want: http.StatusBadRequest},
		{name: "Malformed body", body: `{"scenario":`, want: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &stubExecutor{}
			srv := newTestServer(t, nil, exec, Settings{})

			resp, _ := do(t, "POST", srv.URL+"/api/runs", tt.body)
			assert.Equal(t, tt.want, resp.StatusCode)
			assert.Empty(t, exec.started)
		})
	}

	t.Run("Executor failure", func(t *testing.T) {
		db := newMemStore()
		srv := newTestServer(t, db, &stubExecutor{startErr: errors.New("temporal unavailable")}, Settings{})

		resp, body := do(t, "POST", srv.URL+"/api/runs", "")
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Contains(t, body, "temporal unavailable")

		require.Len(t, db.runs, 1)
		for _, run := range db.runs {
			assert.Equal(t, models.StatusFailed, run.Status)
		}
	})
}

func TestStartRunFinishingBeforeDispatchReturns(t *testing.T) {
	db := newMemStore()
	db.idsDelay = 100 * time.Millisecond

	exec := NewLocalExecutor(driver.DefaultOptions(), db, nil)
	exec.NewDriver = func(name string, opts driver.Options) (driver.Driver, error) {
		return failingDriver{}, nil
	}
	srv := newTestServer(t, db, exec, Settings{})

	resp, body := do(t, "POST", srv.URL+"/api/runs", "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode, body)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	runID := out["run_id"].(string)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, exec.Wait(ctx, runID))

	status, msg := db.status(runID)
	assert.Equal(t, models.StatusFailed, status)
	assert.Contains(t, msg, "chrome not found")
}

func TestGetRun(t *testing.T) {
	t.Run("From database", func(t *testing.T) {
		db := newMemStore()
		db.runs["run-1"] = &models.VerificationRun{ID: "run-1", Scenario: scenario.FlowRunnerModal, Status: models.StatusFailed}
		db.results["run-1"] = []models.StepResult{{ID: "s1", Index: 1, Status: models.StatusFailed, ErrorMessage: "failed to navigate"}}
		srv := newTestServer(t, db, &stubExecutor{}, Settings{})

		resp, body := do(t, "GET", srv.URL+"/api/runs/run-1", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var run models.VerificationRun
		require.NoError(t, json.Unmarshal([]byte(body), &run))
		assert.Equal(t, models.StatusFailed, run.Status)
		require.Len(t, run.StepResults, 1)
		assert.Equal(t, "failed to navigate", run.StepResults[0].ErrorMessage)
	})

	t.Run("Live progress while running", func(t *testing.T) {
		db := newMemStore()
		db.runs["run-1"] = &models.VerificationRun{ID: "run-1", Status: models.StatusRunning}
		exec := &stubExecutor{progress: map[string]*models.RunResult{
			"run-1": {RunID: "run-1", Status: models.StatusRunning, StepResults: []models.StepResult{{Index: 1}, {Index: 2}}},
		}}
		srv := newTestServer(t, db, exec, Settings{})

		_, body := do(t, "GET", srv.URL+"/api/runs/run-1", "")
		var run models.VerificationRun
		require.NoError(t, json.Unmarshal([]byte(body), &run))
		assert.Len(t, run.StepResults, 2)
	})

	t.Run("Without database", func(t *testing.T) {
		exec := &stubExecutor{progress: map[string]*models.RunResult{
			"run-2": {RunID: "run-2", Status: models.StatusSuccess},
		}}
		srv := newTestServer(t, nil, exec, Settings{})

		resp, body := do(t, "GET", srv.URL+"/api/runs/run-2", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, body, `"status":"success"`)

		resp, _ = do(t, "GET", srv.URL+"/api/runs/missing", "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestListRuns(t *testing.T) {
	srv := newTestServer(t, nil, &stubExecutor{}, Settings{})
	resp, _ := do(t, "GET", srv.URL+"/api/runs", "")
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	db := newMemStore()
	db.runs["run-1"] = &models.VerificationRun{ID: "run-1", Status: models.StatusSuccess}
	srv = newTestServer(t, db, &stubExecutor{}, Settings{})

	resp, body := do(t, "GET", srv.URL+"/api/runs?limit=10", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var runs []models.VerificationRun
	require.NoError(t, json.Unmarshal([]byte(body), &runs))
	assert.Len(t, runs, 1)

	resp, _ = do(t, "GET", srv.URL+"/api/runs?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelRun(t *testing.T) {
	db := newMemStore()
	db.runs["active"] = &models.VerificationRun{ID: "active", Status: models.StatusRunning}
	db.runs["done"] = &models.VerificationRun{ID: "done", Status: models.StatusSuccess}
	exec := &stubExecutor{}
	srv := newTestServer(t, db, exec, Settings{})

	resp, _ := do(t, "POST", srv.URL+"/api/runs/active/cancel", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"active"}, exec.canceled)
	assert.Equal(t, models.StatusCanceled, db.runs["active"].Status)

	t.Run("Run finishing during cancellation keeps its status", func(t *testing.T) {
		db := newMemStore()
		db.runs["racing"] = &models.VerificationRun{ID: "racing", Status: models.StatusRunning}
		exec := &stubExecutor{onCancel: func(runID string) {
			db.RecordRun(context.Background(), &models.RunResult{RunID: runID, Status: models.StatusSuccess})
		}}
		srv := newTestServer(t, db, exec, Settings{})

		resp, _ := do(t, "POST", srv.URL+"/api/runs/racing/cancel", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		status, _ := db.status("racing")
		assert.Equal(t, models.StatusSuccess, status)
	})

	resp, _ = do(t, "POST", srv.URL+"/api/runs/done/cancel", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = do(t, "POST", srv.URL+"/api/runs/missing/cancel", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamRunUpdates(t *testing.T) {
	exec := &stubExecutor{progress: map[string]*models.RunResult{
		"run-1": {
			RunID:       "run-1",
			Status:      models.StatusSuccess,
			StepResults: []models.StepResult{{Index: 1, Status: models.StatusSuccess}},
		},
	}}
	srv := newTestServer(t, nil, exec, Settings{PollInterval: 10 * time.Millisecond})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/runs/run-1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg struct {
		Type    string `json:"type"`
		Payload struct {
			RunID       string              `json:"run_id"`
			Status      models.RunStatus    `json:"status"`
			StepResults []models.StepResult `json:"step_results"`
		} `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "run_update", msg.Type)
	assert.Equal(t, "run-1", msg.Payload.RunID)
	assert.Equal(t, models.StatusSuccess, msg.Payload.Status)
	assert.Len(t, msg.Payload.StepResults, 1)

	// The server closes the stream once the run is done
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestServeScreenshot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "verification.png"), []byte("\x89PNG"), 0644))
	srv := newTestServer(t, nil, &stubExecutor{}, Settings{ScreenshotDir: dir})

	resp, body := do(t, "GET", srv.URL+"/api/screenshots/verification.png", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	assert.Equal(t, "\x89PNG", body)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "flowverify.yaml"), []byte("mysql_dsn: secret"), 0644))

	tests := []struct {
		name     string
		dir      string
		filename string
	}{
		{name: "Missing file", dir: dir, filename: "missing.png"},
		{name: "Not a PNG", dir: dir, filename: "flowverify.yaml"},
		{name: "No screenshot directory", dir: "", filename: "verification.png"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, nil, &stubExecutor{}, Settings{ScreenshotDir: tt.dir})
			resp, body := do(t, "GET", srv.URL+"/api/screenshots/"+tt.filename, "")
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
			assert.NotContains(t, body, "secret")
		})
	}
}

func TestNoScreenshotDirServesNothingFromWorkingDir(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	require.NoError(t, os.WriteFile("flowverify.yaml", []byte("mysql_dsn: secret"), 0644))
	require.NoError(t, os.WriteFile("shot.png", []byte("\x89PNG"), 0644))

	srv := newTestServer(t, nil, &stubExecutor{}, Settings{})
	for _, name := range []string{"flowverify.yaml", "shot.png"} {
		resp, _ := do(t, "GET", srv.URL+"/api/screenshots/"+name, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, name)
	}
}

func TestGetScenario(t *testing.T) {
	srv := newTestServer(t, nil, &stubExecutor{}, Settings{})

	resp, body := do(t, "GET", srv.URL+"/api/scenarios/"+scenario.FlowRunnerModal, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))

	s, err := scenario.Load(strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, scenario.FlowRunnerModal, s.Name)
	assert.Len(t, s.Steps, 9)

	resp, _ = do(t, "GET", srv.URL+"/api/scenarios/checkout", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
