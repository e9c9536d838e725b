package runner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev/bravebird/flow-verify/pkg/driver"
	"dev/bravebird/flow-verify/pkg/drivers"
	"dev/bravebird/flow-verify/pkg/fixture"
	"dev/bravebird/flow-verify/pkg/models"
	"dev/bravebird/flow-verify/pkg/scenario"
)

// browserDrivers returns the backends that can run on this machine
func browserDrivers(t *testing.T) []string {
	t.Helper()
	if testing.Short() {
		t.Skip("browser tests disabled in short mode")
	}
	if os.Getenv("CHROME_BIN") == "" {
		if _, ok := launcher.LookPath(); !ok {
			t.Skip("no Chrome/Chromium found; set CHROME_BIN")
		}
	}
	names := []string{"rod", "chromedp"}
	if os.Getenv("FLOWVERIFY_TEST_PLAYWRIGHT") == "true" {
		names = append(names, "playwright")
	}
	return names
}

func fixtureServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(fixture.NewServer(fixture.SampleGroups(), nil).Router())
	t.Cleanup(srv.Close)
	return srv
}

func TestFlowRunnerModalInBrowser(t *testing.T) {
	names := browserDrivers(t)
	srv := fixtureServer(t)

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			d, err := drivers.New(name, driver.DefaultOptions())
			require.NoError(t, err)

			shot := filepath.Join(t.TempDir(), "verification.png")
			s := scenario.FlowRunnerModalScenario(srv.URL, shot)

			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			result, err := New(d).Run(ctx, s)
			require.NoError(t, err)
			assert.Equal(t, models.StatusSuccess, result.Status)

			info, err := os.Stat(shot)
			require.NoError(t, err)
			assert.Greater(t, info.Size(), int64(0))
		})
	}
}

func TestFailuresInBrowser(t *testing.T) {
	names := browserDrivers(t)
	srv := fixtureServer(t)

	tests := []struct {
		name      string
		query     string
		wantIndex int
		wantIs    error
	}{
		{name: "Missing heading", query: "missing=heading", wantIndex: 2, wantIs: driver.ErrTimeout},
		{name: "Missing tab", query: "missing=tab", wantIndex: 3, wantIs: driver.ErrTimeout},
		{name: "Missing card", query: "missing=card", wantIndex: 4, wantIs: driver.ErrTimeout},
		{name: "Hidden button", query: "missing=button", wantIndex: 4, wantIs: driver.ErrTimeout},
		{name: "Duplicate card", query: "duplicate=true", wantIndex: 4, wantIs: driver.ErrStrictMode},
		{name: "Missing dialog", query: "missing=dialog", wantIndex: 5, wantIs: driver.ErrTimeout},
		{name: "Missing close control", query: "missing=close", wantIndex: 8, wantIs: driver.ErrTimeout},
		{name: "Dialog stays open", query: "stuck=true", wantIndex: 9, wantIs: driver.ErrTimeout},
	}

	for _, name := range names {
		for _, tt := range tests {
			t.Run(name+"/"+tt.name, func(t *testing.T) {
				d, err := drivers.New(name, driver.DefaultOptions())
				require.NoError(t, err)

				s := scenario.FlowRunnerModalScenario(srv.URL+"/?"+tt.query, filepath.Join(t.TempDir(), "shot.png"))
				// Keep failing waits short; the page itself still gets 10s
				s.Timeout = time.Second

				start := time.Now()
				_, err = New(d).Run(context.Background(), s)
				require.Error(t, err)

				var stepErr *StepError
				require.ErrorAs(t, err, &stepErr)
				assert.Equal(t, tt.wantIndex, stepErr.Index)
				assert.ErrorIs(t, err, tt.wantIs)

				if tt.wantIs == driver.ErrStrictMode {
					assert.Less(t, time.Since(start), 10*time.Second, "strict mode fails before the timeout")
				}
			})
		}
	}
}

func TestDelayedDialogInBrowser(t *testing.T) {
	names := browserDrivers(t)
	srv := fixtureServer(t)

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			d, err := drivers.New(name, driver.DefaultOptions())
			require.NoError(t, err)

			s := scenario.FlowRunnerModalScenario(srv.URL+"/?delay=500ms", filepath.Join(t.TempDir(), "shot.png"))
			_, err = New(d).Run(context.Background(), s)
			assert.NoError(t, err, "visibility waits poll until the dialog appears")
		})
	}
}

func TestAppNotRunningInBrowser(t *testing.T) {
	names := browserDrivers(t)
	srv := fixtureServer(t)
	url := srv.URL
	srv.Close()

	d, err := drivers.New(names[0], driver.DefaultOptions())
	require.NoError(t, err)

	_, err = New(d).Run(context.Background(), scenario.FlowRunnerModalScenario(url, filepath.Join(t.TempDir(), "shot.png")))
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 1, stepErr.Index)
	assert.ErrorIs(t, err, driver.ErrNavigation)
}

const tooltipPage = `<!doctype html>
<html><body>
<button title="Dismiss">x</button>
<button data-tooltip="Archive">a</button>
<button aria-describedby="dup-tip">d</button>
<div id="dup-tip" role="tooltip">Duplicate</div>
</body></html>`

func TestTooltipKindsInBrowser(t *testing.T) {
	names := browserDrivers(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(tooltipPage))
	}))
	t.Cleanup(srv.Close)

	s := models.Scenario{
		Name:    "tooltips",
		BaseURL: srv.URL,
		Timeout: 2 * time.Second,
		Steps: []models.Step{
			{Name: "Open", Action: models.StepNavigate},
			{Name: "Title", Action: models.StepExpectVisible, Target: ptr(models.ByTooltip("Dismiss"))},
			{Name: "Data attribute", Action: models.StepExpectVisible, Target: ptr(models.ByTooltip("Archive"))},
			{Name: "Described by tooltip", Action: models.StepClick, Target: ptr(models.ByTooltip("Duplicate"))},
		},
	}

	for _, name := range names {
		t.Run(name, func(t *testing.T) {
			d, err := drivers.New(name, driver.DefaultOptions())
			require.NoError(t, err)

			_, err = New(d).Run(context.Background(), s)
			assert.NoError(t, err)
		})
	}
}

func ptr(l models.Locator) *models.Locator { return &l }
