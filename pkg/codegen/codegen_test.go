package codegen

import (
	"go/parser"
	"go/token"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dev/bravebird/flow-verify/pkg/models"
	"dev/bravebird/flow-verify/pkg/scenario"
)

func TestGenerateFlowRunnerModal(t *testing.T) {
	s := scenario.FlowRunnerModalScenario("http://localhost:3000", "jules-scratch/verification/verification.png")

	code, err := Generate(s, Options{Headless: true})
	require.NoError(t, err)

	fset := token.NewFileSet()
	_, err = parser.ParseFile(fset, "generated.go", code, parser.AllErrors)
	require.NoError(t, err, "generated program must be valid Go:\n%s", code)

	expected := []string{
		"// Code generated by flow-verify codegen. DO NOT EDIT.",
		`launcher.New().Headless(true).Set("no-sandbox").MustLaunch()`,
		"// Step 1: Open the platform",
		`check(1, "Open the platform", page.Navigate("http://localhost:3000"))`,
		"// Step 2: Platform heading is visible",
		"10 * time.Second",
		`// getByRole("tab", name="Manual Flows")`,
		`check(3, "Open the Manual Flows tab", click(wait(page,`,
		`"visible", 5 * time.Second)))`,
		`check(7, "Capture the open dialog", screenshot(page, "jules-scratch/verification/verification.png"))`,
		`// getByTooltip("Close Flow")`,
		`"hidden", 5 * time.Second)`,
		`fmt.Println("Scenario flow-runner-modal passed")`,
	}
	for _, want := range expected {
		assert.Contains(t, code, want)
	}
	assert.Equal(t, 9, strings.Count(code, "\t// Step "))
}

func TestGenerateRejectsInvalidScenario(t *testing.T) {
	_, err := Generate(models.Scenario{Name: "empty"}, Options{})
	assert.Error(t, err)
}

func TestGenerateEscapesText(t *testing.T) {
	heading := models.ByRole("heading", `Say "hi"`)
	s := models.Scenario{
		Name:    "quotes",
		BaseURL: "http://localhost:3000",
		Timeout: 1500 * time.Millisecond,
		Steps: []models.Step{
			{Name: "Open", Action: models.StepNavigate},
			{Name: `Heading "hi"`, Action: models.StepExpectVisible, Target: &heading},
		},
	}

	code, err := Generate(s, Options{})
	require.NoError(t, err)

	_, err = parser.ParseFile(token.NewFileSet(), "generated.go", code, parser.AllErrors)
	require.NoError(t, err)
	assert.Contains(t, code, `check(2, "Heading \"hi\"", err)`)
	assert.Contains(t, code, "1500 * time.Millisecond")
	assert.Contains(t, code, "Headless(false)")
}

func TestCompact(t *testing.T) {
	tab := models.ByRole("tab", "Manual Flows")
	dialog := models.ByRole("dialog", "")

	steps := []models.Step{
		{Name: "open", Action: models.StepNavigate},
		{Name: "tab visible", Action: models.StepExpectVisible, Target: &tab},
		{Name: "click tab", Action: models.StepClick, Target: &tab},
		{Name: "dialog visible", Action: models.StepExpectVisible, Target: &dialog},
		{Name: "click tab again", Action: models.StepClick, Target: &tab},
	}

	got := Compact(steps)
	names := make([]string, len(got))
	for i, s := range got {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"open", "click tab", "dialog visible", "click tab again"}, names)

	t.Run("Longer wait is kept", func(t *testing.T) {
		slow := []models.Step{
			{Name: "tab visible", Action: models.StepExpectVisible, Target: &tab, Timeout: 10 * time.Second},
			{Name: "click tab", Action: models.StepClick, Target: &tab},
		}
		assert.Len(t, Compact(slow), 2)
	})

	assert.Empty(t, Compact(nil))
}
