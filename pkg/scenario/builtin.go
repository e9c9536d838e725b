package scenario

import (
	"time"

	"dev/bravebird/flow-verify/pkg/models"
)

const (
	// FlowRunnerModal is the name of the built-in flow runner check
	FlowRunnerModal = "flow-runner-modal"

	DefaultBaseURL        = "http://localhost:3000"
	DefaultScreenshotPath = "jules-scratch/verification/verification.png"
	DefaultTimeout        = 5 * time.Second
	PageLoadTimeout       = 10 * time.Second
)

// FlowRunnerModalScenario opens the User Onboarding flow from the Manual Flows
// tab, checks the runner dialog shows its first step, captures it and closes it
func FlowRunnerModalScenario(baseURL, screenshotPath string) models.Scenario {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if screenshotPath == "" {
		screenshotPath = DefaultScreenshotPath
	}

	heading := models.ByRole("heading", "Responsive Low-Code Flow Platform")
	card := models.ByCSS("div.card").WithHas(models.ByRole("heading", "User Onboarding"))
	dialog := models.ByRole("dialog", "")
	closeControl := models.ByTooltip("Close Flow")
	manualFlows := models.ByRole("tab", "Manual Flows")
	runFlow := models.ByRole("button", "Run Flow").In(card)
	firstStep := models.ByRole("heading", "Personal Information").In(dialog)

	return models.Scenario{
		Name:        FlowRunnerModal,
		Description: "The flow runner opens on the first step of User Onboarding and closes again",
		BaseURL:     baseURL,
		Timeout:     DefaultTimeout,
		Steps: []models.Step{
			{Name: "Open the platform", Action: models.StepNavigate},
			{Name: "Platform heading is visible", Action: models.StepExpectVisible, Target: &heading, Timeout: PageLoadTimeout},
			{Name: "Open the Manual Flows tab", Action: models.StepClick, Target: &manualFlows},
			{Name: "Run the User Onboarding flow", Action: models.StepClick, Target: &runFlow},
			{Name: "Flow runner dialog is visible", Action: models.StepExpectVisible, Target: &dialog},
			{Name: "Dialog shows Personal Information", Action: models.StepExpectVisible, Target: &firstStep},
			{Name: "Capture the open dialog", Action: models.StepScreenshot, Path: screenshotPath},
			{Name: "Close the flow runner", Action: models.StepClick, Target: &closeControl},
			{Name: "Flow runner dialog is hidden", Action: models.StepExpectHidden, Target: &dialog},
		},
	}
}
