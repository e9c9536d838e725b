package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"dev/bravebird/flow-verify/pkg/config"
	"dev/bravebird/flow-verify/pkg/driver"
	"dev/bravebird/flow-verify/pkg/drivers"
	"dev/bravebird/flow-verify/pkg/logger"
	"dev/bravebird/flow-verify/pkg/models"
	"dev/bravebird/flow-verify/pkg/runner"
	"dev/bravebird/flow-verify/pkg/scenario"
)

// driverFactory opens browser backends by name
type driverFactory func(name string, opts driver.Options) (driver.Driver, error)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], logger.New(), drivers.New)
	stop()
	os.Exit(code)
}

// run executes the command and returns the process exit code
func run(ctx context.Context, args []string, l *logger.Logger, newDriver driverFactory) int {
	var configFile string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Verify the flow runner dialog of the low-code flow platform",
		Long: `Runs the flow-runner-modal check against a running instance of the platform
(or a scenario loaded with --scenario-file) and exits 1 on the first failed step.
The application must already be running at --base-url.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.New(configFile)
			if err != nil {
				return err
			}
			if err := config.BindFlags(v, cmd.Flags()); err != nil {
				return err
			}
			cfg, err := config.Load(v, cmd.Flags())
			if err != nil {
				return err
			}
			return verify(cmd.Context(), cfg, l, newDriver)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "config file (default: flowverify.yaml)")
	flags.String("base-url", scenario.DefaultBaseURL, "address of the running application")
	flags.String("driver", drivers.Default, "browser driver: chromedp, playwright or rod")
	flags.Bool("headless", true, "run the browser headless")
	flags.String("chrome-bin", "", "Chrome/Chromium executable")
	flags.Duration("timeout", scenario.DefaultTimeout, "default wait for each step")
	flags.String("screenshot-path", scenario.DefaultScreenshotPath, "where the dialog screenshot is written")
	flags.String("failure-screenshot-dir", config.DefaultFailureScreenshotDir, "capture the page here when a step fails")
	flags.String("scenario-file", "", "YAML scenario to run instead of the built-in check")

	cmd.SetArgs(args)
	if err := cmd.ExecuteContext(ctx); err != nil {
		l.Fail("%v", err)
		return 1
	}
	return 0
}

// selectScenario returns the built-in check or the scenario file. A file keeps
// its own base URL and timeout unless they are given explicitly.
func selectScenario(cfg *config.Config) (models.Scenario, error) {
	if cfg.ScenarioFile == "" {
		s := scenario.FlowRunnerModalScenario(cfg.BaseURL, cfg.ScreenshotPath)
		s.Timeout = cfg.Timeout
		return s, nil
	}

	s, err := scenario.LoadFile(cfg.ScenarioFile)
	if err != nil {
		return models.Scenario{}, err
	}
	if cfg.IsExplicit("base_url") {
		s = scenario.WithBaseURL(s, cfg.BaseURL)
	}
	if cfg.IsExplicit("timeout") {
		s.Timeout = cfg.Timeout
	}
	return s, nil
}

func verify(ctx context.Context, cfg *config.Config, l *logger.Logger, newDriver driverFactory) error {
	s, err := selectScenario(cfg)
	if err != nil {
		return err
	}

	opts := driver.DefaultOptions()
	opts.Headless = cfg.Headless
	opts.ChromeBin = cfg.ChromeBin

	d, err := newDriver(cfg.Driver, opts)
	if err != nil {
		return err
	}

	l.Title("Scenario %s against %s (%s)", s.Name, s.BaseURL, d.Name())

	r := runner.New(d,
		runner.WithLogger(l.Component("runner")),
		runner.WithFailureScreenshots(cfg.FailureScreenshotDir),
		runner.WithObserver(func(sr models.StepResult) {
			if sr.Status == models.StatusSuccess {
				l.Pass("%d. %s (%dms)", sr.Index, sr.Name, sr.Duration)
			} else {
				l.Fail("%d. %s", sr.Index, sr.Name)
			}
			if l.IsDebugEnabled() {
				l.Note("%s", runner.Describe(s.Steps[sr.Index-1]))
			}
		}),
	)

	result, err := r.Run(ctx, s)
	if result != nil {
		for i := len(result.StepResults); i < len(s.Steps); i++ {
			l.Skip("%d. %s", i+1, s.Steps[i].Name)
		}
		if result.ScreenshotPath != "" {
			l.Note("screenshot: %s", result.ScreenshotPath)
		}
		if failed, ok := result.FailedStep(); ok && failed.ScreenshotPath != "" {
			l.Note("failure screenshot: %s", failed.ScreenshotPath)
		}
	}

	var navErr *driver.NavigationError
	if errors.As(err, &navErr) {
		l.Note("start the application or pass --base-url")
	}
	return err
}
