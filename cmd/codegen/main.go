package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"dev/bravebird/flow-verify/pkg/codegen"
	"dev/bravebird/flow-verify/pkg/scenario"
)

func main() {
	var (
		baseURL      string
		shotPath     string
		scenarioFile string
		output       string
		headless     bool
	)

	cmd := &cobra.Command{
		Use:   "codegen",
		Short: "Print a standalone go-rod program that performs a scenario",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := scenario.FlowRunnerModalScenario(baseURL, shotPath)
			if scenarioFile != "" {
				loaded, err := scenario.LoadFile(scenarioFile)
				if err != nil {
					return err
				}
				s = loaded
				if cmd.Flags().Changed("base-url") {
					s = scenario.WithBaseURL(loaded, baseURL)
				}
			}

			code, err := codegen.Generate(s, codegen.Options{Headless: headless})
			if err != nil {
				return fmt.Errorf("failed to generate code: %w", err)
			}

			if output == "" || output == "-" {
				_, err = fmt.Fprint(cmd.OutOrStdout(), code)
				return err
			}
			if err := os.WriteFile(output, []byte(code), 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Generated %s\n", output)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&baseURL, "base-url", scenario.DefaultBaseURL, "address of the running application")
	flags.StringVar(&shotPath, "screenshot-path", scenario.DefaultScreenshotPath, "screenshot written by the program")
	flags.StringVar(&scenarioFile, "scenario-file", "", "YAML scenario instead of the built-in check")
	flags.StringVarP(&output, "output", "o", "", "output file (default stdout)")
	flags.BoolVar(&headless, "headless", true, "generate a headless launcher")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
