package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"

	"dev/bravebird/flow-verify/pkg/config"
	"dev/bravebird/flow-verify/pkg/database"
	"dev/bravebird/flow-verify/pkg/driver"
	"dev/bravebird/flow-verify/pkg/logger"
	"dev/bravebird/flow-verify/pkg/temporal/activities"
	"dev/bravebird/flow-verify/pkg/temporal/workflows"
)

func main() {
	var configFile string

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run the Temporal worker that executes verification runs",
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
			return run(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "config file (default: flowverify.yaml)")
	flags.String("temporal-host", "localhost:7233", "Temporal frontend address")
	flags.String("mysql-dsn", "", "MySQL DSN used to record runs")
	flags.String("chrome-bin", "", "Chrome/Chromium executable")
	flags.Bool("headless", true, "default headless mode for launched browsers")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	log := logger.New().Component("worker")

	// Create Temporal client
	c, err := client.Dial(client.Options{
		HostPort: cfg.TemporalHost,
	})
	if err != nil {
		return err
	}
	defer c.Close()

	// Run without persistence when MySQL is unavailable
	var store activities.RunStore
	db, err := database.New(cfg.MySQLDSN)
	if err != nil {
		log.WithError(err).Warn("Failed to connect to database, runs will not be recorded")
	} else {
		defer db.Close()
		if err := db.Migrate(context.Background()); err != nil {
			return err
		}
		store = db
	}

	opts := driver.DefaultOptions()
	opts.Headless = cfg.Headless
	opts.ChromeBin = cfg.ChromeBin

	hostname, _ := os.Hostname()
	sessionQueue := workflows.SessionTaskQueue(hostname + "-" + uuid.NewString()[:8])

	acts := activities.NewActivities(opts, store)
	acts.TaskQueue = sessionQueue
	defer acts.Pool.CloseAll()

	// Steps of a session must reach the process holding its browser
	sessionWorker := worker.New(c, sessionQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: 5,
	})
	sessionWorker.RegisterActivity(acts)
	if err := sessionWorker.Start(); err != nil {
		return err
	}
	defer sessionWorker.Stop()

	// Create worker
	w := worker.New(c, workflows.TaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     5,
		MaxConcurrentWorkflowTaskExecutionSize: 10,
	})

	w.RegisterWorkflow(workflows.VerificationWorkflow)
	w.RegisterActivity(acts)

	log.Infof("Starting Temporal worker on task queue: %s (sessions: %s)", workflows.TaskQueue, sessionQueue)
	log.Infof("Temporal host: %s", cfg.TemporalHost)

	return w.Run(worker.InterruptCh())
}
