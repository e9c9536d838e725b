package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"

	"dev/bravebird/flow-verify/pkg/api"
	"dev/bravebird/flow-verify/pkg/config"
	"dev/bravebird/flow-verify/pkg/database"
	"dev/bravebird/flow-verify/pkg/driver"
	"dev/bravebird/flow-verify/pkg/logger"
	"dev/bravebird/flow-verify/pkg/scenario"
)

func main() {
	var configFile string

	cmd := &cobra.Command{
		Use:   "api",
		Short: "Serve the flow-verify REST API",
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
			return serve(cfg)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "config file (default: flowverify.yaml)")
	flags.String("port", "8080", "listen port")
	flags.String("base-url", scenario.DefaultBaseURL, "address of the application under test")
	flags.String("executor", "temporal", "run executor: temporal or local")
	flags.String("driver", "rod", "default browser driver")
	flags.String("mysql-dsn", "", "MySQL DSN")
	flags.String("temporal-host", "localhost:7233", "Temporal frontend address")
	flags.String("failure-screenshot-dir", config.DefaultFailureScreenshotDir, "directory for failure screenshots")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(cfg *config.Config) error {
	log := logger.New().Component("api")
	log.Info("Starting flow-verify API server")

	// Initialize database
	var store api.Store
	var recorder api.Recorder
	db, err := database.New(cfg.MySQLDSN)
	if err != nil {
		log.WithError(err).Warn("Failed to connect to database, running without persistence")
	} else {
		defer db.Close()
		if err := db.Migrate(context.Background()); err != nil {
			return err
		}
		store, recorder = db, db
	}

	var executor api.Executor
	switch cfg.Executor {
	case "local":
		opts := driver.DefaultOptions()
		opts.ChromeBin = cfg.ChromeBin
		executor = api.NewLocalExecutor(opts, recorder, log.WithField("executor", "local"))
	default:
		temporalClient, err := client.Dial(client.Options{
			HostPort: cfg.TemporalHost,
		})
		if err != nil {
			return err
		}
		defer temporalClient.Close()
		executor = api.NewTemporalExecutor(temporalClient)
	}

	registry := scenario.NewRegistry(cfg.BaseURL, cfg.ScreenshotPath)
	if cfg.ScenarioFile != "" {
		s, err := scenario.LoadFile(cfg.ScenarioFile)
		if err != nil {
			return err
		}
		// The file names its own deployment unless one is given explicitly
		if cfg.IsExplicit("base_url") {
			s = scenario.WithBaseURL(s, cfg.BaseURL)
		}
		if err := registry.Register(s); err != nil {
			return err
		}
	}

	handlers := api.NewHandlers(store, executor, registry, api.Settings{
		Driver:               cfg.Driver,
		Headless:             cfg.Headless,
		FailureScreenshotDir: cfg.FailureScreenshotDir,
		ScreenshotDir:        cfg.FailureScreenshotDir,
	}, log)

	// Setup CORS
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      c.Handler(handlers.Router()),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Infof("API server listening on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return err
	}

	log.Info("Server stopped")
	return nil
}
