package main

import (
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"dev/bravebird/flow-verify/pkg/fixture"
	"dev/bravebird/flow-verify/pkg/logger"
)

func main() {
	var addr string

	cmd := &cobra.Command{
		Use:   "fixture",
		Short: "Serve a stand-in of the flow platform for local verification runs",
		Long: `Serves the platform page with the sample flow groups.
Query parameters inject faults, e.g. /?missing=dialog, /?duplicate=true,
/?stuck=true or /?delay=500ms.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.New().Component("fixture")
			srv := fixture.NewServer(fixture.SampleGroups(), log)

			server := &http.Server{
				Addr:         addr,
				Handler:      srv.Router(),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
			}
			log.Infof("Fixture listening on %s", addr)
			return server.ListenAndServe()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":3000", "listen address")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
