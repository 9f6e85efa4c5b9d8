package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/cuemby/pgbranch/pkg/log"
	"github.com/cuemby/pgbranch/pkg/metrics"
)

var serveMetricsCmd = &cobra.Command{
	Use:   "serve-metrics",
	Short: "Serve Prometheus metrics over HTTP until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")

		logger := log.WithComponent("serve-metrics")

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())

		srv := &http.Server{Addr: addr, Handler: mux}

		logger.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server failed: %w", err)
		}
		return nil
	},
}

func init() {
	serveMetricsCmd.Flags().String("addr", ":9090", "address to serve /metrics on")
	rootCmd.AddCommand(serveMetricsCmd)
}
