package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/havoc/pkg/log"
	"github.com/cuemby/havoc/pkg/metrics"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the executor, scheduler and reconciler",
	Long: `Run havoc as a long-lived process on this node.

Tasks left running by a previous process are resumed from their last
substage, scheduled tasks are restored, and active system-resource faults
are reconciled against their endpoints. Prometheus metrics and health
endpoints are served on the metrics address.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("metrics-addr", "", "Metrics and health listen address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if v, _ := cmd.Flags().GetString("metrics-addr"); v != "" {
		cfg.MetricsAddr = v
	}

	rt, err := newEngineRuntime(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := rt.start(ctx); err != nil {
		rt.stop()
		return err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	server := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server error: %w", err)
		}
	}()

	log.Logger.Info().
		Str("node_id", cfg.NodeID).
		Str("data_dir", cfg.DataDir).
		Str("metrics_addr", cfg.MetricsAddr).
		Msg("Havoc is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case runErr = <-errCh:
		log.Logger.Error().Err(runErr).Msg("Shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Logger.Warn().Err(err).Msg("Failed to stop metrics server")
	}
	rt.stop()

	log.Logger.Info().Msg("Shutdown complete")
	return runErr
}
