package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	httpadapter "github.com/couchcryptid/school-connectivity-etl/internal/adapter/http"
	"github.com/couchcryptid/school-connectivity-etl/internal/observability"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the stage triggers and enriched data over HTTP",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, observability.NewMetrics())
		if err != nil {
			return err
		}
		defer a.close()

		srv := httpadapter.NewServer(httpadapter.Options{
			Addr:        cfg.HTTPAddr,
			CORSOrigins: cfg.CORSOrigins,
			Paths:       a.paths,
		}, a.runner, logger)

		errCh := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		select {
		case <-ctx.Done():
		case err := <-errCh:
			logger.Error("http server error", "error", err)
			return err
		}
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown error", "error", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}
