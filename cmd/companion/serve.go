package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		res, logger, err := bootstrap(ctx)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck
		defer func() {
			if err := res.Cleanup(); err != nil {
				logger.Warn("cleanup failed", zap.Error(err))
			}
		}()

		runCtx, runCancel := context.WithCancel(context.Background())
		defer runCancel()
		res.StartBackground(runCtx)

		httpServer := &http.Server{
			Addr:    res.Config.BindAddr,
			Handler: res.API.Router(),
		}
		listenErr := make(chan error, 1)
		go func() {
			logger.Info("server listening", zap.String("addr", res.Config.BindAddr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				listenErr <- err
			}
			close(listenErr)
		}()

		select {
		case err := <-listenErr:
			if err != nil {
				return err
			}
		case <-ctx.Done():
			logger.Info("shutdown signal received")
		}

		// Shutdown waits for open websocket handlers, which includes each
		// session's memory and report teardown.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), res.Config.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("graceful shutdown failed", zap.Error(err))
			_ = httpServer.Close()
		}
		runCancel()
		logger.Info("shutdown complete")
		return nil
	},
}
