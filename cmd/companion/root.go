package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ent0n29/companion/internal/app"
	"github.com/ent0n29/companion/internal/config"
	"github.com/ent0n29/companion/internal/observability"
)

var rootCmd = &cobra.Command{
	Use:           "companion",
	Short:         "Voice companion with long-term memory and caregiver reports",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// bootstrap loads configuration and wires every component. The caller owns
// the returned cleanup.
func bootstrap(ctx context.Context) (*app.BuildResult, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("config error: %w", err)
	}
	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return nil, nil, err
	}
	res, err := app.Build(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, nil, fmt.Errorf("startup failed: %w", err)
	}
	return res, logger, nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(reportCmd)
}
