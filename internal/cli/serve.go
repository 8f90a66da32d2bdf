package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/config"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/logger"
	"github.com/mozilla/shield-studies-addon-utils-sub000/internal/study"
)

func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Set up the study and serve the control API",
		Long: `Load configuration, set up the study, then serve the control API and
the admin server (metrics, liveness, readiness) until SIGINT/SIGTERM.

An ineligible or expired install still starts: the study is already ended
and the control API reports it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	log := logger.New(&cfg.App)
	slog.SetDefault(log)
	cfg.LogConfig(log)

	app, err := Build(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}
	defer app.Close()

	info, err := app.Setup(ctx)
	if err != nil {
		if errors.Is(err, study.ErrInvalidConfig) {
			return fmt.Errorf("study %s: %w", cfg.Study.ConfigFile, err)
		}
		return fmt.Errorf("study setup failed: %w", err)
	}
	logger.WithStudy(log, info.ActiveExperimentName, info.Variation.Name).Info("study set up",
		slog.Bool("first_run", info.IsFirstRun),
		slog.String("state", string(app.Engine.State())),
	)

	return app.Run(ctx)
}
