package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ruxailab/accessiblity-testing-backend/internal/config"
	"github.com/ruxailab/accessiblity-testing-backend/internal/observability"
	"github.com/ruxailab/accessiblity-testing-backend/internal/server"
	"github.com/ruxailab/accessiblity-testing-backend/internal/service"
)

func newServeCmd(v *viper.Viper, factory service.ComponentFactory) *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Serves the scan API until interrupted. Every request drives its own browser
session; reports are stored in the configured database, or in memory when
none is set.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runServe(ctx, observability.GetLogger(), cfg, factory)
		},
	}

	serveCmd.Flags().String("addr", "", "Listen address, e.g. :5000. (Overrides config/env)")
	_ = v.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	return serveCmd
}

// runServe blocks until ctx is cancelled, then drains in-flight requests.
func runServe(ctx context.Context, logger *zap.Logger, cfg config.Interface, factory service.ComponentFactory) error {
	components, err := factory.Create(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize server components: %w", err)
	}
	defer components.Shutdown()

	srv := server.New(cfg.Server(), components.Orchestrator, components.Store, logger)
	if err := srv.ListenAndServe(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("server stopped: %w", err)
	}
	logger.Info("Server shut down cleanly.")
	return nil
}
