package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/nimeshabuddhika/fraud-router/pkg"
	"github.com/nimeshabuddhika/fraud-router/pkg/tracing"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/app"
	"github.com/nimeshabuddhika/fraud-router/services/fraud-worker/configs"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Consume the transactions topic and serve the HTTP batch trigger",
		Long: `Start the worker.

Configuration comes from APP_ prefixed environment variables and an optional
config.<mode>.yaml under ./services/fraud-worker/configs.

Examples:
  APP_ALERT_DESTINATION=kafka://fraud-alerts APP_CLEAN_DESTINATION=redis://clean fraud-worker serve`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	pkg.InitLogger(zap.String("service", "fraud-worker"))
	logger := pkg.Logger
	defer func() { _ = logger.Sync() }()

	cfg, err := configs.Load(logger)
	if err != nil {
		return err
	}
	pkg.ExposeErrorDetails = pkg.ExposeErrorDetails || cfg.ExposeErrorDetails

	// Handle shutdown signals (SIGINT, SIGTERM) for a K8s pod termination grace period
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.InitTracerProvider(logger, cfg.ServiceName, cfg.JaegerEndpoint)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("tracing_shutdown_error", zap.Error(err))
		}
	}()

	a, err := app.NewApp(ctx, logger, cfg)
	if err != nil {
		logger.Error("failed_to_start", zap.Error(err))
		return err
	}
	return a.Run(ctx)
}
