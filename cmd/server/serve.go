package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/garyjia/expense-approval/internal/container"
	httpserver "github.com/garyjia/expense-approval/internal/interfaces/http"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and background workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := bootstrap()
		if err != nil {
			return err
		}
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg.ToContainerConfig(), logger)
	},
}

func serve(ctx context.Context, cfg *container.Config, logger *zap.Logger) error {
	logger.Info("Starting expense approval service",
		zap.String("database", cfg.Database.Path),
		zap.Int("port", cfg.Server.Port),
		zap.Strings("warm_bases", cfg.Worker.WarmBases))

	c, err := container.NewContainer(cfg, logger)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Error("Failed to close container", zap.Error(err))
		}
	}()

	services := c.Services()
	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		Mode:            cfg.Server.Mode,
	}, httpserver.Services{
		Claims:   services.Claims,
		Currency: services.Currency,
		Stats:    services.Stats,
		Inbox:    services.Notifier,
		Rates:    c.Rates(),
		Users:    c.Repositories().Directory,
	}, container.NewLoggerAdapter(logger.Named("http")))

	// Start blocks until the signal context is cancelled
	if err := server.Start(ctx); err != nil {
		return err
	}

	logger.Info("Service stopped")
	return nil
}
