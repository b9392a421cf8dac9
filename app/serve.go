package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"polls-backend/routes"
	"polls-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const flagPort = "port"

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the expiry sweeper",
		Long: `Start the HTTP API server together with the background sweeper that
removes polls whose deletion time has passed.

Migrations run on startup. In the development environment the sample
polls are created when the database is empty.`,
		RunE: runServe,
	}
	cmd.Flags().Int(flagPort, 0, "Port to listen on (overrides SERVER_PORT)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt(flagPort); port > 0 {
		cfg.Server.Port = port
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("failed to close resources", zap.Error(err))
		}
	}()

	if cfg.IsDevelopment() {
		created, err := service.SeedSamplePolls(ctx, c.service, true)
		if err != nil {
			return fmt.Errorf("failed to seed sample polls: %w", err)
		}
		if len(created) > 0 {
			logger.Info("sample polls created", zap.Int("count", len(created)))
		}
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := routes.SetupRouter(routes.Dependencies{
		Service: c.service,
		DB:      c.db,
		Redis:   c.redisPinger(),
		Limiter: c.limiter(),
		Metrics: c.metrics,
		Logger:  logger.Named("http"),
		CORS:    cfg.CORS,
	})
	srv := routes.NewServer(cfg.Server, router)
	sweeper := service.NewSweeper(c.service, cfg.Sweeper.Interval, logger.Named("sweeper"))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", srv.Addr), zap.String("environment", cfg.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return sweeper.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server", zap.Duration("timeout", cfg.Server.ShutdownTimeout))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server exited")
	return nil
}
