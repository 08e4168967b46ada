package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/kirinuki/internal/queue"
	"github.com/hyperjump/kirinuki/internal/server"
	"github.com/hyperjump/kirinuki/internal/tracing"
	"github.com/hyperjump/kirinuki/internal/watcher"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API, inbox watcher, and queue subscriber",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, version, logger)
	if err != nil {
		logger.Warn("tracing unavailable", zap.Error(err))
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	components, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer components.Close()

	if _, err := components.Pipeline.RebuildSparse(ctx); err != nil {
		logger.Warn("sparse rebuild incomplete", zap.Error(err))
	}

	if len(cfg.Watch.Directories) > 0 {
		inbox := watcher.NewInbox(cfg.Watch, components.Pipeline, watcher.WithLogger(logger))
		if err := inbox.Start(ctx); err != nil {
			return err
		}
		defer inbox.Stop()
		go inbox.Sync()
	}

	if cfg.Queue.Enabled {
		sub := queue.NewSubscriber(cfg.Queue, components.Pipeline, queue.WithLogger(logger))
		if err := sub.Start(ctx); err != nil {
			return err
		}
		defer sub.Close()
	}

	opts := []server.Option{server.WithVectorCount(components.Vectors.Count)}
	if components.Sparse != nil {
		opts = append(opts, server.WithSparseCount(components.Sparse.Len))
	}
	srv := server.NewServer(components.Pipeline, components.Engine, components.Catalog, &cfg.Server, logger, opts...)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
