package internal

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/starford/scribe/internal/mcpserver"
	"github.com/starford/scribe/internal/postservice"
	"github.com/starford/scribe/internal/storage"
)

// RunMCP serves the MCP tools on stdin/stdout until the client disconnects.
// Logs go to stderr since stdout carries the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	ops, closeOps, err := openBackend(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	defer func() {
		if err := closeOps(); err != nil {
			logger.Warn("storage close failed", slog.String("error", err.Error()))
		}
	}()

	store := storage.New(cfg.Storage.Root, ops, storage.WithLogger(logger))
	if err := store.Ready(ctx); err != nil {
		return fmt.Errorf("init storage roots: %w", err)
	}

	svc := postservice.New(store, postservice.WithLogger(logger))
	srv := mcpserver.New(svc, app.version)

	logger.Info("MCP server starting",
		slog.String("storage_backend", cfg.Storage.Backend),
		slog.String("version", app.version))
	return srv.ServeStdio()
}
