// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/scribe/internal/api"
	"github.com/starford/scribe/internal/postservice"
	"github.com/starford/scribe/internal/sse"
	"github.com/starford/scribe/internal/storage"
	"github.com/starford/scribe/internal/watch"
)

var errConfigRequired = errors.New("config is required")

const readyRetryInterval = 2 * time.Second

// Run starts the HTTP application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("storage_backend", cfg.Storage.Backend),
		slog.String("storage_root", cfg.Storage.Root),
		slog.String("log_level", cfg.App.LogLevel.String()))

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
		logger.Warn("storage not ready, retrying in background", slog.String("error", err.Error()))
	}

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	svc := postservice.New(store,
		postservice.WithNotifier(broker),
		postservice.WithLogger(logger))

	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		writeStatus(w, http.StatusOK, "ok")
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		if !store.IsReady() {
			writeStatus(w, http.StatusServiceUnavailable, "starting")
			return
		}
		writeStatus(w, http.StatusOK, "ok")
	})

	// Mount API routes under /api; nothing reaches storage before Ready.
	r.With(requireReady(store)).Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Keep initializing the storage roots until it succeeds.
	if !store.IsReady() {
		g.Go(func() error {
			return retryReady(gCtx, store, logger)
		})
	}

	// Report out-of-band edits of a local storage directory.
	if cfg.Storage.Backend == BackendLocal && cfg.Storage.Local.Watch {
		dir := filepath.Join(cfg.Storage.Local.Path, filepath.FromSlash(cfg.Storage.Root))
		g.Go(func() error {
			if err := waitReady(gCtx, store); err != nil {
				return nil
			}
			if err := watch.Watch(gCtx, dir, watch.DefaultDebounce, logger, broker.PublishPostEvent); err != nil {
				logger.Error("watcher failed", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the errgroup context so background loops stop once
// the server is down.
var errShutdown = errors.New("shutdown")

func writeStatus(w http.ResponseWriter, code int, status string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = fmt.Fprintf(w, `{"status":%q}`, status)
}

// requireReady answers 503 until the storage roots exist.
func requireReady(store *storage.Storage) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !store.IsReady() {
				w.Header().Set("Retry-After", "2")
				writeStatus(w, http.StatusServiceUnavailable, "starting")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func retryReady(ctx context.Context, store *storage.Storage, logger *slog.Logger) error {
	ticker := time.NewTicker(readyRetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := store.Ready(ctx); err != nil {
				logger.Warn("storage not ready", slog.String("error", err.Error()))
				continue
			}
			logger.Info("storage ready")
			return nil
		}
	}
}

func waitReady(ctx context.Context, store *storage.Storage) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for !store.IsReady() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}
