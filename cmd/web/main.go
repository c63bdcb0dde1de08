package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"videoDownloader/internal/config"
	"videoDownloader/internal/extractor"
	"videoDownloader/internal/handlers"
	"videoDownloader/internal/manager"
	"videoDownloader/internal/metrics"
	"videoDownloader/internal/store"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sessions, backend, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open session store", "backend", cfg.StoreBackend, "error", err)
		os.Exit(1)
	}
	defer sessions.Close()

	if err := os.MkdirAll(cfg.OutputDir, 0o755); err != nil {
		logger.Error("failed to create output dir", "dir", cfg.OutputDir, "error", err)
		os.Exit(1)
	}

	collector := metrics.New()
	svc := extractor.NewService(logger, extractor.Options{
		Command:            cfg.YtDlpPath,
		CookiesFromBrowser: cfg.CookiesFromBrowser,
		CookiesFile:        cfg.CookiesFile,
	})
	mgr := manager.New(logger, sessions, svc, collector, manager.Config{
		OutputDir:       cfg.OutputDir,
		DownloadTimeout: cfg.DownloadTimeout,
		Retention:       cfg.Retention,
	})
	app := handlers.NewApp(logger, mgr, svc, collector, cfg.MetadataTimeout)

	mgr.StartCleanupLoop(ctx, cfg.CleanupInterval)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		// Finished files are streamed in one response and can be large.
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("server started", "addr", cfg.Addr, "store", backend, "yt_dlp", svc.Command(), "output_dir", cfg.OutputDir)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutdown signal received")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		_ = srv.Close()
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		logger.Error("downloads did not stop in time", "error", err)
	}
	logger.Info("server stopped")
}

// openStore builds the configured backend, falling back to memory when a
// durable one is unreachable.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, store.StoreType, error) {
	opts := []store.Option{store.WithRetention(cfg.Retention)}

	switch store.StoreType(cfg.StoreBackend) {
	case store.StoreTypeRedis:
		opts = append(opts, store.WithRedisClient(redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})))
	case store.StoreTypeBolt:
		opts = append(opts, store.WithBoltPath(cfg.BoltPath))
	}

	return store.Open(ctx, store.StoreType(cfg.StoreBackend), logger, opts...)
}
