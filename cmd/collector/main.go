package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/nicktill/hitmetrics/pkg/collector"
	"github.com/nicktill/hitmetrics/pkg/config"
	"github.com/nicktill/hitmetrics/pkg/storage"
	"github.com/nicktill/hitmetrics/pkg/storage/badger"
	"github.com/nicktill/hitmetrics/pkg/storage/memory"
	"github.com/nicktill/hitmetrics/pkg/storage/usage"
)

func main() {
	configPath := flag.String("config", "collector.yaml", "path to the collector config file")
	flag.Parse()

	// .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to read .env: %v\n", err)
	}

	cfg, err := config.LoadCollector(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("collector failed", zap.Error(err))
	}
}

func newLogger(json bool) (*zap.Logger, error) {
	if json {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

func openStorage(cfg config.StorageConfig, logger *zap.Logger) (storage.KV, error) {
	switch cfg.Type {
	case "memory":
		logger.Info("using in-memory storage, events are lost on restart")
		return memory.New(), nil
	case "badger", "":
		if err := os.MkdirAll(cfg.Path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := badger.New(badger.Config{
			Path:        cfg.Path,
			MaxMemoryMB: cfg.MaxMemoryMB,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("badger storage initialized",
			zap.String("path", cfg.Path),
			zap.Int64("max_memory_mb", cfg.MaxMemoryMB))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

func run(cfg *config.Collector, logger *zap.Logger) error {
	store, err := openStorage(cfg.Storage, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	opts := collector.Options{
		APIKeys:   cfg.APIKeys,
		Retention: cfg.Storage.Retention,
		Logger:    logger,
	}
	if _, ok := store.(*badger.Storage); ok && cfg.Storage.MaxStorageMB > 0 {
		opts.Quota = usage.New(cfg.Storage.Path, cfg.Storage.MaxStorageMB*1024*1024)
		logger.Info("storage limit enforced", zap.Int64("max_storage_mb", cfg.Storage.MaxStorageMB))
	}
	handler := collector.NewHandler(store, opts)
	if len(cfg.APIKeys) == 0 {
		logger.Warn("no api keys configured, accepting every request")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		handler.Run(ctx)
	}()

	if b, ok := store.(*badger.Storage); ok {
		wg.Add(1)
		go func() {
			defer wg.Done()
			runBadgerGC(ctx, b, logger)
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      handler.Router(),
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("collector listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	}

	// Cancel before waiting, the hub and GC loops only exit on ctx
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("background tasks stopped")
	case <-time.After(5 * time.Second):
		logger.Warn("background tasks did not stop in time")
	}
	return nil
}

// runBadgerGC reclaims value log space until ctx is done
func runBadgerGC(ctx context.Context, store *badger.Storage, logger *zap.Logger) {
	ticker := time.NewTicker(config.BadgerGCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := store.RunGC(0.5); err != nil {
				logger.Warn("badger gc failed", zap.Error(err))
				continue
			}
			logger.Debug("badger gc completed", zap.Duration("took", time.Since(start)))
		}
	}
}
