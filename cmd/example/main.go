package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/hitmetrics/pkg/sdk"
	"github.com/nicktill/hitmetrics/pkg/sdk/host/browsertest"
	"github.com/nicktill/hitmetrics/pkg/sdk/httpx"
	"github.com/nicktill/hitmetrics/pkg/storage"
	"github.com/nicktill/hitmetrics/pkg/storage/badger"
)

func main() {
	endpoint := flag.String("endpoint", "http://localhost:8080", "collector endpoint")
	apiKey := flag.String("key", "demo-key", "collector api key")
	dataDir := flag.String("data", "./data/example-browser", "where the simulated browser keeps localStorage")
	appAddr := flag.String("app", ":3000", "address of the demo app server")
	flag.Parse()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	// Persistent localStorage: the visitor id survives restarts
	if err := os.MkdirAll(*dataDir, 0755); err != nil {
		logger.Fatal("failed to create data directory", zap.Error(err))
	}
	store, err := badger.New(badger.Config{Path: *dataDir, MaxMemoryMB: 16})
	if err != nil {
		logger.Fatal("failed to open browser storage", zap.Error(err))
	}
	defer store.Close()

	win := browsertest.New("https://shop.example.com/?utm_source=example&utm_campaign=launch",
		browsertest.WithTitle("Shop"),
		browsertest.WithReferrer("https://news.example.org/post/1"),
		browsertest.WithLocalStorage(storage.WebStorage{KV: store, Prefix: "local/"}),
	)

	scope := sdk.NewScope(win, nil)
	defer scope.Close()

	client := sdk.New(sdk.Config{
		APIKey:         *apiKey,
		Endpoint:       *endpoint,
		CaptureConsole: true,
		Logger:         logger.Named("sdk"),
	}, sdk.WithScope(scope))
	if !client.Enabled() {
		logger.Fatal("sdk client is inert, check the endpoint")
	}
	logger.Info("browser session started", zap.String("visitor", client.VisitorID()))

	// Demo backend wrapped with the middleware, reporting through the same client
	mux := http.NewServeMux()
	setupHandlers(mux)
	app := &http.Server{
		Addr:         *appAddr,
		Handler:      httpx.Middleware(client)(mux),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		if err := app.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("demo app failed", zap.Error(err))
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runVisit(ctx, win, client, "http://localhost"+*appAddr, logger)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		logger.Warn("demo app shutdown", zap.Error(err))
	}

	if info, ok := client.VisitorInfo(shutdownCtx); ok {
		logger.Info("collector knows this visitor",
			zap.String("visitor", info.VisitorID),
			zap.String("user", info.UserID),
			zap.Int("page_views", info.PageViews),
			zap.Int("events", info.Events),
			zap.Int("sessions", info.Sessions))
	}

	win.Unload()
	if err := client.Destroy(); err != nil {
		logger.Warn("sdk shutdown", zap.Error(err))
	}
	logger.Info("browser session ended")
}
