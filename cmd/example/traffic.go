package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/hitmetrics/pkg/sdk"
	"github.com/nicktill/hitmetrics/pkg/sdk/host"
	"github.com/nicktill/hitmetrics/pkg/sdk/host/browsertest"
)

// step is one thing the simulated visitor does
type step struct {
	name string
	do   func()
}

// runVisit walks a simulated visitor through the shop, one step every
// couple of seconds, so page-view durations come out realistic.
func runVisit(ctx context.Context, win *browsertest.Window, client *sdk.Client, appURL string, logger *zap.Logger) {
	// Give the demo app a moment to start
	time.Sleep(500 * time.Millisecond)

	hit := func(path string) {
		resp, err := http.Get(appURL + path)
		if err != nil {
			logger.Warn("demo app request failed", zap.String("path", path), zap.Error(err))
			return
		}
		resp.Body.Close()
		logger.Info("demo app", zap.String("path", path), zap.Int("status", resp.StatusCode))
	}

	steps := []step{
		{"browse products", func() {
			win.SetTitle("Products")
			win.Navigate("/products")
		}},
		{"view product", func() {
			win.SetTitle("Blue Mug")
			win.Navigate("/products/42")
			client.Track("product_viewed", map[string]any{"sku": "MUG-42", "price": 12.5})
		}},
		{"add to cart", func() {
			client.Track("add_to_cart", map[string]any{"sku": "MUG-42", "quantity": 2})
			hit("/api/cart")
		}},
		{"log in", func() {
			client.Identify("user-1001", map[string]any{"plan": "free"})
		}},
		{"checkout", func() {
			win.SetTitle("Checkout")
			win.Navigate("/checkout")
			hit("/api/checkout")
		}},
		{"script error", func() {
			win.Handlers().Throw(host.ErrorEvent{
				Message: "TypeError: Cannot read properties of undefined (reading 'total')",
				Source:  "https://shop.example.com/static/app.js",
				Lineno:  120,
				Colno:   17,
			})
			win.Handlers().Log(host.ConsoleWarn, "payment widget slow", 2300)
		}},
		{"backend panic", func() {
			hit("/api/panic")
		}},
		{"switch tab", func() {
			win.Hide()
		}},
		{"come back", func() {
			win.Show()
			win.Back("/products/42")
			client.CaptureMessage("returned to product after checkout", sdk.LevelInfo, nil)
		}},
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for i, s := range steps {
		select {
		case <-ctx.Done():
			logger.Info("visit interrupted", zap.Error(context.Cause(ctx)))
			return
		case <-ticker.C:
		}
		logger.Info("visitor step", zap.Int("n", i+1), zap.String("step", s.name))
		s.do()
	}

	flushCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Flush(flushCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("flush failed", zap.Error(err))
	}
}
