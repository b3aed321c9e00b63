package main

import (
	"encoding/json"
	"errors"
	"math/rand"
	"net/http"
	"time"

	"github.com/nicktill/hitmetrics/pkg/sdk/httpx"
)

// setupHandlers configures the demo shop backend
func setupHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/api/cart", handleCart)
	mux.HandleFunc("/api/checkout", handleCheckout)

	// Panics are recovered and reported by httpx.Middleware
	mux.HandleFunc("/api/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("inventory service returned nil order")
	})

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func handleCart(w http.ResponseWriter, r *http.Request) {
	time.Sleep(time.Duration(20+rand.Intn(30)) * time.Millisecond)
	writeJSON(w, http.StatusOK, map[string]any{"items": 2, "total": 25.0})
}

func handleCheckout(w http.ResponseWriter, r *http.Request) {
	time.Sleep(time.Duration(50+rand.Intn(50)) * time.Millisecond)

	// Occasional payment failures for the demo
	if rand.Float32() < 0.3 {
		httpx.CaptureError(r.Context(), errors.New("payment declined"), map[string]any{"provider": "demo"})
		writeJSON(w, http.StatusPaymentRequired, map[string]string{"error": "payment declined"})
		return
	}

	httpx.Track(r.Context(), "order_completed", map[string]any{"total": 25.0})
	writeJSON(w, http.StatusOK, map[string]string{"order": "ord_123"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
