package collector

import (
	"bufio"
	"crypto/subtle"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nicktill/hitmetrics/pkg/config"
	"github.com/nicktill/hitmetrics/pkg/httpx"
	"github.com/nicktill/hitmetrics/pkg/sdk/dispatch"
)

const maxPayloadBytes = config.MaxPayloadBytes

// Router returns the collector's HTTP handler with CORS applied
func (h *Handler) Router() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", h.HandleHealth).Methods(http.MethodGet)

	api := router.PathPrefix("/v1").Subrouter()
	api.Use(h.logRequests, h.requireKey)

	for _, route := range dispatch.Routes {
		path := strings.TrimPrefix(route, "/v1")
		switch route {
		case dispatch.RouteIdentify:
			api.HandleFunc(path, h.HandleIdentify).Methods(http.MethodPost)
		case dispatch.RouteVisitor:
			api.HandleFunc(path, h.HandleVisitor).Methods(http.MethodPost)
		default:
			api.HandleFunc(path, h.HandleIngest(route)).Methods(http.MethodPost)
		}
	}
	api.HandleFunc("/events", h.HandleEvents).Methods(http.MethodGet)
	api.Handle("/tail", h.hub).Methods(http.MethodGet)

	// Preflight requests never reach a route, so CORS wraps the router
	return cors(router)
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireKey accepts a Bearer header or, for beacons, the key query parameter
func (h *Handler) requireKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(h.keys) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		key := r.URL.Query().Get("key")
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			key = strings.TrimPrefix(auth, "Bearer ")
		}
		if !h.validKey(key) {
			httpx.RespondErrorString(w, http.StatusUnauthorized, "invalid api key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) validKey(key string) bool {
	if key == "" {
		return false
	}
	for k := range h.keys {
		if subtle.ConstantTimeCompare([]byte(k), []byte(key)) == 1 {
			return true
		}
	}
	return false
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		h.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("took", time.Since(start)))
	})
}

// statusWriter records the status code. It must stay hijackable for the tail.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func parseLimit(s string) (int, error) {
	if s == "" {
		return config.EventsListLimit, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid limit %q", s)
	}
	if n > config.EventsListLimit {
		n = config.EventsListLimit
	}
	return n, nil
}
