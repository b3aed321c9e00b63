package collector

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/nicktill/hitmetrics/pkg/httpx"
	"github.com/nicktill/hitmetrics/pkg/sdk/dispatch"
	"github.com/nicktill/hitmetrics/pkg/storage"
)

// Key prefixes in the event store
const (
	eventPrefix   = "event/"
	visitorPrefix = "visitor/"
	userPrefix    = "user/"
)

// Event is one accepted payload as stored and tailed.
type Event struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	VisitorID  string          `json:"visitorId"`
	ReceivedAt time.Time       `json:"receivedAt"`
	Payload    json.RawMessage `json:"payload"`
}

// envelope holds the identity fields every payload carries
type envelope struct {
	VisitorID string `json:"visitorId"`
	SessionID string `json:"sessionId"`
}

// visitorRecord is the stored form of dispatch.VisitorInfo
type visitorRecord struct {
	dispatch.VisitorInfo
	LastSessionID string `json:"lastSessionId,omitempty"`
}

// Quota reports whether storage has room for more events.
// *usage.Monitor implements it.
type Quota interface {
	Full() (bool, error)
}

// Options configures a Handler.
type Options struct {
	// APIKeys accepted on /v1 routes. Empty accepts every request.
	APIKeys []string
	// Retention expires stored events. 0 keeps them.
	Retention time.Duration
	Quota     Quota
	Logger    *zap.Logger
	Now       func() time.Time
}

// Handler is the development collector.
type Handler struct {
	store     storage.KV
	hub       *Hub
	keys      map[string]struct{}
	retention time.Duration
	quota     Quota
	logger    *zap.Logger
	now       func() time.Time

	// mu serializes id generation and visitor/user read-modify-write
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// NewHandler creates a collector over store
func NewHandler(store storage.KV, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	keys := make(map[string]struct{}, len(opts.APIKeys))
	for _, k := range opts.APIKeys {
		if k != "" {
			keys[k] = struct{}{}
		}
	}
	return &Handler{
		store:     store,
		hub:       NewHub(opts.Logger.Named("tail")),
		keys:      keys,
		retention: opts.Retention,
		quota:     opts.Quota,
		logger:    opts.Logger,
		now:       opts.Now,
		entropy:   ulid.Monotonic(rand.Reader, 0),
	}
}

// Hub returns the live tail hub
func (h *Handler) Hub() *Hub {
	return h.hub
}

// Run runs the tail hub until ctx is done
func (h *Handler) Run(ctx context.Context) {
	h.hub.Run(ctx)
}

// routeType maps a route to the event type it is stored under
func routeType(route string) string {
	return strings.TrimPrefix(route, "/v1/")
}

// HandleIngest accepts a payload for route and stores it as an event
func (h *Handler) HandleIngest(route string) http.HandlerFunc {
	kind := routeType(route)
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.hasRoom(w) {
			return
		}
		raw, env, ok := h.decode(w, r)
		if !ok {
			return
		}

		ev, err := h.record(r.Context(), kind, env, raw, "")
		if err != nil {
			h.logger.Error("failed to store event", zap.String("type", kind), zap.Error(err))
			httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to store event")
			return
		}
		httpx.RespondJSON(w, http.StatusAccepted, map[string]string{"id": ev.ID})
	}
}

// HandleIdentify stores the identify and answers with the canonical
// visitor id for the user. The first visitor seen for a user is canonical.
func (h *Handler) HandleIdentify(w http.ResponseWriter, r *http.Request) {
	if !h.hasRoom(w) {
		return
	}
	raw, env, ok := h.decode(w, r)
	if !ok {
		return
	}
	var body struct {
		UserID string `json:"userId"`
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.UserID == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "userId is required")
		return
	}

	canonical, err := h.canonicalVisitor(r.Context(), body.UserID, env.VisitorID)
	if err != nil {
		h.logger.Error("failed to resolve user", zap.String("userId", body.UserID), zap.Error(err))
		httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to resolve user")
		return
	}

	if _, err := h.record(r.Context(), routeType(dispatch.RouteIdentify), env, raw, body.UserID); err != nil {
		h.logger.Error("failed to store identify", zap.Error(err))
		httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to store event")
		return
	}

	if canonical != env.VisitorID {
		h.logger.Info("merged visitor",
			zap.String("userId", body.UserID),
			zap.String("from", env.VisitorID),
			zap.String("to", canonical))
	}
	httpx.RespondJSON(w, http.StatusOK, dispatch.IdentifyResponse{VisitorID: canonical})
}

// HandleVisitor answers what is known about a visitor
func (h *Handler) HandleVisitor(w http.ResponseWriter, r *http.Request) {
	var req dispatch.VisitorRequest
	if err := httpx.DecodeJSON(w, r, maxPayloadBytes, &req); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	if req.VisitorID == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "visitorId is required")
		return
	}

	rec, err := h.visitor(r.Context(), req.VisitorID)
	if errors.Is(err, storage.ErrNotFound) {
		httpx.RespondErrorString(w, http.StatusNotFound, "unknown visitor")
		return
	}
	if err != nil {
		h.logger.Error("failed to read visitor", zap.String("visitorId", req.VisitorID), zap.Error(err))
		httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to read visitor")
		return
	}
	httpx.RespondJSON(w, http.StatusOK, rec.VisitorInfo)
}

// errStop ends a scan once enough events were collected
var errStop = errors.New("stop")

// HandleEvents lists stored events, oldest first.
// Query parameters: type, visitor, limit.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	kind := q.Get("type")
	visitorID := q.Get("visitor")
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	events := make([]Event, 0)
	err = h.store.Scan(r.Context(), eventPrefix, 0, func(_ string, value []byte) error {
		var ev Event
		if err := json.Unmarshal(value, &ev); err != nil {
			return fmt.Errorf("corrupt event: %w", err)
		}
		if kind != "" && ev.Type != kind {
			return nil
		}
		if visitorID != "" && ev.VisitorID != visitorID {
			return nil
		}
		events = append(events, ev)
		if len(events) >= limit {
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		h.logger.Error("failed to list events", zap.Error(err))
		httpx.RespondErrorString(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}

// HandleHealth returns service health status
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		httpx.RespondError(w, http.StatusServiceUnavailable, err)
		return
	}
	resp := map[string]interface{}{
		"status":       "healthy",
		"keys":         stats.Keys,
		"size_bytes":   stats.SizeBytes,
		"tail_clients": h.hub.Clients(),
	}
	if h.quota != nil {
		if full, err := h.quota.Full(); err == nil {
			resp["storage_full"] = full
		}
	}
	httpx.RespondJSON(w, http.StatusOK, resp)
}

// hasRoom answers 507 once the storage quota is used up
func (h *Handler) hasRoom(w http.ResponseWriter) bool {
	if h.quota == nil {
		return true
	}
	full, err := h.quota.Full()
	if err != nil {
		// fail open
		h.logger.Warn("failed to check storage usage", zap.Error(err))
		return true
	}
	if full {
		httpx.RespondErrorString(w, http.StatusInsufficientStorage, "storage limit reached")
		return false
	}
	return true
}

// decode reads the request body as a JSON object carrying a visitor id
func (h *Handler) decode(w http.ResponseWriter, r *http.Request) (json.RawMessage, envelope, bool) {
	var raw json.RawMessage
	if err := httpx.DecodeJSON(w, r, maxPayloadBytes, &raw); err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return nil, envelope{}, false
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		httpx.RespondErrorString(w, http.StatusBadRequest, "payload must be a JSON object")
		return nil, envelope{}, false
	}
	if env.VisitorID == "" {
		httpx.RespondErrorString(w, http.StatusBadRequest, "visitorId is required")
		return nil, envelope{}, false
	}
	return raw, env, true
}

// record stores raw as an event, updates the visitor and tails the event
func (h *Handler) record(ctx context.Context, kind string, env envelope, raw json.RawMessage, userID string) (Event, error) {
	h.mu.Lock()
	now := h.now()
	ev := Event{
		ID:         ulid.MustNew(ulid.Timestamp(now), h.entropy).String(),
		Type:       kind,
		VisitorID:  env.VisitorID,
		ReceivedAt: now.UTC(),
		Payload:    raw,
	}
	err := h.storeEvent(ctx, ev)
	if err == nil {
		err = h.touchVisitor(ctx, kind, env, userID, now)
	}
	h.mu.Unlock()
	if err != nil {
		return Event{}, err
	}

	if err := h.hub.Broadcast(ev); err != nil {
		h.logger.Warn("failed to tail event", zap.String("id", ev.ID), zap.Error(err))
	}
	return ev, nil
}

func (h *Handler) storeEvent(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return h.store.Set(ctx, eventPrefix+ev.ID, data, h.retention)
}

// touchVisitor must be called with mu held
func (h *Handler) touchVisitor(ctx context.Context, kind string, env envelope, userID string, now time.Time) error {
	rec, err := h.visitor(ctx, env.VisitorID)
	if errors.Is(err, storage.ErrNotFound) {
		rec = visitorRecord{VisitorInfo: dispatch.VisitorInfo{
			VisitorID: env.VisitorID,
			FirstSeen: now.UTC(),
		}}
	} else if err != nil {
		return err
	}

	rec.LastSeen = now.UTC()
	if env.SessionID != "" && env.SessionID != rec.LastSessionID {
		rec.Sessions++
		rec.LastSessionID = env.SessionID
	}
	switch kind {
	case routeType(dispatch.RoutePageView):
		rec.PageViews++
	case routeType(dispatch.RouteEvent):
		rec.Events++
	}
	if userID != "" {
		rec.UserID = userID
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal visitor: %w", err)
	}
	return h.store.Set(ctx, visitorPrefix+env.VisitorID, data, 0)
}

func (h *Handler) visitor(ctx context.Context, visitorID string) (visitorRecord, error) {
	data, err := h.store.Get(ctx, visitorPrefix+visitorID)
	if err != nil {
		return visitorRecord{}, err
	}
	var rec visitorRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return visitorRecord{}, fmt.Errorf("corrupt visitor %q: %w", visitorID, err)
	}
	return rec, nil
}

// canonicalVisitor returns the visitor id first seen for userID, claiming
// visitorID when the user is new
func (h *Handler) canonicalVisitor(ctx context.Context, userID, visitorID string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := h.store.Get(ctx, userPrefix+userID)
	if err == nil {
		return string(data), nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}
	if err := h.store.Set(ctx, userPrefix+userID, []byte(visitorID), 0); err != nil {
		return "", err
	}
	return visitorID, nil
}
