package collector

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/hitmetrics/pkg/sdk/dispatch"
	"github.com/nicktill/hitmetrics/pkg/storage/memory"
)

func dialTail(t *testing.T, srv *httptest.Server, h *Handler, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/tail" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return h.Hub().Clients() > 0 }, time.Second, 5*time.Millisecond)
	return conn
}

func TestTailReceivesAcceptedEvents(t *testing.T) {
	h := NewHandler(memory.New(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	conn := dialTail(t, srv, h, "")

	rr := post(t, h.Router(), dispatch.RouteEvent, dispatch.Event{Identity: identity("v1", "s1"), Name: "signup"})
	require.Equal(t, http.StatusAccepted, rr.Code)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev Event
	require.NoError(t, json.Unmarshal(msg, &ev))
	assert.Equal(t, "event", ev.Type)
	assert.Equal(t, "v1", ev.VisitorID)

	var payload dispatch.Event
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, "signup", payload.Name)
}

func TestTailRequiresKey(t *testing.T) {
	h := NewHandler(memory.New(), Options{APIKeys: []string{"secret"}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/tail"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	dialTail(t, srv, h, "?key=secret")
}

func TestHubShutdownClosesClients(t *testing.T) {
	h := NewHandler(memory.New(), Options{})
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	srv := httptest.NewServer(h.Router())
	defer srv.Close()
	conn := dialTail(t, srv, h, "")

	cancel()
	<-stopped

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
	assert.Zero(t, h.Hub().Clients())
}

func TestBroadcastWithoutClientsIsNoop(t *testing.T) {
	hub := NewHub(nil)
	require.NoError(t, hub.Broadcast(map[string]string{"type": "event"}))
	assert.Zero(t, hub.Clients())
}
