package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/hitmetrics/pkg/sdk/clock"
	"github.com/nicktill/hitmetrics/pkg/sdk/host/browsertest"
	"github.com/nicktill/hitmetrics/pkg/sdk/identity"
	"github.com/nicktill/hitmetrics/pkg/sdk/transport"
)

type fixture struct {
	win *browsertest.Window
	ids *identity.Store
	rec *transport.Recorder
	d   *Dispatcher
	clk *clock.Manual
}

func newFixture(t *testing.T, rawURL string) *fixture {
	t.Helper()
	clk := clock.NewManual(time.UnixMilli(1700000000000))
	win := browsertest.New(rawURL, browsertest.WithClock(clk), browsertest.WithTitle("Home"))
	ids := identity.New(win, identity.Options{Clock: clk})
	rec := &transport.Recorder{}
	d := New(win, ids, transport.Sync{Transport: rec}, Options{Clock: clk, Lookup: rec})
	return &fixture{win: win, ids: ids, rec: rec, d: d, clk: clk}
}

func TestValidEventName(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"valid_name-1", true},
		{"signup", true},
		{"A", true},
		{"a b", false},
		{"", false},
		{"1abc", false},
		{"_x", false},
		{"café", false},
		{strings.Repeat("a", 255), true},
		{strings.Repeat("a", 256), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidEventName(tt.name), "name %q", tt.name)
	}
}

func TestTrackSendsValidEvents(t *testing.T) {
	f := newFixture(t, "https://example.com/pricing?plan=pro")

	assert.False(t, f.d.Track("a b", nil))
	assert.Empty(t, f.rec.Requests())

	require.True(t, f.d.Track("valid_name-1", map[string]any{"plan": "pro"}))
	reqs := f.rec.Routes(RouteEvent)
	require.Len(t, reqs, 1)

	var ev Event
	require.NoError(t, reqs[0].Decode(&ev))
	assert.Equal(t, "valid_name-1", ev.Name)
	assert.Equal(t, "pro", ev.Properties["plan"])
	assert.Equal(t, "/pricing", ev.Path)
	assert.Equal(t, "plan=pro", ev.QueryString)
	assert.Equal(t, "Home", ev.Title)
	assert.Equal(t, f.ids.VisitorID(), ev.VisitorID)
	assert.NotEmpty(t, ev.SessionID)
	assert.Equal(t, int64(1700000000000), ev.Timestamp)
}

func TestPageViewFillsIdentity(t *testing.T) {
	f := newFixture(t, "https://example.com/")

	f.d.PageView(PageView{
		Page:         Page{Path: "/docs", Title: "Docs"},
		PageViewID:   "pv-1",
		ScreenWidth:  1920,
		ScreenHeight: 1080,
	})

	reqs := f.rec.Routes(RoutePageView)
	require.Len(t, reqs, 1)
	var pv PageView
	require.NoError(t, reqs[0].Decode(&pv))
	assert.Equal(t, "pv-1", pv.PageViewID)
	assert.Equal(t, "/docs", pv.Path)
	assert.Equal(t, f.ids.VisitorID(), pv.VisitorID)
	assert.Equal(t, f.ids.SessionID(), pv.SessionID)
}

func TestDurationUsesBeacon(t *testing.T) {
	f := newFixture(t, "https://example.com/")

	f.d.Duration("pv-1", "/docs", 42)

	reqs := f.rec.Routes(RouteDuration)
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].Beacon)

	var dur Duration
	require.NoError(t, reqs[0].Decode(&dur))
	assert.Equal(t, int64(42), dur.Duration)
	assert.Equal(t, "pv-1", dur.PageViewID)
}

func TestIdentifyAdoptsCanonicalVisitor(t *testing.T) {
	f := newFixture(t, "https://example.com/")
	local := f.ids.VisitorID()

	f.rec.Respond = func(route string, _ json.RawMessage) []byte {
		if route == RouteIdentify {
			return []byte(`{"visitorId":"canonical-visitor"}`)
		}
		return nil
	}
	f.d.Identify("user-1", map[string]any{"plan": "pro"})

	reqs := f.rec.Routes(RouteIdentify)
	require.Len(t, reqs, 1)
	var id Identify
	require.NoError(t, reqs[0].Decode(&id))
	assert.Equal(t, "user-1", id.UserID)
	assert.Equal(t, local, id.VisitorID)
	assert.Equal(t, "canonical-visitor", f.ids.VisitorID())
}

func TestIdentifyKeepsVisitorOnEmptyOrBadResponse(t *testing.T) {
	f := newFixture(t, "https://example.com/")
	local := f.ids.VisitorID()

	f.rec.Respond = func(string, json.RawMessage) []byte { return []byte(`{}`) }
	f.d.Identify("user-1", nil)
	assert.Equal(t, local, f.ids.VisitorID())

	f.rec.Respond = func(string, json.RawMessage) []byte { return []byte(`not json`) }
	f.d.Identify("user-1", nil)
	assert.Equal(t, local, f.ids.VisitorID())

	f.d.Identify("", nil)
	assert.Len(t, f.rec.Routes(RouteIdentify), 2)
}

func TestErrorAndMessagePayloads(t *testing.T) {
	f := newFixture(t, "https://example.com/app")

	f.d.Error(Error{Message: "boom", Stack: "at x", Fingerprint: "abc"})
	f.d.Message("hello", "", map[string]any{"k": "v"})
	f.d.Vital("LCP", 1234.5, "good")

	var e Error
	require.Len(t, f.rec.Routes(RouteError), 1)
	require.NoError(t, f.rec.Routes(RouteError)[0].Decode(&e))
	assert.Equal(t, "boom", e.Message)
	assert.Equal(t, "abc", e.Fingerprint)
	assert.Equal(t, "/app", e.Path)

	var m Message
	require.NoError(t, f.rec.Routes(RouteMessage)[0].Decode(&m))
	assert.Equal(t, LevelInfo, m.Level)
	assert.Equal(t, "v", m.Context["k"])

	var v Vital
	require.NoError(t, f.rec.Routes(RouteVitals)[0].Decode(&v))
	assert.Equal(t, "LCP", v.Name)
	assert.InDelta(t, 1234.5, v.Value, 0.001)
}

func TestVisitorInfo(t *testing.T) {
	f := newFixture(t, "https://example.com/")
	id := f.ids.VisitorID()

	f.rec.Respond = func(route string, body json.RawMessage) []byte {
		var req VisitorRequest
		_ = json.Unmarshal(body, &req)
		out, _ := json.Marshal(VisitorInfo{VisitorID: req.VisitorID, UserID: "user-1", PageViews: 3})
		return out
	}
	info, ok := f.d.VisitorInfo(context.Background())
	require.True(t, ok)
	assert.Equal(t, id, info.VisitorID)
	assert.Equal(t, 3, info.PageViews)

	f.rec.Err = errors.New("offline")
	_, ok = f.d.VisitorInfo(context.Background())
	assert.False(t, ok)
}

func TestDispatcherWithoutWindow(t *testing.T) {
	rec := &transport.Recorder{}
	d := New(nil, identity.New(nil, identity.Options{}), transport.Sync{Transport: rec}, Options{})

	assert.Equal(t, Page{}, d.Page())
	_, ok := d.VisitorInfo(context.Background())
	assert.False(t, ok)
}
