// Package dispatch turns SDK calls into collector payloads. It holds no
// event state of its own: identity comes from the identity store, page
// context from the window, and delivery is delegated to a transport.Sender.
package dispatch

import (
	"context"
	"encoding/json"
	"regexp"

	"go.uber.org/zap"

	"github.com/nicktill/hitmetrics/pkg/config"
	"github.com/nicktill/hitmetrics/pkg/sdk/clock"
	"github.com/nicktill/hitmetrics/pkg/sdk/host"
	"github.com/nicktill/hitmetrics/pkg/sdk/identity"
	"github.com/nicktill/hitmetrics/pkg/sdk/transport"
)

var eventNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// ValidEventName reports whether name may be sent as a custom event.
func ValidEventName(name string) bool {
	return name != "" && len(name) <= config.MaxEventNameLength && eventNamePattern.MatchString(name)
}

// Options configures a Dispatcher.
type Options struct {
	Clock  clock.Clock
	Logger *zap.Logger
	// Lookup serves synchronous requests such as VisitorInfo.
	Lookup transport.Transport
}

// Dispatcher builds payloads and hands them to a Sender.
type Dispatcher struct {
	win    host.Window
	ids    *identity.Store
	sender transport.Sender
	lookup transport.Transport
	clock  clock.Clock
	logger *zap.Logger
}

// New creates a Dispatcher.
func New(win host.Window, ids *identity.Store, sender transport.Sender, opts Options) *Dispatcher {
	d := &Dispatcher{
		win:    win,
		ids:    ids,
		sender: sender,
		lookup: opts.Lookup,
		clock:  opts.Clock,
		logger: opts.Logger,
	}
	if d.clock == nil {
		d.clock = clock.Real()
	}
	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	return d
}

// Identity snapshots visitor and session ids. Reading the session id
// counts as activity.
func (d *Dispatcher) Identity() Identity {
	return Identity{
		VisitorID: d.ids.VisitorID(),
		SessionID: d.ids.SessionID(),
		Timestamp: d.clock.Now().UnixMilli(),
	}
}

// Page snapshots the current location and title.
func (d *Dispatcher) Page() Page {
	if d.win == nil {
		return Page{}
	}
	p := Page{Title: d.win.Document().Title()}
	if loc := d.win.Location(); loc != nil {
		p.Path = loc.Path
		p.QueryString = loc.RawQuery
	}
	return p
}

// PageView sends a page view. Identity fields are filled in here.
func (d *Dispatcher) PageView(pv PageView) {
	pv.Identity = d.Identity()
	d.sender.Post(RoutePageView, pv, nil)
}

// Duration beacons the time spent on a page view.
func (d *Dispatcher) Duration(pageViewID, path string, seconds int64) {
	d.sender.Beacon(RouteDuration, Duration{
		Identity:   d.Identity(),
		PageViewID: pageViewID,
		Path:       path,
		Duration:   seconds,
	})
}

// Track sends a custom event. Invalid names are dropped without an error.
func (d *Dispatcher) Track(name string, props map[string]any) bool {
	if !ValidEventName(name) {
		d.Dropped(transport.ReasonInvalidEvent, zap.String("event", name))
		return false
	}
	d.sender.Post(RouteEvent, Event{
		Identity:   d.Identity(),
		Page:       d.Page(),
		Name:       name,
		Properties: props,
	}, nil)
	return true
}

// Identify associates the visitor with a user id. When the collector answers
// with a different canonical visitor id, local identity adopts it.
func (d *Dispatcher) Identify(userID string, traits map[string]any) {
	if userID == "" {
		return
	}
	payload := Identify{Identity: d.Identity(), UserID: userID, Traits: traits}
	local := payload.VisitorID
	d.sender.Post(RouteIdentify, payload, func(body []byte) {
		var resp IdentifyResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			d.logger.Debug("identify response unreadable", zap.Error(err))
			return
		}
		if resp.VisitorID != "" && resp.VisitorID != local {
			d.ids.SetVisitorID(resp.VisitorID)
		}
	})
}

// Error sends an error report. Callers run it through the guards first.
func (d *Dispatcher) Error(e Error) {
	e.Identity = d.Identity()
	e.Page = d.Page()
	d.sender.Post(RouteError, e, nil)
}

// Message sends a captured message.
func (d *Dispatcher) Message(text string, level Level, ctx map[string]any) {
	if level == "" {
		level = LevelInfo
	}
	d.sender.Post(RouteMessage, Message{
		Identity: d.Identity(),
		Page:     d.Page(),
		Message:  text,
		Level:    level,
		Context:  ctx,
	}, nil)
}

// Vital forwards one web-vitals measurement.
func (d *Dispatcher) Vital(name string, value float64, rating string) {
	d.sender.Post(RouteVitals, Vital{
		Identity: d.Identity(),
		Page:     d.Page(),
		Name:     name,
		Value:    value,
		Rating:   rating,
	}, nil)
}

// VisitorInfo asks the collector about the current visitor. It reports false
// on any failure.
func (d *Dispatcher) VisitorInfo(ctx context.Context) (VisitorInfo, bool) {
	if d.lookup == nil {
		return VisitorInfo{}, false
	}
	id := d.ids.VisitorID()
	if id == "" {
		return VisitorInfo{}, false
	}
	body, err := d.lookup.Send(ctx, RouteVisitor, VisitorRequest{VisitorID: id})
	if err != nil {
		d.logger.Debug("visitor lookup failed", zap.Error(err))
		return VisitorInfo{}, false
	}
	var info VisitorInfo
	if err := json.Unmarshal(body, &info); err != nil || info.VisitorID == "" {
		return VisitorInfo{}, false
	}
	return info, true
}

// Dropped logs a payload that was deliberately not sent.
func (d *Dispatcher) Dropped(reason transport.DropReason, fields ...zap.Field) {
	d.logger.Debug("payload dropped", append([]zap.Field{zap.String("reason", string(reason))}, fields...)...)
}
