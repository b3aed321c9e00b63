package sdk

import (
	"context"
	"net"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/nicktill/hitmetrics/pkg/sdk/capture"
	"github.com/nicktill/hitmetrics/pkg/sdk/dispatch"
	"github.com/nicktill/hitmetrics/pkg/sdk/identity"
	"github.com/nicktill/hitmetrics/pkg/sdk/navigation"
	"github.com/nicktill/hitmetrics/pkg/sdk/pageview"
	"github.com/nicktill/hitmetrics/pkg/sdk/transport"
	"github.com/nicktill/hitmetrics/pkg/sdk/vitals"
)

// Level classifies a captured message.
type Level = dispatch.Level

const (
	LevelDebug   = dispatch.LevelDebug
	LevelInfo    = dispatch.LevelInfo
	LevelWarning = dispatch.LevelWarning
	LevelError   = dispatch.LevelError
)

// VisitorInfo is what the collector knows about the current visitor.
type VisitorInfo = dispatch.VisitorInfo

// Option configures New.
type Option func(*options)

type options struct {
	scope *Scope
}

// WithScope binds the client to a page scope.
func WithScope(s *Scope) Option {
	return func(o *options) { o.scope = s }
}

// Client is the hitmetrics SDK client. A Client that could not be enabled
// is inert: every method is a safe no-op.
type Client struct {
	cfg    ResolvedConfig
	scope  *Scope
	logger *zap.Logger

	enabled bool
	primary bool

	ids      *identity.Store
	queue    *transport.Queue
	d        *dispatch.Dispatcher
	tracker  *pageview.Tracker
	pipeline capture.Pipeline

	mu        sync.Mutex
	teardowns []func()
	destroyed bool
}

// New creates a Client. It never fails: when the environment cannot be
// tracked the client is returned inert.
func New(cfg Config, opts ...Option) *Client {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.scope == nil {
		o.scope = DefaultScope()
	}

	c := &Client{cfg: Resolve(cfg), scope: o.scope}
	c.logger = c.cfg.Logger

	if reason := c.gate(); reason != "" {
		c.logger.Debug("client inert", zap.String("reason", reason))
		return c
	}

	if err := c.wire(); err != nil {
		c.logger.Debug("client inert", zap.String("reason", "transport"), zap.Error(err))
		c.scope.release(c)
		c.primary = false
		return c
	}
	c.enabled = true
	c.install()
	return c
}

// gate runs the environment guards in order and returns why the client
// must stay inert, or "" when it may run.
func (c *Client) gate() string {
	win := c.scope.Window()
	if win == nil {
		return "no window"
	}
	if top, err := win.IsTopFrame(); err != nil || !top {
		return "nested frame"
	}
	if loc := win.Location(); loc != nil && isLoopback(loc.Hostname()) {
		return "loopback host"
	}
	c.primary = c.scope.claim(c)
	if c.cfg.Disabled || (win.DoNotTrack() && !c.cfg.IgnoreDoNotTrack) {
		if c.primary {
			c.scope.release(c)
			c.primary = false
		}
		return "disabled"
	}
	return ""
}

func isLoopback(hostname string) bool {
	h := strings.ToLower(strings.TrimSuffix(hostname, "."))
	if h == "localhost" || strings.HasSuffix(h, ".localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}

func (c *Client) wire() error {
	t := c.cfg.Transport
	if t == nil {
		httpT, err := transport.NewHTTP(c.cfg.Endpoint, c.cfg.APIKey)
		if err != nil {
			return err
		}
		t = httpT
	}

	win, clk := c.scope.Window(), c.scope.Clock()
	c.queue = transport.NewQueue(t, transport.QueueConfig{Logger: c.logger})
	c.queue.Start(context.Background())

	c.ids = identity.New(win, identity.Options{
		SessionTimeout: c.cfg.SessionTimeout,
		CookieDomain:   c.cfg.CookieDomain,
		Clock:          clk,
		Logger:         c.logger,
	})
	c.d = dispatch.New(win, c.ids, c.queue, dispatch.Options{
		Clock:  clk,
		Logger: c.logger,
		Lookup: t,
	})
	c.tracker = pageview.New(win, c.ids, c.d, pageview.Options{
		FirstDelay: c.cfg.FirstPageViewDelay,
		Delay:      c.cfg.PageViewDelay,
		Clock:      clk,
		Logger:     c.logger,
	})
	c.pipeline = capture.Pipeline{
		Limiter:    c.scope.limiter,
		Deduper:    c.scope.deduper,
		Dispatcher: c.d,
	}
	return nil
}

// install registers hooks. Only the primary client owns the global error
// and vitals hooks; every client tracks its own page views.
func (c *Client) install() {
	win := c.scope.Window()

	if c.primary && !c.cfg.DisableErrorCapture {
		c.teardowns = append(c.teardowns, capture.Install(win, capture.Options{
			Console: c.cfg.CaptureConsole,
			Logger:  c.logger,
		}, func(r capture.Report) { c.pipeline.Report(r) }))
	}
	if c.primary && !c.cfg.DisableVitals && c.cfg.Vitals != nil {
		c.teardowns = append(c.teardowns, vitals.Forward(c.cfg.Vitals, nil, func(m vitals.Metric) {
			c.d.Vital(string(m.Name), m.Value, m.Rating)
		}))
	}

	if c.cfg.DisableAutoPageViews {
		return
	}
	c.teardowns = append(c.teardowns,
		c.scope.Navigation().Register(func(navigation.Kind) { c.tracker.TrackPageView("") }),
		win.Events().OnVisibilityChange(func(hidden bool) {
			if hidden {
				c.tracker.OnHidden()
			}
		}),
		win.Events().OnPageHide(c.tracker.OnUnload),
	)
	c.tracker.TrackPageView("")
}

// Enabled reports whether the client is tracking.
func (c *Client) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled && !c.destroyed
}

// Primary reports whether the client owns the page's global hooks.
func (c *Client) Primary() bool {
	return c.Enabled() && c.primary
}

// TrackPageView records a page view for path, or for the current location
// when path is empty.
func (c *Client) TrackPageView(path string) {
	if !c.Enabled() {
		return
	}
	c.tracker.TrackPageView(path)
}

// Track sends a custom event. Names must start with a letter and contain
// only letters, digits, '_' and '-'; other names are dropped.
func (c *Client) Track(name string, props map[string]any) {
	if !c.Enabled() {
		return
	}
	c.d.Track(name, props)
}

// Identify associates the current visitor with userID.
func (c *Client) Identify(userID string, traits map[string]any) {
	if !c.Enabled() {
		return
	}
	c.d.Identify(userID, traits)
}

// CaptureError reports err through the error guards.
func (c *Client) CaptureError(err error, ctx map[string]any) {
	if err == nil || !c.Enabled() {
		return
	}
	c.pipeline.Report(capture.FromError(err, ctx))
}

// CaptureMessage reports a message through the rate limiter.
func (c *Client) CaptureMessage(msg string, level Level, ctx map[string]any) {
	if msg == "" || !c.Enabled() {
		return
	}
	c.pipeline.Message(msg, level, ctx)
}

// VisitorID returns the visitor id, or "" when inert.
func (c *Client) VisitorID() string {
	if !c.Enabled() {
		return ""
	}
	return c.ids.VisitorID()
}

// SessionID returns the session id, or "" when inert. Reading it extends
// the session.
func (c *Client) SessionID() string {
	if !c.Enabled() {
		return ""
	}
	return c.ids.SessionID()
}

// VisitorInfo looks the visitor up on the collector.
func (c *Client) VisitorInfo(ctx context.Context) (VisitorInfo, bool) {
	if !c.Enabled() {
		return VisitorInfo{}, false
	}
	return c.d.VisitorInfo(ctx)
}

// Flush emits a pending page view and its duration, then waits for queued
// payloads to be attempted.
func (c *Client) Flush(ctx context.Context) error {
	if !c.Enabled() {
		return nil
	}
	c.tracker.Flush()
	return c.queue.Flush(ctx)
}

// Destroy flushes, removes every hook and stops delivery. A new client may
// become primary afterwards. It is safe to call more than once.
func (c *Client) Destroy() error {
	c.mu.Lock()
	if !c.enabled || c.destroyed {
		c.mu.Unlock()
		return nil
	}
	c.destroyed = true
	teardowns := c.teardowns
	c.teardowns = nil
	c.mu.Unlock()

	c.tracker.Flush()
	for i := len(teardowns) - 1; i >= 0; i-- {
		teardowns[i]()
	}
	c.tracker.Stop()
	if c.primary {
		c.scope.release(c)
	}
	return c.queue.Stop()
}
