// Package browsertest provides an in-memory browser implementing host.Window.
//
// It is the SDK's test double for a real page: storage, cookies, history,
// lifecycle events and global handlers all behave like their browser
// counterparts closely enough to exercise the SDK end to end.
package browsertest

import (
	"errors"
	"net/url"
	"sync"

	"github.com/nicktill/hitmetrics/pkg/sdk/clock"
	"github.com/nicktill/hitmetrics/pkg/sdk/host"
)

// ErrStorageDisabled is returned by a Storage after Disable is called.
var ErrStorageDisabled = errors.New("browsertest: storage disabled")

// Option configures a Window.
type Option func(*Window)

// WithClock sets the clock used for cookie expiry.
func WithClock(c clock.Clock) Option {
	return func(w *Window) { w.clock = c }
}

// WithReferrer sets document.referrer.
func WithReferrer(ref string) Option {
	return func(w *Window) { w.referrer = ref }
}

// WithTitle sets document.title.
func WithTitle(title string) Option {
	return func(w *Window) { w.title = title }
}

// WithScreen sets the screen dimensions.
func WithScreen(width, height int) Option {
	return func(w *Window) { w.width, w.height = width, height }
}

// WithLocalStorage replaces the localStorage area, e.g. with a persistent one.
func WithLocalStorage(s host.Storage) Option {
	return func(w *Window) { w.local = s }
}

// Window is a fake browser window. The zero value is not usable; use New.
type Window struct {
	mu sync.Mutex

	clock    clock.Clock
	location *url.URL
	title    string
	referrer string
	hidden   bool
	width    int
	height   int
	dnt      bool
	top      bool
	frameErr error

	local   host.Storage
	session *Storage
	cookies *Jar
	history *History
	events  *Events
	globals *Globals
}

var _ host.Window = (*Window)(nil)

// New creates a Window showing rawURL. It panics if rawURL does not parse.
func New(rawURL string, opts ...Option) *Window {
	u, err := url.Parse(rawURL)
	if err != nil {
		panic("browsertest: bad url: " + err.Error())
	}
	w := &Window{
		location: u,
		width:    1920,
		height:   1080,
		top:      true,
		session:  NewStorage(),
		events:   &Events{},
		globals:  newGlobals(),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.clock == nil {
		w.clock = clock.Real()
	}
	if w.local == nil {
		w.local = NewStorage()
	}
	w.cookies = newJar(w.clock)
	w.history = newHistory(w)
	return w
}

func (w *Window) Location() *url.URL {
	w.mu.Lock()
	defer w.mu.Unlock()
	u := *w.location
	return &u
}

func (w *Window) Document() host.Document      { return document{w} }
func (w *Window) LocalStorage() host.Storage   { return w.local }
func (w *Window) SessionStorage() host.Storage { return w.session }
func (w *Window) Cookies() host.Cookies        { return w.cookies }
func (w *Window) History() host.History        { return w.history }
func (w *Window) Events() host.Events          { return w.events }
func (w *Window) Globals() host.Globals        { return w.globals }

// Jar returns the cookie jar for inspection.
func (w *Window) Jar() *Jar { return w.cookies }

// Session returns the sessionStorage area for inspection.
func (w *Window) Session() *Storage { return w.session }

// Handlers returns the global handlers for triggering errors and console calls.
func (w *Window) Handlers() *Globals { return w.globals }

// HistoryStack returns the history fake.
func (w *Window) HistoryStack() *History { return w.history }

// Lifecycle returns the lifecycle event fake.
func (w *Window) Lifecycle() *Events { return w.events }

func (w *Window) DoNotTrack() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dnt
}

func (w *Window) Screen() (width, height int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.width, w.height
}

func (w *Window) IsTopFrame() (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.top, w.frameErr
}

// SetTitle changes document.title.
func (w *Window) SetTitle(title string) {
	w.mu.Lock()
	w.title = title
	w.mu.Unlock()
}

// SetReferrer changes document.referrer.
func (w *Window) SetReferrer(ref string) {
	w.mu.Lock()
	w.referrer = ref
	w.mu.Unlock()
}

// SetDoNotTrack toggles navigator.doNotTrack.
func (w *Window) SetDoNotTrack(on bool) {
	w.mu.Lock()
	w.dnt = on
	w.mu.Unlock()
}

// SetFrame makes the window behave like a nested frame. A non-nil err
// simulates a sandboxed frame where touching window.top throws.
func (w *Window) SetFrame(top bool, err error) {
	w.mu.Lock()
	w.top, w.frameErr = top, err
	w.mu.Unlock()
}

// Navigate performs history.pushState(rawURL).
func (w *Window) Navigate(rawURL string) {
	w.history.call(host.PushState, rawURL)
}

// Replace performs history.replaceState(rawURL).
func (w *Window) Replace(rawURL string) {
	w.history.call(host.ReplaceState, rawURL)
}

// Back simulates a back/forward navigation landing on rawURL.
func (w *Window) Back(rawURL string) {
	w.setLocation(rawURL)
	w.history.firePopState()
}

// Hide fires visibilitychange with document.hidden = true.
func (w *Window) Hide() {
	w.setHidden(true)
}

// Show fires visibilitychange with document.hidden = false.
func (w *Window) Show() {
	w.setHidden(false)
}

// Unload fires pagehide.
func (w *Window) Unload() {
	w.events.firePageHide()
}

// Load simulates a full page load of rawURL arriving from referrer.
// Storage and cookies are kept.
func (w *Window) Load(rawURL, referrer string) {
	w.setLocation(rawURL)
	w.SetReferrer(referrer)
}

// EndSession drops session storage and session cookies, as closing the
// browser does.
func (w *Window) EndSession() {
	w.session.Clear()
	w.cookies.dropSessionCookies()
}

func (w *Window) setHidden(hidden bool) {
	w.mu.Lock()
	w.hidden = hidden
	w.mu.Unlock()
	w.events.fireVisibility(hidden)
}

func (w *Window) setLocation(rawURL string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	next, err := w.location.Parse(rawURL)
	if err != nil {
		return
	}
	w.location = next
}

type document struct{ w *Window }

func (d document) Title() string {
	d.w.mu.Lock()
	defer d.w.mu.Unlock()
	return d.w.title
}

func (d document) Referrer() string {
	d.w.mu.Lock()
	defer d.w.mu.Unlock()
	return d.w.referrer
}

func (d document) Hidden() bool {
	d.w.mu.Lock()
	defer d.w.mu.Unlock()
	return d.w.hidden
}
