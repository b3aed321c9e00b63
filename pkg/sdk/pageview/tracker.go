// Package pageview implements the page-view lifecycle: debounced page-view
// sends and duration accounting for the page currently being viewed.
package pageview

import (
	"math"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/nicktill/hitmetrics/pkg/config"
	"github.com/nicktill/hitmetrics/pkg/sdk/clock"
	"github.com/nicktill/hitmetrics/pkg/sdk/dispatch"
	"github.com/nicktill/hitmetrics/pkg/sdk/host"
	"github.com/nicktill/hitmetrics/pkg/sdk/identity"
	"github.com/nicktill/hitmetrics/pkg/sdk/transport"
)

// State is the lifecycle state of a Tracker.
type State int

const (
	// Idle means no page view is current.
	Idle State = iota
	// Active means a page view has an id and a start time.
	Active
)

func (s State) String() string {
	if s == Active {
		return "active"
	}
	return "idle"
}

// Options configures a Tracker.
type Options struct {
	// FirstDelay debounces the first page view, absorbing redirect chains.
	FirstDelay time.Duration
	// Delay debounces every later page view.
	Delay  time.Duration
	Clock  clock.Clock
	Logger *zap.Logger
	// NewID overrides page-view id generation in tests.
	NewID func(t time.Time) string
}

// Record is the page view currently being viewed.
type Record struct {
	ID           string
	Path         string
	Title        string
	Referrer     string
	QueryString  string
	ScreenWidth  int
	ScreenHeight int
	Start        time.Time
	UTM          map[string]string
}

type current struct {
	Record
	sent bool
}

// Tracker owns the page-view state of one client.
type Tracker struct {
	win    host.Window
	ids    *identity.Store
	d      *dispatch.Dispatcher
	clock  clock.Clock
	logger *zap.Logger
	first  time.Duration
	delay  time.Duration
	newID  func(time.Time) string

	mu       sync.Mutex
	lastPath string
	tracked  int
	cur      *current
	pending  clock.Timer
	seq      uint64
	stopped  bool
}

// New creates an idle Tracker.
func New(win host.Window, ids *identity.Store, d *dispatch.Dispatcher, opts Options) *Tracker {
	t := &Tracker{
		win:    win,
		ids:    ids,
		d:      d,
		clock:  opts.Clock,
		logger: opts.Logger,
		first:  opts.FirstDelay,
		delay:  opts.Delay,
		newID:  opts.NewID,
	}
	if t.clock == nil {
		t.clock = clock.Real()
	}
	if t.logger == nil {
		t.logger = zap.NewNop()
	}
	if t.first <= 0 {
		t.first = config.DefaultFirstPageViewDelay
	}
	if t.delay <= 0 {
		t.delay = config.DefaultPageViewDelay
	}
	if t.newID == nil {
		t.newID = newULID
	}
	return t
}

func newULID(at time.Time) string {
	return ulid.MustNew(ulid.Timestamp(at), ulid.DefaultEntropy()).String()
}

// State reports whether a page view is current.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur == nil {
		return Idle
	}
	return Active
}

// Current returns a copy of the current record.
func (t *Tracker) Current() (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cur == nil {
		return Record{}, false
	}
	return t.cur.Record, true
}

// HasPending reports whether a page-view send is scheduled.
func (t *Tracker) HasPending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}

// TrackPageView starts a new page view for path, or for the current
// location when path is empty. Repeating the last tracked path is a no-op.
func (t *Tracker) TrackPageView(path string) {
	if path == "" {
		if loc := t.win.Location(); loc != nil {
			path = loc.Path
		}
	}

	t.mu.Lock()
	if t.stopped || path == t.lastPath {
		t.mu.Unlock()
		return
	}
	t.cancelLocked()
	prev := t.finishLocked()

	now := t.clock.Now()
	rec := Record{
		ID:       t.newID(now),
		Path:     path,
		Title:    t.win.Document().Title(),
		Referrer: t.ids.Referrer(),
		Start:    now,
	}
	rec.ScreenWidth, rec.ScreenHeight = t.win.Screen()
	if loc := t.win.Location(); loc != nil {
		rec.QueryString = loc.RawQuery
	}
	if utm := t.ids.SessionUTM(); len(utm) > 0 {
		rec.UTM = make(map[string]string, len(utm))
		for k := range utm {
			rec.UTM[k] = utm.Get(k)
		}
	}

	t.lastPath = path
	t.cur = &current{Record: rec}

	delay := t.delay
	if t.tracked == 0 {
		delay = t.first
	}
	t.tracked++
	t.seq++
	seq := t.seq
	t.pending = t.clock.AfterFunc(delay, func() { t.fire(seq) })
	t.mu.Unlock()

	t.report(prev)
}

// SendDuration reports how long the current page view has been viewed and
// clears it.
func (t *Tracker) SendDuration() {
	t.mu.Lock()
	t.cancelLocked()
	done := t.finishLocked()
	t.mu.Unlock()

	t.report(done)
}

// OnHidden handles the page becoming hidden. A page view still waiting for
// its debounce is dropped.
func (t *Tracker) OnHidden() {
	t.SendDuration()
}

// OnUnload handles the page being unloaded.
func (t *Tracker) OnUnload() {
	t.SendDuration()
}

// Flush emits a pending page view immediately and then reports its
// duration.
func (t *Tracker) Flush() {
	t.mu.Lock()
	var pv *dispatch.PageView
	if t.pending != nil {
		t.cancelLocked()
		pv = t.emitLocked()
	}
	done := t.finishLocked()
	t.mu.Unlock()

	if pv != nil {
		t.d.PageView(*pv)
	}
	t.report(done)
}

// Stop cancels every timer without emitting anything. The tracker ignores
// further calls.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cancelLocked()
	t.cur = nil
	t.stopped = true
}

func (t *Tracker) fire(seq uint64) {
	t.mu.Lock()
	if seq != t.seq || t.pending == nil {
		t.mu.Unlock()
		return
	}
	t.pending = nil
	pv := t.emitLocked()
	t.mu.Unlock()

	if pv != nil {
		t.d.PageView(*pv)
	}
}

// emitLocked marks the current record sent and builds its payload. The
// title is re-read so that titles set after navigation are picked up.
func (t *Tracker) emitLocked() *dispatch.PageView {
	if t.cur == nil {
		return nil
	}
	t.cur.sent = true
	if title := t.win.Document().Title(); title != "" {
		t.cur.Title = title
	}
	r := t.cur.Record
	return &dispatch.PageView{
		Page:         dispatch.Page{Path: r.Path, Title: r.Title, QueryString: r.QueryString},
		PageViewID:   r.ID,
		Referrer:     r.Referrer,
		ScreenWidth:  r.ScreenWidth,
		ScreenHeight: r.ScreenHeight,
		UTM:          r.UTM,
	}
}

func (t *Tracker) cancelLocked() {
	if t.pending == nil {
		return
	}
	t.pending.Stop()
	t.pending = nil
	t.seq++
}

// finishLocked clears the current record and returns it when its duration
// should be reported.
func (t *Tracker) finishLocked() *current {
	c := t.cur
	t.cur = nil
	if c == nil {
		return nil
	}
	// An unsent page view has no collector record to attach a duration
	// to, however long it was viewed.
	if !c.sent {
		t.d.Dropped(transport.ReasonNotSent, zap.String("pageViewId", c.ID))
		return nil
	}
	return c
}

func (t *Tracker) report(c *current) {
	if c == nil {
		return
	}
	secs := int64(math.Round(t.clock.Now().Sub(c.Start).Seconds()))
	if secs < config.MinDurationSeconds || secs > config.MaxDurationSeconds {
		t.d.Dropped(transport.ReasonOutOfRange,
			zap.String("pageViewId", c.ID), zap.Int64("seconds", secs))
		return
	}
	t.d.Duration(c.ID, c.Path, secs)
}
