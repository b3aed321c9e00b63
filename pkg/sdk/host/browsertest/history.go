package browsertest

import (
	"sync"

	"github.com/nicktill/hitmetrics/pkg/sdk/host"
)

// History fakes window.history. Interceptors stack the way monkey-patching
// history.pushState does in a real page.
type History struct {
	mu        sync.Mutex
	current   host.NavigateFunc
	intercept int
	pop       listeners[func()]
}

var _ host.History = (*History)(nil)

func newHistory(w *Window) *History {
	return &History{
		current: func(_ host.NavigationKind, rawURL string) {
			w.setLocation(rawURL)
		},
	}
}

func (h *History) Intercept(wrap func(next host.NavigateFunc) host.NavigateFunc) func() {
	h.mu.Lock()
	defer h.mu.Unlock()

	prev := h.current
	h.current = wrap(prev)
	h.intercept++

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			h.current = prev
			h.mu.Unlock()
		})
	}
}

func (h *History) OnPopState(fn func()) func() {
	return h.pop.add(fn)
}

// Intercepts returns how many times the history primitives were wrapped.
func (h *History) Intercepts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.intercept
}

func (h *History) call(kind host.NavigationKind, rawURL string) {
	h.mu.Lock()
	fn := h.current
	h.mu.Unlock()
	fn(kind, rawURL)
}

func (h *History) firePopState() {
	for _, fn := range h.pop.snapshot() {
		fn()
	}
}

// listeners is an ordered listener list with removable entries.
type listeners[F any] struct {
	mu      sync.Mutex
	nextID  int
	entries []listenerEntry[F]
}

type listenerEntry[F any] struct {
	id int
	fn F
}

func (l *listeners[F]) add(fn F) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	id := l.nextID
	l.entries = append(l.entries, listenerEntry[F]{id: id, fn: fn})
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, e := range l.entries {
			if e.id == id {
				l.entries = append(l.entries[:i], l.entries[i+1:]...)
				return
			}
		}
	}
}

func (l *listeners[F]) snapshot() []F {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]F, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.fn
	}
	return out
}

func (l *listeners[F]) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Events fakes page lifecycle events.
type Events struct {
	visibility listeners[func(bool)]
	pageHide   listeners[func()]
}

var _ host.Events = (*Events)(nil)

func (e *Events) OnVisibilityChange(fn func(hidden bool)) func() {
	return e.visibility.add(fn)
}

func (e *Events) OnPageHide(fn func()) func() {
	return e.pageHide.add(fn)
}

// Listeners returns the number of registered lifecycle listeners.
func (e *Events) Listeners() int {
	return e.visibility.len() + e.pageHide.len()
}

func (e *Events) fireVisibility(hidden bool) {
	for _, fn := range e.visibility.snapshot() {
		fn(hidden)
	}
}

func (e *Events) firePageHide() {
	for _, fn := range e.pageHide.snapshot() {
		fn()
	}
}
