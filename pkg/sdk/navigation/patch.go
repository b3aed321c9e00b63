// Package navigation observes client-side navigations. A Patch wraps the
// history primitives once and fans every navigation out to the listeners
// registered on it.
package navigation

import (
	"sync"

	"github.com/nicktill/hitmetrics/pkg/sdk/host"
)

// Kind identifies what caused a navigation.
type Kind int

const (
	Push Kind = iota
	Replace
	Pop
)

func (k Kind) String() string {
	switch k {
	case Push:
		return "push"
	case Replace:
		return "replace"
	case Pop:
		return "pop"
	default:
		return "unknown"
	}
}

// Listener is called after the URL changed.
type Listener func(kind Kind)

type entry struct {
	id int
	fn Listener
}

// Patch is the single history interceptor of a page. The zero value is
// not usable; use New.
type Patch struct {
	history host.History

	mu        sync.Mutex
	listeners []entry
	nextID    int
	installs  int
	restore   func()
	removePop func()
}

// New creates a Patch over h. Nothing is intercepted until the first
// Register.
func New(h host.History) *Patch {
	return &Patch{history: h}
}

// Register adds fn and installs the interceptor if this is the first
// registration. The returned func removes fn and may be called repeatedly.
func (p *Patch) Register(fn Listener) (unregister func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.history != nil && p.restore == nil {
		p.restore = p.history.Intercept(p.wrap)
		p.removePop = p.history.OnPopState(func() { p.notify(Pop) })
		p.installs++
	}

	p.nextID++
	id := p.nextID
	p.listeners = append(p.listeners, entry{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { p.remove(id) })
	}
}

// Installs reports how many times the history primitives were wrapped.
func (p *Patch) Installs() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.installs
}

// Len returns the number of registered listeners.
func (p *Patch) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

// Uninstall restores the original history primitives and forgets every
// listener. A later Register installs the interceptor again.
func (p *Patch) Uninstall() {
	p.mu.Lock()
	restore, removePop := p.restore, p.removePop
	p.restore, p.removePop = nil, nil
	p.listeners = nil
	p.mu.Unlock()

	if restore != nil {
		restore()
	}
	if removePop != nil {
		removePop()
	}
}

func (p *Patch) wrap(next host.NavigateFunc) host.NavigateFunc {
	return func(kind host.NavigationKind, rawURL string) {
		next(kind, rawURL)
		if kind == host.ReplaceState {
			p.notify(Replace)
			return
		}
		p.notify(Push)
	}
}

func (p *Patch) remove(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, e := range p.listeners {
		if e.id == id {
			p.listeners = append(p.listeners[:i], p.listeners[i+1:]...)
			return
		}
	}
}

// notify runs listeners outside the lock so they may register or
// unregister.
func (p *Patch) notify(kind Kind) {
	p.mu.Lock()
	fns := make([]Listener, len(p.listeners))
	for i, e := range p.listeners {
		fns[i] = e.fn
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(kind)
	}
}
