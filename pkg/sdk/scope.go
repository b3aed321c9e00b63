package sdk

import (
	"sync"

	"github.com/nicktill/hitmetrics/pkg/config"
	"github.com/nicktill/hitmetrics/pkg/sdk/clock"
	"github.com/nicktill/hitmetrics/pkg/sdk/guard"
	"github.com/nicktill/hitmetrics/pkg/sdk/host"
	"github.com/nicktill/hitmetrics/pkg/sdk/navigation"
)

// Scope is the state shared by every Client on one page: the window, the
// single-instance flag, the navigation patch and the error guards. It lives
// as long as the page does.
type Scope struct {
	win   host.Window
	clock clock.Clock

	limiter *guard.RateLimiter
	deduper *guard.Deduper

	mu    sync.Mutex
	owner *Client
	patch *navigation.Patch
}

// NewScope creates a Scope over win. A nil clock uses real time.
func NewScope(win host.Window, clk clock.Clock) *Scope {
	if clk == nil {
		clk = clock.Real()
	}
	return &Scope{
		win:     win,
		clock:   clk,
		limiter: guard.NewRateLimiter(clk, config.RateLimitWindow, config.RateLimitMax),
		deduper: guard.NewDeduper(clk, config.DedupWindow),
	}
}

var (
	defaultScope     *Scope
	defaultScopeOnce sync.Once
)

// DefaultScope returns the process scope. A Go process has no browser
// window, so clients on it are inert unless a host binds one with
// WithScope.
func DefaultScope() *Scope {
	defaultScopeOnce.Do(func() {
		defaultScope = NewScope(nil, nil)
	})
	return defaultScope
}

// Window returns the scope's window, nil outside a browser.
func (s *Scope) Window() host.Window {
	return s.win
}

// Clock returns the scope's clock.
func (s *Scope) Clock() clock.Clock {
	return s.clock
}

// Initialized reports whether a primary client is active.
func (s *Scope) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner != nil
}

// Navigation returns the page's navigation patch, creating it on first use.
func (s *Scope) Navigation() *navigation.Patch {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.patch == nil {
		var h host.History
		if s.win != nil {
			h = s.win.History()
		}
		s.patch = navigation.New(h)
	}
	return s.patch
}

// Close releases the scope's timers and restores the history primitives.
func (s *Scope) Close() {
	s.deduper.Stop()
	s.mu.Lock()
	patch := s.patch
	s.patch = nil
	s.owner = nil
	s.mu.Unlock()
	if patch != nil {
		patch.Uninstall()
	}
}

// claim makes c the primary client unless one is already active.
func (s *Scope) claim(c *Client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner != nil {
		return false
	}
	s.owner = c
	return true
}

func (s *Scope) release(c *Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner == c {
		s.owner = nil
	}
}
