// Package host describes the browser capabilities the SDK depends on.
//
// The SDK never talks to a browser directly. A host integration (a WASM
// bridge, an embedded webview, or browsertest in tests) implements Window
// and hands it to the SDK. A nil Window means there is no browser at all,
// and every SDK operation degrades to a no-op.
package host

import (
	"net/url"
	"time"
)

// Window is the top-level browsing context of a page.
type Window interface {
	// Location returns the current URL, or nil when unavailable.
	Location() *url.URL
	Document() Document
	// Screen returns the screen dimensions in CSS pixels.
	Screen() (width, height int)
	// DoNotTrack reports the user's Do-Not-Track preference.
	DoNotTrack() bool
	// IsTopFrame reports whether this window is the top window. Sandboxed
	// frames that cannot inspect the top window return an error.
	IsTopFrame() (bool, error)

	LocalStorage() Storage
	SessionStorage() Storage
	Cookies() Cookies
	History() History
	Events() Events
	Globals() Globals
}

// Document is the subset of the DOM document the SDK reads.
type Document interface {
	Title() string
	Referrer() string
	Hidden() bool
}

// Storage is a Web Storage area (localStorage or sessionStorage).
// Implementations may fail, e.g. when storage is disabled or full.
type Storage interface {
	GetItem(key string) (string, bool, error)
	SetItem(key, value string) error
	RemoveItem(key string) error
}

// Cookie describes a cookie write. A zero MaxAge writes a session cookie;
// a negative MaxAge deletes the cookie.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	MaxAge   time.Duration
	SameSite string
	Secure   bool
}

// Cookies is the document cookie jar.
type Cookies interface {
	Get(name string) (string, bool)
	Set(c Cookie) error
}

// NavigationKind tells which history primitive changed the URL.
type NavigationKind int

const (
	PushState NavigationKind = iota
	ReplaceState
)

func (k NavigationKind) String() string {
	switch k {
	case PushState:
		return "pushState"
	case ReplaceState:
		return "replaceState"
	default:
		return "unknown"
	}
}

// NavigateFunc performs a history navigation to rawURL.
type NavigateFunc func(kind NavigationKind, rawURL string)

// History exposes the session history primitives.
type History interface {
	// Intercept wraps pushState/replaceState. The wrapper receives the
	// current implementation and returns its replacement. The returned
	// func restores the previous implementation.
	Intercept(wrap func(next NavigateFunc) NavigateFunc) (restore func())
	// OnPopState subscribes to back/forward navigation.
	OnPopState(fn func()) (remove func())
}

// Events exposes page lifecycle events.
type Events interface {
	OnVisibilityChange(fn func(hidden bool)) (remove func())
	OnPageHide(fn func()) (remove func())
}

// ErrorEvent carries the arguments of a window.onerror invocation.
type ErrorEvent struct {
	Message string
	Source  string
	Lineno  int
	Colno   int
	Err     error
}

// ErrorHandler mirrors window.onerror. Returning true suppresses the
// browser's default reporting.
type ErrorHandler func(ev ErrorEvent) bool

// RejectionHandler mirrors the unhandledrejection listener. The reason may
// be an error or an arbitrary value.
type RejectionHandler func(reason any)

// ConsoleLevel selects a console method.
type ConsoleLevel string

const (
	ConsoleWarn  ConsoleLevel = "warn"
	ConsoleError ConsoleLevel = "error"
)

// ConsoleFunc mirrors console.warn/console.error.
type ConsoleFunc func(args ...any)

// Globals exposes the replaceable global handlers. Getters return nil when
// no handler is installed.
type Globals interface {
	ErrorHandler() ErrorHandler
	SetErrorHandler(h ErrorHandler)
	RejectionHandler() RejectionHandler
	SetRejectionHandler(h RejectionHandler)
	Console(level ConsoleLevel) ConsoleFunc
	SetConsole(level ConsoleLevel, fn ConsoleFunc)
}
