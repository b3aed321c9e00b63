package browsertest

import (
	"fmt"
	"strings"
	"sync"

	"github.com/nicktill/hitmetrics/pkg/sdk/host"
)

// Globals fakes window.onerror, the unhandledrejection listener and the
// console. The default console methods record what they print.
type Globals struct {
	mu        sync.Mutex
	onError   host.ErrorHandler
	onReject  host.RejectionHandler
	console   map[host.ConsoleLevel]host.ConsoleFunc
	printed   []string
	uncaught  int
	unhandled int
}

var _ host.Globals = (*Globals)(nil)

func newGlobals() *Globals {
	g := &Globals{console: make(map[host.ConsoleLevel]host.ConsoleFunc)}
	for _, level := range []host.ConsoleLevel{host.ConsoleWarn, host.ConsoleError} {
		g.console[level] = func(args ...any) {
			parts := make([]string, len(args))
			for i, a := range args {
				parts[i] = fmt.Sprint(a)
			}
			g.mu.Lock()
			g.printed = append(g.printed, string(level)+": "+strings.Join(parts, " "))
			g.mu.Unlock()
		}
	}
	return g
}

func (g *Globals) ErrorHandler() host.ErrorHandler {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.onError
}

func (g *Globals) SetErrorHandler(h host.ErrorHandler) {
	g.mu.Lock()
	g.onError = h
	g.mu.Unlock()
}

func (g *Globals) RejectionHandler() host.RejectionHandler {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.onReject
}

func (g *Globals) SetRejectionHandler(h host.RejectionHandler) {
	g.mu.Lock()
	g.onReject = h
	g.mu.Unlock()
}

func (g *Globals) Console(level host.ConsoleLevel) host.ConsoleFunc {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.console[level]
}

func (g *Globals) SetConsole(level host.ConsoleLevel, fn host.ConsoleFunc) {
	g.mu.Lock()
	g.console[level] = fn
	g.mu.Unlock()
}

// Throw delivers an uncaught error to window.onerror.
func (g *Globals) Throw(ev host.ErrorEvent) {
	h := g.ErrorHandler()
	if h == nil || !h(ev) {
		g.mu.Lock()
		g.uncaught++
		g.mu.Unlock()
	}
}

// Reject delivers an unhandled promise rejection.
func (g *Globals) Reject(reason any) {
	h := g.RejectionHandler()
	if h == nil {
		g.mu.Lock()
		g.unhandled++
		g.mu.Unlock()
		return
	}
	h(reason)
}

// Log calls the current console method for level.
func (g *Globals) Log(level host.ConsoleLevel, args ...any) {
	if fn := g.Console(level); fn != nil {
		fn(args...)
	}
}

// Printed returns what the original console methods printed.
func (g *Globals) Printed() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.printed...)
}

// DefaultReported returns how many errors reached the browser's default
// reporting because no handler suppressed them.
func (g *Globals) DefaultReported() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.uncaught + g.unhandled
}
