// Package capture hooks the page's global error, rejection and console
// handlers and runs what they see through the error guards.
package capture

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/nicktill/hitmetrics/pkg/sdk/host"
)

// Report is one captured error before guards and dispatch.
type Report struct {
	Message string
	Stack   string
	Source  string
	Lineno  int
	Colno   int
	Context map[string]any
}

// Options configures Install.
type Options struct {
	// Console also captures console.warn and console.error.
	Console bool
	Logger  *zap.Logger
}

// Install hooks win's global handlers and calls report for everything they
// catch. Previously installed handlers keep being called. The returned
// teardown restores them exactly and may be called more than once.
func Install(win host.Window, opts Options, report func(Report)) (teardown func()) {
	if win == nil {
		return func() {}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	g := win.Globals()
	safe := func(r Report) {
		defer func() {
			if p := recover(); p != nil {
				logger.Debug("error report panicked", zap.Any("panic", p))
			}
		}()
		report(r)
	}

	prevErr := g.ErrorHandler()
	g.SetErrorHandler(func(ev host.ErrorEvent) bool {
		safe(fromErrorEvent(ev))
		if prevErr != nil {
			return prevErr(ev)
		}
		return false
	})

	prevReject := g.RejectionHandler()
	g.SetRejectionHandler(func(reason any) {
		safe(NormalizeReason(reason).Report())
		if prevReject != nil {
			prevReject(reason)
		}
	})

	prevConsole := map[host.ConsoleLevel]host.ConsoleFunc{}
	if opts.Console {
		for _, level := range []host.ConsoleLevel{host.ConsoleWarn, host.ConsoleError} {
			orig := g.Console(level)
			prevConsole[level] = orig
			g.SetConsole(level, consoleHook(level, orig, safe))
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			g.SetErrorHandler(prevErr)
			g.SetRejectionHandler(prevReject)
			for level, fn := range prevConsole {
				g.SetConsole(level, fn)
			}
		})
	}
}

func fromErrorEvent(ev host.ErrorEvent) Report {
	r := Report{
		Message: ev.Message,
		Source:  ev.Source,
		Lineno:  ev.Lineno,
		Colno:   ev.Colno,
	}
	if ev.Err != nil {
		if r.Message == "" {
			r.Message = ev.Err.Error()
		}
		r.Stack = StackOf(ev.Err)
	}
	if r.Stack == "" {
		r.Stack = fmt.Sprintf("%s at %s:%d:%d", ev.Message, ev.Source, ev.Lineno, ev.Colno)
	}
	return r
}

func consoleHook(level host.ConsoleLevel, orig host.ConsoleFunc, report func(Report)) host.ConsoleFunc {
	return func(args ...any) {
		if orig != nil {
			orig(args...)
		}
		report(Report{
			Message: Stringify(args...),
			Context: map[string]any{"level": string(level), "source": "console"},
		})
	}
}
