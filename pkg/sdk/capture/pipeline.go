package capture

import (
	"maps"

	"go.uber.org/zap"

	"github.com/nicktill/hitmetrics/pkg/config"
	"github.com/nicktill/hitmetrics/pkg/sdk/dispatch"
	"github.com/nicktill/hitmetrics/pkg/sdk/guard"
	"github.com/nicktill/hitmetrics/pkg/sdk/transport"
)

// Pipeline normalizes, fingerprints and guards reports before dispatch.
// The guards are shared by every client of a page.
type Pipeline struct {
	Limiter    *guard.RateLimiter
	Deduper    *guard.Deduper
	Dispatcher *dispatch.Dispatcher
}

// Report sends r unless a guard rejects it. It reports whether r was sent.
func (p Pipeline) Report(r Report) bool {
	stack := guard.NormalizeStack(r.Stack, config.MaxStackLines)
	fp := guard.Fingerprint(r.Message, stack, r.Source, r.Lineno)
	hex := guard.FingerprintHex(fp)

	if p.Limiter.Limited() {
		p.Dispatcher.Dropped(transport.ReasonRateLimited, zap.String("fingerprint", hex))
		return false
	}
	if p.Deduper.Duplicate(fp) {
		p.Dispatcher.Dropped(transport.ReasonDuplicate, zap.String("fingerprint", hex))
		return false
	}

	p.Dispatcher.Error(dispatch.Error{
		Message:     r.Message,
		Stack:       stack,
		Source:      r.Source,
		Lineno:      r.Lineno,
		Colno:       r.Colno,
		Fingerprint: hex,
		Context:     r.Context,
	})
	return true
}

// Message sends a captured message. Messages are rate limited but never
// deduplicated.
func (p Pipeline) Message(text string, level dispatch.Level, ctx map[string]any) bool {
	if p.Limiter.Limited() {
		p.Dispatcher.Dropped(transport.ReasonRateLimited, zap.String("message", text))
		return false
	}
	p.Dispatcher.Message(text, level, ctx)
	return true
}

// FromError builds a report for an explicitly captured error.
func FromError(err error, ctx map[string]any) Report {
	r := Report{Message: err.Error(), Stack: StackOf(err), Context: ctx}
	if r.Stack == "" {
		if s, ok := ctx["stack"].(string); ok {
			r.Stack = s
			r.Context = maps.Clone(ctx)
			delete(r.Context, "stack")
		}
	}
	return r
}
