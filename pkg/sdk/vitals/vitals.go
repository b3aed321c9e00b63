// Package vitals forwards web-vitals measurements produced by the host.
package vitals

import "sync"

// Name identifies a web-vitals metric.
type Name string

const (
	TTFB Name = "TTFB"
	FCP  Name = "FCP"
	LCP  Name = "LCP"
	CLS  Name = "CLS"
	INP  Name = "INP"
)

// All lists every metric forwarded by default.
var All = []Name{TTFB, FCP, LCP, CLS, INP}

// Metric is one measurement.
type Metric struct {
	Name   Name
	Value  float64
	Rating string // "good", "needs-improvement" or "poor"
}

// Source produces metrics, e.g. a bridge to the web-vitals library.
type Source interface {
	Subscribe(name Name, fn func(Metric)) (unsubscribe func())
}

// Forward subscribes to every name in names and calls send with the first
// measurement reported for each. Later reports of the same metric are
// ignored. The returned func unsubscribes.
func Forward(src Source, names []Name, send func(Metric)) (stop func()) {
	if src == nil {
		return func() {}
	}
	if len(names) == 0 {
		names = All
	}

	var (
		mu   sync.Mutex
		sent = make(map[Name]bool, len(names))
	)
	unsubs := make([]func(), 0, len(names))
	for _, name := range names {
		unsubs = append(unsubs, src.Subscribe(name, func(m Metric) {
			mu.Lock()
			if sent[m.Name] {
				mu.Unlock()
				return
			}
			sent[m.Name] = true
			mu.Unlock()
			send(m)
		}))
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			for _, u := range unsubs {
				u()
			}
		})
	}
}

// Emitter is an in-process Source. Hosts push measurements with Emit.
type Emitter struct {
	mu     sync.Mutex
	nextID int
	subs   map[Name]map[int]func(Metric)
}

var _ Source = (*Emitter)(nil)

func (e *Emitter) Subscribe(name Name, fn func(Metric)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subs == nil {
		e.subs = make(map[Name]map[int]func(Metric))
	}
	if e.subs[name] == nil {
		e.subs[name] = make(map[int]func(Metric))
	}
	e.nextID++
	id := e.nextID
	e.subs[name][id] = fn
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs[name], id)
	}
}

// Emit delivers m to every subscriber of m.Name.
func (e *Emitter) Emit(m Metric) {
	e.mu.Lock()
	fns := make([]func(Metric), 0, len(e.subs[m.Name]))
	for _, fn := range e.subs[m.Name] {
		fns = append(fns, fn)
	}
	e.mu.Unlock()
	for _, fn := range fns {
		fn(m)
	}
}

// Subscribers returns the number of active subscriptions.
func (e *Emitter) Subscribers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, s := range e.subs {
		n += len(s)
	}
	return n
}
