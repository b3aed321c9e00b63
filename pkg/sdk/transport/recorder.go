package transport

import (
	"context"
	"encoding/json"
	"sync"
)

// Request is one payload captured by a Recorder.
type Request struct {
	Route  string
	Body   json.RawMessage
	Beacon bool
}

// Decode unmarshals the captured body into v.
func (r Request) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// Recorder is an in-memory Transport that keeps every payload. Respond, if
// set, produces the response body for a route.
type Recorder struct {
	mu       sync.Mutex
	requests []Request
	Respond  func(route string, body json.RawMessage) []byte
	// Err, if set, fails every Send after recording it.
	Err error
}

var (
	_ Transport = (*Recorder)(nil)
	_ Beaconer  = (*Recorder)(nil)
)

func (r *Recorder) Send(_ context.Context, route string, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.requests = append(r.requests, Request{Route: route, Body: raw})
	respond, failWith := r.Respond, r.Err
	r.mu.Unlock()

	if failWith != nil {
		return nil, failWith
	}
	if respond != nil {
		return respond(route, raw), nil
	}
	return nil, nil
}

func (r *Recorder) Beacon(route string, body any) bool {
	raw, err := json.Marshal(body)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.requests = append(r.requests, Request{Route: route, Body: raw, Beacon: true})
	return r.Err == nil
}

// Requests returns a copy of everything recorded so far.
func (r *Recorder) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Request(nil), r.requests...)
}

// Routes returns the requests sent to route.
func (r *Recorder) Routes(route string) []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Request
	for _, req := range r.requests {
		if req.Route == route {
			out = append(out, req)
		}
	}
	return out
}

// Reset forgets every recorded request.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.requests = nil
	r.mu.Unlock()
}
