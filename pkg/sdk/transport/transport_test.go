package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewHTTP(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		apiKey   string
		wantErr  bool
	}{
		{
			name:     "valid endpoint without API key",
			endpoint: "http://localhost:8080",
			wantErr:  false,
		},
		{
			name:     "valid endpoint with API key and trailing slash",
			endpoint: "https://collect.example.com/",
			apiKey:   "secret-key",
			wantErr:  false,
		},
		{
			name:     "empty endpoint",
			endpoint: "",
			wantErr:  true,
		},
		{
			name:     "relative endpoint",
			endpoint: "/v1",
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport, err := NewHTTP(tt.endpoint, tt.apiKey)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewHTTP() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrEndpoint) {
					t.Errorf("error = %v, want ErrEndpoint", err)
				}
				return
			}
			if strings.HasSuffix(transport.endpoint, "/") {
				t.Errorf("endpoint = %v, want no trailing slash", transport.endpoint)
			}
			if transport.apiKey != tt.apiKey {
				t.Errorf("apiKey = %v, want %v", transport.apiKey, tt.apiKey)
			}
			if transport.client.Timeout != 10*time.Second {
				t.Errorf("timeout = %v, want %v", transport.client.Timeout, 10*time.Second)
			}
		})
	}
}

func TestHTTPTransport_Send_Success(t *testing.T) {
	var receivedPayload map[string]interface{}
	var receivedAuth, receivedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %v, want POST", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %v, want application/json", r.Header.Get("Content-Type"))
		}
		receivedAuth = r.Header.Get("Authorization")
		receivedPath = r.URL.Path

		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("failed to read body: %v", err)
		}
		if err := json.Unmarshal(body, &receivedPayload); err != nil {
			t.Errorf("failed to parse JSON: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"visitorId":"canonical"}`))
	}))
	defer server.Close()

	transport, err := NewHTTP(server.URL, "test-api-key")
	if err != nil {
		t.Fatalf("NewHTTP() error = %v", err)
	}

	resp, err := transport.Send(context.Background(), "/v1/identify", map[string]string{"userId": "u1"})
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if receivedPath != "/v1/identify" {
		t.Errorf("path = %v, want /v1/identify", receivedPath)
	}
	if receivedPayload["userId"] != "u1" {
		t.Errorf("payload = %v, want userId u1", receivedPayload)
	}
	if receivedAuth != "Bearer test-api-key" {
		t.Errorf("Authorization = %v, want Bearer test-api-key", receivedAuth)
	}
	if string(resp) != `{"visitorId":"canonical"}` {
		t.Errorf("response = %s", resp)
	}
}

func TestHTTPTransport_Send_HTTPErrors(t *testing.T) {
	tests := []struct {
		name        string
		statusCode  int
		expectError bool
	}{
		{name: "200 OK", statusCode: http.StatusOK},
		{name: "204 No Content", statusCode: http.StatusNoContent},
		{name: "400 Bad Request", statusCode: http.StatusBadRequest, expectError: true},
		{name: "401 Unauthorized", statusCode: http.StatusUnauthorized, expectError: true},
		{name: "503 Service Unavailable", statusCode: http.StatusServiceUnavailable, expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
			}))
			defer server.Close()

			transport, err := NewHTTP(server.URL, "")
			if err != nil {
				t.Fatalf("NewHTTP() error = %v", err)
			}

			_, err = transport.Send(context.Background(), "/v1/event", map[string]int{"n": 1})
			if !tt.expectError {
				if err != nil {
					t.Errorf("Send() unexpected error for status %d: %v", tt.statusCode, err)
				}
				return
			}
			var se *StatusError
			if !errors.As(err, &se) || se.Code != tt.statusCode {
				t.Errorf("Send() error = %v, want StatusError %d", err, tt.statusCode)
			}
			if reasonFor(err) != ReasonSendError {
				t.Errorf("reason = %v, want %v", reasonFor(err), ReasonSendError)
			}
		})
	}
}

func TestHTTPTransport_Send_NetworkError(t *testing.T) {
	transport, err := NewHTTP("http://localhost:1", "")
	if err != nil {
		t.Fatalf("NewHTTP() error = %v", err)
	}
	transport.client.Timeout = 100 * time.Millisecond

	_, err = transport.Send(context.Background(), "/v1/event", struct{}{})
	if err == nil {
		t.Fatal("Send() expected network error, got nil")
	}
	if !strings.Contains(err.Error(), "failed to send request") {
		t.Errorf("error = %v, want 'failed to send request'", err)
	}
	if reasonFor(err) != ReasonNetworkError {
		t.Errorf("reason = %v, want %v", reasonFor(err), ReasonNetworkError)
	}
}

func TestHTTPTransport_Beacon(t *testing.T) {
	var gotKey, gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("key")
		gotPath = r.URL.Path
		if r.Header.Get("Authorization") != "" {
			t.Errorf("beacon must not carry an Authorization header")
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	transport, err := NewHTTP(server.URL, "k&1")
	if err != nil {
		t.Fatalf("NewHTTP() error = %v", err)
	}
	if !transport.Beacon("/v1/duration", map[string]int{"duration": 5}) {
		t.Fatal("Beacon() = false, want true")
	}
	if gotKey != "k&1" || gotPath != "/v1/duration" {
		t.Errorf("key = %q path = %q", gotKey, gotPath)
	}
}

// slowTransport blocks every Send until release is closed
type slowTransport struct {
	release chan struct{}
	sent    atomic.Int64
}

func (s *slowTransport) Send(ctx context.Context, route string, body any) ([]byte, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	s.sent.Add(1)
	return nil, nil
}

func TestQueue_PostAndFlush(t *testing.T) {
	rec := &Recorder{Respond: func(route string, _ json.RawMessage) []byte {
		return []byte(route)
	}}
	q := NewQueue(rec, QueueConfig{})
	q.Start(context.Background())
	defer q.Stop()

	var mu sync.Mutex
	var responses []string
	for i := 0; i < 5; i++ {
		q.Post("/v1/event", map[string]int{"i": i}, func(b []byte) {
			mu.Lock()
			responses = append(responses, string(b))
			mu.Unlock()
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	if got := len(rec.Requests()); got != 5 {
		t.Errorf("recorded %d requests, want 5", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(responses) != 5 || responses[0] != "/v1/event" {
		t.Errorf("responses = %v", responses)
	}
}

func TestQueue_DropsWhenFull(t *testing.T) {
	slow := &slowTransport{release: make(chan struct{})}
	q := NewQueue(slow, QueueConfig{Size: 2, SendTimeout: time.Second})
	q.Start(context.Background())

	// One in flight plus two buffered; everything beyond is dropped
	for i := 0; i < 10; i++ {
		q.Post("/v1/event", i, nil)
		time.Sleep(5 * time.Millisecond)
	}
	if p := q.Pending(); p > 3 {
		t.Errorf("pending = %d, want at most 3", p)
	}

	close(slow.release)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := q.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if n := slow.sent.Load(); n > 3 || n == 0 {
		t.Errorf("sent = %d, want 1..3", n)
	}
	if err := q.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestQueue_PostAfterStopIsDropped(t *testing.T) {
	rec := &Recorder{}
	q := NewQueue(rec, QueueConfig{})
	q.Start(context.Background())
	if err := q.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := q.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}

	q.Post("/v1/event", 1, nil)
	if q.Pending() != 0 || len(rec.Requests()) != 0 {
		t.Errorf("post after stop should be dropped")
	}
}

func TestQueue_BeaconPrefersBeaconer(t *testing.T) {
	rec := &Recorder{}
	q := NewQueue(rec, QueueConfig{})
	q.Start(context.Background())
	defer q.Stop()

	q.Beacon("/v1/duration", map[string]int{"duration": 3})
	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	reqs := rec.Requests()
	if len(reqs) != 1 || !reqs[0].Beacon {
		t.Fatalf("requests = %+v, want one beacon", reqs)
	}
}

// stalledBeacon holds every beacon until release is closed.
type stalledBeacon struct {
	*Recorder
	release chan struct{}
}

func (s stalledBeacon) Beacon(route string, body any) bool {
	<-s.release
	return s.Recorder.Beacon(route, body)
}

func TestQueue_BeaconDoesNotBlockCaller(t *testing.T) {
	rec := &Recorder{}
	tr := stalledBeacon{Recorder: rec, release: make(chan struct{})}
	q := NewQueue(tr, QueueConfig{})
	q.Start(context.Background())
	defer q.Stop()

	returned := make(chan struct{})
	go func() {
		q.Beacon("/v1/duration", 1)
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("Beacon() blocked on delivery")
	}
	if q.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", q.Pending())
	}

	close(tr.release)
	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if reqs := rec.Requests(); len(reqs) != 1 || !reqs[0].Beacon {
		t.Errorf("requests = %+v, want one beacon", reqs)
	}
}

func TestQueue_BeaconFallsBackToSendInOrder(t *testing.T) {
	rec := &Recorder{Err: errors.New("down")}
	q := NewQueue(rec, QueueConfig{})
	q.Start(context.Background())
	defer q.Stop()

	q.Beacon("/v1/duration", 1)
	q.Post("/v1/event", 2, nil)
	if err := q.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	var routes []string
	for _, r := range rec.Requests() {
		routes = append(routes, r.Route)
	}
	want := []string{"/v1/duration", "/v1/duration", "/v1/event"}
	if strings.Join(routes, ",") != strings.Join(want, ",") {
		t.Errorf("routes = %v, want beacon, fallback send, then event", routes)
	}
}

func TestQueue_BeaconAfterStopIsDropped(t *testing.T) {
	rec := &Recorder{}
	q := NewQueue(rec, QueueConfig{})
	q.Start(context.Background())
	if err := q.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	q.Beacon("/v1/duration", 1)
	if q.Pending() != 0 || len(rec.Requests()) != 0 {
		t.Errorf("beacon after stop should be dropped")
	}
}

func TestSync_PostDeliversInline(t *testing.T) {
	rec := &Recorder{Respond: func(string, json.RawMessage) []byte { return []byte("ok") }}
	var got string
	Sync{Transport: rec}.Post("/v1/identify", 1, func(b []byte) { got = string(b) })
	if got != "ok" {
		t.Errorf("response = %q, want ok", got)
	}

	rec.Err = errors.New("down")
	Sync{Transport: rec}.Beacon("/v1/duration", 1)
	if n := len(rec.Requests()); n != 3 {
		t.Errorf("recorded %d, want identify + beacon + fallback post", n)
	}
}
