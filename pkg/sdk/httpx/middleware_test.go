package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type capturedError struct {
	err error
	ctx map[string]any
}

// mockClient implements Reporter for testing
type mockClient struct {
	events []string
	errors []capturedError
}

func newMockClient() *mockClient {
	return &mockClient{}
}

func (m *mockClient) Track(name string, props map[string]any) {
	m.events = append(m.events, name)
}

func (m *mockClient) CaptureError(err error, ctx map[string]any) {
	m.errors = append(m.errors, capturedError{err: err, ctx: ctx})
}

func TestMiddleware_BasicRequest(t *testing.T) {
	client := newMockClient()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		Track(r.Context(), "page_served", nil)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	wrapped := Middleware(client)(handler)

	req := httptest.NewRequest("GET", "/api/users", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", rec.Code)
	}
	if len(client.events) != 1 || client.events[0] != "page_served" {
		t.Errorf("Expected one page_served event, got %v", client.events)
	}
	if len(client.errors) != 0 {
		t.Errorf("Expected no errors, got %v", client.errors)
	}
}

func TestMiddleware_RecoversPanic(t *testing.T) {
	client := newMockClient()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("nil map write")
	})

	wrapped := Middleware(client)(handler)

	req := httptest.NewRequest("POST", "/api/orders/123", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", rec.Code)
	}
	if len(client.errors) != 1 {
		t.Fatalf("Expected 1 captured error, got %d", len(client.errors))
	}

	got := client.errors[0]
	if got.err.Error() != "panic: nil map write" {
		t.Errorf("Expected panic message, got %q", got.err.Error())
	}
	if got.ctx["route"] != "/api/orders/{id}" {
		t.Errorf("Expected normalized route, got %v", got.ctx["route"])
	}
	if got.ctx["method"] != "POST" {
		t.Errorf("Expected method POST, got %v", got.ctx["method"])
	}
	stack, _ := got.ctx["stack"].(string)
	if !strings.Contains(stack, "goroutine") {
		t.Errorf("Expected goroutine stack, got %q", stack)
	}
}

func TestMiddleware_PanicWithError(t *testing.T) {
	client := newMockClient()
	sentinel := errors.New("db closed")
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(sentinel)
	})

	Middleware(client)(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))

	if len(client.errors) != 1 || !errors.Is(client.errors[0].err, sentinel) {
		t.Errorf("Expected wrapped sentinel error, got %v", client.errors)
	}
}

func TestMiddleware_PanicAfterHeaderKeepsStatus(t *testing.T) {
	client := newMockClient()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		panic("late failure")
	})

	rec := httptest.NewRecorder()
	Middleware(client)(handler).ServeHTTP(rec, httptest.NewRequest("GET", "/jobs", nil))

	if rec.Code != http.StatusAccepted {
		t.Errorf("Expected status 202, got %d", rec.Code)
	}
	if len(client.errors) != 1 {
		t.Errorf("Expected 1 captured error, got %d", len(client.errors))
	}
}

func TestMiddleware_AbortHandlerPropagates(t *testing.T) {
	client := newMockClient()
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	})

	defer func() {
		if p := recover(); p != http.ErrAbortHandler {
			t.Errorf("Expected ErrAbortHandler to propagate, got %v", p)
		}
		if len(client.errors) != 0 {
			t.Errorf("Expected abort not to be reported")
		}
	}()
	Middleware(client)(handler).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
}

func TestContextHelpersWithoutClient(t *testing.T) {
	ctx := context.Background()
	if _, ok := FromContext(ctx); ok {
		t.Error("Expected no client in empty context")
	}
	// must not panic
	Track(ctx, "signup", nil)
	CaptureError(ctx, errors.New("x"), nil)
}

func TestContextHelpersWithClient(t *testing.T) {
	client := newMockClient()
	ctx := WithClient(context.Background(), client)

	CaptureError(ctx, errors.New("x"), map[string]any{"k": "v"})
	if len(client.errors) != 1 || client.errors[0].ctx["k"] != "v" {
		t.Errorf("Expected error with context, got %v", client.errors)
	}
}

func TestResponseWriter_CapturesStatusCode(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusNotFound)

	if rw.statusCode != http.StatusNotFound {
		t.Errorf("Expected status code 404, got %d", rw.statusCode)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected underlying recorder to have status 404, got %d", rec.Code)
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/users/123", "/api/users/{id}"},
		{"/posts/456/comments", "/posts/{id}/comments"},
		{"/api/users/3f2b8c1e-9a4d-4e5f-8b6a-1c2d3e4f5a6b", "/api/users/{id}"},
		{"/health", "/health"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.path); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
