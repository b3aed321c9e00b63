// Package httpx binds an SDK client to net/http: it carries the client in
// request contexts and turns handler panics into error reports.
package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"runtime/debug"

	"github.com/nicktill/hitmetrics/pkg/sdk"
)

// Reporter is the part of *sdk.Client the bindings use.
type Reporter interface {
	Track(name string, props map[string]any)
	CaptureError(err error, ctx map[string]any)
}

var _ Reporter = (*sdk.Client)(nil)

type ctxKey struct{}

// WithClient returns a copy of ctx carrying c.
func WithClient(ctx context.Context, c Reporter) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the client carried by ctx, if any.
func FromContext(ctx context.Context) (Reporter, bool) {
	c, ok := ctx.Value(ctxKey{}).(Reporter)
	return c, ok && c != nil
}

// Track sends an event through the client in ctx. Without one it does
// nothing.
func Track(ctx context.Context, name string, props map[string]any) {
	if c, ok := FromContext(ctx); ok {
		c.Track(name, props)
	}
}

// CaptureError reports err through the client in ctx.
func CaptureError(ctx context.Context, err error, extra map[string]any) {
	if c, ok := FromContext(ctx); ok {
		c.CaptureError(err, extra)
	}
}

// Middleware injects client into every request context and acts as an
// error boundary: a panicking handler is reported and answered with 500.
//
// Usage:
//
//	client := sdk.New(sdk.Config{...}, sdk.WithScope(scope))
//	defer client.Destroy()
//
//	mux := http.NewServeMux()
//	mux.HandleFunc("/", handler)
//	handler := httpx.Middleware(client)(mux)
//	http.ListenAndServe(":8080", handler)
func Middleware(client Reporter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			defer func() {
				p := recover()
				if p == nil {
					return
				}
				if p == http.ErrAbortHandler {
					panic(p)
				}
				client.CaptureError(panicError(p), map[string]any{
					"stack":  string(debug.Stack()),
					"route":  normalizePath(r.URL.Path),
					"method": r.Method,
				})
				if !rw.wroteHeader {
					http.Error(rw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(rw, r.WithContext(WithClient(r.Context(), client)))
		})
	}
}

func panicError(p any) error {
	if err, ok := p.(error); ok {
		return fmt.Errorf("panic: %w", err)
	}
	return errors.New(fmt.Sprint("panic: ", p))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.statusCode = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

var (
	numericID = regexp.MustCompile(`/\d+`)
	uuidID    = regexp.MustCompile(`/[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
)

// normalizePath collapses ids so reports group by route.
// Examples:
//   - /api/users/123 → /api/users/{id}
//   - /posts/456/comments → /posts/{id}/comments
func normalizePath(path string) string {
	path = uuidID.ReplaceAllString(path, "/{id}")
	return numericID.ReplaceAllString(path, "/{id}")
}
