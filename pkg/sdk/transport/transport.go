package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nicktill/hitmetrics/pkg/config"
)

// maxResponseBytes caps how much of a collector response is read.
const maxResponseBytes = 64 << 10

// ErrEndpoint is returned for an endpoint that is not an absolute http(s) URL.
var ErrEndpoint = errors.New("transport: invalid endpoint")

// StatusError reports a non-2xx collector response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("request failed with status %d", e.Code)
}

// Transport delivers one JSON payload to a collector route and returns the
// response body.
type Transport interface {
	Send(ctx context.Context, route string, body any) ([]byte, error)
}

// Beaconer is implemented by transports that can deliver while the page is
// being torn down. Beacon reports whether the payload was handed off.
type Beaconer interface {
	Beacon(route string, body any) bool
}

// HTTPTransport implements Transport using HTTP
type HTTPTransport struct {
	endpoint string
	apiKey   string
	client   *http.Client
	beacon   *http.Client
}

// NewHTTP creates a new HTTP transport
func NewHTTP(endpoint, apiKey string) (*HTTPTransport, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrEndpoint, endpoint)
	}
	return &HTTPTransport{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		apiKey:   apiKey,
		client: &http.Client{
			Timeout: config.TransportTimeout,
		},
		beacon: &http.Client{
			Timeout: config.BeaconTimeout,
		},
	}, nil
}

// Send posts body to route on the collector.
func (t *HTTPTransport) Send(ctx context.Context, route string, body any) ([]byte, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+route, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	return t.do(t.client, req)
}

// Beacon posts body on a short-timeout client, the closest Go gets to
// navigator.sendBeacon. Beacons cannot carry headers, so the api key
// travels as the key query parameter.
func (t *HTTPTransport) Beacon(route string, body any) bool {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return false
	}

	target := t.endpoint + route
	if t.apiKey != "" {
		target += "?key=" + url.QueryEscape(t.apiKey)
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.BeaconTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(jsonData))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "text/plain;charset=UTF-8")

	_, err = t.do(t.beacon, req)
	return err == nil
}

func (t *HTTPTransport) do(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil, &StatusError{Code: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return data, nil
}

// timeoutFor bounds a single delivery.
func timeoutFor(d time.Duration) time.Duration {
	if d <= 0 {
		return config.SendTimeout
	}
	return d
}
