// Package guard keeps error reporting from flooding the collector: a strict
// sliding-window rate limiter and a time-boxed fingerprint deduplicator.
package guard

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/nicktill/hitmetrics/pkg/config"
	"github.com/nicktill/hitmetrics/pkg/sdk/clock"
)

// RateLimiter admits at most limit events in any window-long span.
// It is a strict sliding window: rejected attempts are not recorded and
// there is no partial credit.
type RateLimiter struct {
	mu     sync.Mutex
	clock  clock.Clock
	window time.Duration
	limit  int
	stamps []time.Time
}

// NewRateLimiter creates a limiter. Zero window or limit use the defaults
// (60s, 10 events).
func NewRateLimiter(c clock.Clock, window time.Duration, limit int) *RateLimiter {
	if c == nil {
		c = clock.Real()
	}
	if window <= 0 {
		window = config.RateLimitWindow
	}
	if limit <= 0 {
		limit = config.RateLimitMax
	}
	return &RateLimiter{clock: c, window: window, limit: limit}
}

// Limited reports whether a new event must be dropped. When it is not
// limited the attempt is recorded.
func (r *RateLimiter) Limited() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	cutoff := now.Add(-r.window)
	drop := 0
	for drop < len(r.stamps) && r.stamps[drop].Before(cutoff) {
		drop++
	}
	r.stamps = r.stamps[drop:]

	if len(r.stamps) >= r.limit {
		return true
	}
	r.stamps = append(r.stamps, now)
	return false
}

// Deduper remembers fingerprints for a fixed window. Each fingerprint owns
// its own expiry timer.
type Deduper struct {
	mu     sync.Mutex
	clock  clock.Clock
	window time.Duration
	seen   map[uint64]clock.Timer
}

// NewDeduper creates a deduplicator. A zero window uses the default 5 minutes.
func NewDeduper(c clock.Clock, window time.Duration) *Deduper {
	if c == nil {
		c = clock.Real()
	}
	if window <= 0 {
		window = config.DedupWindow
	}
	return &Deduper{clock: c, window: window, seen: make(map[uint64]clock.Timer)}
}

// Duplicate reports whether hash was seen within the window. A first
// sighting is recorded and scheduled for removal.
func (d *Deduper) Duplicate(hash uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[hash]; ok {
		return true
	}
	d.seen[hash] = d.clock.AfterFunc(d.window, func() {
		d.mu.Lock()
		delete(d.seen, hash)
		d.mu.Unlock()
	})
	return false
}

// Len returns the number of remembered fingerprints.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

// Stop cancels every pending expiry and forgets all fingerprints.
func (d *Deduper) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for hash, t := range d.seen {
		t.Stop()
		delete(d.seen, hash)
	}
}

// Fingerprint identifies structurally identical errors.
func Fingerprint(message, stack, source string, lineno int) uint64 {
	d := xxhash.New()
	for _, part := range []string{message, stack, source, strconv.Itoa(lineno)} {
		_, _ = d.WriteString(part)
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}

// FingerprintHex renders a fingerprint for the wire as 16 hex digits.
func FingerprintHex(fp uint64) string {
	s := strconv.FormatUint(fp, 16)
	return strings.Repeat("0", 16-len(s)) + s
}

// NormalizeStack trims each line, drops blank ones and keeps at most
// maxLines lines (the configured default when maxLines <= 0).
func NormalizeStack(stack string, maxLines int) string {
	if maxLines <= 0 {
		maxLines = config.MaxStackLines
	}
	lines := strings.Split(stack, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
		if len(out) == maxLines {
			break
		}
	}
	return strings.Join(out, "\n")
}
