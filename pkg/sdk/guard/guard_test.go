package guard

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/hitmetrics/pkg/sdk/clock"
)

func TestRateLimiterSlidingWindow(t *testing.T) {
	clk := clock.NewManual(time.Unix(1700000000, 0))
	rl := NewRateLimiter(clk, 0, 0)

	for i := 0; i < 10; i++ {
		require.False(t, rl.Limited(), "attempt %d should pass", i)
		clk.Advance(time.Second)
	}
	assert.True(t, rl.Limited())

	// Rejected attempts are not recorded: once the first stamp ages out
	// exactly one slot frees up.
	clk.Advance(51 * time.Second)
	assert.False(t, rl.Limited())
	assert.True(t, rl.Limited())
}

func TestRateLimiterAtMostTenPerMinute(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	rl := NewRateLimiter(clk, time.Minute, 10)

	passed := 0
	for i := 0; i < 1000; i++ {
		if !rl.Limited() {
			passed++
		}
		clk.Advance(50 * time.Millisecond)
	}
	// 1000 attempts span 50 seconds, all inside one window
	assert.Equal(t, 10, passed)
}

func TestDeduperPerHashExpiry(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	d := NewDeduper(clk, 0)

	require.False(t, d.Duplicate(1))
	clk.Advance(2 * time.Minute)
	require.False(t, d.Duplicate(2))
	assert.True(t, d.Duplicate(1))
	assert.True(t, d.Duplicate(2))

	clk.Advance(3 * time.Minute)
	assert.False(t, d.Duplicate(1), "hash 1 expired after its own 5 minutes")
	assert.True(t, d.Duplicate(2), "hash 2 still inside its window")

	clk.Advance(2 * time.Minute)
	assert.False(t, d.Duplicate(2))
}

func TestDeduperStop(t *testing.T) {
	clk := clock.NewManual(time.Unix(0, 0))
	d := NewDeduper(clk, time.Minute)
	d.Duplicate(1)
	d.Duplicate(2)
	require.Equal(t, 2, d.Len())
	require.Equal(t, 2, clk.Pending())

	d.Stop()
	assert.Equal(t, 0, d.Len())
	assert.Equal(t, 0, clk.Pending())
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("boom", "at f\nat g", "app.js", 10)
	assert.Equal(t, a, Fingerprint("boom", "at f\nat g", "app.js", 10))
	assert.NotEqual(t, a, Fingerprint("boom", "at f\nat g", "app.js", 11))
	assert.NotEqual(t, a, Fingerprint("boo", "mat f\nat g", "app.js", 10))
	assert.NotEmpty(t, FingerprintHex(a))
}

func TestNormalizeStack(t *testing.T) {
	var b strings.Builder
	b.WriteString("Error: boom\n\n")
	for i := 0; i < 30; i++ {
		b.WriteString("    at frame\n")
	}

	got := NormalizeStack(b.String(), 0)
	lines := strings.Split(got, "\n")
	assert.Len(t, lines, 20)
	assert.Equal(t, "Error: boom", lines[0])
	assert.Equal(t, "at frame", lines[1])
	assert.Empty(t, NormalizeStack("", 0))
}
