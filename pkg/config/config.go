package config

import "time"

// Client defaults
const (
	DefaultEndpoint       = "https://collect.hitmetrics.io"
	DefaultSessionTimeout = 30 * time.Minute

	// The first page view waits briefly so redirect chains settle on the
	// final landing page. Later ones wait longer so pages the visitor only
	// flashed through during client-side routing are not recorded.
	DefaultFirstPageViewDelay = 300 * time.Millisecond
	DefaultPageViewDelay      = 1000 * time.Millisecond
)

// Page-view duration bounds, in seconds
const (
	MinDurationSeconds = 1
	MaxDurationSeconds = 3600
)

// Error guard limits
const (
	RateLimitWindow = 60 * time.Second
	RateLimitMax    = 10
	DedupWindow     = 5 * time.Minute
	MaxStackLines   = 20
)

// Event validation
const (
	MaxEventNameLength = 255
)

// Identity storage
const (
	VisitorCookieMaxAge = 365 * 24 * time.Hour
	CookiePrefix        = "hm_"
)

// Transport timeouts and limits
const (
	TransportTimeout = 10 * time.Second
	BeaconTimeout    = 2 * time.Second
	QueueSize        = 256
	SendTimeout      = 5 * time.Second
)

// Collector defaults
const (
	DefaultCollectorPort = 8080
	DefaultDataDir       = "./data"
	DefaultMaxMemoryMB   = 48
	DefaultMaxStorageMB  = 1024
	DefaultRetention     = 7 * 24 * time.Hour
	UsageCacheDuration   = 10 * time.Second
	ServerReadTimeout    = 10 * time.Second
	ServerWriteTimeout   = 10 * time.Second
	ShutdownTimeout      = 30 * time.Second
	BadgerGCInterval     = 10 * time.Minute
	EventsListLimit      = 1000
	MaxPayloadBytes      = 1 << 20
)

// WebSocket configuration
const (
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSBroadcastBuffer = 256
	WSChannelBuffer   = 10
	WSWriteDeadline   = 10 * time.Second
	WSReadDeadline    = 60 * time.Second
	WSPingInterval    = 30 * time.Second
)
