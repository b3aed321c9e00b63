package dispatch

import "time"

// Collector routes, relative to the configured endpoint.
const (
	RoutePageView = "/v1/pageview"
	RouteEvent    = "/v1/event"
	RouteIdentify = "/v1/identify"
	RouteError    = "/v1/error"
	RouteMessage  = "/v1/message"
	RouteVitals   = "/v1/vitals"
	RouteDuration = "/v1/duration"
	RouteVisitor  = "/v1/visitor"
)

// Routes lists every collector route.
var Routes = []string{
	RoutePageView, RouteEvent, RouteIdentify, RouteError,
	RouteMessage, RouteVitals, RouteDuration, RouteVisitor,
}

// Identity is carried by every payload.
type Identity struct {
	VisitorID string `json:"visitorId"`
	SessionID string `json:"sessionId"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
}

// Page describes where on the site a payload originated.
type Page struct {
	Path        string `json:"path"`
	Title       string `json:"title,omitempty"`
	QueryString string `json:"queryString,omitempty"`
}

type PageView struct {
	Identity
	Page
	PageViewID   string            `json:"pageViewId"`
	Referrer     string            `json:"referrer,omitempty"`
	ScreenWidth  int               `json:"screenWidth"`
	ScreenHeight int               `json:"screenHeight"`
	UTM          map[string]string `json:"utm,omitempty"`
}

type Duration struct {
	Identity
	PageViewID string `json:"pageViewId"`
	Path       string `json:"path"`
	Duration   int64  `json:"duration"` // seconds
}

type Event struct {
	Identity
	Page
	Name       string         `json:"name"`
	Properties map[string]any `json:"properties,omitempty"`
}

type Identify struct {
	Identity
	UserID string         `json:"userId"`
	Traits map[string]any `json:"traits,omitempty"`
}

// IdentifyResponse is what the collector may answer to an identify call.
type IdentifyResponse struct {
	VisitorID string `json:"visitorId,omitempty"`
}

type Error struct {
	Identity
	Page
	Message     string         `json:"message"`
	Stack       string         `json:"stack,omitempty"`
	Source      string         `json:"source,omitempty"`
	Lineno      int            `json:"lineno,omitempty"`
	Colno       int            `json:"colno,omitempty"`
	Fingerprint string         `json:"fingerprint"`
	Context     map[string]any `json:"context,omitempty"`
}

// Level classifies a captured message.
type Level string

const (
	LevelDebug   Level = "debug"
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

type Message struct {
	Identity
	Page
	Message string         `json:"message"`
	Level   Level          `json:"level"`
	Context map[string]any `json:"context,omitempty"`
}

type Vital struct {
	Identity
	Page
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Rating string  `json:"rating,omitempty"`
}

// VisitorRequest asks the collector what it knows about a visitor.
type VisitorRequest struct {
	VisitorID string `json:"visitorId"`
}

// VisitorInfo is the collector's answer to a visitor lookup.
type VisitorInfo struct {
	VisitorID string    `json:"visitorId"`
	UserID    string    `json:"userId,omitempty"`
	FirstSeen time.Time `json:"firstSeen"`
	LastSeen  time.Time `json:"lastSeen"`
	Sessions  int       `json:"sessions"`
	PageViews int       `json:"pageViews"`
	Events    int       `json:"events"`
}
