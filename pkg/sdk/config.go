package sdk

import (
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/hitmetrics/pkg/config"
	"github.com/nicktill/hitmetrics/pkg/sdk/transport"
	"github.com/nicktill/hitmetrics/pkg/sdk/vitals"
)

// Config holds configuration for a Client. The zero value, plus an API key,
// is a complete configuration.
type Config struct {
	APIKey   string `json:"apiKey"`
	Endpoint string `json:"endpoint"`

	// SessionTimeout is the inactivity gap that ends a session.
	SessionTimeout time.Duration `json:"sessionTimeout"`
	// CookieDomain enables cross-subdomain identity, e.g. ".example.com".
	CookieDomain string `json:"cookieDomain"`

	FirstPageViewDelay time.Duration `json:"firstPageViewDelay"`
	PageViewDelay      time.Duration `json:"pageViewDelay"`

	DisableAutoPageViews bool `json:"disableAutoPageViews"`
	DisableErrorCapture  bool `json:"disableErrorCapture"`
	DisableVitals        bool `json:"disableVitals"`
	CaptureConsole       bool `json:"captureConsole"`
	IgnoreDoNotTrack     bool `json:"ignoreDoNotTrack"`
	Disabled             bool `json:"disabled"`

	// Vitals produces web-vitals measurements. Nil disables vitals.
	Vitals vitals.Source `json:"-"`
	// Transport replaces the HTTP transport, e.g. with a transport.Recorder.
	Transport transport.Transport `json:"-"`
	// Logger receives debug diagnostics. The SDK never logs above debug.
	Logger *zap.Logger `json:"-"`
}

// ResolvedConfig is a Config with every default applied.
type ResolvedConfig struct {
	Config
}

// Resolve applies defaults to cfg.
func Resolve(cfg Config) ResolvedConfig {
	if cfg.Endpoint == "" {
		cfg.Endpoint = config.DefaultEndpoint
	}
	if cfg.SessionTimeout <= 0 {
		cfg.SessionTimeout = config.DefaultSessionTimeout
	}
	if cfg.FirstPageViewDelay <= 0 {
		cfg.FirstPageViewDelay = config.DefaultFirstPageViewDelay
	}
	if cfg.PageViewDelay <= 0 {
		cfg.PageViewDelay = config.DefaultPageViewDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return ResolvedConfig{Config: cfg}
}
