package identity

import (
	"math"
	"time"

	"github.com/nicktill/hitmetrics/pkg/config"
	"github.com/nicktill/hitmetrics/pkg/sdk/host"
)

// Stored keys. Both backends use the same names.
const (
	KeyVisitor   = config.CookiePrefix + "vid"
	KeySession   = config.CookiePrefix + "sid"
	KeySessionTS = config.CookiePrefix + "sts"
	KeyReferrer  = config.CookiePrefix + "ref"
	KeyUTM       = config.CookiePrefix + "utm"
)

// Forever marks a write that should outlive the session.
const Forever = time.Duration(math.MaxInt64)

// Backend is the key/value capability the Store persists through.
//
// A ttl of Forever keeps the value indefinitely (or as long as the backend
// allows), zero scopes it to the browser session, and a positive ttl
// bounds its lifetime.
type Backend interface {
	Read(key string) (string, bool)
	Write(key, value string, ttl time.Duration) error
	Delete(key string) error
}

// migrator is implemented by backends that can see values written by an
// older storage layout.
type migrator interface {
	Legacy(key string) (string, bool)
}

// OriginBackend keeps long-lived values in the persistent storage area and
// everything else in the session-scoped area.
type OriginBackend struct {
	Persistent host.Storage
	Session    host.Storage
}

func (b OriginBackend) Read(key string) (string, bool) {
	for _, s := range []host.Storage{b.Session, b.Persistent} {
		if s == nil {
			continue
		}
		if v, ok, err := s.GetItem(key); err == nil && ok {
			return v, true
		}
	}
	return "", false
}

func (b OriginBackend) Write(key, value string, ttl time.Duration) error {
	target := b.Session
	if ttl == Forever {
		target = b.Persistent
	}
	if target == nil {
		return ErrUnavailable
	}
	return target.SetItem(key, value)
}

func (b OriginBackend) Delete(key string) error {
	var firstErr error
	for _, s := range []host.Storage{b.Session, b.Persistent} {
		if s == nil {
			continue
		}
		if err := s.RemoveItem(key); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// CookieBackend stores values in cookies scoped to Domain so that every
// subdomain shares one identity.
type CookieBackend struct {
	Jar    host.Cookies
	Domain string
	// LegacyStorage is the same-origin storage older versions wrote to.
	LegacyStorage host.Storage
}

func (b CookieBackend) Read(key string) (string, bool) {
	if b.Jar == nil {
		return "", false
	}
	return b.Jar.Get(key)
}

func (b CookieBackend) Write(key, value string, ttl time.Duration) error {
	if b.Jar == nil {
		return ErrUnavailable
	}
	maxAge := ttl
	if ttl == Forever {
		maxAge = config.VisitorCookieMaxAge
	}
	return b.Jar.Set(host.Cookie{
		Name:     key,
		Value:    value,
		Domain:   b.Domain,
		Path:     "/",
		MaxAge:   maxAge,
		SameSite: "Lax",
	})
}

func (b CookieBackend) Delete(key string) error {
	if b.Jar == nil {
		return ErrUnavailable
	}
	return b.Jar.Set(host.Cookie{Name: key, Domain: b.Domain, Path: "/", MaxAge: -1})
}

// Legacy reads a value from the pre-cookie storage layout.
func (b CookieBackend) Legacy(key string) (string, bool) {
	if b.LegacyStorage == nil {
		return "", false
	}
	v, ok, err := b.LegacyStorage.GetItem(key)
	if err != nil {
		return "", false
	}
	return v, ok
}
