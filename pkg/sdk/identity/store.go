// Package identity derives and persists visitor, session and attribution
// state for the SDK.
package identity

import (
	"errors"
	"math/rand"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nicktill/hitmetrics/pkg/config"
	"github.com/nicktill/hitmetrics/pkg/sdk/clock"
	"github.com/nicktill/hitmetrics/pkg/sdk/host"
)

// ErrUnavailable is returned when a backend has nowhere to write.
var ErrUnavailable = errors.New("identity: storage unavailable")

// UTMKeys are the campaign parameters captured as attribution.
var UTMKeys = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content"}

// Options configures a Store.
type Options struct {
	SessionTimeout time.Duration
	// CookieDomain switches the Store to cross-subdomain cookies,
	// e.g. ".example.com". Empty keeps everything in same-origin storage.
	CookieDomain string
	Clock        clock.Clock
	Logger       *zap.Logger
	// NewID overrides id generation in tests.
	NewID func() string
}

// Store is the SDK's identity state. All operations are best-effort: storage
// failures are logged at debug level and turned into neutral values.
type Store struct {
	mu         sync.Mutex
	backend    Backend
	win        host.Window
	clock      clock.Clock
	timeout    time.Duration
	cookieMode bool
	rootDomain string
	logger     *zap.Logger
	newID      func() string
}

// New builds a Store over win. A nil window yields a Store whose every
// method returns the empty value.
func New(win host.Window, opts Options) *Store {
	s := &Store{
		win:     win,
		clock:   opts.Clock,
		timeout: opts.SessionTimeout,
		logger:  opts.Logger,
		newID:   opts.NewID,
	}
	if s.clock == nil {
		s.clock = clock.Real()
	}
	if s.timeout <= 0 {
		s.timeout = config.DefaultSessionTimeout
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.newID == nil {
		s.newID = NewID
	}
	if win == nil {
		return s
	}

	if opts.CookieDomain != "" {
		s.cookieMode = true
		s.rootDomain = strings.TrimPrefix(strings.ToLower(opts.CookieDomain), ".")
		s.backend = CookieBackend{
			Jar:           win.Cookies(),
			Domain:        opts.CookieDomain,
			LegacyStorage: win.LocalStorage(),
		}
	} else {
		s.backend = OriginBackend{
			Persistent: win.LocalStorage(),
			Session:    win.SessionStorage(),
		}
	}
	return s
}

// CookieMode reports whether identity lives in cross-subdomain cookies.
func (s *Store) CookieMode() bool {
	return s.cookieMode
}

// VisitorID returns the stable visitor id, creating it on first use.
func (s *Store) VisitorID() string {
	if s.backend == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.backend.Read(KeyVisitor); ok && id != "" {
		return id
	}

	var id string
	if m, ok := s.backend.(migrator); ok {
		if legacy, ok := m.Legacy(KeyVisitor); ok && legacy != "" {
			id = legacy
		}
	}
	if id == "" {
		id = s.newID()
	}
	s.write(KeyVisitor, id, Forever)
	return id
}

// SetVisitorID overwrites the stored visitor id, e.g. after the collector
// merged this visitor into a canonical identity.
func (s *Store) SetVisitorID(id string) {
	if s.backend == nil || id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.write(KeyVisitor, id, Forever)
}

// SessionID returns the current session id. A session stays valid while
// the time since its last activity is within the timeout; every call
// counts as activity and slides the window forward.
func (s *Store) SessionID() string {
	if s.backend == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionLocked()
}

// sessionLocked resolves the session, minting a new one when it is missing
// or expired. Attribution reads call it first so they never see the
// previous session's values.
func (s *Store) sessionLocked() string {
	now := s.clock.Now()
	id, ok := s.backend.Read(KeySession)
	if !ok || id == "" || s.expiredLocked(now) {
		id = s.newID()
		if s.cookieMode {
			// Fresh session, fresh attribution
			s.delete(KeyReferrer)
			s.delete(KeyUTM)
		}
	}

	s.write(KeySession, id, s.timeout)
	s.write(KeySessionTS, strconv.FormatInt(now.UnixMilli(), 10), s.timeout)
	return id
}

func (s *Store) expiredLocked(now time.Time) bool {
	raw, ok := s.backend.Read(KeySessionTS)
	if !ok {
		return true
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return true
	}
	return now.Sub(time.UnixMilli(ms)) > s.timeout
}

// Referrer returns the session's attribution referrer. It is computed once
// per session from document.referrer and is empty unless the visitor came
// from another site.
func (s *Store) Referrer() string {
	if s.backend == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionLocked()

	if ref, ok := s.backend.Read(KeyReferrer); ok {
		return ref
	}

	ref := s.win.Document().Referrer()
	if !s.isExternal(ref) {
		ref = ""
	}
	s.write(KeyReferrer, ref, 0)
	return ref
}

// SessionUTM returns the campaign parameters for the session. Parameters on
// the current URL win over stored ones and, in cookie mode, replace them.
func (s *Store) SessionUTM() url.Values {
	if s.backend == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionLocked()

	if utm := utmFromLocation(s.win.Location()); len(utm) > 0 {
		if s.cookieMode {
			s.write(KeyUTM, utm.Encode(), 0)
		}
		return utm
	}

	if !s.cookieMode {
		return nil
	}
	raw, ok := s.backend.Read(KeyUTM)
	if !ok || raw == "" {
		return nil
	}
	stored, err := url.ParseQuery(raw)
	if err != nil || len(stored) == 0 {
		return nil
	}
	return stored
}

func utmFromLocation(loc *url.URL) url.Values {
	if loc == nil {
		return nil
	}
	q := loc.Query()
	utm := url.Values{}
	for _, k := range UTMKeys {
		if v := q.Get(k); v != "" {
			utm.Set(k, v)
		}
	}
	return utm
}

// isExternal decides whether ref points at another site. Same-origin mode
// compares hostnames; cookie mode treats the cookie root domain and every
// subdomain of it as the same site.
func (s *Store) isExternal(ref string) bool {
	if ref == "" {
		return false
	}
	u, err := url.Parse(ref)
	if err != nil || u.Hostname() == "" {
		return false
	}
	refHost := strings.ToLower(u.Hostname())

	if s.cookieMode {
		return refHost != s.rootDomain && !strings.HasSuffix(refHost, "."+s.rootDomain)
	}

	loc := s.win.Location()
	if loc == nil {
		return true
	}
	return refHost != strings.ToLower(loc.Hostname())
}

func (s *Store) write(key, value string, ttl time.Duration) {
	if err := s.backend.Write(key, value, ttl); err != nil {
		s.logger.Debug("identity write failed", zap.String("key", key), zap.Error(err))
	}
}

func (s *Store) delete(key string) {
	if err := s.backend.Delete(key); err != nil {
		s.logger.Debug("identity delete failed", zap.String("key", key), zap.Error(err))
	}
}

var (
	fallbackMu   sync.Mutex
	fallbackRand = rand.New(rand.NewSource(time.Now().UnixNano()))
)

// NewID returns a random UUID-v4 shaped identifier, falling back to a
// non-cryptographic source when the system one fails.
func NewID() string {
	id, err := uuid.NewRandom()
	if err == nil {
		return id.String()
	}
	fallbackMu.Lock()
	defer fallbackMu.Unlock()
	id, err = uuid.NewRandomFromReader(fallbackRand)
	if err != nil {
		return ""
	}
	return id.String()
}
