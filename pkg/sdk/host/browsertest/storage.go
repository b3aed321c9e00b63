package browsertest

import (
	"strings"
	"sync"
	"time"

	"github.com/nicktill/hitmetrics/pkg/sdk/clock"
	"github.com/nicktill/hitmetrics/pkg/sdk/host"
)

// Storage is an in-memory Web Storage area.
type Storage struct {
	mu       sync.Mutex
	items    map[string]string
	disabled bool
}

var _ host.Storage = (*Storage)(nil)

// NewStorage creates an empty storage area.
func NewStorage() *Storage {
	return &Storage{items: make(map[string]string)}
}

func (s *Storage) GetItem(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled {
		return "", false, ErrStorageDisabled
	}
	v, ok := s.items[key]
	return v, ok, nil
}

func (s *Storage) SetItem(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled {
		return ErrStorageDisabled
	}
	s.items[key] = value
	return nil
}

func (s *Storage) RemoveItem(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled {
		return ErrStorageDisabled
	}
	delete(s.items, key)
	return nil
}

// Disable makes every subsequent call fail, like storage blocked by privacy settings.
func (s *Storage) Disable() {
	s.mu.Lock()
	s.disabled = true
	s.mu.Unlock()
}

// Clear removes every item.
func (s *Storage) Clear() {
	s.mu.Lock()
	s.items = make(map[string]string)
	s.mu.Unlock()
}

// Len returns the number of stored items.
func (s *Storage) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

type cookieEntry struct {
	value   string
	domain  string
	expires time.Time // zero for session cookies
}

// Jar is an in-memory cookie jar. Cookies are keyed by name only; the
// domain is recorded for inspection.
type Jar struct {
	mu      sync.Mutex
	clock   clock.Clock
	cookies map[string]cookieEntry
}

var _ host.Cookies = (*Jar)(nil)

func newJar(c clock.Clock) *Jar {
	return &Jar{clock: c, cookies: make(map[string]cookieEntry)}
}

func (j *Jar) Get(name string) (string, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.cookies[name]
	if !ok {
		return "", false
	}
	if !e.expires.IsZero() && !j.clock.Now().Before(e.expires) {
		delete(j.cookies, name)
		return "", false
	}
	return e.value, true
}

func (j *Jar) Set(c host.Cookie) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if c.MaxAge < 0 {
		delete(j.cookies, c.Name)
		return nil
	}
	e := cookieEntry{value: c.Value, domain: c.Domain}
	if c.MaxAge > 0 {
		e.expires = j.clock.Now().Add(c.MaxAge)
	}
	j.cookies[c.Name] = e
	return nil
}

// Domain returns the domain a cookie was written with.
func (j *Jar) Domain(name string) string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cookies[name].domain
}

// Expires returns the expiry of a cookie, zero for session cookies.
func (j *Jar) Expires(name string) time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cookies[name].expires
}

// String renders the jar like document.cookie.
func (j *Jar) String() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	parts := make([]string, 0, len(j.cookies))
	for name, e := range j.cookies {
		parts = append(parts, name+"="+e.value)
	}
	return strings.Join(parts, "; ")
}

func (j *Jar) dropSessionCookies() {
	j.mu.Lock()
	defer j.mu.Unlock()
	for name, e := range j.cookies {
		if e.expires.IsZero() {
			delete(j.cookies, name)
		}
	}
}
