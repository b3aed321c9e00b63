package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nicktill/hitmetrics/pkg/storage"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Storage stores values in memory. Data is lost on restart.
// Useful for testing and development.
type Storage struct {
	data map[string]entry
	mu   sync.RWMutex

	// Now overrides the time source for expiry.
	Now func() time.Time
}

var _ storage.KV = (*Storage)(nil)

// New creates an in-memory storage backend
func New() *Storage {
	return &Storage{
		data: make(map[string]entry),
		Now:  time.Now,
	}
}

func (s *Storage) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[key]
	if !ok || e.expired(s.Now()) {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

func (s *Storage) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = s.Now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = e
	return nil
}

func (s *Storage) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// Scan visits live keys under prefix in ascending order
func (s *Storage) Scan(ctx context.Context, prefix string, limit int, fn func(key string, value []byte) error) error {
	s.mu.RLock()
	now := s.Now()
	keys := make([]string, 0, len(s.data))
	for k, e := range s.data {
		if strings.HasPrefix(k, prefix) && !e.expired(now) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = append([]byte(nil), s.data[k].value...)
	}
	s.mu.RUnlock()

	for i, k := range keys {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(k, values[i]); err != nil {
			return err
		}
	}
	return nil
}

// Close is a no-op for memory storage
func (s *Storage) Close() error {
	return nil
}

// Stats returns storage statistics
func (s *Storage) Stats(ctx context.Context) (*storage.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.Now()
	stats := &storage.Stats{}
	for k, e := range s.data {
		if e.expired(now) {
			continue
		}
		stats.Keys++
		stats.SizeBytes += uint64(len(k) + len(e.value))
	}
	return stats, nil
}
