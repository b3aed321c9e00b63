// Package usage measures how much disk a storage directory occupies and
// enforces an upper limit on it.
package usage

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nicktill/hitmetrics/pkg/config"
)

// Monitor tracks disk usage of a data directory with caching to avoid
// walking it on every request.
type Monitor struct {
	dataDir       string
	maxBytes      int64
	cachedUsage   int64
	lastCheck     time.Time
	cacheDuration time.Duration
	now           func() time.Time
	mu            sync.Mutex
}

// New creates a monitor for dataDir. maxBytes <= 0 means unlimited.
func New(dataDir string, maxBytes int64) *Monitor {
	return &Monitor{
		dataDir:       dataDir,
		maxBytes:      maxBytes,
		cacheDuration: config.UsageCacheDuration,
		now:           time.Now,
	}
}

// Usage returns current disk usage in bytes, refreshed at most once per
// cache period.
func (m *Monitor) Usage() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if !m.lastCheck.IsZero() && now.Sub(m.lastCheck) < m.cacheDuration {
		return m.cachedUsage, nil
	}

	used, err := dirSize(m.dataDir)
	if err != nil {
		return 0, err
	}
	m.cachedUsage = used
	m.lastCheck = now
	return used, nil
}

// Limit returns the configured limit in bytes
func (m *Monitor) Limit() int64 {
	return m.maxBytes
}

// Full reports whether usage has reached the limit
func (m *Monitor) Full() (bool, error) {
	if m.maxBytes <= 0 {
		return false, nil
	}
	used, err := m.Usage()
	if err != nil {
		return false, err
	}
	return used >= m.maxBytes, nil
}

// dirSize sums actual disk usage, not logical size, so sparse badger
// files are counted correctly.
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(filePath string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		actual, err := diskSize(filePath, info)
		if err != nil {
			size += info.Size()
		} else {
			size += actual
		}
		return nil
	})
	return size, err
}
