/*
Package storage provides the pluggable key-value abstraction behind the
hitmetrics collector and persistent host storage.

# Storage Interface

Two backends implement KV:
  - memory: in-memory map for testing and ephemeral workloads
  - badger: BadgerDB (LSM tree + Snappy compression) for persistent storage

	type KV interface {
	    Get(ctx context.Context, key string) ([]byte, error)
	    Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	    Delete(ctx context.Context, key string) error
	    Scan(ctx context.Context, prefix string, limit int, fn func(key string, value []byte) error) error
	    Stats(ctx context.Context) (*Stats, error)
	    Close() error
	}

Keys are plain strings grouped by prefix. Scan visits keys in ascending
byte order, so keys built from ULIDs come back in arrival order.

# Key Layout

The collector uses:
  - event/<ulid>: one accepted payload
  - visitor/<visitorId>: per-visitor counters and first/last seen
  - user/<userId>: canonical visitor id for an identified user

# Web Storage

WebStorage wraps a KV as a host.Storage, so a host can back the SDK's
localStorage with badger:

	store, _ := badger.New(badger.Config{Path: "./browser-data"})
	win := browsertest.New(url, browsertest.WithLocalStorage(
	    storage.WebStorage{KV: store, Prefix: "local/"},
	))
*/
package storage
