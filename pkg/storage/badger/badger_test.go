package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/nicktill/hitmetrics/pkg/storage"
)

func newTestStore(t *testing.T) *Storage {
	t.Helper()
	store, err := New(Config{InMemory: true, Logger: zap.NewNop()})
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestBadgerStorage_SetAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "visitor/v1", []byte(`{"visitorId":"v1"}`), 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, err := store.Get(ctx, "visitor/v1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != `{"visitorId":"v1"}` {
		t.Errorf("Expected stored value, got %s", got)
	}

	if _, err := store.Get(ctx, "visitor/missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestBadgerStorage_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.Set(ctx, "k", []byte("v"), 0)
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := store.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("Deleting an absent key should succeed, got %v", err)
	}
}

func TestBadgerStorage_TTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// badger TTLs have one-second granularity
	if err := store.Set(ctx, "session/s1", []byte("x"), time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if _, err := store.Get(ctx, "session/s1"); err != nil {
		t.Fatalf("Expected value before expiry, got %v", err)
	}

	time.Sleep(2100 * time.Millisecond)
	if _, err := store.Get(ctx, "session/s1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after expiry, got %v", err)
	}
}

func TestBadgerStorage_ScanPrefixInOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 3; i >= 1; i-- {
		store.Set(ctx, fmt.Sprintf("event/%02d", i), []byte(fmt.Sprint(i)), 0)
	}
	store.Set(ctx, "visitor/v1", []byte("other"), 0)

	var keys []string
	err := store.Scan(ctx, "event/", 0, func(key string, value []byte) error {
		keys = append(keys, key)
		return nil
	})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	want := []string{"event/01", "event/02", "event/03"}
	if fmt.Sprint(keys) != fmt.Sprint(want) {
		t.Errorf("Expected %v, got %v", want, keys)
	}

	keys = nil
	store.Scan(ctx, "event/", 2, func(key string, value []byte) error {
		keys = append(keys, key)
		return nil
	})
	if len(keys) != 2 {
		t.Errorf("Expected limit of 2 keys, got %v", keys)
	}
}

func TestBadgerStorage_ScanStopsOnError(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	store.Set(ctx, "a/1", []byte("1"), 0)
	store.Set(ctx, "a/2", []byte("2"), 0)

	stop := errors.New("stop")
	var n int
	err := store.Scan(ctx, "a/", 0, func(string, []byte) error {
		n++
		return stop
	})
	if !errors.Is(err, stop) || n != 1 {
		t.Errorf("Expected scan to stop after first key, got err=%v n=%d", err, n)
	}
}

func TestBadgerStorage_CancelledContext(t *testing.T) {
	store := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := store.Set(ctx, "k", []byte("v"), 0); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if err := store.Scan(ctx, "", 0, func(string, []byte) error { return nil }); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled from Scan, got %v", err)
	}
}

func TestBadgerStorage_Persistence(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "badger-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	ctx := context.Background()

	// Write to first instance
	{
		store, err := New(Config{Path: tmpDir})
		if err != nil {
			t.Fatalf("Failed to create storage: %v", err)
		}
		if err := store.Set(ctx, "hm_vid", []byte("visitor-1"), 0); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		store.Close()
	}

	// Read from second instance (reopens same directory)
	{
		store, err := New(Config{Path: tmpDir})
		if err != nil {
			t.Fatalf("Failed to reopen storage: %v", err)
		}
		defer store.Close()

		got, err := store.Get(ctx, "hm_vid")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if string(got) != "visitor-1" {
			t.Errorf("Expected persisted value, got %s", got)
		}
	}
}

func TestBadgerStorage_Stats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		store.Set(ctx, fmt.Sprintf("event/%d", i), []byte("payload"), 0)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.Keys != 5 {
		t.Errorf("Expected 5 keys, got %d", stats.Keys)
	}
}

func TestBadgerStorage_RunGCInMemory(t *testing.T) {
	store := newTestStore(t)
	if err := store.RunGC(0.5); err != nil {
		t.Errorf("RunGC should be a no-op in memory mode, got %v", err)
	}
}

func TestBadgerStorage_WebStorage(t *testing.T) {
	store := newTestStore(t)
	ws := storage.WebStorage{KV: store, Prefix: "local/"}

	if _, ok, err := ws.GetItem("hm_vid"); ok || err != nil {
		t.Fatalf("Expected missing item, got ok=%v err=%v", ok, err)
	}
	if err := ws.SetItem("hm_vid", "visitor-1"); err != nil {
		t.Fatalf("SetItem failed: %v", err)
	}
	v, ok, err := ws.GetItem("hm_vid")
	if err != nil || !ok || v != "visitor-1" {
		t.Errorf("Expected visitor-1, got %q ok=%v err=%v", v, ok, err)
	}
	if raw, _ := store.Get(context.Background(), "local/hm_vid"); string(raw) != "visitor-1" {
		t.Errorf("Expected prefixed key in KV, got %q", raw)
	}
	if err := ws.RemoveItem("hm_vid"); err != nil {
		t.Fatalf("RemoveItem failed: %v", err)
	}
	if _, ok, _ := ws.GetItem("hm_vid"); ok {
		t.Error("Expected item removed")
	}
}
