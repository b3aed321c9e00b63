package storage

import (
	"context"
	"errors"
	"time"

	"github.com/nicktill/hitmetrics/pkg/sdk/host"
)

const webStorageTimeout = 2 * time.Second

// WebStorage exposes a KV as a browser Web Storage area, so a host can give
// the SDK a localStorage that survives restarts.
type WebStorage struct {
	KV     KV
	Prefix string
}

var _ host.Storage = WebStorage{}

func (w WebStorage) GetItem(key string) (string, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), webStorageTimeout)
	defer cancel()

	v, err := w.KV.Get(ctx, w.Prefix+key)
	if errors.Is(err, ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return string(v), true, nil
}

func (w WebStorage) SetItem(key, value string) error {
	ctx, cancel := context.WithTimeout(context.Background(), webStorageTimeout)
	defer cancel()
	return w.KV.Set(ctx, w.Prefix+key, []byte(value), 0)
}

func (w WebStorage) RemoveItem(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), webStorageTimeout)
	defer cancel()
	return w.KV.Delete(ctx, w.Prefix+key)
}
