package config

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes environment overrides, e.g. HITMETRICS_SERVER__PORT.
const EnvPrefix = "HITMETRICS_"

// Collector configures the development collection endpoint.
type Collector struct {
	Server  ServerConfig  `koanf:"server"`
	Storage StorageConfig `koanf:"storage"`
	// APIKeys accepted by the collector. Empty accepts every request.
	APIKeys []string `koanf:"api_keys"`
	LogJSON bool     `koanf:"log_json"`
}

type ServerConfig struct {
	Port int `koanf:"port"`
}

type StorageConfig struct {
	Type        string `koanf:"type"` // badger, memory
	Path        string `koanf:"path"`
	MaxMemoryMB int64  `koanf:"max_memory_mb"`
	// MaxStorageMB stops ingestion once the data directory reaches it. 0 disables the limit.
	MaxStorageMB int64 `koanf:"max_storage_mb"`
	// Retention expires stored events. 0 keeps them forever.
	Retention time.Duration `koanf:"retention"`
}

// LoadCollector reads path (if it exists) and then environment overrides.
// Nested keys use a double underscore: HITMETRICS_STORAGE__TYPE=memory.
func LoadCollector(path string) (*Collector, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// A missing file is fine, env vars and defaults still apply
			if !errors.Is(err, fs.ErrNotExist) && !os.IsNotExist(err) {
				return nil, err
			}
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, err
	}

	if !k.Exists("server.port") {
		k.Set("server.port", DefaultCollectorPort)
	}
	if !k.Exists("storage.type") {
		k.Set("storage.type", "badger")
	}
	if !k.Exists("storage.path") {
		k.Set("storage.path", DefaultDataDir)
	}
	if !k.Exists("storage.max_memory_mb") {
		k.Set("storage.max_memory_mb", DefaultMaxMemoryMB)
	}
	if !k.Exists("storage.max_storage_mb") {
		k.Set("storage.max_storage_mb", DefaultMaxStorageMB)
	}
	if !k.Exists("storage.retention") {
		k.Set("storage.retention", DefaultRetention)
	}

	var cfg Collector
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
