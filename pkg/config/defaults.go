package config

import (
	"strings"
	"time"

	"github.com/marmos91/dittomount/pkg/adapter"
	"github.com/marmos91/dittomount/pkg/fuse"
	"github.com/marmos91/dittomount/pkg/registry"
	"github.com/marmos91/dittomount/pkg/vfs"
)

// DefaultChunkSize is the cache chunk size used when none is configured.
const DefaultChunkSize = "512KiB"

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend-specific defaults are handled by the backends
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyRegistryDefaults(&cfg.Registry)
	applyCacheDefaults(&cfg.Cache)
	applyFUSEDefaults(&cfg.FUSE)
	applyMetricsDefaults(&cfg.Metrics)
	applyMountDefaults(cfg.Mounts)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyRegistryDefaults(cfg *RegistryConfig) {
	if cfg.Capacity == 0 {
		cfg.Capacity = registry.DefaultCapacity
	}
	if cfg.MaxHandles == 0 {
		cfg.MaxHandles = adapter.DefaultMaxHandles
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.ChunkSize == "" {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.Chunks == 0 {
		cfg.Chunks = 1
	}
}

func applyFUSEDefaults(cfg *fuse.Config) {
	if cfg.AttrTimeout == 0 {
		cfg.AttrTimeout = time.Second
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyMountDefaults fills the per-type settings that have an obvious
// default. Archive mounts are read-only whatever the file says.
func applyMountDefaults(mounts []MountConfig) {
	for i := range mounts {
		m := &mounts[i]
		if m.Options == nil {
			m.Options = make(map[string]any)
		}
		switch m.Type {
		case "zip", "http":
			m.ReadOnly = true
		}
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		FUSE: fuse.Config{
			Mountpoint: "/tmp/dittomount",
		},
		Mounts: []MountConfig{
			{
				Type: "memory",
				MountConfig: vfs.MountConfig{
					Name: "ram",
					Options: map[string]any{
						"max_bytes": "64MiB",
					},
				},
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
