package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/dittomount/pkg/fuse"
	"github.com/marmos91/dittomount/pkg/vfs"
	"github.com/spf13/viper"
)

// Config represents the complete dittomount configuration.
//
// This structure captures all configurable aspects of dittomount:
//   - Logging configuration
//   - Registry sizing
//   - Read cache tuning shared by every backend
//   - The FUSE front end
//   - Prometheus metrics
//   - The mounts to attach at startup
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DITTOMOUNT_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
//
// Mount Configuration Pattern:
// Each backend type defines its own configuration struct. Settings common
// to every mount (name, visibility, url, credentials) live on the mount
// itself; anything backend-specific goes in the mount's options map, which
// the backend factory decodes.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Registry sizes the mount table and the per-mount handle tables
	Registry RegistryConfig `mapstructure:"registry" yaml:"registry"`

	// Cache tunes the read-through chunk cache of network and archive
	// backends
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// FUSE configures the FUSE front end used by "dittomount mount"
	FUSE fuse.Config `mapstructure:"fuse" yaml:"fuse"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Mounts lists the filesystems attached at startup
	Mounts []MountConfig `mapstructure:"mounts" yaml:"mounts" validate:"dive"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// RegistryConfig sizes the mount registry.
type RegistryConfig struct {
	// Capacity is the number of mount slots
	Capacity int `mapstructure:"capacity" yaml:"capacity" validate:"gte=1,lte=4096"`

	// MaxHandles bounds open files (and, separately, open directories) per
	// mount
	MaxHandles int `mapstructure:"max_handles" yaml:"max_handles" validate:"gte=1"`
}

// CacheConfig tunes the chunk cache.
type CacheConfig struct {
	// ChunkSize is the size of one cached chunk. Accepts plain byte
	// counts or human-readable sizes ("512KiB", "1MB").
	ChunkSize string `mapstructure:"chunk_size" yaml:"chunk_size" validate:"required"`

	// Chunks is the number of resident chunks per open source
	Chunks int `mapstructure:"chunks" yaml:"chunks" validate:"gte=1,lte=1024"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled turns on metrics collection and the HTTP endpoint
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port serving /metrics
	Port int `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`
}

// MountConfig describes one mount. The embedded vfs.MountConfig carries
// the settings every backend understands.
type MountConfig struct {
	// Type selects the backend implementation
	// Valid values: memory, badger, native, zip, s3, http
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger native zip s3 http"`

	vfs.MountConfig `mapstructure:",squash" yaml:",inline"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOMOUNT_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Configure viper
	setupViper(v, configPath)

	// Read configuration file if it exists
	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	// Unmarshal into config struct
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Apply defaults for any missing values
	ApplyDefaults(&cfg)

	// Validate configuration
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use DITTOMOUNT_ prefix and underscores
	// Example: DITTOMOUNT_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOMOUNT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper knows about
	for _, key := range []string{
		"logging.level", "logging.format", "logging.output",
		"registry.capacity", "registry.max_handles",
		"cache.chunk_size", "cache.chunks",
		"fuse.mountpoint", "fuse.allow_other", "fuse.attr_timeout", "fuse.debug",
		"metrics.enabled", "metrics.port",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Use default location: $XDG_CONFIG_HOME/dittomount/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittomount")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittomount")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
