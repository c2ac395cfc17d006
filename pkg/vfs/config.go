package vfs

import "time"

// MountConfig carries the per-mount settings. It is fixed when the mount is
// created.
//
// The framework itself only interprets ReadOnly, DumpHidden, FsHidden and
// Name. The remaining fields are opaque to it and consumed by the backend:
// URL, credentials, port and timeout by network backends, Options by any
// backend that needs settings beyond the common set.
type MountConfig struct {
	// Name is the mount name chosen by the operator. When empty the
	// registry generates "<kind>_<slot>".
	Name string `mapstructure:"name" yaml:"name,omitempty"`

	// ReadOnly rejects every mutating call before it reaches the backend.
	ReadOnly bool `mapstructure:"read_only" yaml:"read_only"`

	// DumpHidden hides the mount from dump/listing surfaces.
	DumpHidden bool `mapstructure:"dump_hidden" yaml:"dump_hidden"`

	// FsHidden hides the mount from filesystem browsing surfaces.
	FsHidden bool `mapstructure:"fs_hidden" yaml:"fs_hidden"`

	URL  string `mapstructure:"url" yaml:"url,omitempty"`
	User string `mapstructure:"user" yaml:"user,omitempty"`
	Pass string `mapstructure:"pass" yaml:"pass,omitempty"`

	// Port overrides the scheme default when set.
	Port *int `mapstructure:"port" yaml:"port,omitempty"`

	// Timeout bounds each network request made by the backend. Zero means
	// no limit.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`

	// Options holds backend-specific settings.
	Options map[string]any `mapstructure:"options" yaml:"options,omitempty"`
}

// PortOr returns the configured port or def when none is set.
func (c MountConfig) PortOr(def int) int {
	if c.Port != nil {
		return *c.Port
	}
	return def
}
