//go:build e2e

package e2e

import (
	"fmt"
	"path/filepath"

	"github.com/marmos91/dittomount/pkg/config"
	"github.com/marmos91/dittomount/pkg/vfs"
)

// TestConfig describes the mount a test runs against.
type TestConfig struct {
	Name string

	// Type is the backend type ("memory", "badger", "native")
	Type string
}

// String returns a string representation of the configuration
func (tc *TestConfig) String() string {
	return fmt.Sprintf("%s/%s", tc.Name, tc.Type)
}

// MountConfig builds the configured mount for this run. Storage that
// lives on disk goes below dir.
func (tc *TestConfig) MountConfig(dir string) config.MountConfig {
	m := config.MountConfig{
		Type:        tc.Type,
		MountConfig: vfs.MountConfig{Name: "data", Options: map[string]any{}},
	}
	switch tc.Type {
	case "badger":
		m.Options["db_path"] = filepath.Join(dir, "badger")
	case "native":
		m.URL = filepath.Join(dir, "native")
		m.Options["create"] = true
	}
	return m
}

// AllConfigurations returns every writable backend the suite covers.
func AllConfigurations() []*TestConfig {
	return []*TestConfig{
		{Name: "memory", Type: "memory"},
		{Name: "badger", Type: "badger"},
		{Name: "native", Type: "native"},
	}
}
