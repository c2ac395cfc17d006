//go:build e2e

package e2e

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/pkg/adapter"
	"github.com/marmos91/dittomount/pkg/config"
	"github.com/marmos91/dittomount/pkg/fuse"
	"github.com/marmos91/dittomount/pkg/registry"
)

// TestContext provides a complete testing environment with:
// - A registry holding the configured mount
// - The FUSE front end mounted on a temporary directory
// - Cleanup mechanisms
type TestContext struct {
	T        *testing.T
	Config   *TestConfig
	Router   *adapter.Router
	Registry *registry.Registry
	Server   *fuse.Server

	// Mountpoint is the FUSE mountpoint; MountPath is the device directory
	// below it.
	Mountpoint string
	MountPath  string

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan error
	mounted bool
}

// NewTestContext starts a FUSE mount serving the configuration's backend.
// The test is skipped when FUSE is not available.
func NewTestContext(t *testing.T, cfg *TestConfig) *TestContext {
	t.Helper()
	if _, err := os.Stat("/dev/fuse"); err != nil {
		t.Skip("FUSE is not available: /dev/fuse missing")
	}

	// Always use ERROR level to keep test output clean
	logger.SetLevel("ERROR")

	ctx, cancel := context.WithCancel(context.Background())
	tc := &TestContext{T: t, Config: cfg, ctx: ctx, cancel: cancel}

	dir := t.TempDir()
	appCfg := &config.Config{
		FUSE:   fuse.Config{Mountpoint: filepath.Join(dir, "mnt")},
		Mounts: []config.MountConfig{cfg.MountConfig(dir)},
	}
	config.ApplyDefaults(appCfg)
	if err := config.Validate(appCfg); err != nil {
		t.Fatalf("Invalid test configuration: %v", err)
	}

	tc.Router = config.NewRouter(appCfg, nil)
	reg, err := config.InitializeRegistry(ctx, appCfg, tc.Router, nil)
	if err != nil {
		t.Fatalf("Failed to initialize registry: %v", err)
	}
	tc.Registry = reg

	tc.Mountpoint = appCfg.FUSE.Mountpoint
	tc.MountPath = filepath.Join(tc.Mountpoint, appCfg.Mounts[0].Name)
	tc.Server = fuse.New(appCfg.FUSE)
	tc.Server.SetRouter(tc.Router)
	tc.mount()
	return tc
}

// mount starts the FUSE server and waits for the device directory to
// appear.
func (tc *TestContext) mount() {
	tc.T.Helper()
	tc.done = make(chan error, 1)
	go func() {
		tc.done <- tc.Server.Serve(tc.ctx)
	}()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if info, err := os.Stat(tc.MountPath); err == nil && info.IsDir() {
			tc.mounted = true
			return
		}
		select {
		case err := <-tc.done:
			tc.T.Fatalf("FUSE server exited during startup: %v", err)
		case <-time.After(50 * time.Millisecond):
		}
	}
	tc.T.Fatalf("Timed out waiting for %s", tc.MountPath)
}

// unmount stops the FUSE server, leaving the registry mounted.
func (tc *TestContext) unmount() {
	tc.T.Helper()
	if !tc.mounted {
		return
	}
	tc.cancel()
	select {
	case err := <-tc.done:
		if err != nil && !errors.Is(err, context.Canceled) {
			tc.T.Logf("FUSE server error: %v", err)
		}
	case <-time.After(5 * time.Second):
		tc.T.Logf("FUSE server stop timeout")
	}
	tc.mounted = false
}

// remount mounts a fresh FUSE server over the same registry.
func (tc *TestContext) remount() {
	tc.T.Helper()
	tc.ctx, tc.cancel = context.WithCancel(context.Background())
	tc.Server = fuse.New(fuse.Config{Mountpoint: tc.Mountpoint})
	tc.Server.SetRouter(tc.Router)
	tc.mount()
}

// Cleanup unmounts the filesystem and destroys the mounts.
func (tc *TestContext) Cleanup() {
	tc.unmount()
	if tc.Registry != nil {
		tc.Registry.UnmountAll()
		tc.Registry = nil
	}
}

// Path returns the full path within the mounted device
func (tc *TestContext) Path(relativePath string) string {
	return filepath.Join(tc.MountPath, relativePath)
}
