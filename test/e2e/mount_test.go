//go:build e2e

package e2e

import (
	"os"
	"testing"
)

// TestRemount checks that contents survive the FUSE front end going away
// while the registry keeps the mount.
func TestRemount(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		path := tc.Path("before_unmount.txt")
		if err := os.WriteFile(path, []byte("kept"), 0644); err != nil {
			t.Fatalf("Failed to create file: %v", err)
		}

		tc.unmount()
		if _, err := os.Stat(path); err == nil {
			t.Errorf("Should not be able to access file after unmount")
		}

		tc.remount()
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Failed to read file after remount: %v", err)
		}
		if string(got) != "kept" {
			t.Errorf("Expected %q, got %q", "kept", got)
		}
	})
}

func TestRootListsDevice(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		entries, err := os.ReadDir(tc.Mountpoint)
		if err != nil {
			t.Fatalf("Failed to list mountpoint: %v", err)
		}
		if len(entries) != 1 || entries[0].Name() != "data" || !entries[0].IsDir() {
			t.Errorf("Expected a single 'data' directory, got %v", entries)
		}
	})
}
