//go:build e2e

package e2e

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"
)

func TestNestedDirectories(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		current := tc.MountPath
		for i := 0; i < 10; i++ {
			current = filepath.Join(current, fmt.Sprintf("level%d", i))
			if err := os.Mkdir(current, 0755); err != nil {
				t.Fatalf("Failed to create level %d: %v", i, err)
			}
			if err := os.WriteFile(filepath.Join(current, "f.txt"), nil, 0644); err != nil {
				t.Fatalf("Failed to create file at level %d: %v", i, err)
			}
		}

		info, err := os.Stat(current)
		if err != nil {
			t.Fatalf("Failed to stat deepest folder: %v", err)
		}
		if !info.IsDir() {
			t.Errorf("Expected directory at deepest level")
		}

		if err := os.RemoveAll(tc.Path("level0")); err != nil {
			t.Fatalf("Failed to remove tree: %v", err)
		}
		if _, err := os.Stat(tc.Path("level0")); !os.IsNotExist(err) {
			t.Errorf("Tree should be gone, got %v", err)
		}
	})
}

func TestDirectoryErrors(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		if err := os.Mkdir(tc.Path("d"), 0755); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
		if err := os.Mkdir(tc.Path("d"), 0755); !os.IsExist(err) {
			t.Errorf("Expected EEXIST, got %v", err)
		}
		if err := os.WriteFile(tc.Path("d/f"), []byte("x"), 0644); err != nil {
			t.Fatalf("Failed to create file: %v", err)
		}
		if err := syscall.Rmdir(tc.Path("d")); !errors.Is(err, syscall.ENOTEMPTY) {
			t.Errorf("Expected ENOTEMPTY, got %v", err)
		}
		if err := os.Mkdir(tc.Path("missing/child"), 0755); !os.IsNotExist(err) {
			t.Errorf("Expected ENOENT, got %v", err)
		}
	})
}

func TestRename(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		if err := os.MkdirAll(tc.Path("src/inner"), 0755); err != nil {
			t.Fatalf("Failed to create tree: %v", err)
		}
		if err := os.WriteFile(tc.Path("src/inner/a.txt"), []byte("payload"), 0644); err != nil {
			t.Fatalf("Failed to create file: %v", err)
		}

		if err := os.Rename(tc.Path("src/inner/a.txt"), tc.Path("src/b.txt")); err != nil {
			t.Fatalf("Failed to rename file: %v", err)
		}
		if err := os.Rename(tc.Path("src"), tc.Path("dst")); err != nil {
			t.Fatalf("Failed to rename directory: %v", err)
		}

		got, err := os.ReadFile(tc.Path("dst/b.txt"))
		if err != nil {
			t.Fatalf("Failed to read moved file: %v", err)
		}
		if string(got) != "payload" {
			t.Errorf("Expected %q, got %q", "payload", got)
		}
		if _, err := os.Stat(tc.Path("src")); !os.IsNotExist(err) {
			t.Errorf("Old directory should not exist, got %v", err)
		}
	})
}
