//go:build e2e

package e2e

import (
	"bytes"
	"fmt"
	"os"
	"testing"
)

func TestFileLifecycle(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		path := tc.Path("notes.txt")

		if err := os.WriteFile(path, []byte("first draft"), 0644); err != nil {
			t.Fatalf("Failed to create file: %v", err)
		}
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Failed to read file: %v", err)
		}
		if string(got) != "first draft" {
			t.Fatalf("Expected %q, got %q", "first draft", got)
		}

		// Overwrite with shorter content: the file must be truncated
		if err := os.WriteFile(path, []byte("v2"), 0644); err != nil {
			t.Fatalf("Failed to overwrite file: %v", err)
		}
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("Failed to stat file: %v", err)
		}
		if info.Size() != 2 {
			t.Errorf("Expected size 2 after overwrite, got %d", info.Size())
		}

		if err := os.Remove(path); err != nil {
			t.Fatalf("Failed to delete file: %v", err)
		}
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Errorf("File should not exist after deletion, got %v", err)
		}
	})
}

func TestAppendAndSeek(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		path := tc.Path("log.txt")
		if err := os.WriteFile(path, []byte("line1\n"), 0644); err != nil {
			t.Fatalf("Failed to create file: %v", err)
		}

		f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
		if err != nil {
			t.Fatalf("Failed to open for append: %v", err)
		}
		if _, err := f.WriteString("line2\n"); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
		if err := f.Close(); err != nil {
			t.Fatalf("Failed to close: %v", err)
		}

		f, err = os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			t.Fatalf("Failed to reopen: %v", err)
		}
		if _, err := f.WriteAt([]byte("LINE"), 6); err != nil {
			t.Fatalf("Failed to write at offset: %v", err)
		}
		if err := f.Close(); err != nil {
			t.Fatalf("Failed to close: %v", err)
		}

		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Failed to read file: %v", err)
		}
		if string(got) != "line1\nLINE2\n" {
			t.Errorf("Unexpected content %q", got)
		}
	})
}

func TestLargeFile(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		data := make([]byte, 4<<20)
		for i := range data {
			data[i] = byte(i * 7)
		}
		path := tc.Path("large.bin")
		if err := os.WriteFile(path, data, 0644); err != nil {
			t.Fatalf("Failed to write large file: %v", err)
		}
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Failed to read large file: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("Large file content mismatch")
		}
	})
}

func TestTruncate(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		path := tc.Path("trunc.txt")
		if err := os.WriteFile(path, []byte("0123456789"), 0644); err != nil {
			t.Fatalf("Failed to create file: %v", err)
		}
		if err := os.Truncate(path, 4); err != nil {
			t.Fatalf("Failed to truncate: %v", err)
		}
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("Failed to read: %v", err)
		}
		if string(got) != "0123" {
			t.Errorf("Expected %q after truncate, got %q", "0123", got)
		}
	})
}

func TestManyFiles(t *testing.T) {
	runOnAllConfigs(t, func(t *testing.T, tc *TestContext) {
		for i := 0; i < 50; i++ {
			name := tc.Path(fmt.Sprintf("file%02d.txt", i))
			if err := os.WriteFile(name, []byte(fmt.Sprintf("content %d", i)), 0644); err != nil {
				t.Fatalf("Failed to create file %d: %v", i, err)
			}
		}
		entries, err := os.ReadDir(tc.MountPath)
		if err != nil {
			t.Fatalf("Failed to read directory: %v", err)
		}
		if len(entries) != 50 {
			t.Errorf("Expected 50 entries, got %d", len(entries))
		}
	})
}
