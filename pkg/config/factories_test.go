package config

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	httpfs "github.com/marmos91/dittomount/pkg/backend/http"
	"github.com/marmos91/dittomount/pkg/backend/native"
	"github.com/marmos91/dittomount/pkg/backend/s3"
	"github.com/marmos91/dittomount/pkg/backend/tree"
	zipfs "github.com/marmos91/dittomount/pkg/backend/zip"
	"github.com/marmos91/dittomount/pkg/vfs"
)

func defaultCache() CacheConfig {
	return CacheConfig{ChunkSize: DefaultChunkSize, Chunks: 1}
}

func writeArchive(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, err := w.Create("hello.txt")
	if err != nil {
		t.Fatalf("Failed to create archive member: %v", err)
	}
	if _, err := fw.Write([]byte("hello from the archive")); err != nil {
		t.Fatalf("Failed to write archive member: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Failed to close archive: %v", err)
	}
	return buf.Bytes()
}

func mountBackend(t *testing.T, b vfs.Backend) {
	t.Helper()
	if err := b.Mount(context.Background()); err != nil {
		t.Fatalf("Mount failed: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
}

func TestCreateBackend_Memory(t *testing.T) {
	b, err := CreateBackend(MountConfig{
		Type:        "memory",
		MountConfig: vfs.MountConfig{Options: map[string]any{"max_bytes": "1MiB", "max_files": 10}},
	}, defaultCache(), nil)
	if err != nil {
		t.Fatalf("CreateBackend failed: %v", err)
	}
	if _, ok := b.(*tree.Backend); !ok {
		t.Fatalf("Expected *tree.Backend, got %T", b)
	}
	mountBackend(t, b)

	st, err := b.(vfs.StatFSer).StatFS(context.Background(), "/")
	if err != nil {
		t.Fatalf("StatFS failed: %v", err)
	}
	if st.Blocks*st.BlockSize != 1<<20 {
		t.Errorf("Expected 1MiB capacity, got %d blocks of %d", st.Blocks, st.BlockSize)
	}
	if st.Files != 10 {
		t.Errorf("Expected 10 files, got %d", st.Files)
	}
}

func TestCreateBackend_MemoryBadOption(t *testing.T) {
	_, err := CreateBackend(MountConfig{
		Type:        "memory",
		MountConfig: vfs.MountConfig{Options: map[string]any{"max_bytes": "plenty"}},
	}, defaultCache(), nil)
	if err == nil {
		t.Fatal("Expected error for unparsable max_bytes")
	}
}

func TestCreateBackend_Badger(t *testing.T) {
	if _, err := CreateBackend(MountConfig{Type: "badger", MountConfig: vfs.MountConfig{Options: map[string]any{}}}, defaultCache(), nil); err == nil {
		t.Fatal("Expected error for badger without db_path")
	}

	b, err := CreateBackend(MountConfig{
		Type: "badger",
		MountConfig: vfs.MountConfig{Options: map[string]any{
			"db_path":   filepath.Join(t.TempDir(), "db"),
			"max_bytes": "4MiB",
		}},
	}, defaultCache(), nil)
	if err != nil {
		t.Fatalf("CreateBackend failed: %v", err)
	}
	mountBackend(t, b)

	if err := b.(vfs.DirMaker).Mkdir(context.Background(), "/saves", 0755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	st, err := b.Lstat(context.Background(), "/saves")
	if err != nil || !st.IsDir() {
		t.Fatalf("Expected /saves directory, got %+v, %v", st, err)
	}
}

func TestCreateBackend_Native(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("abc"), 0644); err != nil {
		t.Fatalf("Failed to seed root: %v", err)
	}

	b, err := CreateBackend(MountConfig{Type: "native", MountConfig: vfs.MountConfig{URL: "file://" + root}}, defaultCache(), nil)
	if err != nil {
		t.Fatalf("CreateBackend failed: %v", err)
	}
	if _, ok := b.(*native.Backend); !ok {
		t.Fatalf("Expected *native.Backend, got %T", b)
	}
	mountBackend(t, b)

	st, err := b.Lstat(context.Background(), "/a.txt")
	if err != nil {
		t.Fatalf("Lstat failed: %v", err)
	}
	if st.Size != 3 {
		t.Errorf("Expected size 3, got %d", st.Size)
	}
}

func TestCreateBackend_NativeCreate(t *testing.T) {
	root := filepath.Join(t.TempDir(), "new", "root")
	b, err := CreateBackend(MountConfig{
		Type:        "native",
		MountConfig: vfs.MountConfig{URL: root, Options: map[string]any{"create": "true"}},
	}, defaultCache(), nil)
	if err != nil {
		t.Fatalf("CreateBackend failed: %v", err)
	}
	mountBackend(t, b)

	if _, err := os.Stat(root); err != nil {
		t.Errorf("Expected root to be created: %v", err)
	}
}

func TestCreateBackend_ZipFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pack.zip")
	if err := os.WriteFile(path, writeArchive(t), 0644); err != nil {
		t.Fatalf("Failed to write archive: %v", err)
	}

	b, err := CreateBackend(MountConfig{Type: "zip", MountConfig: vfs.MountConfig{URL: path}}, defaultCache(), nil)
	if err != nil {
		t.Fatalf("CreateBackend failed: %v", err)
	}
	if _, ok := b.(*zipfs.Backend); !ok {
		t.Fatalf("Expected *zip.Backend, got %T", b)
	}
	mountBackend(t, b)

	st, err := b.Lstat(context.Background(), "/hello.txt")
	if err != nil {
		t.Fatalf("Lstat failed: %v", err)
	}
	if st.Size != int64(len("hello from the archive")) {
		t.Errorf("Unexpected size %d", st.Size)
	}
}

func TestCreateBackend_ZipParts(t *testing.T) {
	data := writeArchive(t)
	dir := t.TempDir()
	half := len(data) / 2
	parts := []string{filepath.Join(dir, "pack.z01"), filepath.Join(dir, "pack.zip")}
	if err := os.WriteFile(parts[0], data[:half], 0644); err != nil {
		t.Fatalf("Failed to write part: %v", err)
	}
	if err := os.WriteFile(parts[1], data[half:], 0644); err != nil {
		t.Fatalf("Failed to write part: %v", err)
	}

	b, err := CreateBackend(MountConfig{
		Type:        "zip",
		MountConfig: vfs.MountConfig{Options: map[string]any{"parts": strings.Join(parts, ",")}},
	}, defaultCache(), nil)
	if err != nil {
		t.Fatalf("CreateBackend failed: %v", err)
	}
	mountBackend(t, b)

	if _, err := b.Lstat(context.Background(), "/hello.txt"); err != nil {
		t.Fatalf("Lstat in split archive failed: %v", err)
	}
}

func TestCreateBackend_ZipHTTP(t *testing.T) {
	data := writeArchive(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "pack.zip", time.Time{}, bytes.NewReader(data))
	}))
	defer srv.Close()

	b, err := CreateBackend(MountConfig{
		Type:        "zip",
		MountConfig: vfs.MountConfig{URL: srv.URL + "/pack.zip", Timeout: 5 * time.Second},
	}, defaultCache(), nil)
	if err != nil {
		t.Fatalf("CreateBackend failed: %v", err)
	}
	mountBackend(t, b)

	if _, err := b.Lstat(context.Background(), "/hello.txt"); err != nil {
		t.Fatalf("Lstat in remote archive failed: %v", err)
	}
}

func TestCreateBackend_ZipHTTPRejectsParts(t *testing.T) {
	_, err := CreateBackend(MountConfig{
		Type: "zip",
		MountConfig: vfs.MountConfig{
			URL:     "https://example.com/pack.zip",
			Options: map[string]any{"parts": []any{"a", "b"}},
		},
	}, defaultCache(), nil)
	if err == nil {
		t.Fatal("Expected error for parts on a remote archive")
	}
}

func TestCreateBackend_S3(t *testing.T) {
	port := 9000
	b, err := CreateBackend(MountConfig{
		Type: "s3",
		MountConfig: vfs.MountConfig{
			URL:     "s3://media/team/roms",
			User:    "AKID",
			Pass:    "SECRET",
			Port:    &port,
			Timeout: 10 * time.Second,
			Options: map[string]any{
				"region":                  "eu-west-1",
				"endpoint":                "http://localhost:8333",
				"force_path_style":        true,
				"max_retries":             "5",
				"max_requests_per_second": 20,
			},
		},
	}, defaultCache(), nil)
	if err != nil {
		t.Fatalf("CreateBackend failed: %v", err)
	}
	sb, ok := b.(*s3.Backend)
	if !ok {
		t.Fatalf("Expected *s3.Backend, got %T", b)
	}

	cfg := sb.Config()
	if cfg.Bucket != "media" || cfg.Prefix != "team/roms" {
		t.Errorf("Unexpected bucket/prefix %q/%q", cfg.Bucket, cfg.Prefix)
	}
	if cfg.AccessKeyID != "AKID" || cfg.SecretAccessKey != "SECRET" {
		t.Errorf("Credentials not taken from user/pass: %+v", cfg)
	}
	if cfg.Endpoint != "http://localhost:9000" {
		t.Errorf("Expected port override in endpoint, got %q", cfg.Endpoint)
	}
	if cfg.Region != "eu-west-1" || !cfg.ForcePathStyle || cfg.MaxRetries != 5 || cfg.MaxRequestsPerSecond != 20 {
		t.Errorf("Options not decoded: %+v", cfg)
	}
	if cfg.Timeout != 10*time.Second {
		t.Errorf("Expected timeout 10s, got %v", cfg.Timeout)
	}
}

func TestCreateBackend_S3Errors(t *testing.T) {
	port := 9000
	tests := []MountConfig{
		{Type: "s3", MountConfig: vfs.MountConfig{URL: "http://media"}},
		{Type: "s3", MountConfig: vfs.MountConfig{URL: "s3://media", Port: &port}},
	}
	for _, m := range tests {
		if _, err := CreateBackend(m, defaultCache(), nil); err == nil {
			t.Errorf("Expected error for %+v", m.MountConfig)
		}
	}
}

func TestCreateBackend_HTTP(t *testing.T) {
	port := 8080
	b, err := CreateBackend(MountConfig{
		Type: "http",
		MountConfig: vfs.MountConfig{
			URL:  "http://mirror.example.com/roms/",
			Port: &port,
		},
	}, defaultCache(), nil)
	if err != nil {
		t.Fatalf("CreateBackend failed: %v", err)
	}
	hb, ok := b.(*httpfs.Backend)
	if !ok {
		t.Fatalf("Expected *http.Backend, got %T", b)
	}
	if got := hb.URLFor("/a.bin"); got != "http://mirror.example.com:8080/roms/a.bin" {
		t.Errorf("Unexpected URL %q", got)
	}
}

func TestCreateBackend_UnknownType(t *testing.T) {
	_, err := CreateBackend(MountConfig{Type: "floppy"}, defaultCache(), nil)
	if err == nil {
		t.Fatal("Expected error for unknown type")
	}
	if !strings.Contains(err.Error(), "unknown backend type") {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestCacheOptions(t *testing.T) {
	if _, err := CacheOptions(CacheConfig{ChunkSize: "1MiB", Chunks: 2}); err != nil {
		t.Fatalf("CacheOptions failed: %v", err)
	}
	if _, err := CacheOptions(CacheConfig{ChunkSize: "1GiB", Chunks: 2}); err == nil {
		t.Fatal("Expected error for oversized chunks")
	}
}
