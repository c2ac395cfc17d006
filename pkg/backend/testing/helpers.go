package testing

import (
	"errors"
	"io"
	"os"
	"testing"

	"github.com/marmos91/dittomount/pkg/vfs"
	"github.com/stretchr/testify/require"
)

// mounted creates and mounts a backend that is closed when t ends.
func (suite *BackendTestSuite) mounted(t *testing.T) vfs.Backend {
	t.Helper()
	b := suite.NewBackend(t)
	require.NoError(t, b.Mount(testContext()))
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// AssertErrorIs fails unless err wraps target.
func AssertErrorIs(t *testing.T, target, err error) {
	t.Helper()
	require.Error(t, err)
	require.Truef(t, errors.Is(err, target), "expected %v, got %v", target, err)
}

func writeFile(t *testing.T, b vfs.Backend, path string, data []byte) {
	t.Helper()
	f, err := b.Open(testContext(), path, vfs.OpenFlags(os.O_WRONLY|os.O_CREATE|os.O_TRUNC), 0o644)
	require.NoError(t, err)
	w, ok := f.(vfs.FileWriter)
	require.True(t, ok, "writable backend handle must implement FileWriter")
	n, err := w.Write(testContext(), data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, f.Close())
}

func readFile(t *testing.T, b vfs.Backend, path string) []byte {
	t.Helper()
	f, err := b.Open(testContext(), path, vfs.OpenFlags(os.O_RDONLY), 0)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	var out []byte
	buf := make([]byte, 7)
	for {
		n, err := f.Read(testContext(), buf)
		out = append(out, buf[:n]...)
		if err == io.EOF || (err == nil && n == 0) {
			return out
		}
		require.NoError(t, err)
	}
}

func listDir(t *testing.T, b vfs.Backend, path string) []string {
	t.Helper()
	d, err := b.OpenDir(testContext(), path)
	require.NoError(t, err)
	defer func() { _ = d.Close() }()
	return drain(t, d)
}

func drain(t *testing.T, d vfs.Dir) []string {
	t.Helper()
	var names []string
	for {
		e, err := d.Next(testContext())
		if err == io.EOF {
			return names
		}
		require.NoError(t, err)
		names = append(names, e.Name)
	}
}

func mkdir(t *testing.T, b vfs.Backend, path string) {
	t.Helper()
	dm, ok := b.(vfs.DirMaker)
	require.True(t, ok, "backend must implement DirMaker")
	require.NoError(t, dm.Mkdir(testContext(), path, 0o755))
}
