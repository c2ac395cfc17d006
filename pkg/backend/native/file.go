package native

import (
	"context"
	"io"
	"os"

	"github.com/marmos91/dittomount/pkg/vfs"
)

// file is a writable handle on a host file.
type file struct {
	f    *os.File
	path string
}

func (h *file) Read(_ context.Context, p []byte) (int, error) {
	n, err := h.f.Read(p)
	if err == io.EOF {
		return n, err
	}
	return n, translate("read", h.path, err)
}

func (h *file) Write(_ context.Context, p []byte) (int, error) {
	n, err := h.f.Write(p)
	return n, translate("write", h.path, err)
}

func (h *file) Seek(offset int64, whence int) (int64, error) {
	pos, err := h.f.Seek(offset, whence)
	return pos, translate("seek", h.path, err)
}

func (h *file) Stat(context.Context) (vfs.Stat, error) {
	info, err := h.f.Stat()
	if err != nil {
		return vfs.Stat{}, translate("fstat", h.path, err)
	}
	return statOf(info), nil
}

func (h *file) Truncate(_ context.Context, size int64) error {
	return translate("truncate", h.path, h.f.Truncate(size))
}

func (h *file) Sync(context.Context) error {
	return translate("fsync", h.path, h.f.Sync())
}

func (h *file) Close() error {
	return translate("close", h.path, h.f.Close())
}

var (
	_ vfs.File          = (*file)(nil)
	_ vfs.FileWriter    = (*file)(nil)
	_ vfs.FileTruncater = (*file)(nil)
	_ vfs.FileSyncer    = (*file)(nil)
)
