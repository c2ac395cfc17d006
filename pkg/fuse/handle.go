package fuse

import (
	"context"
	"io"
	"sync"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/marmos91/dittomount/pkg/adapter"
	"github.com/marmos91/dittomount/pkg/vfs"
)

// handle is an open device descriptor. The kernel issues positional reads
// and writes; mu keeps the seek and the transfer together.
type handle struct {
	dev   *adapter.Device
	fd    int
	flags vfs.OpenFlags

	mu       sync.Mutex
	released bool
}

var _ gofuse.FileReader = (*handle)(nil)
var _ gofuse.FileWriter = (*handle)(nil)
var _ gofuse.FileFlusher = (*handle)(nil)
var _ gofuse.FileFsyncer = (*handle)(nil)
var _ gofuse.FileReleaser = (*handle)(nil)
var _ gofuse.FileGetattrer = (*handle)(nil)

func (h *handle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, errno := h.dev.Seek(ctx, h.fd, off, io.SeekStart); errno != adapter.OK {
		return nil, errno
	}
	total := 0
	for total < len(dest) {
		n, errno := h.dev.Read(ctx, h.fd, dest[total:])
		if errno != adapter.OK {
			return nil, errno
		}
		if n == 0 {
			break
		}
		total += n
	}
	return fuse.ReadResultData(dest[:total]), 0
}

func (h *handle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.flags.Append() {
		if _, errno := h.dev.Seek(ctx, h.fd, off, io.SeekStart); errno != adapter.OK {
			return 0, errno
		}
	}
	n, errno := h.dev.Write(ctx, h.fd, data)
	if errno != adapter.OK {
		return 0, errno
	}
	return uint32(n), 0
}

func (h *handle) truncate(ctx context.Context, size int64) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dev.Ftruncate(ctx, h.fd, size)
}

// Flush runs on every close(2) of a descriptor sharing this handle.
func (h *handle) Flush(ctx context.Context) syscall.Errno {
	return h.Fsync(ctx, 0)
}

func (h *handle) Fsync(ctx context.Context, _ uint32) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return syscall.EBADF
	}
	return h.dev.Fsync(ctx, h.fd)
}

func (h *handle) Release(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.released {
		return 0
	}
	h.released = true
	return h.dev.Close(ctx, h.fd)
}

func (h *handle) Getattr(ctx context.Context, out *fuse.AttrOut) syscall.Errno {
	st, errno := h.dev.Fstat(ctx, h.fd)
	if errno != adapter.OK {
		return errno
	}
	fillAttr(&out.Attr, st, h.dev.ReadOnly())
	return 0
}
