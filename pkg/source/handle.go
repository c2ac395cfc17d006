package source

import (
	"context"
	"io"

	"github.com/marmos91/dittomount/pkg/vfs"
)

// Handle is a read-only vfs.File over a Source. It is what read-only
// backends hand out for their files, typically over a cache.Cache or a
// Section of one.
type Handle struct {
	src    Source
	stat   vfs.Stat
	pos    int64
	owned  bool
	closed bool
}

// NewHandle creates a handle positioned at 0. When owned is set, closing
// the handle closes src.
func NewHandle(src Source, st vfs.Stat, owned bool) *Handle {
	st.Size = src.Size()
	return &Handle{src: src, stat: st, owned: owned}
}

func (h *Handle) Read(ctx context.Context, p []byte) (int, error) {
	if h.closed {
		return 0, vfs.ErrBadDescriptor
	}
	if h.pos >= h.src.Size() {
		return 0, io.EOF
	}
	n, err := h.src.ReadAt(ctx, p, h.pos)
	h.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (h *Handle) Seek(offset int64, whence int) (int64, error) {
	if h.closed {
		return 0, vfs.ErrBadDescriptor
	}
	pos, err := vfs.ResolveSeek(h.pos, h.src.Size(), offset, whence)
	if err != nil {
		return h.pos, err
	}
	h.pos = pos
	return pos, nil
}

func (h *Handle) Stat(context.Context) (vfs.Stat, error) {
	if h.closed {
		return vfs.Stat{}, vfs.ErrBadDescriptor
	}
	return h.stat, nil
}

func (h *Handle) Close() error {
	if h.closed {
		return vfs.ErrBadDescriptor
	}
	h.closed = true
	if h.owned {
		return Close(h.src)
	}
	return nil
}

var _ vfs.File = (*Handle)(nil)
