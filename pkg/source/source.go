// Package source defines random-access byte sources and the concrete
// sources the backends read from: memory, local files, concatenated
// segments, HTTP range requests and S3 objects.
package source

import (
	"context"
	"fmt"
	"io"

	"github.com/marmos91/dittomount/pkg/vfs"
)

// Source is an immutable, randomly addressable byte stream of known size.
//
// ReadAt follows io.ReaderAt semantics: it reads len(p) bytes starting at
// off, and returns n < len(p) only together with a non-nil error (io.EOF
// when the end of the source was reached). Calls may be slow (network,
// flash) and block the caller.
type Source interface {
	Size() int64
	ReadAt(ctx context.Context, p []byte, off int64) (int, error)
}

// Memory is a Source over a byte slice.
type Memory struct {
	data []byte
}

// NewMemory wraps data. The slice must not be modified afterwards.
func NewMemory(data []byte) *Memory {
	return &Memory{data: data}
}

func (m *Memory) Size() int64 { return int64(len(m.data)) }

func (m *Memory) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read at %d: %w", off, vfs.ErrInvalidArgument)
	}
	if off >= int64(len(m.data)) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

type readerAt struct {
	ctx context.Context
	src Source
}

// ReaderAt adapts src to io.ReaderAt, binding every read to ctx.
func ReaderAt(ctx context.Context, src Source) io.ReaderAt {
	return &readerAt{ctx: ctx, src: src}
}

func (r *readerAt) ReadAt(p []byte, off int64) (int, error) {
	return r.src.ReadAt(r.ctx, p, off)
}

// Close closes src if it holds resources.
func Close(src Source) error {
	if c, ok := src.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
