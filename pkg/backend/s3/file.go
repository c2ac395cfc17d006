package s3

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/marmos91/dittomount/pkg/vfs"
)

// file buffers a whole object for writing. The object is replaced on Sync
// and Close when the buffer changed.
type file struct {
	b      *Backend
	path   string
	flags  vfs.OpenFlags
	data   []byte
	pos    int64
	mtime  time.Time
	dirty  bool
	closed bool
}

func (f *file) Read(_ context.Context, p []byte) (int, error) {
	if f.closed || !f.flags.Readable() {
		return 0, vfs.ErrBadDescriptor
	}
	if f.pos >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[f.pos:])
	f.pos += int64(n)
	return n, nil
}

func (f *file) Write(_ context.Context, p []byte) (int, error) {
	if f.closed || !f.flags.Writable() {
		return 0, vfs.ErrBadDescriptor
	}
	if f.flags.Append() {
		f.pos = int64(len(f.data))
	}
	end, err := vfs.WriteEnd(f.pos, len(p))
	if err != nil {
		return 0, err
	}
	if end > int64(len(f.data)) {
		if f.data, err = vfs.ResizeBuffer(f.data, end); err != nil {
			return 0, err
		}
	}
	copy(f.data[f.pos:], p)
	f.pos = end
	f.touch()
	return len(p), nil
}

func (f *file) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, vfs.ErrBadDescriptor
	}
	pos, err := vfs.ResolveSeek(f.pos, int64(len(f.data)), offset, whence)
	if err != nil {
		return f.pos, err
	}
	f.pos = pos
	return pos, nil
}

func (f *file) Stat(context.Context) (vfs.Stat, error) {
	if f.closed {
		return vfs.Stat{}, vfs.ErrBadDescriptor
	}
	size := int64(len(f.data))
	return fileStat(&size, &f.mtime), nil
}

func (f *file) Truncate(_ context.Context, size int64) error {
	if f.closed || !f.flags.Writable() {
		return vfs.ErrBadDescriptor
	}
	if size < 0 {
		return fmt.Errorf("truncate to %d: %w", size, vfs.ErrInvalidArgument)
	}
	data, err := vfs.ResizeBuffer(f.data, size)
	if err != nil {
		return err
	}
	f.data = data
	f.touch()
	return nil
}

func (f *file) touch() {
	f.dirty = true
	f.mtime = time.Now()
}

func (f *file) Sync(ctx context.Context) error {
	if f.closed {
		return vfs.ErrBadDescriptor
	}
	return f.flush(ctx)
}

func (f *file) flush(ctx context.Context) error {
	if !f.dirty {
		return nil
	}
	if err := f.b.upload(ctx, f.b.fileKey(f.path), f.data); err != nil {
		return err
	}
	f.dirty = false
	return nil
}

func (f *file) Close() error {
	if f.closed {
		return vfs.ErrBadDescriptor
	}
	f.closed = true
	return f.flush(context.Background())
}

var (
	_ vfs.File          = (*file)(nil)
	_ vfs.FileWriter    = (*file)(nil)
	_ vfs.FileTruncater = (*file)(nil)
	_ vfs.FileSyncer    = (*file)(nil)
)
