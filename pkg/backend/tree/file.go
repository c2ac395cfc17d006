package tree

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/marmos91/dittomount/pkg/vfs"
)

// file is a buffered handle. Writes stay in data until flush.
type file struct {
	b     *Backend
	path  string
	node  Node
	data  []byte
	flags vfs.OpenFlags
	pos   int64
	dirty bool

	// orphaned is set when the file is unlinked while open; flushes are
	// dropped from then on.
	orphaned bool
	closed   bool
}

func (f *file) Read(_ context.Context, p []byte) (int, error) {
	if f.closed {
		return 0, vfs.ErrBadDescriptor
	}
	if f.pos >= int64(len(f.data)) {
		return 0, io.EOF
	}
	n := copy(p, f.data[f.pos:])
	f.pos += int64(n)
	return n, nil
}

func (f *file) Write(ctx context.Context, p []byte) (int, error) {
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
		if err := f.resize(ctx, end); err != nil {
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
	st := f.node.Stat()
	st.Size = int64(len(f.data))
	return st, nil
}

func (f *file) Truncate(ctx context.Context, size int64) error {
	if f.closed || !f.flags.Writable() {
		return vfs.ErrBadDescriptor
	}
	if size < 0 {
		return fmt.Errorf("truncate to %d: %w", size, vfs.ErrInvalidArgument)
	}
	if err := f.resize(ctx, size); err != nil {
		return err
	}
	f.touch()
	return nil
}

// resize checks the byte quota before the buffer grows.
func (f *file) resize(ctx context.Context, size int64) error {
	if size > int64(len(f.data)) {
		if err := f.b.checkBytes(ctx, f.node.Size, size); err != nil {
			return err
		}
	}
	data, err := vfs.ResizeBuffer(f.data, size)
	if err != nil {
		return err
	}
	f.data = data
	return nil
}

func (f *file) touch() {
	f.dirty = true
	f.node.Mtime = f.b.now()
}

// Sync writes buffered contents back to the store.
func (f *file) Sync(ctx context.Context) error {
	if f.closed {
		return vfs.ErrBadDescriptor
	}
	return f.flush(ctx)
}

func (f *file) flush(ctx context.Context) error {
	if !f.dirty || f.orphaned {
		return nil
	}
	if err := f.b.ready(); err != nil {
		return err
	}
	if err := f.b.checkBytes(ctx, f.node.Size, int64(len(f.data))); err != nil {
		return err
	}
	if f.node.DataID == "" {
		f.node.DataID = uuid.NewString()
	}
	if err := f.b.store.WriteData(ctx, f.node.DataID, f.data); err != nil {
		return fmt.Errorf("write %s: %w", f.path, err)
	}

	// Keep metadata changed through the path (times, permissions) since
	// the handle was opened.
	cur, err := f.b.store.Get(ctx, f.path)
	if err != nil {
		return fmt.Errorf("update %s: %w", f.path, err)
	}
	cur.Size = int64(len(f.data))
	cur.DataID = f.node.DataID
	cur.Mtime = f.node.Mtime
	cur.Ctime = f.node.Mtime
	if err := f.b.store.Put(ctx, f.path, cur); err != nil {
		return fmt.Errorf("update %s: %w", f.path, err)
	}
	f.node = *cur
	f.dirty = false
	return nil
}

// Close flushes the handle. The handle is released even if the flush fails.
func (f *file) Close() error {
	if f.closed {
		return vfs.ErrBadDescriptor
	}
	err := f.flush(context.Background())
	f.closed = true
	delete(f.b.handles, f)
	return err
}

var (
	_ vfs.File          = (*file)(nil)
	_ vfs.FileWriter    = (*file)(nil)
	_ vfs.FileTruncater = (*file)(nil)
	_ vfs.FileSyncer    = (*file)(nil)
)
