package tree

import (
	"context"
	"errors"
	"io"

	"github.com/marmos91/dittomount/pkg/vfs"
)

// dir iterates over a snapshot of a directory's children taken at open or
// Reset. Children removed since the snapshot are skipped.
type dir struct {
	b     *Backend
	path  string
	names []string
	next  int
}

func (d *dir) Next(ctx context.Context) (vfs.DirEntry, error) {
	if err := d.b.ready(); err != nil {
		return vfs.DirEntry{}, err
	}
	for d.next < len(d.names) {
		name := d.names[d.next]
		d.next++
		n, err := d.b.store.Get(ctx, vfs.Join(d.path, name))
		if errors.Is(err, vfs.ErrNotFound) {
			continue
		}
		if err != nil {
			return vfs.DirEntry{}, err
		}
		return vfs.DirEntry{Name: name, Stat: n.Stat()}, nil
	}
	return vfs.DirEntry{}, io.EOF
}

func (d *dir) Reset(ctx context.Context) error {
	if err := d.b.ready(); err != nil {
		return err
	}
	names, err := d.b.store.Children(ctx, d.path)
	if err != nil {
		return err
	}
	d.names = names
	d.next = 0
	return nil
}

func (d *dir) Close() error {
	d.names = nil
	return nil
}
