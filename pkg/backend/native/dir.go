package native

import (
	"context"
	"errors"
	"io"
	"io/fs"

	"github.com/marmos91/dittomount/pkg/vfs"
)

// dir iterates over a listing taken at open or Reset. Entries removed since
// the listing are skipped.
type dir struct {
	b       *Backend
	path    string
	entries []fs.DirEntry
	next    int
}

func (d *dir) Next(context.Context) (vfs.DirEntry, error) {
	for d.next < len(d.entries) {
		e := d.entries[d.next]
		d.next++
		info, err := e.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return vfs.DirEntry{}, translate("readdir", d.path, err)
		}
		return vfs.DirEntry{Name: e.Name(), Stat: statOf(info)}, nil
	}
	return vfs.DirEntry{}, io.EOF
}

func (d *dir) Reset(context.Context) error {
	if err := d.b.ready(); err != nil {
		return err
	}
	entries, err := fs.ReadDir(d.b.root.FS(), rel(d.path))
	if err != nil {
		return translate("readdir", d.path, err)
	}
	d.entries = entries
	d.next = 0
	return nil
}

func (d *dir) Close() error {
	d.entries = nil
	return nil
}
