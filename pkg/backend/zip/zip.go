// Package zip mounts a ZIP archive read-only.
//
// The archive is read through a chunk cache, so walking the central
// directory and reading small members costs a handful of source reads even
// when the archive lives on a slow device or behind HTTP. Split archives
// are stitched together with a segmented source.
package zip

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/pkg/cache"
	"github.com/marmos91/dittomount/pkg/source"
	"github.com/marmos91/dittomount/pkg/vfs"
)

// Opener opens the raw archive bytes.
type Opener func(ctx context.Context) (source.Source, error)

// Config names the archive on the host filesystem.
type Config struct {
	// Path is the archive file.
	Path string `mapstructure:"path"`

	// Parts lists the pieces of a split archive in order. When set, Path
	// is ignored.
	Parts []string `mapstructure:"parts"`
}

// FileOpener returns an Opener for cfg that reads host files.
func FileOpener(cfg Config) Opener {
	return func(context.Context) (source.Source, error) {
		if len(cfg.Parts) == 0 {
			return source.OpenFile(cfg.Path)
		}
		seg := source.NewSegmented()
		for _, p := range cfg.Parts {
			part, err := source.OpenFile(p)
			if err != nil {
				_ = seg.Close()
				return nil, err
			}
			seg.Append(part)
		}
		return seg, nil
	}
}

// HTTPOpener returns an Opener that reads a remote archive with ranged
// requests.
func HTTPOpener(url string, opts source.HTTPOptions) Opener {
	return func(ctx context.Context) (source.Source, error) {
		return source.OpenHTTP(ctx, url, opts)
	}
}

type node struct {
	name     string
	stat     vfs.Stat
	children []string
	file     *zip.File
}

// Backend serves the members of one archive.
type Backend struct {
	open      Opener
	cacheOpts []cache.Option

	cache   *cache.Cache
	ra      *boundReaderAt
	nodes   map[string]*node
	entries []vfs.CollectionEntry
	mounted time.Time
}

// New creates an unmounted archive backend.
func New(open Opener, cacheOpts ...cache.Option) *Backend {
	return &Backend{open: open, cacheOpts: cacheOpts}
}

// Mount reads the central directory and builds the directory tree.
func (b *Backend) Mount(ctx context.Context) error {
	if b.cache != nil {
		return nil
	}
	src, err := b.open(ctx)
	if err != nil {
		return err
	}
	c := cache.New(src, b.cacheOpts...)
	ra := &boundReaderAt{src: c, ctx: ctx}

	r, err := zip.NewReader(ra, c.Size())
	if err != nil {
		_ = c.Close()
		return fmt.Errorf("read archive: %v: %w", err, vfs.ErrInvalidArgument)
	}

	b.mounted = time.Now()
	b.nodes = map[string]*node{"/": {name: "/", stat: dirStat(b.mounted)}}
	b.entries = b.entries[:0]
	for _, f := range r.File {
		b.add(f)
	}
	for _, n := range b.nodes {
		sort.Strings(n.children)
	}

	b.cache = c
	b.ra = ra
	logger.Debug("Indexed archive: %d members, %d bytes (cache %+v)", len(b.entries), c.Size(), c.Stats())
	return nil
}

func (b *Backend) add(f *zip.File) {
	name := strings.TrimPrefix(path.Clean("/"+f.Name), "/")
	if name == "" || name == "." || strings.HasPrefix(f.Name, "../") || strings.Contains(f.Name, "/../") {
		logger.Warn("Skipping archive member with unsafe name %q", f.Name)
		return
	}
	p := "/" + name
	isDir := strings.HasSuffix(f.Name, "/")

	if !b.ensureDir(path.Dir(p), f.Modified) {
		logger.Warn("Skipping archive member %q: a parent is a file", f.Name)
		return
	}
	existing, ok := b.nodes[p]
	switch {
	case ok && existing.file == nil:
		// Already synthesized from a deeper member.
		if isDir {
			existing.stat = dirStat(f.Modified)
		} else {
			logger.Warn("Skipping archive member %q: shadowed by a directory", f.Name)
		}
		return
	case ok && isDir:
		logger.Warn("Skipping archive member %q: shadowed by a file", f.Name)
		return
	case !ok:
		dir, base := vfs.Split(p)
		b.nodes[dir].children = append(b.nodes[dir].children, base)
	}

	if isDir {
		b.nodes[p] = &node{name: p, stat: dirStat(f.Modified)}
		return
	}

	perm := f.Mode().Perm()
	if perm == 0 {
		perm = 0o444
	}
	b.nodes[p] = &node{
		name: p,
		file: f,
		stat: vfs.Stat{
			Mode:  perm &^ 0o222,
			Size:  int64(f.UncompressedSize64),
			Nlink: 1,
			Atime: f.Modified,
			Mtime: f.Modified,
			Ctime: f.Modified,
		},
	}
	if off, err := f.DataOffset(); err == nil {
		b.entries = append(b.entries, vfs.CollectionEntry{
			Name:   p,
			Offset: off,
			Size:   int64(f.CompressedSize64),
		})
	}
}

// ensureDir creates the synthesized directories leading to p. It reports
// false when a file member occupies one of them.
func (b *Backend) ensureDir(p string, mtime time.Time) bool {
	if n, ok := b.nodes[p]; ok {
		return n.file == nil
	}
	if !b.ensureDir(path.Dir(p), mtime) {
		return false
	}
	dir, base := vfs.Split(p)
	b.nodes[dir].children = append(b.nodes[dir].children, base)
	b.nodes[p] = &node{name: p, stat: dirStat(mtime)}
	return true
}

func dirStat(t time.Time) vfs.Stat {
	return vfs.Stat{Mode: fs.ModeDir | 0o555, Nlink: 2, Atime: t, Mtime: t, Ctime: t}
}

// Entries lists every file member with its data offset and stored size.
func (b *Backend) Entries() []vfs.CollectionEntry {
	out := make([]vfs.CollectionEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// CacheStats reports the activity of the archive cache.
func (b *Backend) CacheStats() cache.Stats {
	if b.cache == nil {
		return cache.Stats{}
	}
	return b.cache.Stats()
}

func (b *Backend) lookup(ctx context.Context, p string) (*node, error) {
	if b.cache == nil {
		return nil, fmt.Errorf("archive is not mounted: %w", vfs.ErrIO)
	}
	b.ra.ctx = ctx
	n, ok := b.nodes[p]
	if !ok {
		return nil, fmt.Errorf("%s: %w", p, vfs.ErrNotFound)
	}
	return n, nil
}

func (b *Backend) Lstat(ctx context.Context, p string) (vfs.Stat, error) {
	n, err := b.lookup(ctx, p)
	if err != nil {
		return vfs.Stat{}, err
	}
	return n.stat, nil
}

func (b *Backend) Open(ctx context.Context, p string, flags vfs.OpenFlags, _ fs.FileMode) (vfs.File, error) {
	if flags.Mutates() {
		return nil, fmt.Errorf("open %s for writing: archive is read-only: %w", p, vfs.ErrPermission)
	}
	n, err := b.lookup(ctx, p)
	if err != nil {
		return nil, err
	}
	if n.file == nil {
		return nil, fmt.Errorf("open %s: %w", p, vfs.ErrIsDir)
	}

	if n.file.Method == zip.Store {
		off, err := n.file.DataOffset()
		if err != nil {
			return nil, fmt.Errorf("locate %s: %v: %w", p, err, vfs.ErrIO)
		}
		return source.NewHandle(source.NewSection(b.cache, off, int64(n.file.UncompressedSize64)), n.stat, false), nil
	}
	return &stream{f: n.file, ra: b.ra, stat: n.stat}, nil
}

func (b *Backend) OpenDir(ctx context.Context, p string) (vfs.Dir, error) {
	n, err := b.lookup(ctx, p)
	if err != nil {
		return nil, err
	}
	if n.file != nil {
		return nil, fmt.Errorf("opendir %s: %w", p, vfs.ErrNotDir)
	}
	return &dir{b: b, node: n}, nil
}

func (b *Backend) StatFS(ctx context.Context, _ string) (vfs.StatVFS, error) {
	if _, err := b.lookup(ctx, "/"); err != nil {
		return vfs.StatVFS{}, err
	}
	const bs = 512
	return vfs.StatVFS{
		BlockSize:    bs,
		FragmentSize: bs,
		Blocks:       uint64((b.cache.Size() + bs - 1) / bs),
		Files:        uint64(len(b.nodes)),
		NameMax:      vfs.NameMax,
		ReadOnly:     true,
	}, nil
}

func (b *Backend) Close() error {
	if b.cache == nil {
		return nil
	}
	err := b.cache.Close()
	b.cache = nil
	b.ra = nil
	b.nodes = nil
	return err
}

// boundReaderAt lets the zip reader, which only knows io.ReaderAt, read
// through the cache under the context of the current call.
type boundReaderAt struct {
	src source.Source
	ctx context.Context
}

func (r *boundReaderAt) ReadAt(p []byte, off int64) (int, error) {
	return r.src.ReadAt(r.ctx, p, off)
}

type dir struct {
	b    *Backend
	node *node
	next int
}

func (d *dir) Next(context.Context) (vfs.DirEntry, error) {
	if d.next >= len(d.node.children) {
		return vfs.DirEntry{}, io.EOF
	}
	name := d.node.children[d.next]
	d.next++
	child := d.b.nodes[vfs.Join(d.node.name, name)]
	return vfs.DirEntry{Name: name, Stat: child.stat}, nil
}

func (d *dir) Reset(context.Context) error {
	d.next = 0
	return nil
}

func (d *dir) Close() error { return nil }

var (
	_ vfs.Backend    = (*Backend)(nil)
	_ vfs.StatFSer   = (*Backend)(nil)
	_ vfs.Collection = (*Backend)(nil)
)
