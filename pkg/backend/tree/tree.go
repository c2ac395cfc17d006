package tree

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/pkg/vfs"
)

const (
	blockSize = 4096

	// Capacity reported by StatFS when no limit is configured.
	unlimitedBytes = 1 << 40
	unlimitedFiles = 1 << 20

	defaultDirPerm  = 0o755
	defaultFilePerm = 0o644
)

// Opener creates the store when the backend is mounted.
type Opener func(ctx context.Context) (NodeStore, error)

// Config holds the limits of a tree backend.
type Config struct {
	// MaxBytes caps the total size of file contents. Zero means unlimited.
	MaxBytes uint64 `mapstructure:"max_bytes"`

	// MaxFiles caps the number of nodes. Zero means unlimited.
	MaxFiles uint64 `mapstructure:"max_files"`
}

// Backend is a writable hierarchical filesystem over a NodeStore.
//
// Files are buffered in their handle: contents are loaded on open and
// written back on Sync and Close. Two handles on the same file buffer
// independently and the last one flushed wins.
type Backend struct {
	open  Opener
	cfg   Config
	store NodeStore
	now   func() time.Time

	// handles tracks open files so renames and unlinks can follow them.
	handles map[*file]struct{}
}

// New creates an unmounted backend whose store is created by open.
func New(open Opener, cfg Config) *Backend {
	return &Backend{
		open:    open,
		cfg:     cfg,
		now:     time.Now,
		handles: make(map[*file]struct{}),
	}
}

// NewMemory creates a backend whose contents live in memory until the mount
// is destroyed.
func NewMemory(cfg Config) *Backend {
	return New(func(context.Context) (NodeStore, error) {
		return NewMemoryStore(), nil
	}, cfg)
}

// NewBadger creates a backend persisted in the BadgerDB described by bcfg.
// The database is opened on Mount.
func NewBadger(bcfg BadgerConfig, cfg Config) *Backend {
	return New(func(ctx context.Context) (NodeStore, error) {
		return OpenBadgerStore(ctx, bcfg)
	}, cfg)
}

func (b *Backend) Mount(ctx context.Context) error {
	if b.store != nil {
		return nil
	}
	store, err := b.open(ctx)
	if err != nil {
		return err
	}

	_, err = store.Get(ctx, "/")
	if errors.Is(err, vfs.ErrNotFound) {
		now := b.now()
		err = store.Put(ctx, "/", &Node{Dir: true, Perm: defaultDirPerm, Atime: now, Mtime: now, Ctime: now})
	}
	if err != nil {
		_ = store.Close()
		return fmt.Errorf("initialize root: %w", err)
	}

	b.store = store
	return nil
}

func (b *Backend) Close() error {
	if b.store == nil {
		return nil
	}
	if n := len(b.handles); n > 0 {
		logger.Debug("Closing tree store with %d open handles", n)
	}
	err := b.store.Close()
	b.store = nil
	b.handles = make(map[*file]struct{})
	return err
}

func (b *Backend) ready() error {
	if b.store == nil {
		return fmt.Errorf("tree backend is not mounted: %w", vfs.ErrIO)
	}
	return nil
}

func (b *Backend) Lstat(ctx context.Context, path string) (vfs.Stat, error) {
	if err := b.ready(); err != nil {
		return vfs.Stat{}, err
	}
	n, err := b.store.Get(ctx, path)
	if err != nil {
		return vfs.Stat{}, err
	}
	return n.Stat(), nil
}

func (b *Backend) Open(ctx context.Context, path string, flags vfs.OpenFlags, perm fs.FileMode) (vfs.File, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}

	n, err := b.store.Get(ctx, path)
	switch {
	case errors.Is(err, vfs.ErrNotFound) && flags.Create():
		if n, err = b.create(ctx, path, perm); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	case flags.Create() && flags.Exclusive():
		return nil, fmt.Errorf("create %s: %w", path, vfs.ErrExists)
	case n.Dir:
		return nil, fmt.Errorf("open %s: %w", path, vfs.ErrIsDir)
	}

	var data []byte
	if n.DataID != "" && n.Size > 0 && !(flags.Truncate() && flags.Writable()) {
		if data, err = b.store.ReadData(ctx, n.DataID); err != nil {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	f := &file{b: b, path: path, node: *n, data: data, flags: flags}
	if flags.Truncate() && flags.Writable() && n.Size > 0 {
		f.dirty = true
		f.node.Mtime = b.now()
	}
	b.handles[f] = struct{}{}
	return f, nil
}

func (b *Backend) create(ctx context.Context, path string, perm fs.FileMode) (*Node, error) {
	if err := b.checkParent(ctx, path); err != nil {
		return nil, err
	}
	if err := b.checkFiles(ctx); err != nil {
		return nil, err
	}
	if perm&fs.ModePerm == 0 {
		perm = defaultFilePerm
	}
	now := b.now()
	n := &Node{
		Perm:   uint32(perm & fs.ModePerm),
		DataID: uuid.NewString(),
		Atime:  now,
		Mtime:  now,
		Ctime:  now,
	}
	if err := b.store.Put(ctx, path, n); err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	logger.Debug("Created %s (data=%s)", path, n.DataID)
	return n, nil
}

// checkParent verifies that the parent of path exists and is a directory,
// and that the final element is a valid name.
func (b *Backend) checkParent(ctx context.Context, path string) error {
	dir, name := vfs.Split(path)
	switch {
	case name == "" || name == "." || name == "..":
		return fmt.Errorf("invalid name %q: %w", name, vfs.ErrInvalidArgument)
	case len(name) > vfs.NameMax:
		return fmt.Errorf("name %q: %w", name, vfs.ErrNameTooLong)
	}
	parent, err := b.store.Get(ctx, dir)
	if err != nil {
		return err
	}
	if !parent.Dir {
		return fmt.Errorf("parent %s: %w", dir, vfs.ErrNotDir)
	}
	return nil
}

func (b *Backend) checkFiles(ctx context.Context) error {
	if b.cfg.MaxFiles == 0 {
		return nil
	}
	u, err := b.store.Usage(ctx)
	if err != nil {
		return err
	}
	if uint64(u.Nodes) >= b.cfg.MaxFiles {
		return fmt.Errorf("node limit %d reached: %w", b.cfg.MaxFiles, vfs.ErrNoSpace)
	}
	return nil
}

func (b *Backend) checkBytes(ctx context.Context, oldSize, newSize int64) error {
	if b.cfg.MaxBytes == 0 || newSize <= oldSize {
		return nil
	}
	u, err := b.store.Usage(ctx)
	if err != nil {
		return err
	}
	if uint64(u.Bytes-oldSize+newSize) > b.cfg.MaxBytes {
		return fmt.Errorf("byte limit %d reached: %w", b.cfg.MaxBytes, vfs.ErrNoSpace)
	}
	return nil
}

func (b *Backend) OpenDir(ctx context.Context, path string) (vfs.Dir, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	n, err := b.store.Get(ctx, path)
	if err != nil {
		return nil, err
	}
	if !n.Dir {
		return nil, fmt.Errorf("opendir %s: %w", path, vfs.ErrNotDir)
	}
	d := &dir{b: b, path: path}
	if err := d.Reset(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (b *Backend) Unlink(ctx context.Context, path string) error {
	if err := b.ready(); err != nil {
		return err
	}
	n, err := b.store.Get(ctx, path)
	if err != nil {
		return err
	}
	if n.Dir {
		return fmt.Errorf("unlink %s: %w", path, vfs.ErrIsDir)
	}
	if err := b.store.Delete(ctx, path); err != nil {
		return fmt.Errorf("unlink %s: %w", path, err)
	}
	if n.DataID != "" {
		if err := b.store.DeleteData(ctx, n.DataID); err != nil {
			logger.Warn("Failed to delete data %s of %s: %v", n.DataID, path, err)
		}
	}
	for f := range b.handles {
		if f.path == path {
			f.orphaned = true
		}
	}
	return nil
}

func (b *Backend) Mkdir(ctx context.Context, path string, perm fs.FileMode) error {
	if err := b.ready(); err != nil {
		return err
	}
	if _, err := b.store.Get(ctx, path); err == nil {
		return fmt.Errorf("mkdir %s: %w", path, vfs.ErrExists)
	} else if !errors.Is(err, vfs.ErrNotFound) {
		return err
	}
	if err := b.checkParent(ctx, path); err != nil {
		return err
	}
	if err := b.checkFiles(ctx); err != nil {
		return err
	}
	if perm&fs.ModePerm == 0 {
		perm = defaultDirPerm
	}
	now := b.now()
	return b.store.Put(ctx, path, &Node{
		Dir:   true,
		Perm:  uint32(perm & fs.ModePerm),
		Atime: now,
		Mtime: now,
		Ctime: now,
	})
}

func (b *Backend) Rmdir(ctx context.Context, path string) error {
	if err := b.ready(); err != nil {
		return err
	}
	if path == "/" {
		return fmt.Errorf("rmdir /: %w", vfs.ErrPermission)
	}
	n, err := b.store.Get(ctx, path)
	if err != nil {
		return err
	}
	if !n.Dir {
		return fmt.Errorf("rmdir %s: %w", path, vfs.ErrNotDir)
	}
	kids, err := b.store.Children(ctx, path)
	if err != nil {
		return err
	}
	if len(kids) > 0 {
		return fmt.Errorf("rmdir %s: %w", path, vfs.ErrNotEmpty)
	}
	return b.store.Delete(ctx, path)
}

// Rename moves a file or a whole subtree. An existing destination is
// replaced when it is a file being replaced by a file, or an empty directory
// being replaced by a directory.
func (b *Backend) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := b.ready(); err != nil {
		return err
	}
	if oldPath == newPath {
		return nil
	}
	if oldPath == "/" || newPath == "/" || strings.HasPrefix(newPath, oldPath+"/") {
		return fmt.Errorf("rename %s to %s: %w", oldPath, newPath, vfs.ErrInvalidArgument)
	}

	src, err := b.store.Get(ctx, oldPath)
	if err != nil {
		return err
	}
	if err := b.checkParent(ctx, newPath); err != nil {
		return err
	}

	dst, err := b.store.Get(ctx, newPath)
	switch {
	case errors.Is(err, vfs.ErrNotFound):
	case err != nil:
		return err
	case src.Dir && !dst.Dir:
		return fmt.Errorf("rename %s to %s: %w", oldPath, newPath, vfs.ErrNotDir)
	case !src.Dir && dst.Dir:
		return fmt.Errorf("rename %s to %s: %w", oldPath, newPath, vfs.ErrIsDir)
	case dst.Dir:
		if err := b.Rmdir(ctx, newPath); err != nil {
			return err
		}
	default:
		if err := b.Unlink(ctx, newPath); err != nil {
			return err
		}
	}

	if err := b.move(ctx, oldPath, newPath, src); err != nil {
		return fmt.Errorf("rename %s to %s: %w", oldPath, newPath, err)
	}

	for f := range b.handles {
		switch {
		case f.path == oldPath:
			f.path = newPath
		case strings.HasPrefix(f.path, oldPath+"/"):
			f.path = newPath + strings.TrimPrefix(f.path, oldPath)
		}
	}
	return nil
}

// move copies the node at oldPath (and its subtree) to newPath, then drops
// the old keys. Contents are shared through DataID and never copied.
func (b *Backend) move(ctx context.Context, oldPath, newPath string, n *Node) error {
	n.Ctime = b.now()
	if err := b.store.Put(ctx, newPath, n); err != nil {
		return err
	}
	if n.Dir {
		kids, err := b.store.Children(ctx, oldPath)
		if err != nil {
			return err
		}
		for _, name := range kids {
			child, err := b.store.Get(ctx, vfs.Join(oldPath, name))
			if err != nil {
				return err
			}
			if err := b.move(ctx, vfs.Join(oldPath, name), vfs.Join(newPath, name), child); err != nil {
				return err
			}
		}
	}
	return b.store.Delete(ctx, oldPath)
}

func (b *Backend) StatFS(ctx context.Context, _ string) (vfs.StatVFS, error) {
	if err := b.ready(); err != nil {
		return vfs.StatVFS{}, err
	}
	u, err := b.store.Usage(ctx)
	if err != nil {
		return vfs.StatVFS{}, err
	}

	totalBytes := b.cfg.MaxBytes
	if totalBytes == 0 {
		totalBytes = unlimitedBytes
	}
	totalFiles := b.cfg.MaxFiles
	if totalFiles == 0 {
		totalFiles = unlimitedFiles
	}

	blocks := totalBytes / blockSize
	used := (uint64(u.Bytes) + blockSize - 1) / blockSize
	free := uint64(0)
	if used < blocks {
		free = blocks - used
	}
	filesFree := uint64(0)
	if uint64(u.Nodes) < totalFiles {
		filesFree = totalFiles - uint64(u.Nodes)
	}

	return vfs.StatVFS{
		BlockSize:    blockSize,
		FragmentSize: blockSize,
		Blocks:       blocks,
		BlocksFree:   free,
		BlocksAvail:  free,
		Files:        totalFiles,
		FilesFree:    filesFree,
		NameMax:      vfs.NameMax,
	}, nil
}

// SetTimes updates access and modification times. A zero time leaves the
// corresponding field unchanged.
func (b *Backend) SetTimes(ctx context.Context, path string, atime, mtime time.Time) error {
	if err := b.ready(); err != nil {
		return err
	}
	n, err := b.store.Get(ctx, path)
	if err != nil {
		return err
	}
	if !atime.IsZero() {
		n.Atime = atime
	}
	if !mtime.IsZero() {
		n.Mtime = mtime
	}
	n.Ctime = b.now()
	return b.store.Put(ctx, path, n)
}

var (
	_ vfs.Backend    = (*Backend)(nil)
	_ vfs.Unlinker   = (*Backend)(nil)
	_ vfs.Renamer    = (*Backend)(nil)
	_ vfs.DirMaker   = (*Backend)(nil)
	_ vfs.DirRemover = (*Backend)(nil)
	_ vfs.StatFSer   = (*Backend)(nil)
	_ vfs.TimeSetter = (*Backend)(nil)
)
