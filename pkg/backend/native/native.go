// Package native exposes a directory of the host filesystem as a backend.
//
// All access goes through an os.Root, so neither ".." components nor
// symlinks can reach outside the configured directory. Files opened
// read-only are served through a chunk cache; writable handles go straight
// to the host file.
package native

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/pkg/cache"
	"github.com/marmos91/dittomount/pkg/source"
	"github.com/marmos91/dittomount/pkg/vfs"
	"golang.org/x/sys/unix"
)

// Config configures a native backend.
type Config struct {
	// Root is the host directory exposed as "/".
	Root string `mapstructure:"root"`

	// Create makes Root (and its parents) on mount if it is missing.
	Create bool `mapstructure:"create"`
}

// Backend serves a host directory.
type Backend struct {
	cfg       Config
	cacheOpts []cache.Option
	root      *os.Root
}

// New creates an unmounted backend. cacheOpts tune the cache placed in
// front of read-only handles.
func New(cfg Config, cacheOpts ...cache.Option) (*Backend, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("native backend: root is required: %w", vfs.ErrInvalidArgument)
	}
	return &Backend{cfg: cfg, cacheOpts: cacheOpts}, nil
}

func (b *Backend) Mount(ctx context.Context) error {
	if b.root != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.cfg.Create {
		if err := os.MkdirAll(b.cfg.Root, 0o755); err != nil {
			return translate("mkdir", b.cfg.Root, err)
		}
	}
	root, err := os.OpenRoot(b.cfg.Root)
	if err != nil {
		return translate("open root", b.cfg.Root, err)
	}
	b.root = root
	logger.Debug("Opened native root %s", b.cfg.Root)
	return nil
}

func (b *Backend) Close() error {
	if b.root == nil {
		return nil
	}
	err := b.root.Close()
	b.root = nil
	return err
}

// rel maps a canonical path to a name relative to the root.
func rel(path string) string {
	clean := strings.TrimPrefix(filepath.Clean("/"+path), "/")
	if clean == "" {
		return "."
	}
	return clean
}

func (b *Backend) ready() error {
	if b.root == nil {
		return fmt.Errorf("native backend is not mounted: %w", vfs.ErrIO)
	}
	return nil
}

func (b *Backend) Lstat(_ context.Context, path string) (vfs.Stat, error) {
	if err := b.ready(); err != nil {
		return vfs.Stat{}, err
	}
	info, err := b.root.Lstat(rel(path))
	if err != nil {
		return vfs.Stat{}, translate("lstat", path, err)
	}
	return statOf(info), nil
}

func (b *Backend) Open(ctx context.Context, path string, flags vfs.OpenFlags, perm fs.FileMode) (vfs.File, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	if !flags.Mutates() {
		return b.openCached(ctx, path)
	}

	f, err := b.root.OpenFile(rel(path), int(flags), perm)
	if err != nil {
		return nil, translate("open", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, translate("stat", path, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("open %s: %w", path, vfs.ErrIsDir)
	}
	return &file{f: f, path: path}, nil
}

func (b *Backend) openCached(_ context.Context, path string) (vfs.File, error) {
	f, err := b.root.Open(rel(path))
	if err != nil {
		return nil, translate("open", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, translate("stat", path, err)
	}
	if info.IsDir() {
		_ = f.Close()
		return nil, fmt.Errorf("open %s: %w", path, vfs.ErrIsDir)
	}
	src, err := source.NewFile(f)
	if err != nil {
		_ = f.Close()
		return nil, translate("open", path, err)
	}
	return source.NewHandle(cache.New(src, b.cacheOpts...), statOf(info), true), nil
}

func (b *Backend) OpenDir(ctx context.Context, path string) (vfs.Dir, error) {
	if err := b.ready(); err != nil {
		return nil, err
	}
	info, err := b.root.Lstat(rel(path))
	if err != nil {
		return nil, translate("opendir", path, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("opendir %s: %w", path, vfs.ErrNotDir)
	}
	d := &dir{b: b, path: path}
	if err := d.Reset(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

func (b *Backend) Unlink(_ context.Context, path string) error {
	if err := b.ready(); err != nil {
		return err
	}
	info, err := b.root.Lstat(rel(path))
	if err != nil {
		return translate("unlink", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("unlink %s: %w", path, vfs.ErrIsDir)
	}
	return translate("unlink", path, b.root.Remove(rel(path)))
}

func (b *Backend) Mkdir(_ context.Context, path string, perm fs.FileMode) error {
	if err := b.ready(); err != nil {
		return err
	}
	return translate("mkdir", path, b.root.Mkdir(rel(path), perm))
}

func (b *Backend) Rmdir(_ context.Context, path string) error {
	if err := b.ready(); err != nil {
		return err
	}
	if rel(path) == "." {
		return fmt.Errorf("rmdir /: %w", vfs.ErrPermission)
	}
	info, err := b.root.Lstat(rel(path))
	if err != nil {
		return translate("rmdir", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("rmdir %s: %w", path, vfs.ErrNotDir)
	}
	return translate("rmdir", path, b.root.Remove(rel(path)))
}

func (b *Backend) Rename(_ context.Context, oldPath, newPath string) error {
	if err := b.ready(); err != nil {
		return err
	}
	return translate("rename", oldPath, b.root.Rename(rel(oldPath), rel(newPath)))
}

func (b *Backend) SetTimes(_ context.Context, path string, atime, mtime time.Time) error {
	if err := b.ready(); err != nil {
		return err
	}
	return translate("utimes", path, b.root.Chtimes(rel(path), atime, mtime))
}

func (b *Backend) StatFS(_ context.Context, _ string) (vfs.StatVFS, error) {
	if err := b.ready(); err != nil {
		return vfs.StatVFS{}, err
	}
	st, err := statfs(b.cfg.Root)
	if err != nil {
		return vfs.StatVFS{}, translate("statfs", "/", err)
	}
	return st, nil
}

func statOf(info fs.FileInfo) vfs.Stat {
	st := vfs.Stat{
		Mode:  info.Mode(),
		Size:  info.Size(),
		Nlink: 1,
		Atime: info.ModTime(),
		Mtime: info.ModTime(),
		Ctime: info.ModTime(),
	}
	fillSys(&st, info)
	return st
}

// translate maps host errors onto the vfs error taxonomy. A nil err stays
// nil.
func translate(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return fmt.Errorf("%s %s: %w", op, path, err)
	}
	var kind error
	switch errno {
	case unix.ENOENT:
		kind = vfs.ErrNotFound
	case unix.EACCES, unix.EPERM, unix.EROFS:
		kind = vfs.ErrPermission
	case unix.EEXIST:
		kind = vfs.ErrExists
	case unix.ENOTEMPTY:
		kind = vfs.ErrNotEmpty
	case unix.ENOTDIR:
		kind = vfs.ErrNotDir
	case unix.EISDIR:
		kind = vfs.ErrIsDir
	case unix.ENAMETOOLONG:
		kind = vfs.ErrNameTooLong
	case unix.EXDEV:
		kind = vfs.ErrCrossDevice
	case unix.ENOSPC, unix.EDQUOT:
		kind = vfs.ErrNoSpace
	case unix.EINVAL:
		kind = vfs.ErrInvalidArgument
	case unix.EBADF:
		kind = vfs.ErrBadDescriptor
	case unix.EMFILE, unix.ENFILE:
		kind = vfs.ErrResourceExhausted
	case unix.ENOSYS, unix.EOPNOTSUPP:
		kind = vfs.ErrUnsupported
	default:
		kind = vfs.ErrIO
	}
	return fmt.Errorf("%s %s: %v: %w", op, path, err, kind)
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
