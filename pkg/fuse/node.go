package fuse

import (
	"context"
	"os"
	"syscall"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/marmos91/dittomount/pkg/adapter"
	"github.com/marmos91/dittomount/pkg/registry"
	"github.com/marmos91/dittomount/pkg/vfs"
	"golang.org/x/sys/unix"
)

// rootNode lists the devices.
type rootNode struct {
	gofuse.Inode
	router *adapter.Router
}

var _ gofuse.InodeEmbedder = (*rootNode)(nil)
var _ gofuse.NodeLookuper = (*rootNode)(nil)
var _ gofuse.NodeReaddirer = (*rootNode)(nil)
var _ gofuse.NodeGetattrer = (*rootNode)(nil)

func (r *rootNode) visible() []*adapter.Device {
	var out []*adapter.Device
	for _, d := range r.router.Devices() {
		if registry.VisibleInFS(d.Entry()) {
			out = append(out, d)
		}
	}
	return out
}

func (r *rootNode) Getattr(_ context.Context, _ gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFDIR | 0o555
	out.Nlink = uint32(2 + len(r.visible()))
	return 0
}

func (r *rootNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	d, errno := r.router.Device(name)
	if errno != adapter.OK || !registry.VisibleInFS(d.Entry()) {
		return nil, syscall.ENOENT
	}
	st, errno := d.Lstat(ctx, d.Name()+":/")
	if errno != adapter.OK {
		return nil, errno
	}
	fillAttr(&out.Attr, st, d.ReadOnly())
	child := r.NewInode(ctx, &node{dev: d, path: "/"}, gofuse.StableAttr{Mode: syscall.S_IFDIR})
	return child, 0
}

func (r *rootNode) Readdir(context.Context) (gofuse.DirStream, syscall.Errno) {
	var entries []fuse.DirEntry
	for _, d := range r.visible() {
		entries = append(entries, fuse.DirEntry{Name: d.Name(), Mode: syscall.S_IFDIR})
	}
	return gofuse.NewListDirStream(entries), 0
}

// node is a file or directory inside one device.
type node struct {
	gofuse.Inode
	dev  *adapter.Device
	path string
}

var _ gofuse.InodeEmbedder = (*node)(nil)
var _ gofuse.NodeLookuper = (*node)(nil)
var _ gofuse.NodeGetattrer = (*node)(nil)
var _ gofuse.NodeSetattrer = (*node)(nil)
var _ gofuse.NodeReaddirer = (*node)(nil)
var _ gofuse.NodeOpener = (*node)(nil)
var _ gofuse.NodeCreater = (*node)(nil)
var _ gofuse.NodeMkdirer = (*node)(nil)
var _ gofuse.NodeUnlinker = (*node)(nil)
var _ gofuse.NodeRmdirer = (*node)(nil)
var _ gofuse.NodeRenamer = (*node)(nil)
var _ gofuse.NodeStatfser = (*node)(nil)

// qualified returns the device-qualified path of p.
func (n *node) qualified(p string) string { return n.dev.Name() + ":" + p }

func (n *node) child(name string) string { return vfs.Join(n.path, name) }

func (n *node) newChild(ctx context.Context, p string, st vfs.Stat, out *fuse.EntryOut) *gofuse.Inode {
	fillAttr(&out.Attr, st, n.dev.ReadOnly())
	mode := uint32(syscall.S_IFREG)
	if st.IsDir() {
		mode = syscall.S_IFDIR
	}
	return n.NewInode(ctx, &node{dev: n.dev, path: p}, gofuse.StableAttr{Mode: mode})
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	if len(name) > vfs.NameMax {
		return nil, syscall.ENAMETOOLONG
	}
	p := n.child(name)
	st, errno := n.dev.Lstat(ctx, n.qualified(p))
	if errno != adapter.OK {
		return nil, errno
	}
	return n.newChild(ctx, p, st, out), 0
}

func (n *node) Getattr(ctx context.Context, fh gofuse.FileHandle, out *fuse.AttrOut) syscall.Errno {
	if h, ok := fh.(*handle); ok {
		return h.Getattr(ctx, out)
	}
	st, errno := n.dev.Lstat(ctx, n.qualified(n.path))
	if errno != adapter.OK {
		return errno
	}
	fillAttr(&out.Attr, st, n.dev.ReadOnly())
	return 0
}

// Setattr supports truncation and time changes. Ownership and permission
// changes are ignored.
func (n *node) Setattr(ctx context.Context, fh gofuse.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		if errno := n.truncate(ctx, fh, int64(size)); errno != adapter.OK {
			return errno
		}
	}

	atime, aok := in.GetATime()
	mtime, mok := in.GetMTime()
	if aok || mok {
		if errno := n.dev.Utimes(ctx, n.qualified(n.path), atime, mtime); errno != adapter.OK {
			return errno
		}
	}
	return n.Getattr(ctx, fh, out)
}

func (n *node) truncate(ctx context.Context, fh gofuse.FileHandle, size int64) syscall.Errno {
	if h, ok := fh.(*handle); ok {
		return h.truncate(ctx, size)
	}
	fd, errno := n.dev.Open(ctx, n.qualified(n.path), os.O_WRONLY, 0)
	if errno != adapter.OK {
		return errno
	}
	errno = n.dev.Ftruncate(ctx, fd, size)
	if cerr := n.dev.Close(ctx, fd); errno == adapter.OK {
		errno = cerr
	}
	return errno
}

func (n *node) Readdir(ctx context.Context) (gofuse.DirStream, syscall.Errno) {
	dd, errno := n.dev.DirOpen(ctx, n.qualified(n.path))
	if errno != adapter.OK {
		return nil, errno
	}
	defer n.dev.DirClose(ctx, dd)

	var entries []fuse.DirEntry
	for {
		name, st, errno := n.dev.DirNext(ctx, dd)
		switch errno {
		case adapter.OK:
			entries = append(entries, fuse.DirEntry{Name: name, Mode: fileType(st.Mode)})
		case syscall.ENOENT:
			return gofuse.NewListDirStream(entries), 0
		case syscall.ENAMETOOLONG:
			continue
		default:
			return nil, errno
		}
	}
}

func (n *node) Open(ctx context.Context, flags uint32) (gofuse.FileHandle, uint32, syscall.Errno) {
	fd, errno := n.dev.Open(ctx, n.qualified(n.path), openFlags(flags), 0)
	if errno != adapter.OK {
		return nil, 0, errno
	}
	var fuseFlags uint32
	if !vfs.OpenFlags(openFlags(flags)).Mutates() && n.dev.ReadOnly() {
		fuseFlags = fuse.FOPEN_KEEP_CACHE
	}
	return &handle{dev: n.dev, fd: fd, flags: vfs.OpenFlags(openFlags(flags))}, fuseFlags, 0
}

func (n *node) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, gofuse.FileHandle, uint32, syscall.Errno) {
	p := n.child(name)
	fl := openFlags(flags) | os.O_CREATE
	fd, errno := n.dev.Open(ctx, n.qualified(p), fl, mode)
	if errno != adapter.OK {
		return nil, nil, 0, errno
	}
	h := &handle{dev: n.dev, fd: fd, flags: vfs.OpenFlags(fl)}
	st, errno := n.dev.Fstat(ctx, fd)
	if errno != adapter.OK {
		_ = n.dev.Close(ctx, fd)
		return nil, nil, 0, errno
	}
	return n.newChild(ctx, p, st, out), h, 0, 0
}

func (n *node) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*gofuse.Inode, syscall.Errno) {
	p := n.child(name)
	if errno := n.dev.Mkdir(ctx, n.qualified(p), mode); errno != adapter.OK {
		return nil, errno
	}
	st, errno := n.dev.Lstat(ctx, n.qualified(p))
	if errno != adapter.OK {
		return nil, errno
	}
	return n.newChild(ctx, p, st, out), 0
}

func (n *node) Unlink(ctx context.Context, name string) syscall.Errno {
	return n.dev.Unlink(ctx, n.qualified(n.child(name)))
}

func (n *node) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.dev.Rmdir(ctx, n.qualified(n.child(name)))
}

func (n *node) Rename(ctx context.Context, name string, newParent gofuse.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	if flags != 0 {
		return syscall.EINVAL
	}
	dst, ok := newParent.(*node)
	if !ok {
		return syscall.EXDEV
	}
	return n.dev.Rename(ctx, n.qualified(n.child(name)), dst.qualified(dst.child(newName)))
}

func (n *node) Statfs(ctx context.Context, out *fuse.StatfsOut) syscall.Errno {
	st, errno := n.dev.Statvfs(ctx, n.qualified(n.path))
	if errno == syscall.ENOSYS {
		fillStatfs(out, vfs.StatVFS{BlockSize: 4096, FragmentSize: 4096, NameMax: vfs.NameMax})
		return 0
	}
	if errno != adapter.OK {
		return errno
	}
	fillStatfs(out, st)
	return 0
}

// openFlags keeps the access mode and the flags backends understand.
func openFlags(flags uint32) int {
	return int(flags) & (unix.O_ACCMODE | os.O_CREATE | os.O_EXCL | os.O_TRUNC | os.O_APPEND)
}
