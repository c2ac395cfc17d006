package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"syscall"
	"time"

	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/pkg/registry"
	"github.com/marmos91/dittomount/pkg/vfs"
	"golang.org/x/sys/unix"
)

type openFile struct {
	file  vfs.File
	flags vfs.OpenFlags
	path  string
}

type openDir struct {
	dir  vfs.Dir
	path string
}

// Device exposes one mount through errno-returning file calls, the shape
// an operating system's device table expects.
//
// Every call normalizes its path, takes the mount lock, mounts the backend
// if needed, dispatches, translates the error and releases the lock.
// Mutating calls on a read-only mount fail with EACCES before the backend
// is reached.
//
// Descriptors are small integers local to the device. They are invalidated
// when the device is unregistered.
type Device struct {
	entry   *registry.Entry
	metrics Metrics

	// Both tables are guarded by the mount lock.
	files handleTable[openFile]
	dirs  handleTable[openDir]
}

func newDevice(e *registry.Entry, maxHandles int, m Metrics) *Device {
	return &Device{
		entry:   e,
		metrics: m,
		files: newHandleTable[openFile](maxHandles),
		dirs:  newHandleTable[openDir](maxHandles),
	}
}

// Name returns the mount name.
func (d *Device) Name() string { return d.entry.Name() }

// Entry returns the registry entry backing the device.
func (d *Device) Entry() *registry.Entry { return d.entry }

// ReadOnly reports whether mutations are rejected.
func (d *Device) ReadOnly() bool { return d.entry.Config().ReadOnly }

func (d *Device) call(ctx context.Context, op string, fn func(ctx context.Context, b vfs.Backend) error) syscall.Errno {
	start := time.Now()
	errno := Errno(d.entry.Do(ctx, fn))
	d.metrics.RecordCall(d.Name(), op, time.Since(start), errno)
	return errno
}

// fdCall is call for operations on a descriptor. Descriptors outlive their
// mount only as stale numbers, so a removed mount reports EBADF.
func (d *Device) fdCall(ctx context.Context, op string, fn func(ctx context.Context, b vfs.Backend) error) syscall.Errno {
	start := time.Now()
	err := d.entry.Do(ctx, fn)
	if errors.Is(err, registry.ErrUnmounted) {
		err = vfs.ErrBadDescriptor
	}
	errno := Errno(err)
	d.metrics.RecordCall(d.Name(), op, time.Since(start), errno)
	return errno
}

// Open opens path and returns a file descriptor.
func (d *Device) Open(ctx context.Context, path string, flags int, mode uint32) (int, syscall.Errno) {
	p, err := vfs.FixPath(path)
	if err != nil {
		return -1, Errno(err)
	}
	fl := vfs.OpenFlags(flags)
	if d.ReadOnly() && fl.Mutates() {
		return -1, unix.EACCES
	}

	fd := -1
	errno := d.call(ctx, "open", func(ctx context.Context, b vfs.Backend) error {
		f, err := b.Open(ctx, p, fl, fs.FileMode(mode)&fs.ModePerm)
		if err != nil {
			return err
		}
		var ok bool
		fd, ok = d.files.add(&openFile{file: f, flags: fl, path: p})
		if !ok {
			_ = f.Close()
			return fmt.Errorf("open %s: too many open files: %w", p, vfs.ErrResourceExhausted)
		}
		return nil
	})
	if errno != OK {
		return -1, errno
	}
	return fd, OK
}

// locked runs fn under the mount lock without mounting. It reports EBADF if
// the device has been torn down.
func (d *Device) locked(op string, fn func(b vfs.Backend) error) syscall.Errno {
	start := time.Now()
	err := vfs.ErrBadDescriptor
	d.entry.WithLock(func(b vfs.Backend) {
		err = fn(b)
	})
	errno := Errno(err)
	d.metrics.RecordCall(d.Name(), op, time.Since(start), errno)
	return errno
}

// Close releases fd. The handle is released even when the backend reports
// an error while flushing it.
func (d *Device) Close(_ context.Context, fd int) syscall.Errno {
	return d.locked("close", func(vfs.Backend) error {
		of := d.files.remove(fd)
		if of == nil {
			return vfs.ErrBadDescriptor
		}
		return of.file.Close()
	})
}

func (d *Device) file(fd int) (*openFile, error) {
	of := d.files.get(fd)
	if of == nil {
		return nil, fmt.Errorf("fd %d: %w", fd, vfs.ErrBadDescriptor)
	}
	return of, nil
}

// Read reads up to len(buf) bytes at the current position. Zero bytes with
// OK means end of file.
func (d *Device) Read(ctx context.Context, fd int, buf []byte) (int, syscall.Errno) {
	n := 0
	errno := d.fdCall(ctx, "read", func(ctx context.Context, _ vfs.Backend) error {
		of, err := d.file(fd)
		if err != nil {
			return err
		}
		if !of.flags.Readable() {
			return fmt.Errorf("fd %d not open for reading: %w", fd, vfs.ErrBadDescriptor)
		}
		n, err = of.file.Read(ctx, buf)
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	})
	if errno != OK {
		return -1, errno
	}
	d.metrics.RecordBytes(d.Name(), "read", n)
	return n, OK
}

// Write writes buf at the current position (at the end for append
// handles).
func (d *Device) Write(ctx context.Context, fd int, buf []byte) (int, syscall.Errno) {
	if d.ReadOnly() {
		return -1, unix.EACCES
	}
	n := 0
	errno := d.fdCall(ctx, "write", func(ctx context.Context, _ vfs.Backend) error {
		of, err := d.file(fd)
		if err != nil {
			return err
		}
		if !of.flags.Writable() {
			return fmt.Errorf("fd %d not open for writing: %w", fd, vfs.ErrBadDescriptor)
		}
		w, ok := of.file.(vfs.FileWriter)
		if !ok {
			return fmt.Errorf("write %s: %w", of.path, vfs.ErrUnsupported)
		}
		n, err = w.Write(ctx, buf)
		return err
	})
	if errno != OK {
		return -1, errno
	}
	d.metrics.RecordBytes(d.Name(), "write", n)
	return n, OK
}

// Seek repositions fd. whence is io.SeekStart, io.SeekCurrent or
// io.SeekEnd.
func (d *Device) Seek(ctx context.Context, fd int, offset int64, whence int) (int64, syscall.Errno) {
	if whence != io.SeekStart && whence != io.SeekCurrent && whence != io.SeekEnd {
		return -1, unix.EINVAL
	}
	var pos int64
	errno := d.fdCall(ctx, "seek", func(_ context.Context, _ vfs.Backend) error {
		of, err := d.file(fd)
		if err != nil {
			return err
		}
		pos, err = of.file.Seek(offset, whence)
		return err
	})
	if errno != OK {
		return -1, errno
	}
	return pos, OK
}

// Fstat describes the file open at fd.
func (d *Device) Fstat(ctx context.Context, fd int) (vfs.Stat, syscall.Errno) {
	var st vfs.Stat
	errno := d.fdCall(ctx, "fstat", func(ctx context.Context, _ vfs.Backend) error {
		of, err := d.file(fd)
		if err != nil {
			return err
		}
		st, err = of.file.Stat(ctx)
		return err
	})
	return st, errno
}

// Lstat describes path.
func (d *Device) Lstat(ctx context.Context, path string) (vfs.Stat, syscall.Errno) {
	var st vfs.Stat
	p, err := vfs.FixPath(path)
	if err != nil {
		return st, Errno(err)
	}
	errno := d.call(ctx, "lstat", func(ctx context.Context, b vfs.Backend) error {
		st, err = b.Lstat(ctx, p)
		return err
	})
	return st, errno
}

// DirOpen opens path for iteration and returns a directory descriptor.
func (d *Device) DirOpen(ctx context.Context, path string) (int, syscall.Errno) {
	p, err := vfs.FixPath(path)
	if err != nil {
		return -1, Errno(err)
	}
	dd := -1
	errno := d.call(ctx, "diropen", func(ctx context.Context, b vfs.Backend) error {
		dir, err := b.OpenDir(ctx, p)
		if err != nil {
			return err
		}
		var ok bool
		dd, ok = d.dirs.add(&openDir{dir: dir, path: p})
		if !ok {
			_ = dir.Close()
			return fmt.Errorf("opendir %s: too many open directories: %w", p, vfs.ErrResourceExhausted)
		}
		return nil
	})
	if errno != OK {
		return -1, errno
	}
	return dd, OK
}

func (d *Device) dir(dd int) (*openDir, error) {
	od := d.dirs.get(dd)
	if od == nil {
		return nil, fmt.Errorf("dir %d: %w", dd, vfs.ErrBadDescriptor)
	}
	return od, nil
}

// DirReset rewinds dd to its first entry.
func (d *Device) DirReset(ctx context.Context, dd int) syscall.Errno {
	return d.fdCall(ctx, "dirreset", func(ctx context.Context, _ vfs.Backend) error {
		od, err := d.dir(dd)
		if err != nil {
			return err
		}
		return od.dir.Reset(ctx)
	})
}

// DirNext returns the next entry of dd. ENOENT signals the end of the
// directory; names longer than vfs.NameMax are reported as ENAMETOOLONG.
func (d *Device) DirNext(ctx context.Context, dd int) (string, vfs.Stat, syscall.Errno) {
	var ent vfs.DirEntry
	errno := d.fdCall(ctx, "dirnext", func(ctx context.Context, _ vfs.Backend) error {
		od, err := d.dir(dd)
		if err != nil {
			return err
		}
		ent, err = od.dir.Next(ctx)
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("end of %s: %w", od.path, vfs.ErrNotFound)
		}
		if err == nil && len(ent.Name) > vfs.NameMax {
			return fmt.Errorf("entry in %s: %w", od.path, vfs.ErrNameTooLong)
		}
		return err
	})
	if errno != OK {
		return "", vfs.Stat{}, errno
	}
	return ent.Name, ent.Stat, OK
}

// DirClose releases dd.
func (d *Device) DirClose(_ context.Context, dd int) syscall.Errno {
	return d.locked("dirclose", func(vfs.Backend) error {
		od := d.dirs.remove(dd)
		if od == nil {
			return vfs.ErrBadDescriptor
		}
		return od.dir.Close()
	})
}

// Unlink removes the file at path.
func (d *Device) Unlink(ctx context.Context, path string) syscall.Errno {
	return d.pathOp(ctx, "unlink", path, func(ctx context.Context, b vfs.Backend, p string) error {
		u, ok := b.(vfs.Unlinker)
		if !ok {
			return vfs.ErrUnsupported
		}
		return u.Unlink(ctx, p)
	})
}

// Rename moves oldPath to newPath. newPath may carry a device prefix; a
// different device yields EXDEV.
func (d *Device) Rename(ctx context.Context, oldPath, newPath string) syscall.Errno {
	if name, ok := vfs.DeviceName(newPath); ok && name != d.Name() {
		return unix.EXDEV
	}
	if name, ok := vfs.DeviceName(oldPath); ok && name != d.Name() {
		return unix.EXDEV
	}
	if d.ReadOnly() {
		return unix.EACCES
	}
	from, err := vfs.FixPath(oldPath)
	if err != nil {
		return Errno(err)
	}
	to, err := vfs.FixPath(newPath)
	if err != nil {
		return Errno(err)
	}
	return d.call(ctx, "rename", func(ctx context.Context, b vfs.Backend) error {
		r, ok := b.(vfs.Renamer)
		if !ok {
			return vfs.ErrUnsupported
		}
		return r.Rename(ctx, from, to)
	})
}

// Mkdir creates a directory.
func (d *Device) Mkdir(ctx context.Context, path string, mode uint32) syscall.Errno {
	return d.pathOp(ctx, "mkdir", path, func(ctx context.Context, b vfs.Backend, p string) error {
		m, ok := b.(vfs.DirMaker)
		if !ok {
			return vfs.ErrUnsupported
		}
		return m.Mkdir(ctx, p, fs.FileMode(mode)&fs.ModePerm)
	})
}

// Rmdir removes an empty directory.
func (d *Device) Rmdir(ctx context.Context, path string) syscall.Errno {
	return d.pathOp(ctx, "rmdir", path, func(ctx context.Context, b vfs.Backend, p string) error {
		r, ok := b.(vfs.DirRemover)
		if !ok {
			return vfs.ErrUnsupported
		}
		return r.Rmdir(ctx, p)
	})
}

// Utimes sets access and modification times.
func (d *Device) Utimes(ctx context.Context, path string, atime, mtime time.Time) syscall.Errno {
	return d.pathOp(ctx, "utimes", path, func(ctx context.Context, b vfs.Backend, p string) error {
		s, ok := b.(vfs.TimeSetter)
		if !ok {
			return vfs.ErrUnsupported
		}
		return s.SetTimes(ctx, p, atime, mtime)
	})
}

// pathOp runs a mutating path operation.
func (d *Device) pathOp(ctx context.Context, op, path string, fn func(ctx context.Context, b vfs.Backend, p string) error) syscall.Errno {
	if d.ReadOnly() {
		return unix.EACCES
	}
	p, err := vfs.FixPath(path)
	if err != nil {
		return Errno(err)
	}
	return d.call(ctx, op, func(ctx context.Context, b vfs.Backend) error {
		return fn(ctx, b, p)
	})
}

// Statvfs reports filesystem capacity. Read-only mounts are flagged as
// such whatever the backend says.
func (d *Device) Statvfs(ctx context.Context, path string) (vfs.StatVFS, syscall.Errno) {
	var st vfs.StatVFS
	p, err := vfs.FixPath(path)
	if err != nil {
		return st, Errno(err)
	}
	errno := d.call(ctx, "statvfs", func(ctx context.Context, b vfs.Backend) error {
		s, ok := b.(vfs.StatFSer)
		if !ok {
			return vfs.ErrUnsupported
		}
		st, err = s.StatFS(ctx, p)
		return err
	})
	if d.ReadOnly() {
		st.ReadOnly = true
	}
	return st, errno
}

// Ftruncate changes the length of the file open at fd.
func (d *Device) Ftruncate(ctx context.Context, fd int, size int64) syscall.Errno {
	if d.ReadOnly() {
		return unix.EACCES
	}
	if size < 0 {
		return unix.EINVAL
	}
	return d.fdCall(ctx, "ftruncate", func(ctx context.Context, _ vfs.Backend) error {
		of, err := d.file(fd)
		if err != nil {
			return err
		}
		if !of.flags.Writable() {
			return fmt.Errorf("fd %d not open for writing: %w", fd, vfs.ErrBadDescriptor)
		}
		t, ok := of.file.(vfs.FileTruncater)
		if !ok {
			return vfs.ErrUnsupported
		}
		return t.Truncate(ctx, size)
	})
}

// Fsync flushes buffered writes of fd. Handles without buffers succeed.
func (d *Device) Fsync(ctx context.Context, fd int) syscall.Errno {
	return d.fdCall(ctx, "fsync", func(ctx context.Context, _ vfs.Backend) error {
		of, err := d.file(fd)
		if err != nil {
			return err
		}
		if s, ok := of.file.(vfs.FileSyncer); ok {
			return s.Sync(ctx)
		}
		return nil
	})
}

// OpenHandles returns the number of open files and directories.
func (d *Device) OpenHandles() (files, dirs int) {
	d.entry.WithLock(func(vfs.Backend) {
		files, dirs = d.files.len(), d.dirs.len()
	})
	return files, dirs
}

// shutdown closes every handle still open on the device.
func (d *Device) shutdown() {
	d.entry.WithLock(func(vfs.Backend) {
		for _, of := range d.files.drain() {
			if err := of.file.Close(); err != nil {
				logger.Warn("Failed to close %s%s during unmount: %v", d.entry.Name()+":", of.path, err)
			}
		}
		for _, od := range d.dirs.drain() {
			if err := od.dir.Close(); err != nil {
				logger.Warn("Failed to close directory %s%s during unmount: %v", d.entry.Name()+":", od.path, err)
			}
		}
	})
}
