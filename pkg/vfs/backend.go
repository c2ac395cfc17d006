package vfs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"time"
)

// Backend is a mountable filesystem implementation.
//
// The mandatory surface covers what every backend, including read-only
// network and container backends, can answer. Mutations are optional
// capabilities (Unlinker, Renamer, DirMaker, DirRemover, StatFSer,
// TimeSetter) discovered by type assertion; a backend that lacks one
// reports the operation as unsupported without the adapter knowing about
// the concrete type.
//
// Paths are always canonical absolute paths as produced by FixPath.
//
// Thread safety:
// A Backend is only ever called with its mount lock held, so
// implementations need not synchronize their own state.
type Backend interface {
	// Mount establishes the backend (connect, authenticate, parse a
	// container). It is idempotent: calling it on a mounted backend is a
	// no-op, and calling it again after a failure retries.
	Mount(ctx context.Context) error

	// Open opens a file. Write, create, truncate and append flags are only
	// honoured by writable backends; a read-only backend returns
	// ErrPermission.
	Open(ctx context.Context, path string, flags OpenFlags, perm fs.FileMode) (File, error)

	// Lstat describes path without following links.
	Lstat(ctx context.Context, path string) (Stat, error)

	// OpenDir opens a directory for iteration.
	OpenDir(ctx context.Context, path string) (Dir, error)

	// Close releases everything the backend holds. It is called exactly
	// once, when the last reference to the mount is dropped.
	Close() error
}

// File is an open file handle. It keeps its own position.
type File interface {
	Read(ctx context.Context, p []byte) (int, error)
	Seek(offset int64, whence int) (int64, error)
	Stat(ctx context.Context) (Stat, error)
	Close() error
}

// FileWriter is implemented by handles of writable backends.
type FileWriter interface {
	Write(ctx context.Context, p []byte) (int, error)
}

// FileTruncater is implemented by handles that can change their length.
type FileTruncater interface {
	Truncate(ctx context.Context, size int64) error
}

// FileSyncer is implemented by handles that buffer writes.
type FileSyncer interface {
	Sync(ctx context.Context) error
}

// Dir is an open directory iterator. Next returns io.EOF after the last
// entry; Reset rewinds to the first entry.
type Dir interface {
	Next(ctx context.Context) (DirEntry, error)
	Reset(ctx context.Context) error
	Close() error
}

// Unlinker removes files.
type Unlinker interface {
	Unlink(ctx context.Context, path string) error
}

// Renamer moves files and directories within one backend.
type Renamer interface {
	Rename(ctx context.Context, oldPath, newPath string) error
}

// DirMaker creates directories.
type DirMaker interface {
	Mkdir(ctx context.Context, path string, perm fs.FileMode) error
}

// DirRemover removes empty directories.
type DirRemover interface {
	Rmdir(ctx context.Context, path string) error
}

// StatFSer reports filesystem capacity.
type StatFSer interface {
	StatFS(ctx context.Context, path string) (StatVFS, error)
}

// TimeSetter changes access and modification times.
type TimeSetter interface {
	SetTimes(ctx context.Context, path string, atime, mtime time.Time) error
}

// Stat describes a file or directory.
type Stat struct {
	Mode  fs.FileMode
	Size  int64
	Nlink uint32
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// IsDir reports whether the stat describes a directory.
func (s Stat) IsDir() bool { return s.Mode.IsDir() }

// StatVFS describes filesystem capacity in units of FragmentSize.
type StatVFS struct {
	BlockSize    uint64
	FragmentSize uint64
	Blocks       uint64
	BlocksFree   uint64
	BlocksAvail  uint64
	Files        uint64
	FilesFree    uint64
	NameMax      uint64
	ReadOnly     bool
}

// DirEntry is one directory iteration result.
type DirEntry struct {
	Name string
	Stat Stat
}

// OpenFlags are the os.O_* flags passed to Open.
type OpenFlags int

const accessModeMask = os.O_RDONLY | os.O_WRONLY | os.O_RDWR

func (f OpenFlags) Readable() bool {
	mode := int(f) & accessModeMask
	return mode == os.O_RDONLY || mode == os.O_RDWR
}

func (f OpenFlags) Writable() bool {
	mode := int(f) & accessModeMask
	return mode == os.O_WRONLY || mode == os.O_RDWR
}

func (f OpenFlags) Create() bool    { return int(f)&os.O_CREATE != 0 }
func (f OpenFlags) Exclusive() bool { return int(f)&os.O_EXCL != 0 }
func (f OpenFlags) Truncate() bool  { return int(f)&os.O_TRUNC != 0 }
func (f OpenFlags) Append() bool    { return int(f)&os.O_APPEND != 0 }

// Mutates reports whether opening with these flags can modify the
// filesystem.
func (f OpenFlags) Mutates() bool {
	return f.Writable() || f.Create() || f.Truncate() || f.Append()
}

// ResolveSeek computes a new file position. It is shared by backends whose
// handles track a position over a known size.
func ResolveSeek(pos, size, offset int64, whence int) (int64, error) {
	var next int64
	switch whence {
	case io.SeekStart:
		next = offset
	case io.SeekCurrent:
		next = pos + offset
	case io.SeekEnd:
		next = size + offset
	default:
		return pos, fmt.Errorf("seek whence %d: %w", whence, ErrInvalidArgument)
	}
	if next < 0 {
		return pos, fmt.Errorf("seek to %d: %w", next, ErrInvalidArgument)
	}
	return next, nil
}

// MaxBufferedFileSize bounds files that backends hold in memory while a
// handle is open.
const MaxBufferedFileSize = 1 << 32

// ResizeBuffer returns buf with length size. Bytes past the old length are
// zeroed. Growth keeps headroom so sequential appends amortize their copies.
// Sizes above MaxBufferedFileSize fail with ErrNoSpace and leave buf unchanged.
func ResizeBuffer(buf []byte, size int64) ([]byte, error) {
	if size < 0 {
		return buf, fmt.Errorf("resize to %d: %w", size, ErrInvalidArgument)
	}
	if size > MaxBufferedFileSize {
		return buf, fmt.Errorf("file size %d exceeds %d bytes: %w", size, int64(MaxBufferedFileSize), ErrNoSpace)
	}
	if size <= int64(cap(buf)) {
		old := len(buf)
		buf = buf[:size]
		if int(size) > old {
			clear(buf[old:])
		}
		return buf, nil
	}
	grown := make([]byte, size, size+size/4)
	copy(grown, buf)
	return grown, nil
}

// WriteEnd returns the end offset of writing n bytes at pos, failing with
// ErrNoSpace when it would pass MaxBufferedFileSize.
func WriteEnd(pos int64, n int) (int64, error) {
	if pos > MaxBufferedFileSize-int64(n) {
		return pos, fmt.Errorf("write of %d bytes at %d exceeds %d bytes: %w", n, pos, int64(MaxBufferedFileSize), ErrNoSpace)
	}
	return pos + int64(n), nil
}
