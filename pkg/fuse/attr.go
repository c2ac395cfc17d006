package fuse

import (
	"io/fs"
	"syscall"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/marmos91/dittomount/pkg/vfs"
)

const blockSize = 4096

// fileType returns the S_IF* bits for mode.
func fileType(mode fs.FileMode) uint32 {
	switch {
	case mode.IsDir():
		return syscall.S_IFDIR
	case mode&fs.ModeSymlink != 0:
		return syscall.S_IFLNK
	default:
		return syscall.S_IFREG
	}
}

// fillAttr converts a backend stat. Write bits are cleared on read-only
// mounts so tools do not offer to edit.
func fillAttr(out *fuse.Attr, st vfs.Stat, readOnly bool) {
	perm := uint32(st.Mode.Perm())
	if readOnly {
		perm &^= 0o222
	}
	out.Mode = fileType(st.Mode) | perm
	out.Size = uint64(max(st.Size, 0))
	out.Blocks = (out.Size + 511) / 512
	out.Blksize = blockSize

	out.Nlink = st.Nlink
	if out.Nlink == 0 {
		out.Nlink = 1
	}

	out.SetTimes(timeOrNil(st.Atime), timeOrNil(st.Mtime), timeOrNil(st.Ctime))
}

// timeOrNil leaves unknown times at the epoch.
func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func fillStatfs(out *fuse.StatfsOut, st vfs.StatVFS) {
	out.Bsize = uint32(st.BlockSize)
	out.Frsize = uint32(st.FragmentSize)
	out.Blocks = st.Blocks
	out.Bfree = st.BlocksFree
	out.Bavail = st.BlocksAvail
	out.Files = st.Files
	out.Ffree = st.FilesFree
	out.NameLen = uint32(st.NameMax)
}
