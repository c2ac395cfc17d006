package native

import (
	"io/fs"
	"syscall"
	"time"

	"github.com/marmos91/dittomount/pkg/vfs"
	"golang.org/x/sys/unix"
)

func fillSys(st *vfs.Stat, info fs.FileInfo) {
	sys, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	st.Nlink = uint32(sys.Nlink)
	st.Atime = time.Unix(sys.Atimespec.Unix())
	st.Ctime = time.Unix(sys.Ctimespec.Unix())
}

func statfs(path string) (vfs.StatVFS, error) {
	var s unix.Statfs_t
	if err := unix.Statfs(path, &s); err != nil {
		return vfs.StatVFS{}, err
	}
	return vfs.StatVFS{
		BlockSize:    uint64(s.Iosize),
		FragmentSize: uint64(s.Bsize),
		Blocks:       s.Blocks,
		BlocksFree:   s.Bfree,
		BlocksAvail:  s.Bavail,
		Files:        s.Files,
		FilesFree:    s.Ffree,
		NameMax:      vfs.NameMax,
		ReadOnly:     s.Flags&unix.MNT_RDONLY != 0,
	}, nil
}
