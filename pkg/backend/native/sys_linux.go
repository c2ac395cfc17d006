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
	st.Atime = time.Unix(sys.Atim.Unix())
	st.Ctime = time.Unix(sys.Ctim.Unix())
}

func statfs(path string) (vfs.StatVFS, error) {
	var s unix.Statfs_t
	if err := unix.Statfs(path, &s); err != nil {
		return vfs.StatVFS{}, err
	}
	return vfs.StatVFS{
		BlockSize:    uint64(s.Bsize),
		FragmentSize: uint64(s.Frsize),
		Blocks:       s.Blocks,
		BlocksFree:   s.Bfree,
		BlocksAvail:  s.Bavail,
		Files:        s.Files,
		FilesFree:    s.Ffree,
		NameMax:      uint64(s.Namelen),
		ReadOnly:     s.Flags&unix.ST_RDONLY != 0,
	}, nil
}
