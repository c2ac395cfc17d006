package adapter

import (
	"syscall"

	"github.com/marmos91/dittomount/pkg/vfs"
	"golang.org/x/sys/unix"
)

// OK is the errno reported on success.
const OK = syscall.Errno(0)

var errnoByCode = map[vfs.ErrorCode]syscall.Errno{
	vfs.CodeOK:                OK,
	vfs.CodeNotFound:          unix.ENOENT,
	vfs.CodePermissionDenied:  unix.EACCES,
	vfs.CodeIOError:           unix.EIO,
	vfs.CodeAlreadyExists:     unix.EEXIST,
	vfs.CodeNotEmpty:          unix.ENOTEMPTY,
	vfs.CodeInvalidArgument:   unix.EINVAL,
	vfs.CodeUnsupported:       unix.ENOSYS,
	vfs.CodeResourceExhausted: unix.EMFILE,
	vfs.CodeBadDescriptor:     unix.EBADF,
	vfs.CodeNotDir:            unix.ENOTDIR,
	vfs.CodeIsDir:             unix.EISDIR,
	vfs.CodeNameTooLong:       unix.ENAMETOOLONG,
	vfs.CodeCrossDevice:       unix.EXDEV,
	vfs.CodeNoSpace:           unix.ENOSPC,
}

// Errno translates a backend error into the errno reported to callers.
// Errors outside the vfs taxonomy become EIO.
func Errno(err error) syscall.Errno {
	if errno, ok := errnoByCode[vfs.CodeOf(err)]; ok {
		return errno
	}
	return unix.EIO
}
