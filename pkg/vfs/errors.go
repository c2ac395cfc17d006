package vfs

import (
	"errors"
	"io/fs"
)

// ============================================================================
// Standard Backend Errors
// ============================================================================

// These errors give every backend a shared vocabulary for failure. The file
// call adapter maps them to errno values; callers check them with errors.Is.
//
// Backends wrap them with context:
//
//	if node == nil {
//	    return nil, fmt.Errorf("open %s: %w", path, vfs.ErrNotFound)
//	}

var (
	// ErrNotFound indicates the path (or one of its parents) does not exist.
	ErrNotFound = errors.New("no such file or directory")

	// ErrPermission indicates the operation is not allowed, including any
	// mutation attempted on a read-only mount.
	ErrPermission = errors.New("permission denied")

	// ErrIO indicates the underlying source or transport failed.
	ErrIO = errors.New("input/output error")

	// ErrExists indicates the target already exists.
	ErrExists = errors.New("file exists")

	// ErrNotEmpty indicates a directory still has children.
	ErrNotEmpty = errors.New("directory not empty")

	// ErrInvalidArgument indicates a malformed path, flag or offset.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnsupported indicates the backend does not implement the operation.
	ErrUnsupported = errors.New("operation not supported")

	// ErrResourceExhausted indicates a fixed-capacity table is full.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrBadDescriptor indicates a handle that is closed, unknown, or was
	// opened in a mode that does not permit the operation.
	ErrBadDescriptor = errors.New("bad file descriptor")

	ErrNotDir      = errors.New("not a directory")
	ErrIsDir       = errors.New("is a directory")
	ErrNameTooLong = errors.New("file name too long")
	ErrCrossDevice = errors.New("cross-device link")
	ErrNoSpace     = errors.New("no space left on device")
)

// ErrorCode is the category of a backend error.
type ErrorCode int

const (
	CodeOK ErrorCode = iota
	CodeNotFound
	CodePermissionDenied
	CodeIOError
	CodeAlreadyExists
	CodeNotEmpty
	CodeInvalidArgument
	CodeUnsupported
	CodeResourceExhausted
	CodeBadDescriptor
	CodeNotDir
	CodeIsDir
	CodeNameTooLong
	CodeCrossDevice
	CodeNoSpace
)

var codeNames = map[ErrorCode]string{
	CodeOK:                "OK",
	CodeNotFound:          "NotFound",
	CodePermissionDenied:  "PermissionDenied",
	CodeIOError:           "IOError",
	CodeAlreadyExists:     "AlreadyExists",
	CodeNotEmpty:          "NotEmpty",
	CodeInvalidArgument:   "InvalidArgument",
	CodeUnsupported:       "Unsupported",
	CodeResourceExhausted: "ResourceExhausted",
	CodeBadDescriptor:     "BadDescriptor",
	CodeNotDir:            "NotDir",
	CodeIsDir:             "IsDir",
	CodeNameTooLong:       "NameTooLong",
	CodeCrossDevice:       "CrossDevice",
	CodeNoSpace:           "NoSpace",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return "Unknown"
}

// Order matters: the more specific sentinels are checked before the
// fs package equivalents so a wrapped vfs error keeps its category.
var codeTable = []struct {
	err  error
	code ErrorCode
}{
	{ErrNotFound, CodeNotFound},
	{ErrPermission, CodePermissionDenied},
	{ErrIO, CodeIOError},
	{ErrExists, CodeAlreadyExists},
	{ErrNotEmpty, CodeNotEmpty},
	{ErrInvalidArgument, CodeInvalidArgument},
	{ErrUnsupported, CodeUnsupported},
	{ErrResourceExhausted, CodeResourceExhausted},
	{ErrBadDescriptor, CodeBadDescriptor},
	{ErrNotDir, CodeNotDir},
	{ErrIsDir, CodeIsDir},
	{ErrNameTooLong, CodeNameTooLong},
	{ErrCrossDevice, CodeCrossDevice},
	{ErrNoSpace, CodeNoSpace},
	{fs.ErrNotExist, CodeNotFound},
	{fs.ErrExist, CodeAlreadyExists},
	{fs.ErrPermission, CodePermissionDenied},
	{fs.ErrInvalid, CodeInvalidArgument},
	{fs.ErrClosed, CodeBadDescriptor},
	{errors.ErrUnsupported, CodeUnsupported},
}

// CodeOf classifies err. A nil error is CodeOK; anything unrecognised is an
// I/O error.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return CodeOK
	}
	for _, entry := range codeTable {
		if errors.Is(err, entry.err) {
			return entry.code
		}
	}
	return CodeIOError
}
