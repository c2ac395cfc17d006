package vfs

import (
	"fmt"
	"strings"
)

const (
	// PathMax bounds the length of a normalized path.
	PathMax = 4096

	// NameMax bounds a single directory entry name.
	NameMax = 255
)

// FixPath converts a device-qualified path ("<NAME>:/a//b/") into the
// canonical absolute form the backends receive ("/a/b").
//
// Everything up to and including the last ':' is discarded, runs of '/' are
// collapsed, the result always starts with exactly one '/', and a single
// trailing '/' is dropped unless the result is the root. A path without a
// device prefix is rejected. No other transformation is applied: "." and
// ".." components are passed through for the backend to interpret.
func FixPath(path string) (string, error) {
	idx := strings.LastIndexByte(path, ':')
	if idx < 0 {
		return "", fmt.Errorf("path %q has no device prefix: %w", path, ErrInvalidArgument)
	}
	rest := path[idx+1:]

	var b strings.Builder
	b.Grow(len(rest) + 1)
	b.WriteByte('/')
	prevSlash := true
	for i := 0; i < len(rest); i++ {
		c := rest[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		b.WriteByte(c)
	}

	out := b.String()
	if len(out) > 1 && strings.HasSuffix(out, "/") {
		out = out[:len(out)-1]
	}
	if len(out) >= PathMax {
		return "", fmt.Errorf("path %q: %w", path, ErrNameTooLong)
	}
	return out, nil
}

// DeviceName returns the mount name of a device-qualified path, the text
// before the first ':'. ok is false when the path carries no prefix.
func DeviceName(path string) (name string, ok bool) {
	idx := strings.IndexByte(path, ':')
	if idx < 0 {
		return "", false
	}
	return path[:idx], true
}

// Split returns the parent directory and final element of a canonical path.
// The root splits into ("/", "").
func Split(path string) (dir, name string) {
	if path == "/" || path == "" {
		return "/", ""
	}
	idx := strings.LastIndexByte(path, '/')
	if idx <= 0 {
		return "/", path[idx+1:]
	}
	return path[:idx], path[idx+1:]
}

// Join appends name to a canonical directory path.
func Join(dir, name string) string {
	if dir == "/" {
		return "/" + name
	}
	return dir + "/" + name
}
