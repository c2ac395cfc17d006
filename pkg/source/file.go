package source

import (
	"context"
	"fmt"
	"os"
)

// File is a Source over a local file. The size is captured when the file is
// opened; the file is expected not to change while it is in use.
type File struct {
	f    *os.File
	size int64
}

// OpenFile opens path read-only.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	src, err := NewFile(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return src, nil
}

// NewFile wraps an already open file. Closing the Source closes f.
func NewFile(f *os.File) (*File, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", f.Name(), err)
	}
	return &File{f: f, size: info.Size()}, nil
}

func (s *File) Size() int64 { return s.size }

func (s *File) ReadAt(_ context.Context, p []byte, off int64) (int, error) {
	return s.f.ReadAt(p, off)
}

func (s *File) Close() error {
	return s.f.Close()
}
