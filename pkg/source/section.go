package source

import (
	"context"
	"fmt"
	"io"

	"github.com/marmos91/dittomount/pkg/vfs"
)

// Section is a window of n bytes of another Source starting at base. It
// never closes the parent.
type Section struct {
	parent Source
	base   int64
	size   int64
}

// NewSection returns the window [base, base+n) of parent. The window is
// clipped to the parent's size.
func NewSection(parent Source, base, n int64) *Section {
	if base > parent.Size() {
		base = parent.Size()
	}
	if base+n > parent.Size() {
		n = parent.Size() - base
	}
	return &Section{parent: parent, base: base, size: n}
}

func (s *Section) Size() int64 { return s.size }

func (s *Section) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read at %d: %w", off, vfs.ErrInvalidArgument)
	}
	if off >= s.size {
		return 0, io.EOF
	}
	want := p
	if int64(len(want)) > s.size-off {
		want = want[:s.size-off]
	}
	n, err := s.parent.ReadAt(ctx, want, s.base+off)
	if n == len(want) && len(want) < len(p) {
		return n, io.EOF
	}
	return n, err
}
