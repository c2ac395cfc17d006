package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/marmos91/dittomount/pkg/vfs"
)

// Segment is one part of a Segmented source. Offset is where the part
// starts in the logical stream.
type Segment struct {
	Source Source
	Offset int64
}

// End returns the first logical offset past the segment.
func (s Segment) End() int64 { return s.Offset + s.Source.Size() }

// Segmented presents several sources, in order, as one contiguous stream.
// It is used for split archives ("game.zip.000", "game.zip.001", ...).
//
// The segment list is owned by the Segmented value and only grows.
type Segmented struct {
	segments []Segment
	size     int64
}

// NewSegmented concatenates parts in the given order. Empty parts are kept
// so that Segments() mirrors the input, but they never serve reads.
func NewSegmented(parts ...Source) *Segmented {
	s := &Segmented{segments: make([]Segment, 0, len(parts))}
	for _, p := range parts {
		s.Append(p)
	}
	return s
}

// Append adds a part at the end of the stream.
func (s *Segmented) Append(part Source) {
	s.segments = append(s.segments, Segment{Source: part, Offset: s.size})
	s.size += part.Size()
}

// Segments returns a copy of the segment list.
func (s *Segmented) Segments() []Segment {
	out := make([]Segment, len(s.segments))
	copy(out, s.segments)
	return out
}

func (s *Segmented) Size() int64 { return s.size }

// find returns the index of the first non-empty segment containing off.
func (s *Segmented) find(off int64) int {
	return sort.Search(len(s.segments), func(i int) bool {
		return s.segments[i].End() > off
	})
}

func (s *Segmented) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read at %d: %w", off, vfs.ErrInvalidArgument)
	}
	if off >= s.size {
		return 0, io.EOF
	}

	total := 0
	for i := s.find(off); i < len(s.segments) && total < len(p); i++ {
		seg := s.segments[i]
		if seg.Source.Size() == 0 {
			continue
		}
		local := off + int64(total) - seg.Offset
		want := len(p) - total
		if remain := seg.Source.Size() - local; int64(want) > remain {
			want = int(remain)
		}

		n, err := seg.Source.ReadAt(ctx, p[total:total+want], local)
		total += n
		if err != nil && !(errors.Is(err, io.EOF) && n == want) {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return total, fmt.Errorf("segment %d: %w", i, err)
		}
	}

	if total < len(p) {
		return total, io.EOF
	}
	return total, nil
}

// Close closes every part, returning the first error.
func (s *Segmented) Close() error {
	var first error
	for _, seg := range s.segments {
		if err := Close(seg.Source); err != nil && first == nil {
			first = err
		}
	}
	return first
}
