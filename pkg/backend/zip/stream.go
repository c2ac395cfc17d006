package zip

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"
	"github.com/marmos91/dittomount/pkg/vfs"
)

// stream reads a compressed member. Decompression only runs forward, so
// seeking backwards reopens the member and skips to the target offset.
type stream struct {
	f    *zip.File
	ra   *boundReaderAt
	stat vfs.Stat

	rc     io.ReadCloser
	rcPos  int64
	pos    int64
	closed bool
}

func (s *stream) Read(ctx context.Context, p []byte) (int, error) {
	if s.closed {
		return 0, vfs.ErrBadDescriptor
	}
	if s.pos >= s.stat.Size {
		return 0, io.EOF
	}
	s.ra.ctx = ctx
	if err := s.position(); err != nil {
		return 0, err
	}
	n, err := s.rc.Read(p)
	s.rcPos += int64(n)
	s.pos = s.rcPos
	if err == io.EOF {
		if n > 0 {
			err = nil
		}
	} else if err != nil {
		err = fmt.Errorf("inflate %s: %v: %w", s.f.Name, err, vfs.ErrIO)
	}
	return n, err
}

// position makes the decompressor's offset match pos.
func (s *stream) position() error {
	if s.rc == nil || s.pos < s.rcPos {
		if s.rc != nil {
			_ = s.rc.Close()
		}
		rc, err := s.f.Open()
		if err != nil {
			s.rc = nil
			return fmt.Errorf("open member %s: %v: %w", s.f.Name, err, vfs.ErrIO)
		}
		s.rc = rc
		s.rcPos = 0
	}
	if skip := s.pos - s.rcPos; skip > 0 {
		n, err := io.CopyN(io.Discard, s.rc, skip)
		s.rcPos += n
		if err != nil {
			return fmt.Errorf("skip in %s: %v: %w", s.f.Name, err, vfs.ErrIO)
		}
	}
	return nil
}

func (s *stream) Seek(offset int64, whence int) (int64, error) {
	if s.closed {
		return 0, vfs.ErrBadDescriptor
	}
	pos, err := vfs.ResolveSeek(s.pos, s.stat.Size, offset, whence)
	if err != nil {
		return s.pos, err
	}
	s.pos = pos
	return pos, nil
}

func (s *stream) Stat(context.Context) (vfs.Stat, error) {
	if s.closed {
		return vfs.Stat{}, vfs.ErrBadDescriptor
	}
	return s.stat, nil
}

func (s *stream) Close() error {
	if s.closed {
		return vfs.ErrBadDescriptor
	}
	s.closed = true
	if s.rc != nil {
		return s.rc.Close()
	}
	return nil
}
