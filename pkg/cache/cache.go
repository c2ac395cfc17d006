// Package cache implements a chunked read-through cache over a Source.
//
// Slow sources (flash sectors, HTTP range requests, S3 objects) pay a fixed
// cost per request. Parsers that walk a container format issue many small
// reads at nearby offsets; the cache turns them into a few chunk-sized
// source reads while large sequential reads bypass it.
package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/marmos91/dittomount/pkg/source"
	"github.com/marmos91/dittomount/pkg/vfs"
)

const (
	// DefaultChunkSize is the size of one resident chunk.
	DefaultChunkSize = 512 * 1024

	// DefaultChunks is the number of resident chunks.
	DefaultChunks = 1
)

// ErrOutOfRange is returned for reads starting at or past the end of the
// source.
var ErrOutOfRange = fmt.Errorf("read offset beyond end of source: %w", vfs.ErrUnsupported)

type chunk struct {
	start  int64
	length int
	data   []byte
	valid  bool
	elem   *list.Element
}

func (ch *chunk) contains(off int64) bool {
	return ch.valid && off >= ch.start && off < ch.start+int64(ch.length)
}

// Stats counts cache activity since creation.
type Stats struct {
	// Hits counts reads served entirely from resident chunks.
	Hits uint64
	// Misses counts reads that needed the source.
	Misses uint64
	// SourceReads counts ReadAt calls issued to the source.
	SourceReads uint64
	// BypassReads counts reads too large to be staged through a chunk.
	BypassReads uint64
	// SourceBytes counts bytes fetched from the source.
	SourceBytes uint64
}

// Cache is a read-through cache over one immutable Source.
//
// At most Chunks chunks of ChunkSize bytes are resident; when a new chunk is
// needed the least recently used one is replaced.
//
// Thread safety:
// A Cache is not safe for concurrent use. Its owner (a backend, which the
// adapter already serializes under the mount lock) must serialize calls.
type Cache struct {
	src       source.Source
	capacity  int64
	chunkSize int
	chunks    []*chunk

	// lru orders chunks from most (front) to least (back) recently used.
	lru     *list.List
	stats   Stats
	metrics Metrics
}

// Option configures a Cache.
type Option func(*Cache)

// WithChunkSize sets the chunk size in bytes. Non-positive values keep the
// default.
func WithChunkSize(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.chunkSize = n
		}
	}
}

// WithChunks sets the number of resident chunks. Non-positive values keep
// the default.
func WithChunks(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.chunks = make([]*chunk, n)
		}
	}
}

// New creates a cache over src. The cache capacity is src.Size() at the
// time of the call.
func New(src source.Source, opts ...Option) *Cache {
	c := &Cache{
		src:       src,
		capacity:  src.Size(),
		chunkSize: DefaultChunkSize,
		chunks:    make([]*chunk, DefaultChunks),
		lru:       list.New(),
		metrics:   noopMetrics{},
	}
	for _, opt := range opts {
		opt(c)
	}
	for i := range c.chunks {
		ch := &chunk{}
		ch.elem = c.lru.PushBack(ch)
		c.chunks[i] = ch
	}
	return c
}

// Size returns the capacity of the cache, the size of its source.
func (c *Cache) Size() int64 { return c.capacity }

// Stats returns a snapshot of the activity counters.
func (c *Cache) Stats() Stats { return c.stats }

// Source returns the cached source.
func (c *Cache) Source() source.Source { return c.src }

// Invalidate drops every resident chunk.
func (c *Cache) Invalidate() {
	for _, ch := range c.chunks {
		ch.valid = false
		c.lru.MoveToBack(ch.elem)
	}
}

// Close drops the resident chunks and closes the source if it holds
// resources.
func (c *Cache) Close() error {
	c.Invalidate()
	return source.Close(c.src)
}

// ReadAt copies up to len(dst) bytes starting at off into dst.
//
// Reads starting at or beyond the end of the source fail with
// ErrOutOfRange. Reads running past the end are clamped and report io.EOF
// together with the clamped count, so a Cache can stand in for its Source.
//
// The part of the request already resident is copied from the chunks. A
// remainder larger than one chunk is read straight into dst with a single
// source read, after which the least recently used chunk is refilled with
// the trailing chunk-size bytes of dst. A smaller remainder is served by
// loading one chunk starting at the remainder offset.
func (c *Cache) ReadAt(ctx context.Context, dst []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read at %d: %w", off, vfs.ErrInvalidArgument)
	}
	if off >= c.capacity {
		return 0, ErrOutOfRange
	}

	want := len(dst)
	if int64(want) > c.capacity-off {
		want = int(c.capacity - off)
	}

	done := 0
	for done < want {
		ch := c.lookup(off + int64(done))
		if ch == nil {
			break
		}
		rel := int(off + int64(done) - ch.start)
		done += copy(dst[done:want], ch.data[rel:ch.length])
		c.lru.MoveToFront(ch.elem)
	}

	if done == want {
		c.stats.Hits++
		c.metrics.ObserveRead(true, want)
		return c.finish(len(dst), want)
	}
	c.stats.Misses++

	cur := off + int64(done)
	rem := want - done
	victim := c.victim()

	if rem > c.chunkSize {
		c.stats.BypassReads++
		if err := c.fill(ctx, dst[done:want], cur, true); err != nil {
			return done, err
		}
		victim.ensure(c.chunkSize)
		copy(victim.data, dst[want-c.chunkSize:want])
		victim.start = off + int64(want-c.chunkSize)
		victim.length = c.chunkSize
		victim.valid = true
		c.lru.MoveToFront(victim.elem)
		c.metrics.ObserveRead(false, want)
		return c.finish(len(dst), want)
	}

	length := c.chunkSize
	if int64(length) > c.capacity-cur {
		length = int(c.capacity - cur)
	}
	victim.valid = false
	victim.ensure(length)
	if err := c.fill(ctx, victim.data[:length], cur, false); err != nil {
		c.lru.MoveToBack(victim.elem)
		return done, err
	}
	victim.start = cur
	victim.length = length
	victim.valid = true
	c.lru.MoveToFront(victim.elem)

	copy(dst[done:want], victim.data[:rem])
	c.metrics.ObserveRead(false, want)
	return c.finish(len(dst), want)
}

func (c *Cache) finish(requested, served int) (int, error) {
	if served < requested {
		return served, io.EOF
	}
	return served, nil
}

func (c *Cache) lookup(off int64) *chunk {
	for e := c.lru.Front(); e != nil; e = e.Next() {
		ch := e.Value.(*chunk)
		if ch.contains(off) {
			return ch
		}
	}
	return nil
}

// victim returns an invalid chunk if there is one, otherwise the least
// recently used.
func (c *Cache) victim() *chunk {
	for _, ch := range c.chunks {
		if !ch.valid {
			return ch
		}
	}
	return c.lru.Back().Value.(*chunk)
}

// fill reads exactly len(p) bytes at off from the source.
func (c *Cache) fill(ctx context.Context, p []byte, off int64, bypass bool) (err error) {
	start := time.Now()
	defer func() {
		c.metrics.ObserveFill(len(p), time.Since(start), bypass, err)
	}()

	total := 0
	for total < len(p) {
		c.stats.SourceReads++
		n, rerr := c.src.ReadAt(ctx, p[total:], off+int64(total))
		total += n
		c.stats.SourceBytes += uint64(n)
		if total == len(p) {
			return nil
		}
		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return fmt.Errorf("source ended at %d: %w", off+int64(total), errors.Join(vfs.ErrIO, io.ErrUnexpectedEOF))
			}
			return rerr
		}
		if n == 0 {
			return fmt.Errorf("source returned no data at %d: %w", off+int64(total), vfs.ErrIO)
		}
	}
	return nil
}

func (ch *chunk) ensure(n int) {
	if cap(ch.data) < n {
		ch.data = make([]byte, n)
	}
	ch.data = ch.data[:cap(ch.data)]
}
