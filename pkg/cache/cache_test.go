package cache

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/marmos91/dittomount/pkg/source"
	"github.com/marmos91/dittomount/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSource records every read issued to the wrapped source.
type countingSource struct {
	source.Source
	reads []readCall
	fail  error
}

type readCall struct {
	off int64
	n   int
}

func (s *countingSource) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	s.reads = append(s.reads, readCall{off: off, n: len(p)})
	if s.fail != nil {
		return 0, s.fail
	}
	return s.Source.ReadAt(ctx, p, off)
}

func testData(n int) []byte {
	rng := rand.New(rand.NewSource(int64(n)))
	data := make([]byte, n)
	rng.Read(data)
	return data
}

func newCounting(data []byte) *countingSource {
	return &countingSource{Source: source.NewMemory(data)}
}

func TestCache_ReadsMatchSource(t *testing.T) {
	ctx := context.Background()
	data := testData(10_000)

	for _, chunks := range []int{1, 3} {
		src := newCounting(data)
		c := New(src, WithChunkSize(1024), WithChunks(chunks))
		rng := rand.New(rand.NewSource(42))

		for i := 0; i < 500; i++ {
			off := rng.Int63n(int64(len(data)))
			n := rng.Intn(3000) + 1
			buf := make([]byte, n)

			got, err := c.ReadAt(ctx, buf, off)
			want := n
			if rem := len(data) - int(off); want > rem {
				want = rem
				assert.ErrorIs(t, err, io.EOF)
			} else {
				require.NoError(t, err)
			}
			require.Equal(t, want, got)
			require.Equal(t, data[off:off+int64(want)], buf[:got], "chunks=%d off=%d n=%d", chunks, off, n)
		}
	}
}

func TestCache_HitIssuesNoSourceRead(t *testing.T) {
	ctx := context.Background()
	src := newCounting(testData(4096))
	c := New(src, WithChunkSize(1024))

	buf := make([]byte, 16)
	_, err := c.ReadAt(ctx, buf, 100)
	require.NoError(t, err)
	require.Len(t, src.reads, 1)
	assert.Equal(t, readCall{off: 100, n: 1024}, src.reads[0])

	for _, off := range []int64{100, 101, 500, 1100} {
		_, err := c.ReadAt(ctx, buf, off)
		require.NoError(t, err)
	}
	assert.Len(t, src.reads, 1)

	stats := c.Stats()
	assert.Equal(t, uint64(4), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestCache_LargeReadBypassesWithOneSourceRead(t *testing.T) {
	ctx := context.Background()
	data := testData(8192)
	src := newCounting(data)
	c := New(src, WithChunkSize(1024))

	buf := make([]byte, 3000)
	n, err := c.ReadAt(ctx, buf, 2000)
	require.NoError(t, err)
	require.Equal(t, 3000, n)
	assert.Equal(t, data[2000:5000], buf)
	require.Len(t, src.reads, 1)
	assert.Equal(t, readCall{off: 2000, n: 3000}, src.reads[0])
	assert.Equal(t, uint64(1), c.Stats().BypassReads)

	// The trailing chunk of the large read is resident.
	tail := make([]byte, 1024)
	_, err = c.ReadAt(ctx, tail, 5000-1024)
	require.NoError(t, err)
	assert.Equal(t, data[5000-1024:5000], tail)
	assert.Len(t, src.reads, 1)

	// Bytes before the tail are not.
	_, err = c.ReadAt(ctx, tail[:1], 5000-1025)
	require.NoError(t, err)
	assert.Len(t, src.reads, 2)
}

func TestCache_OffsetAtOrPastCapacity(t *testing.T) {
	c := New(newCounting(testData(100)))
	buf := make([]byte, 1)

	_, err := c.ReadAt(context.Background(), buf, 100)
	assert.ErrorIs(t, err, ErrOutOfRange)
	assert.Equal(t, vfs.CodeUnsupported, vfs.CodeOf(err))

	_, err = c.ReadAt(context.Background(), buf, 1000)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = c.ReadAt(context.Background(), buf, -1)
	assert.ErrorIs(t, err, vfs.ErrInvalidArgument)
}

func TestCache_ChunkClampedToCapacity(t *testing.T) {
	ctx := context.Background()
	data := testData(1500)
	src := newCounting(data)
	c := New(src, WithChunkSize(1024))

	buf := make([]byte, 10)
	_, err := c.ReadAt(ctx, buf, 1200)
	require.NoError(t, err)
	assert.Equal(t, readCall{off: 1200, n: 300}, src.reads[0])
	assert.Equal(t, data[1200:1210], buf)
}

func TestCache_PartialOverlapReadsOnlyRemainder(t *testing.T) {
	ctx := context.Background()
	data := testData(4096)
	src := newCounting(data)
	c := New(src, WithChunkSize(1024))

	buf := make([]byte, 100)
	_, err := c.ReadAt(ctx, buf, 0)
	require.NoError(t, err)

	buf = make([]byte, 200)
	n, err := c.ReadAt(ctx, buf, 950)
	require.NoError(t, err)
	assert.Equal(t, 200, n)
	assert.Equal(t, data[950:1150], buf)
	require.Len(t, src.reads, 2)
	assert.Equal(t, int64(1024), src.reads[1].off)
}

func TestCache_LRUEviction(t *testing.T) {
	ctx := context.Background()
	data := testData(10 * 1024)
	src := newCounting(data)
	c := New(src, WithChunkSize(1024), WithChunks(2))
	buf := make([]byte, 1)

	read := func(off int64) {
		t.Helper()
		_, err := c.ReadAt(ctx, buf, off)
		require.NoError(t, err)
	}

	read(0)    // load A
	read(2048) // load B
	read(10)   // touch A
	read(4096) // evicts B
	require.Len(t, src.reads, 3)

	read(20) // A still resident
	assert.Len(t, src.reads, 3)

	read(2048) // B was evicted
	assert.Len(t, src.reads, 4)
}

func TestCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	src := newCounting(testData(2048))
	c := New(src, WithChunkSize(1024))
	buf := make([]byte, 8)

	_, err := c.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	c.Invalidate()
	_, err = c.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Len(t, src.reads, 2)
}

func TestCache_SourceErrorDoesNotPoison(t *testing.T) {
	ctx := context.Background()
	data := testData(2048)
	src := newCounting(data)
	c := New(src, WithChunkSize(1024))
	buf := make([]byte, 8)

	src.fail = errors.New("flaky")
	_, err := c.ReadAt(ctx, buf, 0)
	require.Error(t, err)

	src.fail = nil
	_, err = c.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, data[:8], buf)
}

func TestCache_ShortSourceIsIOError(t *testing.T) {
	data := testData(100)
	src := &countingSource{Source: source.NewMemory(data[:50])}
	c := New(&sizedSource{Source: src, size: 100}, WithChunkSize(64))

	buf := make([]byte, 10)
	_, err := c.ReadAt(context.Background(), buf, 40)
	assert.Equal(t, vfs.CodeIOError, vfs.CodeOf(err))
}

// sizedSource lies about its size to simulate a truncated backing object.
type sizedSource struct {
	source.Source
	size int64
}

func (s *sizedSource) Size() int64 { return s.size }

type fillEvent struct {
	bytes  int
	bypass bool
	err    error
}

type recordingMetrics struct {
	hits, misses int
	readBytes    int
	fills        []fillEvent
}

func (m *recordingMetrics) ObserveRead(hit bool, n int) {
	if hit {
		m.hits++
	} else {
		m.misses++
	}
	m.readBytes += n
}

func (m *recordingMetrics) ObserveFill(bytes int, _ time.Duration, bypass bool, err error) {
	m.fills = append(m.fills, fillEvent{bytes: bytes, bypass: bypass, err: err})
}

func TestCache_Metrics(t *testing.T) {
	ctx := context.Background()
	data := testData(4096)
	src := newCounting(data)
	m := &recordingMetrics{}
	c := New(src, WithChunkSize(1024), WithChunks(1), WithMetrics(m))

	buf := make([]byte, 100)
	_, err := c.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	_, err = c.ReadAt(ctx, buf, 200)
	require.NoError(t, err)

	big := make([]byte, 3000)
	_, err = c.ReadAt(ctx, big, 1024)
	require.NoError(t, err)

	assert.Equal(t, 1, m.hits)
	assert.Equal(t, 2, m.misses)
	assert.Equal(t, 3200, m.readBytes)
	require.Len(t, m.fills, 2)
	assert.Equal(t, fillEvent{bytes: 1024}, m.fills[0])
	assert.Equal(t, fillEvent{bytes: 3000, bypass: true}, m.fills[1])

	src.fail = errors.New("unreachable")
	c2 := New(src, WithChunkSize(1024), WithMetrics(m))
	_, err = c2.ReadAt(ctx, buf, 0)
	require.Error(t, err)
	require.Len(t, m.fills, 3)
	assert.Error(t, m.fills[2].err)
}

func TestCache_WithNilMetrics(t *testing.T) {
	c := New(newCounting(testData(10)), WithMetrics(nil))
	buf := make([]byte, 10)
	_, err := c.ReadAt(context.Background(), buf, 0)
	require.NoError(t, err)
}
