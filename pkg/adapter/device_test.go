package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/marmos91/dittomount/pkg/backend/tree"
	"github.com/marmos91/dittomount/pkg/registry"
	"github.com/marmos91/dittomount/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// spyBackend implements only the required capability set and records how
// it is called.
type spyBackend struct {
	calls    atomic.Int32
	mounts   atomic.Int32
	mountErr error

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	mu    sync.Mutex
	files []*spyFile

	// When gate is set, Lstat signals entered and waits for gate to close.
	gate    chan struct{}
	entered chan struct{}
}

func (b *spyBackend) enter() func() {
	b.calls.Add(1)
	n := b.inFlight.Add(1)
	for {
		cur := b.maxInFlight.Load()
		if n <= cur || b.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	return func() { b.inFlight.Add(-1) }
}

func (b *spyBackend) Mount(context.Context) error {
	b.mounts.Add(1)
	return b.mountErr
}

func (b *spyBackend) Open(_ context.Context, path string, _ vfs.OpenFlags, _ fs.FileMode) (vfs.File, error) {
	defer b.enter()()
	f := &spyFile{path: path}
	b.mu.Lock()
	b.files = append(b.files, f)
	b.mu.Unlock()
	return f, nil
}

func (b *spyBackend) Lstat(context.Context, string) (vfs.Stat, error) {
	defer b.enter()()
	if b.gate != nil {
		b.entered <- struct{}{}
		<-b.gate
	}
	time.Sleep(time.Millisecond)
	return vfs.Stat{Mode: 0o644}, nil
}

func (b *spyBackend) OpenDir(context.Context, string) (vfs.Dir, error) {
	defer b.enter()()
	return &sliceDir{names: []string{"one", "two"}}, nil
}

func (b *spyBackend) Close() error { return nil }

type spyFile struct {
	path   string
	closed atomic.Bool
}

func (f *spyFile) Read(context.Context, []byte) (int, error) { return 0, io.EOF }
func (f *spyFile) Seek(int64, int) (int64, error)            { return 0, nil }
func (f *spyFile) Stat(context.Context) (vfs.Stat, error)    { return vfs.Stat{}, nil }
func (f *spyFile) Close() error {
	f.closed.Store(true)
	return nil
}

type sliceDir struct {
	names []string
	next  int
}

func (d *sliceDir) Next(context.Context) (vfs.DirEntry, error) {
	if d.next >= len(d.names) {
		return vfs.DirEntry{}, io.EOF
	}
	d.next++
	return vfs.DirEntry{Name: d.names[d.next-1]}, nil
}

func (d *sliceDir) Reset(context.Context) error {
	d.next = 0
	return nil
}

func (d *sliceDir) Close() error { return nil }

type fixture struct {
	reg    *registry.Registry
	router *Router
}

func newFixture(t *testing.T, opts ...RouterOption) *fixture {
	t.Helper()
	router := NewRouter(opts...)
	reg := registry.New(8, registry.WithDeviceTable(router))
	t.Cleanup(reg.UnmountAll)
	return &fixture{reg: reg, router: router}
}

func (f *fixture) mount(t *testing.T, name string, cfg vfs.MountConfig, b vfs.Backend) *Device {
	t.Helper()
	cfg.Name = name
	path, err := f.reg.MountOrAttach(context.Background(), registry.Target{
		Key:    name,
		Kind:   "test",
		Config: cfg,
		New:    func(vfs.MountConfig) (vfs.Backend, error) { return b, nil },
	})
	require.NoError(t, err)
	d, errno := f.router.Device(path)
	require.Equal(t, OK, errno)
	return d
}

func (f *fixture) memory(t *testing.T, name string, cfg vfs.MountConfig) *Device {
	return f.mount(t, name, cfg, tree.NewMemory(tree.Config{}))
}

const (
	rdonly = os.O_RDONLY
	wronly = os.O_WRONLY
	create = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
)

func TestDevice_WriteThenRead(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := f.memory(t, "mem", vfs.MountConfig{})

	assert.Equal(t, OK, d.Mkdir(ctx, "mem:/docs", 0o755))

	fd, errno := d.Open(ctx, "mem://docs//note.txt", create, 0o644)
	require.Equal(t, OK, errno)
	n, errno := d.Write(ctx, fd, []byte("hello, mount"))
	require.Equal(t, OK, errno)
	assert.Equal(t, 12, n)
	require.Equal(t, OK, d.Close(ctx, fd))

	st, errno := f.router.Lstat(ctx, "mem:/docs/note.txt/")
	require.Equal(t, OK, errno)
	assert.EqualValues(t, 12, st.Size)

	fd, errno = d.Open(ctx, "mem:/docs/note.txt", rdonly, 0)
	require.Equal(t, OK, errno)
	pos, errno := d.Seek(ctx, fd, 7, io.SeekStart)
	require.Equal(t, OK, errno)
	assert.EqualValues(t, 7, pos)

	buf := make([]byte, 64)
	n, errno = d.Read(ctx, fd, buf)
	require.Equal(t, OK, errno)
	assert.Equal(t, "mount", string(buf[:n]))

	n, errno = d.Read(ctx, fd, buf)
	assert.Equal(t, OK, errno)
	assert.Zero(t, n, "end of file is zero bytes with no error")

	st, errno = d.Fstat(ctx, fd)
	require.Equal(t, OK, errno)
	assert.EqualValues(t, 12, st.Size)
	require.Equal(t, OK, d.Close(ctx, fd))
}

func TestDevice_Errors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := f.memory(t, "mem", vfs.MountConfig{})

	_, errno := d.Open(ctx, "mem:/missing", rdonly, 0)
	assert.Equal(t, unix.ENOENT, errno)

	_, errno = d.Open(ctx, "no-device-prefix", rdonly, 0)
	assert.Equal(t, unix.EINVAL, errno)

	require.Equal(t, OK, d.Mkdir(ctx, "mem:/d", 0o755))
	assert.Equal(t, unix.EEXIST, d.Mkdir(ctx, "mem:/d", 0o755))
	fd, errno := d.Open(ctx, "mem:/d/f", create, 0o644)
	require.Equal(t, OK, errno)
	require.Equal(t, OK, d.Close(ctx, fd))
	assert.Equal(t, unix.ENOTEMPTY, d.Rmdir(ctx, "mem:/d"))
	assert.Equal(t, unix.EISDIR, d.Unlink(ctx, "mem:/d"))
	assert.Equal(t, unix.ENOTDIR, d.Rmdir(ctx, "mem:/d/f"))

	_, errno = d.Seek(ctx, 0, 0, 42)
	assert.Equal(t, unix.EINVAL, errno)
}

func TestDevice_BadDescriptors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := f.memory(t, "mem", vfs.MountConfig{})

	_, errno := d.Read(ctx, 7, make([]byte, 1))
	assert.Equal(t, unix.EBADF, errno)
	assert.Equal(t, unix.EBADF, d.Close(ctx, -1))
	_, _, errno = d.DirNext(ctx, 3)
	assert.Equal(t, unix.EBADF, errno)

	fd, errno := d.Open(ctx, "mem:/w", create, 0o644)
	require.Equal(t, OK, errno)
	_, errno = d.Read(ctx, fd, make([]byte, 1))
	assert.Equal(t, unix.EBADF, errno, "write-only handle")
	require.Equal(t, OK, d.Close(ctx, fd))
	assert.Equal(t, unix.EBADF, d.Close(ctx, fd), "double close")

	fd, errno = d.Open(ctx, "mem:/w", rdonly, 0)
	require.Equal(t, OK, errno)
	_, errno = d.Write(ctx, fd, []byte("x"))
	assert.Equal(t, unix.EBADF, errno, "read-only handle")
	assert.Equal(t, unix.EBADF, d.Ftruncate(ctx, fd, 0))
	require.Equal(t, OK, d.Close(ctx, fd))
}

func TestDevice_DescriptorReuseAndLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithMaxHandles(2))
	d := f.memory(t, "mem", vfs.MountConfig{})

	fd0, errno := d.Open(ctx, "mem:/a", create, 0o644)
	require.Equal(t, OK, errno)
	fd1, errno := d.Open(ctx, "mem:/b", create, 0o644)
	require.Equal(t, OK, errno)
	assert.Equal(t, []int{0, 1}, []int{fd0, fd1})

	_, errno = d.Open(ctx, "mem:/c", create, 0o644)
	assert.Equal(t, unix.EMFILE, errno)

	require.Equal(t, OK, d.Close(ctx, fd0))
	fd, errno := d.Open(ctx, "mem:/c", create, 0o644)
	require.Equal(t, OK, errno)
	assert.Equal(t, 0, fd, "lowest free descriptor is reused")

	files, dirs := d.OpenHandles()
	assert.Equal(t, 2, files)
	assert.Zero(t, dirs)
}

func TestDevice_Directories(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	spy := &spyBackend{}
	d := f.mount(t, "spy", vfs.MountConfig{}, spy)

	dd, errno := d.DirOpen(ctx, "spy:/")
	require.Equal(t, OK, errno)

	var names []string
	for {
		name, _, errno := d.DirNext(ctx, dd)
		if errno == unix.ENOENT {
			break
		}
		require.Equal(t, OK, errno)
		names = append(names, name)
	}
	assert.Equal(t, []string{"one", "two"}, names)

	require.Equal(t, OK, d.DirReset(ctx, dd))
	name, _, errno := d.DirNext(ctx, dd)
	require.Equal(t, OK, errno)
	assert.Equal(t, "one", name)

	require.Equal(t, OK, d.DirClose(ctx, dd))
	assert.Equal(t, unix.EBADF, d.DirClose(ctx, dd))
}

func TestDevice_LongNamesInListing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := f.mount(t, "long", vfs.MountConfig{}, &longNameBackend{})

	dd, errno := d.DirOpen(ctx, "long:/")
	require.Equal(t, OK, errno)
	_, _, errno = d.DirNext(ctx, dd)
	assert.Equal(t, unix.ENAMETOOLONG, errno)
}

type longNameBackend struct{ spyBackend }

func (b *longNameBackend) OpenDir(context.Context, string) (vfs.Dir, error) {
	name := make([]byte, vfs.NameMax+1)
	for i := range name {
		name[i] = 'x'
	}
	return &sliceDir{names: []string{string(name)}}, nil
}

func TestDevice_ReadOnlyRejectsBeforeBackend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	spy := &spyBackend{}
	d := f.mount(t, "ro", vfs.MountConfig{ReadOnly: true}, spy)

	for _, flags := range []int{wronly, os.O_RDWR, os.O_RDONLY | os.O_CREATE, os.O_RDONLY | os.O_TRUNC, os.O_RDONLY | os.O_APPEND} {
		_, errno := d.Open(ctx, "ro:/f", flags, 0o644)
		assert.Equal(t, unix.EACCES, errno, "flags %#x", flags)
	}
	assert.Equal(t, unix.EACCES, d.Mkdir(ctx, "ro:/d", 0o755))
	assert.Equal(t, unix.EACCES, d.Rmdir(ctx, "ro:/d"))
	assert.Equal(t, unix.EACCES, d.Unlink(ctx, "ro:/f"))
	assert.Equal(t, unix.EACCES, d.Rename(ctx, "ro:/a", "ro:/b"))
	assert.Equal(t, unix.EACCES, d.Utimes(ctx, "ro:/f", time.Now(), time.Now()))
	_, errno := d.Write(ctx, 0, []byte("x"))
	assert.Equal(t, unix.EACCES, errno)
	assert.Equal(t, unix.EACCES, d.Ftruncate(ctx, 0, 0))

	assert.Zero(t, spy.calls.Load(), "no mutating call reaches the backend")
	assert.Zero(t, spy.mounts.Load(), "rejections do not mount the backend")

	fd, errno := d.Open(ctx, "ro:/f", rdonly, 0)
	require.Equal(t, OK, errno)
	require.Equal(t, OK, d.Close(ctx, fd))
	assert.EqualValues(t, 1, spy.mounts.Load())
}

func TestDevice_ReadOnlyStatvfs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := f.memory(t, "ro", vfs.MountConfig{ReadOnly: true})

	st, errno := d.Statvfs(ctx, "ro:/")
	require.Equal(t, OK, errno)
	assert.True(t, st.ReadOnly)
}

func TestDevice_MissingCapabilities(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	d := f.mount(t, "spy", vfs.MountConfig{}, &spyBackend{})

	assert.Equal(t, unix.ENOSYS, d.Unlink(ctx, "spy:/f"))
	assert.Equal(t, unix.ENOSYS, d.Mkdir(ctx, "spy:/d", 0o755))
	assert.Equal(t, unix.ENOSYS, d.Rmdir(ctx, "spy:/d"))
	assert.Equal(t, unix.ENOSYS, d.Rename(ctx, "spy:/a", "spy:/b"))
	assert.Equal(t, unix.ENOSYS, d.Utimes(ctx, "spy:/f", time.Now(), time.Now()))
	_, errno := d.Statvfs(ctx, "spy:/")
	assert.Equal(t, unix.ENOSYS, errno)

	fd, errno := d.Open(ctx, "spy:/f", os.O_RDWR, 0)
	require.Equal(t, OK, errno)
	_, errno = d.Write(ctx, fd, []byte("x"))
	assert.Equal(t, unix.ENOSYS, errno)
	assert.Equal(t, unix.ENOSYS, d.Ftruncate(ctx, fd, 0))
	assert.Equal(t, OK, d.Fsync(ctx, fd), "handles without buffers sync trivially")
}

func TestDevice_MountFailureIsIOAndRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	spy := &spyBackend{mountErr: errors.New("medium not present")}
	d := f.mount(t, "flaky", vfs.MountConfig{}, spy)

	_, errno := d.Lstat(ctx, "flaky:/")
	assert.Equal(t, unix.EIO, errno)
	_, errno = d.Lstat(ctx, "flaky:/")
	assert.Equal(t, unix.EIO, errno)
	assert.EqualValues(t, 2, spy.mounts.Load())
	assert.Zero(t, spy.calls.Load())

	spy.mountErr = nil
	_, errno = d.Lstat(ctx, "flaky:/")
	assert.Equal(t, OK, errno)
	assert.EqualValues(t, 3, spy.mounts.Load())

	_, errno = d.Lstat(ctx, "flaky:/")
	assert.Equal(t, OK, errno)
	assert.EqualValues(t, 3, spy.mounts.Load(), "a mounted backend is not mounted again")
}

func TestRouter_CrossDevice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.memory(t, "a", vfs.MountConfig{})
	f.memory(t, "b", vfs.MountConfig{})

	fd, errno := a.Open(ctx, "a:/f", create, 0o644)
	require.Equal(t, OK, errno)
	require.Equal(t, OK, a.Close(ctx, fd))

	assert.Equal(t, unix.EXDEV, f.router.Rename(ctx, "a:/f", "b:/f"))
	assert.Equal(t, unix.EXDEV, a.Rename(ctx, "a:/f", "b:/f"))
	assert.Equal(t, unix.EXDEV, a.Rename(ctx, "b:/f", "a:/g"))
	assert.Equal(t, unix.EINVAL, f.router.Rename(ctx, "a:/f", "/g"))
	assert.Equal(t, OK, f.router.Rename(ctx, "a:/f", "a:/g"))

	_, errno = f.router.Lstat(ctx, "a:/g")
	assert.Equal(t, OK, errno)
	_, errno = f.router.Lstat(ctx, "c:/g")
	assert.Equal(t, unix.ENODEV, errno)
}

func TestRouter_DevicesAndUnregister(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	spy := &spyBackend{}
	d := f.mount(t, "zeta", vfs.MountConfig{}, spy)
	f.memory(t, "alpha", vfs.MountConfig{})

	var names []string
	for _, dev := range f.router.Devices() {
		names = append(names, dev.Name())
	}
	assert.Equal(t, []string{"alpha", "zeta"}, names)

	fd, errno := d.Open(ctx, "zeta:/held", rdonly, 0)
	require.Equal(t, OK, errno)
	dd, errno := d.DirOpen(ctx, "zeta:/")
	require.Equal(t, OK, errno)

	require.NoError(t, f.reg.Unmount("zeta:/"))

	require.Len(t, spy.files, 1)
	assert.True(t, spy.files[0].closed.Load(), "unregister closes open files")

	_, errno = f.router.Device("zeta")
	assert.Equal(t, unix.ENODEV, errno)

	_, errno = d.Read(ctx, fd, make([]byte, 1))
	assert.Equal(t, unix.EBADF, errno)
	_, errno = d.Seek(ctx, fd, 0, io.SeekStart)
	assert.Equal(t, unix.EBADF, errno)
	_, errno = d.Fstat(ctx, fd)
	assert.Equal(t, unix.EBADF, errno)
	_, _, errno = d.DirNext(ctx, dd)
	assert.Equal(t, unix.EBADF, errno)
	_, errno = d.Lstat(ctx, "zeta:/held")
	assert.Equal(t, unix.ENOENT, errno, "path calls still report the missing mount")
	assert.Equal(t, unix.EBADF, d.Close(ctx, fd))
	assert.Equal(t, unix.EBADF, d.DirClose(ctx, dd))
}

func TestRouter_RegisterDuplicate(t *testing.T) {
	f := newFixture(t)
	d := f.memory(t, "dup", vfs.MountConfig{})
	err := f.router.RegisterDevice(d.Entry())
	assert.ErrorIs(t, err, vfs.ErrExists)
}

func TestDevice_SerializesBackendCalls(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	spy := &spyBackend{}
	d := f.mount(t, "spy", vfs.MountConfig{}, spy)
	other := &spyBackend{}
	o := f.mount(t, "other", vfs.MountConfig{}, other)

	var g errgroup.Group
	for i := 0; i < 16; i++ {
		dev, prefix := d, "spy"
		if i%2 == 1 {
			dev, prefix = o, "other"
		}
		g.Go(func() error {
			for j := 0; j < 5; j++ {
				if _, errno := dev.Lstat(ctx, fmt.Sprintf("%s:/f%d", prefix, j)); errno != OK {
					return errno
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 40, spy.calls.Load())
	assert.EqualValues(t, 40, other.calls.Load())
	assert.EqualValues(t, 1, spy.maxInFlight.Load(), "one call at a time per mount")
	assert.EqualValues(t, 1, other.maxInFlight.Load())
}

func TestDevice_MountsDoNotBlockEachOther(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	slow := &spyBackend{gate: make(chan struct{}), entered: make(chan struct{}, 2)}
	a := f.mount(t, "slow", vfs.MountConfig{}, slow)
	b := f.mount(t, "fast", vfs.MountConfig{}, &spyBackend{})

	first := make(chan syscall.Errno, 1)
	go func() {
		_, errno := a.Lstat(ctx, "slow:/one")
		first <- errno
	}()
	<-slow.entered

	second := make(chan syscall.Errno, 1)
	go func() {
		_, errno := a.Lstat(ctx, "slow:/two")
		second <- errno
	}()

	other := make(chan syscall.Errno, 1)
	go func() {
		_, errno := b.Lstat(ctx, "fast:/three")
		other <- errno
	}()
	select {
	case errno := <-other:
		assert.Equal(t, OK, errno)
	case <-time.After(5 * time.Second):
		t.Fatal("call on another mount waited for a busy mount")
	}

	select {
	case <-second:
		t.Fatal("second call on the busy mount ran concurrently with the first")
	case <-time.After(50 * time.Millisecond):
	}

	close(slow.gate)
	assert.Equal(t, OK, <-first)
	assert.Equal(t, OK, <-second)
	assert.EqualValues(t, 1, slow.maxInFlight.Load())
}

func TestErrno(t *testing.T) {
	tests := []struct {
		err  error
		want syscall.Errno
	}{
		{nil, OK},
		{fmt.Errorf("x: %w", vfs.ErrNotFound), unix.ENOENT},
		{fmt.Errorf("x: %w", vfs.ErrPermission), unix.EACCES},
		{fmt.Errorf("x: %w", vfs.ErrExists), unix.EEXIST},
		{fmt.Errorf("x: %w", vfs.ErrNotEmpty), unix.ENOTEMPTY},
		{fmt.Errorf("x: %w", vfs.ErrInvalidArgument), unix.EINVAL},
		{fmt.Errorf("x: %w", vfs.ErrUnsupported), unix.ENOSYS},
		{fmt.Errorf("x: %w", vfs.ErrResourceExhausted), unix.EMFILE},
		{fmt.Errorf("x: %w", vfs.ErrBadDescriptor), unix.EBADF},
		{fmt.Errorf("x: %w", vfs.ErrNotDir), unix.ENOTDIR},
		{fmt.Errorf("x: %w", vfs.ErrIsDir), unix.EISDIR},
		{fmt.Errorf("x: %w", vfs.ErrNameTooLong), unix.ENAMETOOLONG},
		{fmt.Errorf("x: %w", vfs.ErrCrossDevice), unix.EXDEV},
		{fmt.Errorf("x: %w", vfs.ErrNoSpace), unix.ENOSPC},
		{fs.ErrNotExist, unix.ENOENT},
		{errors.New("disk on fire"), unix.EIO},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Errno(tt.err), "%v", tt.err)
	}
}

type callRecord struct {
	device, op string
	errno      syscall.Errno
}

type recordingMetrics struct {
	mu      sync.Mutex
	calls   []callRecord
	bytes   map[string]int
	devices int
}

func (m *recordingMetrics) RecordCall(device, op string, _ time.Duration, errno syscall.Errno) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, callRecord{device: device, op: op, errno: errno})
}

func (m *recordingMetrics) RecordBytes(device, direction string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bytes[device+"/"+direction] += n
}

func (m *recordingMetrics) SetDevices(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = n
}

func TestDevice_Metrics(t *testing.T) {
	ctx := context.Background()
	m := &recordingMetrics{bytes: make(map[string]int)}
	f := newFixture(t, WithMetrics(m))
	d := f.memory(t, "mem", vfs.MountConfig{})
	f.memory(t, "other", vfs.MountConfig{})
	assert.Equal(t, 2, m.devices)

	fd, errno := d.Open(ctx, "mem:/a", create, 0o644)
	require.Equal(t, OK, errno)
	_, errno = d.Write(ctx, fd, []byte("12345"))
	require.Equal(t, OK, errno)
	require.Equal(t, OK, d.Close(ctx, fd))

	fd, errno = d.Open(ctx, "mem:/a", rdonly, 0)
	require.Equal(t, OK, errno)
	_, errno = d.Read(ctx, fd, make([]byte, 3))
	require.Equal(t, OK, errno)
	require.Equal(t, OK, d.Close(ctx, fd))

	_, errno = d.Open(ctx, "mem:/missing", rdonly, 0)
	assert.Equal(t, unix.ENOENT, errno)

	m.mu.Lock()
	assert.Equal(t, 5, m.bytes["mem/write"])
	assert.Equal(t, 3, m.bytes["mem/read"])
	assert.Contains(t, m.calls, callRecord{device: "mem", op: "open", errno: unix.ENOENT})
	assert.Contains(t, m.calls, callRecord{device: "mem", op: "write", errno: OK})
	assert.Contains(t, m.calls, callRecord{device: "mem", op: "close", errno: OK})
	m.mu.Unlock()

	require.NoError(t, f.reg.Unmount("other"))
	m.mu.Lock()
	assert.Equal(t, 1, m.devices)
	m.mu.Unlock()
}
