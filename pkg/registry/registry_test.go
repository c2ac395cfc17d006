package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marmos91/dittomount/pkg/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type fakeBackend struct {
	mounts   atomic.Int32
	closes   atomic.Int32
	mountErr error
	closeErr error
}

func (b *fakeBackend) Mount(context.Context) error {
	b.mounts.Add(1)
	return b.mountErr
}

func (b *fakeBackend) Open(context.Context, string, vfs.OpenFlags, fs.FileMode) (vfs.File, error) {
	return nil, vfs.ErrUnsupported
}

func (b *fakeBackend) Lstat(context.Context, string) (vfs.Stat, error) {
	return vfs.Stat{Mode: fs.ModeDir | 0o755}, nil
}

func (b *fakeBackend) OpenDir(context.Context, string) (vfs.Dir, error) {
	return nil, vfs.ErrUnsupported
}

func (b *fakeBackend) Close() error {
	b.closes.Add(1)
	return b.closeErr
}

type recordingTable struct {
	mu         sync.Mutex
	registered map[string]*Entry
	fail       error
}

func newRecordingTable() *recordingTable {
	return &recordingTable{registered: make(map[string]*Entry)}
}

func (t *recordingTable) RegisterDevice(e *Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.fail != nil {
		return t.fail
	}
	t.registered[e.Name()] = e
	return nil
}

func (t *recordingTable) UnregisterDevice(e *Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.registered[e.Name()] == e {
		delete(t.registered, e.Name())
	}
}

func (t *recordingTable) has(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.registered[name]
	return ok
}

func targetFor(key string, b *fakeBackend) Target {
	return Target{
		Key:  key,
		Kind: "fake",
		New:  func(vfs.MountConfig) (vfs.Backend, error) { return b, nil },
	}
}

func TestMountOrAttach_RefCounting(t *testing.T) {
	ctx := context.Background()
	table := newRecordingTable()
	reg := New(4, WithDeviceTable(table))
	backend := &fakeBackend{}

	p1, err := reg.MountOrAttach(ctx, targetFor("/dev/sd", backend))
	require.NoError(t, err)
	p2, err := reg.MountOrAttach(ctx, targetFor("/dev/sd", backend))
	require.NoError(t, err)

	assert.Equal(t, "fake_0:/", p1)
	assert.Equal(t, p1, p2)
	assert.Equal(t, uint32(2), reg.RefCount("fake_0"))
	assert.True(t, table.has("fake_0"))

	require.NoError(t, reg.Unmount(p1))
	assert.Equal(t, int32(0), backend.closes.Load())
	assert.True(t, table.has("fake_0"))

	require.NoError(t, reg.Unmount(p2))
	assert.Equal(t, int32(1), backend.closes.Load())
	assert.False(t, table.has("fake_0"))
	assert.Equal(t, 0, reg.Count())

	// Unknown paths are ignored.
	require.NoError(t, reg.Unmount("fake_0:/"))
	assert.Equal(t, int32(1), backend.closes.Load())
}

func TestMountOrAttach_LazyMount(t *testing.T) {
	reg := New(2)
	backend := &fakeBackend{}

	_, err := reg.MountOrAttach(context.Background(), targetFor("k", backend))
	require.NoError(t, err)
	assert.Equal(t, int32(0), backend.mounts.Load())

	e, ok := reg.Lookup("fake_0")
	require.True(t, ok)
	assert.False(t, e.Mounted())

	require.NoError(t, e.Do(context.Background(), func(context.Context, vfs.Backend) error { return nil }))
	require.NoError(t, e.Do(context.Background(), func(context.Context, vfs.Backend) error { return nil }))
	assert.Equal(t, int32(1), backend.mounts.Load())
	assert.True(t, e.Mounted())
}

func TestEntryDo_MountFailureIsIOErrorAndRetried(t *testing.T) {
	reg := New(2)
	backend := &fakeBackend{mountErr: vfs.ErrNotFound}
	_, err := reg.MountOrAttach(context.Background(), targetFor("k", backend))
	require.NoError(t, err)

	e, _ := reg.Lookup("fake_0")
	called := false
	err = e.Do(context.Background(), func(context.Context, vfs.Backend) error {
		called = true
		return nil
	})
	assert.False(t, called)
	assert.Equal(t, vfs.CodeIOError, vfs.CodeOf(err))

	backend.mountErr = nil
	require.NoError(t, e.Do(context.Background(), func(context.Context, vfs.Backend) error { return nil }))
	assert.Equal(t, int32(2), backend.mounts.Load())
}

func TestMountOrAttach_CapacityExhausted(t *testing.T) {
	ctx := context.Background()
	reg := New(2)

	for i := 0; i < 2; i++ {
		_, err := reg.MountOrAttach(ctx, targetFor(fmt.Sprintf("k%d", i), &fakeBackend{}))
		require.NoError(t, err)
	}
	_, err := reg.MountOrAttach(ctx, targetFor("k2", &fakeBackend{}))
	assert.ErrorIs(t, err, vfs.ErrResourceExhausted)

	// Attaching to an existing key still works when full.
	_, err = reg.MountOrAttach(ctx, targetFor("k1", &fakeBackend{}))
	require.NoError(t, err)

	// Freeing a slot makes it reusable with the same index.
	require.NoError(t, reg.Unmount("fake_0:/"))
	path, err := reg.MountOrAttach(ctx, targetFor("k3", &fakeBackend{}))
	require.NoError(t, err)
	assert.Equal(t, "fake_0:/", path)
}

func TestMountOrAttach_EagerFailureLeavesNoEntry(t *testing.T) {
	ctx := context.Background()
	table := newRecordingTable()
	reg := New(1, WithDeviceTable(table))
	backend := &fakeBackend{mountErr: errors.New("corrupt archive")}

	target := targetFor("/bad.zip", backend)
	target.Eager = true
	_, err := reg.MountOrAttach(ctx, target)
	require.Error(t, err)
	assert.Equal(t, 0, reg.Count())
	assert.Equal(t, int32(1), backend.closes.Load())
	assert.False(t, table.has("fake_0"))

	// The slot was released.
	_, err = reg.MountOrAttach(ctx, targetFor("/good", &fakeBackend{}))
	require.NoError(t, err)
}

func TestMountOrAttach_ConfiguredNames(t *testing.T) {
	ctx := context.Background()
	reg := New(4)

	target := targetFor("ftp://host", &fakeBackend{})
	target.Config.Name = "ftp_home"
	path, err := reg.MountOrAttach(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, "ftp_home:/", path)

	dup := targetFor("ftp://other", &fakeBackend{})
	dup.Config.Name = "ftp_home"
	_, err = reg.MountOrAttach(ctx, dup)
	assert.ErrorIs(t, err, vfs.ErrExists)

	bad := targetFor("x", &fakeBackend{})
	bad.Config.Name = "a:b"
	_, err = reg.MountOrAttach(ctx, bad)
	assert.ErrorIs(t, err, vfs.ErrInvalidArgument)
}

func TestMountOrAttach_FactoryAndTableErrors(t *testing.T) {
	ctx := context.Background()
	table := newRecordingTable()
	reg := New(2, WithDeviceTable(table))

	boom := errors.New("boom")
	_, err := reg.MountOrAttach(ctx, Target{
		Key:  "k",
		Kind: "fake",
		New:  func(vfs.MountConfig) (vfs.Backend, error) { return nil, boom },
	})
	assert.ErrorIs(t, err, boom)

	table.fail = errors.New("table full")
	backend := &fakeBackend{}
	_, err = reg.MountOrAttach(ctx, targetFor("k", backend))
	require.Error(t, err)
	assert.Equal(t, int32(1), backend.closes.Load())
	assert.Equal(t, 0, reg.Count())
}

func TestMountOrAttach_ConcurrentAttachSharesOneBackend(t *testing.T) {
	ctx := context.Background()
	reg := New(4)
	var constructed atomic.Int32
	backend := &fakeBackend{}
	target := Target{
		Key:  "shared",
		Kind: "fake",
		New: func(vfs.MountConfig) (vfs.Backend, error) {
			constructed.Add(1)
			time.Sleep(10 * time.Millisecond)
			return backend, nil
		},
	}

	const callers = 16
	paths := make([]string, callers)
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			p, err := reg.MountOrAttach(ctx, target)
			paths[i] = p
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), constructed.Load())
	for _, p := range paths {
		assert.Equal(t, "fake_0:/", p)
	}
	assert.Equal(t, uint32(callers), reg.RefCount("fake_0"))

	for i := 0; i < callers; i++ {
		require.NoError(t, reg.Unmount("fake_0"))
	}
	assert.Equal(t, int32(1), backend.closes.Load())
}

func TestUnmount_ReturnsTeardownError(t *testing.T) {
	reg := New(1)
	backend := &fakeBackend{closeErr: errors.New("flush failed")}
	path, err := reg.MountOrAttach(context.Background(), targetFor("k", backend))
	require.NoError(t, err)

	err = reg.Unmount(path)
	assert.ErrorIs(t, err, backend.closeErr)
	assert.Equal(t, 0, reg.Count())
}

func TestUnmountAll(t *testing.T) {
	ctx := context.Background()
	table := newRecordingTable()
	reg := New(4, WithDeviceTable(table))
	backends := []*fakeBackend{{}, {closeErr: errors.New("teardown")}, {}}

	for i, b := range backends {
		_, err := reg.MountOrAttach(ctx, targetFor(fmt.Sprintf("k%d", i), b))
		require.NoError(t, err)
	}
	// Extra references do not keep a mount alive.
	_, err := reg.MountOrAttach(ctx, targetFor("k0", backends[0]))
	require.NoError(t, err)

	e, _ := reg.Lookup("fake_1")
	reg.UnmountAll()

	assert.Equal(t, 0, reg.Count())
	for _, b := range backends {
		assert.Equal(t, int32(1), b.closes.Load())
	}
	assert.ErrorIs(t, e.Do(ctx, func(context.Context, vfs.Backend) error { return nil }), ErrUnmounted)
	assert.False(t, table.has("fake_0"))
}

func TestEntries_VisibilityFilters(t *testing.T) {
	ctx := context.Background()
	reg := New(4)

	add := func(key string, cfg vfs.MountConfig) {
		t.Helper()
		target := targetFor(key, &fakeBackend{})
		target.Config = cfg
		_, err := reg.MountOrAttach(ctx, target)
		require.NoError(t, err)
	}
	add("plain", vfs.MountConfig{})
	add("nodump", vfs.MountConfig{DumpHidden: true})
	add("nofs", vfs.MountConfig{FsHidden: true})

	names := func(entries []*Entry) []string {
		out := make([]string, 0, len(entries))
		for _, e := range entries {
			out = append(out, e.Key())
		}
		return out
	}

	assert.Equal(t, []string{"plain", "nodump", "nofs"}, names(reg.Entries(nil)))
	assert.Equal(t, []string{"plain", "nofs"}, names(reg.Entries(VisibleInDump)))
	assert.Equal(t, []string{"plain", "nodump"}, names(reg.Entries(VisibleInFS)))
}

func TestEntry_SameMountSerialized(t *testing.T) {
	ctx := context.Background()
	reg := New(2)
	_, err := reg.MountOrAttach(ctx, targetFor("k", &fakeBackend{}))
	require.NoError(t, err)
	e, _ := reg.Lookup("fake_0")

	var inside, maxInside atomic.Int32
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			return e.Do(ctx, func(context.Context, vfs.Backend) error {
				n := inside.Add(1)
				for {
					m := maxInside.Load()
					if n <= m || maxInside.CompareAndSwap(m, n) {
						break
					}
				}
				time.Sleep(2 * time.Millisecond)
				inside.Add(-1)
				return nil
			})
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), maxInside.Load())
}
