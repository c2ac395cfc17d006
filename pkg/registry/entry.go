package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/marmos91/dittomount/pkg/vfs"
)

// ErrUnmounted is returned by Entry.Do once the entry has been torn down.
var ErrUnmounted = fmt.Errorf("mount has been removed: %w", vfs.ErrNotFound)

// Entry is one live mount: a backend instance, its stable name, and the
// mutex that serializes every call into the backend.
type Entry struct {
	key     string
	kind    string
	name    string
	slot    int
	config  vfs.MountConfig
	backend vfs.Backend
	created time.Time

	// mu is the mount lock. It guards backend, mounted and closed.
	mu      sync.Mutex
	mounted bool
	closed  bool

	// Guarded by the registry lock.
	refCount uint32
	pending  bool
	waiters  uint32
	ready    chan struct{}
	err      error
}

// Name returns the mount name, e.g. "zip_3".
func (e *Entry) Name() string { return e.name }

// MountPath returns the device-qualified root, e.g. "zip_3:/".
func (e *Entry) MountPath() string { return e.name + ":/" }

// Key returns the identity the mount was created for.
func (e *Entry) Key() string { return e.key }

// Kind returns the backend kind, e.g. "zip".
func (e *Entry) Kind() string { return e.kind }

// Slot returns the registry slot the entry occupies.
func (e *Entry) Slot() int { return e.slot }

// Config returns the immutable mount configuration.
func (e *Entry) Config() vfs.MountConfig { return e.config }

// Created returns when the entry was committed.
func (e *Entry) Created() time.Time { return e.created }

// Do runs fn with the mount lock held, mounting the backend first if it is
// not mounted yet. A mount failure is reported as an I/O error and fn is not
// called; the next Do retries the mount.
func (e *Entry) Do(ctx context.Context, fn func(ctx context.Context, b vfs.Backend) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrUnmounted
	}
	if !e.mounted {
		if err := e.backend.Mount(ctx); err != nil {
			return fmt.Errorf("mount %s: %v: %w", e.name, err, vfs.ErrIO)
		}
		e.mounted = true
	}
	return fn(ctx, e.backend)
}

// WithLock runs fn with the mount lock held without mounting. fn is not
// called once the entry has been torn down.
func (e *Entry) WithLock(fn func(b vfs.Backend)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	fn(e.backend)
}

// Mounted reports whether the backend has been mounted successfully.
func (e *Entry) Mounted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mounted
}

func (e *Entry) mount(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.backend.Mount(ctx); err != nil {
		return err
	}
	e.mounted = true
	return nil
}

func (e *Entry) destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.mounted = false
	return e.backend.Close()
}

// VisibleInDump reports whether the mount appears on dump surfaces.
func VisibleInDump(e *Entry) bool { return !e.config.DumpHidden }

// VisibleInFS reports whether the mount appears on filesystem browsing
// surfaces.
func VisibleInFS(e *Entry) bool { return !e.config.FsHidden }
