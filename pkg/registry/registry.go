package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/pkg/vfs"
	"golang.org/x/sync/errgroup"
)

// DefaultCapacity is the number of mount slots when none is configured.
const DefaultCapacity = 32

// Factory constructs an unmounted backend. It must not perform I/O that can
// be deferred to Backend.Mount.
type Factory func(cfg vfs.MountConfig) (vfs.Backend, error)

// Target describes a mount request.
type Target struct {
	// Key identifies the mounted thing (a device path, a container file, a
	// URL). Requests with the same key share one mount.
	Key string

	// Kind prefixes generated mount names ("<kind>_<slot>").
	Kind string

	Config vfs.MountConfig
	New    Factory

	// Eager mounts the backend before the entry is committed, so a backend
	// that fails to mount never appears in the registry. Container backends
	// use this to reject unreadable files up front.
	Eager bool
}

// DeviceTable is notified when mounts appear and disappear. The file call
// adapter implements it to route "<name>:/..." paths.
//
// RegisterDevice is called with the registry lock held and must not call
// into the backend. UnregisterDevice is called without the registry lock.
type DeviceTable interface {
	RegisterDevice(e *Entry) error
	UnregisterDevice(e *Entry)
}

// Registry is a fixed-capacity table of reference-counted mounts.
//
// Each mount occupies one slot for its whole life; slot indices are stable
// and are reused only after the mount is destroyed. Mounting a key that is
// already mounted attaches to the existing entry and bumps its reference
// count; the backend is destroyed when the last reference is dropped.
//
// Example usage:
//
//	reg := registry.New(registry.DefaultCapacity, registry.WithDeviceTable(router))
//	path, err := reg.MountOrAttach(ctx, registry.Target{
//	    Key:  "/sd/games/pack.zip",
//	    Kind: "zip",
//	    New:  zipfs.Factory,
//	})
//	defer reg.Unmount(path)
//
// Thread safety:
// All methods are safe for concurrent use. The registry lock is never held
// across a backend call.
type Registry struct {
	mu    sync.Mutex
	slots []*Entry
	table DeviceTable
}

// Option configures a Registry.
type Option func(*Registry)

// WithDeviceTable sets the table notified of mount changes.
func WithDeviceTable(t DeviceTable) Option {
	return func(r *Registry) { r.table = t }
}

// New creates a registry with capacity slots.
func New(capacity int, opts ...Option) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	r := &Registry{slots: make([]*Entry, capacity)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Capacity returns the number of slots.
func (r *Registry) Capacity() int { return len(r.slots) }

// MountOrAttach returns the mount path for t.Key, creating the mount if the
// key is not mounted yet.
//
// Returns an error if:
//   - the target is malformed (vfs.ErrInvalidArgument)
//   - every slot is in use (vfs.ErrResourceExhausted)
//   - another mount already uses the configured name (vfs.ErrExists)
//   - the factory, an eager mount or the device table fails
//
// A failed request leaves no entry behind and frees its slot.
func (r *Registry) MountOrAttach(ctx context.Context, t Target) (string, error) {
	if err := validateTarget(t); err != nil {
		return "", err
	}

	r.mu.Lock()
	if e := r.findByKey(t.Key); e != nil {
		if e.pending {
			e.waiters++
			r.mu.Unlock()
			<-e.ready
			if e.err != nil {
				return "", e.err
			}
			return e.MountPath(), nil
		}
		e.refCount++
		refs := e.refCount
		r.mu.Unlock()
		logger.Debug("Attached to mount %s (key=%s refs=%d)", e.name, e.key, refs)
		return e.MountPath(), nil
	}

	slot := r.freeSlot()
	if slot < 0 {
		r.mu.Unlock()
		return "", fmt.Errorf("mount %s: all %d slots in use: %w", t.Key, len(r.slots), vfs.ErrResourceExhausted)
	}
	name := t.Config.Name
	if name == "" {
		name = fmt.Sprintf("%s_%d", t.Kind, slot)
	}
	if r.nameTaken(name) {
		r.mu.Unlock()
		return "", fmt.Errorf("mount name %q already in use: %w", name, vfs.ErrExists)
	}

	e := &Entry{
		key:     t.Key,
		kind:    t.Kind,
		name:    name,
		slot:    slot,
		config:  t.Config,
		pending: true,
		ready:   make(chan struct{}),
	}
	r.slots[slot] = e
	r.mu.Unlock()

	backend, err := r.construct(ctx, e, t)

	r.mu.Lock()
	if err == nil {
		e.backend = backend
		e.created = time.Now()
		if r.table != nil {
			err = r.table.RegisterDevice(e)
		}
	}
	if err != nil {
		r.slots[slot] = nil
		e.err = err
		e.pending = false
		close(e.ready)
		r.mu.Unlock()
		if backend != nil {
			if cerr := backend.Close(); cerr != nil {
				logger.Warn("Failed to close backend for %s after failed mount: %v", name, cerr)
			}
		}
		logger.Warn("Mount of %s (%s) failed: %v", t.Key, t.Kind, err)
		return "", err
	}
	e.refCount = 1 + e.waiters
	e.pending = false
	close(e.ready)
	r.mu.Unlock()

	logger.Info("Mounted %s at %s (kind=%s slot=%d)", t.Key, e.MountPath(), t.Kind, slot)
	return e.MountPath(), nil
}

func (r *Registry) construct(ctx context.Context, e *Entry, t Target) (vfs.Backend, error) {
	backend, err := t.New(t.Config)
	if err != nil {
		return nil, fmt.Errorf("create %s backend for %s: %w", t.Kind, t.Key, err)
	}
	if backend == nil {
		return nil, fmt.Errorf("create %s backend for %s: factory returned nil: %w", t.Kind, t.Key, vfs.ErrInvalidArgument)
	}
	if !t.Eager {
		return backend, nil
	}

	e.backend = backend
	if err := e.mount(ctx); err != nil {
		e.backend = nil
		return backend, fmt.Errorf("mount %s: %w", t.Key, err)
	}
	return backend, nil
}

func validateTarget(t Target) error {
	switch {
	case t.Key == "":
		return fmt.Errorf("mount target has no key: %w", vfs.ErrInvalidArgument)
	case t.New == nil:
		return fmt.Errorf("mount target %s has no factory: %w", t.Key, vfs.ErrInvalidArgument)
	case t.Config.Name == "" && t.Kind == "":
		return fmt.Errorf("mount target %s needs a kind or a name: %w", t.Key, vfs.ErrInvalidArgument)
	case strings.ContainsAny(t.Config.Name+t.Kind, ":/"):
		return fmt.Errorf("mount name %q contains ':' or '/': %w", t.Config.Name+t.Kind, vfs.ErrInvalidArgument)
	}
	return nil
}

// Unmount drops one reference to the mount at path ("name", "name:" or
// "name:/"). When the last reference goes the slot is freed, the device is
// unregistered and the backend is destroyed; the backend's teardown error
// is returned. Unmounting an unknown path is a no-op.
func (r *Registry) Unmount(path string) error {
	name := strings.TrimSuffix(strings.TrimSuffix(path, "/"), ":")

	r.mu.Lock()
	e := r.findByName(name)
	if e == nil {
		r.mu.Unlock()
		return nil
	}
	e.refCount--
	if e.refCount > 0 {
		refs := e.refCount
		r.mu.Unlock()
		logger.Debug("Detached from mount %s (refs=%d)", name, refs)
		return nil
	}
	r.slots[e.slot] = nil
	r.mu.Unlock()

	return r.teardown(e)
}

// UnmountAll destroys every mount regardless of reference counts. Teardown
// failures are logged, not returned.
func (r *Registry) UnmountAll() {
	r.mu.Lock()
	var doomed []*Entry
	for i, e := range r.slots {
		if e == nil || e.pending {
			continue
		}
		doomed = append(doomed, e)
		r.slots[i] = nil
	}
	r.mu.Unlock()

	var g errgroup.Group
	for _, e := range doomed {
		g.Go(func() error {
			if err := r.teardown(e); err != nil {
				logger.Error("Failed to tear down mount %s: %v", e.name, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Registry) teardown(e *Entry) error {
	if r.table != nil {
		r.table.UnregisterDevice(e)
	}
	err := e.destroy()
	if err != nil {
		err = fmt.Errorf("close %s: %w", e.name, err)
	} else {
		logger.Info("Unmounted %s (key=%s)", e.MountPath(), e.key)
	}
	return err
}

// Lookup returns the committed mount with the given name.
func (r *Registry) Lookup(name string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.findByName(name)
	return e, e != nil
}

// RefCount returns the number of references held on the named mount, or 0
// if it does not exist.
func (r *Registry) RefCount(name string) uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.findByName(name); e != nil {
		return e.refCount
	}
	return 0
}

// Entries returns the committed mounts accepted by filter (all when nil),
// ordered by slot.
func (r *Registry) Entries(filter func(*Entry) bool) []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Entry, 0, len(r.slots))
	for _, e := range r.slots {
		if e == nil || e.pending {
			continue
		}
		if filter == nil || filter(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].slot < out[j].slot })
	return out
}

// Count returns the number of committed mounts.
func (r *Registry) Count() int {
	return len(r.Entries(nil))
}

func (r *Registry) findByKey(key string) *Entry {
	for _, e := range r.slots {
		if e != nil && e.key == key {
			return e
		}
	}
	return nil
}

func (r *Registry) findByName(name string) *Entry {
	for _, e := range r.slots {
		if e != nil && !e.pending && e.name == name {
			return e
		}
	}
	return nil
}

// nameTaken also considers pending entries so a name cannot be claimed
// twice.
func (r *Registry) nameTaken(name string) bool {
	for _, e := range r.slots {
		if e != nil && e.name == name {
			return true
		}
	}
	return false
}

func (r *Registry) freeSlot() int {
	for i, e := range r.slots {
		if e == nil {
			return i
		}
	}
	return -1
}
