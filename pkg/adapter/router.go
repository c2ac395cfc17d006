package adapter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"syscall"

	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/pkg/registry"
	"github.com/marmos91/dittomount/pkg/vfs"
	"golang.org/x/sys/unix"
)

// Router is the device table: it maps mount names to Devices and resolves
// device-qualified paths ("<name>:/a/b") to the device that serves them.
//
// The registry notifies the router of mounts through the
// registry.DeviceTable interface.
//
// Thread safety:
// All methods are safe for concurrent use.
type Router struct {
	mu         sync.RWMutex
	devices    map[string]*Device
	maxHandles int
	metrics    Metrics
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithMaxHandles bounds the open files and directories per device.
func WithMaxHandles(n int) RouterOption {
	return func(r *Router) {
		if n > 0 {
			r.maxHandles = n
		}
	}
}

// WithMetrics sets the collector for per-device call metrics.
func WithMetrics(m Metrics) RouterOption {
	return func(r *Router) {
		if m != nil {
			r.metrics = m
		}
	}
}

// NewRouter creates an empty device table.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		devices:    make(map[string]*Device),
		maxHandles: DefaultMaxHandles,
		metrics:    noopMetrics{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

var _ registry.DeviceTable = (*Router)(nil)

// RegisterDevice adds a device for e.
func (r *Router) RegisterDevice(e *registry.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.devices[e.Name()]; exists {
		return fmt.Errorf("device %q already registered: %w", e.Name(), vfs.ErrExists)
	}
	r.devices[e.Name()] = newDevice(e, r.maxHandles, r.metrics)
	r.metrics.SetDevices(len(r.devices))
	logger.Debug("Registered device %s", e.MountPath())
	return nil
}

// UnregisterDevice removes the device for e and closes its open handles.
// A device registered under the same name for a different entry is left
// alone.
func (r *Router) UnregisterDevice(e *registry.Entry) {
	r.mu.Lock()
	d, ok := r.devices[e.Name()]
	if !ok || d.entry != e {
		r.mu.Unlock()
		return
	}
	delete(r.devices, e.Name())
	r.metrics.SetDevices(len(r.devices))
	r.mu.Unlock()

	d.shutdown()
	logger.Debug("Unregistered device %s", e.MountPath())
}

// Device resolves a mount name or a device-qualified path.
func (r *Router) Device(pathOrName string) (*Device, syscall.Errno) {
	name := pathOrName
	if n, ok := vfs.DeviceName(pathOrName); ok {
		name = n
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[name]
	if !ok {
		return nil, unix.ENODEV
	}
	return d, OK
}

// Devices returns every registered device ordered by name.
func (r *Router) Devices() []*Device {
	r.mu.RLock()
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Lstat resolves path to its device and describes it.
func (r *Router) Lstat(ctx context.Context, path string) (vfs.Stat, syscall.Errno) {
	d, errno := r.Device(path)
	if errno != OK {
		return vfs.Stat{}, errno
	}
	return d.Lstat(ctx, path)
}

// Rename moves a file within one device. Paths on different devices yield
// EXDEV.
func (r *Router) Rename(ctx context.Context, oldPath, newPath string) syscall.Errno {
	d, errno := r.Device(oldPath)
	if errno != OK {
		return errno
	}
	if name, ok := vfs.DeviceName(newPath); !ok || name != d.Name() {
		if !ok {
			return unix.EINVAL
		}
		return unix.EXDEV
	}
	return d.Rename(ctx, oldPath, newPath)
}
