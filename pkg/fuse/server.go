// Package fuse exposes the router's devices as a FUSE filesystem.
//
// The mountpoint's root lists every device that is not hidden from
// filesystem browsing; below each device name the tree mirrors the
// backend. Every kernel request becomes one device call, so the per-mount
// lock, read-only enforcement and errno translation all apply unchanged.
package fuse

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	gofuse "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/pkg/adapter"
)

// Config configures the FUSE front end.
type Config struct {
	// Mountpoint is the directory where the filesystem is mounted. It is
	// created if it does not exist.
	Mountpoint string `mapstructure:"mountpoint" yaml:"mountpoint"`

	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool `mapstructure:"allow_other" yaml:"allow_other"`

	// AttrTimeout is how long the kernel caches attributes and entries.
	AttrTimeout time.Duration `mapstructure:"attr_timeout" yaml:"attr_timeout"`

	// Debug logs every FUSE request.
	Debug bool `mapstructure:"debug" yaml:"debug"`
}

// Server is the FUSE adapter.
type Server struct {
	config Config
	router *adapter.Router

	mu       sync.Mutex
	server   *fuse.Server
	stopOnce sync.Once
}

var _ adapter.Adapter = (*Server)(nil)

// New creates a FUSE adapter. SetRouter must be called before Serve.
func New(cfg Config) *Server {
	if cfg.AttrTimeout == 0 {
		cfg.AttrTimeout = time.Second
	}
	return &Server{config: cfg}
}

func (s *Server) SetRouter(r *adapter.Router) { s.router = r }

func (s *Server) Protocol() string { return "FUSE" }

// Serve mounts the filesystem and blocks until ctx is cancelled or the
// filesystem is unmounted externally.
func (s *Server) Serve(ctx context.Context) error {
	if s.router == nil {
		return fmt.Errorf("fuse: router not set")
	}
	if s.config.Mountpoint == "" {
		return fmt.Errorf("fuse: mountpoint is required")
	}
	if err := os.MkdirAll(s.config.Mountpoint, 0o755); err != nil {
		return fmt.Errorf("creating mountpoint %s: %w", s.config.Mountpoint, err)
	}

	attrTimeout := s.config.AttrTimeout
	negativeTimeout := 100 * time.Millisecond
	server, err := gofuse.Mount(s.config.Mountpoint, &rootNode{router: s.router}, &gofuse.Options{
		EntryTimeout:    &attrTimeout,
		AttrTimeout:     &attrTimeout,
		NegativeTimeout: &negativeTimeout,
		UID:             uint32(os.Getuid()),
		GID:             uint32(os.Getgid()),
		MountOptions: fuse.MountOptions{
			FsName:     "dittomount",
			Name:       "dittomount",
			AllowOther: s.config.AllowOther,
			Debug:      s.config.Debug,
		},
	})
	if err != nil {
		return fmt.Errorf("mounting FUSE filesystem at %s: %w", s.config.Mountpoint, err)
	}

	s.mu.Lock()
	s.server = server
	s.mu.Unlock()
	logger.Info("FUSE filesystem mounted at %s", s.config.Mountpoint)

	done := make(chan struct{})
	go func() {
		server.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("FUSE filesystem at %s was unmounted", s.config.Mountpoint)
		return nil
	case <-ctx.Done():
		if err := s.Stop(context.Background()); err != nil {
			logger.Warn("FUSE unmount failed: %v", err)
		}
		<-done
		return ctx.Err()
	}
}

// Stop unmounts the filesystem. Calls after the first are no-ops.
func (s *Server) Stop(context.Context) error {
	s.mu.Lock()
	server := s.server
	s.mu.Unlock()
	if server == nil {
		return nil
	}

	var err error
	s.stopOnce.Do(func() {
		logger.Info("Unmounting FUSE filesystem at %s", s.config.Mountpoint)
		err = server.Unmount()
	})
	return err
}
