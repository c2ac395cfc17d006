// Package http mounts a tree of files served over HTTP(S) read-only.
//
// A path below the mount maps to the base URL joined with the escaped path.
// The server must report Content-Length on HEAD and honour byte ranges on
// GET; reads go through a chunk cache so small sequential reads become a
// few large ranged requests. There is no portable way to list a directory
// over plain HTTP, so directories other than the root cannot be browsed.
package http

import (
	"context"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/internal/ratelimiter"
	"github.com/marmos91/dittomount/pkg/cache"
	"github.com/marmos91/dittomount/pkg/source"
	"github.com/marmos91/dittomount/pkg/vfs"
)

// Config describes the remote tree.
type Config struct {
	// URL is the base URL, e.g. "https://mirror.example.com/roms".
	URL string `mapstructure:"url"`

	User string `mapstructure:"user"`
	Pass string `mapstructure:"pass"`

	// Port overrides the port in URL when non-zero.
	Port int `mapstructure:"port"`

	// Timeout bounds each request. Zero means no limit.
	Timeout time.Duration `mapstructure:"timeout"`

	// MaxRequestsPerSecond throttles requests. Zero means unlimited.
	MaxRequestsPerSecond uint `mapstructure:"max_requests_per_second"`
}

// Backend serves files below one base URL.
type Backend struct {
	base      *url.URL
	cfg       Config
	cacheOpts []cache.Option
	client    *http.Client
	limiter   *ratelimiter.RateLimiter
	mounted   time.Time
}

// New validates cfg and creates an unmounted backend.
func New(cfg Config, cacheOpts ...cache.Option) (*Backend, error) {
	base, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("http backend: parse %q: %v: %w", cfg.URL, err, vfs.ErrInvalidArgument)
	}
	if base.Scheme != "http" && base.Scheme != "https" || base.Host == "" {
		return nil, fmt.Errorf("http backend: %q is not an http(s) URL: %w", cfg.URL, vfs.ErrInvalidArgument)
	}
	if cfg.Port != 0 {
		base.Host = net.JoinHostPort(base.Hostname(), strconv.Itoa(cfg.Port))
	}
	base.Path = strings.TrimSuffix(base.Path, "/")
	base.RawQuery, base.Fragment = "", ""

	return &Backend{
		base:      base,
		cfg:       cfg,
		cacheOpts: cacheOpts,
		limiter:   ratelimiter.NewPerSecond(cfg.MaxRequestsPerSecond),
	}, nil
}

// URLFor returns the URL serving path.
func (b *Backend) URLFor(path string) string {
	u := *b.base
	u.Path = b.base.Path + path
	return u.String()
}

// Mount probes the base URL. Servers that refuse HEAD on a collection
// (403, 404, 405) are accepted; only transport failures fail the mount.
func (b *Backend) Mount(ctx context.Context) error {
	if b.client != nil {
		return nil
	}
	client := &http.Client{Timeout: b.cfg.Timeout}

	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, b.base.String(), nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", b.base, vfs.ErrInvalidArgument)
	}
	if b.cfg.User != "" {
		req.SetBasicAuth(b.cfg.User, b.cfg.Pass)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %v: %w", b.base, err, vfs.ErrIO)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("probe %s: %w", b.base, source.StatusError(resp.StatusCode))
	}

	b.client = client
	b.mounted = time.Now()
	logger.Info("HTTP mount ready: %s (status %d)", b.base, resp.StatusCode)
	return nil
}

func (b *Backend) Close() error {
	if b.client != nil {
		b.client.CloseIdleConnections()
		b.client = nil
	}
	return nil
}

func (b *Backend) open(ctx context.Context, path string) (*source.HTTP, error) {
	if b.client == nil {
		return nil, fmt.Errorf("http backend is not mounted: %w", vfs.ErrIO)
	}
	for _, part := range strings.Split(path, "/") {
		if part == ".." {
			return nil, fmt.Errorf("path %s escapes the base URL: %w", path, vfs.ErrInvalidArgument)
		}
	}
	return source.OpenHTTP(ctx, b.URLFor(path), source.HTTPOptions{
		Client:  b.client,
		User:    b.cfg.User,
		Pass:    b.cfg.Pass,
		Limiter: b.limiter,
	})
}

func (b *Backend) rootStat() vfs.Stat {
	return vfs.Stat{
		Mode:  fs.ModeDir | 0o555,
		Nlink: 2,
		Atime: b.mounted,
		Mtime: b.mounted,
		Ctime: b.mounted,
	}
}

func (b *Backend) fileStat(size int64) vfs.Stat {
	return vfs.Stat{
		Mode:  0o444,
		Size:  size,
		Nlink: 1,
		Atime: b.mounted,
		Mtime: b.mounted,
		Ctime: b.mounted,
	}
}

func (b *Backend) Lstat(ctx context.Context, path string) (vfs.Stat, error) {
	if path == "/" {
		if b.client == nil {
			return vfs.Stat{}, fmt.Errorf("http backend is not mounted: %w", vfs.ErrIO)
		}
		return b.rootStat(), nil
	}
	src, err := b.open(ctx, path)
	if err != nil {
		return vfs.Stat{}, err
	}
	return b.fileStat(src.Size()), nil
}

func (b *Backend) Open(ctx context.Context, path string, flags vfs.OpenFlags, _ fs.FileMode) (vfs.File, error) {
	if flags.Mutates() {
		return nil, fmt.Errorf("open %s for writing: %w", path, vfs.ErrPermission)
	}
	if path == "/" {
		return nil, fmt.Errorf("open %s: %w", path, vfs.ErrIsDir)
	}
	src, err := b.open(ctx, path)
	if err != nil {
		return nil, err
	}
	st := b.fileStat(src.Size())
	return source.NewHandle(cache.New(src, b.cacheOpts...), st, true), nil
}

func (b *Backend) OpenDir(_ context.Context, path string) (vfs.Dir, error) {
	return nil, fmt.Errorf("list %s over http: %w", path, vfs.ErrUnsupported)
}

func (b *Backend) StatFS(context.Context, string) (vfs.StatVFS, error) {
	if b.client == nil {
		return vfs.StatVFS{}, fmt.Errorf("http backend is not mounted: %w", vfs.ErrIO)
	}
	return vfs.StatVFS{BlockSize: 4096, FragmentSize: 4096, NameMax: vfs.NameMax, ReadOnly: true}, nil
}

var (
	_ vfs.Backend  = (*Backend)(nil)
	_ vfs.StatFSer = (*Backend)(nil)
)
