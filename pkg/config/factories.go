package config

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/dittomount/internal/ratelimiter"
	httpfs "github.com/marmos91/dittomount/pkg/backend/http"
	"github.com/marmos91/dittomount/pkg/backend/native"
	"github.com/marmos91/dittomount/pkg/backend/s3"
	"github.com/marmos91/dittomount/pkg/backend/tree"
	"github.com/marmos91/dittomount/pkg/backend/zip"
	"github.com/marmos91/dittomount/pkg/cache"
	"github.com/marmos91/dittomount/pkg/source"
	"github.com/marmos91/dittomount/pkg/vfs"
	"github.com/mitchellh/mapstructure"
)

// backendEnv carries what a factory shares with its siblings: the cache
// tuning and the optional metrics sinks.
type backendEnv struct {
	cacheOpts []cache.Option
	s3Metrics s3.Metrics
}

// backendFactory builds an unmounted backend for one configured mount.
type backendFactory func(m MountConfig, env backendEnv) (vfs.Backend, error)

var backendFactories = map[string]backendFactory{
	"memory": createMemoryBackend,
	"badger": createBadgerBackend,
	"native": createNativeBackend,
	"zip":    createZipBackend,
	"s3":     createS3Backend,
	"http":   createHTTPBackend,
}

// CreateBackend creates the backend for m based on its Type.
//
// The backend is not mounted: factories only decode and validate
// configuration, so a mount that is never touched never opens a database,
// a file or a connection.
//
// Supported types:
//   - "memory": in-memory tree (options: max_bytes, max_files)
//   - "badger": BadgerDB-backed tree (options: db_path, in_memory, block_cache_size_mb, max_bytes, max_files)
//   - "native": host directory at url (options: create)
//   - "zip": read-only archive at url, a path or an http(s) URL (options: parts)
//   - "s3": bucket at url "s3://bucket/prefix"; user/pass are the access key pair
//     (options: region, endpoint, force_path_style, max_retries, max_requests_per_second)
//   - "http": read-only files below a base url (options: max_requests_per_second)
//
// mr may be nil; its cache and S3 collectors are attached when present.
func CreateBackend(m MountConfig, cacheCfg CacheConfig, mr *MetricsResult) (vfs.Backend, error) {
	factory, ok := backendFactories[m.Type]
	if !ok {
		return nil, fmt.Errorf("unknown backend type: %q", m.Type)
	}
	cacheOpts, err := CacheOptions(cacheCfg)
	if err != nil {
		return nil, err
	}
	env := backendEnv{cacheOpts: cacheOpts}
	if mr != nil {
		env.cacheOpts = append(env.cacheOpts, cache.WithMetrics(mr.Cache))
		env.s3Metrics = mr.S3
	}
	return factory(m, env)
}

// CacheOptions converts the cache section into cache options.
func CacheOptions(cfg CacheConfig) ([]cache.Option, error) {
	size, err := chunkSize(cfg)
	if err != nil {
		return nil, err
	}
	return []cache.Option{cache.WithChunkSize(size), cache.WithChunks(cfg.Chunks)}, nil
}

// decodeOptions decodes a backend options map into out. Durations accept
// "30s" strings, slices accept comma-separated strings, and unsigned sizes
// accept human-readable byte counts ("64MiB").
func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			stringToByteSizeHook,
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to create options decoder: %w", err)
	}
	return decoder.Decode(options)
}

func stringToByteSizeHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Uint64 {
		return data, nil
	}
	return humanize.ParseBytes(data.(string))
}

func createMemoryBackend(m MountConfig, _ backendEnv) (vfs.Backend, error) {
	var cfg tree.Config
	if err := decodeOptions(m.Options, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode memory backend config: %w", err)
	}
	return tree.NewMemory(cfg), nil
}

func createBadgerBackend(m MountConfig, _ backendEnv) (vfs.Backend, error) {
	var opts struct {
		tree.Config       `mapstructure:",squash"`
		tree.BadgerConfig `mapstructure:",squash"`
	}
	if err := decodeOptions(m.Options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode badger backend config: %w", err)
	}
	if opts.DBPath == "" && !opts.InMemory {
		return nil, fmt.Errorf("badger backend: db_path is required")
	}
	return tree.NewBadger(opts.BadgerConfig, opts.Config), nil
}

func createNativeBackend(m MountConfig, env backendEnv) (vfs.Backend, error) {
	var cfg native.Config
	if err := decodeOptions(m.Options, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode native backend config: %w", err)
	}
	cfg.Root = strings.TrimPrefix(m.URL, "file://")

	b, err := native.New(cfg, env.cacheOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create native backend: %w", err)
	}
	return b, nil
}

func createZipBackend(m MountConfig, env backendEnv) (vfs.Backend, error) {
	var cfg zip.Config
	if err := decodeOptions(m.Options, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode zip backend config: %w", err)
	}

	if isHTTPURL(m.URL) {
		if len(cfg.Parts) > 0 {
			return nil, fmt.Errorf("zip backend: parts are only supported for local archives")
		}
		limiter, err := decodeLimiter(m.Options)
		if err != nil {
			return nil, err
		}
		return zip.New(zip.HTTPOpener(m.URL, source.HTTPOptions{
			Client:  &http.Client{Timeout: m.Timeout},
			User:    m.User,
			Pass:    m.Pass,
			Limiter: limiter,
		}), env.cacheOpts...), nil
	}

	cfg.Path = strings.TrimPrefix(m.URL, "file://")
	if cfg.Path == "" && len(cfg.Parts) == 0 {
		return nil, fmt.Errorf("zip backend: url or parts is required")
	}
	return zip.New(zip.FileOpener(cfg), env.cacheOpts...), nil
}

func createS3Backend(m MountConfig, env backendEnv) (vfs.Backend, error) {
	var cfg s3.Config
	if err := decodeOptions(m.Options, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode s3 backend config: %w", err)
	}

	bucket, prefix, err := s3.ParseURL(m.URL)
	if err != nil {
		return nil, fmt.Errorf("s3 backend: %w", err)
	}
	cfg.Bucket = bucket
	cfg.Prefix = prefix
	if m.User != "" {
		cfg.AccessKeyID = m.User
		cfg.SecretAccessKey = m.Pass
	}
	if m.Timeout > 0 {
		cfg.Timeout = m.Timeout
	}
	if m.Port != nil {
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("s3 backend: port requires options.endpoint")
		}
		if cfg.Endpoint, err = withPort(cfg.Endpoint, *m.Port); err != nil {
			return nil, fmt.Errorf("s3 backend: %w", err)
		}
	}

	b, err := s3.New(cfg, s3.Instrument(nil, env.s3Metrics), env.cacheOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 backend: %w", err)
	}
	return b, nil
}

func createHTTPBackend(m MountConfig, env backendEnv) (vfs.Backend, error) {
	var cfg httpfs.Config
	if err := decodeOptions(m.Options, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode http backend config: %w", err)
	}
	cfg.URL = m.URL
	cfg.User = m.User
	cfg.Pass = m.Pass
	cfg.Port = m.PortOr(0)
	cfg.Timeout = m.Timeout

	b, err := httpfs.New(cfg, env.cacheOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create http backend: %w", err)
	}
	return b, nil
}

func decodeLimiter(options map[string]any) (*ratelimiter.RateLimiter, error) {
	var opts struct {
		MaxRequestsPerSecond uint `mapstructure:"max_requests_per_second"`
	}
	if err := decodeOptions(options, &opts); err != nil {
		return nil, fmt.Errorf("failed to decode rate limit: %w", err)
	}
	return ratelimiter.NewPerSecond(opts.MaxRequestsPerSecond), nil
}

func isHTTPURL(raw string) bool {
	return strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://")
}

func withPort(endpoint string, port int) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid endpoint %q", endpoint)
	}
	u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(port))
	return u.String(), nil
}
