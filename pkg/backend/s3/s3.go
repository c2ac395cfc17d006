// Package s3 mounts an S3 bucket (or a prefix of one) as a filesystem.
//
// Object keys mirror paths below the configured prefix. Directories are
// implied by key prefixes; Mkdir materializes one with a zero-length
// "dir/" marker object so empty directories survive. Reads go through
// ranged GetObject requests behind a chunk cache; writes are buffered in
// the handle and uploaded with PutObject on Sync and Close.
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dittomount/internal/logger"
	"github.com/marmos91/dittomount/internal/ratelimiter"
	"github.com/marmos91/dittomount/pkg/cache"
	"github.com/marmos91/dittomount/pkg/source"
	"github.com/marmos91/dittomount/pkg/vfs"
)

// Config describes the bucket and how to reach it.
type Config struct {
	Bucket string `mapstructure:"bucket"`

	// Prefix roots the mount below a key prefix, e.g. "team/data".
	Prefix string `mapstructure:"prefix"`

	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	MaxRetries      int    `mapstructure:"max_retries"`

	// MaxRequestsPerSecond throttles API calls. Zero means unlimited.
	MaxRequestsPerSecond uint `mapstructure:"max_requests_per_second"`

	// Timeout bounds each HTTP request. Zero means no limit.
	Timeout time.Duration `mapstructure:"timeout"`
}

// ParseURL splits "s3://bucket/prefix" into bucket and prefix.
func ParseURL(raw string) (bucket, prefix string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("parse %q: %v: %w", raw, err, vfs.ErrInvalidArgument)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("%q is not an s3://bucket/prefix URL: %w", raw, vfs.ErrInvalidArgument)
	}
	return u.Host, strings.Trim(u.Path, "/"), nil
}

// Backend serves one bucket prefix.
type Backend struct {
	cfg       Config
	newClient ClientFactory
	cacheOpts []cache.Option
	prefix    string

	client  API
	limiter *ratelimiter.RateLimiter
}

// New creates an unmounted backend. newClient defaults to NewClient.
func New(cfg Config, newClient ClientFactory, cacheOpts ...cache.Option) (*Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 backend: bucket is required: %w", vfs.ErrInvalidArgument)
	}
	if newClient == nil {
		newClient = NewClient
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Backend{
		cfg:       cfg,
		newClient: newClient,
		cacheOpts: cacheOpts,
		prefix:    prefix,
		limiter:   ratelimiter.NewPerSecond(cfg.MaxRequestsPerSecond),
	}, nil
}

// Config returns the configuration the backend was created with.
func (b *Backend) Config() Config { return b.cfg }

// Mount builds the client and verifies the bucket is reachable.
func (b *Backend) Mount(ctx context.Context) error {
	if b.client != nil {
		return nil
	}
	client, err := b.newClient(ctx, b.cfg)
	if err != nil {
		return err
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return err
	}
	if _, err := client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(b.cfg.Bucket)}); err != nil {
		return fmt.Errorf("failed to access bucket %q: %w", b.cfg.Bucket, source.S3Error(err))
	}
	b.client = client
	logger.Info("S3 mount ready: bucket=%s, prefix=%s", b.cfg.Bucket, b.prefix)
	return nil
}

func (b *Backend) Close() error {
	b.client = nil
	return nil
}

func (b *Backend) ready(ctx context.Context) error {
	if b.client == nil {
		return fmt.Errorf("s3 backend is not mounted: %w", vfs.ErrIO)
	}
	return b.limiter.Wait(ctx)
}

// fileKey maps a canonical path to its object key.
func (b *Backend) fileKey(path string) string {
	return b.prefix + strings.TrimPrefix(path, "/")
}

// dirKey maps a directory path to the key prefix of its children.
func (b *Backend) dirKey(path string) string {
	if path == "/" {
		return b.prefix
	}
	return b.fileKey(path) + "/"
}

// head returns the object at path, or an error wrapping vfs.ErrNotFound.
func (b *Backend) head(ctx context.Context, path string) (*s3.HeadObjectOutput, error) {
	if path == "/" {
		return nil, fmt.Errorf("%s: %w", path, vfs.ErrNotFound)
	}
	if err := b.ready(ctx); err != nil {
		return nil, err
	}
	out, err := b.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(b.fileKey(path)),
	})
	if err != nil {
		return nil, fmt.Errorf("head %s: %w", path, source.S3Error(err))
	}
	return out, nil
}

// isDir reports whether any object lives below path.
func (b *Backend) isDir(ctx context.Context, path string) (bool, error) {
	if path == "/" {
		return true, nil
	}
	if err := b.ready(ctx); err != nil {
		return false, err
	}
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.cfg.Bucket),
		Prefix:  aws.String(b.dirKey(path)),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, fmt.Errorf("list %s: %w", path, source.S3Error(err))
	}
	return len(out.Contents) > 0 || len(out.CommonPrefixes) > 0, nil
}

func fileStat(size *int64, mtime *time.Time) vfs.Stat {
	st := vfs.Stat{Mode: 0o644, Nlink: 1}
	if size != nil {
		st.Size = *size
	}
	if mtime != nil {
		st.Atime, st.Mtime, st.Ctime = *mtime, *mtime, *mtime
	}
	return st
}

func dirStat() vfs.Stat {
	return vfs.Stat{Mode: fs.ModeDir | 0o755, Nlink: 2}
}

func (b *Backend) Lstat(ctx context.Context, path string) (vfs.Stat, error) {
	out, err := b.head(ctx, path)
	if err == nil {
		return fileStat(out.ContentLength, out.LastModified), nil
	}
	if !errors.Is(err, vfs.ErrNotFound) {
		return vfs.Stat{}, err
	}
	dir, derr := b.isDir(ctx, path)
	if derr != nil {
		return vfs.Stat{}, derr
	}
	if !dir {
		return vfs.Stat{}, err
	}
	return dirStat(), nil
}

// checkParent verifies the parent of path is a directory.
func (b *Backend) checkParent(ctx context.Context, path string) error {
	parent, name := vfs.Split(path)
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("invalid name %q: %w", name, vfs.ErrInvalidArgument)
	}
	if _, err := b.head(ctx, parent); err == nil {
		return fmt.Errorf("parent %s: %w", parent, vfs.ErrNotDir)
	}
	ok, err := b.isDir(ctx, parent)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("parent %s: %w", parent, vfs.ErrNotFound)
	}
	return nil
}

func (b *Backend) Open(ctx context.Context, path string, flags vfs.OpenFlags, _ fs.FileMode) (vfs.File, error) {
	out, err := b.head(ctx, path)
	exists := err == nil
	if err != nil && !errors.Is(err, vfs.ErrNotFound) {
		return nil, err
	}
	if !exists {
		dir, derr := b.isDir(ctx, path)
		if derr != nil {
			return nil, derr
		}
		if dir {
			return nil, fmt.Errorf("open %s: %w", path, vfs.ErrIsDir)
		}
	}

	if !flags.Mutates() {
		if !exists {
			return nil, err
		}
		obj := source.NewS3Object(b.client, b.cfg.Bucket, b.fileKey(path), aws.ToInt64(out.ContentLength), b.limiter)
		return source.NewHandle(cache.New(obj, b.cacheOpts...), fileStat(out.ContentLength, out.LastModified), true), nil
	}

	switch {
	case exists && flags.Create() && flags.Exclusive():
		return nil, fmt.Errorf("create %s: %w", path, vfs.ErrExists)
	case !exists && !flags.Create():
		return nil, err
	case !exists:
		if err := b.checkParent(ctx, path); err != nil {
			return nil, err
		}
	}

	f := &file{b: b, path: path, flags: flags, dirty: !exists, mtime: time.Now()}
	if exists {
		f.mtime = aws.ToTime(out.LastModified)
		if flags.Truncate() && flags.Writable() {
			f.dirty = aws.ToInt64(out.ContentLength) > 0
		} else if f.data, err = b.download(ctx, path, aws.ToInt64(out.ContentLength)); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (b *Backend) download(ctx context.Context, path string, size int64) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	obj := source.NewS3Object(b.client, b.cfg.Bucket, b.fileKey(path), size, b.limiter)
	data := make([]byte, size)
	if _, err := obj.ReadAt(ctx, data, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return data, nil
}

func (b *Backend) upload(ctx context.Context, key string, data []byte) error {
	if err := b.ready(ctx); err != nil {
		return err
	}
	_, err := b.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(b.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, source.S3Error(err))
	}
	return nil
}

func (b *Backend) remove(ctx context.Context, key string) error {
	if err := b.ready(ctx); err != nil {
		return err
	}
	_, err := b.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, source.S3Error(err))
	}
	return nil
}

func (b *Backend) OpenDir(ctx context.Context, path string) (vfs.Dir, error) {
	if _, err := b.head(ctx, path); err == nil {
		return nil, fmt.Errorf("opendir %s: %w", path, vfs.ErrNotDir)
	}
	ok, err := b.isDir(ctx, path)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("opendir %s: %w", path, vfs.ErrNotFound)
	}
	d := &dir{b: b, path: path}
	if err := d.Reset(ctx); err != nil {
		return nil, err
	}
	return d, nil
}

// list returns the direct children of the directory at path.
func (b *Backend) list(ctx context.Context, path string) ([]vfs.DirEntry, error) {
	prefix := b.dirKey(path)
	paginator := s3.NewListObjectsV2Paginator(b.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.cfg.Bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})

	var entries []vfs.DirEntry
	for paginator.HasMorePages() {
		if err := b.ready(ctx); err != nil {
			return nil, err
		}
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", path, source.S3Error(err))
		}
		for _, cp := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(cp.Prefix), prefix), "/")
			if name != "" {
				entries = append(entries, vfs.DirEntry{Name: name, Stat: dirStat()})
			}
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), prefix)
			if name == "" {
				continue // the directory's own marker
			}
			entries = append(entries, vfs.DirEntry{Name: name, Stat: fileStat(obj.Size, obj.LastModified)})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (b *Backend) Unlink(ctx context.Context, path string) error {
	if _, err := b.head(ctx, path); err != nil {
		if dir, derr := b.isDir(ctx, path); derr == nil && dir {
			return fmt.Errorf("unlink %s: %w", path, vfs.ErrIsDir)
		}
		return err
	}
	return b.remove(ctx, b.fileKey(path))
}

func (b *Backend) Mkdir(ctx context.Context, path string, _ fs.FileMode) error {
	if _, err := b.Lstat(ctx, path); err == nil {
		return fmt.Errorf("mkdir %s: %w", path, vfs.ErrExists)
	} else if !errors.Is(err, vfs.ErrNotFound) {
		return err
	}
	if err := b.checkParent(ctx, path); err != nil {
		return err
	}
	return b.upload(ctx, b.dirKey(path), nil)
}

func (b *Backend) Rmdir(ctx context.Context, path string) error {
	if path == "/" {
		return fmt.Errorf("rmdir /: %w", vfs.ErrPermission)
	}
	if _, err := b.head(ctx, path); err == nil {
		return fmt.Errorf("rmdir %s: %w", path, vfs.ErrNotDir)
	}
	if err := b.ready(ctx); err != nil {
		return err
	}
	marker := b.dirKey(path)
	out, err := b.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.cfg.Bucket),
		Prefix:  aws.String(marker),
		MaxKeys: aws.Int32(2),
	})
	if err != nil {
		return fmt.Errorf("list %s: %w", path, source.S3Error(err))
	}
	if len(out.Contents) == 0 {
		return fmt.Errorf("rmdir %s: %w", path, vfs.ErrNotFound)
	}
	for _, obj := range out.Contents {
		if aws.ToString(obj.Key) != marker {
			return fmt.Errorf("rmdir %s: %w", path, vfs.ErrNotEmpty)
		}
	}
	return b.remove(ctx, marker)
}

// Rename moves a file with CopyObject followed by DeleteObject. Directories
// cannot be renamed.
func (b *Backend) Rename(ctx context.Context, oldPath, newPath string) error {
	if oldPath == newPath {
		return nil
	}
	if _, err := b.head(ctx, oldPath); err != nil {
		if dir, derr := b.isDir(ctx, oldPath); derr == nil && dir {
			return fmt.Errorf("rename directory %s: %w", oldPath, vfs.ErrUnsupported)
		}
		return err
	}
	if dir, err := b.isDir(ctx, newPath); err != nil {
		return err
	} else if dir {
		return fmt.Errorf("rename %s to %s: %w", oldPath, newPath, vfs.ErrIsDir)
	}
	if err := b.checkParent(ctx, newPath); err != nil {
		return err
	}

	if err := b.ready(ctx); err != nil {
		return err
	}
	_, err := b.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(b.cfg.Bucket),
		Key:        aws.String(b.fileKey(newPath)),
		CopySource: aws.String(url.PathEscape(b.cfg.Bucket + "/" + b.fileKey(oldPath))),
	})
	if err != nil {
		return fmt.Errorf("copy %s to %s: %w", oldPath, newPath, source.S3Error(err))
	}
	return b.remove(ctx, b.fileKey(oldPath))
}

// StatFS reports an unbounded bucket; S3 has no meaningful capacity.
func (b *Backend) StatFS(ctx context.Context, _ string) (vfs.StatVFS, error) {
	if b.client == nil {
		return vfs.StatVFS{}, fmt.Errorf("s3 backend is not mounted: %w", vfs.ErrIO)
	}
	const bs = 4096
	const blocks = 1 << 40 / bs
	return vfs.StatVFS{
		BlockSize:    bs,
		FragmentSize: bs,
		Blocks:       blocks,
		BlocksFree:   blocks,
		BlocksAvail:  blocks,
		Files:        1 << 32,
		FilesFree:    1 << 32,
		NameMax:      vfs.NameMax,
	}, nil
}

type dir struct {
	b       *Backend
	path    string
	entries []vfs.DirEntry
	next    int
}

func (d *dir) Next(context.Context) (vfs.DirEntry, error) {
	if d.next >= len(d.entries) {
		return vfs.DirEntry{}, io.EOF
	}
	e := d.entries[d.next]
	d.next++
	return e, nil
}

func (d *dir) Reset(ctx context.Context) error {
	entries, err := d.b.list(ctx, d.path)
	if err != nil {
		return err
	}
	d.entries = entries
	d.next = 0
	return nil
}

func (d *dir) Close() error { return nil }

var (
	_ vfs.Backend    = (*Backend)(nil)
	_ vfs.Unlinker   = (*Backend)(nil)
	_ vfs.Renamer    = (*Backend)(nil)
	_ vfs.DirMaker   = (*Backend)(nil)
	_ vfs.DirRemover = (*Backend)(nil)
	_ vfs.StatFSer   = (*Backend)(nil)
)
