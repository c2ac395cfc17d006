package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/marmos91/dittomount/internal/ratelimiter"
	"github.com/marmos91/dittomount/pkg/vfs"
)

// HTTPOptions configures an HTTP source.
type HTTPOptions struct {
	// Client performs the requests. Its Timeout bounds each request.
	Client *http.Client

	// User and Pass enable basic authentication when User is non-empty.
	User string
	Pass string

	// Limiter throttles requests when set.
	Limiter *ratelimiter.RateLimiter
}

// HTTP is a Source over a remote object served with byte-range support.
type HTTP struct {
	url  string
	opts HTTPOptions
	size int64
}

// OpenHTTP probes url with HEAD to learn its size.
func OpenHTTP(ctx context.Context, url string, opts HTTPOptions) (*HTTP, error) {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	h := &HTTP{url: url, opts: opts}

	resp, err := h.do(ctx, http.MethodHead, "")
	if err != nil {
		return nil, err
	}
	_ = resp.Body.Close()
	if resp.ContentLength < 0 {
		return nil, fmt.Errorf("HEAD %s: server did not report a length: %w", url, vfs.ErrUnsupported)
	}
	h.size = resp.ContentLength
	return h, nil
}

func (h *HTTP) Size() int64 { return h.size }

func (h *HTTP) ReadAt(ctx context.Context, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read at %d: %w", off, vfs.ErrInvalidArgument)
	}
	if off >= h.size {
		return 0, io.EOF
	}
	want := int64(len(p))
	if off+want > h.size {
		want = h.size - off
	}
	if want == 0 {
		return 0, nil
	}

	rng := "bytes=" + strconv.FormatInt(off, 10) + "-" + strconv.FormatInt(off+want-1, 10)
	resp, err := h.do(ctx, http.MethodGet, rng)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusPartialContent && off != 0 {
		return 0, fmt.Errorf("GET %s: range request ignored (status %d): %w", h.url, resp.StatusCode, vfs.ErrUnsupported)
	}

	n, err := io.ReadFull(resp.Body, p[:want])
	if err != nil {
		return n, fmt.Errorf("GET %s: %w", h.url, errors.Join(vfs.ErrIO, err))
	}
	if int64(len(p)) > want {
		return n, io.EOF
	}
	return n, nil
}

func (h *HTTP) do(ctx context.Context, method, rng string) (*http.Response, error) {
	if err := h.opts.Limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, h.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", h.url, vfs.ErrInvalidArgument)
	}
	if rng != "" {
		req.Header.Set("Range", rng)
	}
	if h.opts.User != "" {
		req.SetBasicAuth(h.opts.User, h.opts.Pass)
	}

	resp, err := h.opts.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, h.url, errors.Join(vfs.ErrIO, err))
	}
	if err := StatusError(resp.StatusCode); err != nil {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%s %s: %w", method, h.url, err)
	}
	return resp, nil
}

// StatusError maps an HTTP status to a vfs error. Success statuses map to
// nil.
func StatusError(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound || status == http.StatusGone:
		return vfs.ErrNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return vfs.ErrPermission
	case status == http.StatusRequestedRangeNotSatisfiable:
		return vfs.ErrInvalidArgument
	case status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented:
		return vfs.ErrUnsupported
	default:
		return fmt.Errorf("status %d: %w", status, vfs.ErrIO)
	}
}
