package ratelimiter

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// unlimited stands in for rate.Inf, which has edge cases with bursts.
const unlimited = 1_000_000_000

// RateLimiter throttles requests to a remote source using the token bucket
// algorithm.
//
// Network backends (HTTP range reads, S3 API calls) share one limiter per
// mount so that a parser walking an archive over the network cannot flood
// the server: every request takes a token, and bursts up to the bucket size
// are served immediately.
//
// A nil *RateLimiter is valid and never blocks, so callers can hold an
// optional limiter without checking it.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a new RateLimiter with the specified rate and burst capacity.
//
// Parameters:
//   - requestsPerSecond: Maximum sustained rate (tokens added per second)
//   - burst: Maximum burst size (bucket capacity in tokens)
//
// Special cases:
//   - requestsPerSecond = 0: No rate limiting (unlimited)
//   - burst = 0: No burst allowed (only sustained rate)
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		requestsPerSecond = unlimited
		burst = requestsPerSecond
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// NewPerSecond returns a limiter allowing requestsPerSecond sustained with
// an equal burst, or nil (no limit) when requestsPerSecond is zero. It is
// how mount configuration turns "max_requests_per_second" into a limiter.
func NewPerSecond(requestsPerSecond uint) *RateLimiter {
	if requestsPerSecond == 0 {
		return nil
	}
	return New(requestsPerSecond, requestsPerSecond)
}

// Allow reports whether a request may proceed now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	if r == nil {
		return true
	}
	return r.limiter.Allow()
}

// Wait blocks until a token is available or the context is cancelled.
//
// Example:
//
//	if err := limiter.Wait(ctx); err != nil {
//	    return err
//	}
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return ctx.Err()
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait cancelled: %w", err)
	}
	return nil
}
