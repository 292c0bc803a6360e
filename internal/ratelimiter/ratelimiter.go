// Package ratelimiter throttles how fast the upload server admits new
// connections.
//
// The limiter is a token bucket (golang.org/x/time/rate): tokens refill at
// a sustained rate and the bucket capacity bounds bursts. Workers consult it
// right after accept; a connection that finds the bucket empty is closed
// before it is ever registered with the poller.
package ratelimiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter gates connection admission.
//
// A nil *RateLimiter admits everything, which lets callers skip the
// "is limiting enabled" check on the hot path.
//
// Thread safety:
// All methods are safe for concurrent use by the worker pool.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a limiter admitting perSecond connections on average with
// room for burst back-to-back admissions.
//
// perSecond == 0 disables limiting and returns nil. A burst of 0 is raised
// to perSecond so the limiter can admit at least one connection.
func New(perSecond, burst uint) *RateLimiter {
	if perSecond == 0 {
		return nil
	}
	if burst == 0 {
		burst = perSecond
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), int(burst)),
	}
}

// Allow consumes a token if one is available and reports whether the
// connection may proceed. It never blocks.
func (r *RateLimiter) Allow() bool {
	if r == nil {
		return true
	}
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if r == nil {
		return nil
	}
	return r.limiter.Wait(ctx)
}

// SetLimit changes the sustained admission rate. Existing tokens are kept.
func (r *RateLimiter) SetLimit(perSecond uint) {
	if r == nil {
		return
	}
	r.limiter.SetLimitAt(time.Now(), rate.Limit(perSecond))
}

// Tokens reports the tokens currently in the bucket. Unlimited limiters
// report +Inf.
func (r *RateLimiter) Tokens() float64 {
	if r == nil {
		return float64(rate.Inf)
	}
	return r.limiter.Tokens()
}
