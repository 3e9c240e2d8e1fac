package fetch

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// githubRateLimit is the authenticated hourly quota assumed at start.
	githubRateLimit = 5000

	// proactiveRate throttles proactively to ~1.2 req/sec (4320/hr),
	// staying under the quota even on long runs.
	proactiveRate = 1.2

	// minBuffer is the remaining-request floor before waiting for reset.
	minBuffer = 100

	headerRateLimit     = "X-RateLimit-Limit"
	headerRateRemaining = "X-RateLimit-Remaining"
	headerRateReset     = "X-RateLimit-Reset"
)

// RateLimiter combines proactive token-bucket throttling with reactive
// tracking of the provider's rate limit headers.
type RateLimiter struct {
	mu        sync.Mutex
	remaining int
	limit     int
	resetTime time.Time
	bucket    *rate.Limiter
}

// NewRateLimiter creates a rate limiter assuming a full quota.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		remaining: githubRateLimit,
		limit:     githubRateLimit,
		bucket:    rate.NewLimiter(rate.Limit(proactiveRate), 1),
	}
}

// Wait blocks until it is safe to make a request: first the token
// bucket, then the tracked API quota.
func (r *RateLimiter) Wait(ctx context.Context) error {
	if err := r.bucket.Wait(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	remaining := r.remaining
	resetTime := r.resetTime
	r.mu.Unlock()

	if remaining < minBuffer && time.Now().Before(resetTime) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Until(resetTime)):
		}
	}

	return nil
}

// UpdateFromResponse updates quota state from response headers.
func (r *RateLimiter) UpdateFromResponse(resp *http.Response) {
	if resp == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if remaining := resp.Header.Get(headerRateRemaining); remaining != "" {
		if val, err := strconv.Atoi(remaining); err == nil {
			r.remaining = val
		}
	}
	if limit := resp.Header.Get(headerRateLimit); limit != "" {
		if val, err := strconv.Atoi(limit); err == nil {
			r.limit = val
		}
	}
	if reset := resp.Header.Get(headerRateReset); reset != "" {
		if val, err := strconv.ParseInt(reset, 10, 64); err == nil {
			r.resetTime = time.Unix(val, 0)
		}
	}
}

// Remaining returns the last observed remaining-request count.
func (r *RateLimiter) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.remaining
}
