package gitclient

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/johnnynv/issuesync/pkg/types"
)

// DefaultSafetyMargin is the number of requests kept in reserve
const DefaultSafetyMargin = 10

// RateLimiter defines interface for rate limiting
type RateLimiter interface {
	// Wait blocks until the request may proceed. It paces requests and
	// holds callers while the quota is below the safety margin.
	Wait(ctx context.Context) error

	// Allow returns true if the request can proceed immediately
	Allow() bool

	// Snapshot returns the last quota reported by GitHub
	Snapshot() types.RateLimitSnapshot

	// Sufficient reports whether n more requests fit above the margin
	Sufficient(n int) bool

	// Update records the quota from an API response
	Update(snapshot types.RateLimitSnapshot)

	// Margin returns the configured safety margin
	Margin() int
}

// RateLimiterConfig tunes a GitHubRateLimiter
type RateLimiterConfig struct {
	Margin          int
	RequestsPerHour int
	Burst           int
}

// GitHubRateLimiter implements rate limiting for GitHub API
type GitHubRateLimiter struct {
	limiter  *rate.Limiter
	mu       sync.RWMutex
	snapshot types.RateLimitSnapshot
	known    bool
	margin   int
	normal   rate.Limit
	now      func() time.Time
}

// NewGitHubRateLimiter creates a GitHub rate limiter
func NewGitHubRateLimiter(config RateLimiterConfig) *GitHubRateLimiter {
	if config.Margin <= 0 {
		config.Margin = DefaultSafetyMargin
	}
	if config.Burst <= 0 {
		config.Burst = 10
	}
	// 4000 requests/hour leaves headroom below GitHub's 5000
	normal := rate.Limit(4000.0 / 3600.0)
	if config.RequestsPerHour > 0 {
		normal = rate.Limit(float64(config.RequestsPerHour) / 3600.0)
	}

	return &GitHubRateLimiter{
		limiter: rate.NewLimiter(normal, config.Burst),
		margin:  config.Margin,
		normal:  normal,
		now:     time.Now,
	}
}

// Wait blocks until the rate limiter allows the request
func (r *GitHubRateLimiter) Wait(ctx context.Context) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}

	r.mu.RLock()
	snapshot, known := r.snapshot, r.known
	r.mu.RUnlock()

	if !known || snapshot.Remaining >= r.margin {
		return nil
	}

	reset := snapshot.ResetTime()
	wait := reset.Sub(r.now())
	if wait <= 0 {
		return nil
	}

	exceeded := &types.RateLimitExceededError{ResetTime: reset, Remaining: snapshot.Remaining}
	if deadline, ok := ctx.Deadline(); ok && deadline.Before(reset) {
		return exceeded
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return exceeded
	case <-timer.C:
		return nil
	}
}

// Allow returns true if the request can proceed immediately
func (r *GitHubRateLimiter) Allow() bool {
	return r.Sufficient(1) && r.limiter.Allow()
}

// Snapshot returns the last quota reported by GitHub
func (r *GitHubRateLimiter) Snapshot() types.RateLimitSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// Margin returns the configured safety margin
func (r *GitHubRateLimiter) Margin() int {
	return r.margin
}

// Sufficient reports whether n more requests fit above the margin. An
// unknown quota, or one whose reset time has passed, counts as sufficient.
func (r *GitHubRateLimiter) Sufficient(n int) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.known {
		return true
	}
	if r.snapshot.ResetEpoch != 0 && !r.now().Before(r.snapshot.ResetTime()) {
		return true
	}
	return r.snapshot.Remaining-n >= r.margin-1
}

// Update records the quota from an API response
func (r *GitHubRateLimiter) Update(snapshot types.RateLimitSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.snapshot = snapshot
	r.known = true

	// Adjust limiter based on remaining requests
	until := snapshot.ResetTime().Sub(r.now())
	if snapshot.Remaining < 100 && until > 10*time.Minute {
		r.limiter.SetLimit(rate.Limit(0.1)) // 1 request per 10 seconds
	} else if snapshot.Remaining < 1000 {
		r.limiter.SetLimit(r.normal / 2)
	} else {
		r.limiter.SetLimit(r.normal)
	}
}

// NoOpRateLimiter is a no-operation rate limiter for testing
type NoOpRateLimiter struct {
	mu       sync.Mutex
	snapshot types.RateLimitSnapshot
}

// NewNoOpRateLimiter creates a no-op rate limiter
func NewNoOpRateLimiter() *NoOpRateLimiter {
	return &NoOpRateLimiter{}
}

// Wait does nothing for no-op limiter
func (r *NoOpRateLimiter) Wait(ctx context.Context) error {
	return nil
}

// Allow always returns true for no-op limiter
func (r *NoOpRateLimiter) Allow() bool {
	return true
}

// Snapshot returns whatever was last recorded
func (r *NoOpRateLimiter) Snapshot() types.RateLimitSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot
}

// Sufficient always returns true for no-op limiter
func (r *NoOpRateLimiter) Sufficient(n int) bool {
	return true
}

// Update records the snapshot without enforcing it
func (r *NoOpRateLimiter) Update(snapshot types.RateLimitSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshot = snapshot
}

// Margin is zero for no-op limiter
func (r *NoOpRateLimiter) Margin() int {
	return 0
}
