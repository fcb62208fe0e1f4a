package gitclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-github/v57/github"

	"github.com/johnnynv/issuesync/pkg/logger"
	"github.com/johnnynv/issuesync/pkg/types"
)

// apiCall performs one GitHub request. It must be safe to invoke again.
type apiCall func(ctx context.Context) (*github.Response, error)

// newBackOff returns a fresh policy: RetryBackoff, doubling, capped at
// RetryAttempts total attempts. BackOff values are stateful so every call
// gets its own.
func (c *GitHubClient) newBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.config.RetryBackoff
	eb.Multiplier = 2
	eb.RandomizationFactor = 0
	eb.MaxInterval = 5 * time.Minute
	eb.MaxElapsedTime = 0
	eb.Reset()

	attempts := c.config.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithMaxRetries(eb, uint64(attempts-1))
}

// do runs call under the rate limiter, per-call timeout and retry policy
func (c *GitHubClient) do(ctx context.Context, operation, resource string, call apiCall) error {
	attempt := 0
	op := func() error {
		attempt++
		if err := c.rateLimiter.Wait(ctx); err != nil {
			var exceeded *types.RateLimitExceededError
			if errors.As(err, &exceeded) {
				return backoff.Permanent(err)
			}
			return backoff.Permanent(&types.TransientNetworkError{Operation: operation, Err: err})
		}

		callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()

		resp, err := call(callCtx)
		c.recordRate(resp)
		if err == nil {
			return nil
		}

		classified := classifyError(ctx, operation, resource, resp, err)
		if types.IsRetryableError(classified) && ctx.Err() == nil {
			c.logger.WithFields(logger.Fields{
				"operation": operation,
				"attempt":   attempt,
				"max":       c.config.RetryAttempts,
			}).WithError(classified).Warn("Retryable GitHub API failure")
			return classified
		}
		return backoff.Permanent(classified)
	}

	return backoff.Retry(op, backoff.WithContext(c.newBackOff(), ctx))
}

// recordRate feeds response headers into the shared limiter
func (c *GitHubClient) recordRate(resp *github.Response) {
	if resp == nil || resp.Response == nil {
		return
	}
	if resp.Rate.Limit == 0 && resp.Header.Get("X-RateLimit-Limit") == "" {
		return
	}

	snapshot := types.RateLimitSnapshot{
		Limit:     resp.Rate.Limit,
		Remaining: resp.Rate.Remaining,
		Used:      resp.Rate.Limit - resp.Rate.Remaining,
	}
	if used, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Used")); err == nil {
		snapshot.Used = used
	}
	if !resp.Rate.Reset.IsZero() {
		snapshot.ResetEpoch = resp.Rate.Reset.Unix()
	}
	c.rateLimiter.Update(snapshot)
}

// classifyError maps go-github and transport errors onto the error taxonomy
func classifyError(parent context.Context, operation, resource string, resp *github.Response, err error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return &types.RateLimitExceededError{ResetTime: rateErr.Rate.Reset.Time, Remaining: rateErr.Rate.Remaining}
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return &types.TransientNetworkError{Operation: operation, StatusCode: http.StatusForbidden, Err: err}
	}

	var errResp *github.ErrorResponse
	if errors.As(err, &errResp) && errResp.Response != nil {
		status := errResp.Response.StatusCode
		switch {
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return &types.AuthError{Message: errResp.Message}
		case status == http.StatusNotFound || status == http.StatusGone:
			return &types.NotFoundError{Resource: operation, ID: resource}
		case status == http.StatusTooManyRequests:
			return &types.TransientNetworkError{Operation: operation, StatusCode: status, Err: err}
		case status >= 500:
			return &types.TransientNetworkError{Operation: operation, StatusCode: status, Err: err}
		default:
			return &types.ValidationError{StatusCode: status, Message: errResp.Message}
		}
	}

	// The parent context ending is not a transient condition; the per-call
	// timeout is.
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &types.TransientNetworkError{Operation: operation, Err: err}
	}

	var netErr net.Error
	var urlErr *url.Error
	if errors.As(err, &netErr) || errors.As(err, &urlErr) {
		return &types.TransientNetworkError{Operation: operation, Err: err}
	}

	if resp != nil && resp.Response != nil && resp.StatusCode >= 500 {
		return &types.TransientNetworkError{Operation: operation, StatusCode: resp.StatusCode, Err: err}
	}
	return fmt.Errorf("%s: %w", operation, err)
}
