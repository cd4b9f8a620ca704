package upstream

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"time"

	"jobmate/search-service/internal/model"
)

// fetchPageWithRetry fetches one page, retrying transient failures up to
// maxRetries additional times with exponential backoff.
func (c *Client) fetchPageWithRetry(ctx context.Context, p model.SearchParams, page int) ([]model.Listing, error) {
	listings, err := c.fetchPage(ctx, p, page)
	if err == nil || !isRetryable(err) {
		return listings, err
	}

	lastErr := err
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		delay := c.backoffDelay(attempt, lastErr)
		c.logger.Warn("retrying page after transient error",
			"page", page,
			"attempt", attempt,
			"max_retries", c.maxRetries,
			"delay", delay,
			"err", lastErr,
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, fmt.Errorf("retry cancelled: %w", err)
		}

		listings, err = c.fetchPage(ctx, p, page)
		if err == nil {
			return listings, nil
		}
		if !isRetryable(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

// backoffDelay computes the delay for a given attempt with ±30% jitter.
// A Retry-After from the provider takes precedence.
func (c *Client) backoffDelay(attempt int, err error) time.Duration {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		return httpErr.RetryAfter
	}

	delay := c.retryBase
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	jitter := float64(delay) * 0.3
	return time.Duration(float64(delay) + (rand.Float64()*2-1)*jitter)
}

// isRetryable reports whether err is a transient failure: 429, 5xx, or a
// transport error. Cancellation and provider-level errors are final.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}

	var decodeErr *decodeError
	return !errors.As(err, &decodeErr)
}
