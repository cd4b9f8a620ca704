package upstream

import (
	"fmt"
	"strconv"
	"time"
)

// HTTPError wraps a non-200 provider response so retry logic can inspect it.
type HTTPError struct {
	StatusCode int
	RetryAfter time.Duration // from Retry-After header, zero if absent
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("provider returned HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("provider returned HTTP %d", e.StatusCode)
}

// APIError is reported when the provider answers 200 with an "error" field.
// SerpApi does this for "no results" as well as for real failures.
type APIError struct {
	Message string
}

func (e *APIError) Error() string {
	return "provider error: " + e.Message
}

// parseRetryAfter parses a Retry-After header given in seconds.
// Returns zero if absent or unparseable.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
