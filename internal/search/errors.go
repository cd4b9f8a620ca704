package search

import "errors"

// ErrMissingAPIKey is returned before any work when the upstream provider
// has no API key configured.
var ErrMissingAPIKey = errors.New("SERPAPI_API_KEY is not configured")

// ValidationError wraps a user-facing validation message.
type ValidationError struct{ Msg string }

func (e *ValidationError) Error() string { return e.Msg }

// UpstreamError reports that no upstream page could be fetched.
type UpstreamError struct{ Err error }

func (e *UpstreamError) Error() string { return "upstream fetch failed: " + e.Err.Error() }
func (e *UpstreamError) Unwrap() error { return e.Err }

// errLinksLost marks a fresh search record whose listings no longer resolve.
var errLinksLost = errors.New("search record has results but no linked listings")
