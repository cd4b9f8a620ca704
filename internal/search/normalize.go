package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// QueryNormalizer runs the database-side normalize_search_query routine.
type QueryNormalizer interface {
	NormalizeQuery(ctx context.Context, q string) (string, error)
}

// Normalize returns the database-normalized form of query.
func Normalize(ctx context.Context, n QueryNormalizer, query string) (string, error) {
	out, err := n.NormalizeQuery(ctx, query)
	if err != nil {
		return "", fmt.Errorf("normalize query: %w", err)
	}
	if out == "" && strings.TrimSpace(query) != "" {
		return "", errors.New("normalize query: routine returned an empty string")
	}
	return out, nil
}

// FallbackNormalize is the local lowercase+trim normalization.
func FallbackNormalize(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// NormalizeOrFallback always returns a usable normalized query. When the
// database routine fails, it returns the local fallback together with the
// error that forced it.
func NormalizeOrFallback(ctx context.Context, n QueryNormalizer, query string) (string, error) {
	out, err := Normalize(ctx, n, query)
	if err != nil {
		return FallbackNormalize(query), err
	}
	return out, nil
}
