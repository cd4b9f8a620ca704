// Package store persists the search cache: normalized searches
// (job_searches), deduplicated listings (cached_jobs) and the junction table
// linking them (job_search_results).
//
// Two drivers implement the same contract: Postgres for deployments and
// SQLite for single-node use and tests.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"jobmate/search-service/internal/config"
	"jobmate/search-service/internal/db"
	"jobmate/search-service/internal/model"
)

// Store is the full cache persistence contract.
type Store interface {
	// NormalizeQuery runs the normalize_search_query routine on q.
	NormalizeQuery(ctx context.Context, q string) (string, error)
	// FindFreshSearch returns the most recent search with key updated after
	// since, or (nil, nil) when there is none.
	FindFreshSearch(ctx context.Context, key string, since time.Time) (*model.SearchRecord, error)
	// CachedListings returns up to limit listings linked to searchID,
	// ordered by relevance score then position.
	CachedListings(ctx context.Context, searchID string, limit int) ([]model.Listing, error)
	// UpsertSearch inserts or refreshes the search identified by rec.SearchKey
	// and returns its id.
	UpsertSearch(ctx context.Context, rec model.SearchRecord, now time.Time) (string, error)
	// UpsertListings inserts or refreshes listings by URL and returns their
	// ids in input order.
	UpsertListings(ctx context.Context, listings []model.Listing, seenAt time.Time) ([]string, error)
	// LinkResults makes jobIDs (in order) the result set of searchID,
	// stamping new links with now.
	LinkResults(ctx context.Context, searchID string, jobIDs []string, now time.Time) error
	// Prune deletes searches last updated before searchesBefore and flags
	// listings last seen before listingsBefore as expired.
	Prune(ctx context.Context, searchesBefore, listingsBefore time.Time) (model.PruneStats, error)
	// Migrate creates the cache tables and routines if they do not exist.
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

var (
	_ Store = (*Postgres)(nil)
	_ Store = (*SQLite)(nil)
)

// Open connects to the store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		pool, err := db.NewPostgresPool(ctx, cfg.URL, 0)
		if err != nil {
			return nil, err
		}
		return NewPostgres(pool), nil
	case config.DriverSQLite:
		conn, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return NewSQLite(conn), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// uniqueLinks drops repeated job ids, keeping the first position of each.
func uniqueLinks(jobIDs []string) []string {
	seen := make(map[string]struct{}, len(jobIDs))
	out := make([]string, 0, len(jobIDs))
	for _, id := range jobIDs {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func encodeList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeList(raw string) []string {
	out := []string{}
	if raw == "" {
		return out
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return []string{}
	}
	return out
}

// listingColumns holds the encoded highlight lists of one listing.
type listingColumns struct {
	requirements     string
	responsibilities string
	benefits         string
}

func encodeHighlights(l model.Listing) (listingColumns, error) {
	var (
		c   listingColumns
		err error
	)
	if c.requirements, err = encodeList(l.Requirements); err != nil {
		return c, fmt.Errorf("encode requirements: %w", err)
	}
	if c.responsibilities, err = encodeList(l.Responsibilities); err != nil {
		return c, fmt.Errorf("encode responsibilities: %w", err)
	}
	if c.benefits, err = encodeList(l.Benefits); err != nil {
		return c, fmt.Errorf("encode benefits: %w", err)
	}
	return c, nil
}
