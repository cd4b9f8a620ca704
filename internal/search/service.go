// Package search implements the cached job-search pipeline:
// normalize → build key → lookup → (hit) return cached | (miss) fetch
// upstream → best-effort cache write → return fresh.
//
// It is transport-agnostic: used by the HTTP handler, the gRPC server and
// the CLI.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"jobmate/search-service/internal/events"
	"jobmate/search-service/internal/model"
)

// Store is the persistence the pipeline needs.
type Store interface {
	QueryNormalizer
	FindFreshSearch(ctx context.Context, key string, since time.Time) (*model.SearchRecord, error)
	CachedListings(ctx context.Context, searchID string, limit int) ([]model.Listing, error)
	UpsertSearch(ctx context.Context, rec model.SearchRecord, now time.Time) (string, error)
	UpsertListings(ctx context.Context, listings []model.Listing, seenAt time.Time) ([]string, error)
	LinkResults(ctx context.Context, searchID string, jobIDs []string, now time.Time) error
}

// Fetcher retrieves listings from the upstream provider.
type Fetcher interface {
	Configured() bool
	PagesFor(resultsPerPage int) int
	Fetch(ctx context.Context, p model.SearchParams, pages int) (model.FetchResult, error)
}

// Publisher announces freshly cached searches.
type Publisher interface {
	Publish(ctx context.Context, ev events.SearchCached) error
}

// Options tunes a Service. Zero values take the defaults shown.
type Options struct {
	TTL                   time.Duration    // 24h
	DefaultResultsPerPage int              // 50
	MaxResultsPerPage     int              // 100
	Clock                 func() time.Time // time.Now
	Logger                *slog.Logger
}

// ─── Service ─────────────────────────────────────────────────────────────────

// Service runs the search pipeline.
type Service struct {
	store     Store
	fetcher   Fetcher
	publisher Publisher

	ttl            time.Duration
	defaultResults int
	maxResults     int
	now            func() time.Time
	logger         *slog.Logger

	flight singleflight.Group
}

// NewService returns a configured Service. pub may be nil.
func NewService(st Store, f Fetcher, pub Publisher, opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.DefaultResultsPerPage <= 0 {
		opts.DefaultResultsPerPage = 50
	}
	if opts.MaxResultsPerPage <= 0 {
		opts.MaxResultsPerPage = 100
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if pub == nil {
		pub = events.Nop{}
	}
	return &Service{
		store:          st,
		fetcher:        f,
		publisher:      pub,
		ttl:            opts.TTL,
		defaultResults: opts.DefaultResultsPerPage,
		maxResults:     opts.MaxResultsPerPage,
		now:            opts.Clock,
		logger:         opts.Logger.With("component", "search"),
	}
}

// freshResult is the outcome of one upstream fetch plus cache write, shared
// by every caller collapsed onto the same flight.
type freshResult struct {
	fetch        model.FetchResult
	listings     []model.Listing
	searchID     string
	fetchedAt    time.Time
	cacheWritten bool
	writeErrs    []string
}

// Search answers req from the cache when a fresh entry exists, otherwise from
// the upstream provider. Errors are ErrMissingAPIKey, *ValidationError or
// *UpstreamError; cache failures only show up in DebugInfo.
func (s *Service) Search(ctx context.Context, req model.SearchRequest) (*model.SearchResponse, error) {
	start := s.now()

	if !s.fetcher.Configured() {
		return nil, ErrMissingAPIKey
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, &ValidationError{Msg: "query is required"}
	}
	limit := s.resultsPerPage(req.ResultsPerPage)

	dbg := model.DebugInfo{
		RequestID:    RequestIDFrom(ctx),
		ForceRefresh: req.ForceRefresh,
		RemoteSearch: strings.Contains(strings.ToLower(req.Location), "remote"),
	}
	log := s.logger.With("request_id", dbg.RequestID)

	normalized, err := NormalizeOrFallback(ctx, s.store, req.Query)
	if err != nil {
		log.Warn("normalize failed, using local fallback", "err", err)
		dbg.NormalizeFallback = true
	}
	key := BuildKey(normalized, req.Location, req.DatePosted, req.JobType, req.ExperienceLevel)
	dbg.NormalizedQuery = normalized
	dbg.CacheKey = key

	// ── Lookup ────────────────────────────────────────
	if !req.ForceRefresh {
		rec, listings, err := s.lookup(ctx, key, limit)
		switch {
		case err != nil:
			log.Warn("cache lookup failed, treating as miss", "key", key, "err", err)
			dbg.LookupError = err.Error()
		case rec != nil:
			dbg.CacheHit = true
			dbg.SearchID = rec.ID
			dbg.DurationMS = s.now().Sub(start).Milliseconds()
			log.Info("cache hit", "key", key, "results", rec.TotalResults)
			return &model.SearchResponse{
				Jobs:         listings,
				FromCache:    true,
				LastUpdated:  rec.LastUpdatedAt.UTC().Format(time.RFC3339),
				TotalResults: rec.TotalResults,
				DebugInfo:    dbg,
			}, nil
		}
	}

	// ── Miss: fetch + best-effort write ───────────────
	pages := s.fetcher.PagesFor(limit)
	params := model.SearchParams{
		Query:           req.Query,
		Location:        req.Location,
		DatePosted:      req.DatePosted,
		JobType:         req.JobType,
		ExperienceLevel: req.ExperienceLevel,
	}
	rec := model.SearchRecord{
		SearchKey:       key,
		Query:           normalized,
		Location:        strings.TrimSpace(req.Location),
		DatePosted:      strings.TrimSpace(req.DatePosted),
		JobType:         strings.TrimSpace(req.JobType),
		ExperienceLevel: strings.TrimSpace(req.ExperienceLevel),
	}

	// Identical concurrent misses share one fetch; the shared work must not
	// die with whichever caller started it.
	flightKey := key + "#" + strconv.Itoa(pages)
	v, err, shared := s.flight.Do(flightKey, func() (any, error) {
		return s.fetchAndStore(context.WithoutCancel(ctx), log, params, pages, rec)
	})
	if err != nil {
		log.Error("upstream fetch failed", "key", key, "err", err)
		return nil, err
	}
	fr := v.(*freshResult)
	if shared {
		log.Debug("joined in-flight fetch", "key", key)
	}

	dbg.SearchID = fr.searchID
	dbg.PagesRequested = pages
	dbg.PagesSucceeded = fr.fetch.PagesSucceeded
	dbg.PagesFailed = fr.fetch.PagesFailed
	dbg.RawResults = fr.fetch.RawResults
	dbg.FilteredOut = fr.fetch.FilteredOut
	dbg.RemoteSearch = fr.fetch.RemoteSearch
	dbg.CacheWritten = fr.cacheWritten
	dbg.CacheWriteErrors = fr.writeErrs
	dbg.DurationMS = s.now().Sub(start).Milliseconds()

	jobs := fr.listings
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return &model.SearchResponse{
		Jobs:         jobs,
		FromCache:    false,
		LastUpdated:  fr.fetchedAt.UTC().Format(time.RFC3339),
		TotalResults: len(fr.listings),
		DebugInfo:    dbg,
	}, nil
}

func (s *Service) resultsPerPage(n int) int {
	switch {
	case n <= 0:
		return s.defaultResults
	case n > s.maxResults:
		return s.maxResults
	default:
		return n
	}
}

// lookup returns the fresh record for key and its listings. (nil, nil, nil)
// is a plain miss; an error is a miss the caller should report.
func (s *Service) lookup(ctx context.Context, key string, limit int) (*model.SearchRecord, []model.Listing, error) {
	since := s.now().Add(-s.ttl)
	rec, err := s.store.FindFreshSearch(ctx, key, since)
	if err != nil {
		return nil, nil, fmt.Errorf("find search: %w", err)
	}
	if rec == nil {
		return nil, nil, nil
	}
	// Never serve a record outside the freshness window.
	if !rec.LastUpdatedAt.After(since) {
		return nil, nil, nil
	}
	if rec.TotalResults == 0 {
		return rec, []model.Listing{}, nil
	}

	listings, err := s.store.CachedListings(ctx, rec.ID, limit)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve listings: %w", err)
	}
	if len(listings) == 0 {
		return nil, nil, errLinksLost
	}
	return rec, listings, nil
}

func (s *Service) fetchAndStore(
	ctx context.Context,
	log *slog.Logger,
	params model.SearchParams,
	pages int,
	rec model.SearchRecord,
) (*freshResult, error) {
	res, err := s.fetcher.Fetch(ctx, params, pages)
	if err != nil {
		return nil, &UpstreamError{Err: err}
	}

	fr := &freshResult{
		fetch:     res,
		listings:  res.Listings,
		fetchedAt: s.now(),
	}
	if fr.listings == nil {
		fr.listings = []model.Listing{}
	}

	if !res.FirstPageOK {
		log.Warn("first upstream page failed, returning results without caching",
			"key", rec.SearchKey, "pages_failed", res.PagesFailed)
		return fr, nil
	}

	rec.TotalResults = len(fr.listings)
	w := s.writeCache(ctx, log, rec, fr.listings, fr.fetchedAt)
	fr.searchID = w.searchID
	fr.listings = w.listings
	fr.writeErrs = w.errs
	fr.cacheWritten = len(w.errs) == 0

	if fr.cacheWritten {
		ev := events.SearchCached{
			SearchID:     w.searchID,
			SearchKey:    rec.SearchKey,
			TotalResults: rec.TotalResults,
			UpdatedAt:    fr.fetchedAt.UTC(),
			RequestID:    RequestIDFrom(ctx),
		}
		if err := s.publisher.Publish(ctx, ev); err != nil {
			log.Warn("publish search cached event failed", "err", err)
		}
	}
	return fr, nil
}
