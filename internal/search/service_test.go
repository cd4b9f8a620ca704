package search

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"jobmate/search-service/internal/db"
	"jobmate/search-service/internal/events"
	"jobmate/search-service/internal/model"
	"jobmate/search-service/internal/store"
)

// ─── Fakes ───────────────────────────────────────────────────────────────────

type fakeFetcher struct {
	mu         sync.Mutex
	noKey      bool
	result     model.FetchResult
	err        error
	calls      int
	lastParams model.SearchParams
	lastPages  int
	started    chan struct{} // closed on first Fetch when non-nil
	gate       chan struct{} // Fetch blocks until closed when non-nil
}

func (f *fakeFetcher) Configured() bool { return !f.noKey }

func (f *fakeFetcher) PagesFor(n int) int {
	if n <= 0 {
		return 1
	}
	return min((n+9)/10, 5)
}

func (f *fakeFetcher) Fetch(_ context.Context, p model.SearchParams, pages int) (model.FetchResult, error) {
	f.mu.Lock()
	f.calls++
	f.lastParams = p
	f.lastPages = pages
	first := f.calls == 1
	f.mu.Unlock()

	if first && f.started != nil {
		close(f.started)
	}
	if f.gate != nil {
		<-f.gate
	}
	return f.result, f.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.SearchCached
}

func (p *fakePublisher) Publish(_ context.Context, ev events.SearchCached) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

// faultyStore injects failures into an otherwise real SQLite store.
type faultyStore struct {
	*store.SQLite
	normalizeErr error
	lookupErr    error
	linkErr      error
}

func (s *faultyStore) NormalizeQuery(ctx context.Context, q string) (string, error) {
	if s.normalizeErr != nil {
		return "", s.normalizeErr
	}
	return s.SQLite.NormalizeQuery(ctx, q)
}

func (s *faultyStore) FindFreshSearch(ctx context.Context, key string, since time.Time) (*model.SearchRecord, error) {
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	return s.SQLite.FindFreshSearch(ctx, key, since)
}

func (s *faultyStore) LinkResults(ctx context.Context, searchID string, jobIDs []string, now time.Time) error {
	if s.linkErr != nil {
		return s.linkErr
	}
	return s.SQLite.LinkResults(ctx, searchID, jobIDs, now)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ─── Fixture ─────────────────────────────────────────────────────────────────

type fixture struct {
	svc     *Service
	store   *faultyStore
	fetcher *fakeFetcher
	pub     *fakePublisher
	clock   *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	conn, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "search.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	sq := store.NewSQLite(conn)
	t.Cleanup(func() { sq.Close() })
	if err := sq.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	f := &fixture{
		store:   &faultyStore{SQLite: sq},
		fetcher: &fakeFetcher{},
		pub:     &fakePublisher{},
		clock:   &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.svc = NewService(f.store, f.fetcher, f.pub, Options{
		TTL:    24 * time.Hour,
		Clock:  f.clock.Now,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return f
}

func austinListings(n int) []model.Listing {
	out := make([]model.Listing, n)
	for i := range out {
		out[i] = model.Listing{
			Title:            fmt.Sprintf("Engineer %d", i),
			Company:          "Acme",
			Location:         "Austin, TX",
			Description:      "Build things",
			URL:              fmt.Sprintf("https://jobs.example/%d", i),
			Source:           "LinkedIn",
			Requirements:     []string{"Go"},
			Responsibilities: []string{},
			Benefits:         []string{},
		}
	}
	return out
}

func okFetch(listings []model.Listing) model.FetchResult {
	return model.FetchResult{
		Listings:       listings,
		PagesAttempted: 1,
		PagesSucceeded: 1,
		FirstPageOK:    true,
		RawResults:     len(listings),
	}
}

func urls(listings []model.Listing) []string {
	out := make([]string, len(listings))
	for i, l := range listings {
		out[i] = l.URL
	}
	return out
}

// ─── Tests ───────────────────────────────────────────────────────────────────

func TestSearch_MissThenHit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fetcher.result = okFetch(austinListings(3))

	req := model.SearchRequest{Query: "  Software   Engineer ", Location: "Austin, TX"}
	first, err := f.svc.Search(ctx, req)
	if err != nil {
		t.Fatalf("first Search: %v", err)
	}
	if first.FromCache {
		t.Error("first response should not come from cache")
	}
	if first.DebugInfo.CacheKey != "software engineer|austin, tx" {
		t.Errorf("CacheKey = %q", first.DebugInfo.CacheKey)
	}
	if !first.DebugInfo.CacheWritten {
		t.Errorf("CacheWritten = false, errs = %v", first.DebugInfo.CacheWriteErrors)
	}
	if first.TotalResults != 3 || len(first.Jobs) != 3 {
		t.Errorf("total = %d jobs = %d, want 3/3", first.TotalResults, len(first.Jobs))
	}
	if first.Jobs[0].ID == "" {
		t.Error("fresh listings should carry their stored ids")
	}
	if f.fetcher.lastParams.Query != "Software   Engineer" {
		t.Errorf("upstream got %q, want the original query text", f.fetcher.lastParams.Query)
	}
	if f.fetcher.lastPages != 5 {
		t.Errorf("pages = %d, want 5 for the default 50 results", f.fetcher.lastPages)
	}

	rec, err := f.store.SQLite.FindFreshSearch(ctx, "software engineer|austin, tx", f.clock.Now().Add(-time.Hour))
	if err != nil || rec == nil {
		t.Fatalf("search record not persisted: rec=%v err=%v", rec, err)
	}
	if rec.TotalResults != 3 {
		t.Errorf("record TotalResults = %d, want 3", rec.TotalResults)
	}

	f.clock.Advance(time.Hour)
	second, err := f.svc.Search(ctx, model.SearchRequest{Query: "software engineer", Location: "austin, tx"})
	if err != nil {
		t.Fatalf("second Search: %v", err)
	}
	if !second.FromCache || !second.DebugInfo.CacheHit {
		t.Error("second response should come from cache")
	}
	if f.fetcher.callCount() != 1 {
		t.Errorf("fetch calls = %d, want 1", f.fetcher.callCount())
	}
	if got, want := strings.Join(urls(second.Jobs), ","), strings.Join(urls(first.Jobs), ","); got != want {
		t.Errorf("cached listings = %s, want %s", got, want)
	}
	if second.LastUpdated != first.LastUpdated {
		t.Errorf("LastUpdated = %s, want %s", second.LastUpdated, first.LastUpdated)
	}
	if second.DebugInfo.SearchID != first.DebugInfo.SearchID {
		t.Errorf("SearchID changed: %s vs %s", second.DebugInfo.SearchID, first.DebugInfo.SearchID)
	}

	if len(f.pub.events) != 1 || f.pub.events[0].SearchKey != "software engineer|austin, tx" {
		t.Errorf("published events = %+v", f.pub.events)
	}
}

func TestSearch_ExpiredRecordIsMiss(t *testing.T) {
	tests := []struct {
		name    string
		advance time.Duration
		wantHit bool
	}{
		{"just inside window", 24*time.Hour - time.Second, true},
		{"exactly 24h", 24 * time.Hour, false},
		{"older than 24h", 25 * time.Hour, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			f.fetcher.result = okFetch(austinListings(2))

			req := model.SearchRequest{Query: "go", Location: "Austin, TX"}
			if _, err := f.svc.Search(ctx, req); err != nil {
				t.Fatalf("seed Search: %v", err)
			}
			f.clock.Advance(tc.advance)

			resp, err := f.svc.Search(ctx, req)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if resp.FromCache != tc.wantHit {
				t.Errorf("FromCache = %v, want %v", resp.FromCache, tc.wantHit)
			}
			wantCalls := 2
			if tc.wantHit {
				wantCalls = 1
			}
			if f.fetcher.callCount() != wantCalls {
				t.Errorf("fetch calls = %d, want %d", f.fetcher.callCount(), wantCalls)
			}
		})
	}
}

func TestSearch_ForceRefreshBypassesCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fetcher.result = okFetch(austinListings(2))

	req := model.SearchRequest{Query: "go", Location: "Austin, TX"}
	if _, err := f.svc.Search(ctx, req); err != nil {
		t.Fatalf("seed Search: %v", err)
	}

	f.fetcher.result = okFetch(austinListings(4))
	req.ForceRefresh = true
	resp, err := f.svc.Search(ctx, req)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.FromCache || !resp.DebugInfo.ForceRefresh {
		t.Errorf("FromCache = %v ForceRefresh = %v", resp.FromCache, resp.DebugInfo.ForceRefresh)
	}
	if f.fetcher.callCount() != 2 {
		t.Errorf("fetch calls = %d, want 2", f.fetcher.callCount())
	}

	// The refreshed result set replaces the cached one.
	resp, err = f.svc.Search(ctx, model.SearchRequest{Query: "go", Location: "Austin, TX"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !resp.FromCache || resp.TotalResults != 4 || len(resp.Jobs) != 4 {
		t.Errorf("FromCache = %v total = %d jobs = %d, want cached 4", resp.FromCache, resp.TotalResults, len(resp.Jobs))
	}
}

func TestSearch_ZeroResultsCachedAsEmpty(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fetcher.result = okFetch(nil)

	req := model.SearchRequest{Query: "underwater basket weaving", Location: "Austin, TX"}
	resp, err := f.svc.Search(ctx, req)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.Jobs == nil || len(resp.Jobs) != 0 || resp.TotalResults != 0 {
		t.Errorf("jobs = %v total = %d, want empty non-nil slice and 0", resp.Jobs, resp.TotalResults)
	}

	rec, err := f.store.SQLite.FindFreshSearch(ctx, resp.DebugInfo.CacheKey, f.clock.Now().Add(-time.Hour))
	if err != nil || rec == nil {
		t.Fatalf("zero-result record not written: rec=%v err=%v", rec, err)
	}
	if rec.TotalResults != 0 {
		t.Errorf("TotalResults = %d, want 0", rec.TotalResults)
	}

	again, err := f.svc.Search(ctx, req)
	if err != nil {
		t.Fatalf("second Search: %v", err)
	}
	if !again.FromCache || len(again.Jobs) != 0 {
		t.Errorf("FromCache = %v jobs = %d, want cached empty result", again.FromCache, len(again.Jobs))
	}
	if f.fetcher.callCount() != 1 {
		t.Errorf("fetch calls = %d, want 1", f.fetcher.callCount())
	}
}

func TestSearch_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("missing api key", func(t *testing.T) {
		f := newFixture(t)
		f.fetcher.noKey = true
		_, err := f.svc.Search(ctx, model.SearchRequest{Query: "go"})
		if !errors.Is(err, ErrMissingAPIKey) {
			t.Errorf("err = %v, want ErrMissingAPIKey", err)
		}
		if f.fetcher.callCount() != 0 {
			t.Error("no fetch expected without an API key")
		}
	})

	t.Run("empty query", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Search(ctx, model.SearchRequest{Query: "   "})
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Errorf("err = %v, want ValidationError", err)
		}
	})

	t.Run("upstream failure", func(t *testing.T) {
		f := newFixture(t)
		f.fetcher.err = errors.New("all 5 upstream pages failed")
		resp, err := f.svc.Search(ctx, model.SearchRequest{Query: "go"})
		var ue *UpstreamError
		if !errors.As(err, &ue) {
			t.Errorf("err = %v, want UpstreamError", err)
		}
		if resp != nil {
			t.Errorf("resp = %+v, want nil", resp)
		}
	})
}

func TestSearch_FirstPageFailedNotCached(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fetcher.result = model.FetchResult{
		Listings:       austinListings(2),
		PagesAttempted: 3,
		PagesSucceeded: 2,
		PagesFailed:    1,
		FirstPageOK:    false,
	}

	resp, err := f.svc.Search(ctx, model.SearchRequest{Query: "go", Location: "Austin, TX"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Jobs) != 2 || resp.DebugInfo.CacheWritten {
		t.Errorf("jobs = %d written = %v, want 2 and not written", len(resp.Jobs), resp.DebugInfo.CacheWritten)
	}
	if resp.DebugInfo.PagesFailed != 1 {
		t.Errorf("PagesFailed = %d, want 1", resp.DebugInfo.PagesFailed)
	}

	rec, err := f.store.SQLite.FindFreshSearch(ctx, "go|austin, tx", f.clock.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("FindFreshSearch: %v", err)
	}
	if rec != nil {
		t.Errorf("partial result was cached: %+v", rec)
	}
}

func TestSearch_LookupFailureIsMiss(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fetcher.result = okFetch(austinListings(1))
	f.store.lookupErr = errors.New("connection refused")

	resp, err := f.svc.Search(ctx, model.SearchRequest{Query: "go", Location: "Austin, TX"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.FromCache {
		t.Error("lookup failure must not produce a cache hit")
	}
	if !strings.Contains(resp.DebugInfo.LookupError, "connection refused") {
		t.Errorf("LookupError = %q", resp.DebugInfo.LookupError)
	}
	if f.fetcher.callCount() != 1 {
		t.Errorf("fetch calls = %d, want 1", f.fetcher.callCount())
	}
}

func TestSearch_NormalizeFallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fetcher.result = okFetch(austinListings(1))
	f.store.normalizeErr = errors.New("rpc missing")

	resp, err := f.svc.Search(ctx, model.SearchRequest{Query: "  Go Developer ", Location: "Austin, TX"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !resp.DebugInfo.NormalizeFallback {
		t.Error("NormalizeFallback should be reported")
	}
	if resp.DebugInfo.CacheKey != "go developer|austin, tx" {
		t.Errorf("CacheKey = %q", resp.DebugInfo.CacheKey)
	}
}

func TestSearch_LinkFailureKeepsListings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fetcher.result = okFetch(austinListings(2))
	f.store.linkErr = errors.New("deadlock detected")

	req := model.SearchRequest{Query: "go", Location: "Austin, TX"}
	resp, err := f.svc.Search(ctx, req)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Jobs) != 2 {
		t.Errorf("jobs = %d, want fresh listings despite link failure", len(resp.Jobs))
	}
	if resp.DebugInfo.CacheWritten {
		t.Error("CacheWritten should be false")
	}
	if len(resp.DebugInfo.CacheWriteErrors) != 1 || !strings.Contains(resp.DebugInfo.CacheWriteErrors[0], "link results") {
		t.Errorf("CacheWriteErrors = %v", resp.DebugInfo.CacheWriteErrors)
	}
	if len(f.pub.events) != 0 {
		t.Error("no event expected for an incomplete cache write")
	}

	// Listings stay stored: a re-upsert returns the same ids.
	ids, err := f.store.SQLite.UpsertListings(ctx, austinListings(2), f.clock.Now())
	if err != nil {
		t.Fatalf("UpsertListings: %v", err)
	}
	if ids[0] != resp.Jobs[0].ID || ids[1] != resp.Jobs[1].ID {
		t.Errorf("listing ids changed: %v vs [%s %s]", ids, resp.Jobs[0].ID, resp.Jobs[1].ID)
	}

	// The record has results but no links, so the next request is a miss.
	f.store.linkErr = nil
	again, err := f.svc.Search(ctx, req)
	if err != nil {
		t.Fatalf("second Search: %v", err)
	}
	if again.FromCache {
		t.Error("record without linked listings must not be a hit")
	}
	if !strings.Contains(again.DebugInfo.LookupError, "no linked listings") {
		t.Errorf("LookupError = %q", again.DebugInfo.LookupError)
	}
}

func TestSearch_ResultsCappedAtPageSize(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fetcher.result = okFetch(austinListings(12))

	req := model.SearchRequest{Query: "go", Location: "Austin, TX", ResultsPerPage: 10}
	resp, err := f.svc.Search(ctx, req)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(resp.Jobs) != 10 || resp.TotalResults != 12 {
		t.Errorf("jobs = %d total = %d, want 10/12", len(resp.Jobs), resp.TotalResults)
	}
	if f.fetcher.lastPages != 1 {
		t.Errorf("pages = %d, want 1", f.fetcher.lastPages)
	}

	cached, err := f.svc.Search(ctx, req)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if !cached.FromCache || len(cached.Jobs) != 10 {
		t.Errorf("FromCache = %v jobs = %d, want cached 10", cached.FromCache, len(cached.Jobs))
	}
}

func TestSearch_ConcurrentMissesShareOneFetch(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.fetcher.result = okFetch(austinListings(2))
	f.fetcher.started = make(chan struct{})
	f.fetcher.gate = make(chan struct{})

	req := model.SearchRequest{Query: "go", Location: "Austin, TX"}
	var wg sync.WaitGroup
	results := make([]*model.SearchResponse, 2)
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = f.svc.Search(ctx, req)
	}()
	<-f.fetcher.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = f.svc.Search(ctx, req)
	}()
	time.Sleep(100 * time.Millisecond)
	close(f.fetcher.gate)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("Search %d: %v", i, err)
		}
		if len(results[i].Jobs) != 2 {
			t.Errorf("Search %d jobs = %d, want 2", i, len(results[i].Jobs))
		}
	}
	if f.fetcher.callCount() != 1 {
		t.Errorf("fetch calls = %d, want 1", f.fetcher.callCount())
	}
}

func TestSearch_RequestIDInDebugInfo(t *testing.T) {
	f := newFixture(t)
	f.fetcher.result = okFetch(nil)

	ctx := WithRequestID(context.Background(), "req-123")
	resp, err := f.svc.Search(ctx, model.SearchRequest{Query: "go"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if resp.DebugInfo.RequestID != "req-123" {
		t.Errorf("RequestID = %q", resp.DebugInfo.RequestID)
	}
}
