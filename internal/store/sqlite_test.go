package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"jobmate/search-service/internal/config"
	"jobmate/search-service/internal/model"
)

func newTestStore(t *testing.T) *SQLite {
	t.Helper()
	ctx := context.Background()
	st, err := Open(ctx, config.DatabaseConfig{
		Driver:     config.DriverSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "cache.db"),
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	// Migrations must be re-runnable.
	if err := st.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
	return st.(*SQLite)
}

func listing(url, title string) model.Listing {
	return model.Listing{
		Title:        title,
		Company:      "Acme",
		Location:     "Austin, TX",
		Description:  "Build things",
		URL:          url,
		Source:       "LinkedIn",
		Requirements: []string{"Go"},
	}
}

func TestSQLite_NormalizeQuery(t *testing.T) {
	st := newTestStore(t)
	got, err := st.NormalizeQuery(context.Background(), "  Senior   GO Engineer ")
	if err != nil {
		t.Fatalf("NormalizeQuery: %v", err)
	}
	if got != "senior go engineer" {
		t.Errorf("NormalizeQuery = %q, want %q", got, "senior go engineer")
	}
}

func TestSQLite_FindFreshSearch(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	rec, err := st.FindFreshSearch(ctx, "go|austin", now.Add(-24*time.Hour))
	if err != nil || rec != nil {
		t.Fatalf("empty store: rec=%v err=%v, want nil, nil", rec, err)
	}

	id, err := st.UpsertSearch(ctx, model.SearchRecord{
		SearchKey: "go|austin", Query: "go", Location: "Austin", TotalResults: 3,
	}, now)
	if err != nil {
		t.Fatalf("UpsertSearch: %v", err)
	}

	tests := []struct {
		name   string
		since  time.Time
		wantOK bool
	}{
		{"within window", now.Add(-24 * time.Hour), true},
		{"exactly at boundary is stale", now, false},
		{"window starts after update", now.Add(time.Minute), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec, err := st.FindFreshSearch(ctx, "go|austin", tc.since)
			if err != nil {
				t.Fatalf("FindFreshSearch: %v", err)
			}
			if (rec != nil) != tc.wantOK {
				t.Fatalf("found = %v, want %v", rec != nil, tc.wantOK)
			}
			if rec == nil {
				return
			}
			if rec.ID != id || rec.TotalResults != 3 || rec.Location != "Austin" {
				t.Errorf("unexpected record: %+v", rec)
			}
			if !rec.LastUpdatedAt.Equal(now) {
				t.Errorf("LastUpdatedAt = %v, want %v", rec.LastUpdatedAt, now)
			}
		})
	}
}

func TestSQLite_UpsertSearchKeepsID(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	t0 := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	first, err := st.UpsertSearch(ctx, model.SearchRecord{SearchKey: "k", Query: "q", TotalResults: 1}, t0)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second, err := st.UpsertSearch(ctx, model.SearchRecord{SearchKey: "k", Query: "q", TotalResults: 7}, t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first != second {
		t.Errorf("id changed on refresh: %s -> %s", first, second)
	}

	rec, err := st.FindFreshSearch(ctx, "k", t0)
	if err != nil || rec == nil {
		t.Fatalf("FindFreshSearch: rec=%v err=%v", rec, err)
	}
	if rec.TotalResults != 7 {
		t.Errorf("TotalResults = %d, want 7", rec.TotalResults)
	}
}

func TestSQLite_UpsertListingsDedupesByURL(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	ids, err := st.UpsertListings(ctx, []model.Listing{
		listing("https://a", "A"),
		listing("https://b", "B"),
	}, now)
	if err != nil {
		t.Fatalf("UpsertListings: %v", err)
	}
	if len(ids) != 2 || ids[0] == ids[1] {
		t.Fatalf("ids = %v, want two distinct ids", ids)
	}

	updated := listing("https://a", "A (updated)")
	again, err := st.UpsertListings(ctx, []model.Listing{updated, listing("https://c", "C")}, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("second UpsertListings: %v", err)
	}
	if again[0] != ids[0] {
		t.Errorf("existing URL got a new id: %s vs %s", again[0], ids[0])
	}

	var count int
	if err := st.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cached_jobs`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 3 {
		t.Errorf("cached_jobs count = %d, want 3", count)
	}

	var title, lastSeen string
	if err := st.db.QueryRowContext(ctx,
		`SELECT title, last_seen_at FROM cached_jobs WHERE url = ?`, "https://a",
	).Scan(&title, &lastSeen); err != nil {
		t.Fatalf("select: %v", err)
	}
	if title != "A (updated)" {
		t.Errorf("title = %q, want refreshed metadata", title)
	}
	if lastSeen != formatTime(now.Add(time.Hour)) {
		t.Errorf("last_seen_at = %q, want refreshed timestamp", lastSeen)
	}
}

func TestSQLite_LinkResultsAndCachedListings(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	searchID, err := st.UpsertSearch(ctx, model.SearchRecord{SearchKey: "k", Query: "q", TotalResults: 3}, now)
	if err != nil {
		t.Fatalf("UpsertSearch: %v", err)
	}
	ids, err := st.UpsertListings(ctx, []model.Listing{
		listing("https://a", "A"),
		listing("https://b", "B"),
		listing("https://c", "C"),
	}, now)
	if err != nil {
		t.Fatalf("UpsertListings: %v", err)
	}
	if err := st.LinkResults(ctx, searchID, ids, now); err != nil {
		t.Fatalf("LinkResults: %v", err)
	}

	got, err := st.CachedListings(ctx, searchID, 2)
	if err != nil {
		t.Fatalf("CachedListings: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want limit 2", len(got))
	}
	if got[0].Title != "A" || got[1].Title != "B" {
		t.Errorf("order = [%s %s], want [A B]", got[0].Title, got[1].Title)
	}
	if len(got[0].Requirements) != 1 || got[0].Requirements[0] != "Go" {
		t.Errorf("Requirements = %v, want [Go]", got[0].Requirements)
	}
	if got[0].Benefits == nil {
		t.Error("Benefits should decode to an empty slice, not nil")
	}

	var created string
	if err := st.db.QueryRowContext(ctx,
		`SELECT created_at FROM job_search_results WHERE search_id = ? AND job_id = ?`, searchID, ids[0],
	).Scan(&created); err != nil {
		t.Fatalf("read link created_at: %v", err)
	}
	if created != formatTime(now) {
		t.Errorf("link created_at = %q, want caller clock %q", created, formatTime(now))
	}

	// Refresh with a reordered, smaller set: stale link for A is removed.
	if err := st.LinkResults(ctx, searchID, []string{ids[2], ids[1], ids[1]}, now.Add(time.Hour)); err != nil {
		t.Fatalf("second LinkResults: %v", err)
	}
	got, err = st.CachedListings(ctx, searchID, 10)
	if err != nil {
		t.Fatalf("CachedListings: %v", err)
	}
	if len(got) != 2 || got[0].Title != "C" || got[1].Title != "B" {
		titles := make([]string, len(got))
		for i, l := range got {
			titles[i] = l.Title
		}
		t.Errorf("titles = %v, want [C B]", titles)
	}
}

func TestSQLite_Prune(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := old.Add(40 * 24 * time.Hour)

	oldSearch, err := st.UpsertSearch(ctx, model.SearchRecord{SearchKey: "old", Query: "old"}, old)
	if err != nil {
		t.Fatalf("UpsertSearch: %v", err)
	}
	if _, err := st.UpsertSearch(ctx, model.SearchRecord{SearchKey: "new", Query: "new"}, recent); err != nil {
		t.Fatalf("UpsertSearch: %v", err)
	}
	oldIDs, err := st.UpsertListings(ctx, []model.Listing{listing("https://old", "Old")}, old)
	if err != nil {
		t.Fatalf("UpsertListings: %v", err)
	}
	if _, err := st.UpsertListings(ctx, []model.Listing{listing("https://new", "New")}, recent); err != nil {
		t.Fatalf("UpsertListings: %v", err)
	}
	if err := st.LinkResults(ctx, oldSearch, oldIDs, old); err != nil {
		t.Fatalf("LinkResults: %v", err)
	}

	cutoff := recent.Add(-7 * 24 * time.Hour)
	stats, err := st.Prune(ctx, cutoff, cutoff)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if stats.SearchesDeleted != 1 || stats.ListingsExpired != 1 {
		t.Errorf("stats = %+v, want 1 search deleted and 1 listing expired", stats)
	}

	var links, listings int
	if err := st.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM job_search_results`).Scan(&links); err != nil {
		t.Fatalf("count links: %v", err)
	}
	if links != 0 {
		t.Errorf("links = %d, want cascade delete to 0", links)
	}
	if err := st.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cached_jobs`).Scan(&listings); err != nil {
		t.Fatalf("count listings: %v", err)
	}
	if listings != 2 {
		t.Errorf("cached_jobs = %d, want listings kept", listings)
	}

	// Re-running is a no-op; an already expired listing is not counted again.
	stats, err = st.Prune(ctx, cutoff, cutoff)
	if err != nil {
		t.Fatalf("second Prune: %v", err)
	}
	if stats.SearchesDeleted != 0 || stats.ListingsExpired != 0 {
		t.Errorf("second stats = %+v, want zero", stats)
	}
}
