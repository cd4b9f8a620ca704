package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"jobmate/search-service/internal/model"
)

// sqliteTimeLayout is fixed width so that text comparison orders by time.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000"

// SQLite is the modernc.org/sqlite-backed Store. The *sql.DB must come from
// db.OpenSQLite so that normalize_search_query is registered.
type SQLite struct {
	db *sql.DB
}

// NewSQLite wraps an open database. Close closes it.
func NewSQLite(conn *sql.DB) *SQLite {
	return &SQLite{db: conn}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(sqliteTimeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func (s *SQLite) NormalizeQuery(ctx context.Context, q string) (string, error) {
	var out string
	if err := s.db.QueryRowContext(ctx, `SELECT normalize_search_query(?)`, q).Scan(&out); err != nil {
		return "", fmt.Errorf("normalize_search_query: %w", err)
	}
	return out, nil
}

func (s *SQLite) FindFreshSearch(ctx context.Context, key string, since time.Time) (*model.SearchRecord, error) {
	var (
		r       model.SearchRecord
		updated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, search_key, query, location, date_posted, job_type,
		        experience_level, total_results, last_updated_at
		 FROM job_searches
		 WHERE search_key = ? AND last_updated_at > ?
		 ORDER BY last_updated_at DESC
		 LIMIT 1`,
		key, formatTime(since),
	).Scan(
		&r.ID, &r.SearchKey, &r.Query, &r.Location, &r.DatePosted, &r.JobType,
		&r.ExperienceLevel, &r.TotalResults, &updated,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding fresh search %q: %w", key, err)
	}
	if r.LastUpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *SQLite) CachedListings(ctx context.Context, searchID string, limit int) ([]model.Listing, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT j.id, j.external_id, j.title, j.company, j.location, j.description,
		        j.salary, j.posted_at, j.job_type, j.remote, j.url, j.source, j.thumbnail,
		        j.requirements, j.responsibilities, j.benefits
		 FROM job_search_results r
		 JOIN cached_jobs j ON j.id = r.job_id
		 WHERE r.search_id = ?
		 ORDER BY r.relevance_score DESC, r.position ASC
		 LIMIT ?`,
		searchID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying cached listings for %s: %w", searchID, err)
	}
	defer rows.Close()

	listings := make([]model.Listing, 0)
	for rows.Next() {
		var (
			l                    model.Listing
			reqs, resps, benefit string
		)
		if err := rows.Scan(
			&l.ID, &l.ExternalID, &l.Title, &l.Company, &l.Location, &l.Description,
			&l.Salary, &l.PostedAt, &l.JobType, &l.Remote, &l.URL, &l.Source, &l.Thumbnail,
			&reqs, &resps, &benefit,
		); err != nil {
			return nil, fmt.Errorf("scanning cached listing: %w", err)
		}
		l.Requirements = decodeList(reqs)
		l.Responsibilities = decodeList(resps)
		l.Benefits = decodeList(benefit)
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

func (s *SQLite) UpsertSearch(ctx context.Context, rec model.SearchRecord, now time.Time) (string, error) {
	ts := formatTime(now)
	var id string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO job_searches
		   (id, search_key, query, location, date_posted, job_type, experience_level,
		    total_results, created_at, last_updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (search_key) DO UPDATE SET
		   query            = excluded.query,
		   location         = excluded.location,
		   date_posted      = excluded.date_posted,
		   job_type         = excluded.job_type,
		   experience_level = excluded.experience_level,
		   total_results    = excluded.total_results,
		   last_updated_at  = excluded.last_updated_at
		 RETURNING id`,
		uuid.NewString(), rec.SearchKey, rec.Query, rec.Location, rec.DatePosted,
		rec.JobType, rec.ExperienceLevel, rec.TotalResults, ts, ts,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upserting search %q: %w", rec.SearchKey, err)
	}
	return id, nil
}

const sqliteUpsertListing = `
	INSERT INTO cached_jobs
	  (id, external_id, title, company, location, description, salary, posted_at,
	   job_type, remote, url, source, thumbnail, requirements, responsibilities,
	   benefits, is_expired, first_seen_at, last_seen_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)
	ON CONFLICT (url) DO UPDATE SET
	  external_id      = excluded.external_id,
	  title            = excluded.title,
	  company          = excluded.company,
	  location         = excluded.location,
	  description      = excluded.description,
	  salary           = excluded.salary,
	  posted_at        = excluded.posted_at,
	  job_type         = excluded.job_type,
	  remote           = excluded.remote,
	  source           = excluded.source,
	  thumbnail        = excluded.thumbnail,
	  requirements     = excluded.requirements,
	  responsibilities = excluded.responsibilities,
	  benefits         = excluded.benefits,
	  is_expired       = 0,
	  last_seen_at     = excluded.last_seen_at
	RETURNING id`

func (s *SQLite) UpsertListings(ctx context.Context, listings []model.Listing, seenAt time.Time) ([]string, error) {
	if len(listings) == 0 {
		return []string{}, nil
	}
	ts := formatTime(seenAt)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning listing upsert: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sqliteUpsertListing)
	if err != nil {
		return nil, fmt.Errorf("preparing listing upsert: %w", err)
	}
	defer stmt.Close()

	ids := make([]string, len(listings))
	for i, l := range listings {
		cols, err := encodeHighlights(l)
		if err != nil {
			return nil, err
		}
		err = stmt.QueryRowContext(ctx,
			uuid.NewString(), l.ExternalID, l.Title, l.Company, l.Location, l.Description,
			l.Salary, l.PostedAt, l.JobType, l.Remote, l.URL, l.Source, l.Thumbnail,
			cols.requirements, cols.responsibilities, cols.benefits, ts, ts,
		).Scan(&ids[i])
		if err != nil {
			return nil, fmt.Errorf("upserting listing %d (%s): %w", i, l.URL, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing listing upsert: %w", err)
	}
	return ids, nil
}

func (s *SQLite) LinkResults(ctx context.Context, searchID string, jobIDs []string, now time.Time) error {
	ids := uniqueLinks(jobIDs)
	keep, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encoding link ids: %w", err)
	}
	ts := formatTime(now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning link write: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM job_search_results
		 WHERE search_id = ? AND job_id NOT IN (SELECT value FROM json_each(?))`,
		searchID, string(keep),
	); err != nil {
		return fmt.Errorf("removing stale links for %s: %w", searchID, err)
	}

	for pos, jobID := range ids {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO job_search_results (search_id, job_id, relevance_score, position, created_at)
			 VALUES (?, ?, 1, ?, ?)
			 ON CONFLICT (search_id, job_id) DO UPDATE SET
			   relevance_score = excluded.relevance_score,
			   position        = excluded.position`,
			searchID, jobID, pos, ts,
		); err != nil {
			return fmt.Errorf("linking job %s to search %s: %w", jobID, searchID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing links: %w", err)
	}
	return nil
}

func (s *SQLite) Prune(ctx context.Context, searchesBefore, listingsBefore time.Time) (model.PruneStats, error) {
	var stats model.PruneStats

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM job_searches WHERE last_updated_at < ?`, formatTime(searchesBefore))
	if err != nil {
		return stats, fmt.Errorf("pruning searches: %w", err)
	}
	if stats.SearchesDeleted, err = res.RowsAffected(); err != nil {
		return stats, fmt.Errorf("pruning searches: %w", err)
	}

	res, err = s.db.ExecContext(ctx,
		`UPDATE cached_jobs SET is_expired = 1
		 WHERE last_seen_at < ? AND is_expired = 0`, formatTime(listingsBefore))
	if err != nil {
		return stats, fmt.Errorf("expiring listings: %w", err)
	}
	if stats.ListingsExpired, err = res.RowsAffected(); err != nil {
		return stats, fmt.Errorf("expiring listings: %w", err)
	}

	return stats, nil
}

func (s *SQLite) Migrate(ctx context.Context) error {
	for i, stmt := range sqliteSchema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate sqlite statement %d: %w", i, err)
		}
	}
	return nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
