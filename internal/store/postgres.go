package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"jobmate/search-service/internal/model"
)

// Postgres is the pgx-backed Store.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres wraps an already verified pool. Close closes the pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// ─── Lookup ──────────────────────────────────────────────────────────────────

func (p *Postgres) NormalizeQuery(ctx context.Context, q string) (string, error) {
	var out string
	if err := p.pool.QueryRow(ctx, `SELECT normalize_search_query($1)`, q).Scan(&out); err != nil {
		return "", fmt.Errorf("normalize_search_query: %w", err)
	}
	return out, nil
}

func (p *Postgres) FindFreshSearch(ctx context.Context, key string, since time.Time) (*model.SearchRecord, error) {
	var r model.SearchRecord
	err := p.pool.QueryRow(ctx,
		`SELECT id::text, search_key, query, location, date_posted, job_type,
		        experience_level, total_results, last_updated_at
		 FROM job_searches
		 WHERE search_key = $1 AND last_updated_at > $2
		 ORDER BY last_updated_at DESC
		 LIMIT 1`,
		key, since,
	).Scan(
		&r.ID, &r.SearchKey, &r.Query, &r.Location, &r.DatePosted, &r.JobType,
		&r.ExperienceLevel, &r.TotalResults, &r.LastUpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("findFreshSearch: %w", err)
	}
	return &r, nil
}

func (p *Postgres) CachedListings(ctx context.Context, searchID string, limit int) ([]model.Listing, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT j.id::text, j.external_id, j.title, j.company, j.location, j.description,
		        j.salary, j.posted_at, j.job_type, j.remote, j.url, j.source, j.thumbnail,
		        j.requirements::text, j.responsibilities::text, j.benefits::text
		 FROM job_search_results r
		 JOIN cached_jobs j ON j.id = r.job_id
		 WHERE r.search_id = $1::uuid
		 ORDER BY r.relevance_score DESC, r.position ASC
		 LIMIT $2`,
		searchID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("cachedListings query: %w", err)
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
			return nil, fmt.Errorf("cachedListings scan: %w", err)
		}
		l.Requirements = decodeList(reqs)
		l.Responsibilities = decodeList(resps)
		l.Benefits = decodeList(benefit)
		listings = append(listings, l)
	}
	return listings, rows.Err()
}

// ─── Writes ──────────────────────────────────────────────────────────────────

func (p *Postgres) UpsertSearch(ctx context.Context, rec model.SearchRecord, now time.Time) (string, error) {
	var id string
	err := p.pool.QueryRow(ctx,
		`INSERT INTO job_searches
		   (search_key, query, location, date_posted, job_type, experience_level,
		    total_results, last_updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (search_key) DO UPDATE SET
		   query            = EXCLUDED.query,
		   location         = EXCLUDED.location,
		   date_posted      = EXCLUDED.date_posted,
		   job_type         = EXCLUDED.job_type,
		   experience_level = EXCLUDED.experience_level,
		   total_results    = EXCLUDED.total_results,
		   last_updated_at  = EXCLUDED.last_updated_at
		 RETURNING id::text`,
		rec.SearchKey, rec.Query, rec.Location, rec.DatePosted, rec.JobType,
		rec.ExperienceLevel, rec.TotalResults, now,
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("upsertSearch: %w", err)
	}
	return id, nil
}

const pgUpsertListing = `
	INSERT INTO cached_jobs
	  (external_id, title, company, location, description, salary, posted_at,
	   job_type, remote, url, source, thumbnail, requirements, responsibilities,
	   benefits, is_expired, first_seen_at, last_seen_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12,
	        $13::jsonb, $14::jsonb, $15::jsonb, FALSE, $16, $16)
	ON CONFLICT (url) DO UPDATE SET
	  external_id      = EXCLUDED.external_id,
	  title            = EXCLUDED.title,
	  company          = EXCLUDED.company,
	  location         = EXCLUDED.location,
	  description      = EXCLUDED.description,
	  salary           = EXCLUDED.salary,
	  posted_at        = EXCLUDED.posted_at,
	  job_type         = EXCLUDED.job_type,
	  remote           = EXCLUDED.remote,
	  source           = EXCLUDED.source,
	  thumbnail        = EXCLUDED.thumbnail,
	  requirements     = EXCLUDED.requirements,
	  responsibilities = EXCLUDED.responsibilities,
	  benefits         = EXCLUDED.benefits,
	  is_expired       = FALSE,
	  last_seen_at     = EXCLUDED.last_seen_at
	RETURNING id::text`

func (p *Postgres) UpsertListings(ctx context.Context, listings []model.Listing, seenAt time.Time) ([]string, error) {
	if len(listings) == 0 {
		return []string{}, nil
	}

	batch := &pgx.Batch{}
	for _, l := range listings {
		cols, err := encodeHighlights(l)
		if err != nil {
			return nil, err
		}
		batch.Queue(pgUpsertListing,
			l.ExternalID, l.Title, l.Company, l.Location, l.Description, l.Salary,
			l.PostedAt, l.JobType, l.Remote, l.URL, l.Source, l.Thumbnail,
			cols.requirements, cols.responsibilities, cols.benefits, seenAt,
		)
	}

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("upsertListings begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	br := tx.SendBatch(ctx, batch)
	ids := make([]string, len(listings))
	for i := range listings {
		if err := br.QueryRow().Scan(&ids[i]); err != nil {
			_ = br.Close()
			return nil, fmt.Errorf("upsertListings row %d (%s): %w", i, listings[i].URL, err)
		}
	}
	if err := br.Close(); err != nil {
		return nil, fmt.Errorf("upsertListings batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("upsertListings commit: %w", err)
	}
	return ids, nil
}

func (p *Postgres) LinkResults(ctx context.Context, searchID string, jobIDs []string, now time.Time) error {
	ids := uniqueLinks(jobIDs)

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("linkResults begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`DELETE FROM job_search_results
		 WHERE search_id = $1::uuid AND job_id::text <> ALL($2::text[])`,
		searchID, ids,
	); err != nil {
		return fmt.Errorf("linkResults prune stale: %w", err)
	}

	if len(ids) > 0 {
		batch := &pgx.Batch{}
		for pos, jobID := range ids {
			batch.Queue(
				`INSERT INTO job_search_results (search_id, job_id, relevance_score, position, created_at)
				 VALUES ($1::uuid, $2::uuid, 1, $3, $4)
				 ON CONFLICT (search_id, job_id) DO UPDATE SET
				   relevance_score = EXCLUDED.relevance_score,
				   position        = EXCLUDED.position`,
				searchID, jobID, pos, now,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("linkResults insert: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("linkResults commit: %w", err)
	}
	return nil
}

// ─── Maintenance ─────────────────────────────────────────────────────────────

func (p *Postgres) Prune(ctx context.Context, searchesBefore, listingsBefore time.Time) (model.PruneStats, error) {
	var stats model.PruneStats

	tag, err := p.pool.Exec(ctx,
		`DELETE FROM job_searches WHERE last_updated_at < $1`, searchesBefore)
	if err != nil {
		return stats, fmt.Errorf("prune searches: %w", err)
	}
	stats.SearchesDeleted = tag.RowsAffected()

	tag, err = p.pool.Exec(ctx,
		`UPDATE cached_jobs SET is_expired = TRUE
		 WHERE last_seen_at < $1 AND NOT is_expired`, listingsBefore)
	if err != nil {
		return stats, fmt.Errorf("expire listings: %w", err)
	}
	stats.ListingsExpired = tag.RowsAffected()

	return stats, nil
}

func (p *Postgres) Migrate(ctx context.Context) error {
	for i, stmt := range postgresSchema {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate postgres statement %d: %w", i, err)
		}
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}
