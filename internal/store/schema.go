package store

// Postgres DDL. Every statement is idempotent.
var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS job_searches (
		id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		search_key       TEXT NOT NULL UNIQUE,
		query            TEXT NOT NULL,
		location         TEXT NOT NULL DEFAULT '',
		date_posted      TEXT NOT NULL DEFAULT '',
		job_type         TEXT NOT NULL DEFAULT '',
		experience_level TEXT NOT NULL DEFAULT '',
		total_results    INTEGER NOT NULL DEFAULT 0,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_searches_key_updated
		ON job_searches (search_key, last_updated_at DESC)`,
	`CREATE TABLE IF NOT EXISTS cached_jobs (
		id               UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		external_id      TEXT NOT NULL DEFAULT '',
		title            TEXT NOT NULL,
		company          TEXT NOT NULL DEFAULT '',
		location         TEXT NOT NULL DEFAULT '',
		description      TEXT NOT NULL DEFAULT '',
		salary           TEXT NOT NULL DEFAULT '',
		posted_at        TEXT NOT NULL DEFAULT '',
		job_type         TEXT NOT NULL DEFAULT '',
		remote           BOOLEAN NOT NULL DEFAULT FALSE,
		url              TEXT NOT NULL UNIQUE,
		source           TEXT NOT NULL DEFAULT '',
		thumbnail        TEXT NOT NULL DEFAULT '',
		requirements     JSONB NOT NULL DEFAULT '[]'::jsonb,
		responsibilities JSONB NOT NULL DEFAULT '[]'::jsonb,
		benefits         JSONB NOT NULL DEFAULT '[]'::jsonb,
		is_expired       BOOLEAN NOT NULL DEFAULT FALSE,
		first_seen_at    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_seen_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cached_jobs_last_seen ON cached_jobs (last_seen_at)`,
	`CREATE TABLE IF NOT EXISTS job_search_results (
		search_id       UUID NOT NULL REFERENCES job_searches(id) ON DELETE CASCADE,
		job_id          UUID NOT NULL REFERENCES cached_jobs(id) ON DELETE CASCADE,
		relevance_score DOUBLE PRECISION NOT NULL DEFAULT 1,
		position        INTEGER NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (search_id, job_id)
	)`,
	`CREATE OR REPLACE FUNCTION normalize_search_query(q TEXT) RETURNS TEXT
		LANGUAGE sql IMMUTABLE AS
		$$ SELECT lower(trim(regexp_replace(COALESCE(q, ''), '\s+', ' ', 'g'))) $$`,
}

// SQLite DDL. Timestamps are fixed-width UTC text so they compare as strings;
// normalize_search_query is registered on the driver instead.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS job_searches (
		id               TEXT PRIMARY KEY,
		search_key       TEXT NOT NULL UNIQUE,
		query            TEXT NOT NULL,
		location         TEXT NOT NULL DEFAULT '',
		date_posted      TEXT NOT NULL DEFAULT '',
		job_type         TEXT NOT NULL DEFAULT '',
		experience_level TEXT NOT NULL DEFAULT '',
		total_results    INTEGER NOT NULL DEFAULT 0,
		created_at       TEXT NOT NULL,
		last_updated_at  TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_job_searches_key_updated
		ON job_searches (search_key, last_updated_at DESC)`,
	`CREATE TABLE IF NOT EXISTS cached_jobs (
		id               TEXT PRIMARY KEY,
		external_id      TEXT NOT NULL DEFAULT '',
		title            TEXT NOT NULL,
		company          TEXT NOT NULL DEFAULT '',
		location         TEXT NOT NULL DEFAULT '',
		description      TEXT NOT NULL DEFAULT '',
		salary           TEXT NOT NULL DEFAULT '',
		posted_at        TEXT NOT NULL DEFAULT '',
		job_type         TEXT NOT NULL DEFAULT '',
		remote           INTEGER NOT NULL DEFAULT 0,
		url              TEXT NOT NULL UNIQUE,
		source           TEXT NOT NULL DEFAULT '',
		thumbnail        TEXT NOT NULL DEFAULT '',
		requirements     TEXT NOT NULL DEFAULT '[]',
		responsibilities TEXT NOT NULL DEFAULT '[]',
		benefits         TEXT NOT NULL DEFAULT '[]',
		is_expired       INTEGER NOT NULL DEFAULT 0,
		first_seen_at    TEXT NOT NULL,
		last_seen_at     TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_cached_jobs_last_seen ON cached_jobs (last_seen_at)`,
	`CREATE TABLE IF NOT EXISTS job_search_results (
		search_id       TEXT NOT NULL REFERENCES job_searches(id) ON DELETE CASCADE,
		job_id          TEXT NOT NULL REFERENCES cached_jobs(id) ON DELETE CASCADE,
		relevance_score REAL NOT NULL DEFAULT 1,
		position        INTEGER NOT NULL,
		created_at      TEXT NOT NULL,
		PRIMARY KEY (search_id, job_id)
	)`,
}
