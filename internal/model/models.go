// Package model defines shared data structures for the search service.
package model

import "time"

// SearchRequest mirrors the JSON body accepted by the search endpoint.
type SearchRequest struct {
	Query           string `json:"query"`
	Location        string `json:"location,omitempty"`
	ResultsPerPage  int    `json:"resultsPerPage,omitempty"`
	DatePosted      string `json:"datePosted,omitempty"`
	JobType         string `json:"jobType,omitempty"`
	ExperienceLevel string `json:"experienceLevel,omitempty"`
	ForceRefresh    bool   `json:"forceRefresh,omitempty"`
}

// SearchRecord mirrors a job_searches row: one normalized search.
type SearchRecord struct {
	ID              string
	SearchKey       string
	Query           string // normalized query text
	Location        string
	DatePosted      string
	JobType         string
	ExperienceLevel string
	TotalResults    int
	LastUpdatedAt   time.Time
}

// Listing is one job posting as cached in cached_jobs and returned to clients.
// Highlight lists are serialised to text columns by the store.
type Listing struct {
	ID               string   `json:"id,omitempty"`
	ExternalID       string   `json:"external_id,omitempty"`
	Title            string   `json:"title"`
	Company          string   `json:"company"`
	Location         string   `json:"location"`
	Description      string   `json:"description"`
	Salary           string   `json:"salary,omitempty"`
	PostedAt         string   `json:"posted_at,omitempty"`
	JobType          string   `json:"job_type,omitempty"`
	Remote           bool     `json:"remote"`
	URL              string   `json:"url"`
	Source           string   `json:"source"`
	Thumbnail        string   `json:"thumbnail,omitempty"`
	Requirements     []string `json:"requirements"`
	Responsibilities []string `json:"responsibilities"`
	Benefits         []string `json:"benefits"`
}

// SearchParams is the upstream view of a request: the original query text
// plus filters, before any normalization.
type SearchParams struct {
	Query           string
	Location        string
	DatePosted      string
	JobType         string
	ExperienceLevel string
}

// FetchResult is what one upstream fetch produced across all of its pages.
type FetchResult struct {
	Listings       []Listing
	PagesAttempted int
	PagesSucceeded int
	PagesFailed    int
	FirstPageOK    bool
	RawResults     int
	FilteredOut    int
	RemoteSearch   bool
}

// SearchResponse is the 200 body of the search endpoint.
type SearchResponse struct {
	Jobs         []Listing `json:"jobs"`
	FromCache    bool      `json:"fromCache"`
	LastUpdated  string    `json:"lastUpdated"`
	TotalResults int       `json:"totalResults"`
	DebugInfo    DebugInfo `json:"debug_info"`
}

// DebugInfo reports how a response was produced.
type DebugInfo struct {
	RequestID         string   `json:"request_id,omitempty"`
	CacheKey          string   `json:"cache_key"`
	NormalizedQuery   string   `json:"normalized_query"`
	NormalizeFallback bool     `json:"normalize_fallback"`
	SearchID          string   `json:"search_id,omitempty"`
	CacheHit          bool     `json:"cache_hit"`
	ForceRefresh      bool     `json:"force_refresh"`
	LookupError       string   `json:"lookup_error,omitempty"`
	PagesRequested    int      `json:"pages_requested,omitempty"`
	PagesSucceeded    int      `json:"pages_succeeded,omitempty"`
	PagesFailed       int      `json:"pages_failed,omitempty"`
	RawResults        int      `json:"raw_results,omitempty"`
	FilteredOut       int      `json:"filtered_out,omitempty"`
	RemoteSearch      bool     `json:"remote_search"`
	CacheWritten      bool     `json:"cache_written"`
	CacheWriteErrors  []string `json:"cache_write_errors,omitempty"`
	DurationMS        int64    `json:"duration_ms"`
}

// ErrorResponse is the body written for 4xx/5xx responses.
type ErrorResponse struct {
	Error        string    `json:"error"`
	Jobs         []Listing `json:"jobs"`
	FromCache    bool      `json:"fromCache"`
	TotalResults int       `json:"totalResults"`
}

// PruneStats summarises one maintenance run.
type PruneStats struct {
	SearchesDeleted int64
	ListingsExpired int64
}
