// Package upstream fetches job listings from the Google Jobs engine of
// SerpApi, maps them into cached listings and applies the post-fetch filter.
package upstream

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"jobmate/search-service/internal/config"
	"jobmate/search-service/internal/model"
)

// ErrNoAPIKey is returned by Fetch when the client has no provider key.
var ErrNoAPIKey = errors.New("upstream API key is not configured")

// noResultsMarker is how SerpApi reports an empty result set.
const noResultsMarker = "hasn't returned any results"

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// SleepContext is the real Sleeper.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Options configures a Client. Zero values fall back to the config defaults.
type Options struct {
	BaseURL           string
	APIKey            string
	Language          string
	PageSize          int
	MaxPages          int
	PageDelay         time.Duration
	Timeout           time.Duration
	RequestsPerSecond float64
	MaxRetries        int
	RetryBaseDelay    time.Duration

	HTTPClient *http.Client
	Sleep      Sleeper
	Logger     *slog.Logger
}

// OptionsFromConfig copies the upstream section of the service config.
func OptionsFromConfig(cfg config.UpstreamConfig) Options {
	return Options{
		BaseURL:           cfg.BaseURL,
		APIKey:            cfg.APIKey,
		Language:          cfg.Language,
		PageSize:          cfg.PageSize,
		MaxPages:          cfg.MaxPages,
		PageDelay:         cfg.PageDelay,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		MaxRetries:        cfg.MaxRetries,
		RetryBaseDelay:    cfg.RetryBaseDelay,
	}
}

// Client is a paginating SerpApi google_jobs client.
type Client struct {
	baseURL    string
	apiKey     string
	language   string
	pageSize   int
	maxPages   int
	pageDelay  time.Duration
	maxRetries int
	retryBase  time.Duration

	http    *http.Client
	limiter *rate.Limiter
	sleep   Sleeper
	logger  *slog.Logger
}

// New constructs a Client.
func New(opts Options) *Client {
	def := config.Default().Upstream
	if opts.BaseURL == "" {
		opts.BaseURL = def.BaseURL
	}
	if opts.PageSize <= 0 {
		opts.PageSize = def.PageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = def.MaxPages
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = def.RequestsPerSecond
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = def.RetryBaseDelay
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: opts.Timeout}
	}
	if opts.Sleep == nil {
		opts.Sleep = SleepContext
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Client{
		baseURL:    opts.BaseURL,
		apiKey:     opts.APIKey,
		language:   opts.Language,
		pageSize:   opts.PageSize,
		maxPages:   opts.MaxPages,
		pageDelay:  opts.PageDelay,
		maxRetries: opts.MaxRetries,
		retryBase:  opts.RetryBaseDelay,
		http:       opts.HTTPClient,
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		sleep:      opts.Sleep,
		logger:     opts.Logger.With("component", "upstream"),
	}
}

// Configured reports whether the client has an API key.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// PagesFor returns how many pages are needed for resultsPerPage listings,
// capped at the configured maximum.
func (c *Client) PagesFor(resultsPerPage int) int {
	if resultsPerPage <= 0 {
		return 1
	}
	pages := (resultsPerPage + c.pageSize - 1) / c.pageSize
	return min(pages, c.maxPages)
}

// Fetch retrieves up to pages pages for p, sequentially with the configured
// delay between calls. A failed page is logged and skipped; the loop stops
// early when a page after the first comes back empty. It returns an error
// only when no page succeeded.
func (c *Client) Fetch(ctx context.Context, p model.SearchParams, pages int) (model.FetchResult, error) {
	res := model.FetchResult{RemoteSearch: IsRemoteLocation(p.Location)}
	if c.apiKey == "" {
		return res, ErrNoAPIKey
	}
	pages = max(1, min(pages, c.maxPages))

	var (
		raw     []model.Listing
		lastErr error
	)
	for page := 0; page < pages; page++ {
		if page > 0 {
			if err := c.sleep(ctx, c.pageDelay); err != nil {
				lastErr = err
				break
			}
		}

		res.PagesAttempted++
		batch, err := c.fetchPageWithRetry(ctx, p, page)
		if err != nil {
			res.PagesFailed++
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			c.logger.Warn("page fetch failed, skipping", "page", page, "query", p.Query, "err", err)
			continue
		}

		res.PagesSucceeded++
		if page == 0 {
			res.FirstPageOK = true
		}
		raw = append(raw, batch...)
		if page > 0 && len(batch) == 0 {
			break
		}
	}

	if res.PagesSucceeded == 0 {
		if lastErr == nil {
			lastErr = errors.New("no pages fetched")
		}
		return res, fmt.Errorf("all %d upstream pages failed: %w", res.PagesAttempted, lastErr)
	}

	res.RawResults = len(raw)
	res.Listings, res.FilteredOut = FilterListings(raw, p.Location)

	c.logger.Debug("fetch complete",
		"query", p.Query,
		"pages_attempted", res.PagesAttempted,
		"pages_failed", res.PagesFailed,
		"raw", res.RawResults,
		"filtered_out", res.FilteredOut,
	)
	return res, nil
}

// ─── Wire format ─────────────────────────────────────────────────────────────

type serpResponse struct {
	Error       string       `json:"error"`
	JobsResults []serpResult `json:"jobs_results"`
}

type serpResult struct {
	Title              string            `json:"title"`
	CompanyName        string            `json:"company_name"`
	Location           string            `json:"location"`
	Via                string            `json:"via"`
	Description        string            `json:"description"`
	Thumbnail          string            `json:"thumbnail"`
	JobID              string            `json:"job_id"`
	ShareLink          string            `json:"share_link"`
	JobHighlights      []serpHighlight   `json:"job_highlights"`
	DetectedExtensions serpExtensions    `json:"detected_extensions"`
	ApplyOptions       []serpApplyOption `json:"apply_options"`
}

type serpHighlight struct {
	Title string   `json:"title"`
	Items []string `json:"items"`
}

type serpExtensions struct {
	PostedAt     string `json:"posted_at"`
	ScheduleType string `json:"schedule_type"`
	Salary       string `json:"salary"`
	WorkFromHome bool   `json:"work_from_home"`
}

type serpApplyOption struct {
	Title string `json:"title"`
	Link  string `json:"link"`
}

// decodeError marks a malformed provider body; it is not retried.
type decodeError struct {
	err error
}

func (e *decodeError) Error() string { return "decode provider response: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func (c *Client) fetchPage(ctx context.Context, p model.SearchParams, page int) ([]model.Listing, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	reqURL := c.baseURL + "?" + c.pageParams(p, page).Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http GET: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			Body:       truncate(string(body), 256),
		}
	}

	var apiResp serpResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, &decodeError{err: err}
	}
	if apiResp.Error != "" {
		if strings.Contains(apiResp.Error, noResultsMarker) {
			return []model.Listing{}, nil
		}
		return nil, &APIError{Message: apiResp.Error}
	}

	listings := make([]model.Listing, 0, len(apiResp.JobsResults))
	for _, r := range apiResp.JobsResults {
		l := toListing(r)
		if l.URL == "" {
			c.logger.Debug("dropping result without a usable key", "title", r.Title, "page", page)
			continue
		}
		listings = append(listings, l)
	}
	return listings, nil
}

func toListing(r serpResult) model.Listing {
	l := model.Listing{
		ExternalID:       r.JobID,
		Title:            strings.TrimSpace(r.Title),
		Company:          strings.TrimSpace(r.CompanyName),
		Location:         strings.TrimSpace(r.Location),
		Description:      flattenHTML(r.Description),
		Salary:           r.DetectedExtensions.Salary,
		PostedAt:         r.DetectedExtensions.PostedAt,
		JobType:          r.DetectedExtensions.ScheduleType,
		URL:              canonicalURL(r),
		Source:           sourceLabel(r.Via),
		Thumbnail:        r.Thumbnail,
		Requirements:     []string{},
		Responsibilities: []string{},
		Benefits:         []string{},
	}
	l.Remote = r.DetectedExtensions.WorkFromHome || IsRemoteLocation(l.Location)

	for _, h := range r.JobHighlights {
		title := strings.ToLower(h.Title)
		switch {
		case strings.Contains(title, "qualification") || strings.Contains(title, "requirement"):
			l.Requirements = append(l.Requirements, cleanItems(h.Items)...)
		case strings.Contains(title, "responsibilit") || strings.Contains(title, "duties"):
			l.Responsibilities = append(l.Responsibilities, cleanItems(h.Items)...)
		case strings.Contains(title, "benefit"):
			l.Benefits = append(l.Benefits, cleanItems(h.Items)...)
		}
	}
	return l
}

// canonicalURL picks the first apply link, then the share link, then a
// synthetic key from the job id or, failing that, from a digest of title,
// company and location. It returns "" when none of these are present.
func canonicalURL(r serpResult) string {
	for _, opt := range r.ApplyOptions {
		if link := strings.TrimSpace(opt.Link); link != "" {
			return link
		}
	}
	if link := strings.TrimSpace(r.ShareLink); link != "" {
		return link
	}
	if id := strings.TrimSpace(r.JobID); id != "" {
		return "google_jobs:" + id
	}

	fields := []string{r.Title, r.CompanyName, r.Location}
	empty := true
	for i, f := range fields {
		fields[i] = strings.ToLower(strings.TrimSpace(f))
		empty = empty && fields[i] == ""
	}
	if empty {
		return ""
	}
	sum := sha256.Sum256([]byte(strings.Join(fields, "\x1f")))
	return "google_jobs:sha256:" + hex.EncodeToString(sum[:12])
}

func sourceLabel(via string) string {
	via = strings.TrimSpace(via)
	if len(via) > 4 && strings.EqualFold(via[:4], "via ") {
		return strings.TrimSpace(via[4:])
	}
	if via == "" {
		return "Google Jobs"
	}
	return via
}

func cleanItems(items []string) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it = flattenHTML(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
