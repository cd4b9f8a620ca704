package upstream

import (
	"net/url"
	"strconv"
	"strings"

	"jobmate/search-service/internal/model"
)

var datePostedChips = map[string]string{
	"today": "date_posted:today",
	"24h":   "date_posted:today",
	"day":   "date_posted:today",
	"3days": "date_posted:3days",
	"week":  "date_posted:week",
	"7d":    "date_posted:week",
	"month": "date_posted:month",
	"30d":   "date_posted:month",
}

var jobTypeChips = map[string]string{
	"fulltime":   "employment_type:FULLTIME",
	"full-time":  "employment_type:FULLTIME",
	"parttime":   "employment_type:PARTTIME",
	"part-time":  "employment_type:PARTTIME",
	"contract":   "employment_type:CONTRACTOR",
	"contractor": "employment_type:CONTRACTOR",
	"internship": "employment_type:INTERN",
	"intern":     "employment_type:INTERN",
}

// The provider has no structured experience filter; these are query suffixes.
var experienceTerms = map[string]string{
	"entry":        "entry level",
	"entry-level":  "entry level",
	"junior":       "entry level",
	"mid":          "mid level",
	"mid-level":    "mid level",
	"intermediate": "mid level",
	"senior":       "senior",
	"senior-level": "senior",
	"lead":         "senior lead",
	"principal":    "senior lead",
	"executive":    "senior lead",
	"director":     "senior lead",
}

// lookup matches value case-insensitively, treating "_" and "-" alike.
func lookup(table map[string]string, value string) string {
	key := strings.ToLower(strings.TrimSpace(value))
	return table[strings.ReplaceAll(key, "_", "-")]
}

// IsRemoteLocation reports whether location asks for remote-only jobs.
func IsRemoteLocation(location string) bool {
	return strings.Contains(strings.ToLower(strings.TrimSpace(location)), "remote")
}

// EnrichedQuery returns the provider query text: the original query with the
// mapped experience term appended, if any.
func EnrichedQuery(p model.SearchParams) string {
	q := strings.TrimSpace(p.Query)
	if term := lookup(experienceTerms, p.ExperienceLevel); term != "" {
		q += " " + term
	}
	return q
}

// Chips returns the comma-joined provider filter chips for p, or "".
func Chips(p model.SearchParams) string {
	var chips []string
	if c := lookup(datePostedChips, p.DatePosted); c != "" {
		chips = append(chips, c)
	}
	if c := lookup(jobTypeChips, p.JobType); c != "" {
		chips = append(chips, c)
	}
	return strings.Join(chips, ",")
}

// pageParams builds the query string for one provider page (0-based).
func (c *Client) pageParams(p model.SearchParams, page int) url.Values {
	params := url.Values{}
	params.Set("engine", "google_jobs")
	params.Set("q", EnrichedQuery(p))
	params.Set("api_key", c.apiKey)
	if c.language != "" {
		params.Set("hl", c.language)
	}

	loc := strings.TrimSpace(p.Location)
	switch {
	case IsRemoteLocation(loc):
		params.Set("ltype", "1")
	case loc != "":
		params.Set("location", loc)
	}

	if chips := Chips(p); chips != "" {
		params.Set("chips", chips)
	}
	if page > 0 {
		params.Set("start", strconv.Itoa(page*c.pageSize))
	}
	return params
}
