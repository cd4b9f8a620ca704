package search

import "strings"

// KeySeparator joins cache key fields.
const KeySeparator = "|"

// BuildKey combines the normalized query and filters into the cache key.
// Fields are trimmed and lowercased; empty fields are skipped.
func BuildKey(normalizedQuery, location, datePosted, jobType, experienceLevel string) string {
	fields := []string{normalizedQuery, location, datePosted, jobType, experienceLevel}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.ToLower(strings.TrimSpace(f)); f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, KeySeparator)
}
