package upstream

import (
	"strings"

	"jobmate/search-service/internal/model"
)

var remoteMarkers = []string{"remote", "work from home", "work-from-home", "wfh"}

// MentionsRemote returns true if any remote marker appears (case-insensitive)
// anywhere in the combined title + location + description text.
func MentionsRemote(title, location, description string) bool {
	combined := strings.ToLower(title + " " + location + " " + description)
	for _, marker := range remoteMarkers {
		if strings.Contains(combined, marker) {
			return true
		}
	}
	return false
}

// MatchesLocation reports whether the listing location contains the search
// location or vice versa. An empty listing location never matches.
func MatchesLocation(listingLocation, searchLocation string) bool {
	ll := strings.ToLower(strings.TrimSpace(listingLocation))
	sl := strings.ToLower(strings.TrimSpace(searchLocation))
	if ll == "" {
		return false
	}
	return strings.Contains(ll, sl) || strings.Contains(sl, ll)
}

// FilterListings applies the post-fetch filter for searchLocation and returns
// the kept listings in input order plus the number dropped.
func FilterListings(listings []model.Listing, searchLocation string) ([]model.Listing, int) {
	loc := strings.TrimSpace(searchLocation)
	if loc == "" {
		return listings, 0
	}

	remote := IsRemoteLocation(loc)
	kept := make([]model.Listing, 0, len(listings))
	for _, l := range listings {
		var ok bool
		if remote {
			ok = MentionsRemote(l.Title, l.Location, l.Description)
		} else {
			ok = MatchesLocation(l.Location, loc)
		}
		if ok {
			kept = append(kept, l)
		}
	}
	return kept, len(listings) - len(kept)
}
