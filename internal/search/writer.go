package search

import (
	"context"
	"log/slog"
	"time"

	"jobmate/search-service/internal/model"
)

// writeOutcome reports a best-effort cache write. listings carries the store
// ids when the listing upsert succeeded.
type writeOutcome struct {
	searchID string
	listings []model.Listing
	errs     []string
}

// writeCache upserts the search record, the listings and the links between
// them. Each step logs and swallows its own failure; a link failure leaves
// the stored listings in place.
func (s *Service) writeCache(
	ctx context.Context,
	log *slog.Logger,
	rec model.SearchRecord,
	listings []model.Listing,
	now time.Time,
) writeOutcome {
	out := writeOutcome{listings: listings}

	searchID, err := s.store.UpsertSearch(ctx, rec, now)
	if err != nil {
		log.Warn("cache write: upsert search failed", "key", rec.SearchKey, "err", err)
		out.errs = append(out.errs, "upsert search: "+err.Error())
	}
	out.searchID = searchID

	ids, err := s.store.UpsertListings(ctx, listings, now)
	if err != nil {
		log.Warn("cache write: upsert listings failed", "key", rec.SearchKey, "count", len(listings), "err", err)
		out.errs = append(out.errs, "upsert listings: "+err.Error())
	} else if len(ids) == len(listings) {
		withIDs := make([]model.Listing, len(listings))
		copy(withIDs, listings)
		for i := range withIDs {
			withIDs[i].ID = ids[i]
		}
		out.listings = withIDs
	}

	if searchID == "" || err != nil {
		if searchID != "" {
			out.errs = append(out.errs, "link results: skipped, listings not stored")
		}
		return out
	}

	if err := s.store.LinkResults(ctx, searchID, ids, now); err != nil {
		log.Warn("cache write: link results failed", "search_id", searchID, "err", err)
		out.errs = append(out.errs, "link results: "+err.Error())
	}
	return out
}
