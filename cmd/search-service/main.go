// jobmate-search-service
//
// Cached job search over Google Jobs (SerpApi).
// Exposes:
//   - POST /search-jobs      — cache-first search (HTTP, CORS enabled)
//   - JobSearch/Search       — same contract over gRPC
//   - GET  /health           — liveness + store ping
//
// Fresh fetches are written back to Postgres (or SQLite) and announced on
// Redis as EVENT_SEARCH_CACHED; a cron job prunes stale cache rows.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "search-service:", err)
		os.Exit(1)
	}
}
