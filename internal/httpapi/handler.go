// Package httpapi exposes the search pipeline over HTTP.
//
// Routes:
//
//	POST    /search-jobs               → run a cached job search
//	POST    /functions/v1/search-jobs  → alias kept for existing clients
//	OPTIONS (both of the above)        → CORS preflight
//	GET     /health                    → liveness + store ping
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"jobmate/search-service/internal/model"
	"jobmate/search-service/internal/search"
)

const maxBodyBytes = 1 << 20

// Searcher runs one search request.
type Searcher interface {
	Search(ctx context.Context, req model.SearchRequest) (*model.SearchResponse, error)
}

// Pinger reports store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds shared dependencies.
type Handler struct {
	svc     Searcher
	store   Pinger
	version string
	logger  *slog.Logger
}

// NewHandler returns a configured Handler.
func NewHandler(svc Searcher, store Pinger, version string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, store: store, version: version, logger: logger.With("component", "http")}
}

// RegisterRoutes mounts all search-service routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	searchJobs := withCORS(recoverSearch(h.logger, http.HandlerFunc(h.handleSearch)))
	mux.Handle("/search-jobs", searchJobs)
	mux.Handle("/functions/v1/search-jobs", searchJobs)
	mux.HandleFunc("/health", h.handleHealth)
}

// Routes returns mux wrapped in the standard middleware chain.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return requestID(recoverer(h.logger, accessLog(h.logger, mux)))
}

// ─── Handlers ────────────────────────────────────────────────────────────────

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
		return
	case http.MethodPost:
	default:
		searchError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req model.SearchRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		msg := "invalid JSON body"
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		searchError(w, msg, http.StatusBadRequest)
		return
	}

	resp, err := h.svc.Search(r.Context(), req)
	if err != nil {
		code, msg := httpStatus(err)
		if code >= http.StatusInternalServerError {
			h.logger.Error("search failed", "request_id", search.RequestIDFrom(r.Context()), "err", err)
		}
		searchError(w, msg, code)
		return
	}

	jsonOK(w, resp)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := map[string]string{
		"status":  "ok",
		"service": "search-service",
		"version": h.version,
	}
	code := http.StatusOK
	if h.store != nil {
		if err := h.store.Ping(ctx); err != nil {
			h.logger.Warn("health: store ping failed", "err", err)
			body["status"] = "degraded"
			body["store"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, body)
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// httpStatus maps pipeline errors to a status code and client message.
// Configuration and upstream failures are both 500s.
func httpStatus(err error) (int, string) {
	var ve *search.ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest, ve.Msg
	}
	return http.StatusInternalServerError, err.Error()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func jsonOK(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// searchError writes the search endpoint's error shape, which always carries
// an empty job list.
func searchError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, model.ErrorResponse{
		Error:        msg,
		Jobs:         []model.Listing{},
		FromCache:    false,
		TotalResults: 0,
	})
}
