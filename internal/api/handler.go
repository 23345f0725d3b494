// Package api serves the read-only status endpoints of serve mode.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/rudolphlogin/feedload/internal/analytics"
	"github.com/rudolphlogin/feedload/internal/domain"
)

// Pagination defaults and limits.
const (
	DefaultLimit = 100
	MaxLimit     = 1000
)

type Store interface {
	ListExecutions(ctx context.Context, feedID int64, limit, offset int) ([]domain.ExecutionRecord, error)
}

// HealthChecker is a dependency the verbose /health response reports on.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// HealthFunc lets a plain function act as a HealthChecker.
type HealthFunc func(ctx context.Context) error

func (f HealthFunc) PingContext(ctx context.Context) error { return f(ctx) }

// CounterReader reads outcome counters. *analytics.RedisSink satisfies it.
type CounterReader interface {
	Get(ctx context.Context, sourceEnv string, feedID int64, date string) (analytics.Counters, error)
}

type Handler struct {
	store    Store
	counters CounterReader
	checks   map[string]HealthChecker
	metrics  http.Handler
	mpath    string
	origins  []string
	logger   *slog.Logger
}

func NewHandler(store Store) *Handler {
	return &Handler{
		store:  store,
		checks: make(map[string]HealthChecker),
		logger: slog.Default().With("component", "api"),
	}
}

// WithHealthChecker adds a component to the verbose /health response.
func (h *Handler) WithHealthChecker(name string, c HealthChecker) *Handler {
	h.checks[name] = c
	return h
}

// WithCounters enables the counters endpoint.
func (h *Handler) WithCounters(c CounterReader) *Handler {
	h.counters = c
	return h
}

// WithMetricsHandler mounts a metrics handler at path, /metrics when empty.
func (h *Handler) WithMetricsHandler(path string, m http.Handler) *Handler {
	if path == "" {
		path = "/metrics"
	}
	h.mpath = path
	h.metrics = m
	return h
}

// WithCORS allows the given origins to read the API.
func (h *Handler) WithCORS(origins []string) *Handler {
	h.origins = origins
	return h
}

func (h *Handler) WithLogger(logger *slog.Logger) *Handler {
	h.logger = logger
	return h
}

// Router builds the HTTP routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	if len(h.origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.origins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", h.health)
	if h.metrics != nil {
		r.Method(http.MethodGet, h.mpath, h.metrics)
	}
	r.Route("/v1/feeds/{feedID}", func(r chi.Router) {
		r.Get("/executions", h.listExecutions)
		r.Get("/counters", h.getCounters)
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"
	if !verbose || len(h.checks) == 0 {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{Status: "ok", Components: make(map[string]string, len(h.checks))}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.checks[name].PingContext(ctx); err != nil {
			resp.Status = "degraded"
			resp.Components[name] = "unhealthy: " + err.Error()
		} else {
			resp.Components[name] = "healthy"
		}
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}
	writeJSON(w, statusCode, resp)
}

func (h *Handler) listExecutions(w http.ResponseWriter, r *http.Request) {
	feedID, err := parseFeedID(chi.URLParam(r, "feedID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, err := h.store.ListExecutions(r.Context(), feedID, limit, offset)
	if err != nil {
		h.logger.Error("list executions", "feed_id", feedID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to list executions")
		return
	}

	resp := ListExecutionsResponse{Executions: make([]ExecutionResponse, len(records))}
	for i, rec := range records {
		resp.Executions[i] = newExecutionResponse(rec)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getCounters(w http.ResponseWriter, r *http.Request) {
	if h.counters == nil {
		writeError(w, http.StatusNotFound, "analytics disabled")
		return
	}
	feedID, err := parseFeedID(chi.URLParam(r, "feedID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	sourceEnv := q.Get("source_env")
	date := q.Get("date")
	if err := validateCounterQuery(sourceEnv, date); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	c, err := h.counters.Get(r.Context(), sourceEnv, feedID, date)
	if err != nil {
		h.logger.Error("read counters", "feed_id", feedID, "err", err)
		writeError(w, http.StatusInternalServerError, "failed to read counters")
		return
	}
	writeJSON(w, http.StatusOK, CountersResponse{
		FeedID:    feedID,
		SourceEnv: sourceEnv,
		Date:      date,
		Success:   c.Success,
		Failed:    c.Failed,
		Skipped:   c.Skipped,
		Files:     c.Files,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("api: json encode error", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// parsePagination extracts and validates limit/offset query parameters.
// Returns DefaultLimit if limit is not specified, and 0 for offset if not specified.
func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err = strconv.Atoi(limitStr)
		if err != nil {
			return 0, 0, err
		}
		if limit < 0 {
			return 0, 0, strconv.ErrRange
		}
		if limit > MaxLimit {
			return 0, 0, &limitExceededError{max: MaxLimit}
		}
		if limit == 0 {
			limit = DefaultLimit
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err = strconv.Atoi(offsetStr)
		if err != nil {
			return 0, 0, err
		}
		if offset < 0 {
			return 0, 0, strconv.ErrRange
		}
	}

	return limit, offset, nil
}

type limitExceededError struct {
	max int
}

func (e *limitExceededError) Error() string {
	return "limit exceeds maximum of " + strconv.Itoa(e.max)
}
