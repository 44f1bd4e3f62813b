// Package handler exposes the search system over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/index"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/query"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/search"
	"github.com/Adithya-Monish-Kumar-K/facet-search/internal/system"
	apperrors "github.com/Adithya-Monish-Kumar-K/facet-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/facet-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/facet-search/pkg/metrics"
)

// SearchSystem is the subset of *system.System the handlers use.
type SearchSystem interface {
	Search(ctx context.Context, req system.Request) (*search.Result, error)
	Parse(req system.Request) (query.Node, error)
	Stats() (index.Stats, error)
	Reindex(ctx context.Context, src system.Source) (index.Stats, error)
	Building() bool
}

// SearchTracker receives completed searches. *events.Collector satisfies it.
type SearchTracker interface {
	TrackSearch(res *search.Result, latency time.Duration, cacheHit bool, requestID string)
}

type Options struct {
	DefaultLimit int
	MaxResults   int
	// Sources can be rebuilt through POST /api/v1/reindex?source=name.
	Sources       map[string]system.Source
	DefaultSource string
	Cache         *cache.QueryCache
	Tracker       SearchTracker
	Metrics       *metrics.Metrics
}

type Handler struct {
	sys    SearchSystem
	opts   Options
	logger *slog.Logger
}

func New(sys SearchSystem, opts Options) *Handler {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 10
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 1000
	}
	opts.DefaultLimit = min(opts.DefaultLimit, opts.MaxResults)
	return &Handler{
		sys:    sys,
		opts:   opts,
		logger: logger.WithComponent("search-handler"),
	}
}

// Register mounts the API routes on mux. Each wrapSearch is applied to the
// search route only, outermost first.
func (h *Handler) Register(mux *http.ServeMux, wrapSearch ...func(http.Handler) http.Handler) {
	var search http.Handler = http.HandlerFunc(h.Search)
	for i := len(wrapSearch) - 1; i >= 0; i-- {
		search = wrapSearch[i](search)
	}
	mux.Handle("GET /api/v1/search", search)
	mux.HandleFunc("GET /api/v1/generation", h.Generation)
	mux.HandleFunc("POST /api/v1/reindex", h.Reindex)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

type searchResponse struct {
	*search.Result
	CacheHit bool  `json:"cache_hit"`
	TookMs   int64 `json:"took_ms"`
}

// Search serves GET /api/v1/search?q=&limit=&facet=&fields=&top=.
// An empty q matches every document; a missing q is rejected.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)
	params := r.URL.Query()

	if !params.Has("q") {
		h.writeError(w, http.StatusBadRequest, "query parameter 'q' is required")
		return
	}
	req := system.Request{
		Expression:      params.Get("q"),
		DefaultFields:   listParam(params["fields"]),
		FacetDimensions: listParam(params["facet"]),
		Limit:           h.opts.DefaultLimit,
	}
	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		req.Limit = min(n, h.opts.MaxResults)
	}
	if v := params.Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			h.writeError(w, http.StatusBadRequest, "top must be a positive integer")
			return
		}
		req.FacetTopN = n
	}

	result, cacheHit, err := h.search(ctx, req)
	cacheStatus := "disabled"
	if h.opts.Cache != nil {
		cacheStatus = "miss"
		if cacheHit {
			cacheStatus = "hit"
		}
	}
	if err != nil {
		h.writeSearchError(w, log, req.Expression, err)
		return
	}

	took := time.Since(start)
	if h.opts.Metrics != nil {
		h.opts.Metrics.SearchLatency.WithLabelValues(cacheStatus).Observe(took.Seconds())
	}
	log.Info("search completed",
		"query", result.Query,
		"generation", result.Generation,
		"total_hits", result.TotalHits,
		"returned", len(result.Hits),
		"cache", cacheStatus,
		"latency_ms", took.Milliseconds(),
	)
	if h.opts.Tracker != nil {
		h.opts.Tracker.TrackSearch(result, took, cacheHit, logger.RequestID(ctx))
	}
	h.writeJSON(w, http.StatusOK, searchResponse{Result: result, CacheHit: cacheHit, TookMs: took.Milliseconds()})
}

func (h *Handler) search(ctx context.Context, req system.Request) (*search.Result, bool, error) {
	if h.opts.Cache == nil {
		res, err := h.sys.Search(ctx, req)
		return res, false, err
	}
	stats, err := h.sys.Stats()
	if err != nil {
		return nil, false, err
	}
	node, err := h.sys.Parse(req)
	if err != nil {
		return nil, false, err
	}
	key := cache.Key{
		Generation: stats.ID,
		Query:      strings.Join(req.DefaultFields, ",") + "|" + node.String(),
		Limit:      req.Limit,
		Dimensions: req.FacetDimensions,
		TopN:       req.FacetTopN,
	}
	return h.opts.Cache.GetOrCompute(ctx, key, func() (*search.Result, error) {
		return h.sys.Search(ctx, req)
	})
}

type generationResponse struct {
	index.Stats
	Building bool `json:"building"`
}

// Generation serves GET /api/v1/generation.
func (h *Handler) Generation(w http.ResponseWriter, r *http.Request) {
	stats, err := h.sys.Stats()
	if err != nil {
		h.writeError(w, apperrors.HTTPStatusCode(err), err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, generationResponse{Stats: stats, Building: h.sys.Building()})
}

// Reindex serves POST /api/v1/reindex?source=name, rebuilding the
// generation before responding.
func (h *Handler) Reindex(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	name := r.URL.Query().Get("source")
	if name == "" {
		name = h.opts.DefaultSource
	}
	src, ok := h.opts.Sources[name]
	if !ok {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown source %q", name))
		return
	}
	stats, err := h.sys.Reindex(r.Context(), src)
	if err != nil {
		status := apperrors.HTTPStatusCode(err)
		log.Warn("reindex failed", "source", name, "status", status, "error", err)
		h.writeError(w, status, err.Error())
		return
	}
	log.Info("reindex completed", "source", name, "generation", stats.ID, "documents", stats.Documents)
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.opts.Cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	hits, misses := h.opts.Cache.Stats()
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"hits":     hits,
		"misses":   misses,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.opts.Cache == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := h.opts.Cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

func (h *Handler) writeSearchError(w http.ResponseWriter, log *slog.Logger, expr string, err error) {
	var syntax *apperrors.QuerySyntaxError
	switch {
	case errors.As(err, &syntax):
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":    syntax.Reason,
			"position": syntax.Pos,
			"query":    syntax.Expression,
		})
	case errors.Is(err, context.DeadlineExceeded):
		h.writeError(w, http.StatusGatewayTimeout, "search timed out")
	default:
		status := apperrors.HTTPStatusCode(err)
		if status >= 500 {
			log.Error("search failed", "query", expr, "error", err)
		}
		msg := err.Error()
		if status == http.StatusInternalServerError {
			msg = "search failed"
		}
		h.writeError(w, status, msg)
	}
}

// listParam accepts both repeated and comma-separated values.
func listParam(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
