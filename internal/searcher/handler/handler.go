// Package handler exposes the query engine over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/catalog"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/internal/snapshot"
	apperrors "github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/awesome-search/pkg/tracing"
)

// Leaser hands out the generation a request reads from.
type Leaser interface {
	Acquire() (*snapshot.Lease, error)
}

// MetadataReader returns the last dataset notification, or nil.
type MetadataReader interface {
	Metadata() (map[string]any, error)
}

// Options carries the optional collaborators of a Handler.
type Options struct {
	Cache     *cache.QueryCache
	Collector *analytics.Collector
	Metrics   *metrics.Metrics
	Tracer    *tracing.Tracer
	Metadata  MetadataReader
	Source    func() catalog.SourceInfo
}

type Handler struct {
	leaser Leaser
	engine *executor.Engine
	opts   Options
	logger *slog.Logger
}

func New(leaser Leaser, engine *executor.Engine, opts Options) *Handler {
	return &Handler{
		leaser: leaser,
		engine: engine,
		opts:   opts,
		logger: slog.Default().With("component", "search-handler"),
	}
}

// Register mounts the read API on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/search", h.Search)
	mux.HandleFunc("GET /api/lists", h.Lists)
	mux.HandleFunc("GET /api/lists/{id}", h.List)
	mux.HandleFunc("GET /api/repositories/{id}", h.Repository)
	mux.HandleFunc("GET /api/stats", h.Stats)
	mux.HandleFunc("GET /api/db-version", h.DBVersion)
	mux.HandleFunc("GET /api/cache/stats", h.CacheStats)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)
	cfg := h.engine.Config()

	q := r.URL.Query()
	req := executor.Request{
		Query:    q.Get("q"),
		Language: q.Get("language"),
		Category: q.Get("category"),
		SortBy:   q.Get("sortBy"),
	}
	var err error
	if req.Page, err = intParam(q.Get("page"), 1, "page"); err != nil {
		h.fail(w, r, "invalid", err)
		return
	}
	if req.PageSize, err = intParam(q.Get("limit"), cfg.DefaultPageSize, "limit"); err != nil {
		h.fail(w, r, "invalid", err)
		return
	}
	if raw := q.Get("minStars"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			h.fail(w, r, "invalid", apperrors.Invalid("minStars must be an integer"))
			return
		}
		req.MinStars = &n
	}
	if req, err = h.engine.Normalize(req); err != nil {
		h.fail(w, r, "invalid", err)
		return
	}

	lease, err := h.leaser.Acquire()
	if err != nil {
		h.fail(w, r, "error", err)
		return
	}
	defer lease.Release()
	gen := lease.Generation()
	version := gen.Version()

	ctx, span := h.opts.Tracer.Start(ctx, "search", logger.RequestID(ctx))
	span.SetAttr("query", req.Query)
	span.SetAttr("index_version", version)

	compute := func() (*executor.Page[executor.SearchResult], error) {
		return h.engine.Search(ctx, gen, req)
	}
	var (
		page     *executor.Page[executor.SearchResult]
		cacheHit bool
	)
	cacheStatus := "disabled"
	if h.opts.Cache != nil {
		page, cacheHit, err = h.opts.Cache.GetOrCompute(ctx, version, req, compute)
		cacheStatus = "miss"
		if cacheHit {
			cacheStatus = "hit"
		}
	} else {
		page, err = compute()
	}
	span.SetAttr("cache", cacheStatus)
	span.End()
	span.Log()
	if err != nil {
		log.Error("search execution failed", "query", req.Query, "error", err)
		h.fail(w, r, "error", err)
		return
	}

	latency := time.Since(start)
	log.Info("search completed",
		"query", req.Query,
		"total", page.Total,
		"returned", len(page.Results),
		"cache", cacheStatus,
		"index_version", version,
		"latency_ms", latency.Milliseconds(),
	)
	if m := h.opts.Metrics; m != nil {
		result := "ok"
		if page.Total == 0 {
			result = "zero_result"
		}
		m.SearchQueriesTotal.WithLabelValues(result).Inc()
		m.SearchLatency.WithLabelValues(cacheStatus).Observe(latency.Seconds())
		m.SearchResultsCount.Observe(float64(page.Total))
	}
	if h.opts.Collector != nil {
		var terms []string
		if plan, err := parser.Parse(req.Query); err == nil {
			terms = plan.Terms
		}
		h.opts.Collector.Track(analytics.NewSearchEvent(analytics.SearchEvent{
			Query:     req.Query,
			Terms:     terms,
			Language:  req.Language,
			Category:  req.Category,
			SortBy:    req.SortBy,
			Page:      req.Page,
			Total:     page.Total,
			Returned:  len(page.Results),
			LatencyMs: latency.Milliseconds(),
			CacheHit:  cacheHit,
			Version:   version,
			RequestID: logger.RequestID(ctx),
		}))
	}
	w.Header().Set("X-Cache", cacheStatus)
	w.Header().Set("X-Index-Version", version)
	h.writeJSON(w, http.StatusOK, page)
}

// Lists serves {lists, categories, total}.
func (h *Handler) Lists(w http.ResponseWriter, r *http.Request) {
	h.withGeneration(w, r, func(gen *index.Generation) (any, error) {
		lists := h.engine.Lists(gen, r.URL.Query().Get("category"))
		return map[string]any{
			"lists":      lists,
			"categories": h.engine.Categories(gen),
			"total":      len(lists),
		}, nil
	})
}

// List serves one list with a page of its repositories.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.writeErr(w, r, apperrors.Invalid("Invalid list ID"))
		return
	}
	q := r.URL.Query()
	page, err := intParam(q.Get("page"), 1, "page")
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	size, err := intParam(q.Get("limit"), h.engine.Config().ListPageSize, "limit")
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.withGeneration(w, r, func(gen *index.Generation) (any, error) {
		list, repos, err := h.engine.ListRepositories(gen, id, page, size)
		if err != nil {
			return nil, err
		}
		return map[string]any{"list": list, "repositories": repos}, nil
	})
}

func (h *Handler) Repository(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		h.writeErr(w, r, apperrors.Invalid("Invalid repository ID"))
		return
	}
	h.withGeneration(w, r, func(gen *index.Generation) (any, error) {
		return h.engine.Repository(gen, id)
	})
}

// Stats serves {stats, languages, categories, trending}.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	h.withGeneration(w, r, func(gen *index.Generation) (any, error) {
		return map[string]any{
			"stats":      h.engine.Stats(gen),
			"languages":  h.engine.Languages(gen),
			"categories": h.engine.Categories(gen),
			"trending":   h.engine.Trending(gen, 0),
		}, nil
	})
}

// DBVersion reports which dataset and generation are being served. Fields
// from the last dataset notification are merged in but never replace the
// generation fields.
func (h *Handler) DBVersion(w http.ResponseWriter, r *http.Request) {
	lease, err := h.leaser.Acquire()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	info := lease.Info()
	lease.Release()

	body := make(map[string]any)
	if h.opts.Metadata != nil {
		md, err := h.opts.Metadata.Metadata()
		if err != nil {
			logger.FromContext(r.Context()).Warn("reading dataset metadata", "error", err)
		}
		maps.Copy(body, md)
	}
	if h.opts.Source != nil {
		src := h.opts.Source()
		body["size"] = src.Size
		body["modified"] = src.Modified
		body["driver"] = src.Driver
	}
	if _, ok := body["version"]; !ok {
		body["version"] = info.Version
	}
	body["index_version"] = info.Version
	body["generation"] = info.Seq
	body["snapshot_id"] = info.SnapshotID
	body["documents"] = info.Documents
	body["built_at"] = info.BuiltAt
	body["index_size"] = info.Size
	h.writeJSON(w, http.StatusOK, body)
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

// withGeneration leases the current generation for the duration of fn and
// renders its result.
func (h *Handler) withGeneration(w http.ResponseWriter, r *http.Request, fn func(gen *index.Generation) (any, error)) {
	lease, err := h.leaser.Acquire()
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	defer lease.Release()
	body, err := fn(lease.Generation())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, body)
}

func intParam(raw string, def int, name string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, apperrors.Invalid("%s must be a positive integer", name)
	}
	return n, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, result string, err error) {
	if m := h.opts.Metrics; m != nil {
		if apperrors.HTTPStatusCode(err) == http.StatusBadRequest {
			result = "invalid"
		}
		m.SearchQueriesTotal.WithLabelValues(result).Inc()
	}
	h.writeErr(w, r, err)
}

func (h *Handler) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError && !isContextErr(err) {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	h.writeError(w, status, apperrors.PublicMessage(err))
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
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
