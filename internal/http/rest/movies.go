package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hypertube/hypertube/internal/cache"
	"github.com/hypertube/hypertube/internal/catalog"
	"github.com/hypertube/hypertube/internal/download"
	"github.com/hypertube/hypertube/internal/logctx"
	"github.com/hypertube/hypertube/internal/media"
	"github.com/hypertube/hypertube/internal/storage"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// backgroundOpTimeout bounds fire-and-forget work detached from the
	// request context.
	backgroundOpTimeout = 5 * time.Minute
)

// MoviesHandler exposes the catalog, cache and download subsystems over
// REST. Handlers stay thin: request validation and status mapping only.
type MoviesHandler struct {
	cache            *cache.Service
	coord            *download.Coordinator
	catalog          catalog.Client
	preferredQuality string
	popularLimit     int
	evictionDays     int
}

// NewMoviesHandler creates a new movies handler.
func NewMoviesHandler(
	cacheSvc *cache.Service,
	coord *download.Coordinator,
	cat catalog.Client,
	preferredQuality string,
	popularLimit int,
	evictionDays int,
) *MoviesHandler {
	return &MoviesHandler{
		cache:            cacheSvc,
		coord:            coord,
		catalog:          cat,
		preferredQuality: preferredQuality,
		popularLimit:     popularLimit,
		evictionDays:     evictionDays,
	}
}

func (h *MoviesHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/movies", func(r chi.Router) {
		r.Get("/search", h.handleSearch)
		r.Get("/popular", h.handlePopular)
		r.Post("/popular/refresh", h.handlePopularRefresh)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleDetails)
			r.Get("/torrent", h.handleTorrentFile)
			r.Post("/download", h.handleStartDownload)
			r.Get("/download/status", h.handleDownloadStatus)
			r.Post("/download/pause", h.handlePauseDownload)
			r.Post("/download/resume", h.handleResumeDownload)
			r.Delete("/download", h.handleCancelDownload)
		})
	})

	r.Route("/cache", func(r chi.Router) {
		r.Post("/cleanup", h.handleCacheCleanup)
		r.Get("/stats", h.handleCacheStats)
	})

	return r
}

type searchResponse struct {
	Query      string                 `json:"query"`
	Page       int                    `json:"page"`
	Limit      int                    `json:"limit"`
	Provenance string                 `json:"provenance"`
	Results    []*media.ContentRecord `json:"results"`
}

func (h *MoviesHandler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "query parameter 'q' is required", http.StatusBadRequest)

		return
	}

	page := queryInt(r, "page", 1)
	limit := pageLimit(r)

	result, err := h.cache.Search(r.Context(), query, page, limit)
	if err != nil {
		h.serveError(w, r, err)

		return
	}

	h.writeJSON(w, r, http.StatusOK, &searchResponse{
		Query:      query,
		Page:       page,
		Limit:      limit,
		Provenance: result.Provenance,
		Results:    result.Results,
	})
}

func (h *MoviesHandler) handlePopular(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	limit := pageLimit(r)

	records, err := h.cache.Popular(r.Context(), (page-1)*limit, limit)
	if err != nil {
		h.serveError(w, r, err)

		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"page":    page,
		"limit":   limit,
		"results": records,
	})
}

func (h *MoviesHandler) handlePopularRefresh(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	// The upstream fetch can take a while; run it detached from the
	// request and answer immediately.
	go func() {
		ctx, cancel := context.WithTimeout(logctx.WithLogger(context.Background(), logger), backgroundOpTimeout)
		defer cancel()

		if _, err := h.cache.RefreshPopular(ctx, h.popularLimit); err != nil {
			logger.Error("background popular refresh failed", "err", err)
		}
	}()

	h.writeJSON(w, r, http.StatusAccepted, map[string]any{"status": "refresh started"})
}

type detailsResponse struct {
	*media.ContentRecord

	MetadataAgeDays int  `json:"metadata_age_days"`
	IsAvailable     bool `json:"is_available"`
}

func (h *MoviesHandler) handleDetails(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	forceRefresh, _ := strconv.ParseBool(r.URL.Query().Get("refresh"))

	rec, err := h.cache.Details(r.Context(), id, forceRefresh)
	if err != nil {
		h.serveError(w, r, err)

		return
	}

	age := 0
	if rec.MetadataFetchedAt != nil {
		age = int(time.Since(*rec.MetadataFetchedAt).Hours() / 24)
	}

	h.writeJSON(w, r, http.StatusOK, &detailsResponse{
		ContentRecord:   rec,
		MetadataAgeDays: age,
		IsAvailable:     rec.IsAvailable(),
	})
}

func (h *MoviesHandler) handleTorrentFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	content, err := h.catalog.TorrentFile(r.Context(), id)
	if err != nil {
		h.serveError(w, r, err)

		return
	}

	w.Header().Set("Content-Type", "application/x-bittorrent")
	w.Header().Set("Content-Disposition", "attachment; filename=\""+id+".torrent\"")

	if _, err := w.Write(content); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to write torrent file", "err", err)
	}
}

type startDownloadRequest struct {
	Quality string `json:"quality"`
}

func (h *MoviesHandler) handleStartDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req startDownloadRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)

			return
		}
	}

	quality := req.Quality
	if quality == "" {
		quality = h.preferredQuality
	}

	rec, err := h.cache.Details(r.Context(), id, false)
	if err != nil {
		h.serveError(w, r, err)

		return
	}

	variant := rec.BestTorrent(quality)
	if variant == nil {
		http.Error(w, "no torrent available for this title", http.StatusConflict)

		return
	}

	var metainfoBytes []byte
	if variant.Magnet == "" {
		// Archive-style providers publish packed metadata, not magnets.
		metainfoBytes, err = h.catalog.TorrentFile(r.Context(), id)
		if err != nil {
			h.serveError(w, r, err)

			return
		}
	}

	started, err := h.coord.StartDownload(r.Context(), id, download.Locator{
		Magnet:   variant.Magnet,
		Metainfo: metainfoBytes,
		Quality:  variant.Quality,
	})
	if err != nil {
		h.serveError(w, r, err)

		return
	}

	h.writeJSON(w, r, http.StatusAccepted, started)
}

func (h *MoviesHandler) handleDownloadStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	status, err := h.coord.DownloadStatus(r.Context(), id)
	if err != nil {
		h.serveError(w, r, err)

		return
	}

	h.writeJSON(w, r, http.StatusOK, status)
}

func (h *MoviesHandler) handlePauseDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.coord.PauseDownload(r.Context(), id); err != nil {
		h.serveError(w, r, err)

		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]any{"status": "paused"})
}

func (h *MoviesHandler) handleResumeDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.coord.ResumeDownload(r.Context(), id); err != nil {
		h.serveError(w, r, err)

		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]any{"status": "resumed"})
}

func (h *MoviesHandler) handleCancelDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.coord.CancelDownload(r.Context(), id); err != nil {
		h.serveError(w, r, err)

		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]any{"status": "cancelled"})
}

func (h *MoviesHandler) handleCacheCleanup(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", h.evictionDays)
	if days < 1 {
		http.Error(w, "days must be positive", http.StatusBadRequest)

		return
	}

	deleted, err := h.cache.EvictStale(r.Context(), days)
	if err != nil {
		h.serveError(w, r, err)

		return
	}

	h.writeJSON(w, r, http.StatusOK, map[string]any{
		"deleted":         deleted,
		"older_than_days": days,
	})
}

func (h *MoviesHandler) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cache.Stats(r.Context())
	if err != nil {
		h.serveError(w, r, err)

		return
	}

	h.writeJSON(w, r, http.StatusOK, statsResponse(stats))
}

func statsResponse(stats *storage.CacheStats) map[string]any {
	return map[string]any{
		"total_records":      stats.TotalRecords,
		"popular_records":    stats.PopularRecords,
		"downloaded_records": stats.DownloadedRecords,
		"avg_search_hits":    stats.AvgSearchHits,
	}
}

// serveError maps domain errors onto HTTP statuses.
func (h *MoviesHandler) serveError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logctx.LoggerFromContext(r.Context())

	var startErr *media.EngineStartError
	var catErr *media.CatalogError

	switch {
	case errors.Is(err, media.ErrNotFound):
		http.Error(w, "content not found", http.StatusNotFound)
	case errors.Is(err, media.ErrNoSession):
		http.Error(w, "no active download for this title", http.StatusConflict)
	case errors.As(err, &startErr):
		logger.Error("engine failed to start download", "content_id", startErr.ContentID, "err", err)
		http.Error(w, "failed to start download: "+startErr.Reason, http.StatusBadGateway)
	case errors.As(err, &catErr):
		logger.Error("catalog request failed", "provider", catErr.Provider, "op", catErr.Op, "err", err)
		http.Error(w, "upstream catalog unavailable", http.StatusBadGateway)
	default:
		logger.Error("request failed", "err", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func (h *MoviesHandler) writeJSON(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v < 1 {
		return fallback
	}

	return v
}

func pageLimit(r *http.Request) int {
	limit := queryInt(r, "limit", defaultPageSize)
	if limit > maxPageSize {
		limit = maxPageSize
	}

	return limit
}
