package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hypertube/hypertube/internal/catalog"
	"github.com/hypertube/hypertube/internal/logctx"
	"github.com/hypertube/hypertube/internal/media"
	"github.com/hypertube/hypertube/internal/storage"
	"github.com/hypertube/hypertube/internal/telemetry"
)

// Provenance tells a caller whether results came from the local cache
// or straight from the upstream catalog.
const (
	ProvenanceCache    = "cache"
	ProvenanceExternal = "external"
)

// minTermLength filters search noise: terms shorter than this do not
// participate in cache matching.
const minTermLength = 3

// SearchResult is a page of records plus where they came from.
type SearchResult struct {
	Results    []*media.ContentRecord `json:"results"`
	Provenance string                 `json:"provenance"`
}

// Service is the cache-first metadata layer. Reads prefer the local
// store; the upstream catalog fills misses and refreshes stale entries.
type Service struct {
	repo          storage.ContentRepository
	catalog       catalog.Client
	tel           *telemetry.Telemetry
	freshnessDays int
}

func NewService(repo storage.ContentRepository, cat catalog.Client, tel *telemetry.Telemetry, freshnessDays int) *Service {
	return &Service{
		repo:          repo,
		catalog:       cat,
		tel:           tel,
		freshnessDays: freshnessDays,
	}
}

// searchTerms tokenizes a query, dropping short noise words. When
// nothing survives the filter the raw query is matched as-is.
func searchTerms(query string) []string {
	var terms []string

	for _, term := range strings.Fields(strings.ToLower(query)) {
		if len(term) >= minTermLength {
			terms = append(terms, term)
		}
	}

	if len(terms) == 0 {
		return []string{strings.ToLower(strings.TrimSpace(query))}
	}

	return terms
}

// Search serves a query from the cache when it can fill the page, and
// falls through to the upstream catalog otherwise. Catalog failures
// degrade to whatever the cache had.
func (s *Service) Search(ctx context.Context, query string, page, limit int) (*SearchResult, error) {
	logger := logctx.LoggerFromContext(ctx)

	if page < 1 {
		page = 1
	}

	offset := (page - 1) * limit

	cached, err := s.repo.SearchRecords(ctx, searchTerms(query), offset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search cache: %w", err)
	}

	if len(cached) >= limit {
		s.recordHits(ctx, cached)
		s.tel.RecordCacheSearch(ctx, ProvenanceCache)

		return &SearchResult{Results: cached, Provenance: ProvenanceCache}, nil
	}

	external, err := s.catalog.Search(ctx, query, page, limit)
	if err != nil {
		logger.Warn("catalog search failed, serving cached results", "query", query, "err", err)

		s.recordHits(ctx, cached)
		s.tel.RecordCacheSearch(ctx, ProvenanceCache)

		return &SearchResult{Results: cached, Provenance: ProvenanceCache}, nil
	}

	for _, rec := range external {
		if err := s.upsert(ctx, rec, false); err != nil {
			logger.Error("failed to cache search result", "content_id", rec.ID, "err", err)
		}
	}

	s.tel.RecordCacheSearch(ctx, ProvenanceExternal)

	return &SearchResult{Results: external, Provenance: ProvenanceExternal}, nil
}

func (s *Service) recordHits(ctx context.Context, records []*media.ContentRecord) {
	logger := logctx.LoggerFromContext(ctx)
	now := time.Now()

	for _, rec := range records {
		if err := s.repo.RecordSearchHit(ctx, rec.ID, now); err != nil {
			logger.Error("failed to record search hit", "content_id", rec.ID, "err", err)
		}
	}
}

// Details returns the full record for one id, refreshing from the
// catalog when the cached copy is absent or stale. A catalog failure
// with a cached copy on hand serves the stale copy.
func (s *Service) Details(ctx context.Context, id string, forceRefresh bool) (*media.ContentRecord, error) {
	logger := logctx.LoggerFromContext(ctx)

	cached, err := s.repo.GetRecord(ctx, id)
	if err != nil && !errors.Is(err, media.ErrNotFound) {
		return nil, err
	}

	if cached != nil && !forceRefresh && !s.isStale(cached) {
		return cached, nil
	}

	fresh, err := s.catalog.Details(ctx, id)
	if err != nil {
		if cached != nil {
			logger.Warn("catalog details failed, serving stale record", "content_id", id, "err", err)

			return cached, nil
		}

		// Nothing cached to degrade to: the id is unobtainable right
		// now, whatever the upstream failure was.
		if !errors.Is(err, media.ErrNotFound) {
			logger.Warn("catalog details failed with nothing cached", "content_id", id, "err", err)
		}

		return nil, media.ErrNotFound
	}

	if err := s.upsert(ctx, fresh, true); err != nil {
		return nil, fmt.Errorf("failed to cache details: %w", err)
	}

	return s.repo.GetRecord(ctx, id)
}

// isStale applies the per-record freshness override when present and
// the service default otherwise. Records without full metadata are
// always stale.
func (s *Service) isStale(rec *media.ContentRecord) bool {
	if !rec.HasFullMetadata() {
		return true
	}

	days := rec.MetadataFreshnessDays
	if days <= 0 {
		days = s.freshnessDays
	}

	return time.Since(*rec.MetadataFetchedAt) > time.Duration(days)*24*time.Hour
}

// RefreshPopular replaces the popular set with the catalog's current
// trending list. Rank follows return order; the score weighs raw
// downloads by the item's normalized rating.
func (s *Service) RefreshPopular(ctx context.Context, limit int) ([]*media.ContentRecord, error) {
	logger := logctx.LoggerFromContext(ctx)

	trending, err := s.catalog.Search(ctx, "", 1, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch trending set: %w", err)
	}

	if err := s.repo.ClearPopularity(ctx); err != nil {
		return nil, fmt.Errorf("failed to clear popularity flags: %w", err)
	}

	for i, rec := range trending {
		if err := s.upsert(ctx, rec, false); err != nil {
			logger.Error("failed to cache trending record", "content_id", rec.ID, "err", err)

			continue
		}

		score := float64(rec.Downloads) * (1 + rec.RatingScore())
		if err := s.repo.SetPopularity(ctx, rec.ID, i+1, score); err != nil {
			logger.Error("failed to set popularity", "content_id", rec.ID, "err", err)
		}
	}

	logger.Info("popular set refreshed", "count", len(trending))

	return s.repo.ListPopular(ctx, 0, limit)
}

// Popular pages through the current popular set without touching the
// upstream catalog.
func (s *Service) Popular(ctx context.Context, offset, limit int) ([]*media.ContentRecord, error) {
	return s.repo.ListPopular(ctx, offset, limit)
}

// EvictStale removes records older than the given number of days that
// nothing protects: downloaded or popular records always survive.
func (s *Service) EvictStale(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -days)

	deleted, err := s.repo.DeleteStaleRecords(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to evict stale records: %w", err)
	}

	if deleted > 0 {
		logctx.LoggerFromContext(ctx).Info("evicted stale cache records", "count", deleted, "older_than_days", days)
	}

	s.tel.RecordCacheEvictions(ctx, deleted)

	return deleted, nil
}

// Stats summarizes the cache.
func (s *Service) Stats(ctx context.Context) (*storage.CacheStats, error) {
	return s.repo.CacheStats(ctx)
}

// upsert writes a catalog payload through the merge policy: a basic
// (search-derived) payload never overwrites the descriptive fields of a
// record that has full metadata, and acquisition and watch state always
// survive.
func (s *Service) upsert(ctx context.Context, incoming *media.ContentRecord, full bool) error {
	existing, err := s.repo.GetRecord(ctx, incoming.ID)
	if err != nil {
		if !errors.Is(err, media.ErrNotFound) {
			return err
		}

		rec := *incoming
		if full {
			now := time.Now()
			rec.MetadataFetchedAt = &now
		}

		return s.repo.UpsertRecord(ctx, &rec)
	}

	return s.repo.UpsertRecord(ctx, mergeRecords(existing, incoming, full))
}

// mergeRecords folds an incoming catalog payload into the existing
// record. The existing struct carries the authoritative acquisition,
// watch and cache-bookkeeping state, so the merge starts from it.
func mergeRecords(existing, incoming *media.ContentRecord, full bool) *media.ContentRecord {
	merged := *existing

	// Availability and popularity inputs refresh on every sighting.
	if len(incoming.Torrents) > 0 {
		merged.Torrents = incoming.Torrents
	}

	if incoming.Downloads > 0 {
		merged.Downloads = incoming.Downloads
	}

	if incoming.NumReviews > 0 {
		merged.NumReviews = incoming.NumReviews
	}

	if incoming.ArchiveRating > 0 {
		merged.ArchiveRating = incoming.ArchiveRating
	}

	if incoming.IMDBRating > 0 {
		merged.IMDBRating = incoming.IMDBRating
	}

	if !full && existing.HasFullMetadata() {
		return &merged
	}

	merged.Title = incoming.Title
	merged.Description = incoming.Description
	merged.Year = incoming.Year
	merged.RuntimeSeconds = incoming.RuntimeSeconds
	merged.Director = incoming.Director
	merged.Genres = incoming.Genres
	merged.PosterURL = incoming.PosterURL
	merged.CatalogURL = incoming.CatalogURL

	if incoming.Language != "" {
		merged.Language = incoming.Language
	}

	if incoming.IMDBID != "" {
		merged.IMDBID = incoming.IMDBID
	}

	if full {
		now := time.Now()
		merged.MetadataFetchedAt = &now
	}

	return &merged
}
