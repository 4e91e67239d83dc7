package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/hypertube/hypertube/internal/media"
	"github.com/hypertube/hypertube/internal/storage"
)

// fakeCatalog implements catalog.Client for testing.
type fakeCatalog struct {
	searchFunc   func(ctx context.Context, query string, page, limit int) ([]*media.ContentRecord, error)
	detailsFunc  func(ctx context.Context, id string) (*media.ContentRecord, error)
	searchCalled int
}

func (f *fakeCatalog) Search(ctx context.Context, query string, page, limit int) ([]*media.ContentRecord, error) {
	f.searchCalled++

	if f.searchFunc != nil {
		return f.searchFunc(ctx, query, page, limit)
	}

	return nil, nil
}

func (f *fakeCatalog) Details(ctx context.Context, id string) (*media.ContentRecord, error) {
	if f.detailsFunc != nil {
		return f.detailsFunc(ctx, id)
	}

	return nil, media.ErrNotFound
}

func (f *fakeCatalog) TorrentFile(ctx context.Context, id string) ([]byte, error) {
	return nil, media.ErrNotFound
}

// fakeRepo is an in-memory ContentRepository recording popularity and
// eviction calls.
type fakeRepo struct {
	records map[string]*media.ContentRecord

	searchResults     []*media.ContentRecord
	searchTerms       []string
	hits              map[string]int
	popularityCleared bool
	popularity        map[string][2]float64 // id -> {rank, score}
	evictCutoff       time.Time
	evictReturns      int64
}

func newFakeRepo(recs ...*media.ContentRecord) *fakeRepo {
	f := &fakeRepo{
		records:    make(map[string]*media.ContentRecord),
		hits:       make(map[string]int),
		popularity: make(map[string][2]float64),
	}
	for _, r := range recs {
		f.records[r.ID] = r
	}

	return f
}

func (f *fakeRepo) GetRecord(_ context.Context, id string) (*media.ContentRecord, error) {
	rec, ok := f.records[id]
	if !ok {
		return nil, media.ErrNotFound
	}

	cp := *rec

	return &cp, nil
}

func (f *fakeRepo) SearchRecords(_ context.Context, terms []string, _, _ int) ([]*media.ContentRecord, error) {
	f.searchTerms = terms

	return f.searchResults, nil
}

func (f *fakeRepo) ListByDownloadStatus(_ context.Context, _ media.DownloadStatus) ([]*media.ContentRecord, error) {
	return nil, nil
}

func (f *fakeRepo) ListPopular(_ context.Context, _, limit int) ([]*media.ContentRecord, error) {
	var out []*media.ContentRecord

	for id := range f.popularity {
		if rec, ok := f.records[id]; ok {
			cp := *rec
			out = append(out, &cp)
		}
	}

	return out, nil
}

func (f *fakeRepo) CacheStats(_ context.Context) (*storage.CacheStats, error) {
	return &storage.CacheStats{TotalRecords: int64(len(f.records))}, nil
}

func (f *fakeRepo) UpsertRecord(_ context.Context, rec *media.ContentRecord) error {
	cp := *rec
	f.records[rec.ID] = &cp

	return nil
}

func (f *fakeRepo) DeleteRecord(_ context.Context, id string) error {
	delete(f.records, id)

	return nil
}

func (f *fakeRepo) BeginDownload(_ context.Context, _, _ string) error { return nil }

func (f *fakeRepo) UpdateDownloadProgress(_ context.Context, _ string, _ media.DownloadStatus, _ int) error {
	return nil
}

func (f *fakeRepo) MarkDownloadComplete(_ context.Context, _, _ string, _ int64, _ time.Time) error {
	return nil
}

func (f *fakeRepo) MarkDownloadFailed(_ context.Context, _, _ string) error { return nil }
func (f *fakeRepo) ResetDownloadState(_ context.Context, _ string) error    { return nil }

func (f *fakeRepo) RecordSearchHit(_ context.Context, id string, _ time.Time) error {
	f.hits[id]++

	return nil
}

func (f *fakeRepo) ClearPopularity(_ context.Context) error {
	f.popularityCleared = true
	f.popularity = make(map[string][2]float64)

	return nil
}

func (f *fakeRepo) SetPopularity(_ context.Context, id string, rank int, score float64) error {
	f.popularity[id] = [2]float64{float64(rank), score}

	return nil
}

func (f *fakeRepo) DeleteStaleRecords(_ context.Context, cutoff time.Time) (int64, error) {
	f.evictCutoff = cutoff

	return f.evictReturns, nil
}

func basicRecord(id string) *media.ContentRecord {
	return &media.ContentRecord{
		ID:     id,
		Source: "archive.org",
		Title:  "Title " + id,
		Torrents: map[string]media.Torrent{
			"Original": {Quality: "Original", TorrentURL: "https://example.org/" + id + ".torrent"},
		},
		Downloads: 100,
	}
}

func fullRecord(id string, fetchedAt time.Time) *media.ContentRecord {
	rec := basicRecord(id)
	rec.Description = "full description"
	rec.Director = "Director"
	rec.MetadataFetchedAt = &fetchedAt

	return rec
}

func TestSearchTerms(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "drops short terms", query: "of the dead", want: []string{"the", "dead"}},
		{name: "lowercases", query: "Night DEAD", want: []string{"night", "dead"}},
		{name: "falls back to raw query", query: "it", want: []string{"it"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, searchTerms(tt.query))
		})
	}
}

func TestSearch_CacheHit(t *testing.T) {
	repo := newFakeRepo()
	repo.searchResults = []*media.ContentRecord{basicRecord("a"), basicRecord("b")}

	cat := &fakeCatalog{}
	svc := NewService(repo, cat, nil, 7)

	res, err := svc.Search(context.Background(), "anything goes", 1, 2)
	require.NoError(t, err)
	require.Equal(t, ProvenanceCache, res.Provenance)
	require.Len(t, res.Results, 2)
	require.Zero(t, cat.searchCalled, "full page from cache must not hit the catalog")
	require.Equal(t, 1, repo.hits["a"])
	require.Equal(t, 1, repo.hits["b"])
}

func TestSearch_CacheMissGoesExternal(t *testing.T) {
	repo := newFakeRepo()

	cat := &fakeCatalog{
		searchFunc: func(_ context.Context, _ string, _, _ int) ([]*media.ContentRecord, error) {
			return []*media.ContentRecord{basicRecord("x"), basicRecord("y")}, nil
		},
	}
	svc := NewService(repo, cat, nil, 7)

	res, err := svc.Search(context.Background(), "night dead", 1, 20)
	require.NoError(t, err)
	require.Equal(t, ProvenanceExternal, res.Provenance)
	require.Len(t, res.Results, 2)

	// External results land in the cache as basic payloads.
	stored, err := repo.GetRecord(context.Background(), "x")
	require.NoError(t, err)
	require.False(t, stored.HasFullMetadata())
}

func TestSearch_CatalogFailureDegradesToCache(t *testing.T) {
	repo := newFakeRepo()
	repo.searchResults = []*media.ContentRecord{basicRecord("a")}

	cat := &fakeCatalog{
		searchFunc: func(_ context.Context, _ string, _, _ int) ([]*media.ContentRecord, error) {
			return nil, &media.CatalogError{Provider: "archive.org", Op: "search", Err: errors.New("timeout")}
		},
	}
	svc := NewService(repo, cat, nil, 7)

	res, err := svc.Search(context.Background(), "night dead", 1, 20)
	require.NoError(t, err)
	require.Equal(t, ProvenanceCache, res.Provenance)
	require.Len(t, res.Results, 1)
}

func TestUpsert_BasicNeverDowngradesFullRecord(t *testing.T) {
	fetched := time.Now().Add(-time.Hour)
	existing := fullRecord("a", fetched)
	existing.Downloaded = true
	existing.FilePath = "/data/a/movie.mp4"
	repo := newFakeRepo(existing)

	incoming := basicRecord("a")
	incoming.Title = "Different Title"
	incoming.Downloads = 500

	svc := NewService(repo, &fakeCatalog{}, nil, 7)
	require.NoError(t, svc.upsert(context.Background(), incoming, false))

	stored, err := repo.GetRecord(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, "Title a", stored.Title, "basic payload must not overwrite full metadata")
	require.Equal(t, "full description", stored.Description)
	require.Equal(t, 500, stored.Downloads, "popularity counters always refresh")
	require.True(t, stored.Downloaded, "acquisition state survives merges")
	require.Equal(t, "/data/a/movie.mp4", stored.FilePath)
	require.NotNil(t, stored.MetadataFetchedAt)
	require.True(t, stored.MetadataFetchedAt.Equal(fetched), "basic payload must not re-stamp the fetch time")
}

func TestUpsert_FullOverwritesAndStamps(t *testing.T) {
	existing := basicRecord("a")
	existing.DownloadStatus = media.StatusDownloading
	existing.DownloadProgress = 40
	repo := newFakeRepo(existing)

	incoming := basicRecord("a")
	incoming.Title = "Restored Title"
	incoming.Description = "restored description"

	svc := NewService(repo, &fakeCatalog{}, nil, 7)
	require.NoError(t, svc.upsert(context.Background(), incoming, true))

	stored, err := repo.GetRecord(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, "Restored Title", stored.Title)
	require.Equal(t, "restored description", stored.Description)
	require.True(t, stored.HasFullMetadata())
	require.Equal(t, media.StatusDownloading, stored.DownloadStatus, "acquisition state survives merges")
	require.Equal(t, 40, stored.DownloadProgress)
}

func TestDetails_FreshRecordSkipsCatalog(t *testing.T) {
	repo := newFakeRepo(fullRecord("a", time.Now().Add(-time.Hour)))

	called := false
	cat := &fakeCatalog{
		detailsFunc: func(_ context.Context, _ string) (*media.ContentRecord, error) {
			called = true

			return nil, media.ErrNotFound
		},
	}
	svc := NewService(repo, cat, nil, 7)

	rec, err := svc.Details(context.Background(), "a", false)
	require.NoError(t, err)
	require.Equal(t, "a", rec.ID)
	require.False(t, called)
}

func TestDetails_StaleRecordRefreshes(t *testing.T) {
	repo := newFakeRepo(fullRecord("a", time.Now().AddDate(0, 0, -10)))

	cat := &fakeCatalog{
		detailsFunc: func(_ context.Context, id string) (*media.ContentRecord, error) {
			rec := basicRecord(id)
			rec.Description = "refreshed"

			return rec, nil
		},
	}
	svc := NewService(repo, cat, nil, 7)

	rec, err := svc.Details(context.Background(), "a", false)
	require.NoError(t, err)
	require.Equal(t, "refreshed", rec.Description)
	require.True(t, rec.MetadataFetchedAt.After(time.Now().Add(-time.Minute)))
}

func TestDetails_PerRecordFreshnessOverride(t *testing.T) {
	// Ten days old: stale under the 7-day default, fresh under the
	// record's own 30-day window.
	rec := fullRecord("a", time.Now().AddDate(0, 0, -10))
	rec.MetadataFreshnessDays = 30
	repo := newFakeRepo(rec)

	called := false
	cat := &fakeCatalog{
		detailsFunc: func(_ context.Context, _ string) (*media.ContentRecord, error) {
			called = true

			return nil, media.ErrNotFound
		},
	}
	svc := NewService(repo, cat, nil, 7)

	_, err := svc.Details(context.Background(), "a", false)
	require.NoError(t, err)
	require.False(t, called)
}

func TestDetails_ForceRefresh(t *testing.T) {
	repo := newFakeRepo(fullRecord("a", time.Now()))

	called := false
	cat := &fakeCatalog{
		detailsFunc: func(_ context.Context, id string) (*media.ContentRecord, error) {
			called = true

			return basicRecord(id), nil
		},
	}
	svc := NewService(repo, cat, nil, 7)

	_, err := svc.Details(context.Background(), "a", true)
	require.NoError(t, err)
	require.True(t, called)
}

func TestDetails_CatalogFailureServesStale(t *testing.T) {
	repo := newFakeRepo(fullRecord("a", time.Now().AddDate(0, 0, -30)))

	cat := &fakeCatalog{
		detailsFunc: func(_ context.Context, _ string) (*media.ContentRecord, error) {
			return nil, &media.CatalogError{Provider: "archive.org", Op: "details", Err: errors.New("timeout")}
		},
	}
	svc := NewService(repo, cat, nil, 7)

	rec, err := svc.Details(context.Background(), "a", false)
	require.NoError(t, err)
	require.Equal(t, "a", rec.ID)
}

func TestDetails_UnknownEverywhere(t *testing.T) {
	svc := NewService(newFakeRepo(), &fakeCatalog{}, nil, 7)

	_, err := svc.Details(context.Background(), "missing", false)
	require.ErrorIs(t, err, media.ErrNotFound)
}

func TestDetails_CatalogFailureWithoutCacheReportsNotFound(t *testing.T) {
	cat := &fakeCatalog{
		detailsFunc: func(_ context.Context, _ string) (*media.ContentRecord, error) {
			return nil, &media.CatalogError{Provider: "archive.org", Op: "details", Err: errors.New("timeout")}
		},
	}
	svc := NewService(newFakeRepo(), cat, nil, 7)

	// With nothing cached to degrade to, an upstream failure reads the
	// same as an unknown id.
	_, err := svc.Details(context.Background(), "missing", false)
	require.ErrorIs(t, err, media.ErrNotFound)

	var catErr *media.CatalogError

	require.False(t, errors.As(err, &catErr), "upstream failure must not surface to callers")
}

func TestRefreshPopular(t *testing.T) {
	repo := newFakeRepo()
	// A leftover popular flag from the previous cycle.
	repo.popularity["old"] = [2]float64{1, 99}

	first := basicRecord("first")
	first.Downloads = 1000
	first.ArchiveRating = 4.0 // score = 1000 * (1 + 4/5) = 1800

	second := basicRecord("second")
	second.Downloads = 500 // no rating: score = 500

	cat := &fakeCatalog{
		searchFunc: func(_ context.Context, query string, _, _ int) ([]*media.ContentRecord, error) {
			require.Empty(t, query, "trending uses the empty query")

			return []*media.ContentRecord{first, second}, nil
		},
	}
	svc := NewService(repo, cat, nil, 7)

	_, err := svc.RefreshPopular(context.Background(), 100)
	require.NoError(t, err)
	require.True(t, repo.popularityCleared)
	require.NotContains(t, repo.popularity, "old", "previous cycle's flags are cleared")

	require.Equal(t, [2]float64{1, 1800}, repo.popularity["first"])
	require.Equal(t, [2]float64{2, 500}, repo.popularity["second"])
}

func TestRefreshPopular_CatalogFailure(t *testing.T) {
	repo := newFakeRepo()
	repo.popularity["old"] = [2]float64{1, 99}

	cat := &fakeCatalog{
		searchFunc: func(_ context.Context, _ string, _, _ int) ([]*media.ContentRecord, error) {
			return nil, errors.New("timeout")
		},
	}
	svc := NewService(repo, cat, nil, 7)

	_, err := svc.RefreshPopular(context.Background(), 100)
	require.Error(t, err)
	require.False(t, repo.popularityCleared, "a failed fetch must not wipe the current popular set")
}

func TestEvictStale(t *testing.T) {
	repo := newFakeRepo()
	repo.evictReturns = 3

	svc := NewService(repo, &fakeCatalog{}, nil, 7)

	deleted, err := svc.EvictStale(context.Background(), 90)
	require.NoError(t, err)
	require.Equal(t, int64(3), deleted)

	wantCutoff := time.Now().AddDate(0, 0, -90)
	require.WithinDuration(t, wantCutoff, repo.evictCutoff, time.Minute)
}

func TestStats(t *testing.T) {
	repo := newFakeRepo(basicRecord("a"), basicRecord("b"))
	svc := NewService(repo, &fakeCatalog{}, nil, 7)

	stats, err := svc.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.TotalRecords)
}
