package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hypertube/hypertube/internal/media"
	"github.com/hypertube/hypertube/internal/storage"
)

const contentColumns = `id, source, title, description, year, runtime_seconds, director, language,
	genres, poster_url, catalog_url, archive_rating, imdb_rating, imdb_id, torrents,
	downloaded, download_status, download_progress, download_error, file_path, file_size,
	downloaded_quality, downloaded_at, metadata_fetched_at, metadata_freshness_days,
	search_cache_hits, last_searched_at, is_popular, popularity_rank, popularity_score,
	downloads, num_reviews, last_watched_at, view_count, created_at, updated_at`

// ContentRepository implements storage.ContentRepository on SQLite.
type ContentRepository struct {
	db *sql.DB
}

func NewContentRepository(dbConn *sql.DB) *ContentRepository {
	return &ContentRepository{db: dbConn}
}

func (r *ContentRepository) GetRecord(ctx context.Context, id string) (*media.ContentRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+contentColumns+` FROM contents WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, media.ErrNotFound
	}

	return rec, err
}

func (r *ContentRepository) SearchRecords(ctx context.Context, terms []string, offset, limit int) ([]*media.ContentRecord, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	clauses := make([]string, 0, len(terms))
	args := make([]any, 0, len(terms)*3)

	for _, term := range terms {
		pattern := "%" + strings.ToLower(term) + "%"
		clauses = append(clauses, `(lower(title) LIKE ? OR lower(description) LIKE ? OR lower(genres) LIKE ?)`)
		args = append(args, pattern, pattern, pattern)
	}

	query := `SELECT ` + contentColumns + ` FROM contents WHERE ` + strings.Join(clauses, " OR ") +
		` ORDER BY downloads DESC, popularity_score DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	return r.queryRecords(ctx, query, args...)
}

func (r *ContentRepository) ListByDownloadStatus(ctx context.Context, status media.DownloadStatus) ([]*media.ContentRecord, error) {
	return r.queryRecords(ctx,
		`SELECT `+contentColumns+` FROM contents WHERE download_status = ?`, string(status))
}

func (r *ContentRepository) ListPopular(ctx context.Context, offset, limit int) ([]*media.ContentRecord, error) {
	return r.queryRecords(ctx,
		`SELECT `+contentColumns+` FROM contents WHERE is_popular = 1 ORDER BY popularity_rank LIMIT ? OFFSET ?`,
		limit, offset)
}

func (r *ContentRepository) CacheStats(ctx context.Context) (*storage.CacheStats, error) {
	var stats storage.CacheStats

	row := r.db.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(is_popular), 0),
		COALESCE(SUM(downloaded), 0),
		COALESCE(AVG(search_cache_hits), 0)
	FROM contents`)

	if err := row.Scan(&stats.TotalRecords, &stats.PopularRecords, &stats.DownloadedRecords, &stats.AvgSearchHits); err != nil {
		return nil, fmt.Errorf("failed to read cache stats: %w", err)
	}

	return &stats, nil
}

func (r *ContentRepository) UpsertRecord(ctx context.Context, rec *media.ContentRecord) error {
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	rec.UpdatedAt = now

	genres, err := json.Marshal(rec.Genres)
	if err != nil {
		return fmt.Errorf("failed to encode genres: %w", err)
	}

	torrents, err := json.Marshal(rec.Torrents)
	if err != nil {
		return fmt.Errorf("failed to encode torrents: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `INSERT INTO contents (`+contentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source = excluded.source,
			title = excluded.title,
			description = excluded.description,
			year = excluded.year,
			runtime_seconds = excluded.runtime_seconds,
			director = excluded.director,
			language = excluded.language,
			genres = excluded.genres,
			poster_url = excluded.poster_url,
			catalog_url = excluded.catalog_url,
			archive_rating = excluded.archive_rating,
			imdb_rating = excluded.imdb_rating,
			imdb_id = excluded.imdb_id,
			torrents = excluded.torrents,
			downloaded = excluded.downloaded,
			download_status = excluded.download_status,
			download_progress = excluded.download_progress,
			download_error = excluded.download_error,
			file_path = excluded.file_path,
			file_size = excluded.file_size,
			downloaded_quality = excluded.downloaded_quality,
			downloaded_at = excluded.downloaded_at,
			metadata_fetched_at = excluded.metadata_fetched_at,
			metadata_freshness_days = excluded.metadata_freshness_days,
			search_cache_hits = excluded.search_cache_hits,
			last_searched_at = excluded.last_searched_at,
			is_popular = excluded.is_popular,
			popularity_rank = excluded.popularity_rank,
			popularity_score = excluded.popularity_score,
			downloads = excluded.downloads,
			num_reviews = excluded.num_reviews,
			last_watched_at = excluded.last_watched_at,
			view_count = excluded.view_count,
			updated_at = excluded.updated_at`,
		rec.ID, rec.Source, rec.Title, rec.Description, rec.Year, rec.RuntimeSeconds, rec.Director, rec.Language,
		string(genres), rec.PosterURL, rec.CatalogURL, rec.ArchiveRating, rec.IMDBRating, rec.IMDBID, string(torrents),
		boolToInt(rec.Downloaded), string(rec.DownloadStatus), rec.DownloadProgress, rec.DownloadError, rec.FilePath, rec.FileSize,
		rec.DownloadedQuality, formatTime(rec.DownloadedAt), formatTime(rec.MetadataFetchedAt), rec.MetadataFreshnessDays,
		rec.SearchCacheHits, formatTime(rec.LastSearchedAt), boolToInt(rec.IsPopular), rec.PopularityRank, rec.PopularityScore,
		rec.Downloads, rec.NumReviews, formatTime(rec.LastWatchedAt), rec.ViewCount,
		rec.CreatedAt.Format(time.RFC3339), rec.UpdatedAt.Format(time.RFC3339),
	)

	return err
}

func (r *ContentRepository) DeleteRecord(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM contents WHERE id = ?`, id)

	return err
}

func (r *ContentRepository) BeginDownload(ctx context.Context, id, quality string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE contents SET
		downloaded = 0,
		download_status = ?,
		download_progress = 0,
		download_error = '',
		file_path = '',
		file_size = 0,
		downloaded_quality = ?,
		downloaded_at = NULL,
		updated_at = ?
	WHERE id = ?`, string(media.StatusDownloading), quality, nowString(), id)

	return err
}

func (r *ContentRepository) UpdateDownloadProgress(ctx context.Context, id string, status media.DownloadStatus, progress int) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE contents SET download_status = ?, download_progress = ?, updated_at = ? WHERE id = ?`,
		string(status), progress, nowString(), id)

	return err
}

func (r *ContentRepository) MarkDownloadComplete(ctx context.Context, id, filePath string, fileSize int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE contents SET
		downloaded = 1,
		download_status = ?,
		download_progress = 100,
		download_error = '',
		file_path = ?,
		file_size = ?,
		downloaded_at = ?,
		updated_at = ?
	WHERE id = ?`, string(media.StatusComplete), filePath, fileSize, at.UTC().Format(time.RFC3339), nowString(), id)

	return err
}

func (r *ContentRepository) MarkDownloadFailed(ctx context.Context, id, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE contents SET download_status = ?, download_error = ?, updated_at = ? WHERE id = ?`,
		string(media.StatusFailed), reason, nowString(), id)

	return err
}

func (r *ContentRepository) ResetDownloadState(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE contents SET
		downloaded = 0,
		download_status = '',
		download_progress = 0,
		download_error = '',
		file_path = '',
		file_size = 0,
		downloaded_quality = '',
		downloaded_at = NULL,
		updated_at = ?
	WHERE id = ?`, nowString(), id)

	return err
}

func (r *ContentRepository) RecordSearchHit(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE contents SET search_cache_hits = search_cache_hits + 1, last_searched_at = ?, updated_at = ? WHERE id = ?`,
		at.UTC().Format(time.RFC3339), nowString(), id)

	return err
}

func (r *ContentRepository) ClearPopularity(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE contents SET is_popular = 0, popularity_rank = 0, updated_at = ? WHERE is_popular = 1`, nowString())

	return err
}

func (r *ContentRepository) SetPopularity(ctx context.Context, id string, rank int, score float64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE contents SET is_popular = 1, popularity_rank = ?, popularity_score = ?, updated_at = ? WHERE id = ?`,
		rank, score, nowString(), id)

	return err
}

// DeleteStaleRecords applies the conservative eviction predicate: never
// a downloaded or popular record, and only records idle on both the
// search and watch axes since the cutoff.
func (r *ContentRepository) DeleteStaleRecords(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM contents
		WHERE downloaded = 0
		AND is_popular = 0
		AND (last_searched_at IS NULL OR last_searched_at < ?)
		AND (last_watched_at IS NULL OR last_watched_at < ?)`,
		cutoff.UTC().Format(time.RFC3339), cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (r *ContentRepository) queryRecords(ctx context.Context, query string, args ...any) ([]*media.ContentRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*media.ContentRecord

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		records = append(records, rec)
	}

	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*media.ContentRecord, error) {
	var (
		rec                             media.ContentRecord
		genres, torrents                string
		downloaded, popular             int
		downloadedAt, metadataFetchedAt sql.NullString
		lastSearchedAt, lastWatchedAt   sql.NullString
		createdAt, updatedAt            string
	)

	if err := row.Scan(
		&rec.ID, &rec.Source, &rec.Title, &rec.Description, &rec.Year, &rec.RuntimeSeconds, &rec.Director, &rec.Language,
		&genres, &rec.PosterURL, &rec.CatalogURL, &rec.ArchiveRating, &rec.IMDBRating, &rec.IMDBID, &torrents,
		&downloaded, &rec.DownloadStatus, &rec.DownloadProgress, &rec.DownloadError, &rec.FilePath, &rec.FileSize,
		&rec.DownloadedQuality, &downloadedAt, &metadataFetchedAt, &rec.MetadataFreshnessDays,
		&rec.SearchCacheHits, &lastSearchedAt, &popular, &rec.PopularityRank, &rec.PopularityScore,
		&rec.Downloads, &rec.NumReviews, &lastWatchedAt, &rec.ViewCount, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	rec.Downloaded = downloaded != 0
	rec.IsPopular = popular != 0

	if err := json.Unmarshal([]byte(genres), &rec.Genres); err != nil {
		return nil, fmt.Errorf("failed to decode genres for %s: %w", rec.ID, err)
	}

	if err := json.Unmarshal([]byte(torrents), &rec.Torrents); err != nil {
		return nil, fmt.Errorf("failed to decode torrents for %s: %w", rec.ID, err)
	}

	rec.DownloadedAt = parseTime(downloadedAt)
	rec.MetadataFetchedAt = parseTime(metadataFetchedAt)
	rec.LastSearchedAt = parseTime(lastSearchedAt)
	rec.LastWatchedAt = parseTime(lastWatchedAt)

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		rec.CreatedAt = t
	}

	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		rec.UpdatedAt = t
	}

	return &rec, nil
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}

	return t.UTC().Format(time.RFC3339)
}

func parseTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}

	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}

	return &t
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}

	return 0
}
