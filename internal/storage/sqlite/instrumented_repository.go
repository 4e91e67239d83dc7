package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/hypertube/hypertube/internal/media"
	"github.com/hypertube/hypertube/internal/storage"
	"github.com/hypertube/hypertube/internal/telemetry"
)

// InstrumentedContentRepository wraps ContentRepository with telemetry.
type InstrumentedContentRepository struct {
	repo      *ContentRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedContentRepository creates a new instrumented content repository.
func NewInstrumentedContentRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedContentRepository {
	return &InstrumentedContentRepository{
		repo:      NewContentRepository(dbConn),
		telemetry: tel,
	}
}

// GetRecord retrieves one record with telemetry.
func (r *InstrumentedContentRepository) GetRecord(ctx context.Context, id string) (*media.ContentRecord, error) {
	var result *media.ContentRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_record", func(ctx context.Context) error {
		var opErr error

		result, opErr = r.repo.GetRecord(ctx, id)

		return opErr
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// SearchRecords searches the cache with telemetry.
func (r *InstrumentedContentRepository) SearchRecords(ctx context.Context, terms []string, offset, limit int) ([]*media.ContentRecord, error) {
	var result []*media.ContentRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "search_records", func(ctx context.Context) error {
		var opErr error

		result, opErr = r.repo.SearchRecords(ctx, terms, offset, limit)

		return opErr
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// ListByDownloadStatus lists records in one acquisition state with telemetry.
func (r *InstrumentedContentRepository) ListByDownloadStatus(ctx context.Context, status media.DownloadStatus) ([]*media.ContentRecord, error) {
	var result []*media.ContentRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "list_by_download_status", func(ctx context.Context) error {
		var opErr error

		result, opErr = r.repo.ListByDownloadStatus(ctx, status)

		return opErr
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// ListPopular lists the popular set with telemetry.
func (r *InstrumentedContentRepository) ListPopular(ctx context.Context, offset, limit int) ([]*media.ContentRecord, error) {
	var result []*media.ContentRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "list_popular", func(ctx context.Context) error {
		var opErr error

		result, opErr = r.repo.ListPopular(ctx, offset, limit)

		return opErr
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// CacheStats summarizes the cache with telemetry.
func (r *InstrumentedContentRepository) CacheStats(ctx context.Context) (*storage.CacheStats, error) {
	var result *storage.CacheStats

	err := r.telemetry.InstrumentDBOperation(ctx, "cache_stats", func(ctx context.Context) error {
		var opErr error

		result, opErr = r.repo.CacheStats(ctx)

		return opErr
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// UpsertRecord writes a record with telemetry.
func (r *InstrumentedContentRepository) UpsertRecord(ctx context.Context, rec *media.ContentRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "upsert_record", func(ctx context.Context) error {
		return r.repo.UpsertRecord(ctx, rec)
	})
}

// DeleteRecord removes a record with telemetry.
func (r *InstrumentedContentRepository) DeleteRecord(ctx context.Context, id string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "delete_record", func(ctx context.Context) error {
		return r.repo.DeleteRecord(ctx, id)
	})
}

// BeginDownload marks a record downloading with telemetry.
func (r *InstrumentedContentRepository) BeginDownload(ctx context.Context, id, quality string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "begin_download", func(ctx context.Context) error {
		return r.repo.BeginDownload(ctx, id, quality)
	})
}

// UpdateDownloadProgress persists progress with telemetry.
func (r *InstrumentedContentRepository) UpdateDownloadProgress(ctx context.Context, id string, status media.DownloadStatus, progress int) error {
	return r.telemetry.InstrumentDBOperation(ctx, "update_download_progress", func(ctx context.Context) error {
		return r.repo.UpdateDownloadProgress(ctx, id, status, progress)
	})
}

// MarkDownloadComplete finalizes a download with telemetry.
func (r *InstrumentedContentRepository) MarkDownloadComplete(ctx context.Context, id, filePath string, fileSize int64, at time.Time) error {
	return r.telemetry.InstrumentDBOperation(ctx, "mark_download_complete", func(ctx context.Context) error {
		return r.repo.MarkDownloadComplete(ctx, id, filePath, fileSize, at)
	})
}

// MarkDownloadFailed records a failure with telemetry.
func (r *InstrumentedContentRepository) MarkDownloadFailed(ctx context.Context, id, reason string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "mark_download_failed", func(ctx context.Context) error {
		return r.repo.MarkDownloadFailed(ctx, id, reason)
	})
}

// ResetDownloadState clears acquisition state with telemetry.
func (r *InstrumentedContentRepository) ResetDownloadState(ctx context.Context, id string) error {
	return r.telemetry.InstrumentDBOperation(ctx, "reset_download_state", func(ctx context.Context) error {
		return r.repo.ResetDownloadState(ctx, id)
	})
}

// RecordSearchHit bumps the hit counters with telemetry.
func (r *InstrumentedContentRepository) RecordSearchHit(ctx context.Context, id string, at time.Time) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_search_hit", func(ctx context.Context) error {
		return r.repo.RecordSearchHit(ctx, id, at)
	})
}

// ClearPopularity clears the popular set with telemetry.
func (r *InstrumentedContentRepository) ClearPopularity(ctx context.Context) error {
	return r.telemetry.InstrumentDBOperation(ctx, "clear_popularity", func(ctx context.Context) error {
		return r.repo.ClearPopularity(ctx)
	})
}

// SetPopularity flags one record popular with telemetry.
func (r *InstrumentedContentRepository) SetPopularity(ctx context.Context, id string, rank int, score float64) error {
	return r.telemetry.InstrumentDBOperation(ctx, "set_popularity", func(ctx context.Context) error {
		return r.repo.SetPopularity(ctx, id, rank, score)
	})
}

// DeleteStaleRecords runs an eviction sweep with telemetry.
func (r *InstrumentedContentRepository) DeleteStaleRecords(ctx context.Context, cutoff time.Time) (int64, error) {
	var result int64

	err := r.telemetry.InstrumentDBOperation(ctx, "delete_stale_records", func(ctx context.Context) error {
		var opErr error

		result, opErr = r.repo.DeleteStaleRecords(ctx, cutoff)

		return opErr
	})
	if err != nil {
		return 0, err
	}

	return result, nil
}
