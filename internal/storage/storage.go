package storage

import (
	"context"
	"time"

	"github.com/hypertube/hypertube/internal/media"
)

// CacheStats summarizes the state of the metadata cache.
type CacheStats struct {
	TotalRecords      int64
	PopularRecords    int64
	DownloadedRecords int64
	AvgSearchHits     float64
}

// ContentReadRepository serves lookups over cached content records.
type ContentReadRepository interface {
	GetRecord(ctx context.Context, id string) (*media.ContentRecord, error)
	// SearchRecords matches title, description or genres against any of
	// the given terms, case-insensitive substring semantics.
	SearchRecords(ctx context.Context, terms []string, offset, limit int) ([]*media.ContentRecord, error)
	ListByDownloadStatus(ctx context.Context, status media.DownloadStatus) ([]*media.ContentRecord, error)
	ListPopular(ctx context.Context, offset, limit int) ([]*media.ContentRecord, error)
	CacheStats(ctx context.Context) (*CacheStats, error)
}

// ContentWriteRepository mutates cached content records. Each call
// commits atomically; partial writes are never observable.
type ContentWriteRepository interface {
	UpsertRecord(ctx context.Context, rec *media.ContentRecord) error
	DeleteRecord(ctx context.Context, id string) error

	// BeginDownload resets the acquisition state of a record and marks
	// it downloading at progress zero.
	BeginDownload(ctx context.Context, id, quality string) error
	UpdateDownloadProgress(ctx context.Context, id string, status media.DownloadStatus, progress int) error
	MarkDownloadComplete(ctx context.Context, id, filePath string, fileSize int64, at time.Time) error
	MarkDownloadFailed(ctx context.Context, id, reason string) error
	ResetDownloadState(ctx context.Context, id string) error

	RecordSearchHit(ctx context.Context, id string, at time.Time) error
	ClearPopularity(ctx context.Context) error
	SetPopularity(ctx context.Context, id string, rank int, score float64) error
	// DeleteStaleRecords removes records that are neither downloaded nor
	// popular and have not been searched or watched since the cutoff.
	DeleteStaleRecords(ctx context.Context, cutoff time.Time) (int64, error)
}

// ContentRepository is the full persistent store contract consumed by
// the download and cache subsystems.
type ContentRepository interface {
	ContentReadRepository
	ContentWriteRepository
}
