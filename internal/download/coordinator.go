package download

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hypertube/hypertube/internal/cleanup"
	"github.com/hypertube/hypertube/internal/engine"
	"github.com/hypertube/hypertube/internal/logctx"
	"github.com/hypertube/hypertube/internal/media"
	"github.com/hypertube/hypertube/internal/storage"
	"github.com/hypertube/hypertube/internal/telemetry"
)

// Engine is the transfer engine surface the coordinator drives. It is
// satisfied by *engine.Adapter and by fakes in tests.
type Engine interface {
	StartDownload(ctx context.Context, contentID, magnet string, metainfoBytes []byte) error
	Status(contentID string) (*engine.Status, bool)
	Streamable(contentID string, threshold float64) bool
	Pause(contentID string) bool
	Resume(contentID string) bool
	Cancel(contentID string) bool
	OutputFilePath(contentID string) (string, bool)
}

// Locator identifies the swarm to acquire a content item from.
type Locator struct {
	Magnet   string
	Metainfo []byte
	Quality  string
}

// StatusResponse is the download status surfaced to callers. When no
// live engine session exists it carries persisted values with the rate
// fields zeroed.
type StatusResponse struct {
	ContentID       string               `json:"content_id"`
	Status          media.DownloadStatus `json:"status"`
	Progress        int                  `json:"progress"`
	DownloadRate    int64                `json:"download_rate"`
	UploadRate      int64                `json:"upload_rate"`
	TotalDownloaded int64                `json:"total_downloaded"`
	TotalSize       int64                `json:"total_size"`
	ETASeconds      int64                `json:"eta_seconds"`
	NumPeers        int                  `json:"num_peers"`
	NumSeeds        int                  `json:"num_seeds"`
	IsStreamable    bool                 `json:"is_streamable"`
}

// CompletedEvent is published when a transfer finishes and its payload
// file has been recorded.
type CompletedEvent struct {
	ContentID string
	FilePath  string
	FileSize  int64
}

// FailedEvent is published when the engine refuses to start a transfer.
type FailedEvent struct {
	ContentID string
	Reason    string
}

// eventBuffer bounds the unread backlog before events get dropped.
const eventBuffer = 16

// Coordinator is the single source of truth for whether a transfer
// should exist for a content id and what state it is in. It bridges the
// transient engine session and the durable content record.
type Coordinator struct {
	repo            storage.ContentRepository
	engine          Engine
	tel             *telemetry.Telemetry
	streamThreshold float64
	downloadDir     string

	// OnDownloadComplete and OnDownloadFailed carry lifecycle events for
	// optional consumers such as notification hooks. Sends never block;
	// when nobody reads, events are dropped.
	OnDownloadComplete chan CompletedEvent
	OnDownloadFailed   chan FailedEvent

	mu    sync.Mutex
	locks map[string]*contentLock
}

// contentLock is a per-content-id mutex with a holder count so idle
// entries can be dropped from the map.
type contentLock struct {
	mu   sync.Mutex
	refs int
}

func NewCoordinator(repo storage.ContentRepository, eng Engine, tel *telemetry.Telemetry, streamThreshold float64, downloadDir string) *Coordinator {
	return &Coordinator{
		repo:               repo,
		engine:             eng,
		tel:                tel,
		streamThreshold:    streamThreshold,
		downloadDir:        downloadDir,
		OnDownloadComplete: make(chan CompletedEvent, eventBuffer),
		OnDownloadFailed:   make(chan FailedEvent, eventBuffer),
		locks:              make(map[string]*contentLock),
	}
}

// lockContent serializes all mutating operations for one content id so
// concurrent starts cannot race a second engine session into existence.
// The map entry lives only while held or waited on, keeping the set of
// tracked ids bounded by in-flight operations.
func (c *Coordinator) lockContent(contentID string) func() {
	c.mu.Lock()
	l, ok := c.locks[contentID]
	if !ok {
		l = &contentLock{}
		c.locks[contentID] = l
	}
	l.refs++
	c.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		c.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(c.locks, contentID)
		}
		c.mu.Unlock()
	}
}

// StartDownload begins acquiring a content item. Idempotent: when the
// persisted record already shows a complete or in-flight download, the
// record is returned unchanged and no second engine session is created.
func (c *Coordinator) StartDownload(ctx context.Context, contentID string, loc Locator) (*media.ContentRecord, error) {
	unlock := c.lockContent(contentID)
	defer unlock()

	logger := logctx.LoggerFromContext(ctx).With("content_id", contentID)

	rec, err := c.repo.GetRecord(ctx, contentID)
	if err != nil {
		return nil, err
	}

	switch rec.DownloadStatus {
	case media.StatusComplete, media.StatusDownloading:
		logger.Debug("download already in progress or complete", "status", rec.DownloadStatus)

		return rec, nil
	}

	if err := c.repo.BeginDownload(ctx, contentID, loc.Quality); err != nil {
		return nil, fmt.Errorf("failed to persist download start: %w", err)
	}

	if err := c.engine.StartDownload(ctx, contentID, loc.Magnet, loc.Metainfo); err != nil {
		logger.Error("engine refused to start download", "err", err)

		if markErr := c.repo.MarkDownloadFailed(ctx, contentID, err.Error()); markErr != nil {
			logger.Error("failed to persist download failure", "err", markErr)
		}

		c.tel.RecordDownloadFailed(ctx)

		select {
		case c.OnDownloadFailed <- FailedEvent{ContentID: contentID, Reason: err.Error()}:
		default:
		}

		return nil, &media.EngineStartError{ContentID: contentID, Reason: err.Error(), Err: err}
	}

	logger.Info("download started", "quality", loc.Quality)
	c.tel.RecordDownloadStarted(ctx)

	rec.Downloaded = false
	rec.DownloadStatus = media.StatusDownloading
	rec.DownloadProgress = 0
	rec.DownloadError = ""
	rec.DownloadedQuality = loc.Quality

	return rec, nil
}

// SyncProgress reconciles live engine status into the persisted record.
// An absent engine session is silently ignored: jobs may legitimately
// finish and be cleaned from engine memory before the final tick runs.
func (c *Coordinator) SyncProgress(ctx context.Context, contentID string) error {
	unlock := c.lockContent(contentID)
	defer unlock()

	st, ok := c.engine.Status(contentID)
	if !ok {
		return nil
	}

	rec, err := c.repo.GetRecord(ctx, contentID)
	if err != nil {
		if err == media.ErrNotFound {
			return nil
		}

		return err
	}

	progress := st.Progress
	if rec.DownloadStatus == media.StatusDownloading && progress < rec.DownloadProgress {
		// Engine restarts can briefly report less than what we already
		// persisted; progress never moves backwards while downloading.
		progress = rec.DownloadProgress
	}

	if progress >= 100 {
		return c.finalize(ctx, contentID)
	}

	return c.repo.UpdateDownloadProgress(ctx, contentID, media.StatusDownloading, progress)
}

func (c *Coordinator) finalize(ctx context.Context, contentID string) error {
	logger := logctx.LoggerFromContext(ctx).With("content_id", contentID)

	path, ok := c.engine.OutputFilePath(contentID)
	if !ok {
		// All bytes are in but the payload file isn't resolvable yet;
		// stay in processing and let the next tick retry.
		return c.repo.UpdateDownloadProgress(ctx, contentID, media.StatusProcessing, 100)
	}

	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}

	if err := c.repo.MarkDownloadComplete(ctx, contentID, path, size, time.Now()); err != nil {
		return fmt.Errorf("failed to persist download completion: %w", err)
	}

	logger.Info("download complete", "file_path", path, "file_size", size)
	c.tel.RecordDownloadCompleted(ctx)

	select {
	case c.OnDownloadComplete <- CompletedEvent{ContentID: contentID, FilePath: path, FileSize: size}:
	default:
	}

	return nil
}

// PauseDownload suspends data transfer without dropping the engine
// session. The record keeps its downloading status; resuming picks up
// from the same progress.
func (c *Coordinator) PauseDownload(ctx context.Context, contentID string) error {
	unlock := c.lockContent(contentID)
	defer unlock()

	if _, err := c.repo.GetRecord(ctx, contentID); err != nil {
		return err
	}

	if !c.engine.Pause(contentID) {
		return media.ErrNoSession
	}

	logctx.LoggerFromContext(ctx).Info("download paused", "content_id", contentID)

	return nil
}

// ResumeDownload restarts data transfer for a paused session.
func (c *Coordinator) ResumeDownload(ctx context.Context, contentID string) error {
	unlock := c.lockContent(contentID)
	defer unlock()

	if _, err := c.repo.GetRecord(ctx, contentID); err != nil {
		return err
	}

	if !c.engine.Resume(contentID) {
		return media.ErrNoSession
	}

	logctx.LoggerFromContext(ctx).Info("download resumed", "content_id", contentID)

	return nil
}

// CancelDownload cancels the engine session (best effort), removes any
// partial data on disk and clears the record's acquisition state. Safe
// to call when nothing is running.
func (c *Coordinator) CancelDownload(ctx context.Context, contentID string) error {
	unlock := c.lockContent(contentID)
	defer unlock()

	logger := logctx.LoggerFromContext(ctx)

	if c.engine.Cancel(contentID) {
		logger.Info("engine session cancelled", "content_id", contentID)
	}

	if c.downloadDir != "" {
		if err := cleanup.RemoveDownloadData(ctx, c.downloadDir, contentID); err != nil {
			logger.Error("failed to remove partial download data", "content_id", contentID, "err", err)
		}
	}

	return c.repo.ResetDownloadState(ctx, contentID)
}

// DownloadStatus reports the current state of a content item's
// transfer, preferring the live engine snapshot over persisted values.
func (c *Coordinator) DownloadStatus(ctx context.Context, contentID string) (*StatusResponse, error) {
	rec, err := c.repo.GetRecord(ctx, contentID)
	if err != nil {
		return nil, err
	}

	if st, ok := c.engine.Status(contentID); ok {
		return &StatusResponse{
			ContentID:       contentID,
			Status:          rec.DownloadStatus,
			Progress:        st.Progress,
			DownloadRate:    st.DownloadRate,
			UploadRate:      st.UploadRate,
			TotalDownloaded: st.TotalDownloaded,
			TotalSize:       st.TotalSize,
			ETASeconds:      st.ETASeconds,
			NumPeers:        st.NumPeers,
			NumSeeds:        st.NumSeeds,
			IsStreamable:    c.engine.Streamable(contentID, c.streamThreshold),
		}, nil
	}

	return &StatusResponse{
		ContentID:       contentID,
		Status:          rec.DownloadStatus,
		Progress:        rec.DownloadProgress,
		TotalDownloaded: rec.FileSize,
		TotalSize:       rec.FileSize,
		IsStreamable:    rec.IsAvailable(),
	}, nil
}
