package engine

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"

	"github.com/hypertube/hypertube/internal/logctx"
)

const (
	dirPerm = 0o755

	// leadTailFrac is the fraction of pieces prioritized at each end of
	// the torrent: the head for stream start, the tail for container
	// indexes (moov atoms and friends).
	leadTailFrac = 0.05
)

// Status is a point-in-time snapshot of one transfer session.
type Status struct {
	Progress        int   `json:"progress"`
	DownloadRate    int64 `json:"download_rate"`
	UploadRate      int64 `json:"upload_rate"`
	TotalDownloaded int64 `json:"total_downloaded"`
	TotalSize       int64 `json:"total_size"`
	ETASeconds      int64 `json:"eta_seconds"`
	NumPeers        int   `json:"num_peers"`
	NumSeeds        int   `json:"num_seeds"`
	PiecesTotal     int   `json:"pieces_total"`
	PiecesComplete  int   `json:"pieces_complete"`
}

// Adapter drives one peer-to-peer transfer session per content item on
// top of an embedded torrent engine. It only produces bytes on disk;
// serving those bytes to a player is someone else's job.
type Adapter struct {
	client   *torrent.Client
	rootDir  string
	registry *sessionRegistry
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewAdapter creates the engine client and its session registry.
// Downloads land under rootDir, one directory per content id.
func NewAdapter(rootDir string, listenPort int) (*Adapter, error) {
	if err := os.MkdirAll(rootDir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create download root: %w", err)
	}

	cfg := torrent.NewDefaultClientConfig()
	cfg.DataDir = rootDir
	cfg.ListenPort = listenPort
	cfg.DisableIPv6 = true

	client, err := torrent.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create torrent client: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Adapter{
		client:   client,
		rootDir:  rootDir,
		registry: newSessionRegistry(),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Close drops every active session and shuts the engine down.
func (a *Adapter) Close() {
	a.cancel()

	for id, s := range a.registry.all() {
		s.torrent.Drop()
		a.registry.delete(id)
	}

	a.client.Close()
}

// StartDownload begins a transfer for contentID from either a magnet
// locator or packed torrent metadata bytes. Returns an error and
// registers no session when the engine rejects the locator or the save
// directory cannot be allocated. Starting an id that already has a live
// session is a no-op.
func (a *Adapter) StartDownload(ctx context.Context, contentID, magnet string, metainfoBytes []byte) error {
	unlock := a.registry.lockKey(contentID)
	defer unlock()

	if _, ok := a.registry.get(contentID); ok {
		return nil
	}

	saveDir := filepath.Join(a.rootDir, contentID)
	if err := os.MkdirAll(saveDir, dirPerm); err != nil {
		return fmt.Errorf("failed to allocate save dir: %w", err)
	}

	spec, err := a.buildSpec(magnet, metainfoBytes)
	if err != nil {
		return err
	}

	spec.Storage = storage.NewFile(saveDir)

	t, _, err := a.client.AddTorrentSpec(spec)
	if err != nil {
		return fmt.Errorf("engine rejected locator: %w", err)
	}

	s := &session{torrent: t, saveDir: saveDir}
	a.registry.set(contentID, s)

	if t.Info() != nil {
		a.applyPiecePriorities(s)
		t.DownloadAll()

		return nil
	}

	// Metadata still unknown: shape priorities lazily once it arrives.
	go a.prioritizeWhenReady(a.ctx, contentID, s)

	return nil
}

func (a *Adapter) buildSpec(magnet string, metainfoBytes []byte) (*torrent.TorrentSpec, error) {
	if len(metainfoBytes) > 0 {
		mi, err := metainfo.Load(bytes.NewReader(metainfoBytes))
		if err != nil {
			return nil, fmt.Errorf("invalid torrent metadata: %w", err)
		}

		return torrent.TorrentSpecFromMetaInfo(mi), nil
	}

	spec, err := torrent.TorrentSpecFromMagnetUri(magnet)
	if err != nil {
		return nil, fmt.Errorf("invalid magnet locator: %w", err)
	}

	return spec, nil
}

func (a *Adapter) prioritizeWhenReady(ctx context.Context, contentID string, s *session) {
	select {
	case <-ctx.Done():
		return
	case <-s.torrent.GotInfo():
	}

	logctx.LoggerFromContext(ctx).Debug("transfer metadata arrived",
		"content_id", contentID, "pieces", s.torrent.NumPieces())

	a.applyPiecePriorities(s)
	s.torrent.DownloadAll()
}

// applyPiecePriorities fetches the leading window first so playback can
// start early, and the trailing window next. Only assignable once
// piece-level metadata is known.
func (a *Adapter) applyPiecePriorities(s *session) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.prioritized || s.torrent.Info() == nil {
		return
	}

	n := s.torrent.NumPieces()
	window := windowSize(n, leadTailFrac)

	for i := 0; i < n; i++ {
		switch tierFor(i, n, window) {
		case tierLead:
			s.torrent.Piece(i).SetPriority(torrent.PiecePriorityNow)
		case tierTail:
			s.torrent.Piece(i).SetPriority(torrent.PiecePriorityHigh)
		default:
			s.torrent.Piece(i).SetPriority(torrent.PiecePriorityNormal)
		}
	}

	s.prioritized = true
}

// Status returns the current snapshot for contentID, or false when no
// session is tracked for that id.
func (a *Adapter) Status(contentID string) (*Status, bool) {
	s, ok := a.registry.get(contentID)
	if !ok {
		return nil, false
	}

	t := s.torrent
	stats := t.Stats()

	var totalSize int64

	piecesTotal := 0
	piecesComplete := 0

	if t.Info() != nil {
		totalSize = t.Length()
		piecesTotal = t.NumPieces()

		for i := 0; i < piecesTotal; i++ {
			if t.PieceState(i).Complete {
				piecesComplete++
			}
		}
	}

	downloaded := t.BytesCompleted()

	progress := 0
	if totalSize > 0 {
		progress = int(downloaded * 100 / totalSize)
	}

	downRate, upRate := s.observeRates(stats.BytesReadData.Int64(), stats.BytesWrittenData.Int64())

	return &Status{
		Progress:        progress,
		DownloadRate:    downRate,
		UploadRate:      upRate,
		TotalDownloaded: downloaded,
		TotalSize:       totalSize,
		ETASeconds:      etaSeconds(totalSize, downloaded, downRate),
		NumPeers:        stats.ActivePeers,
		NumSeeds:        stats.ConnectedSeeders,
		PiecesTotal:     piecesTotal,
		PiecesComplete:  piecesComplete,
	}, true
}

// etaSeconds estimates the remaining transfer time. Zero when the rate
// is zero or the transfer is already done.
func etaSeconds(totalSize, downloaded, rate int64) int64 {
	if rate <= 0 || totalSize <= downloaded {
		return 0
	}

	return (totalSize - downloaded) / rate
}

// observeRates derives byte rates from counter deltas between polls;
// the engine exposes cumulative counters, not rates.
func (s *session) observeRates(read, written int64) (int64, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	if !s.lastPoll.IsZero() {
		if elapsed := now.Sub(s.lastPoll).Seconds(); elapsed > 0 {
			s.downRate = int64(float64(read-s.lastRead) / elapsed)
			s.upRate = int64(float64(written-s.lastWritten) / elapsed)
		}
	}

	s.lastPoll = now
	s.lastRead = read
	s.lastWritten = written

	return s.downRate, s.upRate
}

// Streamable reports whether playback can begin: overall progress must
// reach the threshold and every piece in the leading window must be
// complete. Always false while metadata is unknown.
func (a *Adapter) Streamable(contentID string, threshold float64) bool {
	s, ok := a.registry.get(contentID)
	if !ok {
		return false
	}

	t := s.torrent
	if t.Info() == nil {
		return false
	}

	totalSize := t.Length()
	if totalSize <= 0 || float64(t.BytesCompleted())/float64(totalSize) < threshold {
		return false
	}

	pieces := make([]bool, t.NumPieces())
	for i := range pieces {
		pieces[i] = t.PieceState(i).Complete
	}

	return leadingWindowComplete(pieces, threshold)
}

// Pause stops data transfer for the session. False when no session exists.
func (a *Adapter) Pause(contentID string) bool {
	s, ok := a.registry.get(contentID)
	if !ok {
		return false
	}

	s.torrent.DisallowDataDownload()

	return true
}

// Resume restarts data transfer for a paused session.
func (a *Adapter) Resume(contentID string) bool {
	s, ok := a.registry.get(contentID)
	if !ok {
		return false
	}

	s.torrent.AllowDataDownload()

	return true
}

// Cancel removes the engine session and its tracking entry. On-disk
// files are left alone; deleting them is a separate concern.
func (a *Adapter) Cancel(contentID string) bool {
	unlock := a.registry.lockKey(contentID)
	defer unlock()

	s, ok := a.registry.get(contentID)
	if !ok {
		return false
	}

	s.torrent.Drop()
	a.registry.delete(contentID)

	return true
}

// OutputFilePath resolves the playable file for contentID as the
// largest regular file under its save directory.
func (a *Adapter) OutputFilePath(contentID string) (string, bool) {
	saveDir := filepath.Join(a.rootDir, contentID)

	var (
		largest     string
		largestSize int64 = -1
	)

	err := filepath.WalkDir(saveDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		if info.Size() > largestSize {
			largest = path
			largestSize = info.Size()
		}

		return nil
	})
	if err != nil || largest == "" {
		return "", false
	}

	return largest, true
}
