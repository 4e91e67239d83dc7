package download

import (
	"context"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/hypertube/hypertube/internal/logctx"
	"github.com/hypertube/hypertube/internal/media"
	"github.com/hypertube/hypertube/internal/storage"
	"github.com/hypertube/hypertube/internal/telemetry"
)

// Monitor periodically reconciles every in-flight download against the
// engine. A failing item is logged and skipped; one bad transfer never
// stalls the sweep.
type Monitor struct {
	coord       *Coordinator
	repo        storage.ContentReadRepository
	tel         *telemetry.Telemetry
	interval    time.Duration
	maxParallel int
}

func NewMonitor(coord *Coordinator, repo storage.ContentReadRepository, tel *telemetry.Telemetry, interval time.Duration, maxParallel int) *Monitor {
	if maxParallel < 1 {
		maxParallel = 1
	}

	return &Monitor{
		coord:       coord,
		repo:        repo,
		tel:         tel,
		interval:    interval,
		maxParallel: maxParallel,
	}
}

// Run blocks until ctx is cancelled, sweeping on every tick.
func (m *Monitor) Run(ctx context.Context) {
	logger := logctx.LoggerFromContext(ctx)

	logger.Info("watching download progress", "polling_interval", m.interval)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down download monitor")

			return
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				logger.Error("failed to sweep downloads", "err", err)
			}
		}
	}
}

// Sweep syncs every record currently marked downloading or processing.
func (m *Monitor) Sweep(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	active, err := m.active(ctx)
	if err != nil {
		return err
	}

	if len(active) == 0 {
		return nil
	}

	wg, ctx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, m.maxParallel)

	for i := range active {
		rec := active[i]
		sem <- struct{}{}

		wg.Go(func() error {
			defer func() { <-sem }() // release the slot

			if err := m.coord.SyncProgress(ctx, rec.ID); err != nil {
				logger.Error("failed to sync download progress", "content_id", rec.ID, "err", err)

				m.tel.RecordSyncError(ctx)

				// Keep sweeping the rest.
				return nil
			}

			if st, ok := m.coord.engine.Status(rec.ID); ok {
				logger.Debug("download progress",
					"content_id", rec.ID,
					"percent", st.Progress,
					"downloaded", humanize.Bytes(uint64(st.TotalDownloaded)),
					"rate", humanize.Bytes(uint64(st.DownloadRate))+"/s")
			}

			return nil
		})
	}

	return wg.Wait()
}

func (m *Monitor) active(ctx context.Context) ([]*media.ContentRecord, error) {
	downloading, err := m.repo.ListByDownloadStatus(ctx, media.StatusDownloading)
	if err != nil {
		return nil, err
	}

	processing, err := m.repo.ListByDownloadStatus(ctx, media.StatusProcessing)
	if err != nil {
		return nil, err
	}

	return append(downloading, processing...), nil
}
