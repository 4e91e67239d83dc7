package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/hypertube/hypertube/internal/cache"
	"github.com/hypertube/hypertube/internal/catalog"
	"github.com/hypertube/hypertube/internal/config"
	"github.com/hypertube/hypertube/internal/download"
	"github.com/hypertube/hypertube/internal/engine"
	"github.com/hypertube/hypertube/internal/http/rest"
	"github.com/hypertube/hypertube/internal/logctx"
	"github.com/hypertube/hypertube/internal/notifier"
	"github.com/hypertube/hypertube/internal/storage/sqlite"
	"github.com/hypertube/hypertube/internal/telemetry"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	slog.Info("hypertube starting...", "log_level", cfg.LogLevel)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		slog.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)

	// =========================================================================
	// Start Database
	database, err := sqlite.InitDB(cfg.DBPath)
	if err != nil {
		logger.Error("DB error", "err", err)

		return err
	}
	defer database.Close()

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	repo := sqlite.NewInstrumentedContentRepository(database, tel)

	// =========================================================================
	// Start Transfer Engine
	eng, err := engine.NewAdapter(cfg.DownloadDir, cfg.TorrentListenPort)
	if err != nil {
		return fmt.Errorf("failed to start transfer engine: %w", err)
	}
	defer eng.Close()

	// =========================================================================
	// Start Catalog Client
	provider := catalog.Provider(cfg.CatalogProvider)

	catClient, err := catalog.New(provider, cfg.ArchiveOrgBaseURL)
	if err != nil {
		return fmt.Errorf("failed to build catalog client: %w", err)
	}

	cat := catalog.NewInstrumentedClient(catClient, tel, provider)

	// =========================================================================
	// Start Download Coordination
	coord := download.NewCoordinator(repo, eng, tel, cfg.StreamableThreshold, cfg.DownloadDir)
	monitor := download.NewMonitor(coord, repo, tel, cfg.SyncInterval, cfg.MaxParallelSync)

	go monitor.Run(ctx)

	setupNotifications(ctx, coord, cfg)

	// =========================================================================
	// Start Metadata Cache
	cacheSvc := cache.NewService(repo, cat, tel, cfg.MetadataFreshnessDays)

	setupSweeps(ctx, cacheSvc, cfg)

	// =========================================================================
	// Start API Service

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	server := setupServer(ctx, cacheSvc, coord, cat, tel, cfg)

	go func() {
		logger.Info("Initializing API support", "host", cfg.Web.BindAddress)
		serverErrors <- server.ListenAndServe()
	}()

	logger.Info("serving catalog and downloads",
		"download_dir", cfg.DownloadDir,
		"catalog_provider", cfg.CatalogProvider,
		"sync_interval", cfg.SyncInterval.String(),
		"metadata_freshness_days", cfg.MetadataFreshnessDays,
	)

	// =========================================================================
	// Wait for shutdown
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		logger.Info("start shutdown")

		// Give outstanding requests a deadline for completion.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to gracefully shutdown the server", "err", err)

			if err = server.Close(); err != nil {
				return fmt.Errorf("could not stop server gracefully: %w", err)
			}
		}

		return nil
	}
}

// setupServer prepares the handlers and services to create the http rest server.
func setupServer(
	ctx context.Context,
	cacheSvc *cache.Service,
	coord *download.Coordinator,
	cat catalog.Client,
	tel *telemetry.Telemetry,
	cfg *config.Config,
) *http.Server {
	handler := rest.NewMoviesHandler(cacheSvc, coord, cat, cfg.PreferredQuality, cfg.PopularLimit, cfg.EvictionThresholdDays)

	r := chi.NewRouter()
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Mount("/", handler.Routes())
	r.Handle("/metrics", tel.Handler())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

// setupNotifications forwards download lifecycle events to the
// configured webhook. Without a webhook the events stay unread; the
// coordinator drops them instead of blocking.
func setupNotifications(ctx context.Context, coord *download.Coordinator, cfg *config.Config) {
	if cfg.DiscordWebhookURL == "" {
		return
	}

	logger := logctx.LoggerFromContext(ctx)
	notif := notifier.NewDiscordNotifier(cfg.DiscordWebhookURL)

	go func() {
		for event := range coord.OnDownloadComplete {
			if notifyErr := notif.Notify(ctx,
				"✅ Download finished: "+event.ContentID+" ("+humanize.Bytes(uint64(event.FileSize))+")",
			); notifyErr != nil {
				logger.Error("failed to send notification", "content_id", event.ContentID, "err", notifyErr)
			}
		}
	}()

	go func() {
		for event := range coord.OnDownloadFailed {
			if notifyErr := notif.Notify(ctx,
				"❌ Download failed: "+event.ContentID+" ("+event.Reason+")",
			); notifyErr != nil {
				logger.Error("failed to send notification", "content_id", event.ContentID, "err", notifyErr)
			}
		}
	}()
}

// setupSweeps starts the periodic popular refresh and cache eviction loops.
func setupSweeps(ctx context.Context, cacheSvc *cache.Service, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	go func() {
		refreshTicker := time.NewTicker(cfg.PopularRefreshInterval)
		defer refreshTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("popular refresh goroutine shutting down.")

				return
			case <-refreshTicker.C:
				if _, err := cacheSvc.RefreshPopular(ctx, cfg.PopularLimit); err != nil {
					logger.Error("failed to refresh popular set", "err", err)
				}
			}
		}
	}()

	go func() {
		evictionTicker := time.NewTicker(cfg.EvictionInterval)
		defer evictionTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("eviction goroutine shutting down.")

				return
			case <-evictionTicker.C:
				if _, err := cacheSvc.EvictStale(ctx, cfg.EvictionThresholdDays); err != nil {
					logger.Error("failed to evict stale cache records", "err", err)
				}
			}
		}
	}()
}
