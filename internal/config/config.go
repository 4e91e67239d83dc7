package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	DBPath      string `envconfig:"DB_PATH" default:"hypertube.db"`
	DownloadDir string `envconfig:"DOWNLOAD_DIR" required:"true"`

	CatalogProvider   string `envconfig:"CATALOG_PROVIDER" default:"archive.org"`
	ArchiveOrgBaseURL string `envconfig:"ARCHIVE_ORG_BASE_URL" default:"https://archive.org"`

	TorrentListenPort   int     `envconfig:"TORRENT_LISTEN_PORT" default:"42069"`
	PreferredQuality    string  `envconfig:"PREFERRED_QUALITY" default:"1080p"`
	StreamableThreshold float64 `envconfig:"STREAMABLE_THRESHOLD" default:"0.05"`

	SyncInterval           time.Duration `envconfig:"SYNC_INTERVAL" default:"5s"`
	PopularRefreshInterval time.Duration `envconfig:"POPULAR_REFRESH_INTERVAL" default:"168h"`
	PopularLimit           int           `envconfig:"POPULAR_LIMIT" default:"100"`
	EvictionInterval       time.Duration `envconfig:"EVICTION_INTERVAL" default:"720h"`
	EvictionThresholdDays  int           `envconfig:"EVICTION_THRESHOLD_DAYS" default:"90"`
	MetadataFreshnessDays  int           `envconfig:"METADATA_FRESHNESS_DAYS" default:"7"`

	MaxParallelSync   int    `envconfig:"MAX_PARALLEL_SYNC" default:"5"`
	LogLevel          string `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled     bool   `split_words:"true" default:"true"`
		ServiceName string `split_words:"true" default:"hypertube"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8000"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
