package media

import (
	"time"
)

// DownloadStatus tracks where a record's acquisition currently stands.
type DownloadStatus string

const (
	StatusNone        DownloadStatus = ""
	StatusQueued      DownloadStatus = "queued"
	StatusDownloading DownloadStatus = "downloading"
	StatusProcessing  DownloadStatus = "processing"
	StatusComplete    DownloadStatus = "complete"
	StatusFailed      DownloadStatus = "failed"
)

// Torrent describes one acquirable variant of a content item.
type Torrent struct {
	Quality    string `json:"quality"`
	Magnet     string `json:"magnet,omitempty"`
	TorrentURL string `json:"torrent_url,omitempty"`
	Seeders    int    `json:"seeders"`
	Leechers   int    `json:"leechers"`
	SizeBytes  int64  `json:"size_bytes"`
	FileFormat string `json:"file_format,omitempty"`
}

// ContentRecord is the cached metadata row for one media item. The ID is
// the source catalog's stable identifier and joins the cache and
// download subsystems.
type ContentRecord struct {
	ID     string `json:"id"`
	Source string `json:"source"`

	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Year           int      `json:"year,omitempty"`
	RuntimeSeconds int      `json:"runtime_seconds,omitempty"`
	Director       string   `json:"director,omitempty"`
	Language       string   `json:"language,omitempty"`
	Genres         []string `json:"genres,omitempty"`
	PosterURL      string   `json:"poster_url,omitempty"`
	CatalogURL     string   `json:"catalog_url,omitempty"`

	// ArchiveRating is on the source's five-star scale, IMDBRating on
	// the ten-point one. Both may be zero when unknown.
	ArchiveRating float64 `json:"archive_rating,omitempty"`
	IMDBRating    float64 `json:"imdb_rating,omitempty"`
	IMDBID        string  `json:"imdb_id,omitempty"`

	// Torrents is keyed by quality label.
	Torrents map[string]Torrent `json:"torrents,omitempty"`

	Downloaded        bool           `json:"downloaded"`
	DownloadStatus    DownloadStatus `json:"download_status"`
	DownloadProgress  int            `json:"download_progress"`
	DownloadError     string         `json:"download_error,omitempty"`
	FilePath          string         `json:"file_path,omitempty"`
	FileSize          int64          `json:"file_size,omitempty"`
	DownloadedQuality string         `json:"downloaded_quality,omitempty"`
	DownloadedAt      *time.Time     `json:"downloaded_at,omitempty"`

	MetadataFetchedAt     *time.Time `json:"metadata_fetched_at,omitempty"`
	MetadataFreshnessDays int        `json:"metadata_freshness_days,omitempty"`
	SearchCacheHits       int        `json:"search_cache_hits"`
	LastSearchedAt        *time.Time `json:"last_searched_at,omitempty"`

	IsPopular       bool    `json:"is_popular"`
	PopularityRank  int     `json:"popularity_rank,omitempty"`
	PopularityScore float64 `json:"popularity_score,omitempty"`
	Downloads       int     `json:"downloads"`
	NumReviews      int     `json:"num_reviews"`

	LastWatchedAt *time.Time `json:"last_watched_at,omitempty"`
	ViewCount     int        `json:"view_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsAvailable reports whether the item is downloaded and playable.
func (r *ContentRecord) IsAvailable() bool {
	return r.Downloaded && r.FilePath != ""
}

// HasFullMetadata reports whether a detail fetch has ever populated
// this record. Search-derived rows never set MetadataFetchedAt.
func (r *ContentRecord) HasFullMetadata() bool {
	return r.MetadataFetchedAt != nil
}

// BestTorrent returns the variant for the preferred quality, falling
// back to any available one. Nil when the record has no torrents.
func (r *ContentRecord) BestTorrent(preferredQuality string) *Torrent {
	if len(r.Torrents) == 0 {
		return nil
	}

	if t, ok := r.Torrents[preferredQuality]; ok {
		return &t
	}

	for _, t := range r.Torrents {
		return &t
	}

	return nil
}

// RatingScore normalizes whichever rating the record carries to [0, 1].
// Archive ratings live on a five-star scale, IMDb on a ten-point one.
func (r *ContentRecord) RatingScore() float64 {
	if r.ArchiveRating > 0 {
		return r.ArchiveRating / 5
	}

	if r.IMDBRating > 0 {
		return r.IMDBRating / 10
	}

	return 0
}
