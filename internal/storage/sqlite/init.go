package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database and creates the contents table if it doesn't exist.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS contents (
		id TEXT PRIMARY KEY,
		source TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		year INTEGER NOT NULL DEFAULT 0,
		runtime_seconds INTEGER NOT NULL DEFAULT 0,
		director TEXT NOT NULL DEFAULT '',
		language TEXT NOT NULL DEFAULT '',
		genres TEXT NOT NULL DEFAULT '[]',
		poster_url TEXT NOT NULL DEFAULT '',
		catalog_url TEXT NOT NULL DEFAULT '',
		archive_rating REAL NOT NULL DEFAULT 0,
		imdb_rating REAL NOT NULL DEFAULT 0,
		imdb_id TEXT NOT NULL DEFAULT '',
		torrents TEXT NOT NULL DEFAULT '{}',
		downloaded INTEGER NOT NULL DEFAULT 0,
		download_status TEXT NOT NULL DEFAULT '',
		download_progress INTEGER NOT NULL DEFAULT 0,
		download_error TEXT NOT NULL DEFAULT '',
		file_path TEXT NOT NULL DEFAULT '',
		file_size INTEGER NOT NULL DEFAULT 0,
		downloaded_quality TEXT NOT NULL DEFAULT '',
		downloaded_at DATETIME,
		metadata_fetched_at DATETIME,
		metadata_freshness_days INTEGER NOT NULL DEFAULT 0,
		search_cache_hits INTEGER NOT NULL DEFAULT 0,
		last_searched_at DATETIME,
		is_popular INTEGER NOT NULL DEFAULT 0,
		popularity_rank INTEGER NOT NULL DEFAULT 0,
		popularity_score REAL NOT NULL DEFAULT 0,
		downloads INTEGER NOT NULL DEFAULT 0,
		num_reviews INTEGER NOT NULL DEFAULT 0,
		last_watched_at DATETIME,
		view_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`)
	if err != nil {
		return nil, err
	}

	for _, idx := range []string{
		`CREATE INDEX IF NOT EXISTS ix_contents_status ON contents (download_status)`,
		`CREATE INDEX IF NOT EXISTS ix_contents_popular ON contents (is_popular, popularity_rank)`,
		`CREATE INDEX IF NOT EXISTS ix_contents_eviction ON contents (downloaded, is_popular, last_searched_at, last_watched_at)`,
		`CREATE INDEX IF NOT EXISTS ix_contents_search ON contents (title, year)`,
	} {
		if _, err := db.Exec(idx); err != nil {
			return nil, err
		}
	}

	return db, nil
}
