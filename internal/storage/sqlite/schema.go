package sqlite

// InitSchema creates every table and index the scanner needs if they don't
// already exist. Schema changes land here as additive CREATE TABLE IF NOT
// EXISTS / CREATE INDEX IF NOT EXISTS statements; there is no migration
// step for destructive changes.
func (s *SQLiteDB) InitSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS scan_jobs (
			scan_id               TEXT PRIMARY KEY,
			target_url            TEXT NOT NULL,
			email                 TEXT,
			status                TEXT NOT NULL,
			submitter_ip          TEXT,
			submission_count      INTEGER NOT NULL DEFAULT 1,
			priority_score        INTEGER NOT NULL DEFAULT 0,
			convert_to_webp       INTEGER NOT NULL DEFAULT 0,
			created_at            DATETIME NOT NULL,
			started_at            DATETIME,
			completed_at          DATETIME,
			pages_scanned         INTEGER NOT NULL DEFAULT 0,
			pages_discovered      INTEGER NOT NULL DEFAULT 0,
			non_webp_images_found INTEGER NOT NULL DEFAULT 0,
			reached_page_limit    INTEGER NOT NULL DEFAULT 0,
			error_message         TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_jobs_status ON scan_jobs(status)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_jobs_priority_score ON scan_jobs(priority_score)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_jobs_created_at ON scan_jobs(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_scan_jobs_submitter_ip ON scan_jobs(submitter_ip)`,

		`CREATE TABLE IF NOT EXISTS discovered_images (
			image_id              TEXT PRIMARY KEY,
			scan_id               TEXT NOT NULL REFERENCES scan_jobs(scan_id) ON DELETE CASCADE,
			page_urls             TEXT NOT NULL,
			image_url             TEXT NOT NULL,
			mime_type             TEXT NOT NULL,
			category              TEXT NOT NULL,
			size_bytes            INTEGER NOT NULL,
			estimated_webp_size   INTEGER NOT NULL,
			estimated_savings_pct REAL NOT NULL,
			discovered_at         DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_discovered_images_scan_id ON discovered_images(scan_id)`,

		`CREATE TABLE IF NOT EXISTS crawl_checkpoints (
			scan_id          TEXT PRIMARY KEY REFERENCES scan_jobs(scan_id) ON DELETE CASCADE,
			visited_urls     TEXT NOT NULL,
			frontier_urls    TEXT NOT NULL,
			pages_scanned    INTEGER NOT NULL,
			pages_discovered INTEGER NOT NULL,
			updated_at       DATETIME NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS aggregate_stats (
			id                         INTEGER PRIMARY KEY CHECK (id = 1),
			total_scans                INTEGER NOT NULL DEFAULT 0,
			total_pages_crawled        INTEGER NOT NULL DEFAULT 0,
			total_images_found         INTEGER NOT NULL DEFAULT 0,
			total_original_size        INTEGER NOT NULL DEFAULT 0,
			total_estimated_webp_size  INTEGER NOT NULL DEFAULT 0,
			total_savings_percent_sum  REAL NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS aggregate_mime_stats (
			mime_type             TEXT PRIMARY KEY,
			image_count           INTEGER NOT NULL DEFAULT 0,
			original_size         INTEGER NOT NULL DEFAULT 0,
			estimated_webp_size   INTEGER NOT NULL DEFAULT 0,
			savings_percent_sum   REAL NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS aggregate_category_stats (
			category              TEXT PRIMARY KEY,
			image_count           INTEGER NOT NULL DEFAULT 0,
			original_size         INTEGER NOT NULL DEFAULT 0,
			estimated_webp_size   INTEGER NOT NULL DEFAULT 0,
			savings_percent_sum   REAL NOT NULL DEFAULT 0
		)`,

		`CREATE TABLE IF NOT EXISTS converted_image_bundles (
			bundle_id     TEXT PRIMARY KEY,
			download_id   TEXT NOT NULL UNIQUE,
			scan_id       TEXT NOT NULL REFERENCES scan_jobs(scan_id) ON DELETE CASCADE,
			image_count   INTEGER NOT NULL,
			size_bytes    INTEGER NOT NULL,
			storage_path  TEXT NOT NULL,
			created_at    DATETIME NOT NULL,
			expires_at    DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_converted_bundles_expires_at ON converted_image_bundles(expires_at)`,

		`CREATE TABLE IF NOT EXISTS key_value_store (
			key         TEXT PRIMARY KEY,
			value       TEXT NOT NULL,
			description TEXT,
			created_at  DATETIME NOT NULL,
			updated_at  DATETIME NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}

	// The singleton aggregate row always exists; later upserts are plain
	// UPDATEs against id=1.
	if _, err := s.db.Exec(`INSERT OR IGNORE INTO aggregate_stats (id) VALUES (1)`); err != nil {
		return err
	}

	return nil
}
