package models

import "time"

// CrawlCheckpoint is a periodic snapshot of crawl progress for one scan,
// written every N pages so a crash or restart can resume mid-crawl instead
// of re-scanning from the start URL.
type CrawlCheckpoint struct {
	ScanID          string    `json:"scan_id"`
	VisitedURLs     []string  `json:"visited_urls"`
	FrontierURLs    []string  `json:"frontier_urls"`
	PagesScanned    int       `json:"pages_scanned"`
	PagesDiscovered int       `json:"pages_discovered"`
	UpdatedAt       time.Time `json:"updated_at"`
}
