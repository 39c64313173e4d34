package models

import "time"

// ConvertedImageBundle is a materialized archive of WebP-converted images
// for one scan, keyed by download_id. Purely derived from a completed
// scan's DiscoveredImages; cleaned up by retention once expired.
type ConvertedImageBundle struct {
	BundleID   string    `json:"bundle_id"`
	DownloadID string    `json:"download_id"`
	ScanID     string    `json:"scan_id"`
	ImageCount int       `json:"image_count"`
	SizeBytes  int64     `json:"size_bytes"`
	StoragePath string   `json:"storage_path"`
	CreatedAt  time.Time `json:"created_at"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Expired reports whether the bundle is past its retention deadline.
func (b ConvertedImageBundle) Expired(now time.Time) bool {
	return now.After(b.ExpiresAt)
}
