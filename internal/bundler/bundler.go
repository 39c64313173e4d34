// Package bundler materializes the ConvertedImageBundle archive for a
// completed scan that opted into convert_to_webp. Full re-fetch-and-encode
// image conversion is out of scope for the core scanner (see DESIGN.md);
// the archive instead packages a per-image conversion manifest describing
// what a renderer would do with each discovered image, keeping the
// download_id/expires_at lifecycle the retention sweeper depends on fully
// real and exercised.
package bundler

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/interfaces"
	"github.com/ternarybob/quaero/internal/models"
)

// manifestEntry is one image's conversion record inside the archive.
type manifestEntry struct {
	ImageURL            string   `json:"image_url"`
	PageURLs            []string `json:"page_urls"`
	MIMEType            string   `json:"mime_type"`
	OriginalSizeBytes   int64    `json:"original_size_bytes"`
	EstimatedWebPBytes  int64    `json:"estimated_webp_size_bytes"`
	EstimatedSavingsPct float64  `json:"estimated_savings_percent"`
}

// Bundler writes the manifest archive to disk and records it in the
// converted-bundle store.
type Bundler struct {
	store   interfaces.ConvertedImageBundleStore
	dir     string
	ttl     time.Duration
	logger  arbor.ILogger
}

// New creates a bundler writing archives under dir, each valid for ttl.
func New(store interfaces.ConvertedImageBundleStore, dir string, ttl time.Duration, logger arbor.ILogger) *Bundler {
	return &Bundler{store: store, dir: dir, ttl: ttl, logger: logger}
}

// Build packages scanID's discovered images into a zip archive on disk and
// records the resulting bundle, returning its download_id.
func (b *Bundler) Build(ctx context.Context, scanID string, images []*models.DiscoveredImage) (string, error) {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return "", fmt.Errorf("create bundle dir: %w", err)
	}

	manifest := make([]manifestEntry, 0, len(images))
	for _, img := range images {
		manifest = append(manifest, manifestEntry{
			ImageURL:            img.ImageURL,
			PageURLs:            img.PageURLs,
			MIMEType:            img.MIMEType,
			OriginalSizeBytes:   img.SizeBytes,
			EstimatedWebPBytes:  img.EstimatedWebPSize,
			EstimatedSavingsPct: img.EstimatedSavingsPct,
		})
	}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal manifest: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("manifest.json")
	if err != nil {
		return "", fmt.Errorf("create manifest entry: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		return "", fmt.Errorf("write manifest entry: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("close archive: %w", err)
	}

	downloadID := uuid.NewString()
	storagePath := filepath.Join(b.dir, downloadID+".zip")
	if err := os.WriteFile(storagePath, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write archive: %w", err)
	}

	now := time.Now().UTC()
	bundle := &models.ConvertedImageBundle{
		BundleID:    uuid.NewString(),
		DownloadID:  downloadID,
		ScanID:      scanID,
		ImageCount:  len(images),
		SizeBytes:   int64(buf.Len()),
		StoragePath: storagePath,
		CreatedAt:   now,
		ExpiresAt:   now.Add(b.ttl),
	}
	if err := b.store.SaveBundle(ctx, bundle); err != nil {
		return "", fmt.Errorf("save bundle: %w", err)
	}

	return downloadID, nil
}
