package sqlite

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaero/internal/interfaces"
	"github.com/ternarybob/quaero/internal/models"
)

// DiscoveredImageStorage implements interfaces.DiscoveredImageStore for SQLite.
type DiscoveredImageStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewDiscoveredImageStorage creates a new discovered-image storage instance.
func NewDiscoveredImageStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.DiscoveredImageStore {
	return &DiscoveredImageStorage{db: db, logger: logger}
}

func (s *DiscoveredImageStorage) SaveDiscoveredImage(ctx context.Context, img *models.DiscoveredImage) error {
	return s.SaveDiscoveredImages(ctx, []*models.DiscoveredImage{img})
}

func (s *DiscoveredImageStorage) SaveDiscoveredImages(ctx context.Context, imgs []*models.DiscoveredImage) error {
	if len(imgs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO discovered_images (
			image_id, scan_id, page_urls, image_url, mime_type, category,
			size_bytes, estimated_webp_size, estimated_savings_pct, discovered_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, img := range imgs {
		pageURLs, err := json.Marshal(img.PageURLs)
		if err != nil {
			return fmt.Errorf("failed to encode page urls: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			img.ImageID, img.ScanID, string(pageURLs), img.ImageURL, img.MIMEType, string(img.Category),
			img.SizeBytes, img.EstimatedWebPSize, img.EstimatedSavingsPct, img.DiscoveredAt.Unix(),
		); err != nil {
			return fmt.Errorf("failed to insert discovered image: %w", err)
		}
	}

	return tx.Commit()
}

func (s *DiscoveredImageStorage) ListDiscoveredImagesByScan(ctx context.Context, scanID string) ([]*models.DiscoveredImage, error) {
	query := `
		SELECT image_id, scan_id, page_urls, image_url, mime_type, category,
			size_bytes, estimated_webp_size, estimated_savings_pct, discovered_at
		FROM discovered_images WHERE scan_id = ? ORDER BY discovered_at ASC
	`
	rows, err := s.db.db.QueryContext(ctx, query, scanID)
	if err != nil {
		return nil, fmt.Errorf("failed to list discovered images: %w", err)
	}
	defer rows.Close()

	var images []*models.DiscoveredImage
	for rows.Next() {
		var img models.DiscoveredImage
		var category string
		var pageURLs string
		var discoveredAt int64
		if err := rows.Scan(
			&img.ImageID, &img.ScanID, &pageURLs, &img.ImageURL, &img.MIMEType, &category,
			&img.SizeBytes, &img.EstimatedWebPSize, &img.EstimatedSavingsPct, &discoveredAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := json.Unmarshal([]byte(pageURLs), &img.PageURLs); err != nil {
			return nil, fmt.Errorf("failed to decode page urls: %w", err)
		}
		img.Category = models.ImageCategory(category)
		img.DiscoveredAt = time.Unix(discoveredAt, 0)
		images = append(images, &img)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	if images == nil {
		images = []*models.DiscoveredImage{}
	}
	return images, nil
}

func (s *DiscoveredImageStorage) DeleteDiscoveredImagesByScan(ctx context.Context, scanID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.db.ExecContext(ctx, `DELETE FROM discovered_images WHERE scan_id = ?`, scanID); err != nil {
		return fmt.Errorf("failed to delete discovered images: %w", err)
	}
	return nil
}
