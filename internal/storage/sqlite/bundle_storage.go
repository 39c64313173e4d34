package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaero/internal/interfaces"
	"github.com/ternarybob/quaero/internal/models"
)

// ErrBundleNotFound is returned when a converted-image bundle does not exist.
var ErrBundleNotFound = errors.New("converted image bundle not found")

// BundleStorage implements interfaces.ConvertedImageBundleStore for SQLite.
type BundleStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewBundleStorage creates a new converted-image bundle storage instance.
func NewBundleStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.ConvertedImageBundleStore {
	return &BundleStorage{db: db, logger: logger}
}

func (s *BundleStorage) SaveBundle(ctx context.Context, bundle *models.ConvertedImageBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO converted_image_bundles (
			bundle_id, download_id, scan_id, image_count, size_bytes, storage_path, created_at, expires_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.db.ExecContext(ctx, query,
		bundle.BundleID, bundle.DownloadID, bundle.ScanID, bundle.ImageCount, bundle.SizeBytes,
		bundle.StoragePath, bundle.CreatedAt.Unix(), bundle.ExpiresAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save converted image bundle: %w", err)
	}
	return nil
}

func (s *BundleStorage) GetBundleByDownloadID(ctx context.Context, downloadID string) (*models.ConvertedImageBundle, error) {
	query := `
		SELECT bundle_id, download_id, scan_id, image_count, size_bytes, storage_path, created_at, expires_at
		FROM converted_image_bundles WHERE download_id = ?
	`
	var bundle models.ConvertedImageBundle
	var createdAt, expiresAt int64
	err := s.db.db.QueryRowContext(ctx, query, downloadID).Scan(
		&bundle.BundleID, &bundle.DownloadID, &bundle.ScanID, &bundle.ImageCount, &bundle.SizeBytes,
		&bundle.StoragePath, &createdAt, &expiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrBundleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get converted image bundle: %w", err)
	}
	bundle.CreatedAt = time.Unix(createdAt, 0)
	bundle.ExpiresAt = time.Unix(expiresAt, 0)
	return &bundle, nil
}

func (s *BundleStorage) DeleteExpiredBundles(ctx context.Context, now int64, maxDeletes int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		DELETE FROM converted_image_bundles WHERE bundle_id IN (
			SELECT bundle_id FROM converted_image_bundles WHERE expires_at < ? LIMIT ?
		)
	`
	result, err := s.db.db.ExecContext(ctx, query, now, maxDeletes)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired bundles: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rows), nil
}
