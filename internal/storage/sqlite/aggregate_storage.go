package sqlite

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaero/internal/interfaces"
	"github.com/ternarybob/quaero/internal/models"
)

// AggregateStorage implements interfaces.AggregateStatsStore for SQLite.
// Writes go through Upsert only, which retries a transactional
// read-modify-write on conflict up to 5 times with exponential backoff
// starting at 50ms, per the aggregate update discipline.
type AggregateStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewAggregateStorage creates a new aggregate-stats storage instance.
func NewAggregateStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.AggregateStatsStore {
	return &AggregateStorage{db: db, logger: logger}
}

func (s *AggregateStorage) GetAggregateStats(ctx context.Context) (*models.AggregateStats, error) {
	var stats models.AggregateStats

	err := s.db.db.QueryRowContext(ctx, `
		SELECT total_scans, total_pages_crawled, total_images_found,
			total_original_size, total_estimated_webp_size, total_savings_percent_sum
		FROM aggregate_stats WHERE id = 1
	`).Scan(
		&stats.TotalScans, &stats.TotalPagesCrawled, &stats.TotalImagesFound,
		&stats.TotalOriginalSize, &stats.TotalEstimatedWebPSize, &stats.TotalSavingsPercentSum,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read aggregate stats: %w", err)
	}

	mimeRows, err := s.db.db.QueryContext(ctx, `SELECT mime_type, image_count, original_size, estimated_webp_size, savings_percent_sum FROM aggregate_mime_stats`)
	if err != nil {
		return nil, fmt.Errorf("failed to read aggregate mime stats: %w", err)
	}
	defer mimeRows.Close()
	for mimeRows.Next() {
		var m models.AggregateMIMEStats
		if err := mimeRows.Scan(&m.MIMEType, &m.ImageCount, &m.OriginalSize, &m.EstimatedWebPSize, &m.SavingsPercentSum); err != nil {
			return nil, fmt.Errorf("failed to scan mime row: %w", err)
		}
		stats.ByMIME = append(stats.ByMIME, m)
	}

	catRows, err := s.db.db.QueryContext(ctx, `SELECT category, image_count, original_size, estimated_webp_size, savings_percent_sum FROM aggregate_category_stats`)
	if err != nil {
		return nil, fmt.Errorf("failed to read aggregate category stats: %w", err)
	}
	defer catRows.Close()
	for catRows.Next() {
		var c models.AggregateCategoryStats
		var category string
		if err := catRows.Scan(&category, &c.ImageCount, &c.OriginalSize, &c.EstimatedWebPSize, &c.SavingsPercentSum); err != nil {
			return nil, fmt.Errorf("failed to scan category row: %w", err)
		}
		c.Category = models.ImageReportCategory(category)
		stats.ByCategory = append(stats.ByCategory, c)
	}

	return &stats, nil
}

func (s *AggregateStorage) Upsert(ctx context.Context, delta *models.AggregateDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := retryWithExponentialBackoff(ctx, func() error {
		return s.applyDelta(ctx, delta)
	}, 5, 50*time.Millisecond, s.logger)

	if err != nil {
		s.logger.Error().Err(err).Msg("aggregate stats upsert failed after retries, scan result preserved")
		return fmt.Errorf("aggregate upsert failed: %w", err)
	}
	return nil
}

func (s *AggregateStorage) applyDelta(ctx context.Context, delta *models.AggregateDelta) error {
	tx, err := s.db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE aggregate_stats SET
			total_scans = total_scans + 1,
			total_pages_crawled = total_pages_crawled + ?,
			total_images_found = total_images_found + ?,
			total_original_size = total_original_size + ?,
			total_estimated_webp_size = total_estimated_webp_size + ?,
			total_savings_percent_sum = total_savings_percent_sum + ?
		WHERE id = 1
	`, delta.PagesCrawled, delta.ImagesFound, delta.OriginalSize, delta.WebPSize, delta.SavingsSum)
	if err != nil {
		return fmt.Errorf("failed to update lifetime totals: %w", err)
	}

	for mime, m := range delta.ByMIME {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO aggregate_mime_stats (mime_type, image_count, original_size, estimated_webp_size, savings_percent_sum)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(mime_type) DO UPDATE SET
				image_count = image_count + excluded.image_count,
				original_size = original_size + excluded.original_size,
				estimated_webp_size = estimated_webp_size + excluded.estimated_webp_size,
				savings_percent_sum = savings_percent_sum + excluded.savings_percent_sum
		`, mime, m.ImageCount, m.OriginalSize, m.EstimatedWebPSize, m.SavingsPercentSum)
		if err != nil {
			return fmt.Errorf("failed to upsert mime row %s: %w", mime, err)
		}
	}

	for category, c := range delta.ByCategory {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO aggregate_category_stats (category, image_count, original_size, estimated_webp_size, savings_percent_sum)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(category) DO UPDATE SET
				image_count = image_count + excluded.image_count,
				original_size = original_size + excluded.original_size,
				estimated_webp_size = estimated_webp_size + excluded.estimated_webp_size,
				savings_percent_sum = savings_percent_sum + excluded.savings_percent_sum
		`, string(category), c.ImageCount, c.OriginalSize, c.EstimatedWebPSize, c.SavingsPercentSum)
		if err != nil {
			return fmt.Errorf("failed to upsert category row %s: %w", category, err)
		}
	}

	return tx.Commit()
}
