package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaero/internal/interfaces"
	"github.com/ternarybob/quaero/internal/models"
)

// ErrCheckpointNotFound is returned when no checkpoint exists for a scan.
var ErrCheckpointNotFound = errors.New("checkpoint not found")

// CheckpointStorage implements interfaces.CheckpointStore for SQLite.
type CheckpointStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewCheckpointStorage creates a new checkpoint storage instance.
func NewCheckpointStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.CheckpointStore {
	return &CheckpointStorage{db: db, logger: logger}
}

func (s *CheckpointStorage) SaveCheckpoint(ctx context.Context, cp *models.CrawlCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO crawl_checkpoints (scan_id, visited_urls, frontier_urls, pages_scanned, pages_discovered, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(scan_id) DO UPDATE SET
			visited_urls = excluded.visited_urls,
			frontier_urls = excluded.frontier_urls,
			pages_scanned = excluded.pages_scanned,
			pages_discovered = excluded.pages_discovered,
			updated_at = excluded.updated_at
	`
	_, err := s.db.db.ExecContext(ctx, query,
		cp.ScanID, strings.Join(cp.VisitedURLs, "\n"), strings.Join(cp.FrontierURLs, "\n"),
		cp.PagesScanned, cp.PagesDiscovered, cp.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (s *CheckpointStorage) GetCheckpoint(ctx context.Context, scanID string) (*models.CrawlCheckpoint, error) {
	query := `SELECT scan_id, visited_urls, frontier_urls, pages_scanned, pages_discovered, updated_at FROM crawl_checkpoints WHERE scan_id = ?`

	var cp models.CrawlCheckpoint
	var visited, frontier string
	var updatedAt int64
	err := s.db.db.QueryRowContext(ctx, query, scanID).Scan(
		&cp.ScanID, &visited, &frontier, &cp.PagesScanned, &cp.PagesDiscovered, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get checkpoint: %w", err)
	}

	cp.VisitedURLs = splitNonEmpty(visited, "\n")
	cp.FrontierURLs = splitNonEmpty(frontier, "\n")
	cp.UpdatedAt = time.Unix(updatedAt, 0)
	return &cp, nil
}

func (s *CheckpointStorage) DeleteCheckpoint(ctx context.Context, scanID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.db.ExecContext(ctx, `DELETE FROM crawl_checkpoints WHERE scan_id = ?`, scanID); err != nil {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}

func splitNonEmpty(s string, sep string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
