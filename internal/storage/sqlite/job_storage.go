// -----------------------------------------------------------------------
// Last Modified: Monday, 3rd November 2025 7:35:40 am
// Modified By: Bob McAllan
// -----------------------------------------------------------------------

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

// ErrJobNotFound is returned when a scan job is not found in the database
var ErrJobNotFound = errors.New("scan job not found")

// retryWithExponentialBackoff retries an operation with exponential backoff for transient errors
func retryWithExponentialBackoff(ctx context.Context, operation func() error, maxAttempts int, initialDelay time.Duration, logger arbor.ILogger) error {
	var lastErr error
	delay := initialDelay

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = operation()
		if lastErr == nil {
			return nil
		}

		errMsg := lastErr.Error()
		isBusyError := strings.Contains(errMsg, "database is locked") || strings.Contains(errMsg, "SQLITE_BUSY")

		if !isBusyError {
			return lastErr
		}

		if attempt < maxAttempts {
			logger.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("database busy, retrying")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return lastErr
}

// JobStorage implements interfaces.ScanJobStore for SQLite.
type JobStorage struct {
	db     *SQLiteDB
	logger arbor.ILogger
	mu     sync.Mutex
}

// NewJobStorage creates a new scan-job storage instance.
func NewJobStorage(db *SQLiteDB, logger arbor.ILogger) interfaces.ScanJobStore {
	return &JobStorage{db: db, logger: logger}
}

func (s *JobStorage) SaveScanJob(ctx context.Context, job *models.ScanJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		INSERT INTO scan_jobs (
			scan_id, target_url, email, status, submitter_ip, submission_count,
			priority_score, convert_to_webp, created_at, started_at, completed_at,
			pages_scanned, pages_discovered, non_webp_images_found, reached_page_limit, error_message
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.db.ExecContext(ctx, query,
		job.ScanID, job.TargetURL, nullableString(job.Email), string(job.Status), nullableString(job.SubmitterIP),
		job.SubmissionCount, job.PriorityScore, job.ConvertToWebP, job.CreatedAt.Unix(),
		nullableTime(job.StartedAt), nullableTime(job.CompletedAt),
		job.PagesScanned, job.PagesDiscovered, job.NonWebPImagesFound, job.ReachedPageLimit, nullableString(job.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("failed to save scan job: %w", err)
	}
	return nil
}

func (s *JobStorage) GetScanJob(ctx context.Context, scanID string) (*models.ScanJob, error) {
	query := `
		SELECT scan_id, target_url, email, status, submitter_ip, submission_count,
			priority_score, convert_to_webp, created_at, started_at, completed_at,
			pages_scanned, pages_discovered, non_webp_images_found, reached_page_limit, error_message
		FROM scan_jobs WHERE scan_id = ?
	`
	row := s.db.db.QueryRowContext(ctx, query, scanID)
	job, err := scanScanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scan job: %w", err)
	}
	return job, nil
}

func (s *JobStorage) UpdateScanJob(ctx context.Context, job *models.ScanJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `
		UPDATE scan_jobs SET
			target_url = ?, email = ?, status = ?, submitter_ip = ?, submission_count = ?,
			priority_score = ?, convert_to_webp = ?, started_at = ?, completed_at = ?,
			pages_scanned = ?, pages_discovered = ?, non_webp_images_found = ?,
			reached_page_limit = ?, error_message = ?
		WHERE scan_id = ?
	`
	result, err := s.db.db.ExecContext(ctx, query,
		job.TargetURL, nullableString(job.Email), string(job.Status), nullableString(job.SubmitterIP), job.SubmissionCount,
		job.PriorityScore, job.ConvertToWebP, nullableTime(job.StartedAt), nullableTime(job.CompletedAt),
		job.PagesScanned, job.PagesDiscovered, job.NonWebPImagesFound, job.ReachedPageLimit, nullableString(job.ErrorMessage),
		job.ScanID,
	)
	if err != nil {
		return fmt.Errorf("failed to update scan job: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrJobNotFound
	}
	return nil
}

func (s *JobStorage) DeleteScanJob(ctx context.Context, scanID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.db.ExecContext(ctx, `DELETE FROM scan_jobs WHERE scan_id = ?`, scanID)
	if err != nil {
		return fmt.Errorf("failed to delete scan job: %w", err)
	}
	return nil
}

func (s *JobStorage) ListScanJobs(ctx context.Context, filter models.ScanJobFilter) ([]*models.ScanJob, error) {
	query := `
		SELECT scan_id, target_url, email, status, submitter_ip, submission_count,
			priority_score, convert_to_webp, created_at, started_at, completed_at,
			pages_scanned, pages_discovered, non_webp_images_found, reached_page_limit, error_message
		FROM scan_jobs WHERE 1=1
	`
	var args []interface{}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.SubmitterIP != "" {
		query += " AND submitter_ip = ?"
		args = append(args, filter.SubmitterIP)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	return s.queryScanJobs(ctx, query, args...)
}

func (s *JobStorage) GetQueuedOrdered(ctx context.Context, limit int) ([]*models.ScanJob, error) {
	query := `
		SELECT scan_id, target_url, email, status, submitter_ip, submission_count,
			priority_score, convert_to_webp, created_at, started_at, completed_at,
			pages_scanned, pages_discovered, non_webp_images_found, reached_page_limit, error_message
		FROM scan_jobs
		WHERE status = ?
		ORDER BY priority_score ASC, created_at ASC
		LIMIT ?
	`
	return s.queryScanJobs(ctx, query, string(models.ScanStatusQueued), limit)
}

func (s *JobStorage) QueuedCount(ctx context.Context) (int, error) {
	return s.countByStatus(ctx, models.ScanStatusQueued)
}

func (s *JobStorage) ProcessingCount(ctx context.Context) (int, error) {
	return s.countByStatus(ctx, models.ScanStatusProcessing)
}

func (s *JobStorage) countByStatus(ctx context.Context, status models.ScanStatus) (int, error) {
	var count int
	err := s.db.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM scan_jobs WHERE status = ?`, string(status)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count scan jobs by status: %w", err)
	}
	return count, nil
}

func (s *JobStorage) JobsByIP(ctx context.Context, submitterIP string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM scan_jobs WHERE submitter_ip = ? AND status IN (?, ?)`
	err := s.db.db.QueryRowContext(ctx, query, submitterIP, string(models.ScanStatusQueued), string(models.ScanStatusProcessing)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count scan jobs by ip: %w", err)
	}
	return count, nil
}

func (s *JobStorage) PositionOf(ctx context.Context, scanID string) (int, error) {
	job, err := s.GetScanJob(ctx, scanID)
	if err != nil {
		return 0, err
	}
	if job.Status != models.ScanStatusQueued {
		return 0, fmt.Errorf("scan job %s is not queued", scanID)
	}

	var ahead int
	query := `
		SELECT COUNT(*) FROM scan_jobs
		WHERE status = ? AND (priority_score < ? OR (priority_score = ? AND created_at < ?))
	`
	err = s.db.db.QueryRowContext(ctx, query,
		string(models.ScanStatusQueued), job.PriorityScore, job.PriorityScore, job.CreatedAt.Unix(),
	).Scan(&ahead)
	if err != nil {
		return 0, fmt.Errorf("failed to compute queue position: %w", err)
	}
	return ahead + 1, nil
}

func (s *JobStorage) UpdateMany(ctx context.Context, jobs []*models.ScanJob) error {
	if len(jobs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return retryWithExponentialBackoff(ctx, func() error {
		tx, err := s.db.BeginTx(ctx)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `
			UPDATE scan_jobs SET priority_score = ?, status = ? WHERE scan_id = ?
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer stmt.Close()

		for _, job := range jobs {
			if _, err := stmt.ExecContext(ctx, job.PriorityScore, string(job.Status), job.ScanID); err != nil {
				return fmt.Errorf("failed to update job %s: %w", job.ScanID, err)
			}
		}

		return tx.Commit()
	}, 3, 50*time.Millisecond, s.logger)
}

func (s *JobStorage) DeleteCompletedOlderThanHours(ctx context.Context, hours int, maxDeletes int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour).Unix()
	query := `
		DELETE FROM scan_jobs WHERE scan_id IN (
			SELECT scan_id FROM scan_jobs
			WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?
			LIMIT ?
		)
	`
	result, err := s.db.db.ExecContext(ctx, query,
		string(models.ScanStatusCompleted), string(models.ScanStatusFailed), cutoff, maxDeletes,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired scan jobs: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(rows), nil
}

func (s *JobStorage) queryScanJobs(ctx context.Context, query string, args ...interface{}) ([]*models.ScanJob, error) {
	rows, err := s.db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query scan jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.ScanJob
	for rows.Next() {
		job, err := scanScanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	if jobs == nil {
		jobs = []*models.ScanJob{}
	}
	return jobs, nil
}

// rowScanner abstracts over *sql.Row and *sql.Rows for scanScanJob.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanScanJob(row rowScanner) (*models.ScanJob, error) {
	var job models.ScanJob
	var email, submitterIP, errMsg sql.NullString
	var createdAt int64
	var startedAt, completedAt sql.NullInt64
	var status string

	err := row.Scan(
		&job.ScanID, &job.TargetURL, &email, &status, &submitterIP, &job.SubmissionCount,
		&job.PriorityScore, &job.ConvertToWebP, &createdAt, &startedAt, &completedAt,
		&job.PagesScanned, &job.PagesDiscovered, &job.NonWebPImagesFound, &job.ReachedPageLimit, &errMsg,
	)
	if err != nil {
		return nil, err
	}

	job.Status = models.ScanStatus(status)
	job.Email = email.String
	job.SubmitterIP = submitterIP.String
	job.ErrorMessage = errMsg.String
	job.CreatedAt = time.Unix(createdAt, 0)
	if startedAt.Valid {
		t := time.Unix(startedAt.Int64, 0)
		job.StartedAt = &t
	}
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		job.CompletedAt = &t
	}

	return &job, nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}
