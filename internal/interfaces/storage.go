package interfaces

import (
	"context"

	"github.com/ternarybob/quaero/internal/models"
)

// ListOptions narrows a listing query with simple offset pagination.
type ListOptions struct {
	Limit  int
	Offset int
}

// ScanJobStore is the durable record set for ScanJob. All mutations are
// transactional. Required indexes: by status, by priority_score, by
// created_at, by submitter_ip.
type ScanJobStore interface {
	SaveScanJob(ctx context.Context, job *models.ScanJob) error
	GetScanJob(ctx context.Context, scanID string) (*models.ScanJob, error)
	UpdateScanJob(ctx context.Context, job *models.ScanJob) error
	DeleteScanJob(ctx context.Context, scanID string) error
	ListScanJobs(ctx context.Context, filter models.ScanJobFilter) ([]*models.ScanJob, error)

	// GetQueuedOrdered returns queued jobs oldest-priority-first, tiebreak by
	// created_at ascending.
	GetQueuedOrdered(ctx context.Context, limit int) ([]*models.ScanJob, error)
	QueuedCount(ctx context.Context) (int, error)
	ProcessingCount(ctx context.Context) (int, error)
	JobsByIP(ctx context.Context, submitterIP string) (int, error)

	// PositionOf returns the 1-based position of scanID among queued jobs,
	// where position is 1 + count of queued jobs whose (priority_score,
	// created_at) sorts strictly before this job's.
	PositionOf(ctx context.Context, scanID string) (int, error)

	// UpdateMany applies a batch of job updates in a single transaction, used
	// by re-priority passes.
	UpdateMany(ctx context.Context, jobs []*models.ScanJob) error

	// DeleteCompletedOlderThanHours deletes terminal jobs (and their
	// children) older than the given age, up to maxDeletes per call.
	DeleteCompletedOlderThanHours(ctx context.Context, hours int, maxDeletes int) (int, error)
}

// DiscoveredImageStore is the durable record set for DiscoveredImage.
type DiscoveredImageStore interface {
	SaveDiscoveredImage(ctx context.Context, img *models.DiscoveredImage) error
	SaveDiscoveredImages(ctx context.Context, imgs []*models.DiscoveredImage) error
	ListDiscoveredImagesByScan(ctx context.Context, scanID string) ([]*models.DiscoveredImage, error)
	DeleteDiscoveredImagesByScan(ctx context.Context, scanID string) error
}

// CheckpointStore persists CrawlCheckpoint rows keyed by scan ID.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp *models.CrawlCheckpoint) error
	GetCheckpoint(ctx context.Context, scanID string) (*models.CrawlCheckpoint, error)
	DeleteCheckpoint(ctx context.Context, scanID string) error
}

// AggregateStatsStore owns the process-wide lifetime totals and their
// per-MIME/per-category child rows. Writes go exclusively through Upsert,
// which is responsible for the retry-bounded transactional discipline.
type AggregateStatsStore interface {
	GetAggregateStats(ctx context.Context) (*models.AggregateStats, error)

	// Upsert folds delta into the lifetime totals. Implementations retry on
	// concurrency conflict up to a fixed bound with exponential backoff,
	// re-reading fresh state each attempt; after retries are exhausted the
	// error is returned to the caller as non-fatal (the scan itself is not
	// reverted).
	Upsert(ctx context.Context, delta *models.AggregateDelta) error
}

// ConvertedImageBundleStore persists ConvertedImageBundle rows.
type ConvertedImageBundleStore interface {
	SaveBundle(ctx context.Context, bundle *models.ConvertedImageBundle) error
	GetBundleByDownloadID(ctx context.Context, downloadID string) (*models.ConvertedImageBundle, error)
	DeleteExpiredBundles(ctx context.Context, now int64, maxDeletes int) (int, error)
}

// StorageManager is the composite interface over every durable store the
// application depends on.
type StorageManager interface {
	ScanJobStore() ScanJobStore
	DiscoveredImageStore() DiscoveredImageStore
	CheckpointStore() CheckpointStore
	AggregateStatsStore() AggregateStatsStore
	ConvertedImageBundleStore() ConvertedImageBundleStore
	KeyValueStorage() KeyValueStorage
	DB() interface{}
	Close() error

	// LoadVariablesFromFiles loads key/value pairs from TOML files in the
	// given directory at startup, used for config secret injection.
	LoadVariablesFromFiles(ctx context.Context, dirPath string) error
}
