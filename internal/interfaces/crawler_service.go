package interfaces

import (
	"context"

	"github.com/ternarybob/quaero/internal/models"
)

// CrawlProgressEvent is one of the events a CrawlEngine emits as it works
// through a scan. Exactly one of the typed fields is populated, matching
// the event kind.
type CrawlProgressEvent struct {
	Kind            string // "PageStarted", "PageCompleted", "PageSkipped", "ImageFound", "CrawlCompleted", "CrawlFailed"
	PageURL         string
	PagesScanned    int
	PagesDiscovered int
	Image           *models.DiscoveredImage
	ErrorMessage    string
}

// ProgressCallback receives CrawlProgressEvents in monotonic wall-clock
// emission order for a single scan.
type ProgressCallback func(event CrawlProgressEvent)

// CheckpointCallback is invoked every checkpoint_interval_pages pages with a
// snapshot the crawler can later resume from.
type CheckpointCallback func(cp *models.CrawlCheckpoint)

// CrawlResult is the terminal outcome of a CrawlEngine.Run call.
type CrawlResult struct {
	PagesScanned      int
	PagesDiscovered   int
	Images            []*models.DiscoveredImage
	ReachedPageLimit  bool
}

// CrawlEngine drives a controlled browser instance through all same-origin
// reachable pages of one scan, capturing served image MIME/byte counts and
// emitting progress.
type CrawlEngine interface {
	// Run crawls job.TargetURL (or resumes from resume, if non-nil) until the
	// pending set is empty, the page limit is reached, or ctx is cancelled.
	// progress and checkpoint are invoked during the crawl; checkpoint may be
	// nil to disable checkpointing.
	Run(ctx context.Context, job *models.ScanJob, resume *models.CrawlCheckpoint, progress ProgressCallback, checkpoint CheckpointCallback) (*CrawlResult, error)
}
