// Package processor runs the queue processor background loop: a tick,
// woken by either a plain ticker or the repurposed wake channel, that
// dequeues admitted jobs up to the concurrency cap and spawns one isolated
// worker per scan.
package processor

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaero/internal/bundler"
	"github.com/ternarybob/quaero/internal/common"
	"github.com/ternarybob/quaero/internal/estimator"
	"github.com/ternarybob/quaero/internal/interfaces"
	"github.com/ternarybob/quaero/internal/models"
	"github.com/ternarybob/quaero/internal/push"
	"github.com/ternarybob/quaero/internal/stats"
)

// Processor owns the dequeue loop and per-scan worker lifecycle.
type Processor struct {
	queue   interfaces.FairShareQueue
	engine  interfaces.CrawlEngine
	stores  interfaces.StorageManager
	wake    interfaces.WakeSignal
	tracker *stats.Tracker
	pusher  *push.Service
	queueCfg   common.QueueConfig
	crawlerCfg common.CrawlerConfig
	bundler *bundler.Bundler
	logger  arbor.ILogger
}

// WithBundler attaches the optional WebP bundle builder, invoked after a
// successful scan that opted into convert_to_webp. Left nil, bundling is
// skipped entirely.
func (p *Processor) WithBundler(b *bundler.Bundler) *Processor {
	p.bundler = b
	return p
}

// New creates a queue processor over the given collaborators.
func New(
	queue interfaces.FairShareQueue,
	engine interfaces.CrawlEngine,
	stores interfaces.StorageManager,
	wake interfaces.WakeSignal,
	tracker *stats.Tracker,
	pusher *push.Service,
	queueCfg common.QueueConfig,
	crawlerCfg common.CrawlerConfig,
	logger arbor.ILogger,
) *Processor {
	return &Processor{
		queue: queue, engine: engine, stores: stores, wake: wake,
		tracker: tracker, pusher: pusher, queueCfg: queueCfg, crawlerCfg: crawlerCfg, logger: logger,
	}
}

// Run blocks until ctx is cancelled, ticking the dequeue loop and the aging
// pass. Every tick that yields a job spawns an isolated worker; a panic in
// one worker never affects the processor or any other worker.
func (p *Processor) Run(ctx context.Context) {
	pollInterval, err := time.ParseDuration(p.queueCfg.PollInterval)
	if err != nil || pollInterval <= 0 {
		pollInterval = time.Second
	}
	agingInterval := time.Duration(p.queueCfg.AgingIntervalSeconds) * time.Second
	if agingInterval <= 0 {
		agingInterval = 15 * time.Second
	}

	wakeCh := make(chan func() error)
	if p.wake != nil {
		common.SafeGoWithContext(ctx, p.logger, "queue-wake-listener", func() {
			p.listenWake(ctx, wakeCh)
		})
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	agingTicker := time.NewTicker(agingInterval)
	defer agingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drainQueue(ctx)
		case ack := <-wakeCh:
			p.drainQueue(ctx)
			if ack != nil {
				if err := ack(); err != nil {
					p.logger.Warn().Err(err).Msg("failed to ack queue wake message")
				}
			}
		case <-agingTicker.C:
			if _, err := p.queue.AgePriorities(ctx); err != nil {
				p.logger.Warn().Err(err).Msg("failed to age queue priorities")
			}
		}
	}
}

// listenWake repeatedly blocks on the wake channel and forwards each
// message's ack function to out, until ctx is cancelled.
func (p *Processor) listenWake(ctx context.Context, out chan<- func() error) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, ack, err := p.wake.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn().Err(err).Msg("failed to receive queue wake message")
			time.Sleep(time.Second)
			continue
		}
		select {
		case out <- ack:
		case <-ctx.Done():
			return
		}
	}
}

// drainQueue dequeues every job currently admissible under the concurrency
// cap and spawns one worker per job.
func (p *Processor) drainQueue(ctx context.Context) {
	for {
		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.logger.Warn().Err(err).Msg("failed to dequeue scan job")
			return
		}
		if job == nil {
			return
		}

		workerJob := job
		common.SafeGoWithContext(ctx, p.logger, "scan-worker-"+workerJob.ScanID, func() {
			p.runWorker(ctx, workerJob)
		})
	}
}

// runWorker drives one scan end to end: crawl, persist, aggregate,
// complete. The worker's scan context is bounded by max_scan_duration and
// is also cancelled when the parent processor context is cancelled.
func (p *Processor) runWorker(parentCtx context.Context, job *models.ScanJob) {
	maxDuration := p.crawlerCfg.MaxScanDuration
	if maxDuration <= 0 {
		maxDuration = 10 * time.Minute
	}
	scanCtx, cancel := context.WithTimeout(parentCtx, maxDuration)
	defer cancel()

	p.tracker.Start(job.ScanID)
	defer p.tracker.Stop(job.ScanID)

	p.pusher.PushScanStarted(push.ScanStarted{
		ScanID:    job.ScanID,
		TargetURL: job.TargetURL,
		StartedAt: time.Now().UTC(),
	})

	var resume *models.CrawlCheckpoint
	if cp, err := p.stores.CheckpointStore().GetCheckpoint(scanCtx, job.ScanID); err == nil && cp != nil {
		resume = cp
	}

	var nonWebPCount int64

	progress := func(event interfaces.CrawlProgressEvent) {
		switch event.Kind {
		case "PageCompleted":
			p.tracker.UpdatePages(job.ScanID, event.PagesScanned, event.PagesDiscovered)
			p.pusher.PushPageProgress(push.PageProgress{
				ScanID:          job.ScanID,
				CurrentURL:      event.PageURL,
				PagesScanned:    event.PagesScanned,
				PagesDiscovered: event.PagesDiscovered,
				ProgressPercent: progressPercent(event.PagesScanned, event.PagesDiscovered),
			})
		case "ImageFound":
			if event.Image == nil {
				return
			}
			nonWebPCount++
			p.tracker.AddImage(job.ScanID, event.Image.MIMEType, event.Image.ImageURL, event.Image.SizeBytes, event.Image.EstimatedWebPSize, event.Image.EstimatedSavingsPct)
			var firstPage string
			if len(event.Image.PageURLs) > 0 {
				firstPage = event.Image.PageURLs[0]
			}
			p.pusher.PushImageFound(push.ImageFound{
				ScanID:            job.ScanID,
				ImageURL:          event.Image.ImageURL,
				MIMEType:          event.Image.MIMEType,
				SizeBytes:         event.Image.SizeBytes,
				IsNonWebP:         true,
				TotalNonWebPCount: nonWebPCount,
				PageURL:           firstPage,
			})
		}
	}

	checkpoint := func(cp *models.CrawlCheckpoint) {
		if err := p.stores.CheckpointStore().SaveCheckpoint(scanCtx, cp); err != nil {
			p.logger.Warn().Err(err).Str("scan_id", job.ScanID).Msg("failed to save crawl checkpoint")
		}
	}

	startedAt := time.Now()
	result, err := p.engine.Run(scanCtx, job, resume, progress, checkpoint)

	if err != nil {
		// scanCtx may already be cancelled (max_scan_duration timeout or
		// parent shutdown); images gathered up to that point still belong
		// in storage and the aggregate, so persist them against parentCtx
		// even though the job's terminal status is Failed.
		if result != nil && len(result.Images) > 0 {
			if saveErr := p.stores.DiscoveredImageStore().SaveDiscoveredImages(parentCtx, result.Images); saveErr != nil {
				p.logger.Warn().Err(saveErr).Str("scan_id", job.ScanID).Msg("failed to persist discovered images")
			}
			delta := models.NewAggregateDelta()
			delta.PagesCrawled = int64(result.PagesScanned)
			for _, img := range result.Images {
				category := estimator.ReportCategoryForURL(img.ImageURL)
				delta.Add(*img, category)
			}
			if upsertErr := p.stores.AggregateStatsStore().Upsert(parentCtx, delta); upsertErr != nil {
				p.logger.Warn().Err(upsertErr).Str("scan_id", job.ScanID).Msg("failed to upsert aggregate stats")
			}
		}
		p.finishFailed(parentCtx, job, err)
		return
	}

	if len(result.Images) > 0 {
		if err := p.stores.DiscoveredImageStore().SaveDiscoveredImages(scanCtx, result.Images); err != nil {
			p.logger.Warn().Err(err).Str("scan_id", job.ScanID).Msg("failed to persist discovered images")
		}
	}

	delta := models.NewAggregateDelta()
	delta.PagesCrawled = int64(result.PagesScanned)
	for _, img := range result.Images {
		category := estimator.ReportCategoryForURL(img.ImageURL)
		delta.Add(*img, category)
	}
	if err := p.stores.AggregateStatsStore().Upsert(scanCtx, delta); err != nil {
		p.logger.Warn().Err(err).Str("scan_id", job.ScanID).Msg("failed to upsert aggregate stats")
	}

	_ = p.stores.CheckpointStore().DeleteCheckpoint(scanCtx, job.ScanID)

	if p.bundler != nil && job.ConvertToWebP && len(result.Images) > 0 {
		if _, err := p.bundler.Build(scanCtx, job.ScanID, result.Images); err != nil {
			p.logger.Warn().Err(err).Str("scan_id", job.ScanID).Msg("failed to build converted image bundle")
		}
	}

	if stored, err := p.stores.ScanJobStore().GetScanJob(parentCtx, job.ScanID); err == nil {
		stored.PagesScanned = result.PagesScanned
		stored.PagesDiscovered = result.PagesDiscovered
		stored.NonWebPImagesFound = len(result.Images)
		stored.ReachedPageLimit = result.ReachedPageLimit
		if err := p.stores.ScanJobStore().UpdateScanJob(parentCtx, stored); err != nil {
			p.logger.Warn().Err(err).Str("scan_id", job.ScanID).Msg("failed to persist final scan counters")
		}
	}

	if err := p.queue.Complete(parentCtx, job.ScanID, true, ""); err != nil {
		p.logger.Warn().Err(err).Str("scan_id", job.ScanID).Msg("failed to mark scan job complete")
	}
	if err := p.queue.RecordCooldown(parentCtx, job.SubmitterIP); err != nil {
		p.logger.Warn().Err(err).Str("scan_id", job.ScanID).Msg("failed to record cooldown")
	}

	p.pusher.PushScanComplete(push.ScanComplete{
		ScanID:           job.ScanID,
		PagesScanned:     result.PagesScanned,
		ImagesFound:      int64(len(result.Images)),
		NonWebPCount:     nonWebPCount,
		DurationSeconds:  time.Since(startedAt).Seconds(),
		CompletedAt:      time.Now().UTC(),
		ReachedPageLimit: result.ReachedPageLimit,
	})
	p.pusher.PushStatsUpdate(p.tracker.CombinedLive())
}

func (p *Processor) finishFailed(parentCtx context.Context, job *models.ScanJob, runErr error) {
	errMsg := runErr.Error()
	if err := p.queue.Complete(parentCtx, job.ScanID, false, errMsg); err != nil {
		p.logger.Warn().Err(err).Str("scan_id", job.ScanID).Msg("failed to mark scan job failed")
	}
	if err := p.queue.RecordCooldown(parentCtx, job.SubmitterIP); err != nil {
		p.logger.Warn().Err(err).Str("scan_id", job.ScanID).Msg("failed to record cooldown after failure")
	}
	p.pusher.PushScanFailed(push.ScanFailed{
		ScanID:       job.ScanID,
		ErrorMessage: errMsg,
		FailedAt:     time.Now().UTC(),
	})
}

func progressPercent(scanned, discovered int) float64 {
	if discovered <= 0 {
		return 0
	}
	pct := 100 * float64(scanned) / float64(discovered)
	if pct > 100 {
		pct = 100
	}
	return pct
}
