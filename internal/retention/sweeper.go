// Package retention runs the periodic cleanup sweepers: one deletes
// terminal scan jobs (and their children) older than retention_hours, the
// other deletes expired converted-image bundles. Both are idempotent and
// interruptible, scheduled on the same robfig/cron pattern the teacher uses
// for its background job registration.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaero/internal/common"
	"github.com/ternarybob/quaero/internal/interfaces"
)

// Sweeper owns the two cron-scheduled cleanup jobs.
type Sweeper struct {
	stores interfaces.StorageManager
	config common.RetentionConfig
	logger arbor.ILogger

	cron   *cron.Cron
	runMu  sync.Mutex // prevents the two sweeps from overlapping each other
}

// New creates a cleanup sweeper over the given store.
func New(stores interfaces.StorageManager, config common.RetentionConfig, logger arbor.ILogger) *Sweeper {
	return &Sweeper{
		stores: stores,
		config: config,
		logger: logger,
		cron:   cron.New(cron.WithSeconds()),
	}
}

// Start validates the configured schedule and registers both sweeps on it.
// Returns an error if the schedule does not parse.
func (s *Sweeper) Start(ctx context.Context) error {
	schedule := s.config.Schedule
	if schedule == "" {
		schedule = "0 0 * * * *"
	}
	if err := common.ValidateCronSchedule(schedule); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(schedule, func() { s.runScanJobSweep(ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(schedule, func() { s.runBundleSweep(ctx) }); err != nil {
		return err
	}

	s.cron.Start()

	go func() {
		<-ctx.Done()
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
	}()

	return nil
}

// runScanJobSweep deletes terminal scan jobs older than retention_hours, up
// to max_deletes_per_run, logging how many it removed.
func (s *Sweeper) runScanJobSweep(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	hours := s.config.RetentionHours
	if hours <= 0 {
		hours = 168
	}
	maxDeletes := s.config.MaxDeletesPerRun
	if maxDeletes <= 0 {
		maxDeletes = 500
	}

	deleted, err := s.stores.ScanJobStore().DeleteCompletedOlderThanHours(ctx, hours, maxDeletes)
	if err != nil {
		s.logger.Warn().Err(err).Msg("scan job retention sweep failed")
		return
	}
	if deleted > 0 {
		s.logger.Info().Int("deleted", deleted).Msg("retention sweep removed terminal scan jobs")
	}
}

// runBundleSweep deletes converted-image bundles whose expiry has passed, up
// to max_deletes_per_run.
func (s *Sweeper) runBundleSweep(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	maxDeletes := s.config.MaxDeletesPerRun
	if maxDeletes <= 0 {
		maxDeletes = 500
	}

	deleted, err := s.stores.ConvertedImageBundleStore().DeleteExpiredBundles(ctx, time.Now().UTC().Unix(), maxDeletes)
	if err != nil {
		s.logger.Warn().Err(err).Msg("bundle retention sweep failed")
		return
	}
	if deleted > 0 {
		s.logger.Info().Int("deleted", deleted).Msg("retention sweep removed expired converted-image bundles")
	}
}
