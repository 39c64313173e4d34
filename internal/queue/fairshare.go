package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaero/internal/common"
	"github.com/ternarybob/quaero/internal/interfaces"
	"github.com/ternarybob/quaero/internal/models"
)

// FairShareQueue implements interfaces.FairShareQueue over a durable
// ScanJobStore for job state and a SubmitterLimiter for per-IP admission
// counters and cooldowns, woken by the repurposed goqite wake channel.
type FairShareQueue struct {
	store   interfaces.ScanJobStore
	limiter interfaces.SubmitterLimiter
	wake    interfaces.WakeSignal
	config  common.QueueConfig
	logger  arbor.ILogger
}

// NewFairShareQueue creates a fair-share queue over the given collaborators.
func NewFairShareQueue(store interfaces.ScanJobStore, limiter interfaces.SubmitterLimiter, wake interfaces.WakeSignal, config common.QueueConfig, logger arbor.ILogger) *FairShareQueue {
	return &FairShareQueue{store: store, limiter: limiter, wake: wake, config: config, logger: logger}
}

func (q *FairShareQueue) notifyWake(ctx context.Context, reason, scanID string) {
	if q.wake == nil {
		return
	}
	if err := q.wake.Enqueue(ctx, Message{Reason: reason, ScanID: scanID}); err != nil {
		q.logger.Warn().Err(err).Str("reason", reason).Msg("failed to push queue wake signal")
	}
}

// Enqueue assigns submission_count and priority_score per the fair-share
// formula and admits the job, subject to queue/IP/cooldown limits.
func (q *FairShareQueue) Enqueue(ctx context.Context, job *models.ScanJob) (*models.ScanJob, error) {
	queuedCount, err := q.store.QueuedCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read queued count: %w", err)
	}
	if queuedCount >= q.config.MaxQueueSize {
		return nil, interfaces.ErrQueueFull
	}

	if job.SubmitterIP != "" {
		inCooldown, err := q.limiter.InCooldown(ctx, job.SubmitterIP)
		if err != nil {
			return nil, fmt.Errorf("failed to check cooldown: %w", err)
		}
		if inCooldown {
			return nil, interfaces.ErrCooldown
		}

		jobsByIP, err := q.store.JobsByIP(ctx, job.SubmitterIP)
		if err != nil {
			return nil, fmt.Errorf("failed to count jobs by ip: %w", err)
		}
		if jobsByIP >= q.config.MaxQueuedJobsPerIP {
			return nil, interfaces.ErrIPLimit
		}
		job.SubmissionCount = jobsByIP + 1
	} else {
		job.SubmissionCount = 1
	}

	if job.ScanID == "" {
		job.ScanID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.Status = models.ScanStatusQueued

	ticks := q.config.TicksPerSecond
	if ticks <= 0 {
		ticks = 1
	}
	createdTicks := job.CreatedAt.Unix() * ticks
	job.PriorityScore = job.SubmissionCount*q.config.FairnessSlotSeconds*ticks + createdTicks

	if err := q.store.SaveScanJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to save scan job: %w", err)
	}

	q.notifyWake(ctx, "enqueue", job.ScanID)
	return job, nil
}

// Dequeue returns the next queued job ordered by (priority_score,
// created_at), or nil when the concurrency cap is reached or nothing is
// queued.
func (q *FairShareQueue) Dequeue(ctx context.Context) (*models.ScanJob, error) {
	processingCount, err := q.store.ProcessingCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read processing count: %w", err)
	}
	if processingCount >= q.config.MaxConcurrentScans {
		return nil, nil
	}

	candidates, err := q.store.GetQueuedOrdered(ctx, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to read queued jobs: %w", err)
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	job := candidates[0]
	now := time.Now().UTC()
	job.MarkStarted(now)

	if err := q.store.UpdateScanJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to mark job started: %w", err)
	}

	return job, nil
}

// AgePriorities subtracts the aging boost from every queued job waiting
// longer than the aging interval, bounded so no score passes below the
// baseline of the current oldest admission.
func (q *FairShareQueue) AgePriorities(ctx context.Context) ([]string, error) {
	queued, err := q.store.GetQueuedOrdered(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read queued jobs for aging: %w", err)
	}
	if len(queued) == 0 {
		return nil, nil
	}

	ticks := q.config.TicksPerSecond
	if ticks <= 0 {
		ticks = 1
	}
	boost := q.config.AgingBoostSeconds * ticks
	interval := time.Duration(q.config.AgingIntervalSeconds) * time.Second

	baseline := queued[0].PriorityScore
	for _, j := range queued {
		if j.PriorityScore < baseline {
			baseline = j.PriorityScore
		}
	}

	now := time.Now().UTC()
	var changed []string
	var toUpdate []*models.ScanJob

	for _, j := range queued {
		if j.CreatedAt.IsZero() || now.Sub(j.CreatedAt) < interval {
			continue
		}
		newScore := j.PriorityScore - boost
		if newScore < baseline {
			newScore = baseline
		}
		if newScore != j.PriorityScore {
			j.PriorityScore = newScore
			toUpdate = append(toUpdate, j)
			changed = append(changed, j.ScanID)
		}
	}

	if len(toUpdate) > 0 {
		if err := q.store.UpdateMany(ctx, toUpdate); err != nil {
			return nil, fmt.Errorf("failed to persist aged priorities: %w", err)
		}
		q.notifyWake(ctx, "age_priorities", "")
	}

	return changed, nil
}

// RecordCooldown starts submitterIP's post-scan cooldown window.
func (q *FairShareQueue) RecordCooldown(ctx context.Context, submitterIP string) error {
	if submitterIP == "" {
		return nil
	}
	duration := time.Duration(q.config.CooldownSeconds) * time.Second
	return q.limiter.StartCooldown(ctx, submitterIP, duration)
}

// Complete transitions scanID to a terminal state and stamps completed_at.
func (q *FairShareQueue) Complete(ctx context.Context, scanID string, success bool, errMsg string) error {
	job, err := q.store.GetScanJob(ctx, scanID)
	if err != nil {
		return fmt.Errorf("failed to load scan job: %w", err)
	}

	status := models.ScanStatusCompleted
	if !success {
		status = models.ScanStatusFailed
	}
	job.MarkTerminal(status, time.Now().UTC(), errMsg)

	if err := q.store.UpdateScanJob(ctx, job); err != nil {
		return fmt.Errorf("failed to mark job terminal: %w", err)
	}

	q.notifyWake(ctx, "complete", scanID)
	return nil
}

// PositionOf returns a queued job's 1-based position and the total number
// of queued jobs.
func (q *FairShareQueue) PositionOf(ctx context.Context, scanID string) (int, int, error) {
	position, err := q.store.PositionOf(ctx, scanID)
	if err != nil {
		return 0, 0, err
	}
	total, err := q.store.QueuedCount(ctx)
	if err != nil {
		return 0, 0, err
	}
	return position, total, nil
}
