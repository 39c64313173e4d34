package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/quaero/internal/models"
	"github.com/ternarybob/quaero/internal/queue"
)

// WakeSignal is the repurposed goqite-backed channel used to interrupt the
// queue processor's tick early on enqueue/age/complete, instead of waiting
// for the next plain ticker interval.
type WakeSignal interface {
	Enqueue(ctx context.Context, msg queue.Message) error
	Receive(ctx context.Context) (*queue.Message, func() error, error)
	Extend(ctx context.Context, messageID string, duration time.Duration) error
	Close() error
}

// ErrQueueFull is returned by FairShareQueue.Enqueue when the queue has
// reached max_queue_size.
var ErrQueueFull = &QueueError{Kind: "QueueFull"}

// ErrIPLimit is returned when the submitter IP already has
// max_queued_jobs_per_ip jobs queued or processing.
var ErrIPLimit = &QueueError{Kind: "IpLimit"}

// ErrCooldown is returned when the submitter IP is within its post-scan
// cooldown window.
var ErrCooldown = &QueueError{Kind: "Cooldown"}

// QueueError is a structured admission failure.
type QueueError struct {
	Kind string
}

func (e *QueueError) Error() string { return e.Kind }

// FairShareQueue is the admission and ordering contract described by the
// submission_count/fairness_slot_ticks priority formula: lower
// priority_score runs sooner, ties broken by created_at ascending.
type FairShareQueue interface {
	// Enqueue assigns submission_count and priority_score and admits job.
	// Returns ErrQueueFull, ErrIPLimit, or ErrCooldown on rejection.
	Enqueue(ctx context.Context, job *models.ScanJob) (*models.ScanJob, error)

	// Dequeue returns the next job to run, or nil when processing_count has
	// reached max_concurrent_scans or no jobs are queued.
	Dequeue(ctx context.Context) (*models.ScanJob, error)

	// AgePriorities subtracts the aging boost from every queued job waiting
	// longer than the aging interval and returns the ids whose
	// priority_score changed.
	AgePriorities(ctx context.Context) ([]string, error)

	// RecordCooldown starts a cooldown timer for submitterIP.
	RecordCooldown(ctx context.Context, submitterIP string) error

	// Complete transitions scanID to a terminal state and stamps
	// completed_at.
	Complete(ctx context.Context, scanID string, success bool, errMsg string) error

	// PositionOf returns the job's 1-based queue position and the total
	// number of queued jobs.
	PositionOf(ctx context.Context, scanID string) (position int, total int, err error)
}
