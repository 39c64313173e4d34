package interfaces

import (
	"context"
	"time"
)

// SubmitterLimiter tracks high-churn, short-lived per-IP admission state:
// in-flight job counts and post-scan cooldown windows. The fair-share queue
// uses only the cooldown methods; it counts a submitter's queued and
// processing jobs through ScanJobStore.JobsByIP. Backed by
// the embedded KV store rather than the relational ScanJobStore, since
// these counters change far more often than the durable ScanJob record and
// don't need SQL's transactional guarantees.
type SubmitterLimiter interface {
	// IncrementInFlight records a newly admitted job for ip and returns the
	// new in-flight count (queued + processing).
	IncrementInFlight(ctx context.Context, ip string) (int, error)

	// DecrementInFlight records that a job for ip left the queued/processing
	// set (completed or failed).
	DecrementInFlight(ctx context.Context, ip string) error

	// InFlightCount returns the current queued+processing count for ip.
	InFlightCount(ctx context.Context, ip string) (int, error)

	// StartCooldown begins a cooldown window for ip lasting duration.
	StartCooldown(ctx context.Context, ip string, duration time.Duration) error

	// InCooldown reports whether ip is still within its cooldown window.
	InCooldown(ctx context.Context, ip string) (bool, error)
}
