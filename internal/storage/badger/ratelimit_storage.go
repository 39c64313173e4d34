package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaero/internal/interfaces"
	"github.com/timshannon/badgerhold/v4"
)

// inFlightRecord tracks the queued+processing count for one submitter IP.
type inFlightRecord struct {
	IP    string `badgerholdKey:"IP"`
	Count int
}

// cooldownRecord tracks the cooldown expiry for one submitter IP.
type cooldownRecord struct {
	IP        string `badgerholdKey:"IP"`
	ExpiresAt time.Time
}

// RateLimitStorage implements interfaces.SubmitterLimiter for Badger. This
// is high-churn, short-lived state, kept separate from the durable
// ScanJobStore for the same reason the teacher separates a relational store
// for durable entities from a KV store for fast-changing counters.
type RateLimitStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRateLimitStorage creates a new submitter-limiter instance.
func NewRateLimitStorage(db *BadgerDB, logger arbor.ILogger) interfaces.SubmitterLimiter {
	return &RateLimitStorage{db: db, logger: logger}
}

func (s *RateLimitStorage) IncrementInFlight(ctx context.Context, ip string) (int, error) {
	var rec inFlightRecord
	err := s.db.Store().Get(ip, &rec)
	if err != nil && err != badgerhold.ErrNotFound {
		return 0, fmt.Errorf("failed to read in-flight count: %w", err)
	}
	rec.IP = ip
	rec.Count++

	if err := s.db.Store().Upsert(ip, &rec); err != nil {
		return 0, fmt.Errorf("failed to upsert in-flight count: %w", err)
	}
	return rec.Count, nil
}

func (s *RateLimitStorage) DecrementInFlight(ctx context.Context, ip string) error {
	var rec inFlightRecord
	err := s.db.Store().Get(ip, &rec)
	if err == badgerhold.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read in-flight count: %w", err)
	}

	rec.Count--
	if rec.Count <= 0 {
		if err := s.db.Store().Delete(ip, &inFlightRecord{}); err != nil {
			return fmt.Errorf("failed to delete in-flight count: %w", err)
		}
		return nil
	}

	if err := s.db.Store().Upsert(ip, &rec); err != nil {
		return fmt.Errorf("failed to upsert in-flight count: %w", err)
	}
	return nil
}

func (s *RateLimitStorage) InFlightCount(ctx context.Context, ip string) (int, error) {
	var rec inFlightRecord
	err := s.db.Store().Get(ip, &rec)
	if err == badgerhold.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read in-flight count: %w", err)
	}
	return rec.Count, nil
}

func (s *RateLimitStorage) StartCooldown(ctx context.Context, ip string, duration time.Duration) error {
	rec := cooldownRecord{IP: ip, ExpiresAt: time.Now().Add(duration)}
	if err := s.db.Store().Upsert(cooldownKey(ip), &rec); err != nil {
		return fmt.Errorf("failed to start cooldown: %w", err)
	}
	return nil
}

func (s *RateLimitStorage) InCooldown(ctx context.Context, ip string) (bool, error) {
	var rec cooldownRecord
	err := s.db.Store().Get(cooldownKey(ip), &rec)
	if err == badgerhold.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cooldown: %w", err)
	}

	if time.Now().After(rec.ExpiresAt) {
		_ = s.db.Store().Delete(cooldownKey(ip), &cooldownRecord{})
		return false, nil
	}
	return true, nil
}

func cooldownKey(ip string) string {
	return "cooldown:" + ip
}
