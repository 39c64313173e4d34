package badger

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaero/internal/common"
	"github.com/ternarybob/quaero/internal/interfaces"
)

// Manager owns the embedded Badger database backing the generic KV store
// and the fair-share queue's per-IP rate-limit state. Unlike the SQLite
// Manager it does not implement interfaces.StorageManager: Badger here
// holds high-churn counters, not the durable ScanJob record set.
type Manager struct {
	db        *BadgerDB
	kv        interfaces.KeyValueStorage
	rateLimit interfaces.SubmitterLimiter
	logger    arbor.ILogger
}

// NewManager creates a new Badger-backed manager.
func NewManager(logger arbor.ILogger, config *common.BadgerConfig) (*Manager, error) {
	db, err := NewBadgerDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:        db,
		kv:        NewKVStorage(db, logger),
		rateLimit: NewRateLimitStorage(db, logger),
		logger:    logger,
	}

	logger.Info().Msg("Badger storage manager initialized (kv, rate limiter)")

	return manager, nil
}

// KeyValueStorage returns the KeyValue storage interface.
func (m *Manager) KeyValueStorage() interfaces.KeyValueStorage {
	return m.kv
}

// SubmitterLimiter returns the per-IP rate-limit/cooldown interface.
func (m *Manager) SubmitterLimiter() interfaces.SubmitterLimiter {
	return m.rateLimit
}

// DB returns the underlying badgerhold store.
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.Store()
	}
	return nil
}

// Close closes the database connection.
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
