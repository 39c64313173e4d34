package storage

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaero/internal/common"
	"github.com/ternarybob/quaero/internal/interfaces"
	"github.com/ternarybob/quaero/internal/storage/badger"
	"github.com/ternarybob/quaero/internal/storage/sqlite"
)

// Stores bundles the two backing databases the application depends on:
// SQLite for the durable ScanJob/DiscoveredImage/AggregateStats record set,
// Badger for the high-churn per-IP rate-limit and cooldown counters.
type Stores struct {
	Manager interfaces.StorageManager
	Limiter interfaces.SubmitterLimiter
	badger  *badger.Manager
}

// Close closes both backing databases.
func (s *Stores) Close() error {
	if err := s.Manager.Close(); err != nil {
		return err
	}
	return s.badger.Close()
}

// NewStores wires up the SQLite storage manager and the Badger-backed rate
// limiter from config.
func NewStores(logger arbor.ILogger, config *common.Config) (*Stores, error) {
	sqliteManager, err := sqlite.NewManager(logger, &config.SQLite)
	if err != nil {
		return nil, err
	}

	badgerManager, err := badger.NewManager(logger, &config.Badger)
	if err != nil {
		return nil, err
	}

	return &Stores{
		Manager: sqliteManager,
		Limiter: badgerManager.SubmitterLimiter(),
		badger:  badgerManager,
	}, nil
}
