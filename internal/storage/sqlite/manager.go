package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaero/internal/common"
	"github.com/ternarybob/quaero/internal/interfaces"
)

// Manager implements interfaces.StorageManager over a single SQLite database.
type Manager struct {
	db         *SQLiteDB
	scanJob    interfaces.ScanJobStore
	image      interfaces.DiscoveredImageStore
	checkpoint interfaces.CheckpointStore
	aggregate  interfaces.AggregateStatsStore
	bundle     interfaces.ConvertedImageBundleStore
	kv         interfaces.KeyValueStorage
	logger     arbor.ILogger
}

// NewManager creates a new SQLite storage manager.
func NewManager(logger arbor.ILogger, config *common.SQLiteConfig) (interfaces.StorageManager, error) {
	db, err := NewSQLiteDB(logger, config)
	if err != nil {
		return nil, err
	}

	manager := &Manager{
		db:         db,
		scanJob:    NewJobStorage(db, logger),
		image:      NewDiscoveredImageStorage(db, logger),
		checkpoint: NewCheckpointStorage(db, logger),
		aggregate:  NewAggregateStorage(db, logger),
		bundle:     NewBundleStorage(db, logger),
		kv:         NewKVStorage(db, logger),
		logger:     logger,
	}

	logger.Info().Msg("Storage manager initialized (scan jobs, discovered images, checkpoints, aggregate stats, bundles, kv)")

	return manager, nil
}

// ScanJobStore returns the scan-job storage interface.
func (m *Manager) ScanJobStore() interfaces.ScanJobStore {
	return m.scanJob
}

// DiscoveredImageStore returns the discovered-image storage interface.
func (m *Manager) DiscoveredImageStore() interfaces.DiscoveredImageStore {
	return m.image
}

// CheckpointStore returns the checkpoint storage interface.
func (m *Manager) CheckpointStore() interfaces.CheckpointStore {
	return m.checkpoint
}

// AggregateStatsStore returns the aggregate-stats storage interface.
func (m *Manager) AggregateStatsStore() interfaces.AggregateStatsStore {
	return m.aggregate
}

// ConvertedImageBundleStore returns the converted-bundle storage interface.
func (m *Manager) ConvertedImageBundleStore() interfaces.ConvertedImageBundleStore {
	return m.bundle
}

// KeyValueStorage returns the KeyValue storage interface.
func (m *Manager) KeyValueStorage() interfaces.KeyValueStorage {
	return m.kv
}

// DB returns the underlying database connection.
func (m *Manager) DB() interface{} {
	if m.db != nil {
		return m.db.DB()
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

// LoadVariablesFromFiles loads key/value pairs from every *.toml file in
// dirPath into the kv store, used at startup to seed config secrets.
func (m *Manager) LoadVariablesFromFiles(ctx context.Context, dirPath string) error {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read variables directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}

		path := filepath.Join(dirPath, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			m.logger.Warn().Err(err).Str("file", path).Msg("failed to read variables file")
			continue
		}

		var values map[string]string
		if err := toml.Unmarshal(data, &values); err != nil {
			m.logger.Warn().Err(err).Str("file", path).Msg("failed to parse variables file")
			continue
		}

		for key, value := range values {
			if _, err := m.kv.Upsert(ctx, key, value, fmt.Sprintf("loaded from %s", entry.Name())); err != nil {
				m.logger.Warn().Err(err).Str("key", key).Msg("failed to upsert variable")
			}
		}
	}

	return nil
}
