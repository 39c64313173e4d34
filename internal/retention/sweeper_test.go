package retention

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaero/internal/common"
	"github.com/ternarybob/quaero/internal/interfaces"
	"github.com/ternarybob/quaero/internal/models"
)

// fakeStores implements interfaces.StorageManager with only the two stores
// the sweeper touches wired up; every other accessor panics if called.
type fakeStores struct {
	jobStore    *fakeScanJobStore
	bundleStore *fakeBundleStore
}

func (f *fakeStores) ScanJobStore() interfaces.ScanJobStore                       { return f.jobStore }
func (f *fakeStores) DiscoveredImageStore() interfaces.DiscoveredImageStore      { return nil }
func (f *fakeStores) CheckpointStore() interfaces.CheckpointStore                { return nil }
func (f *fakeStores) AggregateStatsStore() interfaces.AggregateStatsStore        { return nil }
func (f *fakeStores) ConvertedImageBundleStore() interfaces.ConvertedImageBundleStore {
	return f.bundleStore
}
func (f *fakeStores) KeyValueStorage() interfaces.KeyValueStorage { return nil }
func (f *fakeStores) DB() interface{}                             { return nil }
func (f *fakeStores) Close() error                                { return nil }
func (f *fakeStores) LoadVariablesFromFiles(ctx context.Context, dirPath string) error { return nil }

type fakeScanJobStore struct {
	mu               sync.Mutex
	calls            int
	lastHours        int
	lastMaxDeletes   int
	deletedToReturn  int
	errToReturn      error
}

func (s *fakeScanJobStore) SaveScanJob(ctx context.Context, job *models.ScanJob) error   { return nil }
func (s *fakeScanJobStore) GetScanJob(ctx context.Context, scanID string) (*models.ScanJob, error) {
	return nil, nil
}
func (s *fakeScanJobStore) UpdateScanJob(ctx context.Context, job *models.ScanJob) error { return nil }
func (s *fakeScanJobStore) DeleteScanJob(ctx context.Context, scanID string) error       { return nil }
func (s *fakeScanJobStore) ListScanJobs(ctx context.Context, filter models.ScanJobFilter) ([]*models.ScanJob, error) {
	return nil, nil
}
func (s *fakeScanJobStore) GetQueuedOrdered(ctx context.Context, limit int) ([]*models.ScanJob, error) {
	return nil, nil
}
func (s *fakeScanJobStore) QueuedCount(ctx context.Context) (int, error)     { return 0, nil }
func (s *fakeScanJobStore) ProcessingCount(ctx context.Context) (int, error) { return 0, nil }
func (s *fakeScanJobStore) JobsByIP(ctx context.Context, submitterIP string) (int, error) {
	return 0, nil
}
func (s *fakeScanJobStore) PositionOf(ctx context.Context, scanID string) (int, error) { return 0, nil }
func (s *fakeScanJobStore) UpdateMany(ctx context.Context, jobs []*models.ScanJob) error { return nil }
func (s *fakeScanJobStore) DeleteCompletedOlderThanHours(ctx context.Context, hours int, maxDeletes int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastHours = hours
	s.lastMaxDeletes = maxDeletes
	return s.deletedToReturn, s.errToReturn
}

type fakeBundleStore struct {
	mu              sync.Mutex
	calls           int
	lastMaxDeletes  int
	deletedToReturn int
	errToReturn     error
}

func (s *fakeBundleStore) SaveBundle(ctx context.Context, bundle *models.ConvertedImageBundle) error {
	return nil
}
func (s *fakeBundleStore) GetBundleByDownloadID(ctx context.Context, downloadID string) (*models.ConvertedImageBundle, error) {
	return nil, nil
}
func (s *fakeBundleStore) DeleteExpiredBundles(ctx context.Context, now int64, maxDeletes int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.lastMaxDeletes = maxDeletes
	return s.deletedToReturn, s.errToReturn
}

func TestSweeper_RunScanJobSweep_UsesConfiguredBoundsAndLogsDeletes(t *testing.T) {
	jobStore := &fakeScanJobStore{deletedToReturn: 12}
	stores := &fakeStores{jobStore: jobStore, bundleStore: &fakeBundleStore{}}
	s := New(stores, common.RetentionConfig{RetentionHours: 48, MaxDeletesPerRun: 100}, arbor.NewLogger())

	s.runScanJobSweep(context.Background())

	assert.Equal(t, 1, jobStore.calls)
	assert.Equal(t, 48, jobStore.lastHours)
	assert.Equal(t, 100, jobStore.lastMaxDeletes)
}

func TestSweeper_RunScanJobSweep_DefaultsWhenUnconfigured(t *testing.T) {
	jobStore := &fakeScanJobStore{}
	stores := &fakeStores{jobStore: jobStore, bundleStore: &fakeBundleStore{}}
	s := New(stores, common.RetentionConfig{}, arbor.NewLogger())

	s.runScanJobSweep(context.Background())

	assert.Equal(t, 168, jobStore.lastHours)
	assert.Equal(t, 500, jobStore.lastMaxDeletes)
}

func TestSweeper_RunBundleSweep_UsesConfiguredBounds(t *testing.T) {
	bundleStore := &fakeBundleStore{deletedToReturn: 3}
	stores := &fakeStores{jobStore: &fakeScanJobStore{}, bundleStore: bundleStore}
	s := New(stores, common.RetentionConfig{MaxDeletesPerRun: 20}, arbor.NewLogger())

	s.runBundleSweep(context.Background())

	assert.Equal(t, 1, bundleStore.calls)
	assert.Equal(t, 20, bundleStore.lastMaxDeletes)
}

func TestSweeper_Sweeps_DoNotOverlap(t *testing.T) {
	jobStore := &fakeScanJobStore{}
	bundleStore := &fakeBundleStore{}
	stores := &fakeStores{jobStore: jobStore, bundleStore: bundleStore}
	s := New(stores, common.RetentionConfig{}, arbor.NewLogger())

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.runScanJobSweep(context.Background())
	}()
	go func() {
		defer wg.Done()
		s.runBundleSweep(context.Background())
	}()
	wg.Wait()

	assert.Equal(t, 1, jobStore.calls)
	assert.Equal(t, 1, bundleStore.calls)
}

func TestSweeper_Start_RejectsInvalidSchedule(t *testing.T) {
	stores := &fakeStores{jobStore: &fakeScanJobStore{}, bundleStore: &fakeBundleStore{}}
	s := New(stores, common.RetentionConfig{Schedule: "not a schedule"}, arbor.NewLogger())
	err := s.Start(context.Background())
	require.Error(t, err)
}

func TestSweeper_Start_RunsOnScheduleAndStopsOnCancel(t *testing.T) {
	jobStore := &fakeScanJobStore{}
	bundleStore := &fakeBundleStore{}
	stores := &fakeStores{jobStore: jobStore, bundleStore: bundleStore}
	s := New(stores, common.RetentionConfig{Schedule: "* * * * * *"}, arbor.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Start(ctx))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		jobStore.mu.Lock()
		ran := jobStore.calls > 0
		jobStore.mu.Unlock()
		if ran {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	jobStore.mu.Lock()
	calls := jobStore.calls
	jobStore.mu.Unlock()
	assert.Greater(t, calls, 0, "expected the scheduled sweep to have run at least once")

	cancel()
}
