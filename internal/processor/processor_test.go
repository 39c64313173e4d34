package processor

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
	"github.com/ternarybob/quaero/internal/push"
	"github.com/ternarybob/quaero/internal/stats"
)

// fakeQueue is a minimal in-memory FairShareQueue stub that hands back a
// single preloaded job on the first Dequeue call.
type fakeQueue struct {
	mu           sync.Mutex
	pending      []*models.ScanJob
	completed    []string
	completedOK  []bool
	cooldownIPs  []string
	agedCalls    int
}

func (q *fakeQueue) Enqueue(ctx context.Context, job *models.ScanJob) (*models.ScanJob, error) {
	return job, nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (*models.ScanJob, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil
	}
	job := q.pending[0]
	q.pending = q.pending[1:]
	return job, nil
}

func (q *fakeQueue) AgePriorities(ctx context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.agedCalls++
	return nil, nil
}

func (q *fakeQueue) RecordCooldown(ctx context.Context, submitterIP string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cooldownIPs = append(q.cooldownIPs, submitterIP)
	return nil
}

func (q *fakeQueue) Complete(ctx context.Context, scanID string, success bool, errMsg string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, scanID)
	q.completedOK = append(q.completedOK, success)
	return nil
}

func (q *fakeQueue) PositionOf(ctx context.Context, scanID string) (int, int, error) { return 0, 0, nil }

// fakeEngine returns a preloaded CrawlResult or error for every Run call.
// When err is set, result is still returned alongside it, mirroring the
// real engine's finish() behavior of reporting partial progress on a
// timeout or cancellation.
type fakeEngine struct {
	result *interfaces.CrawlResult
	err    error
	events []interfaces.CrawlProgressEvent
}

func (e *fakeEngine) Run(ctx context.Context, job *models.ScanJob, resume *models.CrawlCheckpoint, progress interfaces.ProgressCallback, checkpoint interfaces.CheckpointCallback) (*interfaces.CrawlResult, error) {
	for _, ev := range e.events {
		progress(ev)
	}
	if e.err != nil {
		return e.result, e.err
	}
	return e.result, nil
}

// fakeScanJobStore tracks saved/updated jobs keyed by scan id.
type fakeScanJobStore struct {
	mu   sync.Mutex
	jobs map[string]*models.ScanJob
}

func newFakeScanJobStore() *fakeScanJobStore {
	return &fakeScanJobStore{jobs: make(map[string]*models.ScanJob)}
}
func (s *fakeScanJobStore) SaveScanJob(ctx context.Context, job *models.ScanJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *job
	s.jobs[job.ScanID] = &cp
	return nil
}
func (s *fakeScanJobStore) GetScanJob(ctx context.Context, scanID string) (*models.ScanJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[scanID]
	if !ok {
		return nil, assert.AnError
	}
	cp := *job
	return &cp, nil
}
func (s *fakeScanJobStore) UpdateScanJob(ctx context.Context, job *models.ScanJob) error {
	return s.SaveScanJob(ctx, job)
}
func (s *fakeScanJobStore) DeleteScanJob(ctx context.Context, scanID string) error { return nil }
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
func (s *fakeScanJobStore) PositionOf(ctx context.Context, scanID string) (int, error) {
	return 0, nil
}
func (s *fakeScanJobStore) UpdateMany(ctx context.Context, jobs []*models.ScanJob) error { return nil }
func (s *fakeScanJobStore) DeleteCompletedOlderThanHours(ctx context.Context, hours int, maxDeletes int) (int, error) {
	return 0, nil
}

type fakeImageStore struct {
	mu    sync.Mutex
	saved []*models.DiscoveredImage
}

func (s *fakeImageStore) SaveDiscoveredImage(ctx context.Context, img *models.DiscoveredImage) error {
	return nil
}
func (s *fakeImageStore) SaveDiscoveredImages(ctx context.Context, imgs []*models.DiscoveredImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, imgs...)
	return nil
}
func (s *fakeImageStore) ListDiscoveredImagesByScan(ctx context.Context, scanID string) ([]*models.DiscoveredImage, error) {
	return nil, nil
}
func (s *fakeImageStore) DeleteDiscoveredImagesByScan(ctx context.Context, scanID string) error {
	return nil
}

type fakeCheckpointStore struct {
	mu      sync.Mutex
	saved   map[string]*models.CrawlCheckpoint
	deleted []string
}

func newFakeCheckpointStore() *fakeCheckpointStore {
	return &fakeCheckpointStore{saved: make(map[string]*models.CrawlCheckpoint)}
}
func (s *fakeCheckpointStore) SaveCheckpoint(ctx context.Context, cp *models.CrawlCheckpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[cp.ScanID] = cp
	return nil
}
func (s *fakeCheckpointStore) GetCheckpoint(ctx context.Context, scanID string) (*models.CrawlCheckpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved[scanID], nil
}
func (s *fakeCheckpointStore) DeleteCheckpoint(ctx context.Context, scanID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.saved, scanID)
	s.deleted = append(s.deleted, scanID)
	return nil
}

type fakeAggregateStore struct {
	mu      sync.Mutex
	upserts []*models.AggregateDelta
}

func (s *fakeAggregateStore) GetAggregateStats(ctx context.Context) (*models.AggregateStats, error) {
	return &models.AggregateStats{}, nil
}
func (s *fakeAggregateStore) Upsert(ctx context.Context, delta *models.AggregateDelta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upserts = append(s.upserts, delta)
	return nil
}

type fakeBundleStore struct{}

func (s *fakeBundleStore) SaveBundle(ctx context.Context, bundle *models.ConvertedImageBundle) error {
	return nil
}
func (s *fakeBundleStore) GetBundleByDownloadID(ctx context.Context, downloadID string) (*models.ConvertedImageBundle, error) {
	return nil, nil
}
func (s *fakeBundleStore) DeleteExpiredBundles(ctx context.Context, now int64, maxDeletes int) (int, error) {
	return 0, nil
}

type fakeKV struct{}

func (fakeKV) Get(ctx context.Context, key string) (string, error) { return "", interfaces.ErrKeyNotFound }
func (fakeKV) GetPair(ctx context.Context, key string) (*interfaces.KeyValuePair, error) {
	return nil, interfaces.ErrKeyNotFound
}
func (fakeKV) Set(ctx context.Context, key, value, description string) error { return nil }
func (fakeKV) Upsert(ctx context.Context, key, value, description string) (bool, error) {
	return true, nil
}
func (fakeKV) Delete(ctx context.Context, key string) error    { return nil }
func (fakeKV) DeleteAll(ctx context.Context) error              { return nil }
func (fakeKV) List(ctx context.Context) ([]interfaces.KeyValuePair, error) { return nil, nil }
func (fakeKV) GetAll(ctx context.Context) (map[string]string, error)      { return nil, nil }
func (fakeKV) ListByPrefix(ctx context.Context, prefix string) ([]interfaces.KeyValuePair, error) {
	return nil, nil
}

type fakeStorageManager struct {
	jobs        *fakeScanJobStore
	images      *fakeImageStore
	checkpoints *fakeCheckpointStore
	aggregate   *fakeAggregateStore
	bundles     *fakeBundleStore
}

func newFakeStorageManager() *fakeStorageManager {
	return &fakeStorageManager{
		jobs:        newFakeScanJobStore(),
		images:      &fakeImageStore{},
		checkpoints: newFakeCheckpointStore(),
		aggregate:   &fakeAggregateStore{},
		bundles:     &fakeBundleStore{},
	}
}

func (m *fakeStorageManager) ScanJobStore() interfaces.ScanJobStore             { return m.jobs }
func (m *fakeStorageManager) DiscoveredImageStore() interfaces.DiscoveredImageStore { return m.images }
func (m *fakeStorageManager) CheckpointStore() interfaces.CheckpointStore      { return m.checkpoints }
func (m *fakeStorageManager) AggregateStatsStore() interfaces.AggregateStatsStore { return m.aggregate }
func (m *fakeStorageManager) ConvertedImageBundleStore() interfaces.ConvertedImageBundleStore {
	return m.bundles
}
func (m *fakeStorageManager) KeyValueStorage() interfaces.KeyValueStorage { return fakeKV{} }
func (m *fakeStorageManager) DB() interface{}                            { return nil }
func (m *fakeStorageManager) Close() error                               { return nil }
func (m *fakeStorageManager) LoadVariablesFromFiles(ctx context.Context, dirPath string) error {
	return nil
}

func testQueueConfig() common.QueueConfig {
	return common.QueueConfig{PollInterval: "10ms", AgingIntervalSeconds: 1}
}

func TestProgressPercent_ClampsAtHundred(t *testing.T) {
	assert.Equal(t, 100.0, progressPercent(12, 10))
}

func TestProgressPercent_ZeroDiscoveredReturnsZero(t *testing.T) {
	assert.Equal(t, 0.0, progressPercent(5, 0))
}

func TestProgressPercent_ComputesRatio(t *testing.T) {
	assert.Equal(t, 50.0, progressPercent(5, 10))
}

func TestProcessor_RunWorker_SuccessPathPersistsAndCompletes(t *testing.T) {
	stores := newFakeStorageManager()
	job := &models.ScanJob{ScanID: "scan-1", TargetURL: "https://example.com", SubmitterIP: "1.2.3.4"}
	require.NoError(t, stores.jobs.SaveScanJob(context.Background(), job))

	img := &models.DiscoveredImage{
		ImageID: "img-1", ScanID: "scan-1", PageURLs: []string{"https://example.com/"},
		ImageURL: "https://example.com/hero.png", MIMEType: "image/png",
		Category: models.ImageCategoryPNG, SizeBytes: 1000,
		EstimatedWebPSize: 260, EstimatedSavingsPct: 74,
	}
	engine := &fakeEngine{
		result: &interfaces.CrawlResult{PagesScanned: 2, PagesDiscovered: 2, Images: []*models.DiscoveredImage{img}},
		events: []interfaces.CrawlProgressEvent{
			{Kind: "PageCompleted", PageURL: "https://example.com/", PagesScanned: 1, PagesDiscovered: 2},
			{Kind: "ImageFound", Image: img},
			{Kind: "PageCompleted", PageURL: "https://example.com/about", PagesScanned: 2, PagesDiscovered: 2},
		},
	}

	queue := &fakeQueue{}
	p := New(queue, engine, stores, nil, stats.NewTracker(), push.NewService(arbor.NewLogger()), testQueueConfig(), common.CrawlerConfig{MaxScanDuration: time.Minute}, arbor.NewLogger())

	p.runWorker(context.Background(), job)

	require.Len(t, queue.completed, 1)
	assert.Equal(t, "scan-1", queue.completed[0])
	assert.True(t, queue.completedOK[0])
	assert.Contains(t, queue.cooldownIPs, "1.2.3.4")

	require.Len(t, stores.images.saved, 1)
	require.Len(t, stores.aggregate.upserts, 1)
	assert.Equal(t, int64(2), stores.aggregate.upserts[0].PagesCrawled)

	stored, err := stores.jobs.GetScanJob(context.Background(), "scan-1")
	require.NoError(t, err)
	assert.Equal(t, 2, stored.PagesScanned)
	assert.Equal(t, 1, stored.NonWebPImagesFound)

	_, ok := stores.checkpoints.saved["scan-1"]
	assert.False(t, ok, "checkpoint should have been deleted after a successful scan")
}

func TestProcessor_RunWorker_FailurePathRecordsCooldownAndFailsJob(t *testing.T) {
	stores := newFakeStorageManager()
	job := &models.ScanJob{ScanID: "scan-2", TargetURL: "https://example.com", SubmitterIP: "5.6.7.8"}
	require.NoError(t, stores.jobs.SaveScanJob(context.Background(), job))

	engine := &fakeEngine{err: assert.AnError}
	queue := &fakeQueue{}
	p := New(queue, engine, stores, nil, stats.NewTracker(), push.NewService(arbor.NewLogger()), testQueueConfig(), common.CrawlerConfig{MaxScanDuration: time.Minute}, arbor.NewLogger())

	p.runWorker(context.Background(), job)

	require.Len(t, queue.completed, 1)
	assert.False(t, queue.completedOK[0])
	assert.Contains(t, queue.cooldownIPs, "5.6.7.8")
	assert.Empty(t, stores.images.saved)
	assert.Empty(t, stores.aggregate.upserts)
}

func TestProcessor_RunWorker_TimeoutPathStillPersistsGatheredImages(t *testing.T) {
	stores := newFakeStorageManager()
	job := &models.ScanJob{ScanID: "scan-4", TargetURL: "https://example.com", SubmitterIP: "2.2.2.2"}
	require.NoError(t, stores.jobs.SaveScanJob(context.Background(), job))

	img := &models.DiscoveredImage{
		ImageID: "img-2", ScanID: "scan-4", PageURLs: []string{"https://example.com/"},
		ImageURL: "https://example.com/hero.png", MIMEType: "image/png",
		Category: models.ImageCategoryPNG, SizeBytes: 1000,
		EstimatedWebPSize: 260, EstimatedSavingsPct: 74,
	}
	engine := &fakeEngine{
		err:    context.DeadlineExceeded,
		result: &interfaces.CrawlResult{PagesScanned: 1, PagesDiscovered: 1, Images: []*models.DiscoveredImage{img}},
	}
	queue := &fakeQueue{}
	p := New(queue, engine, stores, nil, stats.NewTracker(), push.NewService(arbor.NewLogger()), testQueueConfig(), common.CrawlerConfig{MaxScanDuration: time.Minute}, arbor.NewLogger())

	p.runWorker(context.Background(), job)

	require.Len(t, queue.completed, 1)
	assert.False(t, queue.completedOK[0], "job's terminal status is still Failed on a timeout")
	require.Len(t, stores.images.saved, 1, "images gathered before the timeout are still persisted")
	require.Len(t, stores.aggregate.upserts, 1, "the savings estimate still reflects the partial crawl")
}

func TestProcessor_DrainQueue_SpawnsOneWorkerPerJob(t *testing.T) {
	stores := newFakeStorageManager()
	job := &models.ScanJob{ScanID: "scan-3", TargetURL: "https://example.com", SubmitterIP: "9.9.9.9"}
	require.NoError(t, stores.jobs.SaveScanJob(context.Background(), job))

	engine := &fakeEngine{result: &interfaces.CrawlResult{PagesScanned: 1, PagesDiscovered: 1}}
	queue := &fakeQueue{pending: []*models.ScanJob{job}}
	p := New(queue, engine, stores, nil, stats.NewTracker(), push.NewService(arbor.NewLogger()), testQueueConfig(), common.CrawlerConfig{MaxScanDuration: time.Minute}, arbor.NewLogger())

	p.drainQueue(context.Background())

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		queue.mu.Lock()
		done := len(queue.completed) == 1
		queue.mu.Unlock()
		if done {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	queue.mu.Lock()
	defer queue.mu.Unlock()
	require.Len(t, queue.completed, 1)
	assert.Equal(t, "scan-3", queue.completed[0])
}

func TestProcessor_Run_StopsOnContextCancel(t *testing.T) {
	stores := newFakeStorageManager()
	queue := &fakeQueue{}
	engine := &fakeEngine{result: &interfaces.CrawlResult{}}
	p := New(queue, engine, stores, nil, stats.NewTracker(), push.NewService(arbor.NewLogger()), testQueueConfig(), common.CrawlerConfig{MaxScanDuration: time.Minute}, arbor.NewLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	assert.GreaterOrEqual(t, queue.agedCalls, 0)
}
