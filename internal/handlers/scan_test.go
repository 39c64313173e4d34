package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/interfaces"
	"github.com/ternarybob/quaero/internal/models"
	"github.com/ternarybob/quaero/internal/stats"
	"github.com/ternarybob/quaero/internal/validation"
)

type fakeQueue struct {
	enqueueErr error
	enqueued   *models.ScanJob
	position   int
	total      int
}

func (f *fakeQueue) Enqueue(ctx context.Context, job *models.ScanJob) (*models.ScanJob, error) {
	if f.enqueueErr != nil {
		return nil, f.enqueueErr
	}
	f.enqueued = job
	return job, nil
}
func (f *fakeQueue) Dequeue(ctx context.Context) (*models.ScanJob, error) { return nil, nil }
func (f *fakeQueue) AgePriorities(ctx context.Context) ([]string, error) { return nil, nil }
func (f *fakeQueue) RecordCooldown(ctx context.Context, submitterIP string) error { return nil }
func (f *fakeQueue) Complete(ctx context.Context, scanID string, success bool, errMsg string) error {
	return nil
}
func (f *fakeQueue) PositionOf(ctx context.Context, scanID string) (int, int, error) {
	return f.position, f.total, nil
}

type fakeScanJobStore struct {
	jobs map[string]*models.ScanJob
}

func newFakeScanJobStore() *fakeScanJobStore {
	return &fakeScanJobStore{jobs: make(map[string]*models.ScanJob)}
}
func (f *fakeScanJobStore) SaveScanJob(ctx context.Context, job *models.ScanJob) error {
	f.jobs[job.ScanID] = job
	return nil
}
func (f *fakeScanJobStore) GetScanJob(ctx context.Context, scanID string) (*models.ScanJob, error) {
	job, ok := f.jobs[scanID]
	if !ok {
		return nil, nil
	}
	return job, nil
}
func (f *fakeScanJobStore) UpdateScanJob(ctx context.Context, job *models.ScanJob) error {
	f.jobs[job.ScanID] = job
	return nil
}
func (f *fakeScanJobStore) DeleteScanJob(ctx context.Context, scanID string) error {
	delete(f.jobs, scanID)
	return nil
}
func (f *fakeScanJobStore) ListScanJobs(ctx context.Context, filter models.ScanJobFilter) ([]*models.ScanJob, error) {
	return nil, nil
}
func (f *fakeScanJobStore) GetQueuedOrdered(ctx context.Context, limit int) ([]*models.ScanJob, error) {
	return nil, nil
}
func (f *fakeScanJobStore) QueuedCount(ctx context.Context) (int, error)     { return 0, nil }
func (f *fakeScanJobStore) ProcessingCount(ctx context.Context) (int, error) { return 0, nil }
func (f *fakeScanJobStore) JobsByIP(ctx context.Context, submitterIP string) (int, error) {
	return 0, nil
}
func (f *fakeScanJobStore) PositionOf(ctx context.Context, scanID string) (int, error) {
	return 0, nil
}
func (f *fakeScanJobStore) UpdateMany(ctx context.Context, jobs []*models.ScanJob) error { return nil }
func (f *fakeScanJobStore) DeleteCompletedOlderThanHours(ctx context.Context, hours int, maxDeletes int) (int, error) {
	return 0, nil
}

type fakeImageStore struct {
	images []*models.DiscoveredImage
}

func (f *fakeImageStore) SaveDiscoveredImage(ctx context.Context, img *models.DiscoveredImage) error {
	return nil
}
func (f *fakeImageStore) SaveDiscoveredImages(ctx context.Context, imgs []*models.DiscoveredImage) error {
	return nil
}
func (f *fakeImageStore) ListDiscoveredImagesByScan(ctx context.Context, scanID string) ([]*models.DiscoveredImage, error) {
	return f.images, nil
}
func (f *fakeImageStore) DeleteDiscoveredImagesByScan(ctx context.Context, scanID string) error {
	return nil
}

type fakeAggregateStore struct {
	stats *models.AggregateStats
}

func (f *fakeAggregateStore) GetAggregateStats(ctx context.Context) (*models.AggregateStats, error) {
	return f.stats, nil
}
func (f *fakeAggregateStore) Upsert(ctx context.Context, delta *models.AggregateDelta) error {
	return nil
}

type fakeBundleStoreForScan struct {
	bundles map[string]*models.ConvertedImageBundle
}

func (f *fakeBundleStoreForScan) SaveBundle(ctx context.Context, bundle *models.ConvertedImageBundle) error {
	f.bundles[bundle.DownloadID] = bundle
	return nil
}
func (f *fakeBundleStoreForScan) GetBundleByDownloadID(ctx context.Context, downloadID string) (*models.ConvertedImageBundle, error) {
	return f.bundles[downloadID], nil
}
func (f *fakeBundleStoreForScan) DeleteExpiredBundles(ctx context.Context, now int64, maxDeletes int) (int, error) {
	return 0, nil
}

func newTestScanHandler(t *testing.T) (*ScanHandler, *fakeQueue, *fakeScanJobStore, *fakeImageStore, *fakeAggregateStore, *fakeBundleStoreForScan) {
	t.Helper()
	q := &fakeQueue{position: 1, total: 1}
	jobs := newFakeScanJobStore()
	images := &fakeImageStore{}
	agg := &fakeAggregateStore{stats: &models.AggregateStats{}}
	bundles := &fakeBundleStoreForScan{bundles: make(map[string]*models.ConvertedImageBundle)}
	validator := validation.NewValidator()
	tracker := stats.NewTracker()
	h := NewScanHandler(q, jobs, images, agg, bundles, validator, tracker, arbor.NewLogger())
	return h, q, jobs, images, agg, bundles
}

func TestSubmitHandler_AcceptsValidSubmission(t *testing.T) {
	h, q, _, _, _, _ := newTestScanHandler(t)
	body, _ := json.Marshal(submitRequest{URL: "https://example.com/"})
	req := httptest.NewRequest(http.MethodPost, "/api/scan", bytes.NewReader(body))
	w := httptest.NewRecorder()

	h.SubmitHandler(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var resp submitResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ScanID)
	assert.Equal(t, 1, resp.QueuePosition)
	assert.Equal(t, "https://example.com/", q.enqueued.TargetURL)
}

func TestSubmitHandler_RejectsInvalidURL(t *testing.T) {
	h, _, _, _, _, _ := newTestScanHandler(t)
	body, _ := json.Marshal(submitRequest{URL: "not-a-url"})
	req := httptest.NewRequest(http.MethodPost, "/api/scan", bytes.NewReader(body))
	w := httptest.NewRecorder()

	h.SubmitHandler(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubmitHandler_MapsQueueFullToServiceUnavailable(t *testing.T) {
	h, q, _, _, _, _ := newTestScanHandler(t)
	q.enqueueErr = interfaces.ErrQueueFull
	body, _ := json.Marshal(submitRequest{URL: "https://example.com/"})
	req := httptest.NewRequest(http.MethodPost, "/api/scan", bytes.NewReader(body))
	w := httptest.NewRecorder()

	h.SubmitHandler(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSubmitHandler_MapsIPLimitToConflict(t *testing.T) {
	h, q, _, _, _, _ := newTestScanHandler(t)
	q.enqueueErr = interfaces.ErrIPLimit
	body, _ := json.Marshal(submitRequest{URL: "https://example.com/"})
	req := httptest.NewRequest(http.MethodPost, "/api/scan", bytes.NewReader(body))
	w := httptest.NewRecorder()

	h.SubmitHandler(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestStatusHandler_ReturnsNotFoundForUnknownScan(t *testing.T) {
	h, _, _, _, _, _ := newTestScanHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/scan/missing/status", nil)
	w := httptest.NewRecorder()

	h.StatusHandler(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusHandler_ReturnsQueuePositionWhileQueued(t *testing.T) {
	h, q, jobs, _, _, _ := newTestScanHandler(t)
	q.position, q.total = 3, 5
	jobs.jobs["scan-1"] = &models.ScanJob{ScanID: "scan-1", Status: models.ScanStatusQueued}
	req := httptest.NewRequest(http.MethodGet, "/api/scan/scan-1/status", nil)
	w := httptest.NewRecorder()

	h.StatusHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, float64(3), resp["queue_position"])
}

func TestReportHandler_RejectsIncompleteScan(t *testing.T) {
	h, _, jobs, _, _, _ := newTestScanHandler(t)
	jobs.jobs["scan-1"] = &models.ScanJob{ScanID: "scan-1", Status: models.ScanStatusProcessing}
	req := httptest.NewRequest(http.MethodGet, "/api/scan/scan-1/report", nil)
	w := httptest.NewRecorder()

	h.ReportHandler(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestReportHandler_ReturnsReportForCompletedScan(t *testing.T) {
	h, _, jobs, images, _, _ := newTestScanHandler(t)
	jobs.jobs["scan-1"] = &models.ScanJob{ScanID: "scan-1", Status: models.ScanStatusCompleted, TargetURL: "https://example.com/"}
	images.images = []*models.DiscoveredImage{
		{ImageURL: "https://example.com/a.jpg", MIMEType: "image/jpeg", SizeBytes: 100},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/scan/scan-1/report", nil)
	w := httptest.NewRecorder()

	h.ReportHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "scan-1-report.json")
}

func TestImagesHandler_RejectsMissingDownloadID(t *testing.T) {
	h, _, jobs, _, _, _ := newTestScanHandler(t)
	jobs.jobs["scan-1"] = &models.ScanJob{ScanID: "scan-1", Status: models.ScanStatusCompleted}
	req := httptest.NewRequest(http.MethodGet, "/api/scan/scan-1/images", nil)
	w := httptest.NewRecorder()

	h.ImagesHandler(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestImagesHandler_ReturnsGoneForExpiredBundle(t *testing.T) {
	h, _, jobs, _, _, bundles := newTestScanHandler(t)
	jobs.jobs["scan-1"] = &models.ScanJob{ScanID: "scan-1", Status: models.ScanStatusCompleted}
	bundles.bundles["dl-1"] = &models.ConvertedImageBundle{
		DownloadID: "dl-1", ScanID: "scan-1", ExpiresAt: time.Now().UTC().Add(-time.Hour),
	}
	req := httptest.NewRequest(http.MethodGet, "/api/scan/scan-1/images?download_id=dl-1", nil)
	w := httptest.NewRecorder()

	h.ImagesHandler(w, req)

	assert.Equal(t, http.StatusGone, w.Code)
}

func TestStatsHandler_MergesLifetimeAndLive(t *testing.T) {
	h, _, _, _, _, _ := newTestScanHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/api/scan/stats", nil)
	w := httptest.NewRecorder()

	h.StatsHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp, "lifetime")
	assert.Contains(t, resp, "live")
}
