package bundler

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/models"
)

type fakeBundleStore struct {
	mu    sync.Mutex
	saved []*models.ConvertedImageBundle
}

func (f *fakeBundleStore) SaveBundle(ctx context.Context, bundle *models.ConvertedImageBundle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saved = append(f.saved, bundle)
	return nil
}
func (f *fakeBundleStore) GetBundleByDownloadID(ctx context.Context, downloadID string) (*models.ConvertedImageBundle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.saved {
		if b.DownloadID == downloadID {
			return b, nil
		}
	}
	return nil, nil
}
func (f *fakeBundleStore) DeleteExpiredBundles(ctx context.Context, now int64, maxDeletes int) (int, error) {
	return 0, nil
}

func TestBundler_Build_WritesArchiveAndRecordsBundle(t *testing.T) {
	dir := t.TempDir()
	store := &fakeBundleStore{}
	b := New(store, dir, time.Hour, arbor.NewLogger())

	images := []*models.DiscoveredImage{
		{ImageURL: "https://example.com/a.png", PageURLs: []string{"https://example.com/"}, MIMEType: "image/png", SizeBytes: 100, EstimatedWebPSize: 40, EstimatedSavingsPct: 60},
	}

	downloadID, err := b.Build(context.Background(), "scan-1", images)
	require.NoError(t, err)
	assert.NotEmpty(t, downloadID)

	require.Len(t, store.saved, 1)
	bundle := store.saved[0]
	assert.Equal(t, "scan-1", bundle.ScanID)
	assert.Equal(t, 1, bundle.ImageCount)
	assert.FileExists(t, filepath.Join(dir, downloadID+".zip"))

	info, err := os.Stat(bundle.StoragePath)
	require.NoError(t, err)
	assert.Equal(t, bundle.SizeBytes, info.Size())
}

func TestBundler_Build_EmptyImageSetStillProducesArchive(t *testing.T) {
	dir := t.TempDir()
	store := &fakeBundleStore{}
	b := New(store, dir, time.Hour, arbor.NewLogger())

	downloadID, err := b.Build(context.Background(), "scan-2", nil)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, downloadID+".zip"))
}
