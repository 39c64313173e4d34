package stats

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_SnapshotFalseWhenNotStarted(t *testing.T) {
	tr := NewTracker()
	_, ok := tr.Snapshot("unknown")
	assert.False(t, ok)
}

func TestTracker_StartStopMembership(t *testing.T) {
	tr := NewTracker()
	tr.Start("scan-1")
	_, ok := tr.Snapshot("scan-1")
	assert.True(t, ok)

	tr.Stop("scan-1")
	_, ok = tr.Snapshot("scan-1")
	assert.False(t, ok)
}

func TestTracker_UpdatePages(t *testing.T) {
	tr := NewTracker()
	tr.Start("scan-1")
	tr.UpdatePages("scan-1", 3, 10)

	snap, ok := tr.Snapshot("scan-1")
	require.True(t, ok)
	assert.Equal(t, 3, snap.PagesScanned)
	assert.Equal(t, 10, snap.PagesDiscovered)
}

func TestTracker_AddImage_AccumulatesCounters(t *testing.T) {
	tr := NewTracker()
	tr.Start("scan-1")

	tr.AddImage("scan-1", "image/png", "https://example.com/hero.png", 1000, 260, 74)
	tr.AddImage("scan-1", "image/png", "https://example.com/hero2.png", 2000, 520, 74)

	snap, ok := tr.Snapshot("scan-1")
	require.True(t, ok)
	assert.Equal(t, int64(2), snap.ImagesFound)
	assert.Equal(t, int64(3000), snap.OriginalSize)
	assert.Equal(t, int64(780), snap.WebPSize)
	assert.InDelta(t, 148.0, snap.SavingsSum, 0.001)

	mimeStats := snap.ByMIME["image/png"]
	assert.Equal(t, int64(2), mimeStats.ImageCount)
	assert.Equal(t, int64(3000), mimeStats.OriginalSize)
}

func TestTracker_AddImage_ClampsNegativeSavings(t *testing.T) {
	tr := NewTracker()
	tr.Start("scan-1")
	tr.AddImage("scan-1", "image/png", "https://example.com/x.png", 1000, 1500, -50)

	snap, ok := tr.Snapshot("scan-1")
	require.True(t, ok)
	assert.Equal(t, 0.0, snap.SavingsSum)
}

func TestTracker_AddImage_NoopWhenScanNotStarted(t *testing.T) {
	tr := NewTracker()
	tr.AddImage("never-started", "image/png", "https://example.com/x.png", 1000, 260, 74)
	_, ok := tr.Snapshot("never-started")
	assert.False(t, ok)
}

func TestTracker_CombinedLive_MergesAcrossScans(t *testing.T) {
	tr := NewTracker()
	tr.Start("scan-1")
	tr.Start("scan-2")

	tr.AddImage("scan-1", "image/png", "https://example.com/a.png", 1000, 260, 74)
	tr.AddImage("scan-2", "image/jpeg", "https://example.com/b.jpg", 2000, 1500, 25)

	combined := tr.CombinedLive()
	assert.Equal(t, 2, combined.ActiveScans)
	assert.Equal(t, int64(2), combined.ImagesFound)
	assert.Equal(t, int64(3000), combined.OriginalSize)
	assert.Len(t, combined.ByMIME, 2)
}

func TestTracker_ConcurrentAddImageIsSafe(t *testing.T) {
	tr := NewTracker()
	tr.Start("scan-1")

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.AddImage("scan-1", "image/png", "https://example.com/x.png", 100, 26, 74)
		}()
	}
	wg.Wait()

	snap, ok := tr.Snapshot("scan-1")
	require.True(t, ok)
	assert.Equal(t, int64(100), snap.ImagesFound)
}
