// Package stats implements the in-memory live progress tracker described
// by the push layer: one record per active scan, counters grouped by MIME
// type and by report category, and a process-wide combined snapshot.
package stats

import (
	"sync"

	"github.com/ternarybob/quaero/internal/estimator"
	"github.com/ternarybob/quaero/internal/models"
)

// ScanSnapshot is a point-in-time read of one scan's live counters.
type ScanSnapshot struct {
	ScanID          string
	PagesScanned    int
	PagesDiscovered int
	ImagesFound     int64
	OriginalSize    int64
	WebPSize        int64
	SavingsSum      float64
	ByMIME          map[string]models.AggregateMIMEStats
	ByCategory      map[models.ImageReportCategory]models.AggregateCategoryStats
}

// CombinedSnapshot is a process-wide view across all active scans.
type CombinedSnapshot struct {
	ActiveScans  int
	PagesScanned int64
	ImagesFound  int64
	OriginalSize int64
	WebPSize     int64
	SavingsSum   float64
	ByMIME       map[string]models.AggregateMIMEStats
	ByCategory   map[models.ImageReportCategory]models.AggregateCategoryStats
}

type scanRecord struct {
	mu              sync.Mutex
	pagesScanned    int
	pagesDiscovered int
	imagesFound     int64
	originalSize    int64
	webpSize        int64
	savingsSum      float64
	byMIME          map[string]models.AggregateMIMEStats
	byCategory      map[models.ImageReportCategory]models.AggregateCategoryStats
}

func newScanRecord() *scanRecord {
	return &scanRecord{
		byMIME:     make(map[string]models.AggregateMIMEStats),
		byCategory: make(map[models.ImageReportCategory]models.AggregateCategoryStats),
	}
}

func (r *scanRecord) snapshot(scanID string) ScanSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	byMIME := make(map[string]models.AggregateMIMEStats, len(r.byMIME))
	for k, v := range r.byMIME {
		byMIME[k] = v
	}
	byCategory := make(map[models.ImageReportCategory]models.AggregateCategoryStats, len(r.byCategory))
	for k, v := range r.byCategory {
		byCategory[k] = v
	}

	return ScanSnapshot{
		ScanID:          scanID,
		PagesScanned:    r.pagesScanned,
		PagesDiscovered: r.pagesDiscovered,
		ImagesFound:     r.imagesFound,
		OriginalSize:    r.originalSize,
		WebPSize:        r.webpSize,
		SavingsSum:      r.savingsSum,
		ByMIME:          byMIME,
		ByCategory:      byCategory,
	}
}

// Tracker holds one scanRecord per active scan_id. All mutation on a single
// scan's record is serialized under that record's own lock; cross-scan
// reads (CombinedLive) take a consistent per-scan snapshot under the
// registry lock to enumerate scans, then read each record independently.
type Tracker struct {
	mu    sync.RWMutex
	scans map[string]*scanRecord
}

// NewTracker creates an empty live stats tracker.
func NewTracker() *Tracker {
	return &Tracker{scans: make(map[string]*scanRecord)}
}

// Start registers scanID for live tracking. A no-op if already started.
func (t *Tracker) Start(scanID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.scans[scanID]; !ok {
		t.scans[scanID] = newScanRecord()
	}
}

// Stop removes scanID's record from live tracking.
func (t *Tracker) Stop(scanID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.scans, scanID)
}

// UpdatePages records the cumulative page counters for a scan.
func (t *Tracker) UpdatePages(scanID string, scanned, discovered int) {
	rec := t.recordFor(scanID)
	if rec == nil {
		return
	}
	rec.mu.Lock()
	rec.pagesScanned = scanned
	rec.pagesDiscovered = discovered
	rec.mu.Unlock()
}

// AddImage folds one discovered image's contribution into scanID's
// counters, deriving its report category from imageURL.
func (t *Tracker) AddImage(scanID, mimeType, imageURL string, sizeBytes, webpSize int64, savingsPercent float64) {
	rec := t.recordFor(scanID)
	if rec == nil {
		return
	}

	if savingsPercent < 0 {
		savingsPercent = 0
	}
	category := estimator.ReportCategoryForURL(imageURL)

	rec.mu.Lock()
	defer rec.mu.Unlock()

	rec.imagesFound++
	rec.originalSize += sizeBytes
	rec.webpSize += webpSize
	rec.savingsSum += savingsPercent

	mimeStats := rec.byMIME[mimeType]
	mimeStats.MIMEType = mimeType
	mimeStats.ImageCount++
	mimeStats.OriginalSize += sizeBytes
	mimeStats.EstimatedWebPSize += webpSize
	mimeStats.SavingsPercentSum += savingsPercent
	rec.byMIME[mimeType] = mimeStats

	catStats := rec.byCategory[category]
	catStats.Category = category
	catStats.ImageCount++
	catStats.OriginalSize += sizeBytes
	catStats.EstimatedWebPSize += webpSize
	catStats.SavingsPercentSum += savingsPercent
	rec.byCategory[category] = catStats
}

// Snapshot returns the current live counters for one scan, or false if
// scanID is not currently tracked.
func (t *Tracker) Snapshot(scanID string) (ScanSnapshot, bool) {
	rec := t.recordFor(scanID)
	if rec == nil {
		return ScanSnapshot{}, false
	}
	return rec.snapshot(scanID), true
}

// CombinedLive merges every active scan's counters into a single
// process-wide view.
func (t *Tracker) CombinedLive() CombinedSnapshot {
	t.mu.RLock()
	ids := make([]string, 0, len(t.scans))
	records := make([]*scanRecord, 0, len(t.scans))
	for id, rec := range t.scans {
		ids = append(ids, id)
		records = append(records, rec)
	}
	t.mu.RUnlock()

	combined := CombinedSnapshot{
		ActiveScans: len(ids),
		ByMIME:      make(map[string]models.AggregateMIMEStats),
		ByCategory:  make(map[models.ImageReportCategory]models.AggregateCategoryStats),
	}

	for i, rec := range records {
		snap := rec.snapshot(ids[i])
		combined.PagesScanned += int64(snap.PagesScanned)
		combined.ImagesFound += snap.ImagesFound
		combined.OriginalSize += snap.OriginalSize
		combined.WebPSize += snap.WebPSize
		combined.SavingsSum += snap.SavingsSum

		for mime, s := range snap.ByMIME {
			merged := combined.ByMIME[mime]
			merged.MIMEType = mime
			merged.ImageCount += s.ImageCount
			merged.OriginalSize += s.OriginalSize
			merged.EstimatedWebPSize += s.EstimatedWebPSize
			merged.SavingsPercentSum += s.SavingsPercentSum
			combined.ByMIME[mime] = merged
		}
		for cat, s := range snap.ByCategory {
			merged := combined.ByCategory[cat]
			merged.Category = cat
			merged.ImageCount += s.ImageCount
			merged.OriginalSize += s.OriginalSize
			merged.EstimatedWebPSize += s.EstimatedWebPSize
			merged.SavingsPercentSum += s.SavingsPercentSum
			combined.ByCategory[cat] = merged
		}
	}

	return combined
}

func (t *Tracker) recordFor(scanID string) *scanRecord {
	t.mu.RLock()
	rec := t.scans[scanID]
	t.mu.RUnlock()
	return rec
}
