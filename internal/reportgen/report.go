// Package reportgen assembles the downloadable scan report payload: a
// summary of one completed scan plus every discovered image and the
// category/MIME breakdown, serialized for handoff to the external report
// renderer named in the HTTP layer (not built here; see the teacher's own
// treatment of document rendering as an out-of-process collaborator).
package reportgen

import (
	"encoding/json"
	"time"

	"github.com/ternarybob/quaero/internal/estimator"
	"github.com/ternarybob/quaero/internal/models"
)

// Disclaimer is carried on every report: savings figures are heuristic
// ratio estimates, not measured conversions.
const Disclaimer = "Savings figures are empirical estimates based on typical WebP compression ratios per source format; they are not measured conversions."

// CategoryBreakdown is one report category's totals for a single scan.
type CategoryBreakdown struct {
	Category            models.ImageReportCategory `json:"category"`
	ImageCount           int                        `json:"image_count"`
	OriginalSizeBytes    int64                      `json:"original_size_bytes"`
	EstimatedWebPBytes   int64                      `json:"estimated_webp_size_bytes"`
	MeanSavingsPercent   float64                    `json:"mean_savings_percent"`
}

// Report is the full downloadable payload for one scan.
type Report struct {
	ScanID              string               `json:"scan_id"`
	TargetURL           string               `json:"target_url"`
	Status              models.ScanStatus    `json:"status"`
	GeneratedAt         time.Time            `json:"generated_at"`
	PagesScanned        int                  `json:"pages_scanned"`
	PagesDiscovered     int                  `json:"pages_discovered"`
	ReachedPageLimit    bool                 `json:"reached_page_limit"`
	CompletedWithWarning bool                `json:"completed_with_warnings"`
	TotalImagesFound    int                  `json:"total_images_found"`
	TotalOriginalBytes  int64                `json:"total_original_bytes"`
	TotalEstimatedWebPBytes int64            `json:"total_estimated_webp_bytes"`
	MeanSavingsPercent  float64              `json:"mean_savings_percent"`
	ByCategory          []CategoryBreakdown  `json:"by_category"`
	Images              []*models.DiscoveredImage `json:"images"`
	Disclaimer          string               `json:"disclaimer"`
}

// Build assembles a Report from a completed (or partially completed) scan
// job and its discovered images.
func Build(job *models.ScanJob, images []*models.DiscoveredImage) *Report {
	delta := models.NewAggregateDelta()
	for _, img := range images {
		delta.Add(*img, estimator.ReportCategoryForURL(img.ImageURL))
	}

	breakdown := make([]CategoryBreakdown, 0, len(models.AllImageReportCategories))
	for _, cat := range models.AllImageReportCategories {
		stats, ok := delta.ByCategory[cat]
		if !ok {
			continue
		}
		breakdown = append(breakdown, CategoryBreakdown{
			Category:           cat,
			ImageCount:          int(stats.ImageCount),
			OriginalSizeBytes:   stats.OriginalSize,
			EstimatedWebPBytes:  stats.EstimatedWebPSize,
			MeanSavingsPercent:  stats.MeanSavingsPercent(),
		})
	}

	var meanSavings float64
	if delta.ImagesFound > 0 {
		meanSavings = delta.SavingsSum / float64(delta.ImagesFound)
	}

	return &Report{
		ScanID:                  job.ScanID,
		TargetURL:               job.TargetURL,
		Status:                  job.Status,
		GeneratedAt:             time.Now().UTC(),
		PagesScanned:            job.PagesScanned,
		PagesDiscovered:         job.PagesDiscovered,
		ReachedPageLimit:        job.ReachedPageLimit,
		CompletedWithWarning:    job.ReachedPageLimit,
		TotalImagesFound:        int(delta.ImagesFound),
		TotalOriginalBytes:      delta.OriginalSize,
		TotalEstimatedWebPBytes: delta.WebPSize,
		MeanSavingsPercent:      meanSavings,
		ByCategory:              breakdown,
		Images:                  images,
		Disclaimer:              Disclaimer,
	}
}

// MarshalJSONReport renders the report as pretty-printed JSON bytes, the
// downloadable artifact served by GET /api/scan/{id}/report.
func (r *Report) MarshalJSONReport() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}
