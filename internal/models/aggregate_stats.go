package models

// ImageReportCategory is the fixed, case-insensitive URL-substring bucket a
// discovered image is sorted into for reporting. First matching substring
// wins; an image matching none falls into CategoryOtherImages.
type ImageReportCategory string

const (
	CategoryHeroAndBanners ImageReportCategory = "Hero & Banners"
	CategoryThumbnails     ImageReportCategory = "Thumbnails"
	CategoryProductImages  ImageReportCategory = "Product Images"
	CategoryBlogAndArticles ImageReportCategory = "Blog & Articles"
	CategoryLogosAndIcons  ImageReportCategory = "Logos & Icons"
	CategoryUserAvatars    ImageReportCategory = "User Avatars"
	CategoryBackgrounds    ImageReportCategory = "Backgrounds"
	CategoryOtherImages    ImageReportCategory = "Other Images"
)

// AllImageReportCategories is the fixed, ordered category set; ordering
// matters because classification is first-match-wins.
var AllImageReportCategories = []ImageReportCategory{
	CategoryHeroAndBanners,
	CategoryThumbnails,
	CategoryProductImages,
	CategoryBlogAndArticles,
	CategoryLogosAndIcons,
	CategoryUserAvatars,
	CategoryBackgrounds,
	CategoryOtherImages,
}

// AggregateMIMEStats is one per-MIME-type child row of the lifetime totals.
type AggregateMIMEStats struct {
	MIMEType          string  `json:"mime_type"`
	ImageCount        int64   `json:"image_count"`
	OriginalSize      int64   `json:"original_size"`
	EstimatedWebPSize int64   `json:"estimated_webp_size"`
	SavingsPercentSum float64 `json:"savings_percent_sum"`
}

// MeanSavingsPercent returns the mean estimated savings across this row's
// images, or 0 when no images have been recorded.
func (m AggregateMIMEStats) MeanSavingsPercent() float64 {
	if m.ImageCount == 0 {
		return 0
	}
	return m.SavingsPercentSum / float64(m.ImageCount)
}

// AggregateCategoryStats is one per-category child row of the lifetime totals.
type AggregateCategoryStats struct {
	Category          ImageReportCategory `json:"category"`
	ImageCount        int64                `json:"image_count"`
	OriginalSize      int64                `json:"original_size"`
	EstimatedWebPSize int64                `json:"estimated_webp_size"`
	SavingsPercentSum float64              `json:"savings_percent_sum"`
}

// MeanSavingsPercent returns the mean estimated savings across this row's
// images, or 0 when no images have been recorded.
func (c AggregateCategoryStats) MeanSavingsPercent() float64 {
	if c.ImageCount == 0 {
		return 0
	}
	return c.SavingsPercentSum / float64(c.ImageCount)
}

// AggregateStats is the process-wide singleton of lifetime scan totals, plus
// its per-MIME and per-category child rows. Written only by the atomic
// upsert path; never read-modify-written outside of it.
type AggregateStats struct {
	TotalScans             int64                    `json:"total_scans"`
	TotalPagesCrawled      int64                    `json:"total_pages_crawled"`
	TotalImagesFound       int64                    `json:"total_images_found"`
	TotalOriginalSize      int64                    `json:"total_original_size"`
	TotalEstimatedWebPSize int64                    `json:"total_estimated_webp_size"`
	TotalSavingsPercentSum float64                  `json:"total_savings_percent_sum"`
	ByMIME                 []AggregateMIMEStats     `json:"by_mime"`
	ByCategory             []AggregateCategoryStats `json:"by_category"`
}

// MeanSavingsPercent returns the lifetime mean estimated savings percent
// across every image ever recorded, or 0 when none have been recorded.
func (a AggregateStats) MeanSavingsPercent() float64 {
	if a.TotalImagesFound == 0 {
		return 0
	}
	return a.TotalSavingsPercentSum / float64(a.TotalImagesFound)
}

// AggregateDelta is the pre-aggregated set of changes one completed scan
// contributes to the lifetime totals, computed from its DiscoveredImages
// before the transactional upsert in the aggregate store.
type AggregateDelta struct {
	PagesCrawled int64
	ImagesFound  int64
	OriginalSize int64
	WebPSize     int64
	SavingsSum   float64
	ByMIME       map[string]AggregateMIMEStats
	ByCategory   map[ImageReportCategory]AggregateCategoryStats
}

// NewAggregateDelta returns an empty delta ready for accumulation.
func NewAggregateDelta() *AggregateDelta {
	return &AggregateDelta{
		ByMIME:     make(map[string]AggregateMIMEStats),
		ByCategory: make(map[ImageReportCategory]AggregateCategoryStats),
	}
}

// Add folds one discovered image's contribution into the delta. Negative
// savings are clamped to zero before being summed, matching the live
// tracker's policy so merged views stay consistent.
func (d *AggregateDelta) Add(img DiscoveredImage, category ImageReportCategory) {
	savings := img.EstimatedSavingsPct
	if savings < 0 {
		savings = 0
	}

	d.ImagesFound++
	d.OriginalSize += img.SizeBytes
	d.WebPSize += img.EstimatedWebPSize
	d.SavingsSum += savings

	mime := d.ByMIME[img.MIMEType]
	mime.MIMEType = img.MIMEType
	mime.ImageCount++
	mime.OriginalSize += img.SizeBytes
	mime.EstimatedWebPSize += img.EstimatedWebPSize
	mime.SavingsPercentSum += savings
	d.ByMIME[img.MIMEType] = mime

	cat := d.ByCategory[category]
	cat.Category = category
	cat.ImageCount++
	cat.OriginalSize += img.SizeBytes
	cat.EstimatedWebPSize += img.EstimatedWebPSize
	cat.SavingsPercentSum += savings
	d.ByCategory[category] = cat
}
