package models

import "time"

// ImageCategory buckets a discovered image's source format for reporting.
// Classification is an exact MIME-type lookup in CategoryFromMIME.
type ImageCategory string

const (
	ImageCategoryPNG     ImageCategory = "png"
	ImageCategoryJPEG    ImageCategory = "jpeg"
	ImageCategoryGIF     ImageCategory = "gif"
	ImageCategoryBMP     ImageCategory = "bmp"
	ImageCategoryTIFF    ImageCategory = "tiff"
)

// DiscoveredImage is one non-WebP image observed on a scanned page.
type DiscoveredImage struct {
	ImageID             string        `json:"image_id"`
	ScanID              string        `json:"scan_id"`
	PageURLs            []string      `json:"page_urls"`
	ImageURL            string        `json:"image_url"`
	MIMEType            string        `json:"mime_type"`
	Category            ImageCategory `json:"category"`
	SizeBytes           int64         `json:"size_bytes"`
	EstimatedWebPSize   int64         `json:"estimated_webp_size"`
	EstimatedSavingsPct float64       `json:"estimated_savings_percent"`
	DiscoveredAt        time.Time     `json:"discovered_at"`
}

// CategoryFromMIME maps a response content-type to an ImageCategory.
// WebP, AVIF and SVG are excluded from the ratio table entirely and are
// never recorded as DiscoveredImage rows.
func CategoryFromMIME(mimeType string) (ImageCategory, bool) {
	switch mimeType {
	case "image/png":
		return ImageCategoryPNG, true
	case "image/jpeg", "image/jpg":
		return ImageCategoryJPEG, true
	case "image/gif":
		return ImageCategoryGIF, true
	case "image/bmp", "image/x-ms-bmp":
		return ImageCategoryBMP, true
	case "image/tiff":
		return ImageCategoryTIFF, true
	case "image/webp", "image/avif", "image/svg+xml":
		return "", false
	default:
		return "", false
	}
}
