// Package estimator computes the empirical WebP-conversion savings used to
// populate a DiscoveredImage's estimated size and by the aggregate/live
// stats reporting layers.
package estimator

import "strings"

// ratios holds the empirical WebP-size ratio for each source MIME type we
// track. MIME types not present here (webp, avif, svg+xml, and anything
// else) are excluded from the "non-WebP" set entirely.
var ratios = map[string]float64{
	"image/png":  0.26,
	"image/jpeg": 0.75,
	"image/jpg":  0.75,
	"image/gif":  0.50,
	"image/bmp":  0.30,
	"image/tiff": 0.35,
}

// RatioFor returns the empirical WebP-size ratio for mimeType and whether
// that MIME type is tracked at all.
func RatioFor(mimeType string) (float64, bool) {
	ratio, ok := ratios[normalize(mimeType)]
	return ratio, ok
}

// EstimatedWebPSize returns fileSize scaled by the MIME type's empirical
// ratio, or fileSize unchanged if the MIME type isn't tracked.
func EstimatedWebPSize(mimeType string, fileSize int64) int64 {
	ratio, ok := RatioFor(mimeType)
	if !ok {
		return fileSize
	}
	return int64(float64(fileSize) * ratio)
}

// SavingsPercent computes max(0, 100*(fileSize-webpSize)/fileSize). Returns
// 0 when fileSize is 0 to avoid a division by zero.
func SavingsPercent(fileSize, webpSize int64) float64 {
	if fileSize <= 0 {
		return 0
	}
	pct := 100 * float64(fileSize-webpSize) / float64(fileSize)
	if pct < 0 {
		return 0
	}
	return pct
}

// IsTrackedNonWebP reports whether mimeType belongs to the "non-WebP" set
// that this system estimates conversion savings for.
func IsTrackedNonWebP(mimeType string) bool {
	_, ok := ratios[normalize(mimeType)]
	return ok
}

func normalize(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if idx := strings.Index(mimeType, ";"); idx >= 0 {
		mimeType = mimeType[:idx]
	}
	return mimeType
}
