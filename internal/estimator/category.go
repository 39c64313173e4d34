package estimator

import (
	"strings"

	"github.com/ternarybob/quaero/internal/models"
)

// categoryKeywords maps each report category to the URL substrings that
// identify it. Order matches models.AllImageReportCategories: first match
// wins.
var categoryKeywords = map[models.ImageReportCategory][]string{
	models.CategoryHeroAndBanners:  {"hero", "banner", "masthead", "jumbotron"},
	models.CategoryThumbnails:      {"thumb", "thumbnail", "preview"},
	models.CategoryProductImages:   {"product", "sku", "catalog"},
	models.CategoryBlogAndArticles: {"blog", "article", "post", "news"},
	models.CategoryLogosAndIcons:   {"logo", "icon", "favicon", "sprite"},
	models.CategoryUserAvatars:     {"avatar", "profile", "user-photo", "headshot"},
	models.CategoryBackgrounds:     {"background", "bg-", "/bg/", "wallpaper"},
}

// ReportCategoryForURL classifies an image URL into its report category
// using a fixed, case-insensitive, first-match-wins substring lookup.
// Images matching none of the configured keyword sets fall into
// CategoryOtherImages.
func ReportCategoryForURL(imageURL string) models.ImageReportCategory {
	lower := strings.ToLower(imageURL)
	for _, category := range models.AllImageReportCategories {
		keywords, ok := categoryKeywords[category]
		if !ok {
			continue
		}
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				return category
			}
		}
	}
	return models.CategoryOtherImages
}
