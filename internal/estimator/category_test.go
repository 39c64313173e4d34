package estimator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/ternarybob/quaero/internal/models"
)

func TestReportCategoryForURL_MatchesKeyword(t *testing.T) {
	cases := map[string]models.ImageReportCategory{
		"https://cdn.example.com/hero-banner.jpg":        models.CategoryHeroAndBanners,
		"https://cdn.example.com/thumbs/thumb-1.png":     models.CategoryThumbnails,
		"https://shop.example.com/product/sku-123.jpg":   models.CategoryProductImages,
		"https://blog.example.com/article/2026/img.png":  models.CategoryBlogAndArticles,
		"https://cdn.example.com/logo.svg":               models.CategoryLogosAndIcons,
		"https://cdn.example.com/avatars/user-photo.jpg": models.CategoryUserAvatars,
		"https://cdn.example.com/bg-texture.png":         models.CategoryBackgrounds,
	}
	for url, want := range cases {
		assert.Equal(t, want, ReportCategoryForURL(url), "url %s", url)
	}
}

func TestReportCategoryForURL_DefaultsToOtherImages(t *testing.T) {
	assert.Equal(t, models.CategoryOtherImages, ReportCategoryForURL("https://example.com/gallery/photo42.jpg"))
}

func TestReportCategoryForURL_CaseInsensitive(t *testing.T) {
	assert.Equal(t, models.CategoryHeroAndBanners, ReportCategoryForURL("https://example.com/HERO-IMAGE.JPG"))
}

func TestReportCategoryForURL_FirstMatchWins(t *testing.T) {
	// Contains both a hero keyword and a thumbnail keyword; hero comes first
	// in AllImageReportCategories so it must win.
	assert.Equal(t, models.CategoryHeroAndBanners, ReportCategoryForURL("https://example.com/hero-thumb.jpg"))
}
