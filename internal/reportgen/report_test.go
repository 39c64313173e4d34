package reportgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/quaero/internal/models"
)

func TestBuild_AggregatesCategoryTotalsAndMeanSavings(t *testing.T) {
	job := &models.ScanJob{
		ScanID:          "scan-1",
		TargetURL:       "https://example.com",
		Status:          models.ScanStatusCompleted,
		PagesScanned:    3,
		PagesDiscovered: 3,
	}
	images := []*models.DiscoveredImage{
		{ImageID: "1", ScanID: "scan-1", ImageURL: "https://example.com/hero-1.png", MIMEType: "image/png", SizeBytes: 1000, EstimatedWebPSize: 400, EstimatedSavingsPct: 60},
		{ImageID: "2", ScanID: "scan-1", ImageURL: "https://example.com/thumb-1.jpg", MIMEType: "image/jpeg", SizeBytes: 500, EstimatedWebPSize: 300, EstimatedSavingsPct: 40},
	}

	report := Build(job, images)

	assert.Equal(t, "scan-1", report.ScanID)
	assert.Equal(t, 2, report.TotalImagesFound)
	assert.Equal(t, int64(1500), report.TotalOriginalBytes)
	assert.InDelta(t, 50.0, report.MeanSavingsPercent, 0.001)
	assert.NotEmpty(t, report.Disclaimer)
	require.Len(t, report.ByCategory, 2)
}

func TestBuild_FlagsCompletedWithWarningsWhenPageLimitReached(t *testing.T) {
	job := &models.ScanJob{ScanID: "scan-2", ReachedPageLimit: true, Status: models.ScanStatusCompleted}
	report := Build(job, nil)
	assert.True(t, report.CompletedWithWarning)
	assert.Empty(t, report.Images)
}

func TestMarshalJSONReport_ProducesValidJSON(t *testing.T) {
	report := Build(&models.ScanJob{ScanID: "scan-3", Status: models.ScanStatusCompleted}, nil)
	data, err := report.MarshalJSONReport()
	require.NoError(t, err)
	assert.Contains(t, string(data), "\"scan_id\": \"scan-3\"")
}
