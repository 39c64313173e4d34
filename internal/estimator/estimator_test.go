package estimator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRatioFor_TrackedMIMETypes(t *testing.T) {
	cases := map[string]float64{
		"image/png":  0.26,
		"image/jpeg": 0.75,
		"image/jpg":  0.75,
		"image/gif":  0.50,
		"image/bmp":  0.30,
		"image/tiff": 0.35,
	}
	for mime, want := range cases {
		ratio, ok := RatioFor(mime)
		assert.True(t, ok, "expected %s to be tracked", mime)
		assert.Equal(t, want, ratio)
	}
}

func TestRatioFor_ExcludesWebPAndAVIFAndSVG(t *testing.T) {
	for _, mime := range []string{"image/webp", "image/avif", "image/svg+xml"} {
		_, ok := RatioFor(mime)
		assert.False(t, ok, "expected %s to be excluded", mime)
	}
}

func TestRatioFor_CaseAndParameterInsensitive(t *testing.T) {
	ratio, ok := RatioFor("IMAGE/PNG; charset=binary")
	assert.True(t, ok)
	assert.Equal(t, 0.26, ratio)
}

func TestEstimatedWebPSize_AppliesRatio(t *testing.T) {
	assert.Equal(t, int64(260), EstimatedWebPSize("image/png", 1000))
	assert.Equal(t, int64(750), EstimatedWebPSize("image/jpeg", 1000))
}

func TestEstimatedWebPSize_UntrackedReturnsUnchanged(t *testing.T) {
	assert.Equal(t, int64(1000), EstimatedWebPSize("image/webp", 1000))
}

func TestSavingsPercent_ComputesExpectedPercentage(t *testing.T) {
	assert.InDelta(t, 74.0, SavingsPercent(1000, 260), 0.001)
}

func TestSavingsPercent_ClampsNegativeToZero(t *testing.T) {
	assert.Equal(t, 0.0, SavingsPercent(1000, 1500))
}

func TestSavingsPercent_ZeroFileSizeReturnsZero(t *testing.T) {
	assert.Equal(t, 0.0, SavingsPercent(0, 0))
}

func TestIsTrackedNonWebP(t *testing.T) {
	assert.True(t, IsTrackedNonWebP("image/png"))
	assert.False(t, IsTrackedNonWebP("image/webp"))
	assert.False(t, IsTrackedNonWebP("text/html"))
}
