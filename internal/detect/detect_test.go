package detect

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manankhh/facesort/internal/models"
)

func TestTierCutoffs(t *testing.T) {
	cutoffs := TierCutoffs{High: 0.85, Medium: 0.65}

	cases := []struct {
		confidence float32
		want       models.ConfidenceTier
	}{
		{0.99, models.ConfidenceHigh},
		{0.85, models.ConfidenceHigh},
		{0.84, models.ConfidenceMedium},
		{0.65, models.ConfidenceMedium},
		{0.64, models.ConfidenceLow},
		{0.10, models.ConfidenceLow},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, cutoffs.Tier(tc.confidence), "confidence %v", tc.confidence)
	}
}

func TestNMSSuppressesOverlaps(t *testing.T) {
	detections := []rawDetection{
		{bbox: [4]float32{0, 0, 100, 100}, confidence: 0.9},
		{bbox: [4]float32{5, 5, 105, 105}, confidence: 0.8},  // heavy overlap with the first
		{bbox: [4]float32{200, 200, 300, 300}, confidence: 0.7},
	}

	kept := nms(detections, 0.4)
	require.Len(t, kept, 2)
	assert.Equal(t, float32(0.9), kept[0].confidence)
	assert.Equal(t, float32(0.7), kept[1].confidence)
}

func TestIOU(t *testing.T) {
	a := [4]float32{0, 0, 10, 10}
	assert.InDelta(t, 1.0, iou(a, a), 1e-6)

	b := [4]float32{20, 20, 30, 30}
	assert.Equal(t, float32(0), iou(a, b))

	c := [4]float32{5, 0, 15, 10}
	// intersection 50, union 150
	assert.InDelta(t, 1.0/3.0, iou(a, c), 1e-6)
}

func TestFractionalBox(t *testing.T) {
	box := fractionalBox([4]float32{100, 50, 300, 250}, 400, 500)
	assert.InDelta(t, 0.25, box.X, 1e-6)
	assert.InDelta(t, 0.10, box.Y, 1e-6)
	assert.InDelta(t, 0.50, box.W, 1e-6)
	assert.InDelta(t, 0.40, box.H, 1e-6)
}

func TestCropFacePadsAndClamps(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 100, 100))

	crop := cropFace(img, [4]float32{10, 10, 50, 50})
	require.NotNil(t, crop)
	// 40px box with 10% padding on each side.
	assert.Equal(t, 48, crop.Bounds().Dx())
	assert.Equal(t, 48, crop.Bounds().Dy())

	// A box at the image edge clamps instead of going out of bounds.
	edge := cropFace(img, [4]float32{0, 0, 100, 100})
	require.NotNil(t, edge)
	assert.Equal(t, 100, edge.Bounds().Dx())

	// Degenerate boxes yield nil.
	assert.Nil(t, cropFace(img, [4]float32{60, 60, 60, 60}))
}

func TestNormalize(t *testing.T) {
	v := []float32{3, 4}
	normalize(v)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}
