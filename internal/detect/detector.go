// Package detect provides the face-detection capability consumed by the
// scan pipeline: given image bytes, it returns located faces with a
// confidence tier and an identity embedding.
package detect

import (
	"context"

	"github.com/manankhh/facesort/internal/models"
)

// Face is one detected face in an image.
type Face struct {
	Box        models.BoundingBox
	Tier       models.ConfidenceTier
	Confidence float32
	Embedding  []float32
	// Crop is the JPEG-encoded face region, kept so callers can store a
	// snapshot without re-decoding the source image.
	Crop []byte
}

// Detector detects and embeds faces. Failure modes are opaque to
// callers; a scan treats them as per-item faults.
type Detector interface {
	Detect(ctx context.Context, image []byte) ([]Face, error)
}

// TierCutoffs maps raw detector confidence onto the three tiers used
// for best-photo selection.
type TierCutoffs struct {
	High   float64
	Medium float64
}

func (t TierCutoffs) Tier(confidence float32) models.ConfidenceTier {
	c := float64(confidence)
	switch {
	case c >= t.High:
		return models.ConfidenceHigh
	case c >= t.Medium:
		return models.ConfidenceMedium
	default:
		return models.ConfidenceLow
	}
}
