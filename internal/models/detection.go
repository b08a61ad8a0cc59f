package models

import (
	"time"

	"github.com/google/uuid"
)

type ConfidenceTier string

const (
	ConfidenceHigh   ConfidenceTier = "high"
	ConfidenceMedium ConfidenceTier = "medium"
	ConfidenceLow    ConfidenceTier = "low"
)

// rank orders tiers for best-photo comparison.
var tierRank = map[ConfidenceTier]int{
	ConfidenceLow:    0,
	ConfidenceMedium: 1,
	ConfidenceHigh:   2,
}

// Better reports whether t strictly outranks other.
func (t ConfidenceTier) Better(other ConfidenceTier) bool {
	return tierRank[t] > tierRank[other]
}

// BoundingBox locates a face as fractions of the image dimensions,
// each value in [0,1].
type BoundingBox struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Area returns the fractional area of the box.
func (b BoundingBox) Area() float64 {
	return b.W * b.H
}

// FaceDetection is one detected face in one photo of one scan. Written
// once; only the owning person and the selection flag change afterwards.
type FaceDetection struct {
	ID          uuid.UUID      `json:"id" db:"id"`
	ScanID      uuid.UUID      `json:"scan_id" db:"scan_id"`
	PersonID    *uuid.UUID     `json:"person_id,omitempty" db:"person_id"`
	MediaItemID string         `json:"media_item_id" db:"media_item_id"`
	PhotoURL    string         `json:"photo_url" db:"photo_url"`
	Box         BoundingBox    `json:"box" db:"-"`
	Confidence  ConfidenceTier `json:"confidence" db:"confidence"`
	IsSelected  bool           `json:"is_selected" db:"is_selected"`
	SnapshotKey string         `json:"snapshot_key,omitempty" db:"snapshot_key"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
}
