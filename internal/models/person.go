package models

import (
	"time"

	"github.com/google/uuid"
)

// Person is one clustered identity within a scan. The centroid is the
// running mean embedding of all member faces; it is updated online as
// faces are assigned and never merged across scans.
type Person struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	ScanID          uuid.UUID  `json:"scan_id" db:"scan_id"`
	ClusterID       string     `json:"cluster_id" db:"cluster_id"`
	Label           string     `json:"label,omitempty" db:"label"`
	BestDetectionID *uuid.UUID `json:"best_detection_id,omitempty" db:"best_detection_id"`
	BestPhotoURL    string     `json:"best_photo_url,omitempty" db:"best_photo_url"`
	FaceCount       int        `json:"face_count" db:"face_count"`
	Centroid        []float32  `json:"-" db:"centroid"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}
