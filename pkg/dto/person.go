package dto

import "github.com/google/uuid"

type PersonResponse struct {
	ID              uuid.UUID  `json:"id"`
	ScanID          uuid.UUID  `json:"scan_id"`
	ClusterID       string     `json:"cluster_id"`
	Label           string     `json:"label,omitempty"`
	BestDetectionID *uuid.UUID `json:"best_detection_id,omitempty"`
	BestPhotoURL    string     `json:"best_photo_url,omitempty"`
	FaceCount       int        `json:"face_count"`
	CreatedAt       string     `json:"created_at"`
	UpdatedAt       string     `json:"updated_at"`
}

type PersonListResponse struct {
	Persons []PersonResponse `json:"persons"`
	Total   int              `json:"total"`
}

type SetLabelRequest struct {
	Label string `json:"label" binding:"required"`
}

type SimilarPersonResult struct {
	PersonID uuid.UUID `json:"person_id"`
	ScanID   uuid.UUID `json:"scan_id"`
	Label    string    `json:"label,omitempty"`
	Score    float32   `json:"score"`
}

type DetectionResponse struct {
	ID          uuid.UUID `json:"id"`
	ScanID      uuid.UUID `json:"scan_id"`
	MediaItemID string    `json:"media_item_id"`
	PhotoURL    string    `json:"photo_url,omitempty"`
	Box         BoxDTO    `json:"box"`
	Confidence  string    `json:"confidence"`
	IsSelected  bool      `json:"is_selected"`
	SnapshotURL string    `json:"snapshot_url,omitempty"`
	CreatedAt   string    `json:"created_at"`
}

// BoxDTO locates a face as fractions of the photo dimensions.
type BoxDTO struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

type DetectionListResponse struct {
	Detections []DetectionResponse `json:"detections"`
	Total      int                 `json:"total"`
}
