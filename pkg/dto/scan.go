package dto

import "github.com/google/uuid"

type StartScanRequest struct {
	Identity string `json:"identity" binding:"required"`
	AlbumURL string `json:"album_url" binding:"required"`
}

type ScanResponse struct {
	ID           uuid.UUID  `json:"id"`
	AlbumID      *uuid.UUID `json:"album_id,omitempty"`
	Identity     string     `json:"identity"`
	AlbumURL     string     `json:"album_url"`
	Status       string     `json:"status"`
	TotalItems   int        `json:"total_items"`
	ScannedItems int        `json:"scanned_items"`
	FacesFound   int        `json:"faces_found"`
	ErrorMessage string     `json:"error_message,omitempty"`
	StartedAt    string     `json:"started_at,omitempty"`
	CompletedAt  string     `json:"completed_at,omitempty"`
	CreatedAt    string     `json:"created_at"`
}

type ScanListResponse struct {
	Scans []ScanResponse `json:"scans"`
	Total int            `json:"total"`
}

// WSEvent is a WebSocket message mirroring the scan progress events
// published on NATS.
type WSEvent struct {
	Type         string     `json:"type"` // scan_progress, scan_complete, scan_error, person_created
	ScanID       uuid.UUID  `json:"scan_id"`
	Status       string     `json:"status"`
	TotalItems   int        `json:"total_items"`
	ScannedItems int        `json:"scanned_items"`
	FacesFound   int        `json:"faces_found"`
	PersonID     *uuid.UUID `json:"person_id,omitempty"`
	Message      string     `json:"message,omitempty"`
}
