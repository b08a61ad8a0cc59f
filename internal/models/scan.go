package models

import (
	"time"

	"github.com/google/uuid"
)

type ScanStatus string

const (
	ScanStatusPending  ScanStatus = "pending"
	ScanStatusRunning  ScanStatus = "running"
	ScanStatusComplete ScanStatus = "complete"
	ScanStatusError    ScanStatus = "error"
)

// Scan is one ingest → detect → cluster run over a single album.
// Status transitions are monotonic: pending → running → {complete, error}.
// At most one scan may be running per album; the database enforces it.
type Scan struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	AlbumID      *uuid.UUID `json:"album_id,omitempty" db:"album_id"`
	Identity     string     `json:"identity" db:"identity"`
	RawAlbumRef  string     `json:"raw_album_ref" db:"raw_album_ref"`
	Status       ScanStatus `json:"status" db:"status"`
	TotalItems   int        `json:"total_items" db:"total_items"`
	ScannedItems int        `json:"scanned_items" db:"scanned_items"`
	FacesFound   int        `json:"faces_found" db:"faces_found"`
	ErrorMessage string     `json:"error_message,omitempty" db:"error_message"`
	StartedAt    *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}

// Terminal reports whether the scan reached a final state.
func (s *Scan) Terminal() bool {
	return s.Status == ScanStatusComplete || s.Status == ScanStatusError
}

// ScanTask is the message published to NATS for worker processing.
type ScanTask struct {
	ScanID      uuid.UUID `json:"scan_id"`
	Identity    string    `json:"identity"`
	RawAlbumRef string    `json:"raw_album_ref"`
}

// ScanEvent is a progress notification published while a scan runs,
// consumed by the API for WebSocket broadcast.
type ScanEvent struct {
	Type         string     `json:"type"` // scan_progress, scan_complete, scan_error, person_created
	ScanID       uuid.UUID  `json:"scan_id"`
	Status       ScanStatus `json:"status"`
	TotalItems   int        `json:"total_items"`
	ScannedItems int        `json:"scanned_items"`
	FacesFound   int        `json:"faces_found"`
	PersonID     *uuid.UUID `json:"person_id,omitempty"`
	Message      string     `json:"message,omitempty"`
}
