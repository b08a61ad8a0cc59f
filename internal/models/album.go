package models

import (
	"time"

	"github.com/google/uuid"
)

// AlbumRef is a resolved external album. Immutable once resolved; cached
// per (identity, raw share link) so repeat scans skip listing pagination.
type AlbumRef struct {
	ID            uuid.UUID `json:"id" db:"id"`
	Identity      string    `json:"identity" db:"identity"`
	ProviderID    string    `json:"provider_id" db:"provider_album_id"`
	Title         string    `json:"title" db:"title"`
	ShareURL      string    `json:"share_url" db:"share_url"`
	ProductURL    string    `json:"product_url" db:"product_url"`
	MediaCount    int       `json:"media_count" db:"media_count"`
	CoverPhotoURL string    `json:"cover_photo_url" db:"cover_photo_url"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}
