package dto

import "github.com/google/uuid"

type AlbumResponse struct {
	ID            uuid.UUID `json:"id"`
	Identity      string    `json:"identity"`
	Title         string    `json:"title,omitempty"`
	ShareURL      string    `json:"share_url"`
	MediaCount    int       `json:"media_count"`
	CoverPhotoURL string    `json:"cover_photo_url,omitempty"`
	CreatedAt     string    `json:"created_at"`
}

type AlbumListResponse struct {
	Albums []AlbumResponse `json:"albums"`
	Total  int             `json:"total"`
}
