package photos

import (
	"fmt"
	"strconv"
	"time"

	"github.com/manankhh/facesort/internal/models"
)

// Provider payloads are loosely typed JSON; each response shape gets an
// explicit record validated at the boundary. A payload that fails
// validation is treated as a provider fault, not passed inward.

type albumPayload struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	ProductURL        string `json:"productUrl"`
	MediaItemsCount   string `json:"mediaItemsCount"`
	CoverPhotoBaseURL string `json:"coverPhotoBaseUrl"`
}

func (a *albumPayload) validate() error {
	if a.ID == "" {
		return fmt.Errorf("album entry missing id")
	}
	if a.ProductURL == "" {
		return fmt.Errorf("album %s missing productUrl", a.ID)
	}
	return nil
}

func (a *albumPayload) toRef(identity, shareURL string) *models.AlbumRef {
	count, _ := strconv.Atoi(a.MediaItemsCount)
	return &models.AlbumRef{
		Identity:      identity,
		ProviderID:    a.ID,
		Title:         a.Title,
		ShareURL:      shareURL,
		ProductURL:    a.ProductURL,
		MediaCount:    count,
		CoverPhotoURL: a.CoverPhotoBaseURL,
	}
}

type albumsPage struct {
	Albums        []albumPayload `json:"albums"`
	NextPageToken string         `json:"nextPageToken"`
}

type sharedAlbumsPage struct {
	SharedAlbums  []albumPayload `json:"sharedAlbums"`
	NextPageToken string         `json:"nextPageToken"`
}

type mediaMetadataPayload struct {
	CreationTime string `json:"creationTime"`
	Width        string `json:"width"`
	Height       string `json:"height"`
}

type mediaItemPayload struct {
	ID            string               `json:"id"`
	BaseURL       string               `json:"baseUrl"`
	Filename      string               `json:"filename"`
	MimeType      string               `json:"mimeType"`
	MediaMetadata mediaMetadataPayload `json:"mediaMetadata"`
}

func (m *mediaItemPayload) validate() error {
	if m.ID == "" {
		return fmt.Errorf("media item missing id")
	}
	if m.BaseURL == "" {
		return fmt.Errorf("media item %s missing baseUrl", m.ID)
	}
	return nil
}

func (m *mediaItemPayload) toModel() *models.MediaItem {
	width, _ := strconv.Atoi(m.MediaMetadata.Width)
	height, _ := strconv.Atoi(m.MediaMetadata.Height)
	created, _ := time.Parse(time.RFC3339, m.MediaMetadata.CreationTime)
	return &models.MediaItem{
		ID:           m.ID,
		BaseURL:      m.BaseURL,
		Filename:     m.Filename,
		MimeType:     m.MimeType,
		Width:        width,
		Height:       height,
		CreationTime: created,
	}
}

type mediaSearchPage struct {
	MediaItems    []mediaItemPayload `json:"mediaItems"`
	NextPageToken string             `json:"nextPageToken"`
}

type mediaSearchRequest struct {
	AlbumID   string `json:"albumId"`
	PageSize  int    `json:"pageSize"`
	PageToken string `json:"pageToken,omitempty"`
}
