package models

import "time"

// MediaItem is one photo inside a provider album. BaseURL is perishable
// (provider-defined validity, roughly an hour) and must be refreshed via
// the provider rather than stored as a permanent address.
type MediaItem struct {
	ID           string    `json:"id"`
	BaseURL      string    `json:"base_url"`
	Filename     string    `json:"filename"`
	MimeType     string    `json:"mime_type"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	CreationTime time.Time `json:"creation_time"`
}
