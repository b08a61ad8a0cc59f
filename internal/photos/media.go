package photos

import (
	"context"
	"strings"

	"github.com/manankhh/facesort/internal/models"
)

// MediaSeq is a lazy, finite, non-restartable sequence of the image
// items in an album, consumed once per scan. Pages are fetched on demand
// until the provider stops returning a continuation cursor. Non-image
// MIME types are filtered out and item ids are de-duplicated across
// pages. Ordering beyond "page order" is provider-defined.
//
// Usage follows the rows idiom:
//
//	seq := client.ListAlbumMedia(identity, albumID)
//	for seq.Next(ctx) {
//		item := seq.Item()
//	}
//	if err := seq.Err(); err != nil { ... }
type MediaSeq struct {
	client   *Client
	identity string
	albumID  string

	pageToken string
	buf       []*models.MediaItem
	pos       int
	current   *models.MediaItem
	seen      map[string]struct{}
	done      bool
	err       error
}

// ListAlbumMedia returns the media sequence for a resolved album.
// No provider call is made until the first Next.
func (c *Client) ListAlbumMedia(identity, albumID string) *MediaSeq {
	return &MediaSeq{
		client:   c,
		identity: identity,
		albumID:  albumID,
		seen:     make(map[string]struct{}),
	}
}

// Next advances to the next media item, fetching further pages as
// needed. It returns false when the sequence is exhausted or a provider
// error occurred; check Err afterwards.
func (s *MediaSeq) Next(ctx context.Context) bool {
	if s.err != nil {
		return false
	}

	for {
		if s.pos < len(s.buf) {
			s.current = s.buf[s.pos]
			s.pos++
			return true
		}

		if s.done {
			s.current = nil
			return false
		}

		page, err := s.client.searchAlbumMedia(ctx, s.identity, s.albumID, s.pageToken)
		if err != nil {
			s.err = err
			s.current = nil
			return false
		}

		s.buf = s.buf[:0]
		s.pos = 0
		for i := range page.MediaItems {
			item := &page.MediaItems[i]
			if !strings.HasPrefix(item.MimeType, "image/") {
				continue
			}
			if _, dup := s.seen[item.ID]; dup {
				continue
			}
			s.seen[item.ID] = struct{}{}
			s.buf = append(s.buf, item.toModel())
		}

		if page.NextPageToken == "" {
			s.done = true
		}
		s.pageToken = page.NextPageToken
	}
}

// Item returns the media item the last successful Next advanced to.
func (s *MediaSeq) Item() *models.MediaItem {
	return s.current
}

// Err returns the provider error that terminated the sequence, if any.
func (s *MediaSeq) Err() error {
	return s.err
}
