package photos

import (
	"context"
	"fmt"
	"strings"

	"github.com/manankhh/facesort/internal/models"
)

// ResolveAlbum turns a user-supplied share link into a stable album
// reference. Share links do not expose the album id directly, so the
// identity's owned albums are paged through looking for a textual match,
// with the shared-albums listing as a fallback (shared albums commonly
// carry share links different from owned-album links). First match in
// listing order wins. ErrAlbumNotFound is returned only after both
// listings are fully exhausted.
func (c *Client) ResolveAlbum(ctx context.Context, identity, rawRef string) (*models.AlbumRef, error) {
	pageToken := ""
	for {
		page, err := c.listAlbums(ctx, identity, pageToken)
		if err != nil {
			return nil, fmt.Errorf("list albums: %w", err)
		}
		for i := range page.Albums {
			if matchesRef(rawRef, &page.Albums[i]) {
				return page.Albums[i].toRef(identity, rawRef), nil
			}
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	pageToken = ""
	for {
		page, err := c.listSharedAlbums(ctx, identity, pageToken)
		if err != nil {
			return nil, fmt.Errorf("list shared albums: %w", err)
		}
		for i := range page.SharedAlbums {
			if matchesRef(rawRef, &page.SharedAlbums[i]) {
				return page.SharedAlbums[i].toRef(identity, rawRef), nil
			}
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	return nil, fmt.Errorf("%w: no album matches %q", ErrAlbumNotFound, rawRef)
}

// matchesRef reports whether the raw reference points at the album:
// it contains the album's external id, equals the canonical listing URL,
// or shares a prefix relationship with it (share links append query
// parameters to the canonical URL; short links may truncate it).
func matchesRef(rawRef string, a *albumPayload) bool {
	return strings.Contains(rawRef, a.ID) ||
		rawRef == a.ProductURL ||
		strings.HasPrefix(rawRef, a.ProductURL) ||
		strings.HasPrefix(a.ProductURL, rawRef)
}
