package photos

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manankhh/facesort/internal/config"
	"github.com/manankhh/facesort/internal/models"
)

// provider is a fake photo-library backend serving paged album and
// media listings.
type provider struct {
	albums       []albumsPage
	sharedAlbums []sharedAlbumsPage
	media        []mediaSearchPage

	albumRequests  atomic.Int32
	sharedRequests atomic.Int32
	mediaRequests  atomic.Int32
}

func (p *provider) serve(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/albums", func(w http.ResponseWriter, r *http.Request) {
		p.albumRequests.Add(1)
		writePage(w, r.URL.Query().Get("pageToken"), len(p.albums), func(i int) any { return p.albums[i] })
	})
	mux.HandleFunc("/sharedAlbums", func(w http.ResponseWriter, r *http.Request) {
		p.sharedRequests.Add(1)
		writePage(w, r.URL.Query().Get("pageToken"), len(p.sharedAlbums), func(i int) any { return p.sharedAlbums[i] })
	})
	mux.HandleFunc("/mediaItems:search", func(w http.ResponseWriter, r *http.Request) {
		p.mediaRequests.Add(1)
		var req mediaSearchRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		writePage(w, req.PageToken, len(p.media), func(i int) any { return p.media[i] })
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

// writePage serves page i selected by token "" => 0, "p1" => 1, ...
func writePage(w http.ResponseWriter, token string, total int, page func(int) any) {
	idx := 0
	if token != "" {
		_, _ = fmt.Sscanf(token, "p%d", &idx)
	}
	if idx >= total {
		http.Error(w, "bad page token", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(page(idx))
}

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	store := newMemCredStore()
	store.put(&models.Credential{Identity: "alice", AccessToken: "tok", RefreshToken: "refresh"})
	cfg := config.ProviderConfig{
		BaseURL:       baseURL,
		TokenURL:      "http://unused.invalid/token",
		AlbumPageSize: 2,
		MediaPageSize: 2,
		CallTimeout:   5 * time.Second,
		RetryAttempts: 2,
		RetryBackoff:  time.Millisecond,
	}
	return NewClient(NewSessions(store, cfg), cfg)
}

func album(id string) albumPayload {
	return albumPayload{
		ID:              id,
		Title:           "Album " + id,
		ProductURL:      "https://photos.google.com/lr/album/" + id,
		MediaItemsCount: "7",
	}
}

func pageToken(i, total int) string {
	if i == total-1 {
		return ""
	}
	return fmt.Sprintf("p%d", i+1)
}

func TestResolveAlbumMatchesOnLaterPage(t *testing.T) {
	p := &provider{}
	pages := [][]albumPayload{
		{album("a1"), album("a2")},
		{album("a3"), album("a4")},
		{album("a5"), album("a6")},
	}
	for i, albums := range pages {
		p.albums = append(p.albums, albumsPage{Albums: albums, NextPageToken: pageToken(i, len(pages))})
	}
	srv := p.serve(t)
	c := testClient(t, srv.URL)

	ref, err := c.ResolveAlbum(context.Background(), "alice", "https://photos.google.com/lr/album/a4?key=xyz")
	require.NoError(t, err)
	assert.Equal(t, "a4", ref.ProviderID)
	assert.Equal(t, "Album a4", ref.Title)
	assert.Equal(t, 7, ref.MediaCount)
	assert.Equal(t, "https://photos.google.com/lr/album/a4?key=xyz", ref.ShareURL)
	assert.Equal(t, int32(2), p.albumRequests.Load(), "resolution stops at the matching page")
	assert.Equal(t, int32(0), p.sharedRequests.Load())
}

func TestResolveAlbumFallsBackToSharedAlbums(t *testing.T) {
	p := &provider{
		albums:       []albumsPage{{Albums: []albumPayload{album("a1")}}},
		sharedAlbums: []sharedAlbumsPage{{SharedAlbums: []albumPayload{album("s1")}}},
	}
	srv := p.serve(t)
	c := testClient(t, srv.URL)

	ref, err := c.ResolveAlbum(context.Background(), "alice", "https://photos.app.goo.gl/s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", ref.ProviderID)
	assert.Equal(t, int32(1), p.albumRequests.Load())
	assert.Equal(t, int32(1), p.sharedRequests.Load())
}

func TestResolveAlbumNotFound(t *testing.T) {
	p := &provider{
		albums:       []albumsPage{{Albums: []albumPayload{album("a1")}}},
		sharedAlbums: []sharedAlbumsPage{{SharedAlbums: []albumPayload{album("s1")}}},
	}
	srv := p.serve(t)
	c := testClient(t, srv.URL)

	_, err := c.ResolveAlbum(context.Background(), "alice", "https://photos.google.com/lr/album/zzz")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAlbumNotFound)
}

func TestMatchesRef(t *testing.T) {
	a := album("abc123")

	cases := []struct {
		name   string
		rawRef string
		want   bool
	}{
		{"contains album id", "https://photos.app.goo.gl/share/abc123?key=1", true},
		{"exact product url", a.ProductURL, true},
		{"product url with query suffix", a.ProductURL + "?authKey=q", true},
		{"truncated short link prefix", "https://photos.google.com/lr/album/", true},
		{"unrelated link", "https://photos.google.com/lr/album/other", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, matchesRef(tc.rawRef, &a))
		})
	}
}
