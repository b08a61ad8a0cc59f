package photos

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/manankhh/facesort/internal/config"
	"github.com/manankhh/facesort/internal/models"
	"github.com/manankhh/facesort/internal/observability"
)

// Client talks to the external photo-library provider on behalf of an
// identity. Every authenticated call goes through the Sessions layer so
// expired credentials renew transparently.
type Client struct {
	sessions       *Sessions
	baseURL        string
	albumPageSize  int
	mediaPageSize  int
	retryAttempts  int
	retryBackoff   time.Duration
	downloadSuffix string
	download       *http.Client
}

func NewClient(sessions *Sessions, cfg config.ProviderConfig) *Client {
	return &Client{
		sessions:       sessions,
		baseURL:        cfg.BaseURL,
		albumPageSize:  cfg.AlbumPageSize,
		mediaPageSize:  cfg.MediaPageSize,
		retryAttempts:  cfg.RetryAttempts,
		retryBackoff:   cfg.RetryBackoff,
		downloadSuffix: cfg.DownloadSuffix,
		download:       &http.Client{Timeout: cfg.CallTimeout},
	}
}

func (c *Client) listAlbums(ctx context.Context, identity, pageToken string) (*albumsPage, error) {
	query := url.Values{"pageSize": {strconv.Itoa(c.albumPageSize)}}
	if pageToken != "" {
		query.Set("pageToken", pageToken)
	}

	page := &albumsPage{}
	if err := c.call(ctx, identity, "albums", http.MethodGet, "/albums", query, nil, page); err != nil {
		return nil, err
	}
	for i := range page.Albums {
		if err := page.Albums[i].validate(); err != nil {
			return nil, fmt.Errorf("%w: malformed albums page: %v", ErrProviderUnavailable, err)
		}
	}
	return page, nil
}

func (c *Client) listSharedAlbums(ctx context.Context, identity, pageToken string) (*sharedAlbumsPage, error) {
	query := url.Values{"pageSize": {strconv.Itoa(c.albumPageSize)}}
	if pageToken != "" {
		query.Set("pageToken", pageToken)
	}

	page := &sharedAlbumsPage{}
	if err := c.call(ctx, identity, "shared_albums", http.MethodGet, "/sharedAlbums", query, nil, page); err != nil {
		return nil, err
	}
	for i := range page.SharedAlbums {
		if err := page.SharedAlbums[i].validate(); err != nil {
			return nil, fmt.Errorf("%w: malformed shared albums page: %v", ErrProviderUnavailable, err)
		}
	}
	return page, nil
}

func (c *Client) searchAlbumMedia(ctx context.Context, identity, albumID, pageToken string) (*mediaSearchPage, error) {
	body := mediaSearchRequest{
		AlbumID:   albumID,
		PageSize:  c.mediaPageSize,
		PageToken: pageToken,
	}

	page := &mediaSearchPage{}
	if err := c.call(ctx, identity, "media_search", http.MethodPost, "/mediaItems:search", nil, body, page); err != nil {
		return nil, err
	}
	for i := range page.MediaItems {
		if err := page.MediaItems[i].validate(); err != nil {
			return nil, fmt.Errorf("%w: malformed media page: %v", ErrProviderUnavailable, err)
		}
	}
	return page, nil
}

// GetMediaItem fetches a single media item by id, primarily to obtain a
// fresh base URL once a stored one has expired.
func (c *Client) GetMediaItem(ctx context.Context, identity, mediaItemID string) (*models.MediaItem, error) {
	payload := &mediaItemPayload{}
	if err := c.call(ctx, identity, "media_get", http.MethodGet, "/mediaItems/"+url.PathEscape(mediaItemID), nil, nil, payload); err != nil {
		return nil, err
	}
	if err := payload.validate(); err != nil {
		return nil, fmt.Errorf("%w: malformed media item: %v", ErrProviderUnavailable, err)
	}
	return payload.toModel(), nil
}

// RefreshMediaURL returns a fresh perishable content URL for a media item.
func (c *Client) RefreshMediaURL(ctx context.Context, identity, mediaItemID string) (string, error) {
	item, err := c.GetMediaItem(ctx, identity, mediaItemID)
	if err != nil {
		return "", err
	}
	return item.BaseURL, nil
}

// DownloadMedia fetches the image bytes behind a perishable base URL.
// Base URLs are pre-signed by the provider; no bearer token is attached.
func (c *Client) DownloadMedia(ctx context.Context, baseURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+c.downloadSuffix, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}

	resp, err := c.download.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download media: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read media body: %w", err)
	}
	return data, nil
}

// call issues one authenticated provider request with bounded retries on
// transient failures. An auth-rejected response triggers a single forced
// credential renewal before the request is retried once; a second auth
// rejection after a successful renewal is a provider fault.
func (c *Client) call(ctx context.Context, identity, endpoint, method, path string, query url.Values, body, out any) error {
	hc, err := c.sessions.Client(ctx, identity)
	if err != nil {
		return err
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
	}

	start := time.Now()
	defer func() {
		observability.ProviderRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}()

	renewed := false
	var lastErr error

	for attempt := 0; attempt < c.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.retryBackoff * time.Duration(attempt)):
			}
		}

		reqURL := c.baseURL + path
		if len(query) > 0 {
			reqURL += "?" + query.Encode()
		}

		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return fmt.Errorf("build provider request: %w", err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := hc.Do(req)
		if err != nil {
			// Renewal and identity failures surface through the transport.
			if errors.Is(err, ErrCredentialRenewalFailed) || errors.Is(err, ErrIdentityNotFound) {
				return err
			}
			lastErr = err
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			err = json.NewDecoder(resp.Body).Decode(out)
			resp.Body.Close()
			if err != nil {
				return fmt.Errorf("%w: decode %s response: %v", ErrProviderUnavailable, endpoint, err)
			}
			return nil

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			resp.Body.Close()
			if renewed {
				return fmt.Errorf("%w: %s rejected renewed credential (status %d)", ErrProviderUnavailable, endpoint, resp.StatusCode)
			}
			stale, err := c.sessions.AccessToken(ctx, identity)
			if err != nil {
				return err
			}
			if err := c.sessions.ForceRenew(ctx, identity, stale); err != nil {
				return err
			}
			renewed = true
			attempt-- // the renewal retry does not consume a transient-retry slot

		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			resp.Body.Close()
			lastErr = fmt.Errorf("status %d", resp.StatusCode)

		default:
			resp.Body.Close()
			return fmt.Errorf("%w: %s returned status %d", ErrProviderUnavailable, endpoint, resp.StatusCode)
		}
	}

	return fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, endpoint, lastErr)
}
