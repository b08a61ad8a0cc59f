package scan

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manankhh/facesort/internal/config"
	"github.com/manankhh/facesort/internal/detect"
	"github.com/manankhh/facesort/internal/models"
	"github.com/manankhh/facesort/internal/photos"
)

func scanCfg() config.ScanConfig {
	return config.ScanConfig{
		WorkerCount: 2,
		ItemTimeout: 5 * time.Second,
		StaleMaxAge: time.Hour,
	}
}

func testAlbum(identity string) *models.AlbumRef {
	return &models.AlbumRef{
		ID:         uuid.New(),
		Identity:   identity,
		ProviderID: "album-provider-id",
		Title:      "Summer",
		ShareURL:   "https://photos.google.com/share/abc",
		MediaCount: 5,
	}
}

func mediaItems(n int) []*models.MediaItem {
	items := make([]*models.MediaItem, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, &models.MediaItem{
			ID:       fmt.Sprintf("m%d", i),
			BaseURL:  fmt.Sprintf("https://lh3.test/m%d", i),
			Filename: fmt.Sprintf("m%d.jpg", i),
			MimeType: "image/jpeg",
		})
	}
	return items
}

func pendingScan(t *testing.T, store *memStore, identity, rawRef string) *models.Scan {
	t.Helper()
	sc := &models.Scan{
		ID:          uuid.New(),
		Identity:    identity,
		RawAlbumRef: rawRef,
		Status:      models.ScanStatusPending,
	}
	require.NoError(t, store.CreateScan(context.Background(), sc))
	return sc
}

func oneFaceDetector() *fakeDetector {
	return &fakeDetector{detectFn: func(_ []byte) ([]detect.Face, error) {
		return []detect.Face{{
			Box:       models.BoundingBox{X: 0.1, Y: 0.1, W: 0.2, H: 0.2},
			Tier:      models.ConfidenceHigh,
			Embedding: []float32{1, 0, 0, 0},
			Crop:      []byte("crop"),
		}}, nil
	}}
}

func TestRunCompletesDespiteItemFault(t *testing.T) {
	store := newMemStore()
	album := testAlbum("alice")
	lib := &fakeLibrary{
		album: album,
		items: mediaItems(5),
		// m3 never downloads, even after a URL refresh.
		downloadFn: func(baseURL string) ([]byte, error) {
			if strings.HasSuffix(baseURL, "m3") {
				return nil, fmt.Errorf("status 410")
			}
			return []byte("image-bytes"), nil
		},
	}
	snapshots := newMemSnapshots()
	events := &memEvents{}
	o := NewOrchestrator(store, lib, oneFaceDetector(), snapshots, events, scanCfg(), clusterCfg())

	sc := pendingScan(t, store, "alice", album.ShareURL)
	require.NoError(t, o.Run(context.Background(), &models.ScanTask{
		ScanID: sc.ID, Identity: "alice", RawAlbumRef: album.ShareURL,
	}))

	final, err := store.GetScan(context.Background(), sc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusComplete, final.Status)
	assert.Equal(t, 5, final.ScannedItems, "the faulted item still counts as processed")
	assert.Equal(t, 4, final.FacesFound)
	assert.Contains(t, final.ErrorMessage, "m3", "the item fault is recorded")

	// All four faces land in one cluster, with snapshots stored.
	persons := store.personList()
	require.Len(t, persons, 1)
	assert.Equal(t, 4, persons[0].FaceCount)
	assert.Len(t, snapshots.objects, 4)

	// The faulted URL was refreshed exactly once before giving up.
	assert.Equal(t, 1, lib.refreshCalls)

	require.NotEmpty(t, events.byType("scan_complete"))
	assert.Len(t, events.byType("person_created"), 1)
}

func TestRunRecoversExpiredMediaURL(t *testing.T) {
	store := newMemStore()
	album := testAlbum("alice")
	lib := &fakeLibrary{
		album: album,
		items: mediaItems(1),
		downloadFn: func(baseURL string) ([]byte, error) {
			if strings.Contains(baseURL, "refreshed") {
				return []byte("image-bytes"), nil
			}
			return nil, fmt.Errorf("status 403")
		},
	}
	events := &memEvents{}
	o := NewOrchestrator(store, lib, oneFaceDetector(), newMemSnapshots(), events, scanCfg(), clusterCfg())

	sc := pendingScan(t, store, "alice", album.ShareURL)
	require.NoError(t, o.Run(context.Background(), &models.ScanTask{
		ScanID: sc.ID, Identity: "alice", RawAlbumRef: album.ShareURL,
	}))

	final, _ := store.GetScan(context.Background(), sc.ID)
	assert.Equal(t, models.ScanStatusComplete, final.Status)
	assert.Equal(t, 1, final.FacesFound)
	assert.Empty(t, final.ErrorMessage)
	assert.Equal(t, 1, lib.refreshCalls)
}

func TestRunFailsWhenResolutionFails(t *testing.T) {
	store := newMemStore()
	lib := &fakeLibrary{
		resolveErr: fmt.Errorf("%w: no album matches", photos.ErrAlbumNotFound),
	}
	events := &memEvents{}
	o := NewOrchestrator(store, lib, oneFaceDetector(), newMemSnapshots(), events, scanCfg(), clusterCfg())

	sc := pendingScan(t, store, "alice", "https://photos.google.com/share/missing")
	require.NoError(t, o.Run(context.Background(), &models.ScanTask{
		ScanID: sc.ID, Identity: "alice", RawAlbumRef: sc.RawAlbumRef,
	}))

	final, _ := store.GetScan(context.Background(), sc.ID)
	assert.Equal(t, models.ScanStatusError, final.Status)
	assert.Contains(t, final.ErrorMessage, "resolve album")
	assert.Equal(t, 0, store.markRunningCalls, "a scan that cannot resolve never enters running")
	require.NotEmpty(t, events.byType("scan_error"))
}

func TestRunCredentialFailureIsFatal(t *testing.T) {
	store := newMemStore()
	album := testAlbum("alice")
	lib := &fakeLibrary{
		album: album,
		items: mediaItems(3),
		downloadFn: func(string) ([]byte, error) {
			return nil, fmt.Errorf("%w: refresh token revoked", photos.ErrCredentialRenewalFailed)
		},
	}
	events := &memEvents{}
	o := NewOrchestrator(store, lib, oneFaceDetector(), newMemSnapshots(), events, scanCfg(), clusterCfg())

	sc := pendingScan(t, store, "alice", album.ShareURL)
	require.NoError(t, o.Run(context.Background(), &models.ScanTask{
		ScanID: sc.ID, Identity: "alice", RawAlbumRef: album.ShareURL,
	}))

	final, _ := store.GetScan(context.Background(), sc.ID)
	assert.Equal(t, models.ScanStatusError, final.Status)
	assert.Contains(t, final.ErrorMessage, "credentials expired")
	require.NotEmpty(t, events.byType("scan_error"))
}

func TestRunUsesCachedAlbum(t *testing.T) {
	store := newMemStore()
	album := testAlbum("alice")
	require.NoError(t, store.UpsertAlbum(context.Background(), album))
	lib := &fakeLibrary{
		album:      album,
		resolveErr: fmt.Errorf("%w: listing should not be called", photos.ErrProviderUnavailable),
		items:      mediaItems(2),
	}
	o := NewOrchestrator(store, lib, oneFaceDetector(), newMemSnapshots(), &memEvents{}, scanCfg(), clusterCfg())

	sc := pendingScan(t, store, "alice", album.ShareURL)
	require.NoError(t, o.Run(context.Background(), &models.ScanTask{
		ScanID: sc.ID, Identity: "alice", RawAlbumRef: album.ShareURL,
	}))

	final, _ := store.GetScan(context.Background(), sc.ID)
	assert.Equal(t, models.ScanStatusComplete, final.Status, "cached albums bypass provider resolution")
}

func TestRunSkipsTerminalScan(t *testing.T) {
	store := newMemStore()
	lib := &fakeLibrary{album: testAlbum("alice"), items: mediaItems(2)}
	o := NewOrchestrator(store, lib, oneFaceDetector(), newMemSnapshots(), &memEvents{}, scanCfg(), clusterCfg())

	sc := pendingScan(t, store, "alice", "https://photos.google.com/share/abc")
	require.NoError(t, store.FailScan(context.Background(), sc.ID, "already failed"))

	require.NoError(t, o.Run(context.Background(), &models.ScanTask{
		ScanID: sc.ID, Identity: "alice", RawAlbumRef: sc.RawAlbumRef,
	}))

	final, _ := store.GetScan(context.Background(), sc.ID)
	assert.Equal(t, models.ScanStatusError, final.Status)
	assert.Equal(t, "already failed", final.ErrorMessage)
	assert.Equal(t, 0, final.ScannedItems)
}

func TestRunRejectsConcurrentScanOfSameAlbum(t *testing.T) {
	store := newMemStore()
	album := testAlbum("alice")
	require.NoError(t, store.UpsertAlbum(context.Background(), album))

	// A scan of this album is already running.
	other := pendingScan(t, store, "alice", album.ShareURL)
	require.NoError(t, store.MarkScanRunning(context.Background(), other.ID, album.ID, 5))

	lib := &fakeLibrary{album: album, items: mediaItems(2)}
	o := NewOrchestrator(store, lib, oneFaceDetector(), newMemSnapshots(), &memEvents{}, scanCfg(), clusterCfg())

	sc := pendingScan(t, store, "alice", album.ShareURL)
	require.NoError(t, o.Run(context.Background(), &models.ScanTask{
		ScanID: sc.ID, Identity: "alice", RawAlbumRef: album.ShareURL,
	}))

	final, _ := store.GetScan(context.Background(), sc.ID)
	assert.Equal(t, models.ScanStatusError, final.Status)
	assert.Contains(t, final.ErrorMessage, "already running")

	// The first scan is untouched.
	first, _ := store.GetScan(context.Background(), other.ID)
	assert.Equal(t, models.ScanStatusRunning, first.Status)
}

func TestSweepStale(t *testing.T) {
	store := newMemStore()
	album := testAlbum("alice")

	sc := pendingScan(t, store, "alice", album.ShareURL)
	require.NoError(t, store.MarkScanRunning(context.Background(), sc.ID, album.ID, 5))
	past := time.Now().Add(-3 * time.Hour)
	store.mu.Lock()
	store.scans[sc.ID].StartedAt = &past
	store.mu.Unlock()

	o := NewOrchestrator(store, &fakeLibrary{album: album}, oneFaceDetector(), newMemSnapshots(), &memEvents{}, scanCfg(), clusterCfg())
	o.SweepStale(context.Background())

	final, _ := store.GetScan(context.Background(), sc.ID)
	assert.Equal(t, models.ScanStatusError, final.Status)
}
