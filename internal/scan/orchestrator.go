package scan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/manankhh/facesort/internal/config"
	"github.com/manankhh/facesort/internal/detect"
	"github.com/manankhh/facesort/internal/models"
	"github.com/manankhh/facesort/internal/observability"
	"github.com/manankhh/facesort/internal/photos"
	"github.com/manankhh/facesort/internal/storage"
)

// MediaIterator walks an album's media items lazily, one provider page
// at a time.
type MediaIterator interface {
	Next(ctx context.Context) bool
	Item() *models.MediaItem
	Err() error
}

// Library is the provider-facing surface the orchestrator needs.
type Library interface {
	ResolveAlbum(ctx context.Context, identity, rawRef string) (*models.AlbumRef, error)
	StreamAlbumMedia(identity, albumID string) MediaIterator
	RefreshMediaURL(ctx context.Context, identity, mediaItemID string) (string, error)
	DownloadMedia(ctx context.Context, baseURL string) ([]byte, error)
}

// Store is the persistence surface the orchestrator drives a scan
// through. PostgresStore satisfies it.
type Store interface {
	ClusterStore

	GetCredential(ctx context.Context, identity string) (*models.Credential, error)
	GetAlbumByShareURL(ctx context.Context, identity, shareURL string) (*models.AlbumRef, error)
	UpsertAlbum(ctx context.Context, a *models.AlbumRef) error
	CreateScan(ctx context.Context, sc *models.Scan) error
	GetScan(ctx context.Context, id uuid.UUID) (*models.Scan, error)
	HasRunningScan(ctx context.Context, albumID uuid.UUID) (bool, error)
	MarkScanRunning(ctx context.Context, scanID, albumID uuid.UUID, totalItems int) error
	IncrementScanProgress(ctx context.Context, scanID uuid.UUID, facesFound int, itemError string) (*models.Scan, error)
	CompleteScan(ctx context.Context, scanID uuid.UUID, totalItems int) error
	FailScan(ctx context.Context, scanID uuid.UUID, message string) error
	FailStaleScans(ctx context.Context, maxAge time.Duration) (int, error)
	CreateDetection(ctx context.Context, d *models.FaceDetection, embedding []float32) error
}

// SnapshotStore persists face-crop images. MinIOStore satisfies it.
type SnapshotStore interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// EventPublisher fans scan progress out to subscribers.
type EventPublisher interface {
	PublishScanEvent(ctx context.Context, event *models.ScanEvent) error
}

// Orchestrator executes scan tasks end to end: resolve the album, walk
// its media, detect and embed faces, cluster them into persons, and
// track progress in the database.
type Orchestrator struct {
	store      Store
	library    Library
	detector   detect.Detector
	snapshots  SnapshotStore
	events     EventPublisher
	cfg        config.ScanConfig
	clusterCfg config.ClusteringConfig
}

func NewOrchestrator(store Store, library Library, detector detect.Detector, snapshots SnapshotStore, events EventPublisher, cfg config.ScanConfig, clusterCfg config.ClusteringConfig) *Orchestrator {
	return &Orchestrator{
		store:      store,
		library:    library,
		detector:   detector,
		snapshots:  snapshots,
		events:     events,
		cfg:        cfg,
		clusterCfg: clusterCfg,
	}
}

// SweepStale fails running scans abandoned by a dead worker. Called on
// worker startup, before consuming new tasks.
func (o *Orchestrator) SweepStale(ctx context.Context) {
	n, err := o.store.FailStaleScans(ctx, o.cfg.StaleMaxAge)
	if err != nil {
		slog.Error("sweep stale scans", "error", err)
		return
	}
	if n > 0 {
		slog.Warn("failed stale scans", "count", n)
	}
}

// Run processes one scan task. Item-level faults are recorded and
// skipped; only album resolution failure and credential renewal failure
// end the scan in an error state. Returning nil acknowledges the task
// either way, since redelivering a failed scan would rerun it from
// scratch.
func (o *Orchestrator) Run(ctx context.Context, task *models.ScanTask) error {
	sc, err := o.store.GetScan(ctx, task.ScanID)
	if err != nil {
		return fmt.Errorf("load scan %s: %w", task.ScanID, err)
	}
	if sc == nil || sc.Terminal() {
		slog.Warn("skipping scan task", "scan_id", task.ScanID)
		return nil
	}

	album, err := o.resolveAlbum(ctx, task.Identity, task.RawAlbumRef)
	if err != nil {
		return o.fail(ctx, task.ScanID, fmt.Sprintf("resolve album: %v", err))
	}

	if err := o.store.MarkScanRunning(ctx, task.ScanID, album.ID, album.MediaCount); err != nil {
		if errors.Is(err, storage.ErrScanAlreadyRunning) {
			return o.fail(ctx, task.ScanID, "another scan is already running for this album")
		}
		return fmt.Errorf("mark scan running: %w", err)
	}

	slog.Info("scan started", "scan_id", task.ScanID, "album", album.Title, "declared_items", album.MediaCount)

	clusterer := NewClusterer(o.store, o.clusterCfg)

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		fatalMu  sync.Mutex
		fatalMsg string
	)
	setFatal := func(msg string) {
		fatalMu.Lock()
		if fatalMsg == "" {
			fatalMsg = msg
		}
		fatalMu.Unlock()
		cancel()
	}

	items := make(chan *models.MediaItem)
	var wg sync.WaitGroup
	for i := 0; i < o.cfg.WorkerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range items {
				if err := o.processItem(scanCtx, task, item, clusterer); err != nil {
					setFatal(err.Error())
					return
				}
			}
		}()
	}

	seq := o.library.StreamAlbumMedia(task.Identity, album.ProviderID)
	for seq.Next(scanCtx) {
		select {
		case items <- seq.Item():
		case <-scanCtx.Done():
		}
		if scanCtx.Err() != nil {
			break
		}
	}
	close(items)
	wg.Wait()

	if err := seq.Err(); err != nil && fatalMsg == "" {
		fatalMsg = fmt.Sprintf("list album media: %v", err)
	}
	if fatalMsg != "" {
		return o.fail(ctx, task.ScanID, fatalMsg)
	}

	final, err := o.store.GetScan(ctx, task.ScanID)
	if err != nil {
		return fmt.Errorf("load scan for completion: %w", err)
	}
	if err := o.store.CompleteScan(ctx, task.ScanID, final.ScannedItems); err != nil {
		return fmt.Errorf("complete scan: %w", err)
	}
	observability.ScansCompleted.WithLabelValues(string(models.ScanStatusComplete)).Inc()

	o.publish(ctx, &models.ScanEvent{
		Type:         "scan_complete",
		ScanID:       task.ScanID,
		Status:       models.ScanStatusComplete,
		TotalItems:   final.ScannedItems,
		ScannedItems: final.ScannedItems,
		FacesFound:   final.FacesFound,
	})

	slog.Info("scan complete", "scan_id", task.ScanID,
		"items", final.ScannedItems, "faces", final.FacesFound)
	return nil
}

// resolveAlbum prefers the cached album from a previous scan, falling
// back to paging the provider's album lists.
func (o *Orchestrator) resolveAlbum(ctx context.Context, identity, rawRef string) (*models.AlbumRef, error) {
	cached, err := o.store.GetAlbumByShareURL(ctx, identity, rawRef)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	album, err := o.library.ResolveAlbum(ctx, identity, rawRef)
	if err != nil {
		return nil, err
	}
	album.ID = uuid.New()
	album.Identity = identity
	album.ShareURL = rawRef
	if err := o.store.UpsertAlbum(ctx, album); err != nil {
		return nil, err
	}
	return album, nil
}

// processItem runs one media item through download, detection and
// clustering. A non-nil return is scan-fatal; per-item faults are
// recorded in the scan and swallowed.
func (o *Orchestrator) processItem(ctx context.Context, task *models.ScanTask, item *models.MediaItem, clusterer *Clusterer) error {
	if ctx.Err() != nil {
		return nil
	}

	itemCtx, cancel := context.WithTimeout(ctx, o.cfg.ItemTimeout)
	defer cancel()

	data, err := o.downloadWithRefresh(itemCtx, task.Identity, item)
	if err != nil {
		if errors.Is(err, photos.ErrCredentialRenewalFailed) {
			return fmt.Errorf("credentials expired: %w", err)
		}
		o.recordItemFault(ctx, task.ScanID, item.ID, fmt.Sprintf("download %s: %v", item.Filename, err))
		return nil
	}

	faces, err := o.detector.Detect(itemCtx, data)
	if err != nil {
		o.recordItemFault(ctx, task.ScanID, item.ID, fmt.Sprintf("detect faces in %s: %v", item.Filename, err))
		return nil
	}

	for _, face := range faces {
		det := &models.FaceDetection{
			ID:          uuid.New(),
			ScanID:      task.ScanID,
			MediaItemID: item.ID,
			PhotoURL:    item.BaseURL,
			Box:         face.Box,
			Confidence:  face.Tier,
		}
		det.SnapshotKey = storage.SnapshotKey(task.ScanID, det.ID)

		if err := o.store.CreateDetection(ctx, det, face.Embedding); err != nil {
			slog.Error("persist detection", "scan_id", task.ScanID, "item", item.ID, "error", err)
			continue
		}
		observability.FacesDetected.Inc()

		if len(face.Crop) > 0 {
			if err := o.snapshots.PutObject(ctx, det.SnapshotKey, face.Crop, "image/jpeg"); err != nil {
				slog.Warn("store face snapshot", "key", det.SnapshotKey, "error", err)
			}
		}

		person, created, err := clusterer.Assign(ctx, det, face)
		if err != nil {
			slog.Error("assign face to person", "scan_id", task.ScanID, "detection", det.ID, "error", err)
			continue
		}
		if created {
			o.publish(ctx, &models.ScanEvent{
				Type:     "person_created",
				ScanID:   task.ScanID,
				Status:   models.ScanStatusRunning,
				PersonID: &person.ID,
			})
		}
	}

	snap, err := o.store.IncrementScanProgress(ctx, task.ScanID, len(faces), "")
	if err != nil {
		return fmt.Errorf("record progress: %w", err)
	}
	observability.ItemsScanned.WithLabelValues("ok").Inc()

	o.publish(ctx, &models.ScanEvent{
		Type:         "scan_progress",
		ScanID:       task.ScanID,
		Status:       models.ScanStatusRunning,
		TotalItems:   snap.TotalItems,
		ScannedItems: snap.ScannedItems,
		FacesFound:   snap.FacesFound,
	})
	return nil
}

// downloadWithRefresh fetches the item's bytes, refreshing the
// perishable base URL once when the first attempt fails.
func (o *Orchestrator) downloadWithRefresh(ctx context.Context, identity string, item *models.MediaItem) ([]byte, error) {
	data, err := o.library.DownloadMedia(ctx, item.BaseURL)
	if err == nil {
		return data, nil
	}

	fresh, rerr := o.library.RefreshMediaURL(ctx, identity, item.ID)
	if rerr != nil {
		return nil, rerr
	}
	item.BaseURL = fresh
	return o.library.DownloadMedia(ctx, fresh)
}

// recordItemFault counts a failed item without stopping the scan.
func (o *Orchestrator) recordItemFault(ctx context.Context, scanID uuid.UUID, itemID, msg string) {
	slog.Warn("media item failed", "scan_id", scanID, "item", itemID, "error", msg)
	observability.ItemsScanned.WithLabelValues("error").Inc()

	snap, err := o.store.IncrementScanProgress(ctx, scanID, 0, msg)
	if err != nil {
		slog.Error("record item fault", "scan_id", scanID, "error", err)
		return
	}
	o.publish(ctx, &models.ScanEvent{
		Type:         "scan_progress",
		ScanID:       scanID,
		Status:       models.ScanStatusRunning,
		TotalItems:   snap.TotalItems,
		ScannedItems: snap.ScannedItems,
		FacesFound:   snap.FacesFound,
		Message:      msg,
	})
}

// fail moves the scan to its terminal error state and acknowledges the
// task.
func (o *Orchestrator) fail(ctx context.Context, scanID uuid.UUID, msg string) error {
	slog.Error("scan failed", "scan_id", scanID, "reason", msg)
	if err := o.store.FailScan(ctx, scanID, msg); err != nil {
		return fmt.Errorf("fail scan: %w", err)
	}
	observability.ScansCompleted.WithLabelValues(string(models.ScanStatusError)).Inc()
	o.publish(ctx, &models.ScanEvent{
		Type:    "scan_error",
		ScanID:  scanID,
		Status:  models.ScanStatusError,
		Message: msg,
	})
	return nil
}

func (o *Orchestrator) publish(ctx context.Context, event *models.ScanEvent) {
	if o.events == nil {
		return
	}
	if err := o.events.PublishScanEvent(ctx, event); err != nil {
		slog.Warn("publish scan event", "type", event.Type, "scan_id", event.ScanID, "error", err)
	}
}
