package scan

import (
	"context"
	"fmt"
	"regexp"

	"github.com/manankhh/facesort/internal/models"
	"github.com/manankhh/facesort/internal/observability"
	"github.com/manankhh/facesort/internal/photos"
	"github.com/manankhh/facesort/internal/storage"
)

// TaskPublisher enqueues scan tasks for workers.
type TaskPublisher interface {
	PublishScanTask(ctx context.Context, task *models.ScanTask) error
}

// shareLinkPattern accepts Google Photos album links in the shapes the
// provider hands out: direct album URLs, share URLs and shortened
// app.goo.gl links.
var shareLinkPattern = regexp.MustCompile(`photos\.(google\.com/(album|share|u/\d+/album)|app\.goo\.gl)`)

// ValidShareLink reports whether rawRef looks like an album link worth
// sending to a worker at all.
func ValidShareLink(rawRef string) bool {
	return shareLinkPattern.MatchString(rawRef)
}

// Service is the API-side entry point for scans: it validates the
// request, creates the pending scan and hands the work to the queue.
type Service struct {
	store    Store
	producer TaskPublisher
}

func NewService(store Store, producer TaskPublisher) *Service {
	return &Service{store: store, producer: producer}
}

// StartScan creates a pending scan for the album reference and
// enqueues it. The identity must have stored credentials. When the
// album is already known and a scan of it is running, the request is
// rejected here; an unknown album is checked again by the worker once
// resolution pins it down.
func (s *Service) StartScan(ctx context.Context, identity, rawRef string) (*models.Scan, error) {
	cred, err := s.store.GetCredential(ctx, identity)
	if err != nil {
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if cred == nil {
		return nil, photos.ErrIdentityNotFound
	}

	album, err := s.store.GetAlbumByShareURL(ctx, identity, rawRef)
	if err != nil {
		return nil, fmt.Errorf("look up album: %w", err)
	}
	if album != nil {
		running, err := s.store.HasRunningScan(ctx, album.ID)
		if err != nil {
			return nil, fmt.Errorf("check running scan: %w", err)
		}
		if running {
			return nil, storage.ErrScanAlreadyRunning
		}
	}

	sc := &models.Scan{
		Identity:    identity,
		RawAlbumRef: rawRef,
	}
	if err := s.store.CreateScan(ctx, sc); err != nil {
		return nil, fmt.Errorf("create scan: %w", err)
	}

	task := &models.ScanTask{
		ScanID:      sc.ID,
		Identity:    identity,
		RawAlbumRef: rawRef,
	}
	if err := s.producer.PublishScanTask(ctx, task); err != nil {
		// The pending scan would otherwise sit forever.
		_ = s.store.FailScan(ctx, sc.ID, "could not enqueue scan task")
		return nil, fmt.Errorf("enqueue scan: %w", err)
	}

	observability.ScansStarted.Inc()
	return sc, nil
}
