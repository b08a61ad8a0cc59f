package scan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/manankhh/facesort/internal/detect"
	"github.com/manankhh/facesort/internal/models"
	"github.com/manankhh/facesort/internal/storage"
)

// memStore is an in-memory Store for orchestrator and clusterer tests.
type memStore struct {
	mu sync.Mutex

	creds      map[string]*models.Credential
	albums     map[string]*models.AlbumRef // identity|shareURL
	scans      map[uuid.UUID]*models.Scan
	persons    map[uuid.UUID]*models.Person
	detections map[uuid.UUID]*models.FaceDetection

	markRunningCalls int
}

func newMemStore() *memStore {
	return &memStore{
		creds:      make(map[string]*models.Credential),
		albums:     make(map[string]*models.AlbumRef),
		scans:      make(map[uuid.UUID]*models.Scan),
		persons:    make(map[uuid.UUID]*models.Person),
		detections: make(map[uuid.UUID]*models.FaceDetection),
	}
}

func albumKey(identity, shareURL string) string { return identity + "|" + shareURL }

func (m *memStore) GetCredential(_ context.Context, identity string) (*models.Credential, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creds[identity], nil
}

func (m *memStore) GetAlbumByShareURL(_ context.Context, identity, shareURL string) (*models.AlbumRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.albums[albumKey(identity, shareURL)], nil
}

func (m *memStore) UpsertAlbum(_ context.Context, a *models.AlbumRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.albums[albumKey(a.Identity, a.ShareURL)] = a
	return nil
}

func (m *memStore) CreateScan(_ context.Context, sc *models.Scan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc.ID = uuid.New()
	sc.Status = models.ScanStatusPending
	sc.CreatedAt = time.Now()
	cp := *sc
	m.scans[sc.ID] = &cp
	return nil
}

func (m *memStore) GetScan(_ context.Context, id uuid.UUID) (*models.Scan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.scans[id]
	if !ok {
		return nil, nil
	}
	cp := *sc
	return &cp, nil
}

func (m *memStore) HasRunningScan(_ context.Context, albumID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, sc := range m.scans {
		if sc.AlbumID != nil && *sc.AlbumID == albumID && sc.Status == models.ScanStatusRunning {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) MarkScanRunning(_ context.Context, scanID, albumID uuid.UUID, totalItems int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markRunningCalls++
	for _, sc := range m.scans {
		if sc.AlbumID != nil && *sc.AlbumID == albumID && sc.Status == models.ScanStatusRunning {
			return storage.ErrScanAlreadyRunning
		}
	}
	sc, ok := m.scans[scanID]
	if !ok || sc.Status != models.ScanStatusPending {
		return fmt.Errorf("scan %s is not pending", scanID)
	}
	now := time.Now()
	sc.Status = models.ScanStatusRunning
	sc.AlbumID = &albumID
	sc.TotalItems = totalItems
	sc.StartedAt = &now
	return nil
}

func (m *memStore) IncrementScanProgress(_ context.Context, scanID uuid.UUID, facesFound int, itemError string) (*models.Scan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.scans[scanID]
	if !ok {
		return nil, fmt.Errorf("scan %s not found", scanID)
	}
	sc.ScannedItems++
	sc.FacesFound += facesFound
	if sc.ScannedItems > sc.TotalItems {
		sc.TotalItems = sc.ScannedItems
	}
	if itemError != "" {
		sc.ErrorMessage = itemError
	}
	cp := *sc
	return &cp, nil
}

func (m *memStore) CompleteScan(_ context.Context, scanID uuid.UUID, totalItems int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.scans[scanID]
	if !ok || sc.Status != models.ScanStatusRunning {
		return fmt.Errorf("scan %s is not running", scanID)
	}
	now := time.Now()
	sc.Status = models.ScanStatusComplete
	if totalItems > sc.TotalItems {
		sc.TotalItems = totalItems
	}
	sc.CompletedAt = &now
	return nil
}

func (m *memStore) FailScan(_ context.Context, scanID uuid.UUID, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.scans[scanID]
	if !ok || sc.Terminal() {
		return nil
	}
	now := time.Now()
	sc.Status = models.ScanStatusError
	sc.ErrorMessage = message
	sc.CompletedAt = &now
	return nil
}

func (m *memStore) FailStaleScans(_ context.Context, maxAge time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, sc := range m.scans {
		if sc.Status == models.ScanStatusRunning && sc.StartedAt != nil && time.Since(*sc.StartedAt) > maxAge {
			sc.Status = models.ScanStatusError
			sc.ErrorMessage = "scan abandoned: worker did not finish"
			n++
		}
	}
	return n, nil
}

func (m *memStore) CreateDetection(_ context.Context, d *models.FaceDetection, _ []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	cp := *d
	m.detections[d.ID] = &cp
	return nil
}

func (m *memStore) CreatePerson(_ context.Context, p *models.Person) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	cp := *p
	cp.Centroid = append([]float32(nil), p.Centroid...)
	m.persons[p.ID] = &cp
	return nil
}

func (m *memStore) UpdatePersonCentroid(_ context.Context, id uuid.UUID, centroid []float32, faceCount int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.persons[id]
	if !ok {
		return fmt.Errorf("person %s not found", id)
	}
	p.Centroid = append([]float32(nil), centroid...)
	p.FaceCount = faceCount
	return nil
}

func (m *memStore) AssignDetectionPerson(_ context.Context, detectionID, personID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.detections[detectionID]
	if !ok {
		return fmt.Errorf("detection %s not found", detectionID)
	}
	d.PersonID = &personID
	return nil
}

func (m *memStore) SelectBestDetection(_ context.Context, personID, detectionID uuid.UUID, photoURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.persons[personID]
	if !ok {
		return fmt.Errorf("person %s not found", personID)
	}
	for _, d := range m.detections {
		if d.PersonID != nil && *d.PersonID == personID {
			d.IsSelected = false
		}
	}
	if d, ok := m.detections[detectionID]; ok {
		d.IsSelected = true
	}
	p.BestDetectionID = &detectionID
	p.BestPhotoURL = photoURL
	return nil
}

func (m *memStore) personList() []*models.Person {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Person
	for _, p := range m.persons {
		out = append(out, p)
	}
	return out
}

func (m *memStore) selectedDetections(personID uuid.UUID) []*models.FaceDetection {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.FaceDetection
	for _, d := range m.detections {
		if d.PersonID != nil && *d.PersonID == personID && d.IsSelected {
			out = append(out, d)
		}
	}
	return out
}

// sliceIterator replays a fixed item list, optionally ending in an error.
type sliceIterator struct {
	items   []*models.MediaItem
	pos     int
	current *models.MediaItem
	err     error
}

func (it *sliceIterator) Next(ctx context.Context) bool {
	if ctx.Err() != nil || it.pos >= len(it.items) {
		it.current = nil
		return false
	}
	it.current = it.items[it.pos]
	it.pos++
	return true
}

func (it *sliceIterator) Item() *models.MediaItem { return it.current }
func (it *sliceIterator) Err() error              { return it.err }

// fakeLibrary is a scripted Library.
type fakeLibrary struct {
	mu sync.Mutex

	album      *models.AlbumRef
	resolveErr error
	items      []*models.MediaItem
	iterErr    error

	downloadFn   func(baseURL string) ([]byte, error)
	refreshCalls int
}

func (f *fakeLibrary) ResolveAlbum(_ context.Context, identity, rawRef string) (*models.AlbumRef, error) {
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	cp := *f.album
	return &cp, nil
}

func (f *fakeLibrary) StreamAlbumMedia(identity, albumID string) MediaIterator {
	items := make([]*models.MediaItem, len(f.items))
	for i, it := range f.items {
		cp := *it
		items[i] = &cp
	}
	return &sliceIterator{items: items, err: f.iterErr}
}

func (f *fakeLibrary) RefreshMediaURL(_ context.Context, identity, mediaItemID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	return "https://lh3.test/refreshed/" + mediaItemID, nil
}

func (f *fakeLibrary) DownloadMedia(_ context.Context, baseURL string) ([]byte, error) {
	if f.downloadFn != nil {
		return f.downloadFn(baseURL)
	}
	return []byte("image-bytes"), nil
}

// fakeDetector returns scripted faces per image.
type fakeDetector struct {
	detectFn func(image []byte) ([]detect.Face, error)
}

func (f *fakeDetector) Detect(_ context.Context, image []byte) ([]detect.Face, error) {
	if f.detectFn != nil {
		return f.detectFn(image)
	}
	return nil, nil
}

// memSnapshots collects stored crops.
type memSnapshots struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{objects: make(map[string][]byte)}
}

func (m *memSnapshots) PutObject(_ context.Context, key string, data []byte, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

// memEvents collects published scan events and tasks.
type memEvents struct {
	mu     sync.Mutex
	events []models.ScanEvent
	tasks  []models.ScanTask
}

func (m *memEvents) PublishScanEvent(_ context.Context, event *models.ScanEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, *event)
	return nil
}

func (m *memEvents) PublishScanTask(_ context.Context, task *models.ScanTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, *task)
	return nil
}

func (m *memEvents) byType(eventType string) []models.ScanEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ScanEvent
	for _, e := range m.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}
