package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/manankhh/facesort/internal/config"
	"github.com/manankhh/facesort/internal/models"
)

// ErrScanAlreadyRunning means another scan holds the per-album running
// slot; starting a second one is rejected, not queued.
var ErrScanAlreadyRunning = errors.New("a scan is already running for this album")

const uniqueViolation = "23505"

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Credentials ---

// GetCredential returns (nil, nil) when the identity has no credential.
func (s *PostgresStore) GetCredential(ctx context.Context, identity string) (*models.Credential, error) {
	c := &models.Credential{}
	err := s.pool.QueryRow(ctx,
		`SELECT identity, access_token, refresh_token, token_expiry, updated_at FROM credentials WHERE identity = $1`,
		identity,
	).Scan(&c.Identity, &c.AccessToken, &c.RefreshToken, &c.TokenExpiry, &c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return c, nil
}

// UpsertCredential stores the credential. A renewal that omits the
// refresh token must not clobber the one already stored.
func (s *PostgresStore) UpsertCredential(ctx context.Context, cred *models.Credential) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO credentials (identity, access_token, refresh_token, token_expiry, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (identity) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = COALESCE(NULLIF(EXCLUDED.refresh_token, ''), credentials.refresh_token),
			token_expiry = EXCLUDED.token_expiry,
			updated_at = now()`,
		cred.Identity, cred.AccessToken, cred.RefreshToken, cred.TokenExpiry)
	if err != nil {
		return fmt.Errorf("upsert credential: %w", err)
	}
	return nil
}

// --- Albums ---

// UpsertAlbum persists a resolved album reference, keyed by the
// (identity, raw share link) pair it was resolved from.
func (s *PostgresStore) UpsertAlbum(ctx context.Context, a *models.AlbumRef) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO albums (id, identity, provider_album_id, title, share_url, product_url, media_count, cover_photo_url)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (identity, share_url) DO UPDATE SET
			title = EXCLUDED.title,
			media_count = EXCLUDED.media_count,
			cover_photo_url = EXCLUDED.cover_photo_url
		 RETURNING id, created_at`,
		a.ID, a.Identity, a.ProviderID, a.Title, a.ShareURL, a.ProductURL, a.MediaCount, a.CoverPhotoURL,
	).Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return fmt.Errorf("upsert album: %w", err)
	}
	return nil
}

// GetAlbumByShareURL returns (nil, nil) on a cache miss.
func (s *PostgresStore) GetAlbumByShareURL(ctx context.Context, identity, shareURL string) (*models.AlbumRef, error) {
	a := &models.AlbumRef{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, identity, provider_album_id, title, share_url, product_url, media_count, cover_photo_url, created_at
		 FROM albums WHERE identity = $1 AND share_url = $2`,
		identity, shareURL,
	).Scan(&a.ID, &a.Identity, &a.ProviderID, &a.Title, &a.ShareURL, &a.ProductURL, &a.MediaCount, &a.CoverPhotoURL, &a.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get album by share url: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) GetAlbum(ctx context.Context, id uuid.UUID) (*models.AlbumRef, error) {
	a := &models.AlbumRef{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, identity, provider_album_id, title, share_url, product_url, media_count, cover_photo_url, created_at
		 FROM albums WHERE id = $1`, id,
	).Scan(&a.ID, &a.Identity, &a.ProviderID, &a.Title, &a.ShareURL, &a.ProductURL, &a.MediaCount, &a.CoverPhotoURL, &a.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get album: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListAlbums(ctx context.Context, identity string) ([]models.AlbumRef, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, identity, provider_album_id, title, share_url, product_url, media_count, cover_photo_url, created_at
		 FROM albums WHERE identity = $1 ORDER BY created_at DESC`, identity)
	if err != nil {
		return nil, fmt.Errorf("list albums: %w", err)
	}
	defer rows.Close()

	var albums []models.AlbumRef
	for rows.Next() {
		var a models.AlbumRef
		if err := rows.Scan(&a.ID, &a.Identity, &a.ProviderID, &a.Title, &a.ShareURL, &a.ProductURL, &a.MediaCount, &a.CoverPhotoURL, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan album: %w", err)
		}
		albums = append(albums, a)
	}
	return albums, nil
}

// --- Scans ---

func (s *PostgresStore) CreateScan(ctx context.Context, sc *models.Scan) error {
	sc.ID = uuid.New()
	sc.Status = models.ScanStatusPending
	err := s.pool.QueryRow(ctx,
		`INSERT INTO scans (id, identity, raw_album_ref, status) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		sc.ID, sc.Identity, sc.RawAlbumRef, sc.Status,
	).Scan(&sc.CreatedAt)
	if err != nil {
		return fmt.Errorf("create scan: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetScan(ctx context.Context, id uuid.UUID) (*models.Scan, error) {
	sc := &models.Scan{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, album_id, identity, raw_album_ref, status, total_items, scanned_items, faces_found, error_message, started_at, completed_at, created_at
		 FROM scans WHERE id = $1`, id,
	).Scan(&sc.ID, &sc.AlbumID, &sc.Identity, &sc.RawAlbumRef, &sc.Status, &sc.TotalItems, &sc.ScannedItems,
		&sc.FacesFound, &sc.ErrorMessage, &sc.StartedAt, &sc.CompletedAt, &sc.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get scan: %w", err)
	}
	return sc, nil
}

func (s *PostgresStore) ListScans(ctx context.Context, identity string) ([]models.Scan, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, album_id, identity, raw_album_ref, status, total_items, scanned_items, faces_found, error_message, started_at, completed_at, created_at
		 FROM scans WHERE identity = $1 ORDER BY created_at DESC`, identity)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()

	var scans []models.Scan
	for rows.Next() {
		var sc models.Scan
		if err := rows.Scan(&sc.ID, &sc.AlbumID, &sc.Identity, &sc.RawAlbumRef, &sc.Status, &sc.TotalItems,
			&sc.ScannedItems, &sc.FacesFound, &sc.ErrorMessage, &sc.StartedAt, &sc.CompletedAt, &sc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan scan row: %w", err)
		}
		scans = append(scans, sc)
	}
	return scans, nil
}

// HasRunningScan reports whether the album currently holds the running slot.
func (s *PostgresStore) HasRunningScan(ctx context.Context, albumID uuid.UUID) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM scans WHERE album_id = $1 AND status = 'running')`, albumID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check running scan: %w", err)
	}
	return exists, nil
}

// MarkScanRunning transitions a pending scan to running and binds it to
// its resolved album. The partial unique index on running scans per
// album makes the transition fail with ErrScanAlreadyRunning when the
// slot is taken.
func (s *PostgresStore) MarkScanRunning(ctx context.Context, scanID, albumID uuid.UUID, totalItems int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scans SET status = 'running', album_id = $2, total_items = $3, started_at = now()
		 WHERE id = $1 AND status = 'pending'`,
		scanID, albumID, totalItems)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrScanAlreadyRunning
		}
		return fmt.Errorf("mark scan running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("scan %s is not pending", scanID)
	}
	return nil
}

// IncrementScanProgress counts one processed item plus the faces it
// yielded. Counters only ever grow, and the total is raised when the
// provider under-declared the album size. Returns the updated snapshot.
func (s *PostgresStore) IncrementScanProgress(ctx context.Context, scanID uuid.UUID, facesFound int, itemError string) (*models.Scan, error) {
	sc := &models.Scan{ID: scanID}
	err := s.pool.QueryRow(ctx,
		`UPDATE scans SET
			scanned_items = scanned_items + 1,
			faces_found = faces_found + $2,
			total_items = GREATEST(total_items, scanned_items + 1),
			error_message = CASE WHEN $3 <> '' THEN $3 ELSE error_message END
		 WHERE id = $1
		 RETURNING status, total_items, scanned_items, faces_found`,
		scanID, facesFound, itemError,
	).Scan(&sc.Status, &sc.TotalItems, &sc.ScannedItems, &sc.FacesFound)
	if err != nil {
		return nil, fmt.Errorf("increment scan progress: %w", err)
	}
	return sc, nil
}

func (s *PostgresStore) CompleteScan(ctx context.Context, scanID uuid.UUID, totalItems int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scans SET status = 'complete', total_items = GREATEST(scanned_items, $2), completed_at = now()
		 WHERE id = $1 AND status = 'running'`,
		scanID, totalItems)
	if err != nil {
		return fmt.Errorf("complete scan: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("scan %s is not running", scanID)
	}
	return nil
}

// FailScan moves a scan to its terminal error state from either
// non-terminal state.
func (s *PostgresStore) FailScan(ctx context.Context, scanID uuid.UUID, message string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE scans SET status = 'error', error_message = $2, completed_at = now()
		 WHERE id = $1 AND status IN ('pending', 'running')`,
		scanID, message)
	if err != nil {
		return fmt.Errorf("fail scan: %w", err)
	}
	return nil
}

// FailStaleScans marks running scans older than maxAge as errored. A
// scan left running by a crashed worker has no heartbeat, so age is the
// staleness signal.
func (s *PostgresStore) FailStaleScans(ctx context.Context, maxAge time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scans SET status = 'error', error_message = 'scan abandoned: worker did not finish', completed_at = now()
		 WHERE status = 'running' AND started_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(maxAge.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("fail stale scans: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// --- Persons ---

func (s *PostgresStore) CreatePerson(ctx context.Context, p *models.Person) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	vec := pgvector.NewVector(p.Centroid)
	err := s.pool.QueryRow(ctx,
		`INSERT INTO persons (id, scan_id, cluster_id, label, face_count, centroid)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at, updated_at`,
		p.ID, p.ScanID, p.ClusterID, p.Label, p.FaceCount, vec,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create person: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPerson(ctx context.Context, id uuid.UUID) (*models.Person, error) {
	p := &models.Person{}
	var vec pgvector.Vector
	err := s.pool.QueryRow(ctx,
		`SELECT id, scan_id, cluster_id, label, best_detection_id, best_photo_url, face_count, centroid, created_at, updated_at
		 FROM persons WHERE id = $1`, id,
	).Scan(&p.ID, &p.ScanID, &p.ClusterID, &p.Label, &p.BestDetectionID, &p.BestPhotoURL, &p.FaceCount, &vec, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get person: %w", err)
	}
	p.Centroid = vec.Slice()
	return p, nil
}

func (s *PostgresStore) ListPersons(ctx context.Context, scanID uuid.UUID) ([]models.Person, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, scan_id, cluster_id, label, best_detection_id, best_photo_url, face_count, created_at, updated_at
		 FROM persons WHERE scan_id = $1 ORDER BY face_count DESC, created_at`, scanID)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	defer rows.Close()

	var persons []models.Person
	for rows.Next() {
		var p models.Person
		if err := rows.Scan(&p.ID, &p.ScanID, &p.ClusterID, &p.Label, &p.BestDetectionID, &p.BestPhotoURL,
			&p.FaceCount, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		persons = append(persons, p)
	}
	return persons, nil
}

func (s *PostgresStore) UpdatePersonCentroid(ctx context.Context, id uuid.UUID, centroid []float32, faceCount int) error {
	vec := pgvector.NewVector(centroid)
	_, err := s.pool.Exec(ctx,
		`UPDATE persons SET centroid = $2, face_count = $3, updated_at = now() WHERE id = $1`,
		id, vec, faceCount)
	if err != nil {
		return fmt.Errorf("update person centroid: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetPersonLabel(ctx context.Context, id uuid.UUID, label string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE persons SET label = $2, updated_at = now() WHERE id = $1`, id, label)
	if err != nil {
		return fmt.Errorf("set person label: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("person not found")
	}
	return nil
}

// SelectBestDetection atomically moves the person's representative-photo
// selection to the given detection, clearing the previous flag.
func (s *PostgresStore) SelectBestDetection(ctx context.Context, personID, detectionID uuid.UUID, photoURL string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin select best: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE face_detections SET is_selected = false WHERE person_id = $1 AND is_selected = true`, personID); err != nil {
		return fmt.Errorf("clear previous selection: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE face_detections SET is_selected = true WHERE id = $1`, detectionID); err != nil {
		return fmt.Errorf("set selection: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE persons SET best_detection_id = $2, best_photo_url = $3, updated_at = now() WHERE id = $1`,
		personID, detectionID, photoURL); err != nil {
		return fmt.Errorf("update person best photo: %w", err)
	}

	return tx.Commit(ctx)
}

// SimilarPersons finds persons across scans whose centroid is close to
// the given person's, using cosine distance on the stored vectors.
func (s *PostgresStore) SimilarPersons(ctx context.Context, personID uuid.UUID, threshold float64, limit int) ([]PersonMatch, error) {
	if limit <= 0 {
		limit = 5
	}
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.scan_id, p.label, 1 - (p.centroid <=> ref.centroid) AS score
		 FROM persons p, persons ref
		 WHERE ref.id = $1 AND p.id <> $1
		   AND 1 - (p.centroid <=> ref.centroid) >= $2
		 ORDER BY p.centroid <=> ref.centroid
		 LIMIT $3`,
		personID, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("similar persons: %w", err)
	}
	defer rows.Close()

	var matches []PersonMatch
	for rows.Next() {
		var m PersonMatch
		if err := rows.Scan(&m.PersonID, &m.ScanID, &m.Label, &m.Score); err != nil {
			return nil, fmt.Errorf("scan person match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

type PersonMatch struct {
	PersonID uuid.UUID `json:"person_id"`
	ScanID   uuid.UUID `json:"scan_id"`
	Label    string    `json:"label"`
	Score    float32   `json:"score"`
}

// --- Face detections ---

func (s *PostgresStore) CreateDetection(ctx context.Context, d *models.FaceDetection, embedding []float32) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	var vec *pgvector.Vector
	if len(embedding) > 0 {
		v := pgvector.NewVector(embedding)
		vec = &v
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO face_detections (id, scan_id, person_id, media_item_id, photo_url, box_x, box_y, box_w, box_h, confidence, is_selected, snapshot_key, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13) RETURNING created_at`,
		d.ID, d.ScanID, d.PersonID, d.MediaItemID, d.PhotoURL,
		d.Box.X, d.Box.Y, d.Box.W, d.Box.H, d.Confidence, d.IsSelected, d.SnapshotKey, vec,
	).Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("create detection: %w", err)
	}
	return nil
}

func (s *PostgresStore) AssignDetectionPerson(ctx context.Context, detectionID, personID uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE face_detections SET person_id = $2 WHERE id = $1`, detectionID, personID)
	if err != nil {
		return fmt.Errorf("assign detection person: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetDetection(ctx context.Context, id uuid.UUID) (*models.FaceDetection, error) {
	d := &models.FaceDetection{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, scan_id, person_id, media_item_id, photo_url, box_x, box_y, box_w, box_h, confidence, is_selected, snapshot_key, created_at
		 FROM face_detections WHERE id = $1`, id,
	).Scan(&d.ID, &d.ScanID, &d.PersonID, &d.MediaItemID, &d.PhotoURL,
		&d.Box.X, &d.Box.Y, &d.Box.W, &d.Box.H, &d.Confidence, &d.IsSelected, &d.SnapshotKey, &d.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get detection: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) ListDetectionsByPerson(ctx context.Context, personID uuid.UUID) ([]models.FaceDetection, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, scan_id, person_id, media_item_id, photo_url, box_x, box_y, box_w, box_h, confidence, is_selected, snapshot_key, created_at
		 FROM face_detections WHERE person_id = $1 ORDER BY created_at`, personID)
	if err != nil {
		return nil, fmt.Errorf("list detections: %w", err)
	}
	defer rows.Close()

	var detections []models.FaceDetection
	for rows.Next() {
		var d models.FaceDetection
		if err := rows.Scan(&d.ID, &d.ScanID, &d.PersonID, &d.MediaItemID, &d.PhotoURL,
			&d.Box.X, &d.Box.Y, &d.Box.W, &d.Box.H, &d.Confidence, &d.IsSelected, &d.SnapshotKey, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		detections = append(detections, d)
	}
	return detections, nil
}
