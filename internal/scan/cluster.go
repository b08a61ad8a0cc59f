package scan

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/google/uuid"

	"github.com/manankhh/facesort/internal/config"
	"github.com/manankhh/facesort/internal/detect"
	"github.com/manankhh/facesort/internal/models"
	"github.com/manankhh/facesort/internal/observability"
)

// ClusterStore is the subset of the persistence layer the clusterer
// writes through.
type ClusterStore interface {
	CreatePerson(ctx context.Context, p *models.Person) error
	UpdatePersonCentroid(ctx context.Context, id uuid.UUID, centroid []float32, faceCount int) error
	AssignDetectionPerson(ctx context.Context, detectionID, personID uuid.UUID) error
	SelectBestDetection(ctx context.Context, personID, detectionID uuid.UUID, photoURL string) error
}

// cluster tracks one person's in-memory state for the duration of a
// scan: the running centroid plus whatever currently holds the
// representative-photo slot.
type cluster struct {
	person   *models.Person
	bestTier models.ConfidenceTier
	bestArea float64
}

// Clusterer assigns face embeddings to persons within a single scan.
// Assignment is greedy online: each face joins the nearest existing
// cluster within the threshold or founds a new one. All mutation is
// serialized under one mutex so concurrent item workers cannot race
// centroid updates.
type Clusterer struct {
	mu        sync.Mutex
	store     ClusterStore
	metric    string
	threshold float64
	clusters  []*cluster
}

func NewClusterer(store ClusterStore, cfg config.ClusteringConfig) *Clusterer {
	return &Clusterer{
		store:     store,
		metric:    cfg.Metric,
		threshold: cfg.Threshold,
	}
}

// Assign places the detection into a person cluster, creating one when
// no centroid is close enough. Returns the person and whether it was
// newly created. The detection must already be persisted.
func (c *Clusterer) Assign(ctx context.Context, det *models.FaceDetection, face detect.Face) (*models.Person, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	match := c.nearest(face.Embedding)

	if match == nil {
		p := &models.Person{
			ID:        uuid.New(),
			ScanID:    det.ScanID,
			ClusterID: fmt.Sprintf("c%03d", len(c.clusters)+1),
			FaceCount: 1,
			Centroid:  append([]float32(nil), face.Embedding...),
		}
		if err := c.store.CreatePerson(ctx, p); err != nil {
			return nil, false, err
		}
		if err := c.store.AssignDetectionPerson(ctx, det.ID, p.ID); err != nil {
			return nil, false, err
		}
		if err := c.store.SelectBestDetection(ctx, p.ID, det.ID, det.PhotoURL); err != nil {
			return nil, false, err
		}
		c.clusters = append(c.clusters, &cluster{
			person:   p,
			bestTier: face.Tier,
			bestArea: det.Box.Area(),
		})
		observability.PersonsCreated.Inc()
		return p, true, nil
	}

	p := match.person
	p.Centroid = weightedMean(p.Centroid, face.Embedding, p.FaceCount)
	p.FaceCount++

	if err := c.store.UpdatePersonCentroid(ctx, p.ID, p.Centroid, p.FaceCount); err != nil {
		return nil, false, err
	}
	if err := c.store.AssignDetectionPerson(ctx, det.ID, p.ID); err != nil {
		return nil, false, err
	}

	if betterRepresentative(face.Tier, det.Box.Area(), match.bestTier, match.bestArea) {
		if err := c.store.SelectBestDetection(ctx, p.ID, det.ID, det.PhotoURL); err != nil {
			return nil, false, err
		}
		match.bestTier = face.Tier
		match.bestArea = det.Box.Area()
	}

	return p, false, nil
}

// nearest returns the closest cluster within the threshold, or nil.
func (c *Clusterer) nearest(embedding []float32) *cluster {
	var best *cluster
	var bestScore float64

	for _, cl := range c.clusters {
		switch c.metric {
		case "euclidean":
			d := euclideanDistance(cl.person.Centroid, embedding)
			if d <= c.threshold && (best == nil || d < bestScore) {
				best = cl
				bestScore = d
			}
		default: // cosine
			s := cosineSimilarity(cl.person.Centroid, embedding)
			if s >= c.threshold && (best == nil || s > bestScore) {
				best = cl
				bestScore = s
			}
		}
	}
	return best
}

// betterRepresentative decides whether a new face should take over the
// representative-photo slot: a strictly higher confidence tier wins,
// and within the same tier a larger face wins.
func betterRepresentative(tier models.ConfidenceTier, area float64, curTier models.ConfidenceTier, curArea float64) bool {
	if tier.Better(curTier) {
		return true
	}
	if tier == curTier && area > curArea {
		return true
	}
	return false
}

// weightedMean folds one new embedding into a centroid that already
// averages count embeddings.
func weightedMean(centroid, embedding []float32, count int) []float32 {
	n := float32(count)
	out := make([]float32, len(centroid))
	for i := range centroid {
		out[i] = (centroid[i]*n + embedding[i]) / (n + 1)
	}
	return out
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

func euclideanDistance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
