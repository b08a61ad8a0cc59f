package scan

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manankhh/facesort/internal/config"
	"github.com/manankhh/facesort/internal/detect"
	"github.com/manankhh/facesort/internal/models"
)

func clusterCfg() config.ClusteringConfig {
	return config.ClusteringConfig{Metric: "cosine", Threshold: 0.6}
}

func newDetection(t *testing.T, store *memStore, scanID uuid.UUID, box models.BoundingBox, tier models.ConfidenceTier) *models.FaceDetection {
	t.Helper()
	det := &models.FaceDetection{
		ID:          uuid.New(),
		ScanID:      scanID,
		MediaItemID: "m-" + uuid.NewString()[:8],
		PhotoURL:    "https://lh3.test/" + uuid.NewString()[:8],
		Box:         box,
		Confidence:  tier,
	}
	require.NoError(t, store.CreateDetection(context.Background(), det, nil))
	return det
}

func face(tier models.ConfidenceTier, embedding []float32) detect.Face {
	return detect.Face{Tier: tier, Embedding: embedding}
}

func TestAssignSeparatesDistantFaces(t *testing.T) {
	store := newMemStore()
	c := NewClusterer(store, clusterCfg())
	scanID := uuid.New()
	box := models.BoundingBox{W: 0.2, H: 0.2}

	d1 := newDetection(t, store, scanID, box, models.ConfidenceHigh)
	p1, created, err := c.Assign(context.Background(), d1, face(models.ConfidenceHigh, []float32{1, 0, 0, 0}))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "c001", p1.ClusterID)

	// Orthogonal embedding: similarity 0, well below the threshold.
	d2 := newDetection(t, store, scanID, box, models.ConfidenceHigh)
	p2, created, err := c.Assign(context.Background(), d2, face(models.ConfidenceHigh, []float32{0, 1, 0, 0}))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "c002", p2.ClusterID)
	assert.NotEqual(t, p1.ID, p2.ID)

	assert.Len(t, store.personList(), 2)
}

func TestAssignJoinsNearClusterAndAveragesCentroid(t *testing.T) {
	store := newMemStore()
	c := NewClusterer(store, clusterCfg())
	scanID := uuid.New()
	box := models.BoundingBox{W: 0.2, H: 0.2}

	d1 := newDetection(t, store, scanID, box, models.ConfidenceHigh)
	p1, _, err := c.Assign(context.Background(), d1, face(models.ConfidenceHigh, []float32{1, 0, 0, 0}))
	require.NoError(t, err)

	// Similarity 0.8 against the centroid: joins the cluster.
	d2 := newDetection(t, store, scanID, box, models.ConfidenceHigh)
	p2, created, err := c.Assign(context.Background(), d2, face(models.ConfidenceHigh, []float32{0.8, 0.6, 0, 0}))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, p1.ID, p2.ID)
	assert.Equal(t, 2, p2.FaceCount)

	assert.InDelta(t, 0.9, p2.Centroid[0], 1e-6)
	assert.InDelta(t, 0.3, p2.Centroid[1], 1e-6)

	// Store observed the same update.
	stored := store.personList()[0]
	assert.Equal(t, 2, stored.FaceCount)
	assert.InDelta(t, 0.9, stored.Centroid[0], 1e-6)
}

func TestBestPhotoSelection(t *testing.T) {
	store := newMemStore()
	c := NewClusterer(store, clusterCfg())
	scanID := uuid.New()
	emb := []float32{1, 0, 0, 0}
	ctx := context.Background()

	// First face always takes the slot.
	d1 := newDetection(t, store, scanID, models.BoundingBox{W: 0.2, H: 0.2}, models.ConfidenceMedium)
	p, _, err := c.Assign(ctx, d1, face(models.ConfidenceMedium, emb))
	require.NoError(t, err)
	assert.Equal(t, d1.ID, *store.persons[p.ID].BestDetectionID)

	// A higher tier replaces it even with a smaller face.
	d2 := newDetection(t, store, scanID, models.BoundingBox{W: 0.1, H: 0.1}, models.ConfidenceHigh)
	_, _, err = c.Assign(ctx, d2, face(models.ConfidenceHigh, emb))
	require.NoError(t, err)
	assert.Equal(t, d2.ID, *store.persons[p.ID].BestDetectionID)

	// Same tier, larger area replaces.
	d3 := newDetection(t, store, scanID, models.BoundingBox{W: 0.3, H: 0.3}, models.ConfidenceHigh)
	_, _, err = c.Assign(ctx, d3, face(models.ConfidenceHigh, emb))
	require.NoError(t, err)
	assert.Equal(t, d3.ID, *store.persons[p.ID].BestDetectionID)
	assert.Equal(t, d3.PhotoURL, store.persons[p.ID].BestPhotoURL)

	// A lower tier never replaces, regardless of size.
	d4 := newDetection(t, store, scanID, models.BoundingBox{W: 0.9, H: 0.9}, models.ConfidenceMedium)
	_, _, err = c.Assign(ctx, d4, face(models.ConfidenceMedium, emb))
	require.NoError(t, err)
	assert.Equal(t, d3.ID, *store.persons[p.ID].BestDetectionID)

	// Exactly one detection carries the selection flag.
	selected := store.selectedDetections(p.ID)
	require.Len(t, selected, 1)
	assert.Equal(t, d3.ID, selected[0].ID)
}

func TestEuclideanMetric(t *testing.T) {
	store := newMemStore()
	c := NewClusterer(store, config.ClusteringConfig{Metric: "euclidean", Threshold: 0.5})
	scanID := uuid.New()
	box := models.BoundingBox{W: 0.2, H: 0.2}
	ctx := context.Background()

	d1 := newDetection(t, store, scanID, box, models.ConfidenceHigh)
	p1, _, err := c.Assign(ctx, d1, face(models.ConfidenceHigh, []float32{1, 0, 0, 0}))
	require.NoError(t, err)

	// Distance 0.2: within the limit.
	d2 := newDetection(t, store, scanID, box, models.ConfidenceHigh)
	p2, created, err := c.Assign(ctx, d2, face(models.ConfidenceHigh, []float32{0.8, 0, 0, 0}))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, p1.ID, p2.ID)

	// Distance sqrt(2): too far.
	d3 := newDetection(t, store, scanID, box, models.ConfidenceHigh)
	_, created, err = c.Assign(ctx, d3, face(models.ConfidenceHigh, []float32{0, 1, 0, 0}))
	require.NoError(t, err)
	assert.True(t, created)
}
