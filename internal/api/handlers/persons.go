package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/manankhh/facesort/internal/models"
	"github.com/manankhh/facesort/internal/storage"
	"github.com/manankhh/facesort/pkg/dto"
)

type PersonHandler struct {
	db    *storage.PostgresStore
	minio *storage.MinIOStore
}

func NewPersonHandler(db *storage.PostgresStore, minio *storage.MinIOStore) *PersonHandler {
	return &PersonHandler{db: db, minio: minio}
}

// List returns the persons found by one scan, largest cluster first.
func (h *PersonHandler) List(c *gin.Context) {
	scanID, err := uuid.Parse(c.Query("scan_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "scan_id query parameter is required"})
		return
	}

	persons, err := h.db.ListPersons(c.Request.Context(), scanID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.PersonListResponse{Persons: make([]dto.PersonResponse, 0, len(persons))}
	for i := range persons {
		resp.Persons = append(resp.Persons, personResponse(&persons[i]))
	}
	resp.Total = len(resp.Persons)
	c.JSON(http.StatusOK, resp)
}

func (h *PersonHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid person id"})
		return
	}

	p, err := h.db.GetPerson(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if p == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
		return
	}

	c.JSON(http.StatusOK, personResponse(p))
}

func (h *PersonHandler) SetLabel(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid person id"})
		return
	}

	var req dto.SetLabelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.SetPersonLabel(c.Request.Context(), id, req.Label); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "person not found"})
		return
	}

	p, err := h.db.GetPerson(c.Request.Context(), id)
	if err != nil || p == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "person updated but could not be reloaded"})
		return
	}
	c.JSON(http.StatusOK, personResponse(p))
}

// ListDetections returns every face assigned to the person.
func (h *PersonHandler) ListDetections(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid person id"})
		return
	}

	detections, err := h.db.ListDetectionsByPerson(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.DetectionListResponse{Detections: make([]dto.DetectionResponse, 0, len(detections))}
	for i := range detections {
		resp.Detections = append(resp.Detections, detectionResponse(&detections[i]))
	}
	resp.Total = len(resp.Detections)
	c.JSON(http.StatusOK, resp)
}

// Similar finds persons across scans with a close centroid, which is
// usually the same human photographed in different albums.
func (h *PersonHandler) Similar(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid person id"})
		return
	}

	threshold := 0.6
	if v := c.Query("threshold"); v != "" {
		if _, err := fmt.Sscanf(v, "%f", &threshold); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid threshold"})
			return
		}
	}

	matches, err := h.db.SimilarPersons(c.Request.Context(), id, threshold, 10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	results := make([]dto.SimilarPersonResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, dto.SimilarPersonResult{
			PersonID: m.PersonID,
			ScanID:   m.ScanID,
			Label:    m.Label,
			Score:    m.Score,
		})
	}
	c.JSON(http.StatusOK, gin.H{"matches": results})
}

// Snapshot serves the stored face crop for a detection.
func (h *PersonHandler) Snapshot(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid detection id"})
		return
	}

	det, err := h.db.GetDetection(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if det == nil || det.SnapshotKey == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
		return
	}

	data, err := h.minio.GetObject(c.Request.Context(), det.SnapshotKey)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot not found"})
		return
	}

	c.Data(http.StatusOK, "image/jpeg", data)
}

func personResponse(p *models.Person) dto.PersonResponse {
	return dto.PersonResponse{
		ID:              p.ID,
		ScanID:          p.ScanID,
		ClusterID:       p.ClusterID,
		Label:           p.Label,
		BestDetectionID: p.BestDetectionID,
		BestPhotoURL:    p.BestPhotoURL,
		FaceCount:       p.FaceCount,
		CreatedAt:       p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       p.UpdatedAt.Format(time.RFC3339),
	}
}

func detectionResponse(d *models.FaceDetection) dto.DetectionResponse {
	resp := dto.DetectionResponse{
		ID:          d.ID,
		ScanID:      d.ScanID,
		MediaItemID: d.MediaItemID,
		PhotoURL:    d.PhotoURL,
		Box:         dto.BoxDTO{X: d.Box.X, Y: d.Box.Y, W: d.Box.W, H: d.Box.H},
		Confidence:  string(d.Confidence),
		IsSelected:  d.IsSelected,
		CreatedAt:   d.CreatedAt.Format(time.RFC3339),
	}
	if d.SnapshotKey != "" {
		resp.SnapshotURL = fmt.Sprintf("/v1/detections/%s/snapshot", d.ID)
	}
	return resp
}
