package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/manankhh/facesort/internal/models"
	"github.com/manankhh/facesort/internal/photos"
	"github.com/manankhh/facesort/internal/scan"
	"github.com/manankhh/facesort/internal/storage"
	"github.com/manankhh/facesort/pkg/dto"
)

type ScanHandler struct {
	db    *storage.PostgresStore
	scans *scan.Service
}

func NewScanHandler(db *storage.PostgresStore, scans *scan.Service) *ScanHandler {
	return &ScanHandler{db: db, scans: scans}
}

func (h *ScanHandler) Start(c *gin.Context) {
	var req dto.StartScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !scan.ValidShareLink(req.AlbumURL) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "album_url is not a recognizable album link"})
		return
	}

	sc, err := h.scans.StartScan(c.Request.Context(), req.Identity, req.AlbumURL)
	if err != nil {
		switch {
		case errors.Is(err, photos.ErrIdentityNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "no credentials stored for identity"})
		case errors.Is(err, storage.ErrScanAlreadyRunning):
			c.JSON(http.StatusConflict, gin.H{"error": "a scan is already running for this album"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusAccepted, scanResponse(sc))
}

func (h *ScanHandler) List(c *gin.Context) {
	identity := c.Query("identity")
	if identity == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "identity query parameter is required"})
		return
	}

	scans, err := h.db.ListScans(c.Request.Context(), identity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.ScanListResponse{Scans: make([]dto.ScanResponse, 0, len(scans))}
	for i := range scans {
		resp.Scans = append(resp.Scans, scanResponse(&scans[i]))
	}
	resp.Total = len(resp.Scans)
	c.JSON(http.StatusOK, resp)
}

func (h *ScanHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scan id"})
		return
	}

	sc, err := h.db.GetScan(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if sc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "scan not found"})
		return
	}

	c.JSON(http.StatusOK, scanResponse(sc))
}

func scanResponse(sc *models.Scan) dto.ScanResponse {
	resp := dto.ScanResponse{
		ID:           sc.ID,
		AlbumID:      sc.AlbumID,
		Identity:     sc.Identity,
		AlbumURL:     sc.RawAlbumRef,
		Status:       string(sc.Status),
		TotalItems:   sc.TotalItems,
		ScannedItems: sc.ScannedItems,
		FacesFound:   sc.FacesFound,
		ErrorMessage: sc.ErrorMessage,
		CreatedAt:    sc.CreatedAt.Format(time.RFC3339),
	}
	if sc.StartedAt != nil {
		resp.StartedAt = sc.StartedAt.Format(time.RFC3339)
	}
	if sc.CompletedAt != nil {
		resp.CompletedAt = sc.CompletedAt.Format(time.RFC3339)
	}
	return resp
}
