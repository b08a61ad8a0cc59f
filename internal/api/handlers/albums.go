package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/manankhh/facesort/internal/storage"
	"github.com/manankhh/facesort/pkg/dto"
)

type AlbumHandler struct {
	db *storage.PostgresStore
}

func NewAlbumHandler(db *storage.PostgresStore) *AlbumHandler {
	return &AlbumHandler{db: db}
}

// List returns the albums this identity has scanned before.
func (h *AlbumHandler) List(c *gin.Context) {
	identity := c.Query("identity")
	if identity == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "identity query parameter is required"})
		return
	}

	albums, err := h.db.ListAlbums(c.Request.Context(), identity)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.AlbumListResponse{Albums: make([]dto.AlbumResponse, 0, len(albums))}
	for _, a := range albums {
		resp.Albums = append(resp.Albums, dto.AlbumResponse{
			ID:            a.ID,
			Identity:      a.Identity,
			Title:         a.Title,
			ShareURL:      a.ShareURL,
			MediaCount:    a.MediaCount,
			CoverPhotoURL: a.CoverPhotoURL,
			CreatedAt:     a.CreatedAt.Format(time.RFC3339),
		})
	}
	resp.Total = len(resp.Albums)
	c.JSON(http.StatusOK, resp)
}
