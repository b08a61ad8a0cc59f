package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/manankhh/facesort/internal/api/handlers"
	"github.com/manankhh/facesort/internal/api/ws"
	"github.com/manankhh/facesort/internal/auth"
	"github.com/manankhh/facesort/internal/queue"
	"github.com/manankhh/facesort/internal/scan"
	"github.com/manankhh/facesort/internal/storage"
)

type RouterConfig struct {
	APIKey   string
	DB       *storage.PostgresStore
	MinIO    *storage.MinIOStore
	Producer *queue.Producer
	Hub      *ws.Hub
	Scans    *scan.Service
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket
	v1.GET("/ws", cfg.Hub.HandleWS)

	// Scans
	scanH := handlers.NewScanHandler(cfg.DB, cfg.Scans)
	v1.POST("/scans", scanH.Start)
	v1.GET("/scans", scanH.List)
	v1.GET("/scans/:id", scanH.Get)

	// Albums
	albumH := handlers.NewAlbumHandler(cfg.DB)
	v1.GET("/albums", albumH.List)

	// Persons & detections
	personH := handlers.NewPersonHandler(cfg.DB, cfg.MinIO)
	v1.GET("/persons", personH.List)
	v1.GET("/persons/:id", personH.Get)
	v1.PATCH("/persons/:id", personH.SetLabel)
	v1.GET("/persons/:id/detections", personH.ListDetections)
	v1.GET("/persons/:id/similar", personH.Similar)
	v1.GET("/detections/:id/snapshot", personH.Snapshot)

	return r
}
