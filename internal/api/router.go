package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/sitewatch/internal/queue"
	"github.com/your-org/sitewatch/internal/storage"
	"github.com/your-org/sitewatch/internal/worker"
)

type RouterConfig struct {
	APIKey   string
	DB       *storage.PostgresStore
	MinIO    *storage.MinIOStore
	Producer *queue.Producer
	Manager  *worker.Manager
}

// NewRouter builds the worker's operational HTTP surface: health probes,
// metrics, worker status and event review. Frame delivery is NATS-only,
// never HTTP.
func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := NewSystemHandler(cfg.DB, cfg.MinIO, cfg.Producer)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(APIKeyMiddleware(cfg.APIKey))

	statusH := NewStatusHandler(cfg.Manager)
	v1.GET("/status", statusH.Workers)

	eventH := NewEventHandler(cfg.DB, cfg.MinIO)
	v1.GET("/cameras/:id/events", eventH.List)
	v1.GET("/events/:id", eventH.Get)
	v1.GET("/events/:id/thumbnail", eventH.Thumbnail)
	v1.POST("/events/:id/ack", eventH.Acknowledge)

	return r
}
