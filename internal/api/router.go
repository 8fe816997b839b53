package api

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/signage/internal/aggregate"
	"github.com/your-org/signage/internal/api/handlers"
	"github.com/your-org/signage/internal/api/ws"
	"github.com/your-org/signage/internal/auth"
	"github.com/your-org/signage/internal/broker"
	"github.com/your-org/signage/internal/config"
	"github.com/your-org/signage/internal/ingest"
	"github.com/your-org/signage/internal/player"
	"github.com/your-org/signage/internal/queue"
	"github.com/your-org/signage/internal/storage"
	"github.com/your-org/signage/internal/store"
)

type RouterConfig struct {
	Config    *config.Config
	Store     *store.Store
	Directory *player.Directory
	Pipeline  *ingest.Pipeline
	SSEBroker *broker.Broker
	Reader    aggregate.FramesReader
	Engine    *aggregate.Engine
	Socket    *ws.Server

	// Optional backends; nil disables the corresponding route behavior.
	Snapshots *storage.SnapshotStore
	Producer  *queue.Producer
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Store, cfg.Snapshots, cfg.Producer)
	r.GET("/health", systemH.Readyz)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Frame ingestion (auth + payload limit); /frames kept for older devices
	framesH := handlers.NewFramesHandler(cfg.Pipeline, cfg.Producer)
	ingestGroup := r.Group("/")
	ingestGroup.Use(auth.BearerMiddleware(cfg.Config.Server.BearerToken))
	ingestGroup.Use(PayloadLimitMiddleware(cfg.Config.Server.MaxPayloadMB))
	ingestGroup.POST("/v1/frames", framesH.Ingest)
	ingestGroup.POST("/frames", framesH.Ingest)

	// Player protocol
	playersH := handlers.NewPlayersHandler(cfg.Directory, cfg.SSEBroker, cfg.Config.Stream)
	r.POST("/player/state", playersH.State)
	r.GET("/player/stream", playersH.Stream)
	r.GET("/ws", cfg.Socket.HandleWS)

	// Dashboards
	dashH := handlers.NewDashboardsHandler(cfg.Reader, cfg.Engine)
	r.GET("/dashboards/frames", dashH.Frames)

	return r
}
