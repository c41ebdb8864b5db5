package http

import (
	"net/http"

	"cua/internal/bridge"
	"cua/internal/logging"
	"cua/internal/observability"
	"cua/internal/server/app"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterDeps holds all service dependencies needed to construct the HTTP router.
type RouterDeps struct {
	Tasks   *app.TaskService
	Channel *bridge.Channel
	// Health adds per-component probes to /health when set.
	Health *app.HealthCheckerImpl
	// WebSocket serves the extension endpoint; nil leaves /ws unregistered.
	WebSocket http.Handler
	// Gatherer backs /metrics; nil leaves the endpoint unregistered.
	Gatherer prometheus.Gatherer
	Tracer   *observability.TracerProvider
	Logger   logging.Logger
}

// RouterConfig holds configuration values for the HTTP router.
type RouterConfig struct {
	Version        string
	AllowedOrigins []string
	// APIKeyConfigured gates POST /execute; without a key no plan can be made.
	APIKeyConfigured bool
	KeepLastTasks    int
}

// NewRouter creates the gin engine serving the task API, the extension
// WebSocket and the metrics endpoint.
func NewRouter(deps RouterDeps, cfg RouterConfig) *gin.Engine {
	logger := deps.Logger
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("http")
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))
	router.Use(tracingMiddleware(deps.Tracer))
	router.Use(requestLogger(logger))

	handler := NewAPIHandler(deps.Tasks, deps.Channel, cfg, logger)
	handler.health = deps.Health

	router.GET("/", handler.HandleRoot)
	router.POST("/execute", handler.HandleExecute)
	router.GET("/status/:id", handler.HandleStatus)
	router.GET("/tasks", handler.HandleListTasks)
	router.DELETE("/task/:id", handler.HandleDeleteTask)
	router.POST("/cleanup", handler.HandleCleanup)
	router.GET("/health", handler.HandleHealth)

	if deps.WebSocket != nil {
		router.GET("/ws", gin.WrapH(deps.WebSocket))
	}
	if deps.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
	})
	return router
}
