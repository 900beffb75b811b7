package handlers

import (
	"net/http"
	"time"

	"sensor_monitor/internal/logger"
	"sensor_monitor/internal/service"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Defaults used when the handler is built without explicit tuning.
const (
	defaultRPS          = 5
	defaultBurst        = 10
	defaultPushInterval = time.Second
)

// Handler wires HTTP layer to services and logging.
type Handler struct {
	services     *service.Service
	log          *logger.Logger
	limiter      *RateLimiter
	pushInterval time.Duration
}

// NewHandler constructs a new HTTP handler with dependencies.
func NewHandler(services *service.Service, log *logger.Logger) *Handler {
	return &Handler{
		services:     services,
		log:          log,
		limiter:      NewRateLimiter(rate.Limit(defaultRPS), defaultBurst),
		pushInterval: defaultPushInterval,
	}
}

// WithRateLimit replaces the per-IP limit applied to the public account routes.
func (h *Handler) WithRateLimit(rps float64, burst int) *Handler {
	h.limiter = NewRateLimiter(rate.Limit(rps), burst)
	return h
}

// WithPushInterval sets how often /ws pushes the live window.
func (h *Handler) WithPushInterval(d time.Duration) *Handler {
	if d > 0 {
		h.pushInterval = d
	}
	return h
}

// InitRoutes builds and returns the Gin router with all routes registered.
func (h *Handler) InitRoutes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), corsMiddleware)

	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	router.GET("/health", h.health)

	h.registerAccountRoutes(router)

	router.GET("/sensor-data", h.sessionMiddleware, h.getSensorData)

	api := router.Group("/api/v1", h.sessionMiddleware)
	{
		api.GET("/live", h.getLive)
		api.POST("/commands", h.postCommand)
	}

	// Session is checked inside the handler so ?token= works for browsers.
	router.GET("/ws", h.wsConnect)

	return router
}

func (h *Handler) registerAccountRoutes(r *gin.Engine) {
	limited := r.Group("/", h.limiter.Limit)
	{
		limited.POST("/register", h.register)
		limited.POST("/login", h.login)
		limited.GET("/confirm", h.confirm)
	}
}

// corsMiddleware allows any origin and answers preflight requests on every
// path, registered or not.
func corsMiddleware(c *gin.Context) {
	hdr := c.Writer.Header()
	hdr.Set("Access-Control-Allow-Origin", "*")
	hdr.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
	hdr.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	if c.Request.Method == http.MethodOptions {
		c.AbortWithStatus(http.StatusNoContent)
		return
	}
	c.Next()
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if h.services != nil && h.services.Live != nil {
		resp["transport"] = h.services.Live.Status().Status
	}
	if h.services != nil && h.services.Ingest != nil {
		resp["ingest"] = h.services.Ingest.Stats()
	}
	c.JSON(http.StatusOK, resp)
}
