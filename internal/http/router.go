package httpapi

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/callscope/backend/internal/config"
	"github.com/callscope/backend/internal/http/handlers"
	"github.com/callscope/backend/internal/http/middleware"
	"github.com/callscope/backend/internal/metrics"
	"github.com/callscope/backend/internal/stream"

	_ "github.com/callscope/backend/docs"
)

// Deps are the components the API serves. Hub and Metrics are optional.
type Deps struct {
	Handler *handlers.Handler
	Hub     *stream.Hub
	Metrics *metrics.Metrics
}

func Router(cfg config.Config, deps Deps, logger zerolog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Admin-Key", "X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if cfg.CORSAllowed == "*" {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = []string{cfg.CORSAllowed}
	}
	r.Use(cors.New(corsCfg))

	h := deps.Handler
	if h.Validator == nil {
		h.Validator = validator.New()
	}
	h.Logger = logger

	r.GET("/healthz", h.Healthz)
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	api := r.Group("/api")
	api.Use(middleware.Timeout(cfg.RequestTimeout))
	{
		api.GET("/status", h.Status)
		api.GET("/calls", h.CallsList)
		api.GET("/calls/:id", h.CallDetails)
		api.GET("/conversations/active", h.ActiveConversations)
		api.GET("/conversations/:id/journey", h.Journey)
	}

	admin := api.Group("")
	admin.Use(middleware.AdminKey(cfg.AdminKey))
	{
		admin.POST("/webhooks/convai", h.Webhook)
		admin.POST("/calls/:id/analyze", h.Analyze)
	}

	if deps.Hub != nil {
		r.GET("/api/events/ws", gin.WrapH(deps.Hub))
	}
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	return r
}
