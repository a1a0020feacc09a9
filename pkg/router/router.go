package router

import (
	"net/http"
	"strings"

	"campusconnect/backend/messaging/api"
	"campusconnect/backend/pkg/config"
	"campusconnect/backend/pkg/di"
	"campusconnect/backend/pkg/errors"
	"campusconnect/backend/pkg/jwt"
	"campusconnect/backend/pkg/logger"
	"campusconnect/backend/pkg/middleware"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

// Router is the main router for the application
type Router struct {
	Engine    *gin.Engine
	Container *di.Container
	Logger    *logger.Logger
	Config    *config.Config
}

// New creates a new router with the given container
func New(container *di.Container) *Router {
	cfg := container.Config

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()

	// Use the logger middleware first to capture all requests
	engine.Use(logger.Middleware(container.Logger))
	engine.Use(errors.ErrorHandler())
	engine.Use(errors.RecoveryWithLogger())
	engine.Use(corsMiddleware(cfg.Security.AllowedOrigins))
	engine.Use(bodyLimit(cfg.Security.MaxBodySize))

	return &Router{
		Engine:    engine,
		Container: container,
		Logger:    container.Logger,
		Config:    cfg,
	}
}

// SetupRoutes registers all application routes
func (r *Router) SetupRoutes() {
	jwtAuth := middleware.JWTAuthMiddleware(r.Container.JWTService, r.Logger)

	r.setupHealthRoutes()

	v1 := r.Engine.Group("/api/v1")
	protected := v1.Group("")
	protected.Use(jwtAuth)
	protected.Use(middleware.RequireAnyRole(jwt.Roles...))
	protected.Use(r.Container.RateLimiter.Middleware())
	api.RegisterRoutes(protected, r.Container.API)

	// WebSocket route
	r.Engine.GET("/ws", jwtAuth, middleware.RequireAnyRole(jwt.Roles...), r.Container.Hub.ServeWs)

	// Identity provider webhooks authenticate by signature, not by token
	r.Engine.POST("/webhooks/identity", r.Container.WebhookHandler.Handle)
}

// corsMiddleware allows the configured origins, including websocket upgrade headers
func corsMiddleware(allowed []string) gin.HandlerFunc {
	allowAll := len(allowed) == 0 || lo.Contains(allowed, "*")

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		switch {
		case allowAll:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && lo.Contains(allowed, origin):
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Add("Vary", "Origin")
		}

		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", strings.Join([]string{
			"Content-Type", "Content-Length", "Accept", "Authorization", "Origin",
			"Upgrade", "Connection", "Cache-Control", "X-Request-ID",
		}, ", "))
		c.Writer.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// bodyLimit caps request bodies at max bytes
func bodyLimit(max int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if max > 0 && c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, max)
		}
		c.Next()
	}
}
