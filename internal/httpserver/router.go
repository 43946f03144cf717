package httpserver

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taskpulse/internal/handler"
	"taskpulse/pkg/otel"
	"taskpulse/pkg/rbac"
)

// Checker is a readiness probe (postgres pool, redis client, ...).
type Checker func(ctx context.Context) error

type Handlers struct {
	Tasks    *handler.TaskHandler
	Channels *handler.ChannelHandler
	Calendar *handler.CalendarHandler
	Admin    *handler.AdminHandler
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(h Handlers, jwtSecret string, checks map[string]Checker) *Router {
	r := gin.New()
	r.Use(gin.Recovery(), otel.GinMiddleware(), TraceMiddleware())

	// Health endpoints (放在最前面)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		for name, check := range checks {
			if err := check(ctx); err != nil {
				c.JSON(500, gin.H{"status": name + "_not_ready", "error": err.Error()})
				return
			}
		}

		c.JSON(200, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public: OAuth redirect target, owner comes from the signed state
	if h.Calendar != nil {
		r.GET("/calendar/callback", h.Calendar.Callback)
	}

	// Protected
	auth := r.Group("/")
	auth.Use(AuthMiddleware(jwtSecret))
	{
		if h.Tasks != nil {
			auth.GET("/tasks", RequirePermission(rbac.PermissionReadTask), h.Tasks.List)
			auth.GET("/tasks/:id", RequirePermission(rbac.PermissionReadTask), h.Tasks.Get)
			auth.GET("/tasks/:id/notifications", RequirePermission(rbac.PermissionReadTask), h.Tasks.Notifications)
			auth.POST("/tasks", RequirePermission(rbac.PermissionWriteTask), h.Tasks.Create)
			auth.PUT("/tasks/:id", RequirePermission(rbac.PermissionWriteTask), h.Tasks.Update)
			auth.DELETE("/tasks/:id", RequirePermission(rbac.PermissionWriteTask), h.Tasks.Delete)
		}

		if h.Channels != nil {
			channels := auth.Group("/channels", RequirePermission(rbac.PermissionLinkChat))
			channels.GET("", h.Channels.List)
			channels.POST("/link", h.Channels.Link)
			channels.POST("/link-code", h.Channels.IssueLinkCode)
			channels.DELETE("/:chat_id", h.Channels.Unlink)
		}

		if h.Calendar != nil {
			auth.GET("/calendar/connect", RequirePermission(rbac.PermissionCalendar), h.Calendar.Connect)
			auth.DELETE("/calendar", RequirePermission(rbac.PermissionCalendar), h.Calendar.Disconnect)
		}

		if h.Admin != nil {
			admin := auth.Group("/admin", RequirePermission(rbac.PermissionReplayOutbox))
			admin.POST("/outbox/replay", h.Admin.ReplayOutboxEvent)
			admin.POST("/outbox/replay-failed", h.Admin.ReplayFailedEvents)
		}
	}

	return &Router{Engine: r}
}
