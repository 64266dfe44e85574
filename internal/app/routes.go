package app

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/aura-webinar/meetbot/internal/middleware"
	"github.com/aura-webinar/meetbot/pkg/response"
)

// Router returns the HTTP surface: health, metrics, the vendor webhook, the meeting API
// and the admin trigger.
func (a *App) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(a.Config.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(a.logger))

	// Health
	router.GET("/health", a.health)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})))

	// Webhooks (no JWT; signature validated in handler when configured)
	router.POST("/webhooks/meeting-bot", a.Webhook.MeetingBot)

	// Meeting API (JWT required)
	api := router.Group("")
	api.Use(middleware.JWT(a.Tokens))
	{
		api.GET("/meetings", a.MeetingAPI.List)
		api.POST("/meetings/sync", a.MeetingAPI.SyncNow)
		api.GET("/meetings/:id", a.MeetingAPI.Get)
		api.PATCH("/meetings/:id/exclude", a.MeetingAPI.SetExcluded)
		api.POST("/meetings/:id/insights/regenerate", a.MeetingAPI.RegenerateInsights)
		api.GET("/meetings/:id/recording", a.MeetingAPI.RecordingURL)

		// Admin: run a calendar sync fan-out now instead of waiting for the cron tick.
		api.POST("/admin/sync", middleware.RequireRole(middleware.RoleAdmin), a.triggerSync)
	}
	return router
}

func (a *App) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := a.Pool.Ping(ctx); err != nil {
		response.ServiceUnavailable(c, "database unavailable")
		return
	}
	if err := a.Redis.Healthy(ctx); err != nil {
		response.ServiceUnavailable(c, "redis unavailable")
		return
	}
	response.OK(c, gin.H{"status": "ok"})
}

func (a *App) triggerSync(c *gin.Context) {
	n, err := a.SyncScheduler.Tick(c.Request.Context())
	if err != nil {
		a.logger.Error("manual calendar sync failed", zap.Error(err))
		response.Internal(c, "failed to dispatch calendar sync")
		return
	}
	response.Accepted(c, gin.H{"dispatched": n})
}
