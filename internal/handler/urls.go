package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"safechain/pkg/cache"
	"safechain/pkg/metrics"
	"safechain/pkg/middleware"
)

// RegisterRoutes wires the caller surface onto the engine. limit may be
// nil to disable submission throttling (tests do this).
func RegisterRoutes(r *gin.Engine, h *Handlers, m *metrics.Metrics, idem cache.Cache, limit gin.HandlerFunc) {
	if m != nil {
		r.Use(m.Middleware())
		r.GET("/metrics", m.Handler())
	}
	r.GET("/health", h.HealthCheck)

	if limit == nil {
		limit = func(c *gin.Context) { c.Next() }
	}

	api := r.Group("/api")
	{
		api.POST("/alerts", limit, middleware.Idempotency(middleware.IdempotencyConfig{
			TTL:   time.Minute,
			Cache: idem,
		}), h.TriggerAlert)
		api.GET("/alerts", h.ListAlerts)
		api.GET("/alerts/:id", h.GetAlertState)
		api.GET("/alerts/:id/events", h.GetAlertEvents)
		api.GET("/alerts/:id/stream", h.StreamAlertEvents)
		api.GET("/alerts/:id/media", h.GetAlertMedia)
		api.POST("/alerts/:id/responders/:responderID/reward", limit, h.IssueReward)
		api.POST("/responders/:responderID/verify", limit, h.VerifyResponder)
	}
}

// HealthCheck reports service liveness.
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}
