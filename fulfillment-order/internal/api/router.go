package api

import (
	"github.com/gin-gonic/gin"
)

type RouterConfig struct {
	// CreateLimiter throttles POST /api/orders per client IP. Nil disables it.
	CreateLimiter *RateLimiter
}

func SetupRoutes(router *gin.Engine, h *OrderHandler, cfg RouterConfig) {
	api := router.Group("/api")
	{
		OrderRouter(api.Group("/orders"), h, cfg.CreateLimiter)
		EventRouter(api.Group("/events"), h)
	}
}

func OrderRouter(router *gin.RouterGroup, h *OrderHandler, limiter *RateLimiter) {
	if limiter != nil {
		router.POST("", RateLimit(limiter, IPKeyFunc), h.Create)
	} else {
		router.POST("", h.Create)
	}
	router.GET("/:id", h.Get)
}

func EventRouter(router *gin.RouterGroup, h *OrderHandler) {
	router.GET("", h.FindEvent)
	router.GET("/all", h.ListEvents)
}
