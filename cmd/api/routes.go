package main

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/akhan-msft/mediabotv2/internal/httpapi"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers delegate to internal modules.
//
// Callback endpoints stay public: the platform delivers notifications without
// operator credentials. Operator endpoints (manual join, call listing, event
// stream) take the auth middleware, which is a no-op when auth is not
// configured.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	r.GET("/healthz", h.Health)

	api := r.Group("/api")
	{
		api.GET("/health/status", h.Status)
		api.POST("/auth/token", h.Login)

		callbacks := api.Group("/callback")
		{
			callbacks.POST("/incoming", h.HandleIncomingCall)
			callbacks.POST("/notifications", h.HandleNotification)
			callbacks.POST("/join", authMW, h.JoinMeeting)
		}

		calls := api.Group("/calls", authMW)
		{
			calls.GET("", h.ListCalls)
			calls.GET("/:call_id", h.GetCall)
		}

		api.GET("/events/stream", authMW, h.StreamEvents)
	}
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	})
}
