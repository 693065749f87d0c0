package live

import (
	"github.com/gin-gonic/gin"

	"github.com/aura-webinar/livesync/internal/auth"
	"github.com/aura-webinar/livesync/internal/middleware"
)

// Register mounts the live routes. ws serves the viewer socket and may be nil.
func Register(r gin.IRouter, h *Handler, jwtService *auth.JWTService, ws gin.HandlerFunc) {
	optional := middleware.Authenticate(jwtService, false)
	admin := []gin.HandlerFunc{middleware.Authenticate(jwtService, true), middleware.RequireRole(auth.RoleAdmin)}

	r.GET("/health", h.Health)

	g := r.Group("/live")
	{
		g.GET("/current", optional, h.Current)

		a := g.Group("", admin...)
		a.GET("/sessions", h.ListSessions)
		a.POST("/refresh", h.Refresh)
		a.POST("/broadcasts", h.SaveBroadcast)
		a.POST("/broadcasts/:id/go-live", h.GoLive)
		a.POST("/broadcasts/:id/end", h.End)
		a.POST("/viewers/:id/entitlements", h.RefreshViewerEntitlements)
	}
	if ws != nil {
		r.GET("/ws", optional, ws)
	}
}
