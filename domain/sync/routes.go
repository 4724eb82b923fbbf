package sync

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers the synchronizer routes.
func RegisterRoutes(e *echo.Echo, handler *Handler) {
	g := e.Group("/api/sync")

	g.GET("/status", handler.Status)
	g.POST("/run", handler.Run)
	g.GET("/quarantine", handler.Quarantine)
	g.POST("/quarantine/:id/resolve", handler.Resolve)
}
