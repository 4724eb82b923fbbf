package quota

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers the quota routes.
func RegisterRoutes(e *echo.Echo, handler *Handler) {
	g := e.Group("/api/quota")
	g.GET("/usage", handler.Usage)
}
