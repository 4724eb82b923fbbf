package evolution

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers the evolution routes.
func RegisterRoutes(e *echo.Echo, handler *Handler) {
	g := e.Group("/api/evolution")

	g.GET("", handler.Metrics)
	g.GET("/readiness", handler.Evaluate)
	g.POST("/advance", handler.Trigger)
	g.POST("/regress", handler.Regress)
}
