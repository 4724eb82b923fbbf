package router

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers the query path routes.
func RegisterRoutes(e *echo.Echo, handler *Handler) {
	g := e.Group("/api/query")

	g.POST("", handler.Query)
	g.POST("/explain", handler.Explain)
	g.GET("/logs", handler.Logs)
}
