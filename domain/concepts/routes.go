package concepts

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes registers the concept store routes.
func RegisterRoutes(e *echo.Echo, handler *Handler) {
	g := e.Group("/api/concepts")

	g.POST("", handler.Create)
	g.GET("", handler.List)
	g.POST("/search", handler.Search)
	g.POST("/merge", handler.Merge)
	g.POST("/relations", handler.AddRelation)
	g.DELETE("/relations", handler.RemoveRelation)
	g.GET("/:id", handler.Get)
	g.PATCH("/:id", handler.Update)
	g.DELETE("/:id", handler.Delete)
	g.GET("/:id/graph", handler.GetGraph)
}
