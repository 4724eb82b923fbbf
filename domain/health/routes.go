package health

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RegisterRoutes registers the health probes and the Prometheus endpoint.
func RegisterRoutes(e *echo.Echo, handler *Handler) {
	e.GET("/health", handler.Health)
	e.GET("/healthz", handler.Health)
	e.GET("/ready", handler.Ready)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
}
