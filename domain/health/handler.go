package health

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/uptrace/bun"
)

// Handler handles liveness and readiness probes.
type Handler struct {
	db      *bun.DB
	started time.Time
	version string
}

// NewHandler creates a new health handler.
func NewHandler(db *bun.DB) *Handler {
	return &Handler{
		db:      db,
		started: time.Now(),
		version: Version,
	}
}

// Version is the build version, overridable via -ldflags.
var Version = "dev"

// Health handles GET /health — process liveness only.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	})
}

// Ready handles GET /ready — checks the database connection.
func (h *Handler) Ready(c echo.Context) error {
	if err := h.db.PingContext(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status": "unavailable",
			"error":  err.Error(),
		})
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "ready"})
}
