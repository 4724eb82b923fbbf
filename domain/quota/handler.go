package quota

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/conceptdb/gateway/internal/server"
)

// Handler handles HTTP requests for quota usage.
type Handler struct {
	svc *Service
}

// NewHandler creates a new quota handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Usage handles GET /api/quota/usage
func (h *Handler) Usage(c echo.Context) error {
	tenant, err := server.Tenant(c)
	if err != nil {
		return err
	}

	snapshot, err := h.svc.Usage(c.Request().Context(), tenant)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snapshot)
}
