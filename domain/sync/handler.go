package sync

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/conceptdb/gateway/pkg/apperror"
)

// Handler handles HTTP requests for the synchronizer.
type Handler struct {
	svc        *Service
	quarantine QuarantineStore
}

// NewHandler creates a new sync handler.
func NewHandler(svc *Service, quarantine QuarantineStore) *Handler {
	return &Handler{svc: svc, quarantine: quarantine}
}

// RunRequest triggers an out-of-band sync run.
type RunRequest struct {
	Direction string `json:"direction"`
}

// Status handles GET /api/sync/status
func (h *Handler) Status(c echo.Context) error {
	status, err := h.svc.Status(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, status)
}

// Run handles POST /api/sync/run
func (h *Handler) Run(c echo.Context) error {
	var req RunRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	report, err := h.svc.RunNow(c.Request().Context(), req.Direction)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// Quarantine handles GET /api/sync/quarantine
func (h *Handler) Quarantine(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	items, err := h.quarantine.ListUnresolved(c.Request().Context(), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items})
}

// Resolve handles POST /api/sync/quarantine/:id/resolve
func (h *Handler) Resolve(c echo.Context) error {
	if err := h.quarantine.Resolve(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
