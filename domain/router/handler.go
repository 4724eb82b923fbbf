package router

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/conceptdb/gateway/internal/server"
	"github.com/conceptdb/gateway/pkg/apperror"
)

// Handler handles HTTP requests for the query path.
type Handler struct {
	svc  *Service
	logs *Repository
}

// NewHandler creates a new router handler.
func NewHandler(svc *Service, logs *Repository) *Handler {
	return &Handler{svc: svc, logs: logs}
}

// Query handles POST /api/query
func (h *Handler) Query(c echo.Context) error {
	tenant, err := server.Tenant(c)
	if err != nil {
		return err
	}

	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	result, info, err := h.svc.Execute(c.Request().Context(), tenant, req.Query, req.Opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, QueryResponse{Result: result, RouteInfo: info})
}

// Explain handles POST /api/query/explain
func (h *Handler) Explain(c echo.Context) error {
	tenant, err := server.Tenant(c)
	if err != nil {
		return err
	}

	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	info, err := h.svc.Explain(c.Request().Context(), tenant, req.Query, req.Opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"route_info": info})
}

// Logs handles GET /api/query/logs
func (h *Handler) Logs(c echo.Context) error {
	tenant, err := server.Tenant(c)
	if err != nil {
		return err
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	logs, err := h.logs.RecentForTenant(c.Request().Context(), tenant, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"logs": logs})
}
