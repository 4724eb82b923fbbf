package concepts

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/conceptdb/gateway/internal/server"
	"github.com/conceptdb/gateway/pkg/apperror"
)

// Handler handles HTTP requests for the concept store.
type Handler struct {
	svc *Service
}

// NewHandler creates a new concepts handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

// Create handles POST /api/concepts
func (h *Handler) Create(c echo.Context) error {
	tenant, err := server.Tenant(c)
	if err != nil {
		return err
	}

	var req CreateConceptRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	concept, err := h.svc.Create(c.Request().Context(), tenant, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, concept)
}

// Get handles GET /api/concepts/:id
func (h *Handler) Get(c echo.Context) error {
	tenant, err := server.Tenant(c)
	if err != nil {
		return err
	}

	concept, err := h.svc.Get(c.Request().Context(), tenant, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, concept)
}

// List handles GET /api/concepts
func (h *Handler) List(c echo.Context) error {
	tenant, err := server.Tenant(c)
	if err != nil {
		return err
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	resp, err := h.svc.List(c.Request().Context(), tenant, limit, offset)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// Update handles PATCH /api/concepts/:id
func (h *Handler) Update(c echo.Context) error {
	tenant, err := server.Tenant(c)
	if err != nil {
		return err
	}

	var patch UpdateConceptRequest
	if err := c.Bind(&patch); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	concept, err := h.svc.Update(c.Request().Context(), tenant, c.Param("id"), &patch)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, concept)
}

// Delete handles DELETE /api/concepts/:id
func (h *Handler) Delete(c echo.Context) error {
	tenant, err := server.Tenant(c)
	if err != nil {
		return err
	}

	if err := h.svc.Delete(c.Request().Context(), tenant, c.Param("id")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Search handles POST /api/concepts/search
func (h *Handler) Search(c echo.Context) error {
	tenant, err := server.Tenant(c)
	if err != nil {
		return err
	}

	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	results, err := h.svc.SemanticSearch(c.Request().Context(), tenant, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"results": results})
}

// AddRelation handles POST /api/concepts/relations
func (h *Handler) AddRelation(c echo.Context) error {
	tenant, err := server.Tenant(c)
	if err != nil {
		return err
	}

	var req AddRelationRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	rel, err := h.svc.AddRelation(c.Request().Context(), tenant, &req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, rel)
}

// RemoveRelation handles DELETE /api/concepts/relations
func (h *Handler) RemoveRelation(c echo.Context) error {
	tenant, err := server.Tenant(c)
	if err != nil {
		return err
	}

	var req RemoveRelationRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	if err := h.svc.RemoveRelation(c.Request().Context(), tenant, &req); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// GetGraph handles GET /api/concepts/:id/graph?depth=N
func (h *Handler) GetGraph(c echo.Context) error {
	tenant, err := server.Tenant(c)
	if err != nil {
		return err
	}

	depth, _ := strconv.Atoi(c.QueryParam("depth"))
	if depth == 0 {
		depth = 1
	}
	if depth > MaxTraversalDepth {
		return apperror.NewBadRequest("depth must be at most 3")
	}

	graph, err := h.svc.Neighbors(c.Request().Context(), tenant, c.Param("id"), depth)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, graph)
}

// Merge handles POST /api/concepts/merge
func (h *Handler) Merge(c echo.Context) error {
	tenant, err := server.Tenant(c)
	if err != nil {
		return err
	}

	var req MergeRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	if req.LoserID == "" || req.WinnerID == "" {
		return apperror.NewBadRequest("loser_id and winner_id are required")
	}

	winner, err := h.svc.Merge(c.Request().Context(), tenant, req.LoserID, req.WinnerID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, winner)
}
