package evolution

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/conceptdb/gateway/internal/server"
	"github.com/conceptdb/gateway/pkg/apperror"
)

// PhaseLimiter resolves the tenant's plan cap on the reachable phase.
// Satisfied by the quota gate.
type PhaseLimiter interface {
	MaxPhase(ctx context.Context, tenant string) (int, error)
}

// Handler handles HTTP requests for evolution metrics and transitions.
type Handler struct {
	tracker *Tracker
	phases  PhaseLimiter
}

// NewHandler creates a new evolution handler.
func NewHandler(tracker *Tracker, phases PhaseLimiter) *Handler {
	return &Handler{tracker: tracker, phases: phases}
}

// TriggerRequest is the body for a manual phase transition.
type TriggerRequest struct {
	TargetPhase int  `json:"target_phase,omitempty"`
	Force       bool `json:"force,omitempty"`
}

// RegressRequest is the body for an operator rollback.
type RegressRequest struct {
	TargetPhase int `json:"target_phase"`
}

// Metrics handles GET /api/evolution
func (h *Handler) Metrics(c echo.Context) error {
	return c.JSON(http.StatusOK, h.tracker.Snapshot())
}

// Evaluate handles GET /api/evolution/readiness
func (h *Handler) Evaluate(c echo.Context) error {
	return c.JSON(http.StatusOK, h.tracker.EvaluateAdvancement())
}

// Trigger handles POST /api/evolution/advance
func (h *Handler) Trigger(c echo.Context) error {
	tenant, err := server.Tenant(c)
	if err != nil {
		return err
	}

	var req TriggerRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	maxPhase := MaxPhase
	if h.phases != nil {
		maxPhase, err = h.phases.MaxPhase(c.Request().Context(), tenant)
		if err != nil {
			return err
		}
	}

	decision, err := h.tracker.Trigger(c.Request().Context(), req.TargetPhase, req.Force, maxPhase)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, decision)
}

// Regress handles POST /api/evolution/regress
func (h *Handler) Regress(c echo.Context) error {
	var req RegressRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}

	if err := h.tracker.Regress(c.Request().Context(), req.TargetPhase); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.tracker.Snapshot())
}
