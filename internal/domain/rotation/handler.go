package rotation

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Handler provides Echo HTTP handlers for rotation policy administration.
type Handler struct {
	scheduler *Scheduler
}

// NewHandler creates a handler backed by the given scheduler.
func NewHandler(scheduler *Scheduler) *Handler {
	return &Handler{scheduler: scheduler}
}

// RegisterRoutes registers the policy administration routes on the given Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("", h.CreatePolicy)
	g.PUT("/:id/status", h.UpdateStatus)
	g.POST("/:id/trigger", h.TriggerPolicy)
	g.GET("/history", h.RotationHistory)
}

// CreatePolicy handles POST /rotation-policies.
func (h *Handler) CreatePolicy(c echo.Context) error {
	var p KeyRotationPolicy
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if p.Status == "" {
		p.Status = PolicyActive
	}

	if err := h.scheduler.CreatePolicy(c.Request().Context(), &p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, p)
}

type updateStatusRequest struct {
	Status PolicyStatus `json:"status"`
}

// UpdateStatus handles PUT /rotation-policies/:id/status.
func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid policy id")
	}

	var req updateStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := h.scheduler.UpdatePolicyStatus(c.Request().Context(), id, req.Status); err != nil {
		if errors.Is(err, ErrPolicyNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "policy not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// TriggerPolicy handles POST /rotation-policies/:id/trigger.
func (h *Handler) TriggerPolicy(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid policy id")
	}

	result, err := h.scheduler.TriggerPolicy(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, ErrPolicyNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "policy not found")
		}
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return c.JSON(http.StatusOK, result)
}

// RotationHistory handles GET /rotation-policies/history?tenant_id=...
func (h *Handler) RotationHistory(c echo.Context) error {
	tenantID := c.QueryParam("tenant_id")
	if tenantID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant_id is required")
	}

	history, err := h.scheduler.GetRotationHistory(c.Request().Context(), tenantID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load rotation history")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"tenant_id": tenantID,
		"rotations": history,
	})
}
