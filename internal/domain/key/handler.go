package key

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Handler provides Echo HTTP handlers for encryption key administration.
type Handler struct {
	service *Service
}

// NewHandler creates a handler backed by the given service.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the key routes on the given Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("", h.CreateKey)
	g.POST("/:id/rotate", h.RotateKey)
	g.GET("/status", h.Status)
	g.POST("/disable-retired", h.DisableRetired)
}

type createKeyRequest struct {
	TenantID         string     `json:"tenant_id"`
	KeyName          string     `json:"key_name"`
	KeyType          string     `json:"key_type"`
	KMSProvider      string     `json:"kms_provider"`
	RotationPolicyID *uuid.UUID `json:"rotation_policy_id,omitempty"`
}

// CreateKey handles POST /keys.
func (h *Handler) CreateKey(c echo.Context) error {
	var req createKeyRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	k, err := h.service.CreateKey(c.Request().Context(), CreateKeyInput{
		TenantID:         req.TenantID,
		KeyName:          req.KeyName,
		KeyType:          req.KeyType,
		KMSProvider:      req.KMSProvider,
		RotationPolicyID: req.RotationPolicyID,
	})
	if err != nil {
		if errors.Is(err, ErrActiveKeyExists) {
			return echo.NewHTTPError(http.StatusConflict, "an active key already exists for this tenant and name")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusCreated, k)
}

// RotateKey handles POST /keys/:id/rotate.
func (h *Handler) RotateKey(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid key id")
	}

	old, next, err := h.service.RotateKey(c.Request().Context(), id, nil)
	if err != nil {
		switch {
		case errors.Is(err, ErrKeyNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "key not found")
		case errors.Is(err, ErrKeyNotActive):
			return echo.NewHTTPError(http.StatusConflict, "key is not active")
		default:
			return echo.NewHTTPError(http.StatusBadGateway, "key rotation failed")
		}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"rotated": old,
		"active":  next,
	})
}

// Status handles GET /keys/status?tenant_id=...
func (h *Handler) Status(c echo.Context) error {
	tenantID := c.QueryParam("tenant_id")
	if tenantID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant_id is required")
	}

	report, err := h.service.VerifyEncryptionStatus(c.Request().Context(), tenantID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to verify encryption status")
	}
	return c.JSON(http.StatusOK, report)
}

type disableRetiredRequest struct {
	RetentionHours int `json:"retention_hours"`
}

// DisableRetired handles POST /keys/disable-retired.
func (h *Handler) DisableRetired(c echo.Context) error {
	var req disableRetiredRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.RetentionHours <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "retention_hours must be positive")
	}

	disabled, err := h.service.DisableRetiredKeys(c.Request().Context(),
		time.Duration(req.RetentionHours)*time.Hour)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to disable retired keys")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"disabled": disabled})
}
