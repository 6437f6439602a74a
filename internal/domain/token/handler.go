package token

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Handler provides Echo HTTP handlers for token lifecycle endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a handler backed by the given service.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the token routes on the given Echo group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("", h.CreateToken)
	g.POST("/validate", h.ValidateToken)
	g.DELETE("/:id", h.RevokeToken)
	g.POST("/:id/rotate", h.RotateToken)
	g.POST("/cleanup", h.Cleanup)
	g.POST("/users/:user_id/revoke", h.RevokeUserTokens)
}

type createTokenRequest struct {
	TokenType       TokenType  `json:"token_type"`
	UserID          *uuid.UUID `json:"user_id,omitempty"`
	Scopes          []string   `json:"scopes,omitempty"`
	LifetimeSeconds int64      `json:"lifetime_seconds,omitempty"`
	Issuer          string     `json:"issuer,omitempty"`
	Audience        string     `json:"audience,omitempty"`
}

// CreateToken handles POST /tokens. The raw secret is returned exactly once.
func (h *Handler) CreateToken(c echo.Context) error {
	var req createTokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if !req.TokenType.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown token_type")
	}

	secret, t, err := h.service.CreateToken(c.Request().Context(), CreateTokenInput{
		Type:      req.TokenType,
		UserID:    req.UserID,
		Scopes:    req.Scopes,
		Lifetime:  time.Duration(req.LifetimeSeconds) * time.Second,
		Issuer:    req.Issuer,
		Audience:  req.Audience,
		ClientIP:  c.RealIP(),
		UserAgent: c.Request().UserAgent(),
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create token")
	}

	return c.JSON(http.StatusCreated, map[string]interface{}{
		"token":   t,
		"secret":  secret,
		"warning": "Store this secret securely. It will not be shown again.",
	})
}

type validateTokenRequest struct {
	Secret       string    `json:"secret"`
	ExpectedType TokenType `json:"expected_type,omitempty"`
}

// ValidateToken handles POST /tokens/validate. Any validation miss maps to a
// generic 401 without distinguishing why.
func (h *Handler) ValidateToken(c echo.Context) error {
	var req validateTokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	t, err := h.service.ValidateToken(c.Request().Context(), req.Secret, req.ExpectedType)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "token validation error")
	}
	if t == nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	}
	return c.JSON(http.StatusOK, t)
}

// RevokeToken handles DELETE /tokens/:id.
func (h *Handler) RevokeToken(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid token id")
	}

	revoked, err := h.service.RevokeToken(c.Request().Context(), id, c.QueryParam("reason"))
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "token not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to revoke token")
	}

	return c.JSON(http.StatusOK, map[string]interface{}{"revoked": revoked})
}

// RotateToken handles POST /tokens/:id/rotate.
func (h *Handler) RotateToken(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid token id")
	}

	secret, t, err := h.service.RotateToken(c.Request().Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrTokenNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "token not found")
		case errors.Is(err, ErrTokenNotActive):
			return echo.NewHTTPError(http.StatusConflict, "token not active")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to rotate token")
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"token":   t,
		"secret":  secret,
		"warning": "Store this secret securely. It will not be shown again.",
	})
}

// RevokeUserTokens handles POST /tokens/users/:user_id/revoke.
func (h *Handler) RevokeUserTokens(c echo.Context) error {
	userID, err := uuid.Parse(c.Param("user_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid user id")
	}

	count, err := h.service.RevokeUserTokens(c.Request().Context(), userID, c.QueryParam("reason"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to revoke user tokens")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"revoked": count})
}

// Cleanup handles POST /tokens/cleanup.
func (h *Handler) Cleanup(c echo.Context) error {
	deleted, err := h.service.CleanupExpiredTokens(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "cleanup failed")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"deleted": deleted})
}
