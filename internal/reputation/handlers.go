package reputation

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/axmarket/repengine/internal/badges"
	"github.com/axmarket/repengine/internal/events"
	"github.com/axmarket/repengine/internal/pagination"
	"github.com/axmarket/repengine/internal/scoring"
	"github.com/axmarket/repengine/internal/validation"
)

// maxEventBytes bounds an ingested event body.
const maxEventBytes = 64 << 10

// Handler provides HTTP endpoints for reputation.
type Handler struct {
	service *Service
}

// NewHandler creates a new reputation handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public read routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/providers/:id/reputation", h.GetReputation)
	r.GET("/badges", h.ListBadges)
}

// RegisterIngestRoutes sets up the event ingestion route. The caller
// guards the group.
func (h *Handler) RegisterIngestRoutes(r *gin.RouterGroup) {
	r.POST("/events", h.IngestEvent)
}

// RegisterAdminRoutes sets up admin-only routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/providers", h.RegisterProvider)
	r.POST("/providers/:id/badges", h.GrantBadge)
	r.GET("/providers/:id/awards", h.ListAwards)
}

// IngestEvent handles POST /v1/events.
//
// Terminal outcomes (applied, rejected, dropped) answer 200 so the trigger
// infrastructure does not redeliver; retryable failures answer 503.
func (h *Handler) IngestEvent(c *gin.Context) {
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxEventBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Failed to read body"})
		return
	}
	if len(raw) > maxEventBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "too_large", "message": "Event body too large"})
		return
	}

	ev, err := events.Decode(raw)
	if err != nil {
		code := "malformed_event"
		if errors.Is(err, events.ErrUnknownType) {
			code = "unknown_event_type"
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": code, "message": err.Error()})
		return
	}

	out, err := h.service.HandleEvent(c.Request.Context(), ev)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "retryable",
			"message": err.Error(),
			"outcome": out,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": out})
}

// GetReputation handles GET /v1/providers/:id/reputation
func (h *Handler) GetReputation(c *gin.Context) {
	rep, err := h.service.GetReputation(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Provider not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reputation": rep})
}

// ListBadges handles GET /v1/badges?category=
func (h *Handler) ListBadges(c *gin.Context) {
	catalog := h.service.Catalog()
	cat := badges.Category(c.Query("category"))
	if cat == "" {
		c.JSON(http.StatusOK, gin.H{"badges": catalog.All()})
		return
	}
	if !cat.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_category",
			"message": "category must be one of achievement, performance, dynamic",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"badges": catalog.AllWithCategory(cat)})
}

// RegisterProviderRequest is the body of POST /v1/admin/providers.
type RegisterProviderRequest struct {
	ProviderID       string       `json:"providerId" binding:"required,max=128"`
	Tier             scoring.Tier `json:"tier" binding:"omitempty,oneof=standard verified signature"`
	AccountCreatedAt time.Time    `json:"accountCreatedAt"`
}

// RegisterProvider handles POST /v1/admin/providers
func (h *Handler) RegisterProvider(c *gin.Context) {
	var req RegisterProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	if !validation.IsValidID(req.ProviderID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "providerId is malformed"})
		return
	}

	p, err := h.service.RegisterProvider(c.Request.Context(), req.ProviderID, req.Tier, req.AccountCreatedAt)
	if err != nil {
		if errors.Is(err, ErrProviderExists) {
			c.JSON(http.StatusConflict, gin.H{"error": "provider_exists", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"provider": p})
}

// GrantBadgeRequest is the body of POST /v1/admin/providers/:id/badges.
type GrantBadgeRequest struct {
	BadgeID string `json:"badgeId" binding:"required"`
	Note    string `json:"note" binding:"max=256"`
}

// GrantBadge handles POST /v1/admin/providers/:id/badges
func (h *Handler) GrantBadge(c *gin.Context) {
	var req GrantBadgeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	p, err := h.service.GrantBadge(c.Request.Context(), c.Param("id"), req.BadgeID, validation.SanitizeString(req.Note, 256))
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"provider": p})
	case errors.Is(err, badges.ErrBadgeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "badge_not_found", "message": err.Error()})
	case errors.Is(err, ErrProviderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Provider not found"})
	case errors.Is(err, ErrBadgeHeld):
		c.JSON(http.StatusConflict, gin.H{"error": "badge_held", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}

// ListAwards handles GET /v1/admin/providers/:id/awards?cursor=&limit=
func (h *Handler) ListAwards(c *gin.Context) {
	limit, err := pagination.ParseLimit(c.Query("limit"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit", "message": err.Error()})
		return
	}
	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor", "message": err.Error()})
		return
	}

	page, err := h.service.ListAwardHistory(c.Request.Context(), c.Param("id"), cursor, limit)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Provider not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, page)
}
