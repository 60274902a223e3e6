// Package admin exposes operational endpoints for the engine's background work.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/axmarket/repengine/internal/logging"
)

// Sweeper expires time-limited badges on demand.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// BreakerState reports the review-prompt circuit state for a key.
type BreakerState func(key string) string

// Handler provides admin operations endpoints.
type Handler struct {
	sweeper      Sweeper
	breakerState BreakerState
	breakerKey   string
}

// NewHandler creates a new admin handler.
func NewHandler() *Handler {
	return &Handler{}
}

// WithSweeper enables the on-demand expiry sweep.
func (h *Handler) WithSweeper(s Sweeper) *Handler {
	h.sweeper = s
	return h
}

// WithBreaker reports the delivery circuit for key.
func (h *Handler) WithBreaker(state BreakerState, key string) *Handler {
	h.breakerState = state
	h.breakerKey = key
	return h
}

// RegisterRoutes mounts the ops endpoints. The group is expected to be
// behind admin authentication.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	ops := r.Group("/ops")
	ops.POST("/expiry/sweep", h.sweepExpired)
	ops.GET("/signals", h.signalStatus)
}

func (h *Handler) sweepExpired(c *gin.Context) {
	if h.sweeper == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "sweeper not configured"})
		return
	}

	start := time.Now()
	expired, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		logging.L(c.Request.Context()).Error("manual expiry sweep failed", "error", err, "expired", expired)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":        "sweep_failed",
			"message":      err.Error(),
			"expiredCount": expired,
		})
		return
	}

	logging.L(c.Request.Context()).Info("manual expiry sweep", "expired", expired)
	c.JSON(http.StatusOK, gin.H{
		"expiredCount": expired,
		"durationMs":   time.Since(start).Milliseconds(),
	})
}

func (h *Handler) signalStatus(c *gin.Context) {
	if h.breakerState == nil {
		c.JSON(http.StatusOK, gin.H{"delivery": "log"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"delivery": "http",
		"endpoint": h.breakerKey,
		"circuit":  h.breakerState(h.breakerKey),
	})
}
