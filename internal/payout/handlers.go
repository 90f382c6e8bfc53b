package payout

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for payouts.
type Handler struct {
	orchestrator *Orchestrator
}

// NewHandler creates a new payout handler.
func NewHandler(orchestrator *Orchestrator) *Handler {
	return &Handler{orchestrator: orchestrator}
}

// RegisterRoutes sets up public (read-only) payout routes. Payouts are
// never created over HTTP; they only come out of validated triggers.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/payouts", h.ListPayouts)
	r.GET("/payouts/:id", h.GetPayout)
}

// RegisterProtectedRoutes sets up protected (admin) payout routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/payouts/:id/cancel", h.CancelPayout)
	r.POST("/payouts/:id/dispute", h.DisputePayout)
}

// GetPayout handles GET /v1/payouts/:id
func (h *Handler) GetPayout(c *gin.Context) {
	p, txs, err := h.orchestrator.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Payout not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"payout": p, "transactions": txs})
}

// ListPayouts handles GET /v1/payouts
func (h *Handler) ListPayouts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	status := Status(c.Query("status"))
	policyID := c.Query("policyId")

	payouts, err := h.orchestrator.List(c.Request.Context(), policyID, status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"payouts": payouts, "count": len(payouts)})
}

type reasonRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// CancelPayout handles POST /v1/payouts/:id/cancel
func (h *Handler) CancelPayout(c *gin.Context) {
	h.resolve(c, h.orchestrator.Cancel)
}

// DisputePayout handles POST /v1/payouts/:id/dispute
func (h *Handler) DisputePayout(c *gin.Context) {
	h.resolve(c, h.orchestrator.Dispute)
}

func (h *Handler) resolve(c *gin.Context, fn func(ctx context.Context, id, reason string) (*Payout, error)) {
	var req reasonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "A reason is required"})
		return
	}

	p, err := fn(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Payout not found"})
		case errors.Is(err, ErrInvalidStatus):
			c.JSON(http.StatusConflict, gin.H{"error": "invalid_status", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"payout": p})
}
