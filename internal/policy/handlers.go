package policy

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/validation"
)

// Handler provides HTTP endpoints for policies.
type Handler struct {
	service *Service
}

// NewHandler creates a new policy handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public policy routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/policies", h.ListPolicies)
	r.GET("/policies/:id", h.GetPolicy)
	r.GET("/policies/:id/premium-split", h.GetPremiumSplit)
}

// RegisterProtectedRoutes sets up protected (admin) policy routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/policies", h.CreatePolicy)
	r.POST("/policies/:id/activate", h.ActivatePolicy)
	r.POST("/policies/:id/cancel", h.CancelPolicy)
}

// CreatePolicy handles POST /v1/policies
func (h *Handler) CreatePolicy(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidID("holderId", req.HolderID),
		validation.ValidID("poolId", req.PoolID),
		validation.Required("location", req.Location),
		validation.PositiveAmount("coverage.maxPayout", req.Coverage.MaxPayout),
		validation.NonNegativeAmount("premium", req.Premium),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	p, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "create_failed", "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"policy": p})
}

// GetPolicy handles GET /v1/policies/:id
func (h *Handler) GetPolicy(c *gin.Context) {
	p, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Policy not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"policy": p})
}

// ListPolicies handles GET /v1/policies
func (h *Handler) ListPolicies(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	status := Status(c.Query("status"))
	holderID := c.Query("holderId")

	policies, err := h.service.List(c.Request.Context(), status, holderID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"policies": policies, "count": len(policies)})
}

// GetPremiumSplit handles GET /v1/policies/:id/premium-split
func (h *Handler) GetPremiumSplit(c *gin.Context) {
	p, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Policy not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"policyId": p.ID,
		"premium":  p.Premium,
		"split":    SplitPremium(p.Premium),
	})
}

// ActivatePolicy handles POST /v1/policies/:id/activate
func (h *Handler) ActivatePolicy(c *gin.Context) {
	h.lifecycle(c, h.service.Activate)
}

// CancelPolicy handles POST /v1/policies/:id/cancel
func (h *Handler) CancelPolicy(c *gin.Context) {
	h.lifecycle(c, h.service.Cancel)
}

func (h *Handler) lifecycle(c *gin.Context, fn func(ctx context.Context, id string) (*Policy, error)) {
	p, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Policy not found"})
		case errors.Is(err, ErrInvalidStatus):
			c.JSON(http.StatusConflict, gin.H{"error": "invalid_status", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"policy": p})
}
