package pool

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/validation"
)

// Handler provides HTTP endpoints for risk pools.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a new pool handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterRoutes sets up public (read-only) pool routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/pools", h.ListPools)
	r.GET("/pools/:id", h.GetPool)
	r.GET("/pools/:id/sufficiency", h.CheckSufficiency)
}

// RegisterProtectedRoutes sets up protected (admin) pool routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/pools", h.CreatePool)
	r.POST("/pools/:id/credit", h.CreditPool)
}

// CreatePool handles POST /v1/pools
func (h *Handler) CreatePool(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("name", req.Name),
		validation.NonNegativeAmount("capital", req.Capital),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	p, err := h.ledger.Create(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "create_failed", "message": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"pool": p})
}

// GetPool handles GET /v1/pools/:id
func (h *Handler) GetPool(c *gin.Context) {
	p, err := h.ledger.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Pool not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"pool": p, "violations": CheckInvariants(p)})
}

// ListPools handles GET /v1/pools
func (h *Handler) ListPools(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	pools, err := h.ledger.List(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"pools": pools, "count": len(pools)})
}

// CheckSufficiency handles GET /v1/pools/:id/sufficiency?amount=N
func (h *Handler) CheckSufficiency(c *gin.Context) {
	amount, err := strconv.ParseInt(c.Query("amount"), 10, 64)
	if err != nil || amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_amount",
			"message": "amount must be a positive integer",
		})
		return
	}

	report, err := h.ledger.CheckSufficiency(c.Request.Context(), c.Param("id"), amount)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Pool not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"sufficiency": report})
}

// CreditPool handles POST /v1/pools/:id/credit
func (h *Handler) CreditPool(c *gin.Context) {
	var req struct {
		Amount int64 `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	p, err := h.ledger.Credit(c.Request.Context(), c.Param("id"), req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Pool not found"})
		case errors.Is(err, ErrInvalidAmount):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{"pool": p})
}
