package cession

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for cessions.
type Handler struct {
	service *Service
}

// NewHandler creates a new cession handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) cession routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/cessions", h.ListCessions)
	r.GET("/cessions/:id", h.GetCession)
}

// RegisterProtectedRoutes sets up the reinsurer settlement routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/cessions/:id/fund", h.FundCession)
	r.POST("/cessions/:id/decline", h.DeclineCession)
}

// GetCession handles GET /v1/cessions/:id
func (h *Handler) GetCession(c *gin.Context) {
	ces, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Cession not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, ces)
}

// ListCessions handles GET /v1/cessions
func (h *Handler) ListCessions(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	status := Status(c.Query("status"))

	cessions, err := h.service.List(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"cessions": cessions, "count": len(cessions)})
}

// FundCession handles POST /v1/cessions/:id/fund
func (h *Handler) FundCession(c *gin.Context) {
	var req struct {
		LedgerTxID string `json:"ledgerTxId"`
	}
	_ = c.ShouldBindJSON(&req)

	ces, err := h.service.Fund(c.Request.Context(), c.Param("id"), req.LedgerTxID)
	if err != nil {
		writeCessionError(c, err)
		return
	}

	c.JSON(http.StatusOK, ces)
}

// DeclineCession handles POST /v1/cessions/:id/decline
func (h *Handler) DeclineCession(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)

	ces, err := h.service.Decline(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		writeCessionError(c, err)
		return
	}

	c.JSON(http.StatusOK, ces)
}

func writeCessionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Cession not found"})
	case errors.Is(err, ErrInvalidStatus):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_status", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
	}
}
