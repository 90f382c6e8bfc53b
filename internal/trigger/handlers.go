package trigger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/validation"
)

// Handler provides HTTP endpoints for triggers.
type Handler struct {
	service *Service
}

// NewHandler creates a new trigger handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public trigger routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/triggers", h.ListTriggers)
	r.GET("/triggers/:id", h.GetTrigger)
	r.POST("/triggers", h.ReportTrigger)
}

// ReportTrigger handles POST /v1/triggers
func (h *Handler) ReportTrigger(c *gin.Context) {
	var req ReportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidID("policyId", req.PolicyID),
		validation.Required("parameter", req.Parameter),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	t, err := h.service.Report(c.Request.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrDuplicate):
			c.JSON(http.StatusConflict, gin.H{"error": "duplicate_trigger", "message": err.Error()})
		case errors.Is(err, ErrPolicyInactive):
			c.JSON(http.StatusConflict, gin.H{"error": "policy_inactive", "message": err.Error()})
		default:
			c.JSON(http.StatusNotFound, gin.H{"error": "report_failed", "message": err.Error()})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{"trigger": t})
}

// GetTrigger handles GET /v1/triggers/:id
func (h *Handler) GetTrigger(c *gin.Context) {
	t, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Trigger not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"trigger": t})
}

// ListTriggers handles GET /v1/triggers
func (h *Handler) ListTriggers(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	status := Status(c.Query("status"))
	policyID := c.Query("policyId")

	triggers, err := h.service.List(c.Request.Context(), policyID, status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"triggers": triggers, "count": len(triggers)})
}
