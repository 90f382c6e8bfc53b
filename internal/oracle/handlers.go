package oracle

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/validation"
)

// Handler provides HTTP endpoints for oracle management.
type Handler struct {
	registry *Registry
}

// NewHandler creates a new oracle handler.
func NewHandler(registry *Registry) *Handler {
	return &Handler{registry: registry}
}

// RegisterRoutes sets up public (read-only) oracle routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/oracles", h.ListOracles)
	r.GET("/oracles/:id", h.GetOracle)
	r.GET("/datasources", h.ListDataSources)
	r.GET("/datasources/:id", h.GetDataSource)
}

// RegisterProtectedRoutes sets up protected (admin) oracle routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/oracles", h.RegisterOracle)
	r.POST("/oracles/:id/approve", h.ApproveOracle)
	r.POST("/oracles/:id/suspend", h.SuspendOracle)
	r.POST("/oracles/:id/deactivate", h.DeactivateOracle)
	r.POST("/datasources", h.AddDataSource)
}

// RegisterOracle handles POST /v1/oracles
func (h *Handler) RegisterOracle(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("name", req.Name),
		validation.Required("publicKey", req.PublicKey),
		validation.NonNegativeAmount("stake", req.Stake),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	o, err := h.registry.Register(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, ErrUnknownDataSource) || errors.Is(err, ErrDataSourceInactive) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "invalid_data_source",
				"message": err.Error(),
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "registration_failed",
			"message": "Failed to register oracle",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"oracle": o})
}

// GetOracle handles GET /v1/oracles/:id
func (h *Handler) GetOracle(c *gin.Context) {
	o, err := h.registry.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Oracle not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"oracle": o,
		"weight": Weight(o),
	})
}

// ListOracles handles GET /v1/oracles
func (h *Handler) ListOracles(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	status := Status(c.Query("status"))

	oracles, err := h.registry.List(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"oracles": oracles, "count": len(oracles)})
}

// ApproveOracle handles POST /v1/oracles/:id/approve
func (h *Handler) ApproveOracle(c *gin.Context) {
	h.lifecycle(c, h.registry.Approve)
}

// SuspendOracle handles POST /v1/oracles/:id/suspend
func (h *Handler) SuspendOracle(c *gin.Context) {
	h.lifecycle(c, h.registry.Suspend)
}

// DeactivateOracle handles POST /v1/oracles/:id/deactivate
func (h *Handler) DeactivateOracle(c *gin.Context) {
	h.lifecycle(c, h.registry.Deactivate)
}

func (h *Handler) lifecycle(c *gin.Context, fn func(ctx context.Context, id string) (*Oracle, error)) {
	o, err := fn(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Oracle not found"})
		case errors.Is(err, ErrInvalidStatus):
			c.JSON(http.StatusConflict, gin.H{"error": "invalid_status", "message": err.Error()})
		case errors.Is(err, ErrUnknownDataSource), errors.Is(err, ErrDataSourceInactive):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_data_source", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"oracle": o})
}

// AddDataSource handles POST /v1/datasources
func (h *Handler) AddDataSource(c *gin.Context) {
	var req DataSourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("name", req.Name),
		validation.Required("provider", req.Provider),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	ds, err := h.registry.AddDataSource(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"dataSource": ds})
}

// GetDataSource handles GET /v1/datasources/:id
func (h *Handler) GetDataSource(c *gin.Context) {
	ds, err := h.registry.GetDataSource(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrUnknownDataSource) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Data source not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"dataSource": ds})
}

// ListDataSources handles GET /v1/datasources
func (h *Handler) ListDataSources(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	status := SourceStatus(c.Query("status"))

	sources, err := h.registry.ListDataSources(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"dataSources": sources, "count": len(sources)})
}
