package attestation

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/oracle"
	"github.com/llLeco/parametric-ecosphere-sub000/internal/validation"
)

// Handler provides HTTP endpoints for attestation rounds.
type Handler struct {
	engine *Engine
}

// NewHandler creates a new attestation handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes sets up attestation routes. Submission is open to any
// caller; the engine itself rejects non-active oracles and bad signatures.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/attestations/:id", h.GetAttestation)
	r.POST("/attestations/:id/signatures", h.SubmitSignature)
}

// GetAttestation handles GET /v1/attestations/:id
func (h *Handler) GetAttestation(c *gin.Context) {
	a, err := h.engine.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Attestation not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"attestation": a})
}

// SubmitSignature handles POST /v1/attestations/:id/signatures
func (h *Handler) SubmitSignature(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidID("oracleId", req.OracleID),
		validation.Required("signature", req.Signature),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	a, err := h.engine.Submit(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Attestation not found"})
		case errors.Is(err, ErrRoundClosed), errors.Is(err, ErrRoundExpired):
			c.JSON(http.StatusConflict, gin.H{"error": "round_closed", "message": err.Error()})
		case errors.Is(err, ErrOracleInactive):
			c.JSON(http.StatusForbidden, gin.H{"error": "oracle_inactive", "message": err.Error()})
		case errors.Is(err, oracle.ErrInvalidSignature):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid_signature", "message": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error"})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"attestation": a})
}
