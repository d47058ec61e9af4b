package contract

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/autorenta/settlement/internal/validation"
)

// Handler provides HTTP endpoints for contract acceptance.
type Handler struct {
	service *Service
}

// NewHandler creates a new contract handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up contract routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/bookings/:id/contract/accept", h.Accept)
	r.GET("/bookings/:id/contract", h.Get)
}

// AcceptRequest is the body for POST /bookings/:id/contract/accept.
type AcceptRequest struct {
	AcceptedBy string          `json:"accepted_by"`
	Clauses    map[string]bool `json:"clauses"`
}

// Accept handles POST /v1/bookings/:id/contract/accept
func (h *Handler) Accept(c *gin.Context) {
	bookingID := c.Param("id")

	var req AcceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("accepted_by", req.AcceptedBy),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	a, err := h.service.RecordAcceptance(c.Request.Context(), bookingID, req.AcceptedBy, req.Clauses)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"acceptance": a})
}

// Get handles GET /v1/bookings/:id/contract
func (h *Handler) Get(c *gin.Context) {
	a, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "No contract acceptance recorded for booking",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"acceptance": a})
}
