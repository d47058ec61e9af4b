package insurance

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for the payment issue review queue.
type Handler struct {
	service *Service
}

// NewHandler creates a new insurance handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up review queue routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/payment-issues", h.ListIssues)
	r.POST("/payment-issues/:id/resolve", h.ResolveIssue)
}

// ListIssues handles GET /v1/payment-issues
func (h *Handler) ListIssues(c *gin.Context) {
	status := c.DefaultQuery("status", StatusPendingReview)
	if status == "all" {
		status = ""
	}
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	issues, err := h.service.ListIssues(c.Request.Context(), status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"issues": issues,
		"count":  len(issues),
	})
}

// ResolveIssue handles POST /v1/payment-issues/:id/resolve
func (h *Handler) ResolveIssue(c *gin.Context) {
	if err := h.service.ResolveIssue(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, ErrIssueNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error":   "not_found",
				"message": "Payment issue not found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"resolved": true})
}
