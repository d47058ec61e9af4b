package booking

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/autorenta/settlement/internal/contract"
	"github.com/autorenta/settlement/internal/insurance"
	"github.com/autorenta/settlement/internal/payments"
	"github.com/autorenta/settlement/internal/wallet"
)

// Handler provides HTTP endpoints for the booking workflow. The caller's
// account is taken from the X-Account-ID header.
type Handler struct {
	service *Service
}

// NewHandler creates a new booking handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up booking routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/bookings", h.CreateBooking)
	r.GET("/bookings", h.ListBookings)
	r.GET("/bookings/:id", h.GetBooking)
	r.GET("/bookings/:id/state", h.GetDerivedState)
	r.POST("/bookings/:id/pay", h.PayBooking)
	r.POST("/bookings/:id/start", h.StartTrip)
	r.POST("/bookings/:id/return", h.ReturnVehicle)
	r.POST("/bookings/:id/inspection", h.SubmitInspection)
	r.POST("/bookings/:id/conclusion", h.ResolveConclusion)
	r.POST("/bookings/:id/cancel", h.CancelBooking)
	r.POST("/bookings/:id/resolve-dispute", h.ResolveDispute)
}

func caller(c *gin.Context) string {
	return c.GetHeader("X-Account-ID")
}

// CreateBooking handles POST /v1/bookings
func (h *Handler) CreateBooking(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	b, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		respondBookingError(c, err)
		return
	}
	c.JSON(http.StatusCreated, b)
}

// ListBookings handles GET /v1/bookings
func (h *Handler) ListBookings(c *gin.Context) {
	accountID := caller(c)
	if accountID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "X-Account-ID header required"})
		return
	}
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	bookings, err := h.service.ListByAccount(c.Request.Context(), accountID, limit)
	if err != nil {
		respondBookingError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bookings": bookings, "count": len(bookings)})
}

// GetBooking handles GET /v1/bookings/:id
func (h *Handler) GetBooking(c *gin.Context) {
	b, view, err := h.service.View(c.Request.Context(), c.Param("id"), caller(c))
	if err != nil {
		respondBookingError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"booking": b, "view": view})
}

// GetDerivedState handles GET /v1/bookings/:id/state
func (h *Handler) GetDerivedState(c *gin.Context) {
	_, view, err := h.service.View(c.Request.Context(), c.Param("id"), caller(c))
	if err != nil {
		respondBookingError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// PayBooking handles POST /v1/bookings/:id/pay
func (h *Handler) PayBooking(c *gin.Context) {
	b, err := h.service.Pay(c.Request.Context(), c.Param("id"), caller(c))
	if err != nil {
		respondBookingError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// StartTrip handles POST /v1/bookings/:id/start
func (h *Handler) StartTrip(c *gin.Context) {
	b, err := h.service.StartTrip(c.Request.Context(), c.Param("id"), caller(c))
	if err != nil {
		respondBookingError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// ReturnVehicle handles POST /v1/bookings/:id/return
func (h *Handler) ReturnVehicle(c *gin.Context) {
	b, err := h.service.ReturnVehicle(c.Request.Context(), c.Param("id"), caller(c))
	if err != nil {
		respondBookingError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// SubmitInspection handles POST /v1/bookings/:id/inspection
func (h *Handler) SubmitInspection(c *gin.Context) {
	var req InspectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	b, err := h.service.SubmitInspection(c.Request.Context(), c.Param("id"), caller(c), req)
	if err != nil {
		respondBookingError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// ResolveConclusion handles POST /v1/bookings/:id/conclusion
func (h *Handler) ResolveConclusion(c *gin.Context) {
	var req ConclusionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	b, err := h.service.ResolveConclusion(c.Request.Context(), c.Param("id"), caller(c), req)
	if err != nil {
		respondBookingError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// CancelBooking handles POST /v1/bookings/:id/cancel
func (h *Handler) CancelBooking(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.ShouldBindJSON(&req)
	b, err := h.service.Cancel(c.Request.Context(), c.Param("id"), caller(c), req.Reason)
	if err != nil {
		respondBookingError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

// ResolveDispute handles POST /v1/bookings/:id/resolve-dispute
func (h *Handler) ResolveDispute(c *gin.Context) {
	var req struct {
		DamageAmountCents int64 `json:"damage_amount_cents"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	b, err := h.service.ResolveDispute(c.Request.Context(), c.Param("id"), req.DamageAmountCents)
	if err != nil {
		respondBookingError(c, err)
		return
	}
	c.JSON(http.StatusOK, b)
}

func respondBookingError(c *gin.Context, err error) {
	var incomplete *contract.IncompleteAcceptanceError
	var expired *contract.ExpiredError

	switch {
	case errors.Is(err, ErrBookingNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "booking_not_found", "message": err.Error()})
	case errors.Is(err, ErrNotAllowed):
		c.JSON(http.StatusForbidden, gin.H{"error": "not_your_turn", "message": err.Error()})
	case errors.Is(err, ErrAlreadySettled):
		c.JSON(http.StatusConflict, gin.H{"error": "already_settled", "message": err.Error()})
	case errors.Is(err, ErrStateViolation):
		c.JSON(http.StatusConflict, gin.H{"error": "state_violation", "message": err.Error()})
	case errors.Is(err, contract.ErrNotAccepted):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "contract_not_accepted", "message": err.Error()})
	case errors.As(err, &incomplete):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":           "incomplete_clause_acceptance",
			"message":         err.Error(),
			"missing_clauses": incomplete.Missing,
		})
	case errors.As(err, &expired):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":         "contract_acceptance_expired",
			"message":       err.Error(),
			"hours_elapsed": expired.HoursElapsed,
		})
	case errors.Is(err, insurance.ErrActivationFailed):
		c.JSON(http.StatusBadGateway, gin.H{"error": "insurance_activation_failed", "message": err.Error()})
	case errors.Is(err, payments.ErrProviderUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "payment_provider_unavailable", "message": err.Error()})
	case errors.Is(err, ErrExternalPaymentRequired):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "external_payment_required", "message": err.Error()})
	case errors.Is(err, wallet.ErrInsufficientFunds):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "insufficient_funds", "message": err.Error()})
	case errors.Is(err, wallet.ErrLockConflict):
		c.JSON(http.StatusLocked, gin.H{"error": "lock_conflict", "message": err.Error()})
	case errors.Is(err, wallet.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate_limited", "message": err.Error()})
	case errors.Is(err, wallet.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_amount", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}
