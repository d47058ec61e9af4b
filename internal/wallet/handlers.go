package wallet

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/autorenta/settlement/internal/validation"
)

// Handler provides HTTP endpoints for wallet operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new wallet handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up wallet routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/wallets/:account/balance", h.GetBalance)
	r.GET("/wallets/:account/history", h.GetHistory)
	r.POST("/wallets/:account/deposit", h.Deposit)
	r.POST("/wallets/:account/lock", h.LockFunds)
	r.POST("/wallets/:account/unlock", h.UnlockFunds)
	r.GET("/locks/:reference", h.GetLock)
}

// LockRequest is the body for POST /wallets/:account/lock.
type LockRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Pool        string `json:"pool"`
	Purpose     string `json:"purpose"`
	ReferenceID string `json:"reference_id"`
}

// UnlockRequest is the body for POST /wallets/:account/unlock.
type UnlockRequest struct {
	ReferenceID string `json:"reference_id"`
}

// DepositRequest is the body for POST /wallets/:account/deposit.
type DepositRequest struct {
	AmountCents int64  `json:"amount_cents"`
	Description string `json:"description"`
}

// GetBalance handles GET /v1/wallets/:account/balance
func (h *Handler) GetBalance(c *gin.Context) {
	account := c.Param("account")

	bal, err := h.service.GetBalance(c.Request.Context(), account)
	if err != nil {
		respondWalletError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": bal})
}

// GetHistory handles GET /v1/wallets/:account/history
func (h *Handler) GetHistory(c *gin.Context) {
	account := c.Param("account")
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
			if limit > 200 {
				limit = 200
			}
		}
	}

	entries, err := h.service.GetHistory(c.Request.Context(), account, limit)
	if err != nil {
		respondWalletError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

// Deposit handles POST /v1/wallets/:account/deposit
func (h *Handler) Deposit(c *gin.Context) {
	account := c.Param("account")

	var req DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.PositiveCents("amount_cents", req.AmountCents),
		validation.MaxLength("description", req.Description, 500),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	if err := h.service.Deposit(c.Request.Context(), account, req.AmountCents, req.Description); err != nil {
		respondWalletError(c, err)
		return
	}

	bal, err := h.service.GetBalance(c.Request.Context(), account)
	if err != nil {
		respondWalletError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": bal})
}

// LockFunds handles POST /v1/wallets/:account/lock
func (h *Handler) LockFunds(c *gin.Context) {
	account := c.Param("account")

	var req LockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.PositiveCents("amount_cents", req.AmountCents),
		validation.Required("pool", req.Pool),
		validation.Required("reference_id", req.ReferenceID),
		validation.MaxLength("reference_id", req.ReferenceID, 255),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	lock, already, err := h.service.LockFunds(c.Request.Context(),
		account, req.AmountCents, Pool(req.Pool), req.Purpose, req.ReferenceID)
	if err != nil {
		respondWalletError(c, err)
		return
	}

	status := http.StatusCreated
	if already {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{
		"lock":           lock,
		"already_locked": already,
	})
}

// UnlockFunds handles POST /v1/wallets/:account/unlock
func (h *Handler) UnlockFunds(c *gin.Context) {
	account := c.Param("account")

	var req UnlockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "reference_id is required",
		})
		return
	}

	if err := h.service.UnlockFunds(c.Request.Context(), account, req.ReferenceID); err != nil {
		respondWalletError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unlocked": true})
}

// GetLock handles GET /v1/locks/:reference
func (h *Handler) GetLock(c *gin.Context) {
	lock, err := h.service.GetLock(c.Request.Context(), c.Param("reference"))
	if err != nil {
		respondWalletError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"lock": lock})
}

// respondWalletError maps wallet sentinels to stable machine-readable codes.
func respondWalletError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrAccountNotFound):
		status = http.StatusNotFound
		code = "account_not_found"
	case errors.Is(err, ErrLockNotFound):
		status = http.StatusNotFound
		code = "lock_not_found"
	case errors.Is(err, ErrInsufficientFunds):
		status = http.StatusUnprocessableEntity
		code = "insufficient_funds"
	case errors.Is(err, ErrInvalidAmount):
		status = http.StatusBadRequest
		code = "invalid_amount"
	case errors.Is(err, ErrLockConflict):
		status = http.StatusLocked
		code = "lock_conflict"
	case errors.Is(err, ErrRateLimited):
		status = http.StatusTooManyRequests
		code = "rate_limited"
	case errors.Is(err, ErrLockNotOpen):
		status = http.StatusConflict
		code = "lock_not_open"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
