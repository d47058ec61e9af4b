package wallet

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	svc := NewService(NewMemoryStore())
	h := NewHandler(svc)

	r := gin.New()
	v1 := r.Group("/v1")
	h.RegisterRoutes(v1)
	return r, svc
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_DepositAndBalance(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/wallets/renter-1/deposit", DepositRequest{
		AmountCents: 25000,
		Description: "card top-up",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = doJSON(t, r, http.MethodGet, "/v1/wallets/renter-1/balance", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Balance Balance `json:"balance"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(25000), resp.Balance.Cash)
}

func TestHandler_DepositRejectsNonPositiveAmount(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/wallets/renter-1/deposit", DepositRequest{AmountCents: 0})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_error")
}

func TestHandler_LockLifecycle(t *testing.T) {
	r, svc := setupRouter(t)
	require.NoError(t, svc.Deposit(context.Background(), "renter-1", 50000, ""))

	w := doJSON(t, r, http.MethodPost, "/v1/wallets/renter-1/lock", LockRequest{
		AmountCents: 20000,
		Pool:        string(PoolCash),
		Purpose:     PurposeDeposit,
		ReferenceID: "bkg_http:deposit",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Duplicate submission returns 200 with the original lock.
	w = doJSON(t, r, http.MethodPost, "/v1/wallets/renter-1/lock", LockRequest{
		AmountCents: 20000,
		Pool:        string(PoolCash),
		Purpose:     PurposeDeposit,
		ReferenceID: "bkg_http:deposit",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"already_locked":true`)

	w = doJSON(t, r, http.MethodGet, "/v1/locks/bkg_http:deposit", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, r, http.MethodPost, "/v1/wallets/renter-1/unlock", UnlockRequest{
		ReferenceID: "bkg_http:deposit",
	})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_LockInsufficientFunds(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/wallets/renter-1/lock", LockRequest{
		AmountCents: 100,
		Pool:        string(PoolCash),
		Purpose:     PurposeRental,
		ReferenceID: "bkg_http2:rental",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "account_not_found")
}

func TestHandler_UnlockUnknownReferenceSucceeds(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(t, r, http.MethodPost, "/v1/wallets/renter-1/unlock", UnlockRequest{
		ReferenceID: "bkg_never:deposit",
	})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandler_GetLockNotFound(t *testing.T) {
	r, _ := setupRouter(t)

	w := doJSON(t, r, http.MethodGet, "/v1/locks/bkg_missing:rental", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "lock_not_found")
}

func TestHandler_History(t *testing.T) {
	r, svc := setupRouter(t)
	ctx := context.Background()
	require.NoError(t, svc.Deposit(ctx, "renter-1", 10000, "first"))
	require.NoError(t, svc.Deposit(ctx, "renter-1", 5000, "second"))

	w := doJSON(t, r, http.MethodGet, "/v1/wallets/renter-1/history?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Entries []Entry `json:"entries"`
		Count   int     `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "second", resp.Entries[0].Description)
}
