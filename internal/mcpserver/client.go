package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to the settlement API.
type Config struct {
	APIURL    string // Base URL, e.g. "http://localhost:8080"
	AccountID string // Operator account, sent as X-Account-ID
}

// SettlementClient is a pure HTTP client for the settlement API.
type SettlementClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewSettlementClient creates a new client for the settlement API.
func NewSettlementClient(cfg Config) *SettlementClient {
	return &SettlementClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *SettlementClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("X-Account-ID", c.cfg.AccountID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// GetBooking returns a booking with its caller-relative view.
func (c *SettlementClient) GetBooking(ctx context.Context, bookingID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/bookings/"+bookingID, nil, nil)
}

// ListBookings lists bookings involving the operator account.
func (c *SettlementClient) ListBookings(ctx context.Context, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/bookings", q, nil)
}

// GetBalance returns a wallet balance.
func (c *SettlementClient) GetBalance(ctx context.Context, accountID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/v1/wallets/"+accountID+"/balance", nil, nil)
}

// GetHistory returns recent ledger entries for an account.
func (c *SettlementClient) GetHistory(ctx context.Context, accountID string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/wallets/"+accountID+"/history", q, nil)
}

// ListPaymentIssues lists payment issues by status.
func (c *SettlementClient) ListPaymentIssues(ctx context.Context, status string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/v1/payment-issues", q, nil)
}

// ResolvePaymentIssue marks a payment issue as resolved.
func (c *SettlementClient) ResolvePaymentIssue(ctx context.Context, issueID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/v1/payment-issues/"+issueID+"/resolve", nil, nil)
}

// ResolveDispute settles a disputed booking with an arbitrated damage amount.
func (c *SettlementClient) ResolveDispute(ctx context.Context, bookingID string, damageCents int64) (json.RawMessage, error) {
	body := map[string]int64{
		"damage_amount_cents": damageCents,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/bookings/"+bookingID+"/resolve-dispute", nil, body)
}
