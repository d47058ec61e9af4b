package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client    *SettlementClient
	accountID string
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *SettlementClient, accountID string) *Handlers {
	return &Handlers{client: client, accountID: accountID}
}

// HandleGetBooking returns a booking with its derived state.
func (h *Handlers) HandleGetBooking(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bookingID := req.GetString("booking_id", "")
	if bookingID == "" {
		return mcp.NewToolResultError("booking_id is required"), nil
	}

	raw, err := h.client.GetBooking(ctx, bookingID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get booking: %v", err)), nil
	}

	text, err := formatBooking(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse booking: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleListBookings lists the operator account's bookings.
func (h *Handlers) HandleListBookings(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListBookings(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list bookings: %v", err)), nil
	}

	text, err := formatBookingList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse bookings: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleCheckWalletBalance returns a wallet's pool balances.
func (h *Handlers) HandleCheckWalletBalance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	accountID := req.GetString("account_id", h.accountID)
	if accountID == "" {
		return mcp.NewToolResultError("account_id is required (no operator account configured)"), nil
	}

	raw, err := h.client.GetBalance(ctx, accountID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to check balance: %v", err)), nil
	}

	text, err := formatBalance(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse balance: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetWalletHistory lists recent ledger entries.
func (h *Handlers) HandleGetWalletHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	accountID := req.GetString("account_id", h.accountID)
	if accountID == "" {
		return mcp.NewToolResultError("account_id is required (no operator account configured)"), nil
	}
	limit := req.GetInt("limit", 20)

	raw, err := h.client.GetHistory(ctx, accountID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get history: %v", err)), nil
	}

	text, err := formatHistory(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse history: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleListPaymentIssues lists issues awaiting operator review.
func (h *Handlers) HandleListPaymentIssues(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := req.GetString("status", "")
	limit := req.GetInt("limit", 20)

	raw, err := h.client.ListPaymentIssues(ctx, status, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list payment issues: %v", err)), nil
	}

	text, err := formatIssueList(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse payment issues: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleResolvePaymentIssue marks an issue resolved.
func (h *Handlers) HandleResolvePaymentIssue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	issueID := req.GetString("issue_id", "")
	if issueID == "" {
		return mcp.NewToolResultError("issue_id is required"), nil
	}

	_, err := h.client.ResolvePaymentIssue(ctx, issueID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to resolve issue: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Issue %s marked as resolved.", issueID)), nil
}

// HandleResolveDispute settles a disputed booking with an arbitrated amount.
func (h *Handlers) HandleResolveDispute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bookingID := req.GetString("booking_id", "")
	if bookingID == "" {
		return mcp.NewToolResultError("booking_id is required"), nil
	}
	damageCents := req.GetInt("damage_amount_cents", -1)
	if damageCents < 0 {
		return mcp.NewToolResultError("damage_amount_cents is required and must be >= 0"), nil
	}

	raw, err := h.client.ResolveDispute(ctx, bookingID, int64(damageCents))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to resolve dispute: %v", err)), nil
	}

	var b map[string]any
	if err := json.Unmarshal(raw, &b); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse booking: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Dispute resolved for booking %s.\n"+
			"Arbitrated damage: %s\n"+
			"Funds have been settled; the booking is now completed.",
		bookingID, formatCents(int64(damageCents)))), nil
}

// --- Formatting helpers ---

func formatBooking(raw json.RawMessage) (string, error) {
	var resp struct {
		Booking map[string]any `json:"booking"`
		View    map[string]any `json:"view"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.Booking == nil {
		return "", fmt.Errorf("unexpected booking response format")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Booking %s\n", getString(resp.Booking, "id"))
	fmt.Fprintf(&sb, "  Car: %s\n", getString(resp.Booking, "car_id"))
	fmt.Fprintf(&sb, "  Owner: %s | Renter: %s\n",
		getString(resp.Booking, "owner_id"), getString(resp.Booking, "renter_id"))
	if v, ok := getFloat(resp.Booking, "rental_amount_cents"); ok {
		fmt.Fprintf(&sb, "  Rental: %s", formatCents(int64(v)))
		if d, ok := getFloat(resp.Booking, "deposit_amount_cents"); ok {
			fmt.Fprintf(&sb, " | Deposit: %s", formatCents(int64(d)))
		}
		sb.WriteString("\n")
	}

	if resp.View != nil {
		fmt.Fprintf(&sb, "  State: %s\n", getString(resp.View, "state"))
		if actor := getString(resp.View, "actor"); actor != "" && actor != "none" {
			fmt.Fprintf(&sb, "  Waiting on: %s\n", actor)
		}
		if v, ok := getFloat(resp.View, "auto_release_countdown_seconds"); ok {
			fmt.Fprintf(&sb, "  Auto-release in: %.0f seconds\n", v)
		}
		if damage, ok := resp.View["damage"].(map[string]any); ok {
			fmt.Fprintf(&sb, "  Damage reported: %s", formatCentsAny(damage["amount_cents"]))
			if desc := getString(damage, "description"); desc != "" {
				fmt.Fprintf(&sb, " (%s)", desc)
			}
			sb.WriteString("\n")
		}
	}
	if reason := getString(resp.Booking, "cancellation_reason"); reason != "" {
		fmt.Fprintf(&sb, "  Cancelled: %s\n", reason)
	}

	return sb.String(), nil
}

func formatBookingList(raw json.RawMessage) (string, error) {
	var resp struct {
		Bookings []map[string]any `json:"bookings"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected bookings response format")
	}

	if len(resp.Bookings) == 0 {
		return "No bookings found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d booking(s):\n\n", len(resp.Bookings))
	for i, b := range resp.Bookings {
		fmt.Fprintf(&sb, "%d. %s — %s\n", i+1, getString(b, "id"), getString(b, "status"))
		fmt.Fprintf(&sb, "   Car: %s | Owner: %s | Renter: %s\n",
			getString(b, "car_id"), getString(b, "owner_id"), getString(b, "renter_id"))
	}
	return sb.String(), nil
}

func formatBalance(raw json.RawMessage) (string, error) {
	var resp struct {
		Balance map[string]any `json:"balance"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if resp.Balance == nil {
		return "", fmt.Errorf("unexpected balance response format")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Wallet %s:\n", getString(resp.Balance, "account_id"))
	fmt.Fprintf(&sb, "  Protection credit: %s\n", formatCentsAny(resp.Balance["protection_credit_cents"]))
	fmt.Fprintf(&sb, "  Cash: %s\n", formatCentsAny(resp.Balance["cash_cents"]))
	fmt.Fprintf(&sb, "  Locked: %s\n", formatCentsAny(resp.Balance["locked_cents"]))
	if v, ok := getFloat(resp.Balance, "claim_free_completions"); ok && v > 0 {
		fmt.Fprintf(&sb, "  Claim-free completions: %.0f\n", v)
	}
	return sb.String(), nil
}

func formatHistory(raw json.RawMessage) (string, error) {
	var resp struct {
		Entries []map[string]any `json:"entries"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected history response format")
	}

	if len(resp.Entries) == 0 {
		return "No ledger entries found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Last %d ledger entries:\n\n", len(resp.Entries))
	for _, e := range resp.Entries {
		fmt.Fprintf(&sb, "  %s  %-16s %s", getString(e, "created_at"), getString(e, "kind"),
			formatCentsAny(e["amount_cents"]))
		if ref := getString(e, "reference_id"); ref != "" {
			fmt.Fprintf(&sb, "  (%s)", ref)
		}
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

func formatIssueList(raw json.RawMessage) (string, error) {
	var resp struct {
		Issues []map[string]any `json:"issues"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("unexpected issues response format")
	}

	if len(resp.Issues) == 0 {
		return "No payment issues found.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d payment issue(s):\n\n", len(resp.Issues))
	for i, issue := range resp.Issues {
		fmt.Fprintf(&sb, "%d. %s [%s/%s]\n", i+1,
			getString(issue, "id"), getString(issue, "severity"), getString(issue, "status"))
		fmt.Fprintf(&sb, "   Booking: %s | Type: %s\n",
			getString(issue, "booking_id"), getString(issue, "type"))
		if v := getString(issue, "last_error"); v != "" {
			fmt.Fprintf(&sb, "   Last error: %s\n", v)
		}
		if i < len(resp.Issues)-1 {
			sb.WriteString("\n")
		}
	}
	return sb.String(), nil
}

// formatCents renders an integer cent amount as a currency string.
func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%sARS %d.%02d", sign, cents/100, cents%100)
}

func formatCentsAny(v any) string {
	if f, ok := v.(float64); ok {
		return formatCents(int64(f))
	}
	return "ARS 0.00"
}

// getString extracts a string value from a map, trying multiple key names.
func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok {
				return s
			}
			if f, ok := v.(float64); ok {
				return fmt.Sprintf("%g", f)
			}
		}
	}
	return ""
}

// getFloat extracts a float64 value from a map, trying multiple key names.
func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if f, ok := v.(float64); ok {
				return f, true
			}
		}
	}
	return 0, false
}
