package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the settlement MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetBooking = mcp.NewTool("get_booking",
	mcp.WithDescription(
		"Get a booking's full record and derived workflow state. "+
			"Shows whose turn it is, damage reports, and the auto-release countdown."),
	mcp.WithString("booking_id",
		mcp.Required(),
		mcp.Description("The booking ID (e.g. 'bkg_...')")),
)

var ToolListBookings = mcp.NewTool("list_bookings",
	mcp.WithDescription(
		"List recent bookings involving the operator account, newest first."),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of bookings to return (default 20)")),
)

var ToolCheckWalletBalance = mcp.NewTool("check_wallet_balance",
	mcp.WithDescription(
		"Check a wallet's balance: protection credit, cash, and funds locked "+
			"for active bookings. Amounts are in cents."),
	mcp.WithString("account_id",
		mcp.Description("Account to inspect. Defaults to the operator account.")),
)

var ToolGetWalletHistory = mcp.NewTool("get_wallet_history",
	mcp.WithDescription(
		"List recent ledger entries for a wallet: deposits, locks, releases, "+
			"settlements, and refunds."),
	mcp.WithString("account_id",
		mcp.Description("Account to inspect. Defaults to the operator account.")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of entries to return (default 20)")),
)

var ToolListPaymentIssues = mcp.NewTool("list_payment_issues",
	mcp.WithDescription(
		"List payment issues raised for operator review, such as insurance "+
			"activation failures that exhausted their retries."),
	mcp.WithString("status",
		mcp.Description("Filter by status: 'pending_review' (default), 'resolved', or 'all'"),
		mcp.Enum("pending_review", "resolved", "all")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of issues to return (default 20)")),
)

var ToolResolvePaymentIssue = mcp.NewTool("resolve_payment_issue",
	mcp.WithDescription(
		"Mark a payment issue as resolved after the underlying problem has "+
			"been handled (e.g. the policy was activated manually)."),
	mcp.WithString("issue_id",
		mcp.Required(),
		mcp.Description("The issue ID from a previous list_payment_issues result")),
)

var ToolResolveDispute = mcp.NewTool("resolve_dispute",
	mcp.WithDescription(
		"Settle a disputed booking with an arbitrated damage amount. "+
			"The damage is deducted from the renter's deposit (protection credit "+
			"first, then cash) and paid to the owner; the remainder is returned. "+
			"Pass 0 to rule in the renter's favor."),
	mcp.WithString("booking_id",
		mcp.Required(),
		mcp.Description("The disputed booking's ID")),
	mcp.WithNumber("damage_amount_cents",
		mcp.Required(),
		mcp.Description("Arbitrated damage amount in cents (0 = no damage owed)")),
)
