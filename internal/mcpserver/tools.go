package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the riskd MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolGetProductProfile = mcp.NewTool("get_product_profile",
	mcp.WithDescription(
		"Look up the risk profiles configured for a rental product. "+
			"Returns risk level, mandatory requirements (insurance, inspections, minimum coverage), "+
			"enforcement level and whether violations are recorded automatically."),
	mcp.WithString("product_id",
		mcp.Required(),
		mcp.Description("Product UUID")),
	mcp.WithString("category_id",
		mcp.Description("Only show the profile for this category")),
)

var ToolCheckCompliance = mcp.NewTool("check_compliance",
	mcp.WithDescription(
		"Evaluate a booking against its product's active risk profile without recording violations. "+
			"Returns a compliance score (0-100), status, and the unmet requirements."),
	mcp.WithString("booking_id",
		mcp.Required(),
		mcp.Description("Booking UUID")),
)

var ToolEnforceBooking = mcp.NewTool("enforce_booking",
	mcp.WithDescription(
		"Evaluate a booking and, when the profile enables auto-enforcement, record a violation "+
			"for every unmet requirement. Requirements that already have an open violation are skipped. "+
			"Requires an ADMIN, SUPER_ADMIN or INSPECTOR token."),
	mcp.WithString("booking_id",
		mcp.Required(),
		mcp.Description("Booking UUID")),
)

var ToolListViolations = mcp.NewTool("list_violations",
	mcp.WithDescription(
		"List compliance violations, most recent first. Filter by booking, product, status or severity."),
	mcp.WithString("booking_id",
		mcp.Description("Only violations for this booking")),
	mcp.WithString("product_id",
		mcp.Description("Only violations for this product")),
	mcp.WithString("status",
		mcp.Description("Violation status"),
		mcp.Enum("open", "in_progress", "under_investigation", "escalated", "resolved", "closed")),
	mcp.WithString("severity",
		mcp.Description("Violation severity"),
		mcp.Enum("minor", "moderate", "major", "critical")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of violations to return (default 20)")),
)

var ToolGetRiskStats = mcp.NewTool("get_risk_stats",
	mcp.WithDescription(
		"Get platform risk statistics: profile counts by risk level, violation counts by status and severity, "+
			"enforcement totals and average compliance score. With a period, returns daily trends instead."),
	mcp.WithString("period",
		mcp.Description("Trend window; omit for the overview"),
		mcp.Enum("7d", "30d", "90d")),
)
