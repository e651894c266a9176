package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *RiskClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *RiskClient) *Handlers {
	return &Handlers{client: client}
}

// HandleGetProductProfile lists the risk profiles of a product.
func (h *Handlers) HandleGetProductProfile(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	productID := strings.TrimSpace(req.GetString("product_id", ""))
	if productID == "" {
		return mcp.NewToolResultError("product_id is required"), nil
	}
	categoryID := strings.TrimSpace(req.GetString("category_id", ""))

	raw, err := h.client.ProductProfiles(ctx, productID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get profiles: %v", err)), nil
	}

	text, err := formatProfiles(raw, categoryID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse profiles: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// HandleCheckCompliance evaluates a booking without side effects.
func (h *Handlers) HandleCheckCompliance(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bookingID := strings.TrimSpace(req.GetString("booking_id", ""))
	if bookingID == "" {
		return mcp.NewToolResultError("booking_id is required"), nil
	}

	raw, err := h.client.CheckCompliance(ctx, bookingID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Compliance check failed: %v", err)), nil
	}

	var resp struct {
		Compliance checkView `json:"compliance"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse compliance: %v", err)), nil
	}
	return mcp.NewToolResultText(formatCheck(resp.Compliance)), nil
}

// HandleEnforceBooking evaluates a booking and records violations.
func (h *Handlers) HandleEnforceBooking(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	bookingID := strings.TrimSpace(req.GetString("booking_id", ""))
	if bookingID == "" {
		return mcp.NewToolResultError("booking_id is required"), nil
	}

	raw, err := h.client.Enforce(ctx, bookingID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Enforcement failed: %v", err)), nil
	}

	var resp struct {
		Compliance         checkView       `json:"compliance"`
		ViolationsRecorded int             `json:"violationsRecorded"`
		DuplicatesSkipped  int             `json:"duplicatesSkipped"`
		Violations         []violationView `json:"violations"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse enforcement: %v", err)), nil
	}

	var sb strings.Builder
	sb.WriteString(formatCheck(resp.Compliance))
	fmt.Fprintf(&sb, "\nViolations recorded: %d\n", resp.ViolationsRecorded)
	if resp.DuplicatesSkipped > 0 {
		fmt.Fprintf(&sb, "Already open (skipped): %d\n", resp.DuplicatesSkipped)
	}
	for _, v := range resp.Violations {
		sb.WriteString(v.line())
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleListViolations lists violations matching the filters.
func (h *Handlers) HandleListViolations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := ViolationQuery{
		BookingID: strings.TrimSpace(req.GetString("booking_id", "")),
		ProductID: strings.TrimSpace(req.GetString("product_id", "")),
		Status:    req.GetString("status", ""),
		Severity:  req.GetString("severity", ""),
		Limit:     req.GetInt("limit", 20),
	}

	raw, err := h.client.ListViolations(ctx, q)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list violations: %v", err)), nil
	}

	var resp struct {
		Violations []violationView `json:"violations"`
		Total      int             `json:"total"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse violations: %v", err)), nil
	}
	if len(resp.Violations) == 0 {
		return mcp.NewToolResultText("No violations found."), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Showing %d of %d violation(s):\n\n", len(resp.Violations), resp.Total)
	for _, v := range resp.Violations {
		sb.WriteString(v.line())
	}
	return mcp.NewToolResultText(sb.String()), nil
}

// HandleGetRiskStats returns the overview, or trends when a period is given.
func (h *Handlers) HandleGetRiskStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if period := req.GetString("period", ""); period != "" {
		raw, err := h.client.Trends(ctx, period)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("Failed to get trends: %v", err)), nil
		}
		return mcp.NewToolResultText(formatJSON(raw)), nil
	}

	raw, err := h.client.Stats(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get stats: %v", err)), nil
	}
	text, err := formatStats(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse stats: %v", err)), nil
	}
	return mcp.NewToolResultText(text), nil
}

// --- Formatting helpers ---

type profileView struct {
	ID                    string  `json:"id"`
	CategoryID            string  `json:"categoryId"`
	RiskLevel             string  `json:"riskLevel"`
	EnforcementLevel      string  `json:"enforcementLevel"`
	AutoEnforcement       bool    `json:"autoEnforcement"`
	GracePeriodHours      float64 `json:"gracePeriodHours"`
	IsActive              bool    `json:"isActive"`
	Version               int     `json:"version"`
	MandatoryRequirements struct {
		Insurance       bool     `json:"insurance"`
		Inspection      bool     `json:"inspection"`
		MinCoverage     float64  `json:"minCoverage"`
		InspectionTypes []string `json:"inspectionTypes"`
	} `json:"mandatoryRequirements"`
}

type checkView struct {
	BookingID           string   `json:"bookingId"`
	ComplianceScore     float64  `json:"complianceScore"`
	ComplianceStatus    string   `json:"complianceStatus"`
	MissingRequirements []string `json:"missingRequirements"`
	DeadlineAt          string   `json:"deadlineAt"`
	Requirements        []struct {
		Key       string `json:"key"`
		Satisfied bool   `json:"satisfied"`
		Detail    string `json:"detail"`
	} `json:"requirements"`
}

type violationView struct {
	ID          string `json:"id"`
	BookingID   string `json:"bookingId"`
	Type        string `json:"violationType"`
	Severity    string `json:"severity"`
	Status      string `json:"status"`
	Requirement string `json:"requirement"`
	DueAt       string `json:"dueAt"`
}

func (v violationView) line() string {
	s := fmt.Sprintf("- %s [%s/%s] %s", v.ID, v.Severity, v.Status, v.Type)
	if v.Requirement != "" {
		s += " (" + v.Requirement + ")"
	}
	if v.DueAt != "" {
		s += " due " + v.DueAt
	}
	return s + "\n"
}

func formatProfiles(raw json.RawMessage, categoryID string) (string, error) {
	var resp struct {
		Profiles []profileView `json:"profiles"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	profiles := resp.Profiles
	if categoryID != "" {
		profiles = profiles[:0:0]
		for _, p := range resp.Profiles {
			if strings.EqualFold(p.CategoryID, categoryID) {
				profiles = append(profiles, p)
			}
		}
	}
	if len(profiles) == 0 {
		return "No risk profile found for this product.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d profile(s):\n", len(profiles))
	for _, p := range profiles {
		state := "active"
		if !p.IsActive {
			state = "inactive"
		}
		fmt.Fprintf(&sb, "\nProfile %s (v%d, %s)\n", p.ID, p.Version, state)
		fmt.Fprintf(&sb, "  Category: %s\n", p.CategoryID)
		fmt.Fprintf(&sb, "  Risk level: %s | Enforcement: %s\n", p.RiskLevel, p.EnforcementLevel)
		fmt.Fprintf(&sb, "  Auto-enforcement: %t | Grace period: %gh\n", p.AutoEnforcement, p.GracePeriodHours)

		var reqs []string
		m := p.MandatoryRequirements
		if m.Insurance {
			reqs = append(reqs, "insurance")
		}
		if m.Inspection {
			reqs = append(reqs, "inspection")
		}
		if m.MinCoverage > 0 {
			reqs = append(reqs, fmt.Sprintf("coverage >= %.2f", m.MinCoverage))
		}
		for _, t := range m.InspectionTypes {
			reqs = append(reqs, t+" inspection")
		}
		if len(reqs) == 0 {
			reqs = []string{"none"}
		}
		fmt.Fprintf(&sb, "  Requirements: %s\n", strings.Join(reqs, ", "))
	}
	return sb.String(), nil
}

func formatCheck(c checkView) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Booking %s: %s (score %.2f)\n", c.BookingID, c.ComplianceStatus, c.ComplianceScore)
	for _, r := range c.Requirements {
		mark := "x"
		if r.Satisfied {
			mark = "ok"
		}
		fmt.Fprintf(&sb, "  [%s] %s: %s\n", mark, r.Key, r.Detail)
	}
	if len(c.MissingRequirements) > 0 {
		fmt.Fprintf(&sb, "Missing: %s\n", strings.Join(c.MissingRequirements, ", "))
	}
	if c.DeadlineAt != "" {
		fmt.Fprintf(&sb, "Deadline: %s\n", c.DeadlineAt)
	}
	return sb.String()
}

func formatStats(raw json.RawMessage) (string, error) {
	var resp struct {
		Profiles struct {
			Total       int            `json:"total"`
			Active      int            `json:"active"`
			ByRiskLevel map[string]int `json:"byRiskLevel"`
		} `json:"profiles"`
		Violations struct {
			Total            int            `json:"total"`
			Unresolved       int            `json:"unresolved"`
			BySeverity       map[string]int `json:"bySeverity"`
			OpenPenaltyTotal string         `json:"openPenaltyTotal"`
		} `json:"violations"`
		Enforcement struct {
			Total    int            `json:"total"`
			ByStatus map[string]int `json:"byStatus"`
		} `json:"enforcement"`
		Compliance struct {
			Checks       int     `json:"checks"`
			AverageScore float64 `json:"averageScore"`
		} `json:"compliance"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	sb.WriteString("Risk overview:\n")
	fmt.Fprintf(&sb, "  Profiles: %d (%d active) %s\n", resp.Profiles.Total, resp.Profiles.Active, counts(resp.Profiles.ByRiskLevel))
	fmt.Fprintf(&sb, "  Violations: %d (%d unresolved) %s\n", resp.Violations.Total, resp.Violations.Unresolved, counts(resp.Violations.BySeverity))
	if p := resp.Violations.OpenPenaltyTotal; p != "" && p != "0" {
		fmt.Fprintf(&sb, "  Open penalties: %s\n", p)
	}
	fmt.Fprintf(&sb, "  Enforcement actions: %d %s\n", resp.Enforcement.Total, counts(resp.Enforcement.ByStatus))
	fmt.Fprintf(&sb, "  Compliance checks: %d (average score %.2f)\n", resp.Compliance.Checks, resp.Compliance.AverageScore)
	return sb.String(), nil
}

// counts renders a map as "(a=1, b=2)" in key order.
func counts(m map[string]int) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, m[k])
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func formatJSON(raw json.RawMessage) string {
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}
