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
	client *TriageClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *TriageClient) *Handlers {
	return &Handlers{client: client}
}

// HandleStartTriage kicks off a triage session.
func (h *Handlers) HandleStartTriage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	customerID := req.GetString("customer_id", "")
	if customerID == "" {
		return mcp.NewToolResultError("customer_id is required"), nil
	}
	transactionID := req.GetString("transaction_id", "")
	if transactionID == "" {
		return mcp.NewToolResultError("transaction_id is required"), nil
	}

	raw, err := h.client.StartTriage(ctx, customerID, transactionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start triage: %v", err)), nil
	}

	var resp map[string]any
	if err := json.Unmarshal(raw, &resp); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse response: %v", err)), nil
	}
	sessionID := getString(resp, "sessionId")
	if sessionID == "" {
		return mcp.NewToolResultError("no session id in response: " + string(raw)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Triage session started.\n"+
			"Session ID: %s\n"+
			"Status: %s\n\n"+
			"The pipeline runs asynchronously. Poll get_triage_session with this "+
			"session id until the status is 'completed' or 'failed'.",
		sessionID, getString(resp, "status"))), nil
}

// HandleGetTriageSession fetches and formats session state.
func (h *Handlers) HandleGetTriageSession(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID := req.GetString("session_id", "")
	if sessionID == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}

	raw, err := h.client.GetSession(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get session: %v", err)), nil
	}

	text, err := formatSession(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse session: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleFreezeCard freezes a customer's card.
func (h *Handlers) HandleFreezeCard(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	customerID := req.GetString("customer_id", "")
	if customerID == "" {
		return mcp.NewToolResultError("customer_id is required"), nil
	}
	cardID := req.GetString("card_id", "")
	if cardID == "" {
		return mcp.NewToolResultError("card_id is required"), nil
	}
	reason := req.GetString("reason", "")

	raw, err := h.client.FreezeCard(ctx, customerID, cardID, reason)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Freeze failed: %v", err)), nil
	}

	var action map[string]any
	if err := json.Unmarshal(raw, &action); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse action: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Card %s frozen for customer %s.\n"+
			"Action ID: %s\n"+
			"Status: %s",
		cardID, customerID, getString(action, "actionId"), getString(action, "status"))), nil
}

// HandleOpenDispute files a dispute.
func (h *Handlers) HandleOpenDispute(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	customerID := req.GetString("customer_id", "")
	if customerID == "" {
		return mcp.NewToolResultError("customer_id is required"), nil
	}
	transactionID := req.GetString("transaction_id", "")
	if transactionID == "" {
		return mcp.NewToolResultError("transaction_id is required"), nil
	}
	reason := req.GetString("reason", "")
	if reason == "" {
		return mcp.NewToolResultError("reason is required"), nil
	}

	raw, err := h.client.OpenDispute(ctx, customerID, transactionID, reason)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Dispute failed: %v", err)), nil
	}

	var action map[string]any
	if err := json.Unmarshal(raw, &action); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse action: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Dispute opened against transaction %s.\n"+
			"Action ID: %s\n"+
			"Status: %s\n"+
			"Reason: %s",
		transactionID, getString(action, "actionId"), getString(action, "status"), reason)), nil
}

// HandleListPolicies lists the compliance policy set.
func (h *Handlers) HandleListPolicies(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.ListPolicies(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list policies: %v", err)), nil
	}

	text, err := formatPolicies(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse policies: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetRiskHistory returns recent assessments for a customer.
func (h *Handlers) HandleGetRiskHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	customerID := req.GetString("customer_id", "")
	if customerID == "" {
		return mcp.NewToolResultError("customer_id is required"), nil
	}
	limit := req.GetInt("limit", 20)

	raw, err := h.client.GetRiskHistory(ctx, customerID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get risk history: %v", err)), nil
	}

	text, err := formatAssessments(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse assessments: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// --- Formatting helpers ---

func formatSession(raw json.RawMessage) (string, error) {
	var sess map[string]any
	if err := json.Unmarshal(raw, &sess); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Session: %s\n", getString(sess, "sessionId"))
	fmt.Fprintf(&sb, "Status: %s\n", getString(sess, "status"))

	if errMsg := getString(sess, "error"); errMsg != "" {
		fmt.Fprintf(&sb, "Error: %s\n", errMsg)
	}

	if a, ok := sess["assessment"].(map[string]any); ok {
		sb.WriteString("\nRisk Assessment:\n")
		if v, ok := getFloat(a, "riskScore"); ok {
			fmt.Fprintf(&sb, "  Score: %.2f\n", v)
		}
		fmt.Fprintf(&sb, "  Level: %s\n", getString(a, "riskLevel"))
		fmt.Fprintf(&sb, "  Recommendation: %s\n", getString(a, "recommendation"))
		if v, ok := getFloat(a, "confidence"); ok {
			fmt.Fprintf(&sb, "  Confidence: %.0f%%\n", v*100)
		}
	}

	if summary := getString(sess, "summary"); summary != "" {
		fmt.Fprintf(&sb, "\nSummary:\n%s\n", summary)
	}

	if actions, ok := sess["proposedActions"].([]any); ok && len(actions) > 0 {
		sb.WriteString("\nProposed Actions:\n")
		for _, a := range actions {
			fmt.Fprintf(&sb, "  - %v\n", a)
		}
	}

	if steps, ok := sess["steps"].([]any); ok && len(steps) > 0 {
		sb.WriteString("\nSteps:\n")
		for _, s := range steps {
			step, ok := s.(map[string]any)
			if !ok {
				continue
			}
			line := fmt.Sprintf("  %s: %s", getString(step, "id"), getString(step, "status"))
			if v, ok := getFloat(step, "durationMs"); ok {
				line += fmt.Sprintf(" (%.0fms)", v)
			}
			if errMsg := getString(step, "error"); errMsg != "" {
				line += " - " + errMsg
			}
			sb.WriteString(line + "\n")
		}
	}

	return sb.String(), nil
}

func formatPolicies(raw json.RawMessage) (string, error) {
	var resp struct {
		Policies []map[string]any `json:"policies"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Policies) == 0 {
		return "No compliance policies configured.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d policy(ies):\n\n", len(resp.Policies))
	for _, p := range resp.Policies {
		fmt.Fprintf(&sb, "%s (%s)", getString(p, "id"), getString(p, "type"))
		if active, ok := p["active"].(bool); ok && !active {
			sb.WriteString(" [inactive]")
		}
		sb.WriteString("\n")
		if rules, ok := p["rules"].([]any); ok {
			for _, r := range rules {
				rule, ok := r.(map[string]any)
				if !ok {
					continue
				}
				fmt.Fprintf(&sb, "  if %s then %s (%s)\n",
					getString(rule, "condition"), getString(rule, "action"), getString(rule, "severity"))
			}
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n") + "\n", nil
}

func formatAssessments(raw json.RawMessage) (string, error) {
	var resp struct {
		Assessments []map[string]any `json:"assessments"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Assessments) == 0 {
		return "No risk assessments on record for this customer.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Found %d assessment(s), newest first:\n\n", len(resp.Assessments))
	for i, a := range resp.Assessments {
		score := 0.0
		if v, ok := getFloat(a, "riskScore"); ok {
			score = v
		}
		fmt.Fprintf(&sb, "%d. %s | score %.2f (%s) | %s\n",
			i+1, getString(a, "transactionId"), score,
			getString(a, "riskLevel"), getString(a, "recommendation"))
		if reasoning, ok := a["reasoning"].([]any); ok {
			for _, r := range reasoning {
				fmt.Fprintf(&sb, "   - %v\n", r)
			}
		}
	}
	return sb.String(), nil
}

func getString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func getFloat(m map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		if v, ok := m[k].(float64); ok {
			return v, true
		}
	}
	return 0, false
}
