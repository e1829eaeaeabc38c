package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the triage MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolStartTriage = mcp.NewTool("start_triage",
	mcp.WithDescription(
		"Start a fraud triage session for a flagged transaction. "+
			"Runs the full pipeline: customer profile, recent transactions, risk signals, "+
			"knowledge base lookup, compliance decision, and a proposed action plan. "+
			"Returns a session id to poll with get_triage_session."),
	mcp.WithString("customer_id",
		mcp.Required(),
		mcp.Description("The customer's id (e.g. 'cust_1a2b')")),
	mcp.WithString("transaction_id",
		mcp.Required(),
		mcp.Description("The flagged transaction's id (e.g. 'txn_9x8y')")),
)

var ToolGetTriageSession = mcp.NewTool("get_triage_session",
	mcp.WithDescription(
		"Fetch the current state of a triage session: status, risk assessment, "+
			"analyst summary, proposed actions, and a per-step execution trace. "+
			"Poll this after start_triage until status is 'completed' or 'failed'."),
	mcp.WithString("session_id",
		mcp.Required(),
		mcp.Description("The session id returned by start_triage")),
)

var ToolFreezeCard = mcp.NewTool("freeze_card",
	mcp.WithDescription(
		"Immediately freeze a customer's card with the issuing processor. "+
			"Use when a triage session recommends freeze_card or when the customer "+
			"reports their card stolen. Freezing an already-frozen card is safe."),
	mcp.WithString("customer_id",
		mcp.Required(),
		mcp.Description("The customer's id")),
	mcp.WithString("card_id",
		mcp.Required(),
		mcp.Description("The card to freeze (e.g. 'card_3f4g')")),
	mcp.WithString("reason",
		mcp.Description("Why the card is being frozen, for the audit log")),
)

var ToolOpenDispute = mcp.NewTool("open_dispute",
	mcp.WithDescription(
		"File a dispute against a transaction the customer denies making. "+
			"The transaction must belong to the customer."),
	mcp.WithString("customer_id",
		mcp.Required(),
		mcp.Description("The customer's id")),
	mcp.WithString("transaction_id",
		mcp.Required(),
		mcp.Description("The disputed transaction's id")),
	mcp.WithString("reason",
		mcp.Required(),
		mcp.Description("The dispute reason (e.g. 'customer denies transaction')")),
)

var ToolListPolicies = mcp.NewTool("list_policies",
	mcp.WithDescription(
		"List the compliance policies the decision step enforces: "+
			"spending limits, OTP thresholds, KYC and consent requirements."),
)

var ToolGetRiskHistory = mcp.NewTool("get_risk_history",
	mcp.WithDescription(
		"Get recent risk assessments for a customer, newest first. "+
			"Shows risk scores, levels, fired signals, and recommendations over time."),
	mcp.WithString("customer_id",
		mcp.Required(),
		mcp.Description("The customer's id")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of assessments to return (default 20)")),
)
