// Package triage orchestrates the fraud-triage pipeline: one session per
// (customer, transaction) pair, a fixed step sequence executed under
// circuit-breaking, bounded retry, and per-step timeouts, with ordered
// lifecycle events for streaming observers.
package triage

import (
	"errors"
	"time"

	"github.com/sentinelpay/triage/internal/compliance"
	"github.com/sentinelpay/triage/internal/realtime"
	"github.com/sentinelpay/triage/internal/risk"
)

// Errors surfaced by Start.
var (
	ErrThreatBlocked     = errors.New("triage: request blocked by threat screen")
	ErrAdmissionRejected = errors.New("triage: concurrent session cap reached")
	ErrSessionNotFound   = errors.New("triage: session not found")
)

// Status is the session lifecycle state. Admission transitions straight into
// running; terminal states are completed and failed.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StepID identifies one stage of the fixed pipeline sequence.
type StepID string

const (
	StepProfile            StepID = "profile"
	StepRecentTransactions StepID = "recent_transactions"
	StepRiskSignals        StepID = "risk_signals"
	StepKBLookup           StepID = "kb_lookup"
	StepDecide             StepID = "decide"
	StepProposeAction      StepID = "propose_action"
)

// Lifecycle event types emitted per session, in order.
const (
	EventSessionStarted    = "session_started"
	EventPlanBuilt         = "plan_built"
	EventStepStarted       = "step_started"
	EventStepCompleted     = "step_completed"
	EventStepFailed        = "step_failed"
	EventFallbackTriggered = "fallback_triggered"
	EventDecisionFinalized = "decision_finalized"
	EventSessionCompleted  = "session_completed"
	EventSessionFailed     = "session_failed"
	EventTimeout           = "timeout"
	EventSessionNotFound   = "session_not_found"
)

// StepResult is one entry of the session trace. Input is a redacted
// summary of what the step ran against, safe to log verbatim.
type StepResult struct {
	ID         StepID        `json:"id"`
	Status     string        `json:"status"` // "completed", "failed"
	BestEffort bool          `json:"bestEffort,omitempty"`
	Input      string        `json:"input,omitempty"`
	Error      string        `json:"error,omitempty"`
	Attempts   int           `json:"attempts"`
	StartedAt  time.Time     `json:"startedAt"`
	Duration   time.Duration `json:"durationMs"`
}

// Session is one end-to-end triage execution. Steps and Events are ordered
// as they occurred.
type Session struct {
	ID              string              `json:"sessionId"`
	CustomerID      string              `json:"customerId"`
	TransactionID   string              `json:"transactionId"`
	Status          Status              `json:"status"`
	Assessment      *risk.Assessment    `json:"assessment,omitempty"`
	Verdict         *compliance.Verdict `json:"verdict,omitempty"`
	Summary         string              `json:"summary,omitempty"`
	ProposedActions []string            `json:"proposedActions,omitempty"`
	Error           string              `json:"error,omitempty"`
	FallbacksUsed   []string            `json:"fallbacksUsed,omitempty"`
	Steps           []StepResult        `json:"steps"`
	Events          []*realtime.Event   `json:"-"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       time.Time           `json:"updatedAt"`
}

// Terminal reports whether the session has finished.
func (s *Session) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

// StartRequest asks for a new triage session.
type StartRequest struct {
	CustomerID    string `json:"customerId" binding:"required"`
	TransactionID string `json:"transactionId" binding:"required"`
	SessionID     string `json:"sessionId"`
}

// EventSink receives lifecycle events as they are emitted. Implementations
// must not block; the hub drops slow subscribers instead.
type EventSink interface {
	Publish(event *realtime.Event)
}
