// Package risk computes fraud risk signals for a single transaction.
//
// Six independent checks (velocity, amount, location, merchant, device,
// time-of-day) each produce a signal or nothing; the engine aggregates
// signals into a score, level, recommendation, and confidence. Scoring is
// pure in-memory computation over the customer history handed in by the
// pipeline.
package risk

import (
	"context"
	"time"

	"github.com/sentinelpay/triage/internal/ledger"
)

// SignalType identifies which check produced a signal.
type SignalType string

const (
	SignalVelocity SignalType = "velocity"
	SignalAmount   SignalType = "amount"
	SignalLocation SignalType = "location"
	SignalMerchant SignalType = "merchant"
	SignalDevice   SignalType = "device"
	SignalTime     SignalType = "time"

	// SignalBaseline is emitted when no check fires, so downstream logic
	// always has at least one reasoning entry.
	SignalBaseline SignalType = "baseline"
)

// Severity grades a signal.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Recommendation is the engine's suggested next step.
type Recommendation string

const (
	RecommendMonitor     Recommendation = "monitor"
	RecommendInvestigate Recommendation = "investigate"
	RecommendBlock       Recommendation = "block"
	RecommendFreezeCard  Recommendation = "freeze_card"
)

// MaxSignalScore is the per-signal score ceiling used in aggregation.
const MaxSignalScore = 3.0

// Signal is one piece of evidence. Signals are produced fresh per
// assessment and never mutated afterwards.
type Signal struct {
	Type        SignalType     `json:"type"`
	Severity    Severity       `json:"severity"`
	Score       float64        `json:"score"` // [0, 3]
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Assessment is the aggregated verdict for one transaction.
type Assessment struct {
	ID             string         `json:"id"`
	CustomerID     string         `json:"customerId"`
	TransactionID  string         `json:"transactionId"`
	RiskScore      float64        `json:"riskScore"` // [0, 1]
	RiskLevel      Severity       `json:"riskLevel"`
	Signals        []Signal       `json:"signals"`
	Recommendation Recommendation `json:"recommendation"`
	Confidence     float64        `json:"confidence"` // [0, 1]
	Reasoning      []string       `json:"reasoning"`
	EvaluatedAt    time.Time      `json:"evaluatedAt"`
}

// History is the customer context the checks run against. Transactions are
// newest first, as the ledger returns them.
type History struct {
	Customer     *ledger.Customer
	Transactions []*ledger.Transaction
	Devices      []*ledger.Device
	Chargebacks  []*ledger.Chargeback
}

// Store persists assessments for audit trail.
type Store interface {
	Record(ctx context.Context, assessment *Assessment) error
	ListByCustomer(ctx context.Context, customerID string, limit int) ([]*Assessment, error)
}
