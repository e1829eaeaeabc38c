// Package compliance evaluates declarative policies against a transaction
// context snapshot. Evaluation fails CLOSED: any internal error yields a
// blocking verdict, because a compliance error must never silently allow a
// transaction.
package compliance

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrPolicyNotFound = errors.New("compliance: policy not found")
)

// PolicyType categorizes what a policy governs.
type PolicyType string

const (
	PolicyOTP     PolicyType = "otp"
	PolicyPII     PolicyType = "pii"
	PolicyConsent PolicyType = "consent"
	PolicyLimits  PolicyType = "limits"
	PolicyKYC     PolicyType = "kyc"
)

// RuleAction is what a triggered rule demands.
type RuleAction string

const (
	ActionAllow          RuleAction = "allow"
	ActionBlock          RuleAction = "block"
	ActionRequireOTP     RuleAction = "require_otp"
	ActionRequireConsent RuleAction = "require_consent"
	ActionFlag           RuleAction = "flag"
)

// Rule is a single condition within a policy. Condition is a minimal boolean
// expression over named context variables; see ast.go for the grammar.
type Rule struct {
	ID        string     `json:"id"`
	Condition string     `json:"condition"`
	Action    RuleAction `json:"action"`
	Severity  string     `json:"severity"` // "low", "medium", "high"
}

// Policy is a named, typed set of rules. Policies are process-wide,
// read-mostly configuration.
type Policy struct {
	ID        string     `json:"id"`
	Type      PolicyType `json:"type"`
	Active    bool       `json:"active"`
	Rules     []Rule     `json:"rules"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Violation records one rule that evaluated true.
type Violation struct {
	PolicyID string     `json:"policyId"`
	RuleID   string     `json:"ruleId"`
	Severity string     `json:"severity"`
	Action   RuleAction `json:"action"`
}

// Verdict is the outcome of a compliance check.
type Verdict struct {
	Passed          bool        `json:"passed"`
	Violations      []Violation `json:"violations,omitempty"`
	RequiredActions []string    `json:"requiredActions,omitempty"`
	CanProceed      bool        `json:"canProceed"`
	Reason          string      `json:"reason,omitempty"`
}

// Context is the variable snapshot a check evaluates against.
type Context struct {
	Amount        float64
	Merchant      string
	MCC           string
	DailySpend    float64
	MonthlySpend  float64
	HourlyTxCount int
	NewMerchant   bool
	KYCVerified   bool
	ConsentGiven  bool
	Hour          int
}

// vars flattens the context into the DSL's variable bindings.
func (c Context) vars() map[string]any {
	return map[string]any{
		"amount":          c.Amount,
		"merchant":        c.Merchant,
		"mcc":             c.MCC,
		"daily_spend":     c.DailySpend,
		"monthly_spend":   c.MonthlySpend,
		"hourly_tx_count": float64(c.HourlyTxCount),
		"new_merchant":    c.NewMerchant,
		"kyc_verified":    c.KYCVerified,
		"consent_given":   c.ConsentGiven,
		"hour":            float64(c.Hour),
	}
}

// Store persists compliance policies.
type Store interface {
	ListActive(ctx context.Context) ([]*Policy, error)
	List(ctx context.Context) ([]*Policy, error)
	Get(ctx context.Context, id string) (*Policy, error)
	Put(ctx context.Context, policy *Policy) error
}
