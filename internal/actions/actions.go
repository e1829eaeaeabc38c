// Package actions executes side-effecting triage actions: card freezes,
// dispute openings, and customer contact. Every endpoint sits behind the
// idempotency coordinator so retried requests execute at most once.
package actions

import (
	"context"
	"time"
)

// ActionType identifies a side-effecting action.
type ActionType string

const (
	ActionFreezeCard      ActionType = "freeze_card"
	ActionOpenDispute     ActionType = "open_dispute"
	ActionContactCustomer ActionType = "contact_customer"
)

// Status of an executed action.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPending   Status = "pending"
)

// Action is the record of one executed action.
type Action struct {
	ID            string         `json:"actionId"`
	Type          ActionType     `json:"type"`
	CustomerID    string         `json:"customerId"`
	Status        Status         `json:"status"`
	Detail        map[string]any `json:"detail,omitempty"`
	ExecutedAt    time.Time      `json:"executedAt"`
	TransactionID string         `json:"transactionId,omitempty"`
}

// CardFreezer deactivates a card with the issuing processor.
type CardFreezer interface {
	Freeze(ctx context.Context, cardID string) error
}

// NoopFreezer records freezes without calling any processor. Used in demo
// mode and tests.
type NoopFreezer struct{}

func (NoopFreezer) Freeze(context.Context, string) error { return nil }
