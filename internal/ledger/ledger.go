// Package ledger provides read access to customer profiles, transaction
// history, known devices, and chargebacks. The triage pipeline treats it as
// the system of record for everything it gathers about a customer before
// scoring.
package ledger

import (
	"context"
	"errors"
	"time"
)

// Errors
var (
	ErrCustomerNotFound    = errors.New("ledger: customer not found")
	ErrTransactionNotFound = errors.New("ledger: transaction not found")
)

// Customer is a cardholder profile.
type Customer struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	KYCVerified   bool      `json:"kycVerified"`
	ConsentGiven  bool      `json:"consentGiven"`
	HomeCity      string    `json:"homeCity"`
	AccountOpened time.Time `json:"accountOpened"`
}

// Transaction is a single card transaction. Latitude/Longitude are zero when
// the acquirer supplied no geo data; HasGeo distinguishes that from a real
// (0, 0) coordinate.
type Transaction struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customerId"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	Merchant   string    `json:"merchant"`
	MCC        string    `json:"mcc"`
	DeviceID   string    `json:"deviceId,omitempty"`
	Latitude   float64   `json:"latitude,omitempty"`
	Longitude  float64   `json:"longitude,omitempty"`
	HasGeo     bool      `json:"hasGeo"`
	Timestamp  time.Time `json:"timestamp"`
}

// Device is a device the customer has transacted from before.
type Device struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customerId"`
	Label      string    `json:"label"`
	FirstSeen  time.Time `json:"firstSeen"`
	LastSeen   time.Time `json:"lastSeen"`
}

// Chargeback is a disputed transaction outcome.
type Chargeback struct {
	ID            string    `json:"id"`
	CustomerID    string    `json:"customerId"`
	TransactionID string    `json:"transactionId"`
	Amount        float64   `json:"amount"`
	Reason        string    `json:"reason"`
	FiledAt       time.Time `json:"filedAt"`
}

// Store is the read surface the pipeline uses. Transactions are returned
// newest first.
type Store interface {
	FindCustomerByID(ctx context.Context, id string) (*Customer, error)
	FindTransactionByID(ctx context.Context, id string) (*Transaction, error)
	FindTransactionsByCustomer(ctx context.Context, customerID string, limit, offset int) ([]*Transaction, error)
	FindDevicesByCustomer(ctx context.Context, customerID string) ([]*Device, error)
	FindChargebacksByCustomer(ctx context.Context, customerID string) ([]*Chargeback, error)
}
