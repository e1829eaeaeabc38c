package actions

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sentinelpay/triage/internal/idgen"
	"github.com/sentinelpay/triage/internal/ledger"
	"github.com/sentinelpay/triage/internal/metrics"
)

var validChannels = map[string]bool{"sms": true, "email": true, "phone": true}

// Service executes actions and keeps an in-memory audit log.
type Service struct {
	freezer CardFreezer
	ledger  ledger.Store
	logger  *slog.Logger

	mu  sync.RWMutex
	log []*Action
}

// NewService creates the action service. A NoopFreezer is substituted when
// freezer is nil.
func NewService(freezer CardFreezer, ledgerStore ledger.Store, logger *slog.Logger) *Service {
	if freezer == nil {
		freezer = NoopFreezer{}
	}
	return &Service{freezer: freezer, ledger: ledgerStore, logger: logger}
}

// FreezeCard deactivates the customer's card with the issuing processor.
func (s *Service) FreezeCard(ctx context.Context, customerID, cardID, reason string) (*Action, error) {
	if _, err := s.ledger.FindCustomerByID(ctx, customerID); err != nil {
		return nil, err
	}
	if err := s.freezer.Freeze(ctx, cardID); err != nil {
		metrics.ActionsTotal.WithLabelValues(string(ActionFreezeCard), "failed").Inc()
		return nil, err
	}

	action := s.record(&Action{
		Type:       ActionFreezeCard,
		CustomerID: customerID,
		Status:     StatusCompleted,
		Detail:     map[string]any{"cardId": cardID, "reason": reason},
	})
	s.logger.Info("card frozen", "customerId", customerID, "cardId", cardID, "actionId", action.ID)
	return action, nil
}

// OpenDispute files a dispute against an existing transaction.
func (s *Service) OpenDispute(ctx context.Context, customerID, transactionID, reason string) (*Action, error) {
	tx, err := s.ledger.FindTransactionByID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.CustomerID != customerID {
		return nil, fmt.Errorf("transaction %s does not belong to customer %s", transactionID, customerID)
	}

	action := s.record(&Action{
		Type:          ActionOpenDispute,
		CustomerID:    customerID,
		TransactionID: transactionID,
		Status:        StatusPending,
		Detail:        map[string]any{"reason": reason, "amount": tx.Amount},
	})
	s.logger.Info("dispute opened", "customerId", customerID, "transactionId", transactionID, "actionId", action.ID)
	return action, nil
}

// ContactCustomer schedules outreach on a verified channel.
func (s *Service) ContactCustomer(ctx context.Context, customerID, channel, message string) (*Action, error) {
	if !validChannels[channel] {
		return nil, fmt.Errorf("unsupported contact channel %q", channel)
	}
	if _, err := s.ledger.FindCustomerByID(ctx, customerID); err != nil {
		return nil, err
	}

	action := s.record(&Action{
		Type:       ActionContactCustomer,
		CustomerID: customerID,
		Status:     StatusPending,
		Detail:     map[string]any{"channel": channel, "message": message},
	})
	s.logger.Info("customer contact scheduled", "customerId", customerID, "channel", channel, "actionId", action.ID)
	return action, nil
}

// History returns the most recent actions, newest first.
func (s *Service) History(limit int) []*Action {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.log)
	if limit <= 0 || limit > n {
		limit = n
	}
	result := make([]*Action, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		cp := *s.log[i]
		result = append(result, &cp)
	}
	return result
}

func (s *Service) record(a *Action) *Action {
	a.ID = idgen.WithPrefix("act_")
	a.ExecutedAt = time.Now()
	metrics.ActionsTotal.WithLabelValues(string(a.Type), "executed").Inc()

	s.mu.Lock()
	s.log = append(s.log, a)
	s.mu.Unlock()
	return a
}
