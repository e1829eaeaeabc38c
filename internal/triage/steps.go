package triage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sentinelpay/triage/internal/compliance"
	"github.com/sentinelpay/triage/internal/knowledge"
	"github.com/sentinelpay/triage/internal/ledger"
	"github.com/sentinelpay/triage/internal/retry"
	"github.com/sentinelpay/triage/internal/risk"
	"github.com/sentinelpay/triage/internal/summary"
)

// templateGen is the last-resort narrator when the configured generator
// errors.
var templateGen = summary.NewTemplateGenerator()

// stepSpec is one stage of the pipeline. BestEffort steps record a fallback
// on terminal failure instead of failing the session.
type stepSpec struct {
	ID         StepID
	BestEffort bool
	run        func(ctx context.Context, st *pipelineState) error
}

// pipelineState carries data between steps. Step N's input always reflects
// step N-1's completed output; steps never run concurrently within a
// session.
type pipelineState struct {
	customerID    string
	transactionID string

	customer    *ledger.Customer
	transaction *ledger.Transaction
	history     *risk.History
	assessment  *risk.Assessment
	kbResults   []knowledge.Entry
	verdict     *compliance.Verdict

	summary         string
	proposedActions []string
}

// planIDs is the fixed step sequence, for the plan_built event.
func planIDs() []StepID {
	return []StepID{
		StepProfile,
		StepRecentTransactions,
		StepRiskSignals,
		StepKBLookup,
		StepDecide,
		StepProposeAction,
	}
}

// plan builds the step sequence for one session. Only kbLookup is
// best-effort; everything else hard-fails the session on terminal failure.
func (s *Service) plan(sessionID string) []stepSpec {
	return []stepSpec{
		{ID: StepProfile, run: s.stepProfile},
		{ID: StepRecentTransactions, run: s.stepRecentTransactions},
		{ID: StepRiskSignals, run: s.stepRiskSignals},
		{ID: StepKBLookup, BestEffort: true, run: s.stepKBLookup},
		{ID: StepDecide, run: func(ctx context.Context, st *pipelineState) error {
			return s.stepDecide(ctx, sessionID, st)
		}},
		{ID: StepProposeAction, run: s.stepProposeAction},
	}
}

// stepProfile loads the customer and the transaction under triage. A
// missing customer or a transaction belonging to someone else is permanent;
// retrying cannot fix it.
func (s *Service) stepProfile(ctx context.Context, st *pipelineState) error {
	customer, err := s.ledger.FindCustomerByID(ctx, st.customerID)
	if errors.Is(err, ledger.ErrCustomerNotFound) {
		return retry.Permanent(err)
	}
	if err != nil {
		return err
	}

	tx, err := s.ledger.FindTransactionByID(ctx, st.transactionID)
	if errors.Is(err, ledger.ErrTransactionNotFound) {
		return retry.Permanent(err)
	}
	if err != nil {
		return err
	}
	if tx.CustomerID != customer.ID {
		return retry.Permanent(fmt.Errorf("transaction %s does not belong to customer %s", tx.ID, customer.ID))
	}

	st.customer = customer
	st.transaction = tx
	return nil
}

// stepRecentTransactions gathers the history the risk checks run against.
func (s *Service) stepRecentTransactions(ctx context.Context, st *pipelineState) error {
	txs, err := s.ledger.FindTransactionsByCustomer(ctx, st.customerID, recentTransactionsLimit, 0)
	if err != nil {
		return err
	}
	devices, err := s.ledger.FindDevicesByCustomer(ctx, st.customerID)
	if err != nil {
		return err
	}
	chargebacks, err := s.ledger.FindChargebacksByCustomer(ctx, st.customerID)
	if err != nil {
		return err
	}

	// Exclude the transaction under triage from its own history.
	history := make([]*ledger.Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.ID != st.transactionID {
			history = append(history, tx)
		}
	}

	st.history = &risk.History{
		Customer:     st.customer,
		Transactions: history,
		Devices:      devices,
		Chargebacks:  chargebacks,
	}
	return nil
}

// stepRiskSignals runs the six-signal assessment.
func (s *Service) stepRiskSignals(ctx context.Context, st *pipelineState) error {
	st.assessment = s.risk.Assess(ctx, st.transaction, st.history)
	return nil
}

// stepKBLookup enriches the assessment with fraud-pattern notes. Best
// effort: on failure the pipeline continues with empty results.
func (s *Service) stepKBLookup(ctx context.Context, st *pipelineState) error {
	query := strings.Join(st.assessment.Reasoning, " ")
	results, err := s.knowledge.Search(ctx, query, kbResultLimit)
	if err != nil {
		return err
	}
	st.kbResults = results
	return nil
}

// stepDecide evaluates compliance policy against the transaction context
// and finalizes the decision.
func (s *Service) stepDecide(ctx context.Context, sessionID string, st *pipelineState) error {
	verdict := s.policy.Check(ctx, buildComplianceContext(st.transaction, st.customer, st.history))
	st.verdict = &verdict

	s.emit(sessionID, EventDecisionFinalized, map[string]any{
		"assessment": st.assessment,
		"canProceed": verdict.CanProceed,
	})
	return nil
}

// stepProposeAction translates the assessment and verdict into concrete
// next steps and narrates them.
func (s *Service) stepProposeAction(ctx context.Context, st *pipelineState) error {
	actions := make([]string, 0, 3)
	switch st.assessment.Recommendation {
	case risk.RecommendFreezeCard:
		actions = append(actions, "freeze_card", "contact_customer")
	case risk.RecommendBlock:
		actions = append(actions, "block_transaction", "contact_customer")
	case risk.RecommendInvestigate:
		actions = append(actions, "open_investigation")
	default:
		actions = append(actions, "monitor")
	}
	if st.verdict != nil {
		if !st.verdict.CanProceed {
			actions = append(actions, "hold_transaction")
		}
		actions = append(actions, st.verdict.RequiredActions...)
	}
	st.proposedActions = dedupe(actions)

	text, err := s.summarizer.Generate(ctx, st.assessment)
	if err != nil {
		// The template generator is the fallback for flaky collaborators.
		text, err = summaryFallback(ctx, st.assessment)
		if err != nil {
			return err
		}
	}
	st.summary = text
	return nil
}

// stepInput summarizes what a step ran against at the moment it started.
// Identifiers are masked so the trace can be logged and returned verbatim.
func stepInput(id StepID, st *pipelineState) string {
	base := "customer=" + maskID(st.customerID) + " transaction=" + maskID(st.transactionID)
	switch id {
	case StepRiskSignals:
		if st.history != nil {
			return fmt.Sprintf("%s history=%d", base, len(st.history.Transactions))
		}
	case StepKBLookup:
		if st.assessment != nil {
			return fmt.Sprintf("%s reasoning_terms=%d", base, len(st.assessment.Reasoning))
		}
	case StepDecide, StepProposeAction:
		if st.assessment != nil {
			return fmt.Sprintf("%s risk_level=%s", base, st.assessment.RiskLevel)
		}
	}
	return base
}

// maskID keeps the prefix and the last two characters, enough to correlate
// trace entries without exposing the full identifier.
func maskID(id string) string {
	i := strings.IndexByte(id, '_')
	if i < 0 || len(id) <= i+5 {
		return "****"
	}
	return id[:i+1] + "****" + id[len(id)-2:]
}

// buildComplianceContext computes the aggregates policy rules evaluate
// against, windowed relative to the transaction's own timestamp.
func buildComplianceContext(tx *ledger.Transaction, customer *ledger.Customer, history *risk.History) compliance.Context {
	var daily, monthly float64
	hourly := 0
	newMerchant := true

	dayCutoff := tx.Timestamp.Add(-24 * time.Hour)
	monthCutoff := tx.Timestamp.Add(-30 * 24 * time.Hour)
	hourCutoff := tx.Timestamp.Add(-time.Hour)

	for _, h := range history.Transactions {
		if h.Timestamp.After(monthCutoff) {
			monthly += h.Amount
		}
		if h.Timestamp.After(dayCutoff) {
			daily += h.Amount
		}
		if h.Timestamp.After(hourCutoff) {
			hourly++
		}
		if h.Merchant == tx.Merchant {
			newMerchant = false
		}
	}

	return compliance.Context{
		Amount:        tx.Amount,
		Merchant:      tx.Merchant,
		MCC:           tx.MCC,
		DailySpend:    daily + tx.Amount,
		MonthlySpend:  monthly + tx.Amount,
		HourlyTxCount: hourly + 1,
		NewMerchant:   newMerchant,
		KYCVerified:   customer.KYCVerified,
		ConsentGiven:  customer.ConsentGiven,
		Hour:          tx.Timestamp.Hour(),
	}
}

func summaryFallback(ctx context.Context, a *risk.Assessment) (string, error) {
	return templateGen.Generate(ctx, a)
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := values[:0]
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
