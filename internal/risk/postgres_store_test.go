//go:build integration

package risk

import (
	"context"
	"testing"
	"time"

	"github.com/sentinelpay/triage/internal/testutil"
)

func TestPostgresAssessments_RecordAndList(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now()

	a := &Assessment{
		ID:            "asmt_test001",
		CustomerID:    "cust_pg1",
		TransactionID: "txn_pg1",
		RiskScore:     0.72,
		RiskLevel:     SeverityHigh,
		Signals: []Signal{
			{Type: SignalAmount, Severity: SeverityHigh, Score: 2.4, Description: "amount 4.1 standard deviations above trailing average"},
			{Type: SignalVelocity, Severity: SeverityMedium, Score: 1.5, Description: "6 transactions in the last hour"},
		},
		Recommendation: RecommendFreezeCard,
		Confidence:     0.8,
		Reasoning:      []string{"amount anomaly", "burst velocity"},
		EvaluatedAt:    now,
	}
	if err := store.Record(ctx, a); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	got, err := store.ListByCustomer(ctx, "cust_pg1", 10)
	if err != nil {
		t.Fatalf("ListByCustomer failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Expected 1 assessment, got %d", len(got))
	}
	if got[0].TransactionID != "txn_pg1" {
		t.Errorf("TransactionID: got %s, want txn_pg1", got[0].TransactionID)
	}
	if got[0].RiskScore != 0.72 {
		t.Errorf("RiskScore: got %f, want 0.72", got[0].RiskScore)
	}
	if got[0].RiskLevel != SeverityHigh {
		t.Errorf("RiskLevel: got %s, want high", got[0].RiskLevel)
	}
	if got[0].Recommendation != RecommendFreezeCard {
		t.Errorf("Recommendation: got %s, want freeze_card", got[0].Recommendation)
	}
	if len(got[0].Signals) != 2 {
		t.Errorf("Signals: got %d, want 2", len(got[0].Signals))
	}
	if got[0].Signals[0].Type != SignalAmount {
		t.Errorf("Signal type: got %s, want amount", got[0].Signals[0].Type)
	}
	if len(got[0].Reasoning) != 2 {
		t.Errorf("Reasoning: got %d entries, want 2", len(got[0].Reasoning))
	}
}

func TestPostgresAssessments_NewestFirst(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now()

	for i, id := range []string{"asmt_old", "asmt_mid", "asmt_new"} {
		a := &Assessment{
			ID:             id,
			CustomerID:     "cust_pg2",
			TransactionID:  "txn_" + id,
			RiskScore:      0.3,
			RiskLevel:      SeverityLow,
			Signals:        []Signal{},
			Recommendation: RecommendMonitor,
			Confidence:     0.6,
			Reasoning:      []string{"baseline"},
			EvaluatedAt:    now.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Record(ctx, a); err != nil {
			t.Fatalf("Record %s failed: %v", id, err)
		}
	}

	got, err := store.ListByCustomer(ctx, "cust_pg2", 10)
	if err != nil {
		t.Fatalf("ListByCustomer failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 assessments, got %d", len(got))
	}
	if got[0].ID != "asmt_new" || got[2].ID != "asmt_old" {
		t.Errorf("Expected newest first, got order %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
	}

	limited, err := store.ListByCustomer(ctx, "cust_pg2", 2)
	if err != nil {
		t.Fatalf("ListByCustomer with limit failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("Expected 2 with limit, got %d", len(limited))
	}
	if limited[0].ID != "asmt_new" {
		t.Errorf("Limit should keep the newest, got %s", limited[0].ID)
	}
}

func TestPostgresAssessments_EmptyHistory(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)

	got, err := store.ListByCustomer(context.Background(), "cust_unknown", 10)
	if err != nil {
		t.Fatalf("ListByCustomer failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Expected no assessments, got %d", len(got))
	}
}
