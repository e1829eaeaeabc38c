//go:build integration

package compliance

import (
	"context"
	"testing"

	"github.com/sentinelpay/triage/internal/testutil"
)

func TestPostgresPolicies_PutAndGet(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	policy := &Policy{
		ID:     "pol_test_limits",
		Type:   PolicyLimits,
		Active: true,
		Rules: []Rule{
			{ID: "r1", Condition: "amount > 200000", Action: ActionBlock, Severity: "high"},
			{ID: "r2", Condition: "daily_spend > 100000", Action: ActionFlag, Severity: "medium"},
		},
	}
	if err := store.Put(ctx, policy); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := store.Get(ctx, "pol_test_limits")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Type != PolicyLimits {
		t.Errorf("Type: got %s, want limits", got.Type)
	}
	if !got.Active {
		t.Error("Active: got false, want true")
	}
	if len(got.Rules) != 2 {
		t.Fatalf("Rules: got %d, want 2", len(got.Rules))
	}
	if got.Rules[0].Condition != "amount > 200000" {
		t.Errorf("Condition: got %q", got.Rules[0].Condition)
	}
	if got.Rules[0].Action != ActionBlock {
		t.Errorf("Action: got %s, want block", got.Rules[0].Action)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps should be set by the store")
	}
}

func TestPostgresPolicies_PutUpserts(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	policy := &Policy{
		ID:     "pol_test_otp",
		Type:   PolicyOTP,
		Active: true,
		Rules:  []Rule{{ID: "r1", Condition: "amount > 10000", Action: ActionRequireOTP, Severity: "medium"}},
	}
	if err := store.Put(ctx, policy); err != nil {
		t.Fatalf("First put failed: %v", err)
	}

	// Deactivate and tighten the threshold via a second put.
	policy.Active = false
	policy.Rules[0].Condition = "amount > 5000"
	if err := store.Put(ctx, policy); err != nil {
		t.Fatalf("Second put failed: %v", err)
	}

	got, err := store.Get(ctx, "pol_test_otp")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Active {
		t.Error("Active: got true, want false after upsert")
	}
	if got.Rules[0].Condition != "amount > 5000" {
		t.Errorf("Condition: got %q, want updated threshold", got.Rules[0].Condition)
	}
}

func TestPostgresPolicies_NotFound(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)

	_, err := store.Get(context.Background(), "pol_nonexistent")
	if err != ErrPolicyNotFound {
		t.Errorf("Expected ErrPolicyNotFound, got %v", err)
	}
}

func TestPostgresPolicies_ListActiveFilters(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	policies := []*Policy{
		{ID: "pol_a", Type: PolicyKYC, Active: true, Rules: []Rule{{ID: "r1", Condition: "!kyc_verified", Action: ActionBlock, Severity: "high"}}},
		{ID: "pol_b", Type: PolicyConsent, Active: false, Rules: []Rule{{ID: "r1", Condition: "!consent_given", Action: ActionRequireConsent, Severity: "medium"}}},
		{ID: "pol_c", Type: PolicyPII, Active: true, Rules: []Rule{}},
	}
	for _, p := range policies {
		if err := store.Put(ctx, p); err != nil {
			t.Fatalf("Put %s failed: %v", p.ID, err)
		}
	}

	active, err := store.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive failed: %v", err)
	}
	if len(active) != 2 {
		t.Errorf("Expected 2 active policies, got %d", len(active))
	}
	for _, p := range active {
		if !p.Active {
			t.Errorf("ListActive returned inactive policy %s", p.ID)
		}
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 policies total, got %d", len(all))
	}
}

func TestPostgresPolicies_SeedIsIdempotent(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	if err := Seed(ctx, store); err != nil {
		t.Fatalf("First seed failed: %v", err)
	}
	first, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	if err := Seed(ctx, store); err != nil {
		t.Fatalf("Second seed failed: %v", err)
	}
	second, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List after reseed failed: %v", err)
	}

	if len(first) != len(second) {
		t.Errorf("Reseed changed policy count: %d -> %d", len(first), len(second))
	}
}
