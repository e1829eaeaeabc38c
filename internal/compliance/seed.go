package compliance

import (
	"context"
	"time"
)

// DefaultPolicies returns the baseline policy set loaded on a fresh install.
func DefaultPolicies() []*Policy {
	now := time.Now()
	return []*Policy{
		{
			ID:     "pol_limits_default",
			Type:   PolicyLimits,
			Active: true,
			Rules: []Rule{
				{ID: "single_tx_cap", Condition: "amount > 200000", Action: ActionBlock, Severity: "high"},
				{ID: "daily_spend_otp", Condition: "daily_spend > 500000", Action: ActionRequireOTP, Severity: "medium"},
				{ID: "hourly_burst", Condition: "hourly_tx_count > 10", Action: ActionFlag, Severity: "medium"},
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:     "pol_otp_default",
			Type:   PolicyOTP,
			Active: true,
			Rules: []Rule{
				{ID: "high_value_otp", Condition: "amount > 50000", Action: ActionRequireOTP, Severity: "medium"},
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:     "pol_kyc_default",
			Type:   PolicyKYC,
			Active: true,
			Rules: []Rule{
				{ID: "unverified_block", Condition: "kyc_verified == false && amount > 10000", Action: ActionBlock, Severity: "high"},
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:     "pol_consent_default",
			Type:   PolicyConsent,
			Active: true,
			Rules: []Rule{
				{ID: "consent_required", Condition: "consent_given == false", Action: ActionRequireConsent, Severity: "low"},
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:     "pol_pii_default",
			Type:   PolicyPII,
			Active: true,
			Rules: []Rule{
				{ID: "new_merchant_large", Condition: "new_merchant == true && amount > 100000", Action: ActionFlag, Severity: "medium"},
			},
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
}

// Seed inserts the default policies into the store, skipping any that exist.
func Seed(ctx context.Context, store Store) error {
	for _, p := range DefaultPolicies() {
		if _, err := store.Get(ctx, p.ID); err == nil {
			continue
		}
		if err := store.Put(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
