package compliance

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sentinelpay/triage/internal/metrics"
)

// DefaultPolicyCacheTTL is how long active policies are cached before
// re-fetching from the store.
const DefaultPolicyCacheTTL = 30 * time.Second

// Engine evaluates active policies against context snapshots.
type Engine struct {
	store    Store
	cacheTTL time.Duration
	logger   *slog.Logger

	mu        sync.RWMutex
	cached    []*Policy
	fetchedAt time.Time
}

// NewEngine creates a compliance engine over the given policy store.
func NewEngine(store Store, logger *slog.Logger) *Engine {
	return &Engine{store: store, cacheTTL: DefaultPolicyCacheTTL, logger: logger}
}

// WithCacheTTL overrides the default policy cache TTL.
func (e *Engine) WithCacheTTL(ttl time.Duration) *Engine {
	e.cacheTTL = ttl
	return e
}

// InvalidateCache drops cached policies. Call after policy writes.
func (e *Engine) InvalidateCache() {
	e.mu.Lock()
	e.cached = nil
	e.fetchedAt = time.Time{}
	e.mu.Unlock()
}

// Check evaluates every active policy's rules against the context snapshot.
// Rule evaluation is pure given the snapshot. Any internal error yields a
// fail-closed verdict with a system violation entry.
func (e *Engine) Check(ctx context.Context, snapshot Context) Verdict {
	policies, err := e.activePolicies(ctx)
	if err != nil {
		e.logger.Error("compliance policy fetch failed, failing closed", "error", err)
		return failClosed(fmt.Sprintf("policy fetch failed: %v", err))
	}

	vars := snapshot.vars()
	verdict := Verdict{Passed: true, CanProceed: true}
	seenActions := map[string]bool{}

	for _, pol := range policies {
		for _, rule := range pol.Rules {
			expr, err := compile(rule.Condition)
			if err != nil {
				e.logger.Error("compliance rule failed to compile, failing closed",
					"policy", pol.ID, "rule", rule.ID, "error", err)
				return failClosed(fmt.Sprintf("rule %s/%s: %v", pol.ID, rule.ID, err))
			}

			triggered, err := expr.eval(vars)
			if err != nil {
				e.logger.Error("compliance rule evaluation error, failing closed",
					"policy", pol.ID, "rule", rule.ID, "error", err)
				return failClosed(fmt.Sprintf("rule %s/%s: %v", pol.ID, rule.ID, err))
			}
			if !triggered {
				continue
			}

			verdict.Passed = false
			verdict.Violations = append(verdict.Violations, Violation{
				PolicyID: pol.ID,
				RuleID:   rule.ID,
				Severity: rule.Severity,
				Action:   rule.Action,
			})

			switch rule.Action {
			case ActionBlock:
				// Any blocking violation forces the verdict regardless of
				// other rules.
				verdict.CanProceed = false
				if verdict.Reason == "" {
					verdict.Reason = fmt.Sprintf("blocked by policy %s rule %s", pol.ID, rule.ID)
				}
				metrics.PolicyBlocksTotal.WithLabelValues(string(pol.Type)).Inc()
			case ActionRequireOTP, ActionRequireConsent, ActionFlag:
				if !seenActions[string(rule.Action)] {
					seenActions[string(rule.Action)] = true
					verdict.RequiredActions = append(verdict.RequiredActions, string(rule.Action))
				}
			case ActionAllow:
				// explicit allow adds nothing
			}
		}
	}

	sort.Strings(verdict.RequiredActions)
	return verdict
}

// failClosed builds the verdict for internal evaluation errors.
func failClosed(reason string) Verdict {
	return Verdict{
		Passed:     false,
		CanProceed: false,
		Reason:     "compliance evaluation error: " + reason,
		Violations: []Violation{{
			PolicyID: "system",
			RuleID:   "evaluation_error",
			Severity: "high",
			Action:   ActionBlock,
		}},
	}
}

func (e *Engine) activePolicies(ctx context.Context) ([]*Policy, error) {
	now := time.Now()

	e.mu.RLock()
	if !e.fetchedAt.IsZero() && now.Sub(e.fetchedAt) < e.cacheTTL {
		cached := e.cached
		e.mu.RUnlock()
		return cached, nil
	}
	e.mu.RUnlock()

	policies, err := e.store.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cached = policies
	e.fetchedAt = now
	e.mu.Unlock()

	return policies, nil
}
