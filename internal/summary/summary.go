// Package summary renders a human-readable narration of a risk assessment.
// The default generator is a deterministic template so summaries are stable
// across replays of the same assessment.
package summary

import (
	"context"
	"fmt"
	"strings"

	"github.com/sentinelpay/triage/internal/risk"
)

// Generator produces a narration for an assessment. Implementations may be
// best-effort; callers fall back to the template generator on error.
type Generator interface {
	Generate(ctx context.Context, assessment *risk.Assessment) (string, error)
}

// TemplateGenerator renders assessments with a fixed template.
type TemplateGenerator struct{}

// NewTemplateGenerator creates the deterministic template generator.
func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{}
}

func (TemplateGenerator) Generate(_ context.Context, a *risk.Assessment) (string, error) {
	if a == nil {
		return "", fmt.Errorf("nil assessment")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Risk level %s (score %.2f, confidence %.2f) for transaction %s.",
		a.RiskLevel, a.RiskScore, a.Confidence, a.TransactionID)

	if len(a.Reasoning) > 0 {
		b.WriteString(" Findings: ")
		b.WriteString(strings.Join(a.Reasoning, "; "))
		b.WriteString(".")
	}

	switch a.Recommendation {
	case risk.RecommendFreezeCard:
		b.WriteString(" Recommended action: freeze the card and contact the customer immediately.")
	case risk.RecommendBlock:
		b.WriteString(" Recommended action: block the transaction pending review.")
	case risk.RecommendInvestigate:
		b.WriteString(" Recommended action: queue for analyst investigation.")
	default:
		b.WriteString(" Recommended action: continue monitoring.")
	}

	return b.String(), nil
}
