// Package knowledge looks up fraud-pattern notes relevant to an assessment.
// The pipeline treats it as a best-effort enrichment source: lookups that
// fail or return nothing never fail a triage session.
package knowledge

import (
	"context"
	"strings"
)

// Entry is one knowledge-base document.
type Entry struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Tags    []string `json:"tags,omitempty"`
	Score   float64  `json:"score"`
}

// Searcher retrieves entries relevant to a free-text query.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]Entry, error)
}

// tokenize lowercases and splits on non-alphanumeric runes.
func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
}
