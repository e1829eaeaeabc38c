package knowledge

import (
	"context"
	"sort"
	"strings"
)

// MemorySearcher ranks a static corpus by token overlap with the query.
// Used in demo mode and as the fallback when no vector store is configured.
type MemorySearcher struct {
	entries []Entry
}

// NewMemorySearcher creates a searcher over the given corpus. A nil corpus
// loads the built-in fraud-pattern notes.
func NewMemorySearcher(entries []Entry) *MemorySearcher {
	if entries == nil {
		entries = defaultCorpus()
	}
	return &MemorySearcher{entries: entries}
}

func (m *MemorySearcher) Search(_ context.Context, query string, limit int) ([]Entry, error) {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil, nil
	}
	querySet := make(map[string]bool, len(queryTokens))
	for _, t := range queryTokens {
		querySet[t] = true
	}

	var scored []Entry
	for _, e := range m.entries {
		docTokens := tokenize(e.Title + " " + e.Content + " " + strings.Join(e.Tags, " "))
		matched := map[string]bool{}
		for _, t := range docTokens {
			if querySet[t] {
				matched[t] = true
			}
		}
		if len(matched) == 0 {
			continue
		}
		e.Score = float64(len(matched)) / float64(len(querySet))
		scored = append(scored, e)
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if limit > 0 && limit < len(scored) {
		scored = scored[:limit]
	}
	return scored, nil
}

// defaultCorpus is a small set of fraud-pattern notes covering the signal
// types the risk engine emits.
func defaultCorpus() []Entry {
	return []Entry{
		{
			ID:      "kb_velocity_burst",
			Title:   "Transaction velocity bursts",
			Content: "A sudden burst of transactions within a single hour, well above the customer's typical rate, often indicates card testing or an automated attack. Verify recent merchant diversity and amounts before blocking.",
			Tags:    []string{"velocity", "card-testing"},
		},
		{
			ID:      "kb_amount_outlier",
			Title:   "Amount outliers against trailing average",
			Content: "Transactions many standard deviations above the customer's trailing average amount warrant investigation. Pair with merchant novelty: a large amount at a familiar merchant is less suspicious than at a new one.",
			Tags:    []string{"amount", "z-score"},
		},
		{
			ID:      "kb_impossible_travel",
			Title:   "Impossible travel between transactions",
			Content: "Two geo-tagged transactions whose implied travel speed exceeds commercial flight speed indicate a cloned card or compromised credentials. Recommended action is an immediate card freeze pending customer contact.",
			Tags:    []string{"location", "geo-velocity", "freeze"},
		},
		{
			ID:      "kb_new_device",
			Title:   "Transactions from unrecognized devices",
			Content: "A first transaction from an unknown device is common after a phone upgrade but combined with other signals it raises account-takeover likelihood. Contact the customer through a known channel.",
			Tags:    []string{"device", "account-takeover"},
		},
		{
			ID:      "kb_night_activity",
			Title:   "Unusual-hours activity",
			Content: "Card-present activity between midnight and early morning outside the customer's normal pattern is a weak signal on its own. Treat as corroborating evidence only.",
			Tags:    []string{"time", "unusual-hours"},
		},
		{
			ID:      "kb_dispute_process",
			Title:   "Opening a dispute",
			Content: "When a customer denies a flagged transaction, open a dispute with the transaction id and reason code, freeze the card if the risk level is high, and schedule customer contact within 24 hours.",
			Tags:    []string{"dispute", "chargeback"},
		},
	}
}
