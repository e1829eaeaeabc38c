package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PostgresStore persists assessments in PostgreSQL for the audit trail.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the risk_assessments table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS risk_assessments (
			id              VARCHAR(64) PRIMARY KEY,
			customer_id     VARCHAR(64) NOT NULL,
			transaction_id  VARCHAR(64) NOT NULL,
			risk_score      DOUBLE PRECISION NOT NULL,
			risk_level      VARCHAR(8) NOT NULL,
			recommendation  VARCHAR(16) NOT NULL,
			confidence      DOUBLE PRECISION NOT NULL,
			signals         JSONB NOT NULL DEFAULT '[]',
			reasoning       JSONB NOT NULL DEFAULT '[]',
			evaluated_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_risk_assessments_customer
			ON risk_assessments (customer_id, evaluated_at DESC);
	`)
	return err
}

func (s *PostgresStore) Record(ctx context.Context, a *Assessment) error {
	signalsJSON, err := json.Marshal(a.Signals)
	if err != nil {
		return fmt.Errorf("failed to marshal signals: %w", err)
	}
	reasoningJSON, err := json.Marshal(a.Reasoning)
	if err != nil {
		return fmt.Errorf("failed to marshal reasoning: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments
			(id, customer_id, transaction_id, risk_score, risk_level, recommendation, confidence, signals, reasoning, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, a.ID, a.CustomerID, a.TransactionID, a.RiskScore, string(a.RiskLevel),
		string(a.Recommendation), a.Confidence, signalsJSON, reasoningJSON, a.EvaluatedAt)
	if err != nil {
		return fmt.Errorf("failed to record assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByCustomer(ctx context.Context, customerID string, limit int) ([]*Assessment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, transaction_id, risk_score, risk_level, recommendation, confidence, signals, reasoning, evaluated_at
		FROM risk_assessments WHERE customer_id = $1 ORDER BY evaluated_at DESC LIMIT $2
	`, customerID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Assessment
	for rows.Next() {
		var a Assessment
		var level, rec string
		var signalsJSON, reasoningJSON []byte
		if err := rows.Scan(&a.ID, &a.CustomerID, &a.TransactionID, &a.RiskScore, &level,
			&rec, &a.Confidence, &signalsJSON, &reasoningJSON, &a.EvaluatedAt); err != nil {
			return nil, err
		}
		a.RiskLevel = Severity(level)
		a.Recommendation = Recommendation(rec)
		if err := json.Unmarshal(signalsJSON, &a.Signals); err != nil {
			return nil, fmt.Errorf("failed to unmarshal signals: %w", err)
		}
		if err := json.Unmarshal(reasoningJSON, &a.Reasoning); err != nil {
			return nil, fmt.Errorf("failed to unmarshal reasoning: %w", err)
		}
		result = append(result, &a)
	}
	return result, rows.Err()
}
