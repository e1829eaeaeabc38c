package compliance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresStore persists compliance policies in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed policy store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the compliance_policies table if it doesn't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS compliance_policies (
			id          VARCHAR(64) PRIMARY KEY,
			type        VARCHAR(16) NOT NULL CHECK (type IN ('otp', 'pii', 'consent', 'limits', 'kyc')),
			active      BOOLEAN NOT NULL DEFAULT TRUE,
			rules       JSONB NOT NULL DEFAULT '[]',
			created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_compliance_policies_active
			ON compliance_policies (active) WHERE active;
	`)
	return err
}

func (s *PostgresStore) ListActive(ctx context.Context) ([]*Policy, error) {
	return s.list(ctx, `SELECT id, type, active, rules, created_at, updated_at
		FROM compliance_policies WHERE active ORDER BY id`)
}

func (s *PostgresStore) List(ctx context.Context) ([]*Policy, error) {
	return s.list(ctx, `SELECT id, type, active, rules, created_at, updated_at
		FROM compliance_policies ORDER BY id`)
}

func (s *PostgresStore) list(ctx context.Context, query string) ([]*Policy, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list policies: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Policy, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, type, active, rules, created_at, updated_at
		FROM compliance_policies WHERE id = $1`, id)

	p, err := scanPolicy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPolicyNotFound
	}
	return p, err
}

func (s *PostgresStore) Put(ctx context.Context, policy *Policy) error {
	rulesJSON, err := json.Marshal(policy.Rules)
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO compliance_policies (id, type, active, rules, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			type = EXCLUDED.type,
			active = EXCLUDED.active,
			rules = EXCLUDED.rules,
			updated_at = NOW()
	`, policy.ID, string(policy.Type), policy.Active, rulesJSON)
	if err != nil {
		return fmt.Errorf("failed to upsert policy: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicy(row rowScanner) (*Policy, error) {
	var p Policy
	var typ string
	var rulesJSON []byte

	if err := row.Scan(&p.ID, &typ, &p.Active, &rulesJSON, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.Type = PolicyType(typ)
	if err := json.Unmarshal(rulesJSON, &p.Rules); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rules: %w", err)
	}
	return &p, nil
}
