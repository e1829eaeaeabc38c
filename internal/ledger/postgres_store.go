package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore reads ledger data from PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed ledger store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the ledger tables if they don't exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS customers (
			id              VARCHAR(64) PRIMARY KEY,
			name            TEXT NOT NULL,
			email           TEXT NOT NULL,
			kyc_verified    BOOLEAN NOT NULL DEFAULT FALSE,
			consent_given   BOOLEAN NOT NULL DEFAULT FALSE,
			home_city       TEXT NOT NULL DEFAULT '',
			account_opened  TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS transactions (
			id           VARCHAR(64) PRIMARY KEY,
			customer_id  VARCHAR(64) NOT NULL REFERENCES customers(id),
			amount       NUMERIC(20, 2) NOT NULL,
			currency     VARCHAR(8) NOT NULL DEFAULT 'INR',
			merchant     TEXT NOT NULL,
			mcc          VARCHAR(8) NOT NULL DEFAULT '',
			device_id    VARCHAR(64) NOT NULL DEFAULT '',
			latitude     DOUBLE PRECISION NOT NULL DEFAULT 0,
			longitude    DOUBLE PRECISION NOT NULL DEFAULT 0,
			has_geo      BOOLEAN NOT NULL DEFAULT FALSE,
			ts           TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_transactions_customer_ts
			ON transactions (customer_id, ts DESC);

		CREATE TABLE IF NOT EXISTS devices (
			id           VARCHAR(64) PRIMARY KEY,
			customer_id  VARCHAR(64) NOT NULL REFERENCES customers(id),
			label        TEXT NOT NULL DEFAULT '',
			first_seen   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_seen    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_devices_customer ON devices (customer_id);

		CREATE TABLE IF NOT EXISTS chargebacks (
			id              VARCHAR(64) PRIMARY KEY,
			customer_id     VARCHAR(64) NOT NULL REFERENCES customers(id),
			transaction_id  VARCHAR(64) NOT NULL,
			amount          NUMERIC(20, 2) NOT NULL,
			reason          TEXT NOT NULL DEFAULT '',
			filed_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_chargebacks_customer ON chargebacks (customer_id);
	`)
	return err
}

func (s *PostgresStore) FindCustomerByID(ctx context.Context, id string) (*Customer, error) {
	var c Customer
	err := s.db.QueryRowContext(ctx, `SELECT id, name, email, kyc_verified, consent_given, home_city, account_opened
		FROM customers WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Email, &c.KYCVerified, &c.ConsentGiven, &c.HomeCity, &c.AccountOpened)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCustomerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find customer: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) FindTransactionByID(ctx context.Context, id string) (*Transaction, error) {
	var tx Transaction
	err := s.db.QueryRowContext(ctx, `SELECT id, customer_id, amount, currency, merchant, mcc, device_id, latitude, longitude, has_geo, ts
		FROM transactions WHERE id = $1`, id).
		Scan(&tx.ID, &tx.CustomerID, &tx.Amount, &tx.Currency, &tx.Merchant, &tx.MCC,
			&tx.DeviceID, &tx.Latitude, &tx.Longitude, &tx.HasGeo, &tx.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	return &tx, nil
}

func (s *PostgresStore) FindTransactionsByCustomer(ctx context.Context, customerID string, limit, offset int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, customer_id, amount, currency, merchant, mcc, device_id, latitude, longitude, has_geo, ts
		FROM transactions WHERE customer_id = $1 ORDER BY ts DESC LIMIT $2 OFFSET $3`,
		customerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Transaction
	for rows.Next() {
		var tx Transaction
		if err := rows.Scan(&tx.ID, &tx.CustomerID, &tx.Amount, &tx.Currency, &tx.Merchant, &tx.MCC,
			&tx.DeviceID, &tx.Latitude, &tx.Longitude, &tx.HasGeo, &tx.Timestamp); err != nil {
			return nil, err
		}
		result = append(result, &tx)
	}
	return result, rows.Err()
}

func (s *PostgresStore) FindDevicesByCustomer(ctx context.Context, customerID string) ([]*Device, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, customer_id, label, first_seen, last_seen
		FROM devices WHERE customer_id = $1 ORDER BY first_seen`, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Device
	for rows.Next() {
		var d Device
		if err := rows.Scan(&d.ID, &d.CustomerID, &d.Label, &d.FirstSeen, &d.LastSeen); err != nil {
			return nil, err
		}
		result = append(result, &d)
	}
	return result, rows.Err()
}

func (s *PostgresStore) FindChargebacksByCustomer(ctx context.Context, customerID string) ([]*Chargeback, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, customer_id, transaction_id, amount, reason, filed_at
		FROM chargebacks WHERE customer_id = $1 ORDER BY filed_at DESC`, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chargebacks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Chargeback
	for rows.Next() {
		var cb Chargeback
		if err := rows.Scan(&cb.ID, &cb.CustomerID, &cb.TransactionID, &cb.Amount, &cb.Reason, &cb.FiledAt); err != nil {
			return nil, err
		}
		result = append(result, &cb)
	}
	return result, rows.Err()
}
