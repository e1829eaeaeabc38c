//go:build integration

package ledger

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/sentinelpay/triage/internal/testutil"
)

// seedCustomer inserts a customer row directly. The ledger store only
// reads; writes come from the ingestion side.
func seedCustomer(t *testing.T, db *sql.DB, id string) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO customers (id, name, email, kyc_verified, consent_given, home_city)
		VALUES ($1, 'Priya Sharma', 'priya@example.com', TRUE, TRUE, 'Mumbai')
	`, id)
	if err != nil {
		t.Fatalf("seed customer: %v", err)
	}
}

func seedTransaction(t *testing.T, db *sql.DB, id, customerID string, amount float64, ts time.Time) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), `
		INSERT INTO transactions (id, customer_id, amount, currency, merchant, mcc, device_id, latitude, longitude, has_geo, ts)
		VALUES ($1, $2, $3, 'INR', 'BigBasket', '5411', 'dev_pg1', 19.07, 72.87, TRUE, $4)
	`, id, customerID, amount, ts)
	if err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
}

func TestPostgresLedger_FindCustomer(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	seedCustomer(t, db, "cust_pg_a")

	got, err := store.FindCustomerByID(ctx, "cust_pg_a")
	if err != nil {
		t.Fatalf("FindCustomerByID failed: %v", err)
	}
	if got.Name != "Priya Sharma" {
		t.Errorf("Name: got %s", got.Name)
	}
	if !got.KYCVerified || !got.ConsentGiven {
		t.Error("KYC and consent flags should round-trip")
	}
	if got.HomeCity != "Mumbai" {
		t.Errorf("HomeCity: got %s", got.HomeCity)
	}

	_, err = store.FindCustomerByID(ctx, "cust_missing")
	if err != ErrCustomerNotFound {
		t.Errorf("Expected ErrCustomerNotFound, got %v", err)
	}
}

func TestPostgresLedger_FindTransaction(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	seedCustomer(t, db, "cust_pg_b")
	seedTransaction(t, db, "txn_pg_b1", "cust_pg_b", 4999.50, time.Now())

	got, err := store.FindTransactionByID(ctx, "txn_pg_b1")
	if err != nil {
		t.Fatalf("FindTransactionByID failed: %v", err)
	}
	if got.CustomerID != "cust_pg_b" {
		t.Errorf("CustomerID: got %s", got.CustomerID)
	}
	if got.Amount != 4999.50 {
		t.Errorf("Amount: got %f, want 4999.50", got.Amount)
	}
	if !got.HasGeo {
		t.Error("HasGeo should be true")
	}

	_, err = store.FindTransactionByID(ctx, "txn_missing")
	if err != ErrTransactionNotFound {
		t.Errorf("Expected ErrTransactionNotFound, got %v", err)
	}
}

func TestPostgresLedger_TransactionsNewestFirst(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	seedCustomer(t, db, "cust_pg_c")

	now := time.Now()
	seedTransaction(t, db, "txn_pg_old", "cust_pg_c", 100, now.Add(-2*time.Hour))
	seedTransaction(t, db, "txn_pg_mid", "cust_pg_c", 200, now.Add(-1*time.Hour))
	seedTransaction(t, db, "txn_pg_new", "cust_pg_c", 300, now)

	got, err := store.FindTransactionsByCustomer(ctx, "cust_pg_c", 10, 0)
	if err != nil {
		t.Fatalf("FindTransactionsByCustomer failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("Expected 3 transactions, got %d", len(got))
	}
	if got[0].ID != "txn_pg_new" || got[2].ID != "txn_pg_old" {
		t.Errorf("Expected newest first, got order %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
	}

	// Limit and offset page through the same ordering.
	page, err := store.FindTransactionsByCustomer(ctx, "cust_pg_c", 1, 1)
	if err != nil {
		t.Fatalf("Paged query failed: %v", err)
	}
	if len(page) != 1 || page[0].ID != "txn_pg_mid" {
		t.Errorf("Expected page of [txn_pg_mid], got %v", page)
	}
}

func TestPostgresLedger_DevicesAndChargebacks(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	seedCustomer(t, db, "cust_pg_d")

	_, err := db.ExecContext(ctx, `
		INSERT INTO devices (id, customer_id, label, first_seen, last_seen)
		VALUES ('dev_pg_d1', 'cust_pg_d', 'Pixel 8', NOW() - INTERVAL '30 days', NOW())
	`)
	if err != nil {
		t.Fatalf("seed device: %v", err)
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO chargebacks (id, customer_id, transaction_id, amount, reason)
		VALUES ('cb_pg_d1', 'cust_pg_d', 'txn_pg_x', 1500, 'goods not received')
	`)
	if err != nil {
		t.Fatalf("seed chargeback: %v", err)
	}

	devices, err := store.FindDevicesByCustomer(ctx, "cust_pg_d")
	if err != nil {
		t.Fatalf("FindDevicesByCustomer failed: %v", err)
	}
	if len(devices) != 1 || devices[0].Label != "Pixel 8" {
		t.Errorf("Devices: got %v", devices)
	}

	chargebacks, err := store.FindChargebacksByCustomer(ctx, "cust_pg_d")
	if err != nil {
		t.Fatalf("FindChargebacksByCustomer failed: %v", err)
	}
	if len(chargebacks) != 1 || chargebacks[0].Reason != "goods not received" {
		t.Errorf("Chargebacks: got %v", chargebacks)
	}
	if chargebacks[0].Amount != 1500 {
		t.Errorf("Chargeback amount: got %f, want 1500", chargebacks[0].Amount)
	}
}
