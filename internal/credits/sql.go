package credits

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/haasonsaas/crew/pkg/models"
	_ "github.com/lib/pq"
)

// querier is the query surface shared by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLStore implements BalanceStore and LedgerStore on a Postgres-compatible
// database.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	return &SQLStore{db: db}, nil
}

// DB exposes the underlying database connection for related stores.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Migrate creates the credit tables if they do not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS credit_balances (
			org_id    TEXT PRIMARY KEY,
			daily     BIGINT NOT NULL DEFAULT 0,
			monthly   BIGINT NOT NULL DEFAULT 0,
			purchased BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS credit_sharing_ledger (
			parent_org_id TEXT NOT NULL,
			child_org_id  TEXT NOT NULL,
			day           TEXT NOT NULL,
			amount        BIGINT NOT NULL DEFAULT 0,
			updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (parent_org_id, child_org_id, day)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sharing_ledger_parent_day
			ON credit_sharing_ledger (parent_org_id, day)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate credits: %w", err)
		}
	}
	return nil
}

// InTx runs fn with balance and ledger stores bound to one transaction.
// Reads inside the transaction take row locks, so deductions from other
// processes serialize on the same balance and ledger rows.
func (s *SQLStore) InTx(ctx context.Context, fn func(balances BalanceStore, ledger LedgerStore) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin deduction tx: %w", err)
	}
	bound := &txStore{tx: tx}
	if err := fn(bound, bound); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit deduction tx: %w", err)
	}
	return nil
}

// Balance implements BalanceStore.
func (s *SQLStore) Balance(ctx context.Context, orgID string) (*models.CreditBalance, error) {
	return queryBalance(ctx, s.db, orgID, false)
}

// Save implements BalanceStore.
func (s *SQLStore) Save(ctx context.Context, balance *models.CreditBalance) error {
	return saveBalance(ctx, s.db, balance)
}

// Record implements LedgerStore. The upsert and returning total keep the
// append atomic.
func (s *SQLStore) Record(ctx context.Context, parentOrgID, childOrgID, day string, amount int64) (int64, error) {
	return recordLedger(ctx, s.db, parentOrgID, childOrgID, day, amount)
}

// ChildConsumed implements LedgerStore.
func (s *SQLStore) ChildConsumed(ctx context.Context, parentOrgID, childOrgID, day string) (int64, error) {
	return childConsumed(ctx, s.db, parentOrgID, childOrgID, day, false)
}

// TotalShared implements LedgerStore.
func (s *SQLStore) TotalShared(ctx context.Context, parentOrgID, day string) (int64, error) {
	var total sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT SUM(amount) FROM credit_sharing_ledger
		WHERE parent_org_id = $1 AND day = $2
	`, parentOrgID, day).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("query total shared: %w", err)
	}
	return total.Int64, nil
}

// Prune implements LedgerStore.
func (s *SQLStore) Prune(ctx context.Context, cutoffDay string) (int64, error) {
	return pruneLedger(ctx, s.db, cutoffDay)
}

// txStore binds the balance and ledger queries to one transaction. Reads
// lock the rows they touch so the enclosing deduction's check-then-write
// stays consistent across processes.
type txStore struct {
	tx *sql.Tx
}

func (t *txStore) Balance(ctx context.Context, orgID string) (*models.CreditBalance, error) {
	return queryBalance(ctx, t.tx, orgID, true)
}

func (t *txStore) Save(ctx context.Context, balance *models.CreditBalance) error {
	return saveBalance(ctx, t.tx, balance)
}

func (t *txStore) Record(ctx context.Context, parentOrgID, childOrgID, day string, amount int64) (int64, error) {
	return recordLedger(ctx, t.tx, parentOrgID, childOrgID, day, amount)
}

func (t *txStore) ChildConsumed(ctx context.Context, parentOrgID, childOrgID, day string) (int64, error) {
	return childConsumed(ctx, t.tx, parentOrgID, childOrgID, day, true)
}

// TotalShared locks the parent's ledger rows for the day and sums them
// here; the aggregate form cannot carry a row lock.
func (t *txStore) TotalShared(ctx context.Context, parentOrgID, day string) (int64, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT amount FROM credit_sharing_ledger
		WHERE parent_org_id = $1 AND day = $2
		FOR UPDATE
	`, parentOrgID, day)
	if err != nil {
		return 0, fmt.Errorf("query total shared: %w", err)
	}
	defer rows.Close()
	var total int64
	for rows.Next() {
		var amount int64
		if err := rows.Scan(&amount); err != nil {
			return 0, fmt.Errorf("scan shared amount: %w", err)
		}
		total += amount
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate shared amounts: %w", err)
	}
	return total, nil
}

func (t *txStore) Prune(ctx context.Context, cutoffDay string) (int64, error) {
	return pruneLedger(ctx, t.tx, cutoffDay)
}

func queryBalance(ctx context.Context, q querier, orgID string, forUpdate bool) (*models.CreditBalance, error) {
	query := `SELECT daily, monthly, purchased FROM credit_balances WHERE org_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	balance := &models.CreditBalance{OrgID: orgID}
	err := q.QueryRowContext(ctx, query, orgID).Scan(&balance.Daily, &balance.Monthly, &balance.Purchased)
	if err == sql.ErrNoRows {
		return balance, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query balance: %w", err)
	}
	return balance, nil
}

func saveBalance(ctx context.Context, q querier, balance *models.CreditBalance) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO credit_balances (org_id, daily, monthly, purchased, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (org_id) DO UPDATE
		SET daily = EXCLUDED.daily,
			monthly = EXCLUDED.monthly,
			purchased = EXCLUDED.purchased,
			updated_at = EXCLUDED.updated_at
	`, balance.OrgID, balance.Daily, balance.Monthly, balance.Purchased, time.Now())
	if err != nil {
		return fmt.Errorf("save balance: %w", err)
	}
	return nil
}

func recordLedger(ctx context.Context, q querier, parentOrgID, childOrgID, day string, amount int64) (int64, error) {
	var total int64
	err := q.QueryRowContext(ctx, `
		INSERT INTO credit_sharing_ledger (parent_org_id, child_org_id, day, amount, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (parent_org_id, child_org_id, day) DO UPDATE
		SET amount = credit_sharing_ledger.amount + EXCLUDED.amount,
			updated_at = EXCLUDED.updated_at
		RETURNING amount
	`, parentOrgID, childOrgID, day, amount, time.Now()).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("record ledger entry: %w", err)
	}
	return total, nil
}

func childConsumed(ctx context.Context, q querier, parentOrgID, childOrgID, day string, forUpdate bool) (int64, error) {
	query := `
		SELECT amount FROM credit_sharing_ledger
		WHERE parent_org_id = $1 AND child_org_id = $2 AND day = $3`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var amount int64
	err := q.QueryRowContext(ctx, query, parentOrgID, childOrgID, day).Scan(&amount)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("query child consumption: %w", err)
	}
	return amount, nil
}

func pruneLedger(ctx context.Context, q querier, cutoffDay string) (int64, error) {
	result, err := q.ExecContext(ctx, `
		DELETE FROM credit_sharing_ledger WHERE day < $1
	`, cutoffDay)
	if err != nil {
		return 0, fmt.Errorf("prune ledger: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return rows, nil
}
