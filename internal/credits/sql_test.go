package credits

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/haasonsaas/crew/pkg/models"
)

func TestSQLStoreBalanceMissingRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT daily, monthly, purchased FROM credit_balances").
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"daily", "monthly", "purchased"}))

	store, err := NewSQLStore(db)
	if err != nil {
		t.Fatal(err)
	}
	balance, err := store.Balance(context.Background(), "org-1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Daily != 0 || balance.Monthly != 0 || balance.Purchased != 0 {
		t.Errorf("missing row should yield zero balance, got %+v", balance)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLStoreRecordReturnsTotal(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery("INSERT INTO credit_sharing_ledger").
		WithArgs("parent", "child", "2026-03-15", int64(10), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow(int64(85)))

	store, _ := NewSQLStore(db)
	total, err := store.Record(context.Background(), "parent", "child", "2026-03-15", 10)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if total != 85 {
		t.Errorf("total = %d, want 85", total)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLStoreTotalSharedNullSum(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT SUM\\(amount\\) FROM credit_sharing_ledger").
		WithArgs("parent", "2026-03-15").
		WillReturnRows(sqlmock.NewRows([]string{"sum"}).AddRow(nil))

	store, _ := NewSQLStore(db)
	total, err := store.TotalShared(context.Background(), "parent", "2026-03-15")
	if err != nil {
		t.Fatalf("total shared: %v", err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0 for NULL sum", total)
	}
}

func TestSQLStorePrune(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectExec("DELETE FROM credit_sharing_ledger WHERE day <").
		WithArgs("2026-03-03").
		WillReturnResult(sqlmock.NewResult(0, 12))

	store, _ := NewSQLStore(db)
	pruned, err := store.Prune(context.Background(), "2026-03-03")
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 12 {
		t.Errorf("pruned = %d, want 12", pruned)
	}
}

func TestSQLDeductionRunsInTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT daily, monthly, purchased FROM credit_balances WHERE org_id = \\$1 FOR UPDATE").
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"daily", "monthly", "purchased"}).
			AddRow(int64(10), int64(0), int64(0)))
	mock.ExpectExec("INSERT INTO credit_balances").
		WithArgs("org-1", int64(5), int64(0), int64(0), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store, _ := NewSQLStore(db)
	accountant := NewAccountant(store, store, NewMemoryOrgDirectory(
		&models.Organization{ID: "org-1"}), WithNowFunc(fixedNow))

	deduction, err := accountant.Deduct(context.Background(), "org-1", 5, "model_call")
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if deduction.Amount != 5 || deduction.FromParent != "" {
		t.Errorf("deduction = %+v", deduction)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLDeductionRollsBackOnExhaustion(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT daily, monthly, purchased FROM credit_balances WHERE org_id = \\$1 FOR UPDATE").
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"daily", "monthly", "purchased"}).
			AddRow(int64(2), int64(0), int64(0)))
	mock.ExpectRollback()

	store, _ := NewSQLStore(db)
	accountant := NewAccountant(store, store, NewMemoryOrgDirectory(
		&models.Organization{ID: "org-1"}), WithNowFunc(fixedNow))

	_, err = accountant.Deduct(context.Background(), "org-1", 5, "model_call")
	if !errors.Is(err, ErrCreditsExhausted) {
		t.Fatalf("err = %v, want ErrCreditsExhausted", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLParentFallbackSingleTransaction(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectBegin()
	// Child balance is empty; the parent pays inside the same transaction.
	mock.ExpectQuery("SELECT daily, monthly, purchased FROM credit_balances WHERE org_id = \\$1 FOR UPDATE").
		WithArgs("child").
		WillReturnRows(sqlmock.NewRows([]string{"daily", "monthly", "purchased"}).
			AddRow(int64(0), int64(0), int64(0)))
	mock.ExpectQuery("SELECT amount FROM credit_sharing_ledger").
		WithArgs("parent", "child", "2026-03-15").
		WillReturnRows(sqlmock.NewRows([]string{"amount"}))
	mock.ExpectQuery("SELECT amount FROM credit_sharing_ledger").
		WithArgs("parent", "2026-03-15").
		WillReturnRows(sqlmock.NewRows([]string{"amount"}))
	mock.ExpectQuery("SELECT daily, monthly, purchased FROM credit_balances WHERE org_id = \\$1 FOR UPDATE").
		WithArgs("parent").
		WillReturnRows(sqlmock.NewRows([]string{"daily", "monthly", "purchased"}).
			AddRow(int64(0), int64(0), int64(100)))
	mock.ExpectExec("INSERT INTO credit_balances").
		WithArgs("parent", int64(0), int64(0), int64(90), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("INSERT INTO credit_sharing_ledger").
		WithArgs("parent", "child", "2026-03-15", int64(10), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"amount"}).AddRow(int64(10)))
	mock.ExpectCommit()

	parent := &models.Organization{
		ID: "parent",
		CreditSharing: &models.CreditSharingConfig{
			Enabled:     true,
			MaxPerChild: 100,
		},
	}
	child := &models.Organization{ID: "child", ParentID: "parent"}
	store, _ := NewSQLStore(db)
	accountant := NewAccountant(store, store, NewMemoryOrgDirectory(parent, child),
		WithNowFunc(fixedNow))

	deduction, err := accountant.Deduct(context.Background(), "child", 10, "model_call")
	if err != nil {
		t.Fatalf("deduct: %v", err)
	}
	if deduction.FromParent != "parent" {
		t.Errorf("FromParent = %q, want parent", deduction.FromParent)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
