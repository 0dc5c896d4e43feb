package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tally/internal/core"
	"tally/internal/store"
)

func sampleSnapshot(t *testing.T) core.Snapshot {
	t.Helper()
	day, err := core.ParseDate("2026-08-14")
	if err != nil {
		t.Fatalf("parse date: %v", err)
	}
	now := time.Date(2026, 8, 14, 10, 30, 0, 0, time.UTC)

	return core.Snapshot{
		Categories: []core.Category{
			{ID: "food", Name: "Food & Dining", Color: "hsl(24, 85%, 55%)", Icon: "utensils"},
			{ID: "transport", Name: "Transport", Color: "hsl(200, 80%, 50%)", Icon: "car"},
		},
		Expenses: []core.Expense{
			{
				ID: "e1", Amount: 15.5, CategoryID: "food", Date: day,
				Note: "lunch, \"extra\" sauce", IsRecurring: true,
				RecurringType: core.RecurringMonthly, CreatedAt: now, UpdatedAt: now,
			},
			{
				ID: "e2", Amount: 7, CategoryID: "transport", Date: day,
				CreatedAt: now, UpdatedAt: now,
			},
		},
		Budgets: []core.Budget{
			{ID: "b1", CategoryID: "food", Amount: 300, Month: "2026-08"},
		},
		MonthlyBudgets: []core.MonthlyBudget{
			{
				Month: "2026-08", TotalBudget: 1000, UseCategoryPercentages: true,
				CategoryPercentages: map[string]float64{"food": 60, "transport": 40},
			},
		},
		BankConnections: []core.BankConnection{
			{
				ID: "bc1", AccessToken: "secret-token", ItemID: "item-1",
				InstitutionID: "ins-1", InstitutionName: "Sandbox Bank",
				Accounts: []core.BankAccount{
					{
						ID: "acc1", InstitutionID: "ins-1", InstitutionName: "Sandbox Bank",
						AccountName: "Checking", AccountType: core.AccountChecking,
						Balance: 1234.56, Currency: "EUR", LastSync: now, IsActive: true,
					},
				},
				CreatedAt: now, LastSync: now,
			},
		},
		Transactions: []core.Transaction{
			{
				ID: "t1", ExternalID: "ext-1", BankConnectionID: "bc1", AccountID: "acc1",
				Amount: 15.5, Date: day, Name: "STARBUCKS", MerchantName: "Starbucks",
				Category: "food", Pending: false, Synced: true, CreatedAt: now,
			},
		},
	}
}

func assertRoundTrip(t *testing.T, repo store.Persister) {
	t.Helper()
	ctx := context.Background()

	if _, found, err := repo.Load(ctx, "alice"); err != nil || found {
		t.Fatalf("Load before save: found=%v err=%v, want absent", found, err)
	}

	want := sampleSnapshot(t)
	if err := repo.Save(ctx, "alice", want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, found, err := repo.Load(ctx, "alice")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !found {
		t.Fatal("Load: snapshot not found after save")
	}

	if len(got.Categories) != 2 || got.Categories[0].ID != "food" || got.Categories[1].ID != "transport" {
		t.Fatalf("categories mismatch: %+v", got.Categories)
	}
	if len(got.Expenses) != 2 {
		t.Fatalf("expected 2 expenses, got %d", len(got.Expenses))
	}
	e := got.Expenses[0]
	if e.ID != "e1" || e.Amount != 15.5 || e.Note != "lunch, \"extra\" sauce" {
		t.Fatalf("expense mismatch: %+v", e)
	}
	if !e.IsRecurring || e.RecurringType != core.RecurringMonthly {
		t.Fatalf("recurring fields lost: %+v", e)
	}
	if e.Date.ISO() != "2026-08-14" {
		t.Fatalf("expense date mismatch: %s", e.Date.ISO())
	}
	if !e.CreatedAt.Equal(want.Expenses[0].CreatedAt) {
		t.Fatalf("created_at mismatch: %v vs %v", e.CreatedAt, want.Expenses[0].CreatedAt)
	}

	if len(got.Budgets) != 1 || got.Budgets[0].Month != "2026-08" || got.Budgets[0].Amount != 300 {
		t.Fatalf("budgets mismatch: %+v", got.Budgets)
	}
	if len(got.MonthlyBudgets) != 1 {
		t.Fatalf("expected 1 monthly budget, got %d", len(got.MonthlyBudgets))
	}
	mb := got.MonthlyBudgets[0]
	if !mb.UseCategoryPercentages || mb.TotalBudget != 1000 {
		t.Fatalf("monthly budget mismatch: %+v", mb)
	}
	if mb.CategoryPercentages["food"] != 60 || mb.CategoryPercentages["transport"] != 40 {
		t.Fatalf("percentages mismatch: %+v", mb.CategoryPercentages)
	}

	if len(got.BankConnections) != 1 {
		t.Fatalf("expected 1 connection, got %d", len(got.BankConnections))
	}
	bc := got.BankConnections[0]
	if bc.AccessToken != "secret-token" || bc.ItemID != "item-1" {
		t.Fatalf("connection credential mismatch: %+v", bc)
	}
	if len(bc.Accounts) != 1 || bc.Accounts[0].Balance != 1234.56 || !bc.Accounts[0].IsActive {
		t.Fatalf("accounts mismatch: %+v", bc.Accounts)
	}

	if len(got.Transactions) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(got.Transactions))
	}
	tx := got.Transactions[0]
	if tx.ExternalID != "ext-1" || !tx.Synced || tx.Pending {
		t.Fatalf("transaction mismatch: %+v", tx)
	}

	// A second save must fully replace, not append.
	want.Expenses = want.Expenses[:1]
	want.Transactions = nil
	if err := repo.Save(ctx, "alice", want); err != nil {
		t.Fatalf("second Save: %v", err)
	}
	got, _, err = repo.Load(ctx, "alice")
	if err != nil {
		t.Fatalf("Load after replace: %v", err)
	}
	if len(got.Expenses) != 1 || len(got.Transactions) != 0 {
		t.Fatalf("replace semantics broken: %d expenses, %d transactions",
			len(got.Expenses), len(got.Transactions))
	}

	// Scopes must not leak into each other.
	if _, found, err := repo.Load(ctx, "bob"); err != nil || found {
		t.Fatalf("foreign scope visible: found=%v err=%v", found, err)
	}
}

func TestSQLiteRepositoryRoundTrip(t *testing.T) {
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "tally.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	defer repo.Close()

	assertRoundTrip(t, repo)
}

func TestFileRepositoryRoundTrip(t *testing.T) {
	repo, err := NewFileRepository(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileRepository: %v", err)
	}

	assertRoundTrip(t, repo)
}

func TestFileRepositoryScopeSanitization(t *testing.T) {
	repo, err := NewFileRepository(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileRepository: %v", err)
	}
	ctx := context.Background()

	if err := repo.Save(ctx, "../evil/user", core.Snapshot{}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, found, err := repo.Load(ctx, "../evil/user"); err != nil || !found {
		t.Fatalf("Load sanitized scope: found=%v err=%v", found, err)
	}
	if got := sanitizeScope("../evil/user"); got != ".._evil_user" {
		t.Fatalf("sanitizeScope = %q", got)
	}
}
