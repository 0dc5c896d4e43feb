package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"tally/internal/core"
)

// fakePersister keeps snapshots in memory and can fail on demand.
type fakePersister struct {
	snaps    map[string]core.Snapshot
	saves    int
	failSave error
	failLoad error
}

func newFakePersister() *fakePersister {
	return &fakePersister{snaps: make(map[string]core.Snapshot)}
}

func (p *fakePersister) Load(_ context.Context, userID string) (core.Snapshot, bool, error) {
	if p.failLoad != nil {
		return core.Snapshot{}, false, p.failLoad
	}
	snap, ok := p.snaps[userID]
	return snap.Clone(), ok, nil
}

func (p *fakePersister) Save(_ context.Context, userID string, snap core.Snapshot) error {
	if p.failSave != nil {
		return p.failSave
	}
	p.saves++
	p.snaps[userID] = snap.Clone()
	return nil
}

func openTestLedger(t *testing.T) (*Ledger, *fakePersister) {
	t.Helper()
	p := newFakePersister()
	l, err := Open(context.Background(), "user-1", p)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	return l, p
}

func TestOpenSeedsDefaults(t *testing.T) {
	l, p := openTestLedger(t)

	snap := l.Snapshot()
	if len(snap.Categories) != 7 {
		t.Fatalf("expected 7 default categories, got %d", len(snap.Categories))
	}
	if p.saves != 1 {
		t.Fatalf("expected the seeded snapshot persisted once, got %d saves", p.saves)
	}

	stored := p.snaps["user-1"]
	if len(stored.Categories) != 7 {
		t.Fatalf("persisted snapshot missing defaults: %d categories", len(stored.Categories))
	}
}

func TestOpenAfterLoadFailureSeedsDefaults(t *testing.T) {
	p := newFakePersister()
	p.failLoad = errors.New("disk gone")
	l, err := Open(context.Background(), "user-1", p)
	if err != nil {
		t.Fatalf("open must recover from load failure: %v", err)
	}
	if len(l.Snapshot().Categories) != 7 {
		t.Fatal("expected default categories after load failure")
	}
}

func TestAddExpense(t *testing.T) {
	l, p := openTestLedger(t)
	ctx := context.Background()

	exp, err := l.AddExpense(ctx, ExpenseDraft{
		Amount:     42.50,
		CategoryID: "food",
		Date:       core.NewDate(2024, 3, 5),
		Note:       "lunch",
	})
	if err != nil {
		t.Fatalf("add expense: %v", err)
	}
	if exp.ID == "" || exp.CreatedAt.IsZero() || exp.UpdatedAt.IsZero() {
		t.Fatalf("id and timestamps must be assigned: %+v", exp)
	}

	// Persisted on the way out.
	if got := len(p.snaps["user-1"].Expenses); got != 1 {
		t.Fatalf("expected 1 persisted expense, got %d", got)
	}

	cases := []struct {
		name  string
		draft ExpenseDraft
	}{
		{"non-positive amount", ExpenseDraft{Amount: 0, CategoryID: "food", Date: core.NewDate(2024, 3, 5)}},
		{"unknown category", ExpenseDraft{Amount: 10, CategoryID: "nope", Date: core.NewDate(2024, 3, 5)}},
	}
	for _, tc := range cases {
		_, err := l.AddExpense(ctx, tc.draft)
		var verr *core.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("%s: expected ValidationError, got %v", tc.name, err)
		}
	}
}

func TestUpdateExpense(t *testing.T) {
	l, _ := openTestLedger(t)
	ctx := context.Background()

	exp, err := l.AddExpense(ctx, ExpenseDraft{Amount: 10, CategoryID: "food", Date: core.NewDate(2024, 3, 5)})
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	amount := 25.0
	note := "updated"
	got, err := l.UpdateExpense(ctx, exp.ID, ExpensePatch{Amount: &amount, Note: &note})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Amount != 25 || got.Note != "updated" {
		t.Fatalf("patch not applied: %+v", got)
	}
	if got.UpdatedAt.Before(exp.UpdatedAt) {
		t.Fatal("updatedAt not refreshed")
	}
	if got.CreatedAt != exp.CreatedAt {
		t.Fatal("createdAt must not change")
	}

	_, err = l.UpdateExpense(ctx, "missing", ExpensePatch{Amount: &amount})
	var nf *core.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("expected NotFoundError, got %v", err)
	}
}

func TestDeleteExpenseIdempotent(t *testing.T) {
	l, _ := openTestLedger(t)
	ctx := context.Background()

	exp, _ := l.AddExpense(ctx, ExpenseDraft{Amount: 10, CategoryID: "food", Date: core.NewDate(2024, 3, 5)})
	if err := l.DeleteExpense(ctx, exp.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := l.DeleteExpense(ctx, exp.ID); err != nil {
		t.Fatalf("second delete must be a no-op: %v", err)
	}
	if len(l.Snapshot().Expenses) != 0 {
		t.Fatal("expense not removed")
	}
}

func TestDeleteCategory(t *testing.T) {
	l, _ := openTestLedger(t)
	ctx := context.Background()

	// Category in use: conflict, store unchanged.
	if _, err := l.AddExpense(ctx, ExpenseDraft{Amount: 10, CategoryID: "food", Date: core.NewDate(2024, 3, 5)}); err != nil {
		t.Fatalf("add expense: %v", err)
	}
	if _, err := l.SetCategoryBudget(ctx, "food", "2024-03", 100); err != nil {
		t.Fatalf("set budget: %v", err)
	}
	before := l.Snapshot()

	err := l.DeleteCategory(ctx, "food")
	var conflict *core.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	after := l.Snapshot()
	if len(after.Categories) != len(before.Categories) || len(after.Budgets) != len(before.Budgets) {
		t.Fatal("store changed despite conflict")
	}

	// Unreferenced category: removed along with its budget rows.
	if _, err := l.SetCategoryBudget(ctx, "transport", "2024-03", 50); err != nil {
		t.Fatalf("set budget: %v", err)
	}
	if err := l.DeleteCategory(ctx, "transport"); err != nil {
		t.Fatalf("delete unreferenced category: %v", err)
	}
	snap := l.Snapshot()
	for _, c := range snap.Categories {
		if c.ID == "transport" {
			t.Fatal("category not removed")
		}
	}
	for _, b := range snap.Budgets {
		if b.CategoryID == "transport" {
			t.Fatal("budget rows not cascaded")
		}
	}
}

func TestSetCategoryBudgetUpsert(t *testing.T) {
	l, _ := openTestLedger(t)
	ctx := context.Background()

	first, err := l.SetCategoryBudget(ctx, "food", "2024-03", 100)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	second, err := l.SetCategoryBudget(ctx, "food", "2024-03", 250)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if second.ID != first.ID {
		t.Fatal("upsert must keep the row identity")
	}
	if n := len(l.Snapshot().Budgets); n != 1 {
		t.Fatalf("expected a single row per (category, month), got %d", n)
	}

	if _, err := l.SetCategoryBudget(ctx, "food", "2024-03", 0); err == nil {
		t.Fatal("non-positive amount must be rejected")
	}

	if err := l.ClearCategoryBudget(ctx, "food", "2024-03"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if err := l.ClearCategoryBudget(ctx, "food", "2024-03"); err != nil {
		t.Fatalf("clear must be idempotent: %v", err)
	}
	if n := len(l.Snapshot().Budgets); n != 0 {
		t.Fatalf("expected no rows after clear, got %d", n)
	}
}

func TestSetMonthlyBudget(t *testing.T) {
	l, _ := openTestLedger(t)
	ctx := context.Background()

	// Percentage mode with a valid 60/40 split.
	mb, err := l.SetMonthlyBudget(ctx, core.MonthlyBudget{
		Month:                  "2024-03",
		TotalBudget:            1000,
		UseCategoryPercentages: true,
		CategoryPercentages:    map[string]float64{"food": 60, "transport": 40},
	})
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if got := mb.Allocation("food"); got != 600 {
		t.Fatalf("expected food allocation 600, got %v", got)
	}

	// Bad sum is rejected.
	_, err = l.SetMonthlyBudget(ctx, core.MonthlyBudget{
		Month:                  "2024-03",
		TotalBudget:            1000,
		UseCategoryPercentages: true,
		CategoryPercentages:    map[string]float64{"food": 60, "transport": 30},
	})
	var verr *core.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for 90%% sum, got %v", err)
	}

	// Unknown category in the mapping is rejected.
	_, err = l.SetMonthlyBudget(ctx, core.MonthlyBudget{
		Month:                  "2024-03",
		TotalBudget:            1000,
		UseCategoryPercentages: true,
		CategoryPercentages:    map[string]float64{"nope": 100},
	})
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for unknown category, got %v", err)
	}

	// Switching to flat mode clears the percentage mapping.
	flat, err := l.SetMonthlyBudget(ctx, core.MonthlyBudget{Month: "2024-03", TotalBudget: 800})
	if err != nil {
		t.Fatalf("flat set: %v", err)
	}
	if flat.UseCategoryPercentages || flat.CategoryPercentages != nil {
		t.Fatalf("flat mode must drop percentages: %+v", flat)
	}
	if n := len(l.Snapshot().MonthlyBudgets); n != 1 {
		t.Fatalf("expected one record per month, got %d", n)
	}

	// Clearing removes the record entirely.
	if err := l.ClearMonthlyBudget(ctx, "2024-03"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n := len(l.Snapshot().MonthlyBudgets); n != 0 {
		t.Fatalf("expected no records after clear, got %d", n)
	}
}

func TestSaveFailureSurfacesButKeepsMutation(t *testing.T) {
	l, p := openTestLedger(t)
	ctx := context.Background()

	p.failSave = errors.New("disk full")
	_, err := l.AddExpense(ctx, ExpenseDraft{Amount: 10, CategoryID: "food", Date: core.NewDate(2024, 3, 5)})
	var perr *core.PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	// Optimistic: in-memory state keeps the mutation.
	if len(l.Snapshot().Expenses) != 1 {
		t.Fatal("mutation must stay applied in memory")
	}
}

func TestMonthSummaryScenario(t *testing.T) {
	l, _ := openTestLedger(t)
	ctx := context.Background()

	for _, e := range []ExpenseDraft{
		{Amount: 50, CategoryID: "food", Date: core.NewDate(2024, 3, 5)},
		{Amount: 30, CategoryID: "food", Date: core.NewDate(2024, 3, 20)},
		{Amount: 20, CategoryID: "transport", Date: core.NewDate(2024, 4, 1)},
	} {
		if _, err := l.AddExpense(ctx, e); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	if got := l.MonthSummary("2024-03").TotalSpent; got != 80 {
		t.Fatalf("2024-03: expected 80, got %v", got)
	}
	if got := l.MonthSummary("2024-04").TotalSpent; got != 20 {
		t.Fatalf("2024-04: expected 20, got %v", got)
	}
}

func TestManagerReusesLedger(t *testing.T) {
	p := newFakePersister()
	m := NewManager(p)
	ctx := context.Background()

	a, err := m.Ledger(ctx, "user-1")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	b, err := m.Ledger(ctx, "user-1")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if a != b {
		t.Fatal("manager must cache ledgers per user")
	}

	other, err := m.Ledger(ctx, "user-2")
	if err != nil {
		t.Fatalf("open second user: %v", err)
	}
	if other == a {
		t.Fatal("user scopes must not share a ledger")
	}

	if _, err := a.AddExpense(ctx, ExpenseDraft{Amount: 5, CategoryID: "food", Date: core.NewDate(2024, 1, 2)}); err != nil {
		t.Fatalf("add: %v", err)
	}
	if len(other.Snapshot().Expenses) != 0 {
		t.Fatal("expense leaked across user scopes")
	}
}

func TestPromoteTransaction(t *testing.T) {
	l, _ := openTestLedger(t)
	ctx := context.Background()

	inserted, err := l.InsertTransaction(ctx, core.Transaction{
		ExternalID:       "tx1",
		BankConnectionID: "conn-1",
		Amount:           15.50,
		Date:             core.NewDate(2024, 3, 7),
		Name:             "STARBUCKS #1234",
		MerchantName:     "Starbucks",
	})
	if err != nil || !inserted {
		t.Fatalf("insert: inserted=%v err=%v", inserted, err)
	}
	txID := l.Transactions()[0].ID

	exp, err := l.PromoteTransaction(ctx, txID, "")
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if exp.CategoryID != "food" {
		t.Fatalf("categorizer should pick food for Starbucks, got %s", exp.CategoryID)
	}
	if exp.Amount != 15.50 || exp.Date.ISO() != "2024-03-07" {
		t.Fatalf("unexpected expense: %+v", exp)
	}
	if !l.Transactions()[0].Synced {
		t.Fatal("transaction must be marked synced")
	}

	_, err = l.PromoteTransaction(ctx, txID, "")
	var conflict *core.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("second promote must conflict, got %v", err)
	}
}

func TestPromoteTransactionWithoutOtherCategory(t *testing.T) {
	l, _ := openTestLedger(t)
	ctx := context.Background()

	if err := l.DeleteCategory(ctx, "other"); err != nil {
		t.Fatalf("delete other: %v", err)
	}

	inserted, err := l.InsertTransaction(ctx, core.Transaction{
		ExternalID:       "tx-nomatch",
		BankConnectionID: "conn-1",
		Amount:           9.99,
		Date:             core.NewDate(2024, 3, 8),
		Name:             "UNKNOWN VENDOR 42",
	})
	if err != nil || !inserted {
		t.Fatalf("insert: inserted=%v err=%v", inserted, err)
	}
	txID := l.Transactions()[0].ID

	exp, err := l.PromoteTransaction(ctx, txID, "")
	if err != nil {
		t.Fatalf("promote without other category: %v", err)
	}
	found := false
	for _, c := range l.Snapshot().Categories {
		if c.ID == exp.CategoryID {
			found = true
		}
	}
	if !found {
		t.Fatalf("promoted into nonexistent category %s", exp.CategoryID)
	}
}

func TestTouchConnectionSync(t *testing.T) {
	l, _ := openTestLedger(t)
	ctx := context.Background()

	conn, inserted, err := l.AddBankConnection(ctx, core.BankConnection{
		AccessToken:     "secret",
		ItemID:          "item-1",
		InstitutionID:   "ins-1",
		InstitutionName: "Test Bank",
	})
	if err != nil || !inserted {
		t.Fatalf("add connection: inserted=%v err=%v", inserted, err)
	}

	at := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	if err := l.TouchConnectionSync(ctx, conn.ID, at); err != nil {
		t.Fatalf("touch: %v", err)
	}
	got, err := l.BankConnection(conn.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.LastSync.Equal(at) {
		t.Fatalf("lastSync not updated: %v", got.LastSync)
	}

	// Re-link with the same item id is a no-op insert.
	again, inserted, err := l.AddBankConnection(ctx, core.BankConnection{ItemID: "item-1"})
	if err != nil {
		t.Fatalf("relink: %v", err)
	}
	if inserted || again.ID != conn.ID {
		t.Fatalf("relink must return the stored connection: inserted=%v id=%s", inserted, again.ID)
	}
}
