package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tally/internal/core"
)

// Ledger owns the canonical collections for one user scope. Mutations are
// serialized by a single mutex and each one persists the full snapshot
// before returning. A failed save surfaces a PersistenceError while the
// in-memory state keeps the mutation (optimistic; the caller is told the
// change may not survive a restart).
type Ledger struct {
	mu      sync.Mutex
	userID  string
	snap    core.Snapshot
	persist Persister
}

type (
	// ExpenseDraft is the caller-supplied part of a new expense.
	ExpenseDraft struct {
		Amount        float64
		CategoryID    string
		Date          core.Date
		Note          string
		IsRecurring   bool
		RecurringType core.RecurringType
	}

	// ExpensePatch updates a subset of expense fields. Nil means leave
	// unchanged.
	ExpensePatch struct {
		Amount        *float64
		CategoryID    *string
		Date          *core.Date
		Note          *string
		IsRecurring   *bool
		RecurringType *core.RecurringType
	}

	CategoryDraft struct {
		Name        string
		Color       string
		Icon        string
		BudgetLimit float64
	}

	CategoryPatch struct {
		Name        *string
		Color       *string
		Icon        *string
		BudgetLimit *float64
	}
)

// Open loads (or seeds) the user's snapshot and returns a ready ledger.
// A missing or unreadable snapshot initializes the default category set
// and persists it immediately.
func Open(ctx context.Context, userID string, persist Persister) (*Ledger, error) {
	l := &Ledger{userID: userID, persist: persist}

	snap, found, err := persist.Load(ctx, userID)
	if err != nil {
		slog.WarnContext(ctx, "Snapshot load failed, seeding defaults",
			"user", userID, "error", err)
		found = false
	}
	if !found {
		snap = core.Snapshot{Categories: core.DefaultCategories()}
		if err := persist.Save(ctx, userID, snap); err != nil {
			return nil, &core.PersistenceError{Op: "save", Err: fmt.Errorf("seed default snapshot: %w", err)}
		}
	}
	if len(snap.Categories) == 0 {
		snap.Categories = core.DefaultCategories()
	}
	l.snap = snap

	return l, nil
}

// Snapshot returns a deep copy of the current collections.
func (l *Ledger) Snapshot() core.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snap.Clone()
}

// UserID returns the user scope this ledger belongs to.
func (l *Ledger) UserID() string { return l.userID }

// saveLocked persists the snapshot. Caller holds the mutex.
func (l *Ledger) saveLocked(ctx context.Context) error {
	if err := l.persist.Save(ctx, l.userID, l.snap); err != nil {
		slog.ErrorContext(ctx, "Snapshot save failed",
			"user", l.userID, "error", err)
		return &core.PersistenceError{Op: "save", Err: err}
	}
	return nil
}

func (l *Ledger) categoryLocked(id string) (core.Category, bool) {
	for _, c := range l.snap.Categories {
		if c.ID == id {
			return c, true
		}
	}
	return core.Category{}, false
}

// AddExpense validates the draft, assigns an id and timestamps, and
// appends the expense.
func (l *Ledger) AddExpense(ctx context.Context, draft ExpenseDraft) (core.Expense, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now().UTC()
	exp := core.Expense{
		ID:            uuid.NewString(),
		Amount:        draft.Amount,
		CategoryID:    draft.CategoryID,
		Date:          draft.Date,
		Note:          draft.Note,
		IsRecurring:   draft.IsRecurring,
		RecurringType: draft.RecurringType,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := exp.Validate(); err != nil {
		return core.Expense{}, err
	}
	if _, ok := l.categoryLocked(exp.CategoryID); !ok {
		return core.Expense{}, &core.ValidationError{Field: "categoryId", Reason: "unknown category " + exp.CategoryID}
	}

	l.snap.Expenses = append(l.snap.Expenses, exp)
	return exp, l.saveLocked(ctx)
}

// UpdateExpense merges the patch into an existing expense and refreshes
// its UpdatedAt.
func (l *Ledger) UpdateExpense(ctx context.Context, id string, patch ExpensePatch) (core.Expense, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, e := range l.snap.Expenses {
		if e.ID != id {
			continue
		}
		if patch.Amount != nil {
			e.Amount = *patch.Amount
		}
		if patch.CategoryID != nil {
			e.CategoryID = *patch.CategoryID
		}
		if patch.Date != nil {
			e.Date = *patch.Date
		}
		if patch.Note != nil {
			e.Note = *patch.Note
		}
		if patch.IsRecurring != nil {
			e.IsRecurring = *patch.IsRecurring
			if !e.IsRecurring {
				e.RecurringType = ""
			}
		}
		if patch.RecurringType != nil {
			e.RecurringType = *patch.RecurringType
		}
		e.UpdatedAt = time.Now().UTC()

		if err := e.Validate(); err != nil {
			return core.Expense{}, err
		}
		if _, ok := l.categoryLocked(e.CategoryID); !ok {
			return core.Expense{}, &core.ValidationError{Field: "categoryId", Reason: "unknown category " + e.CategoryID}
		}

		l.snap.Expenses[i] = e
		return e, l.saveLocked(ctx)
	}
	return core.Expense{}, &core.NotFoundError{Resource: "expense", ID: id}
}

// DeleteExpense removes the expense. Deleting an absent id is a no-op.
func (l *Ledger) DeleteExpense(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, e := range l.snap.Expenses {
		if e.ID == id {
			l.snap.Expenses = append(l.snap.Expenses[:i], l.snap.Expenses[i+1:]...)
			return l.saveLocked(ctx)
		}
	}
	return nil
}

// AddCategory creates a category with a generated id.
func (l *Ledger) AddCategory(ctx context.Context, draft CategoryDraft) (core.Category, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cat := core.Category{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(draft.Name),
		Color:       draft.Color,
		Icon:        draft.Icon,
		BudgetLimit: draft.BudgetLimit,
	}
	if err := cat.Validate(); err != nil {
		return core.Category{}, err
	}

	l.snap.Categories = append(l.snap.Categories, cat)
	return cat, l.saveLocked(ctx)
}

// UpdateCategory merges the patch into an existing category.
func (l *Ledger) UpdateCategory(ctx context.Context, id string, patch CategoryPatch) (core.Category, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, c := range l.snap.Categories {
		if c.ID != id {
			continue
		}
		if patch.Name != nil {
			c.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Color != nil {
			c.Color = *patch.Color
		}
		if patch.Icon != nil {
			c.Icon = *patch.Icon
		}
		if patch.BudgetLimit != nil {
			c.BudgetLimit = *patch.BudgetLimit
		}
		if err := c.Validate(); err != nil {
			return core.Category{}, err
		}
		l.snap.Categories[i] = c
		return c, l.saveLocked(ctx)
	}
	return core.Category{}, &core.NotFoundError{Resource: "category", ID: id}
}

// DeleteCategory removes a category and its budget rows. It fails with a
// ConflictError while any expense still references the category.
func (l *Ledger) DeleteCategory(ctx context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := -1
	for i, c := range l.snap.Categories {
		if c.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return &core.NotFoundError{Resource: "category", ID: id}
	}
	for _, e := range l.snap.Expenses {
		if e.CategoryID == id {
			return &core.ConflictError{Resource: "category", Reason: "category in use by existing expenses"}
		}
	}

	l.snap.Categories = append(l.snap.Categories[:idx], l.snap.Categories[idx+1:]...)
	kept := l.snap.Budgets[:0]
	for _, b := range l.snap.Budgets {
		if b.CategoryID != id {
			kept = append(kept, b)
		}
	}
	l.snap.Budgets = kept

	return l.saveLocked(ctx)
}

// SetCategoryBudget upserts the category-scoped budget for a month.
// Clearing is a separate operation; a non-positive amount is rejected.
func (l *Ledger) SetCategoryBudget(ctx context.Context, categoryID string, month core.MonthKey, amount float64) (core.Budget, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if amount <= 0 {
		return core.Budget{}, &core.ValidationError{Field: "amount", Reason: "must be greater than zero (use clear to remove)"}
	}
	if _, err := core.ParseMonthKey(string(month)); err != nil {
		return core.Budget{}, &core.ValidationError{Field: "month", Reason: "must be YYYY-MM"}
	}
	if _, ok := l.categoryLocked(categoryID); !ok {
		return core.Budget{}, &core.ValidationError{Field: "categoryId", Reason: "unknown category " + categoryID}
	}

	for i, b := range l.snap.Budgets {
		if b.CategoryID == categoryID && b.Month == month {
			b.Amount = amount
			l.snap.Budgets[i] = b
			return b, l.saveLocked(ctx)
		}
	}

	b := core.Budget{ID: uuid.NewString(), CategoryID: categoryID, Amount: amount, Month: month}
	l.snap.Budgets = append(l.snap.Budgets, b)
	return b, l.saveLocked(ctx)
}

// ClearCategoryBudget removes the budget row for (category, month).
// Idempotent.
func (l *Ledger) ClearCategoryBudget(ctx context.Context, categoryID string, month core.MonthKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, b := range l.snap.Budgets {
		if b.CategoryID == categoryID && b.Month == month {
			l.snap.Budgets = append(l.snap.Budgets[:i], l.snap.Budgets[i+1:]...)
			return l.saveLocked(ctx)
		}
	}
	return nil
}

// SetMonthlyBudget upserts the month's total budget. In percentage mode
// the supplied percentages must sum to exactly 100.
func (l *Ledger) SetMonthlyBudget(ctx context.Context, mb core.MonthlyBudget) (core.MonthlyBudget, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !mb.UseCategoryPercentages {
		// Flat mode clears any prior percentage mapping.
		mb.CategoryPercentages = nil
	}
	if err := mb.Validate(); err != nil {
		return core.MonthlyBudget{}, err
	}
	for id := range mb.CategoryPercentages {
		if _, ok := l.categoryLocked(id); !ok {
			return core.MonthlyBudget{}, &core.ValidationError{Field: "categoryPercentages", Reason: "unknown category " + id}
		}
	}

	for i, existing := range l.snap.MonthlyBudgets {
		if existing.Month == mb.Month {
			l.snap.MonthlyBudgets[i] = mb
			return mb, l.saveLocked(ctx)
		}
	}
	l.snap.MonthlyBudgets = append(l.snap.MonthlyBudgets, mb)
	return mb, l.saveLocked(ctx)
}

// ClearMonthlyBudget deletes the month's budget record entirely,
// percentage mode included. Idempotent.
func (l *Ledger) ClearMonthlyBudget(ctx context.Context, month core.MonthKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, mb := range l.snap.MonthlyBudgets {
		if mb.Month == month {
			l.snap.MonthlyBudgets = append(l.snap.MonthlyBudgets[:i], l.snap.MonthlyBudgets[i+1:]...)
			return l.saveLocked(ctx)
		}
	}
	return nil
}

// MonthSummary computes the aggregate view for one month.
func (l *Ledger) MonthSummary(month core.MonthKey) core.MonthSummary {
	snap := l.Snapshot()
	return core.ComputeMonthSummary(snap.Expenses, snap.Categories, snap.Budgets, snap.MonthlyBudgets, month)
}
