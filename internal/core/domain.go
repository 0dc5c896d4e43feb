package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	RecurringWeekly  RecurringType = "weekly"
	RecurringMonthly RecurringType = "monthly"
)

type (
	RecurringType string

	// Date is a calendar date with no time component. All dates are UTC.
	Date struct {
		time.Time
	}

	// MonthKey names a calendar month as "YYYY-MM".
	MonthKey string

	Category struct {
		ID          string
		Name        string
		Color       string
		Icon        string
		BudgetLimit float64 // optional, 0 when unset
	}

	Expense struct {
		ID            string
		Amount        float64
		CategoryID    string
		Date          Date
		Note          string
		IsRecurring   bool
		RecurringType RecurringType
		CreatedAt     time.Time
		UpdatedAt     time.Time
	}

	// Budget is a category-scoped budget for a single month. At most one
	// exists per (CategoryID, Month) pair.
	Budget struct {
		ID         string
		CategoryID string
		Amount     float64
		Month      MonthKey
	}

	// MonthlyBudget is the total budget for one month, optionally split
	// across categories by percentage.
	MonthlyBudget struct {
		Month                  MonthKey
		TotalBudget            float64
		UseCategoryPercentages bool
		CategoryPercentages    map[string]float64 // categoryID -> percentage
	}

	// Snapshot is the full set of collections owned by the ledger store
	// for one user scope. It is what the persistence collaborator loads
	// and saves.
	Snapshot struct {
		Expenses        []Expense
		Categories      []Category
		Budgets         []Budget
		MonthlyBudgets  []MonthlyBudget
		BankConnections []BankConnection
		Transactions    []Transaction
	}
)

var (
	ErrInvalidAmount = errors.New("amount must be positive")
	ErrInvalidDate   = errors.New("invalid date")
)

// NewDate creates a Date from year, month, day.
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a date in ISO form (YYYY-MM-DD).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
	}
	return Date{Time: t}, nil
}

// ISO returns the date in YYYY-MM-DD form.
func (d Date) ISO() string {
	return d.Format("2006-01-02")
}

// Month returns the month key the date falls in.
func (d Date) Month() MonthKey {
	return MonthKey(d.Format("2006-01"))
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// ParseMonthKey validates a "YYYY-MM" string.
func ParseMonthKey(s string) (MonthKey, error) {
	if _, err := time.Parse("2006-01", s); err != nil {
		return "", fmt.Errorf("invalid month key %q", s)
	}
	return MonthKey(s), nil
}

// MonthKeyFor returns the month key for an arbitrary time.
func MonthKeyFor(t time.Time) MonthKey {
	return MonthKey(t.Format("2006-01"))
}

// Bounds returns the first and last instant of the calendar month.
func (m MonthKey) Bounds() (start, end time.Time) {
	t, err := time.Parse("2006-01", string(m))
	if err != nil {
		return time.Time{}, time.Time{}
	}
	start = t
	end = t.AddDate(0, 1, 0).Add(-time.Nanosecond)
	return start, end
}

func (m MonthKey) String() string { return string(m) }

func (e Expense) Validate() error {
	if e.Amount <= 0 {
		return &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	if err := e.Date.Validate(); err != nil {
		return &ValidationError{Field: "date", Reason: "missing or invalid"}
	}
	if strings.TrimSpace(e.CategoryID) == "" {
		return &ValidationError{Field: "categoryId", Reason: "missing"}
	}
	if e.IsRecurring {
		switch e.RecurringType {
		case RecurringWeekly, RecurringMonthly:
		default:
			return &ValidationError{Field: "recurringType", Reason: "must be weekly or monthly"}
		}
	} else if e.RecurringType != "" {
		return &ValidationError{Field: "recurringType", Reason: "set without isRecurring"}
	}
	return nil
}

func (c Category) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return &ValidationError{Field: "name", Reason: "missing"}
	}
	return nil
}

// DefaultCategories is the category set seeded into an empty store.
func DefaultCategories() []Category {
	return []Category{
		{ID: "food", Name: "Food & Dining", Color: "hsl(24, 95%, 53%)", Icon: "utensils"},
		{ID: "transport", Name: "Transport", Color: "hsl(199, 89%, 48%)", Icon: "car"},
		{ID: "shopping", Name: "Shopping", Color: "hsl(280, 85%, 65%)", Icon: "shopping-bag"},
		{ID: "entertainment", Name: "Entertainment", Color: "hsl(340, 82%, 52%)", Icon: "film"},
		{ID: "bills", Name: "Bills & Utilities", Color: "hsl(45, 93%, 47%)", Icon: "file-text"},
		{ID: "health", Name: "Health", Color: "hsl(142, 76%, 36%)", Icon: "heart"},
		{ID: "other", Name: "Other", Color: "hsl(215, 16%, 47%)", Icon: "more-horizontal"},
	}
}

// Clone returns a deep copy of the snapshot. Readers get copies so the
// store's collections are never aliased outside its lock.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Expenses:        append([]Expense(nil), s.Expenses...),
		Categories:      append([]Category(nil), s.Categories...),
		Budgets:         append([]Budget(nil), s.Budgets...),
		MonthlyBudgets:  make([]MonthlyBudget, len(s.MonthlyBudgets)),
		BankConnections: make([]BankConnection, len(s.BankConnections)),
		Transactions:    append([]Transaction(nil), s.Transactions...),
	}
	for i, mb := range s.MonthlyBudgets {
		out.MonthlyBudgets[i] = mb.clone()
	}
	for i, bc := range s.BankConnections {
		out.BankConnections[i] = bc.Clone()
	}
	return out
}

func (mb MonthlyBudget) clone() MonthlyBudget {
	out := mb
	if mb.CategoryPercentages != nil {
		out.CategoryPercentages = make(map[string]float64, len(mb.CategoryPercentages))
		for k, v := range mb.CategoryPercentages {
			out.CategoryPercentages[k] = v
		}
	}
	return out
}
