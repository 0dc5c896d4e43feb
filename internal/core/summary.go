package core

import "sort"

type (
	// CategorySummary is one row of a month summary's breakdown.
	CategorySummary struct {
		CategoryID   string
		CategoryName string
		Color        string
		Spent        float64
		Budget       float64
		PercentUsed  float64
	}

	// MonthSummary aggregates a month's spend against its budgets.
	MonthSummary struct {
		Month             MonthKey
		TotalSpent        float64
		TotalBudget       float64
		Remaining         float64
		PercentUsed       float64
		CategoryBreakdown []CategorySummary
	}

	// ChartPoint is one slice of a per-category spending chart.
	ChartPoint struct {
		Name  string
		Value float64
		Color string
	}
)

// ExpensesForMonth filters to expenses inside the calendar month,
// inclusive of both boundaries.
func ExpensesForMonth(expenses []Expense, month MonthKey) []Expense {
	start, end := month.Bounds()
	if start.IsZero() {
		return nil
	}
	var out []Expense
	for _, e := range expenses {
		if t := e.Date.Time; !t.Before(start) && !t.After(end) {
			out = append(out, e)
		}
	}
	return out
}

// ExpensesForYear filters to expenses between Jan 1 and Dec 31 of year,
// inclusive.
func ExpensesForYear(expenses []Expense, year int) []Expense {
	var out []Expense
	for _, e := range expenses {
		if e.Date.Year() == year {
			out = append(out, e)
		}
	}
	return out
}

// TotalSpent sums expense amounts.
func TotalSpent(expenses []Expense) float64 {
	var sum float64
	for _, e := range expenses {
		sum += e.Amount
	}
	return sum
}

// SpentByCategory sums amounts of expenses in the given category.
func SpentByCategory(expenses []Expense, categoryID string) float64 {
	var sum float64
	for _, e := range expenses {
		if e.CategoryID == categoryID {
			sum += e.Amount
		}
	}
	return sum
}

// CategoryBudgetFor returns the category-scoped budget amount for the
// month, or 0 when none is set.
func CategoryBudgetFor(budgets []Budget, categoryID string, month MonthKey) float64 {
	for _, b := range budgets {
		if b.CategoryID == categoryID && b.Month == month {
			return b.Amount
		}
	}
	return 0
}

// MonthlyBudgetFor returns the total budget set for the month, or 0.
func MonthlyBudgetFor(monthlyBudgets []MonthlyBudget, month MonthKey) float64 {
	for _, mb := range monthlyBudgets {
		if mb.Month == month {
			return mb.TotalBudget
		}
	}
	return 0
}

// ComputeMonthSummary aggregates one month of expenses against the
// month's budgets. The breakdown keeps category list order and only
// includes categories with spend or a budget. PercentUsed is 0 whenever
// the corresponding budget is 0.
func ComputeMonthSummary(expenses []Expense, categories []Category, budgets []Budget, monthlyBudgets []MonthlyBudget, month MonthKey) MonthSummary {
	monthExpenses := ExpensesForMonth(expenses, month)
	totalSpent := TotalSpent(monthExpenses)
	totalBudget := MonthlyBudgetFor(monthlyBudgets, month)

	var breakdown []CategorySummary
	for _, c := range categories {
		spent := SpentByCategory(monthExpenses, c.ID)
		budget := CategoryBudgetFor(budgets, c.ID, month)
		if spent <= 0 && budget <= 0 {
			continue
		}
		pct := 0.0
		if budget > 0 {
			pct = spent / budget * 100
		}
		breakdown = append(breakdown, CategorySummary{
			CategoryID:   c.ID,
			CategoryName: c.Name,
			Color:        c.Color,
			Spent:        spent,
			Budget:       budget,
			PercentUsed:  pct,
		})
	}

	pctUsed := 0.0
	if totalBudget > 0 {
		pctUsed = totalSpent / totalBudget * 100
	}

	return MonthSummary{
		Month:             month,
		TotalSpent:        totalSpent,
		TotalBudget:       totalBudget,
		Remaining:         totalBudget - totalSpent,
		PercentUsed:       pctUsed,
		CategoryBreakdown: breakdown,
	}
}

// ChartSeries returns one point per category with spend, in category list
// order.
func ChartSeries(expenses []Expense, categories []Category) []ChartPoint {
	var out []ChartPoint
	for _, c := range categories {
		v := SpentByCategory(expenses, c.ID)
		if v <= 0 {
			continue
		}
		out = append(out, ChartPoint{Name: c.Name, Value: v, Color: c.Color})
	}
	return out
}

// RecentExpenses returns the most recent expenses by date, newest first.
// Ties keep their original relative order.
func RecentExpenses(expenses []Expense, limit int) []Expense {
	if limit <= 0 {
		limit = 5
	}
	out := append([]Expense(nil), expenses...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Date.After(out[j].Date.Time)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SortByDate returns a copy sorted by date; newest first unless asc.
func SortByDate(expenses []Expense, asc bool) []Expense {
	out := append([]Expense(nil), expenses...)
	sort.SliceStable(out, func(i, j int) bool {
		if asc {
			return out[i].Date.Before(out[j].Date.Time)
		}
		return out[i].Date.After(out[j].Date.Time)
	})
	return out
}

// GroupByDate maps ISO date strings to that day's expenses, keeping each
// expense's insertion order within its group.
func GroupByDate(expenses []Expense) map[string][]Expense {
	groups := make(map[string][]Expense)
	for _, e := range expenses {
		key := e.Date.ISO()
		groups[key] = append(groups[key], e)
	}
	return groups
}
