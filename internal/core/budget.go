package core

import (
	"math"
	"sort"
)

// percentTolerance absorbs float64 noise when checking that category
// percentages sum to 100.
const percentTolerance = 1e-6

// Validate checks a monthly budget record. In percentage mode the mapped
// percentages must sum to exactly 100.
func (mb MonthlyBudget) Validate() error {
	if mb.TotalBudget <= 0 {
		return &ValidationError{Field: "totalBudget", Reason: "must be greater than zero"}
	}
	if _, err := ParseMonthKey(string(mb.Month)); err != nil {
		return &ValidationError{Field: "month", Reason: "must be YYYY-MM"}
	}
	if !mb.UseCategoryPercentages {
		return nil
	}
	if len(mb.CategoryPercentages) == 0 {
		return &ValidationError{Field: "categoryPercentages", Reason: "required in percentage mode"}
	}
	var sum float64
	for id, pct := range mb.CategoryPercentages {
		if pct < 0 {
			return &ValidationError{Field: "categoryPercentages", Reason: "negative percentage for " + id}
		}
		sum += pct
	}
	if math.Abs(sum-100) > percentTolerance {
		return &ValidationError{Field: "categoryPercentages", Reason: "percentages must add up to 100"}
	}
	return nil
}

// Allocation returns the category's share of the total budget under
// percentage mode, or 0 if the category has no percentage.
func (mb MonthlyBudget) Allocation(categoryID string) float64 {
	if !mb.UseCategoryPercentages {
		return 0
	}
	return mb.TotalBudget * mb.CategoryPercentages[categoryID] / 100
}

// EffectiveCategoryBudget resolves the budget to display for a category in
// a month: the percentage allocation when percentage mode is on, otherwise
// the category-scoped budget record.
func EffectiveCategoryBudget(mb *MonthlyBudget, budgets []Budget, categoryID string, month MonthKey) float64 {
	if mb != nil && mb.UseCategoryPercentages {
		return mb.Allocation(categoryID)
	}
	return CategoryBudgetFor(budgets, categoryID, month)
}

// DistributeEvenly assigns floor(100/n) percent to every category and the
// remainder to the first, so the result always sums to exactly 100 for any
// n >= 1. Category order follows the input slice.
func DistributeEvenly(categoryIDs []string) map[string]float64 {
	n := len(categoryIDs)
	if n == 0 {
		return map[string]float64{}
	}
	even := float64(100 / n)
	out := make(map[string]float64, n)
	for _, id := range categoryIDs {
		out[id] = even
	}
	out[categoryIDs[0]] = even + (100 - even*float64(n))
	return out
}

// SortedPercentages returns (categoryID, percentage) pairs in descending
// percentage order for stable display.
func (mb MonthlyBudget) SortedPercentages() []struct {
	CategoryID string
	Percent    float64
} {
	out := make([]struct {
		CategoryID string
		Percent    float64
	}, 0, len(mb.CategoryPercentages))
	for id, pct := range mb.CategoryPercentages {
		out = append(out, struct {
			CategoryID string
			Percent    float64
		}{id, pct})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Percent != out[j].Percent {
			return out[i].Percent > out[j].Percent
		}
		return out[i].CategoryID < out[j].CategoryID
	})
	return out
}
