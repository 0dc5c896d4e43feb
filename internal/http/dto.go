package http

import (
	"time"

	"tally/internal/core"
)

// Wire shapes for the JSON API. Bank connection payloads deliberately
// omit the provider access token.

type expenseDTO struct {
	ID            string  `json:"id"`
	Amount        float64 `json:"amount"`
	CategoryID    string  `json:"categoryId"`
	Date          string  `json:"date"`
	Note          string  `json:"note,omitempty"`
	IsRecurring   bool    `json:"isRecurring"`
	RecurringType string  `json:"recurringType,omitempty"`
	CreatedAt     string  `json:"createdAt"`
	UpdatedAt     string  `json:"updatedAt"`
}

func toExpenseDTO(e core.Expense) expenseDTO {
	return expenseDTO{
		ID:            e.ID,
		Amount:        e.Amount,
		CategoryID:    e.CategoryID,
		Date:          e.Date.ISO(),
		Note:          e.Note,
		IsRecurring:   e.IsRecurring,
		RecurringType: string(e.RecurringType),
		CreatedAt:     e.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     e.UpdatedAt.Format(time.RFC3339),
	}
}

func toExpenseDTOs(expenses []core.Expense) []expenseDTO {
	out := make([]expenseDTO, 0, len(expenses))
	for _, e := range expenses {
		out = append(out, toExpenseDTO(e))
	}
	return out
}

type categoryDTO struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Color       string  `json:"color"`
	Icon        string  `json:"icon,omitempty"`
	BudgetLimit float64 `json:"budgetLimit,omitempty"`
}

func toCategoryDTO(c core.Category) categoryDTO {
	return categoryDTO{
		ID:          c.ID,
		Name:        c.Name,
		Color:       c.Color,
		Icon:        c.Icon,
		BudgetLimit: c.BudgetLimit,
	}
}

type budgetDTO struct {
	ID         string  `json:"id"`
	CategoryID string  `json:"categoryId"`
	Amount     float64 `json:"amount"`
	Month      string  `json:"month"`
}

func toBudgetDTO(b core.Budget) budgetDTO {
	return budgetDTO{
		ID:         b.ID,
		CategoryID: b.CategoryID,
		Amount:     b.Amount,
		Month:      string(b.Month),
	}
}

type monthlyBudgetDTO struct {
	Month                  string             `json:"month"`
	TotalBudget            float64            `json:"totalBudget"`
	UseCategoryPercentages bool               `json:"useCategoryPercentages"`
	CategoryPercentages    map[string]float64 `json:"categoryPercentages,omitempty"`
	Allocations            []allocationDTO    `json:"allocations,omitempty"`
}

// allocationDTO is one category's slice of a percentage-mode budget,
// listed in descending percentage order.
type allocationDTO struct {
	CategoryID string  `json:"categoryId"`
	Percent    float64 `json:"percent"`
	Amount     float64 `json:"amount"`
}

func toMonthlyBudgetDTO(mb core.MonthlyBudget) monthlyBudgetDTO {
	dto := monthlyBudgetDTO{
		Month:                  string(mb.Month),
		TotalBudget:            mb.TotalBudget,
		UseCategoryPercentages: mb.UseCategoryPercentages,
		CategoryPercentages:    mb.CategoryPercentages,
	}
	if mb.UseCategoryPercentages {
		for _, p := range mb.SortedPercentages() {
			dto.Allocations = append(dto.Allocations, allocationDTO{
				CategoryID: p.CategoryID,
				Percent:    p.Percent,
				Amount:     mb.Allocation(p.CategoryID),
			})
		}
	}
	return dto
}

type categorySummaryDTO struct {
	CategoryID   string  `json:"categoryId"`
	CategoryName string  `json:"categoryName"`
	Color        string  `json:"color,omitempty"`
	Spent        float64 `json:"spent"`
	Budget       float64 `json:"budget"`
	PercentUsed  float64 `json:"percentUsed"`
}

type monthSummaryDTO struct {
	Month             string               `json:"month"`
	TotalSpent        float64              `json:"totalSpent"`
	TotalBudget       float64              `json:"totalBudget"`
	Remaining         float64              `json:"remaining"`
	PercentUsed       float64              `json:"percentUsed"`
	CategoryBreakdown []categorySummaryDTO `json:"categoryBreakdown"`
}

func toMonthSummaryDTO(s core.MonthSummary) monthSummaryDTO {
	breakdown := make([]categorySummaryDTO, 0, len(s.CategoryBreakdown))
	for _, cs := range s.CategoryBreakdown {
		breakdown = append(breakdown, categorySummaryDTO{
			CategoryID:   cs.CategoryID,
			CategoryName: cs.CategoryName,
			Color:        cs.Color,
			Spent:        cs.Spent,
			Budget:       cs.Budget,
			PercentUsed:  cs.PercentUsed,
		})
	}
	return monthSummaryDTO{
		Month:             string(s.Month),
		TotalSpent:        s.TotalSpent,
		TotalBudget:       s.TotalBudget,
		Remaining:         s.Remaining,
		PercentUsed:       s.PercentUsed,
		CategoryBreakdown: breakdown,
	}
}

type chartPointDTO struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Color string  `json:"color"`
}

type accountDTO struct {
	ID          string  `json:"id"`
	AccountName string  `json:"accountName"`
	AccountType string  `json:"accountType"`
	Balance     float64 `json:"balance"`
	Currency    string  `json:"currency"`
	LastSync    string  `json:"lastSync"`
	IsActive    bool    `json:"isActive"`
}

type connectionDTO struct {
	ID              string       `json:"id"`
	InstitutionID   string       `json:"institutionId"`
	InstitutionName string       `json:"institutionName"`
	Accounts        []accountDTO `json:"accounts"`
	CreatedAt       string       `json:"createdAt"`
	LastSync        string       `json:"lastSync"`
}

func toConnectionDTO(bc core.BankConnection) connectionDTO {
	accounts := make([]accountDTO, 0, len(bc.Accounts))
	for _, a := range bc.Accounts {
		accounts = append(accounts, accountDTO{
			ID:          a.ID,
			AccountName: a.AccountName,
			AccountType: string(a.AccountType),
			Balance:     a.Balance,
			Currency:    a.Currency,
			LastSync:    a.LastSync.Format(time.RFC3339),
			IsActive:    a.IsActive,
		})
	}
	return connectionDTO{
		ID:              bc.ID,
		InstitutionID:   bc.InstitutionID,
		InstitutionName: bc.InstitutionName,
		Accounts:        accounts,
		CreatedAt:       bc.CreatedAt.Format(time.RFC3339),
		LastSync:        bc.LastSync.Format(time.RFC3339),
	}
}

type transactionDTO struct {
	ID               string  `json:"id"`
	BankConnectionID string  `json:"bankConnectionId"`
	AccountID        string  `json:"accountId"`
	Amount           float64 `json:"amount"`
	Date             string  `json:"date"`
	Name             string  `json:"name"`
	MerchantName     string  `json:"merchantName,omitempty"`
	Category         string  `json:"category,omitempty"`
	Pending          bool    `json:"pending"`
	Synced           bool    `json:"synced"`
}

func toTransactionDTO(t core.Transaction) transactionDTO {
	return transactionDTO{
		ID:               t.ID,
		BankConnectionID: t.BankConnectionID,
		AccountID:        t.AccountID,
		Amount:           t.Amount,
		Date:             t.Date.ISO(),
		Name:             t.Name,
		MerchantName:     t.MerchantName,
		Category:         t.Category,
		Pending:          t.Pending,
		Synced:           t.Synced,
	}
}
