package http

import (
	"net/http"

	"tally/internal/core"
	"tally/internal/store"
)

type categoryRequest struct {
	Name        string  `json:"name"`
	Color       string  `json:"color"`
	Icon        string  `json:"icon"`
	BudgetLimit float64 `json:"budgetLimit"`
}

type categoryPatchRequest struct {
	Name        *string  `json:"name"`
	Color       *string  `json:"color"`
	Icon        *string  `json:"icon"`
	BudgetLimit *float64 `json:"budgetLimit"`
}

type categoryBudgetRequest struct {
	Month  string  `json:"month"`
	Amount float64 `json:"amount"`
}

type monthlyBudgetRequest struct {
	TotalBudget            float64            `json:"totalBudget"`
	UseCategoryPercentages bool               `json:"useCategoryPercentages"`
	CategoryPercentages    map[string]float64 `json:"categoryPercentages"`
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.ledger(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	snap := ledger.Snapshot()
	out := make([]categoryDTO, 0, len(snap.Categories))
	for _, c := range snap.Categories {
		out = append(out, toCategoryDTO(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.ledger(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	var req categoryRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}

	category, err := ledger.AddCategory(r.Context(), store.CategoryDraft{
		Name:        req.Name,
		Color:       req.Color,
		Icon:        req.Icon,
		BudgetLimit: req.BudgetLimit,
	})
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toCategoryDTO(category))
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.ledger(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	var req categoryPatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}

	category, err := ledger.UpdateCategory(r.Context(), r.PathValue("id"), store.CategoryPatch{
		Name:        req.Name,
		Color:       req.Color,
		Icon:        req.Icon,
		BudgetLimit: req.BudgetLimit,
	})
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toCategoryDTO(category))
}

// handleDeleteCategory removes a category. Categories still referenced
// by expenses are refused with a conflict; the category's budget rows
// are cascaded.
func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.ledger(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if err := ledger.DeleteCategory(r.Context(), r.PathValue("id")); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetCategoryBudget(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.ledger(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	var req categoryBudgetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	month, err := monthKeyFromString("month", req.Month)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	budget, err := ledger.SetCategoryBudget(r.Context(), r.PathValue("id"), month, req.Amount)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBudgetDTO(budget))
}

func (s *Server) handleClearCategoryBudget(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.ledger(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	month, err := monthFromQuery(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if err := ledger.ClearCategoryBudget(r.Context(), r.PathValue("id"), month); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetMonthlyBudget(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.ledger(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	month, err := monthFromPath(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	for _, mb := range ledger.Snapshot().MonthlyBudgets {
		if mb.Month == month {
			writeJSON(w, http.StatusOK, toMonthlyBudgetDTO(mb))
			return
		}
	}
	writeError(r.Context(), w, &core.NotFoundError{Resource: "monthly budget", ID: string(month)})
}

func (s *Server) handleSetMonthlyBudget(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.ledger(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	month, err := monthFromPath(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	var req monthlyBudgetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}

	mb, err := ledger.SetMonthlyBudget(r.Context(), core.MonthlyBudget{
		Month:                  month,
		TotalBudget:            req.TotalBudget,
		UseCategoryPercentages: req.UseCategoryPercentages,
		CategoryPercentages:    req.CategoryPercentages,
	})
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMonthlyBudgetDTO(mb))
}

func (s *Server) handleClearMonthlyBudget(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.ledger(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	month, err := monthFromPath(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if err := ledger.ClearMonthlyBudget(r.Context(), month); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEvenSplit proposes an even percentage split across the
// caller's categories, for seeding a percentage-mode monthly budget.
func (s *Server) handleEvenSplit(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.ledger(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if _, err := monthFromPath(r); err != nil {
		writeError(r.Context(), w, err)
		return
	}

	categories := ledger.Snapshot().Categories
	ids := make([]string, 0, len(categories))
	for _, c := range categories {
		ids = append(ids, c.ID)
	}
	writeJSON(w, http.StatusOK, core.DistributeEvenly(ids))
}
