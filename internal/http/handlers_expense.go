package http

import (
	"net/http"
	"strconv"

	"tally/internal/core"
	"tally/internal/store"
)

type expenseRequest struct {
	Amount        float64 `json:"amount"`
	CategoryID    string  `json:"categoryId"`
	Date          string  `json:"date"`
	Note          string  `json:"note"`
	IsRecurring   bool    `json:"isRecurring"`
	RecurringType string  `json:"recurringType"`
}

type expensePatchRequest struct {
	Amount        *float64 `json:"amount"`
	CategoryID    *string  `json:"categoryId"`
	Date          *string  `json:"date"`
	Note          *string  `json:"note"`
	IsRecurring   *bool    `json:"isRecurring"`
	RecurringType *string  `json:"recurringType"`
}

// handleListExpenses lists the caller's expenses, newest first.
// Optional "month" (YYYY-MM) or "year" query parameters narrow the
// result.
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.ledger(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	expenses := ledger.Snapshot().Expenses

	if v := r.URL.Query().Get("month"); v != "" {
		month, err := monthKeyFromString("month", v)
		if err != nil {
			writeError(r.Context(), w, err)
			return
		}
		expenses = core.ExpensesForMonth(expenses, month)
	} else if v := r.URL.Query().Get("year"); v != "" {
		year, err := strconv.Atoi(v)
		if err != nil {
			writeError(r.Context(), w, &core.ValidationError{Field: "year", Reason: "must be a number"})
			return
		}
		expenses = core.ExpensesForYear(expenses, year)
	}

	writeJSON(w, http.StatusOK, toExpenseDTOs(core.SortByDate(expenses, false)))
}

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.ledger(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	var req expenseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	date, err := dateFromString("date", req.Date)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	expense, err := ledger.AddExpense(r.Context(), store.ExpenseDraft{
		Amount:        req.Amount,
		CategoryID:    req.CategoryID,
		Date:          date,
		Note:          req.Note,
		IsRecurring:   req.IsRecurring,
		RecurringType: core.RecurringType(req.RecurringType),
	})
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toExpenseDTO(expense))
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.ledger(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	var req expensePatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}

	patch := store.ExpensePatch{
		Amount:     req.Amount,
		CategoryID: req.CategoryID,
		Note:       req.Note,
	}
	if req.Date != nil {
		date, err := dateFromString("date", *req.Date)
		if err != nil {
			writeError(r.Context(), w, err)
			return
		}
		patch.Date = &date
	}
	patch.IsRecurring = req.IsRecurring
	if req.RecurringType != nil {
		rt := core.RecurringType(*req.RecurringType)
		patch.RecurringType = &rt
	}

	expense, err := ledger.UpdateExpense(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, toExpenseDTO(expense))
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.ledger(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if err := ledger.DeleteExpense(r.Context(), r.PathValue("id")); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecentExpenses(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.ledger(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil {
			writeError(r.Context(), w, &core.ValidationError{Field: "limit", Reason: "must be a number"})
			return
		}
	}

	recent := core.RecentExpenses(ledger.Snapshot().Expenses, limit)
	writeJSON(w, http.StatusOK, toExpenseDTOs(recent))
}

func (s *Server) handleMonthSummary(w http.ResponseWriter, r *http.Request) {
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
	writeJSON(w, http.StatusOK, toMonthSummaryDTO(ledger.MonthSummary(month)))
}

// handleChartSeries returns per-category totals for the caller's
// expenses, optionally narrowed to one month.
func (s *Server) handleChartSeries(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.ledger(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	snap := ledger.Snapshot()
	expenses := snap.Expenses
	if v := r.URL.Query().Get("month"); v != "" {
		month, err := monthKeyFromString("month", v)
		if err != nil {
			writeError(r.Context(), w, err)
			return
		}
		expenses = core.ExpensesForMonth(expenses, month)
	}

	points := core.ChartSeries(expenses, snap.Categories)
	out := make([]chartPointDTO, 0, len(points))
	for _, p := range points {
		out = append(out, chartPointDTO{Name: p.Name, Value: p.Value, Color: p.Color})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.ledger(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	csv := store.ExportCSV(ledger.Snapshot())
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="expenses.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(csv))
}

// handleExportSheets pushes the caller's expenses to the configured
// spreadsheet.
func (s *Server) handleExportSheets(w http.ResponseWriter, r *http.Request) {
	if s.sheetWriter == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "spreadsheet export not configured"})
		return
	}
	ledger, err := s.ledger(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	rows, err := s.sheetWriter.WriteSnapshot(r.Context(), ledger.Snapshot())
	if err != nil {
		writeError(r.Context(), w, &core.ExternalServiceError{Op: "sheets export", Err: err})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"rows": rows})
}
