package http

import (
	"log/slog"
	"net/http"

	"tally/internal/core"
)

type exchangeTokenRequest struct {
	PublicToken string `json:"publicToken"`
}

type syncRequest struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type promoteRequest struct {
	CategoryID string `json:"categoryId"`
}

func (s *Server) handleLinkSession(w http.ResponseWriter, r *http.Request) {
	user, _ := r.Context().Value(ctxKeyUser).(string)
	session, err := s.reconciler.CreateLinkSession(r.Context(), user)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"linkToken": session.Token})
}

// handleExchangeToken finishes the link flow: the public token from
// the provider's widget becomes a stored connection. The response
// carries the connection without its access token.
func (s *Server) handleExchangeToken(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.ledger(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	var req exchangeTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if req.PublicToken == "" {
		writeError(r.Context(), w, &core.ValidationError{Field: "publicToken", Reason: "required"})
		return
	}

	conn, err := s.reconciler.Link(r.Context(), ledger, req.PublicToken)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toConnectionDTO(conn))
}

func (s *Server) handleListConnections(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.ledger(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	connections := ledger.BankConnections()
	out := make([]connectionDTO, 0, len(connections))
	for _, bc := range connections {
		out = append(out, toConnectionDTO(bc))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRemoveConnection(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.ledger(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	if err := s.reconciler.Remove(r.Context(), ledger, r.PathValue("id")); err != nil {
		writeError(r.Context(), w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleRequestSync queues a reconciliation pass for the caller. With
// a broker configured the request is published for the worker and the
// call returns 202; without one the pass runs inline.
func (s *Server) handleRequestSync(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.ledger(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	var req syncRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(r.Context(), w, err)
			return
		}
	}

	var start, end core.Date
	if req.StartDate != "" {
		if start, err = dateFromString("startDate", req.StartDate); err != nil {
			writeError(r.Context(), w, err)
			return
		}
	}
	if req.EndDate != "" {
		if end, err = dateFromString("endDate", req.EndDate); err != nil {
			writeError(r.Context(), w, err)
			return
		}
	}

	if s.publisher != nil {
		if err := s.publisher.PublishSyncRequest(r.Context(), ledger.UserID(), req.StartDate, req.EndDate); err != nil {
			slog.ErrorContext(r.Context(), "Failed to publish sync request",
				"user_id", ledger.UserID(), "error", err)
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "sync queue unavailable"})
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}

	report := s.reconciler.SyncAll(r.Context(), ledger, start, end)
	failed := make(map[string]string, len(report.Failed))
	for connID, failure := range report.Failed {
		failed[connID] = "sync failed"
		slog.ErrorContext(r.Context(), "Inline sync failure",
			"user_id", ledger.UserID(), "connection_id", connID, "error", failure)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"imported": report.Imported,
		"synced":   report.Synced,
		"failed":   failed,
	})
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.ledger(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	out := make([]transactionDTO, 0)
	for _, tx := range ledger.Transactions() {
		if r.URL.Query().Get("unsynced") == "true" && tx.Synced {
			continue
		}
		out = append(out, toTransactionDTO(tx))
	}
	writeJSON(w, http.StatusOK, out)
}

// handlePromoteTransaction turns an imported transaction into an
// expense. An empty categoryId lets the keyword categorizer pick one.
func (s *Server) handlePromoteTransaction(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.ledger(r)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}

	var req promoteRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(r.Context(), w, err)
			return
		}
	}

	expense, err := ledger.PromoteTransaction(r.Context(), r.PathValue("id"), req.CategoryID)
	if err != nil {
		writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toExpenseDTO(expense))
}
