package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"tally/internal/auth"
	"tally/internal/bank"
	"tally/internal/bank/sandbox"
	"tally/internal/core"
	"tally/internal/store"
)

type memPersister struct {
	mu    sync.Mutex
	snaps map[string]core.Snapshot
}

func newMemPersister() *memPersister {
	return &memPersister{snaps: make(map[string]core.Snapshot)}
}

func (p *memPersister) Load(_ context.Context, userID string) (core.Snapshot, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap, ok := p.snaps[userID]
	return snap.Clone(), ok, nil
}

func (p *memPersister) Save(_ context.Context, userID string, snap core.Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps[userID] = snap.Clone()
	return nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	manager := store.NewManager(newMemPersister())
	reconciler := bank.NewReconciler(sandbox.New())
	authenticator := auth.New(map[string]string{"tok-alice": "alice", "tok-bob": "bob"})
	s := NewServer(":0", manager, reconciler, authenticator, nil, nil)
	t.Cleanup(func() { s.rateLimiter.stop() })
	return s
}

func doRequest(t *testing.T, s *Server, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	r := httptest.NewRequest(method, path, reader)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.Server.Handler.ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
}

func TestUnauthenticatedRequestsRejected(t *testing.T) {
	s := newTestServer(t)

	for _, token := range []string{"", "tok-unknown"} {
		w := doRequest(t, s, "GET", "/api/expenses", token, nil)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", token, w.Code)
		}
	}
}

func TestHealthEndpointsNeedNoAuth(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz"} {
		w := doRequest(t, s, "GET", path, "", nil)
		if w.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", path, w.Code)
		}
	}
}

func TestExpenseLifecycle(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, "POST", "/api/expenses", "tok-alice", map[string]any{
		"amount":     42.5,
		"categoryId": "food",
		"date":       "2026-08-14",
		"note":       "groceries",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body %s", w.Code, w.Body.String())
	}
	var created expenseDTO
	decodeBody(t, w, &created)
	if created.ID == "" || created.Amount != 42.5 || created.Date != "2026-08-14" {
		t.Fatalf("created = %+v", created)
	}

	w = doRequest(t, s, "GET", "/api/expenses?month=2026-08", "tok-alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: status = %d", w.Code)
	}
	var listed []expenseDTO
	decodeBody(t, w, &listed)
	if len(listed) != 1 || listed[0].ID != created.ID {
		t.Fatalf("listed = %+v", listed)
	}

	w = doRequest(t, s, "PATCH", "/api/expenses/"+created.ID, "tok-alice", map[string]any{
		"amount": 50.0,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("patch: status = %d, body %s", w.Code, w.Body.String())
	}
	var patched expenseDTO
	decodeBody(t, w, &patched)
	if patched.Amount != 50 || patched.Note != "groceries" {
		t.Fatalf("patched = %+v", patched)
	}

	w = doRequest(t, s, "DELETE", "/api/expenses/"+created.ID, "tok-alice", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d", w.Code)
	}

	// Another user never sees alice's data.
	w = doRequest(t, s, "GET", "/api/expenses", "tok-bob", nil)
	var other []expenseDTO
	decodeBody(t, w, &other)
	if len(other) != 0 {
		t.Fatalf("bob sees %d expenses, want 0", len(other))
	}
}

func TestCreateExpenseValidation(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"non-positive amount", map[string]any{"amount": 0, "categoryId": "food", "date": "2026-08-14"}},
		{"unknown category", map[string]any{"amount": 5, "categoryId": "nope", "date": "2026-08-14"}},
		{"bad date", map[string]any{"amount": 5, "categoryId": "food", "date": "14/08/2026"}},
		{"recurring without type", map[string]any{"amount": 5, "categoryId": "food", "date": "2026-08-14", "isRecurring": true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doRequest(t, s, "POST", "/api/expenses", "tok-alice", tt.body)
			if w.Code != http.StatusUnprocessableEntity {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestUpdateMissingExpenseIs404(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, "PATCH", "/api/expenses/nope", "tok-alice", map[string]any{"amount": 1.0})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestDeleteReferencedCategoryConflicts(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, "POST", "/api/expenses", "tok-alice", map[string]any{
		"amount": 5.0, "categoryId": "food", "date": "2026-08-14",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d", w.Code)
	}

	w = doRequest(t, s, "DELETE", "/api/categories/food", "tok-alice", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("delete referenced category: status = %d, want 409", w.Code)
	}

	w = doRequest(t, s, "DELETE", "/api/categories/transport", "tok-alice", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("delete unreferenced category: status = %d, body %s", w.Code, w.Body.String())
	}
}

func TestMonthlyBudgetEndpoints(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, "PUT", "/api/budgets/2026-08", "tok-alice", map[string]any{
		"totalBudget":            1000,
		"useCategoryPercentages": true,
		"categoryPercentages":    map[string]float64{"food": 60, "transport": 40},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("set: status = %d, body %s", w.Code, w.Body.String())
	}

	// Percentages not summing to 100 are refused.
	w = doRequest(t, s, "PUT", "/api/budgets/2026-08", "tok-alice", map[string]any{
		"totalBudget":            1000,
		"useCategoryPercentages": true,
		"categoryPercentages":    map[string]float64{"food": 60, "transport": 30},
	})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad percentages: status = %d, want 422", w.Code)
	}

	w = doRequest(t, s, "GET", "/api/budgets/2026-08", "tok-alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: status = %d", w.Code)
	}
	var mb monthlyBudgetDTO
	decodeBody(t, w, &mb)
	if mb.TotalBudget != 1000 || mb.CategoryPercentages["food"] != 60 {
		t.Fatalf("monthly budget = %+v", mb)
	}
	if len(mb.Allocations) != 2 {
		t.Fatalf("allocations = %+v, want 2 entries", mb.Allocations)
	}
	if mb.Allocations[0].CategoryID != "food" || mb.Allocations[0].Amount != 600 {
		t.Errorf("allocations[0] = %+v, want food at 600", mb.Allocations[0])
	}
	if mb.Allocations[1].CategoryID != "transport" || mb.Allocations[1].Amount != 400 {
		t.Errorf("allocations[1] = %+v, want transport at 400", mb.Allocations[1])
	}

	w = doRequest(t, s, "GET", "/api/budgets/2026-08/even-split", "tok-alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("even-split: status = %d", w.Code)
	}
	var split map[string]float64
	decodeBody(t, w, &split)
	var sum float64
	for _, pct := range split {
		sum += pct
	}
	if len(split) != 7 || sum != 100 {
		t.Fatalf("even split over %d categories sums to %v", len(split), sum)
	}

	w = doRequest(t, s, "DELETE", "/api/budgets/2026-08", "tok-alice", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("clear: status = %d", w.Code)
	}
	w = doRequest(t, s, "GET", "/api/budgets/2026-08", "tok-alice", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get after clear: status = %d, want 404", w.Code)
	}
}

func TestMonthSummaryEndpoint(t *testing.T) {
	s := newTestServer(t)

	doRequest(t, s, "PUT", "/api/budgets/2026-08", "tok-alice", map[string]any{"totalBudget": 100})
	w := doRequest(t, s, "POST", "/api/expenses", "tok-alice", map[string]any{
		"amount": 80.0, "categoryId": "food", "date": "2026-08-10",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d", w.Code)
	}

	w = doRequest(t, s, "GET", "/api/summary?month=2026-08", "tok-alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("summary: status = %d", w.Code)
	}
	var summary monthSummaryDTO
	decodeBody(t, w, &summary)
	if summary.TotalSpent != 80 || summary.TotalBudget != 100 || summary.Remaining != 20 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestCSVExportEndpoint(t *testing.T) {
	s := newTestServer(t)

	doRequest(t, s, "POST", "/api/expenses", "tok-alice", map[string]any{
		"amount": 12.5, "categoryId": "food", "date": "2026-08-14", "note": "lunch",
	})

	w := doRequest(t, s, "GET", "/api/export/csv", "tok-alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export: status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("Content-Type = %q", ct)
	}
	body := w.Body.String()
	if !strings.HasPrefix(body, `"Date","Amount","Category","Note","Recurring"`) {
		t.Fatalf("missing header row: %q", body)
	}
	if !strings.Contains(body, `"12.50"`) || !strings.Contains(body, `"Food & Dining"`) {
		t.Fatalf("missing expense row: %q", body)
	}
}

func TestBankLinkAndSyncFlow(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, "POST", "/api/bank/link-session", "tok-alice", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("link session: status = %d", w.Code)
	}
	var session map[string]string
	decodeBody(t, w, &session)
	if session["linkToken"] == "" {
		t.Fatal("empty link token")
	}

	w = doRequest(t, s, "POST", "/api/bank/connections", "tok-alice", map[string]string{
		"publicToken": session["linkToken"],
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("exchange: status = %d, body %s", w.Code, w.Body.String())
	}
	var conn connectionDTO
	decodeBody(t, w, &conn)
	if conn.ID == "" || conn.InstitutionID != sandbox.InstitutionID {
		t.Fatalf("connection = %+v", conn)
	}

	// The raw payload must never carry the provider credential.
	if strings.Contains(strings.ToLower(w.Body.String()), "accesstoken") ||
		strings.Contains(w.Body.String(), "sandbox-access-token") {
		t.Fatalf("connection payload leaks credential: %s", w.Body.String())
	}

	w = doRequest(t, s, "POST", "/api/bank/sync", "tok-alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sync: status = %d, body %s", w.Code, w.Body.String())
	}
	var report struct {
		Imported int               `json:"imported"`
		Failed   map[string]string `json:"failed"`
	}
	decodeBody(t, w, &report)
	if report.Imported == 0 || len(report.Failed) != 0 {
		t.Fatalf("report = %+v", report)
	}

	w = doRequest(t, s, "GET", "/api/transactions", "tok-alice", nil)
	var txs []transactionDTO
	decodeBody(t, w, &txs)
	if len(txs) != report.Imported {
		t.Fatalf("listed %d transactions, imported %d", len(txs), report.Imported)
	}

	w = doRequest(t, s, "POST", fmt.Sprintf("/api/transactions/%s/promote", txs[0].ID), "tok-alice", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("promote: status = %d, body %s", w.Code, w.Body.String())
	}
	var promoted expenseDTO
	decodeBody(t, w, &promoted)
	if promoted.Amount != txs[0].Amount {
		t.Fatalf("promoted = %+v, tx = %+v", promoted, txs[0])
	}

	w = doRequest(t, s, "POST", fmt.Sprintf("/api/transactions/%s/promote", txs[0].ID), "tok-alice", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("re-promote: status = %d, want 409", w.Code)
	}

	w = doRequest(t, s, "DELETE", "/api/bank/connections/"+conn.ID, "tok-alice", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("remove: status = %d, body %s", w.Code, w.Body.String())
	}
	w = doRequest(t, s, "GET", "/api/bank/connections", "tok-alice", nil)
	var conns []connectionDTO
	decodeBody(t, w, &conns)
	if len(conns) != 0 {
		t.Fatalf("connections after remove = %+v", conns)
	}
}

type recordingPublisher struct {
	mu    sync.Mutex
	users []string
}

func (p *recordingPublisher) PublishSyncRequest(_ context.Context, userID, _, _ string) error {
	p.mu.Lock()
	p.users = append(p.users, userID)
	p.mu.Unlock()
	return nil
}

func TestSyncRequestQueuedWhenPublisherConfigured(t *testing.T) {
	manager := store.NewManager(newMemPersister())
	reconciler := bank.NewReconciler(sandbox.New())
	authenticator := auth.New(map[string]string{"tok-alice": "alice"})
	pub := &recordingPublisher{}
	s := NewServer(":0", manager, reconciler, authenticator, pub, nil)
	t.Cleanup(func() { s.rateLimiter.stop() })

	w := doRequest(t, s, "POST", "/api/bank/sync", "tok-alice", map[string]string{
		"startDate": "2026-08-01",
		"endDate":   "2026-08-31",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("sync: status = %d, body %s", w.Code, w.Body.String())
	}
	if len(pub.users) != 1 || pub.users[0] != "alice" {
		t.Fatalf("published for %v, want [alice]", pub.users)
	}
}

type fakeSheetWriter struct {
	rows int
	err  error
}

func (f *fakeSheetWriter) WriteSnapshot(_ context.Context, snap core.Snapshot) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.rows = len(snap.Expenses)
	return f.rows, nil
}

func TestSheetsExportEndpoint(t *testing.T) {
	manager := store.NewManager(newMemPersister())
	reconciler := bank.NewReconciler(sandbox.New())
	authenticator := auth.New(map[string]string{"tok-alice": "alice"})
	writer := &fakeSheetWriter{}
	s := NewServer(":0", manager, reconciler, authenticator, nil, writer)
	t.Cleanup(func() { s.rateLimiter.stop() })

	doRequest(t, s, "POST", "/api/expenses", "tok-alice", map[string]any{
		"amount": 12.5, "categoryId": "food", "date": "2026-08-14",
	})

	w := doRequest(t, s, "POST", "/api/export/sheets", "tok-alice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export: status = %d, body %s", w.Code, w.Body.String())
	}
	if writer.rows != 1 {
		t.Fatalf("exported %d rows, want 1", writer.rows)
	}
}

func TestSheetsExportUnconfigured(t *testing.T) {
	s := newTestServer(t)

	w := doRequest(t, s, "POST", "/api/export/sheets", "tok-alice", nil)
	if w.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", w.Code)
	}
}
