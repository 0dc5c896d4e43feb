package http

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"tally/internal/auth"
	"tally/internal/bank"
	"tally/internal/sheets"
	"tally/internal/store"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyUser
)

// SyncPublisher hands a sync request off to the worker. The AMQP client
// satisfies this; when no broker is configured the server falls back to
// a synchronous pass.
type SyncPublisher interface {
	PublishSyncRequest(ctx context.Context, userID, startDate, endDate string) error
}

type Server struct {
	http.Server

	manager     *store.Manager
	reconciler  *bank.Reconciler
	auth        *auth.Authenticator
	publisher   SyncPublisher
	sheetWriter sheets.SnapshotWriter

	rateLimiter  *rateLimiter
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a
// ready-to-run http.Server. publisher may be nil; sync requests are
// then handled inline. sheetWriter may be nil; the spreadsheet export
// endpoint then reports the feature as unconfigured.
func NewServer(addr string, manager *store.Manager, reconciler *bank.Reconciler, authenticator *auth.Authenticator, publisher SyncPublisher, sheetWriter sheets.SnapshotWriter) *Server {
	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       time.Minute,
		},
		manager:     manager,
		reconciler:  reconciler,
		auth:        authenticator,
		publisher:   publisher,
		sheetWriter: sheetWriter,
		rateLimiter: newRateLimiter(),
	}

	mux.HandleFunc("/healthz", handleHealth)
	mux.HandleFunc("/readyz", handleReady)

	mux.HandleFunc("GET /api/expenses", s.withAPI(s.handleListExpenses))
	mux.HandleFunc("POST /api/expenses", s.withAPI(s.handleCreateExpense))
	mux.HandleFunc("PATCH /api/expenses/{id}", s.withAPI(s.handleUpdateExpense))
	mux.HandleFunc("DELETE /api/expenses/{id}", s.withAPI(s.handleDeleteExpense))

	mux.HandleFunc("GET /api/categories", s.withAPI(s.handleListCategories))
	mux.HandleFunc("POST /api/categories", s.withAPI(s.handleCreateCategory))
	mux.HandleFunc("PATCH /api/categories/{id}", s.withAPI(s.handleUpdateCategory))
	mux.HandleFunc("DELETE /api/categories/{id}", s.withAPI(s.handleDeleteCategory))
	mux.HandleFunc("PUT /api/categories/{id}/budget", s.withAPI(s.handleSetCategoryBudget))
	mux.HandleFunc("DELETE /api/categories/{id}/budget", s.withAPI(s.handleClearCategoryBudget))

	mux.HandleFunc("GET /api/budgets/{month}", s.withAPI(s.handleGetMonthlyBudget))
	mux.HandleFunc("PUT /api/budgets/{month}", s.withAPI(s.handleSetMonthlyBudget))
	mux.HandleFunc("DELETE /api/budgets/{month}", s.withAPI(s.handleClearMonthlyBudget))
	mux.HandleFunc("GET /api/budgets/{month}/even-split", s.withAPI(s.handleEvenSplit))

	mux.HandleFunc("GET /api/summary", s.withAPI(s.handleMonthSummary))
	mux.HandleFunc("GET /api/chart", s.withAPI(s.handleChartSeries))
	mux.HandleFunc("GET /api/expenses/recent", s.withAPI(s.handleRecentExpenses))
	mux.HandleFunc("GET /api/export/csv", s.withAPI(s.handleExportCSV))
	mux.HandleFunc("POST /api/export/sheets", s.withAPI(s.handleExportSheets))

	mux.HandleFunc("POST /api/bank/link-session", s.withAPI(s.handleLinkSession))
	mux.HandleFunc("POST /api/bank/connections", s.withAPI(s.handleExchangeToken))
	mux.HandleFunc("GET /api/bank/connections", s.withAPI(s.handleListConnections))
	mux.HandleFunc("DELETE /api/bank/connections/{id}", s.withAPI(s.handleRemoveConnection))
	mux.HandleFunc("POST /api/bank/sync", s.withAPI(s.handleRequestSync))
	mux.HandleFunc("GET /api/transactions", s.withAPI(s.handleListTransactions))
	mux.HandleFunc("POST /api/transactions/{id}/promote", s.withAPI(s.handlePromoteTransaction))

	return s
}

// withAPI authenticates the request, resolves the caller's ledger
// scope, applies rate limiting and logs the request with a trace id.
func (s *Server) withAPI(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := generateRequestID()
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, requestID)

		user, err := s.auth.UserForRequest(r)
		if err != nil {
			slog.WarnContext(ctx, "Rejected unauthenticated request",
				"request_id", requestID,
				"method", r.Method,
				"url", r.URL.Path)
			writeError(ctx, w, err)
			return
		}
		ctx = context.WithValue(ctx, ctxKeyUser, user)
		r = r.WithContext(ctx)

		if r.Method != http.MethodGet && !s.rateLimiter.allow(user) {
			slog.WarnContext(ctx, "Rate limit exceeded",
				"request_id", requestID,
				"user_id", user,
				"url", r.URL.Path)
			w.Header().Set("Retry-After", "60")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		w.Header().Set("X-Content-Type-Options", "nosniff")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next(rw, r)

		slog.InfoContext(ctx, "Request completed",
			"request_id", requestID,
			"user_id", user,
			"method", r.Method,
			"url", r.URL.Path,
			"status", rw.statusCode,
			"duration_ms", time.Since(start).Milliseconds())
	}
}

// ledger resolves the authenticated caller's ledger.
func (s *Server) ledger(r *http.Request) (*store.Ledger, error) {
	user, _ := r.Context().Value(ctxKeyUser).(string)
	if user == "" {
		return nil, auth.ErrUnauthenticated
	}
	return s.manager.Ledger(r.Context(), user)
}

func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func generateRequestID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(bytes)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// Simple in-memory rate limiter keyed by user scope.
type rateLimiter struct {
	mu           sync.Mutex
	clients      map[string]*clientInfo
	stopCleanup  chan struct{}
	shutdownOnce sync.Once
}

type clientInfo struct {
	lastRequest time.Time
	requests    int
}

func newRateLimiter() *rateLimiter {
	rl := &rateLimiter{
		clients:     make(map[string]*clientInfo),
		stopCleanup: make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

func (rl *rateLimiter) startCleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanupStaleEntries()
		case <-rl.stopCleanup:
			return
		}
	}
}

func (rl *rateLimiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-10 * time.Minute)
	for key, client := range rl.clients {
		if client.lastRequest.Before(cutoff) {
			delete(rl.clients, key)
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.shutdownOnce.Do(func() {
		close(rl.stopCleanup)
	})
}

func (rl *rateLimiter) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	client, exists := rl.clients[key]
	if !exists {
		rl.clients[key] = &clientInfo{lastRequest: now, requests: 1}
		return true
	}

	if now.Sub(client.lastRequest) > time.Minute {
		client.requests = 1
		client.lastRequest = now
		return true
	}

	// Allow up to 60 mutating requests per minute per user.
	client.requests++
	client.lastRequest = now
	return client.requests <= 60
}
