package bank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/errgroup"

	"tally/internal/core"
	"tally/internal/store"
)

const (
	// defaultSyncWindow is used when the caller gives no date range.
	defaultSyncWindow = 30 * 24 * time.Hour

	// institutionCacheTTL bounds how long provider institution metadata
	// is reused before refetching.
	institutionCacheTTL = 12 * time.Hour

	// maxParallelSyncs caps concurrent per-connection fetches during a
	// bulk pass.
	maxParallelSyncs = 4
)

// Reconciler merges provider account and transaction snapshots into the
// ledger without duplication and manages the connection lifecycle. It is
// the sole writer of transactions and the sole mutator of a connection's
// lastSync and balances.
type Reconciler struct {
	provider     Provider
	institutions *gocache.Cache
}

// SyncReport is the outcome of a bulk sync pass. Failed maps connection
// id to the per-connection error; those connections keep their previous
// lastSync.
type SyncReport struct {
	Imported int
	Synced   int
	Failed   map[string]error
}

func NewReconciler(provider Provider) *Reconciler {
	return &Reconciler{
		provider:     provider,
		institutions: gocache.New(institutionCacheTTL, institutionCacheTTL),
	}
}

// CreateLinkSession asks the provider for an ephemeral link token. The
// token is handed to the UI handshake and never stored.
func (r *Reconciler) CreateLinkSession(ctx context.Context, userID string) (LinkSession, error) {
	sess, err := r.provider.CreateLinkSession(ctx, userID)
	if err != nil {
		return LinkSession{}, fmt.Errorf("create link session: %w", err)
	}
	return sess, nil
}

// Link exchanges the UI's short-lived public token for a durable access
// credential, fetches accounts and institution metadata, and stores one
// connection keyed by the provider item id. Re-linking an already-known
// item keeps the stored connection but still refreshes its accounts.
func (r *Reconciler) Link(ctx context.Context, ledger *store.Ledger, publicToken string) (core.BankConnection, error) {
	cred, err := r.provider.ExchangeCredential(ctx, publicToken)
	if err != nil {
		return core.BankConnection{}, fmt.Errorf("exchange credential: %w", err)
	}

	accounts, err := r.provider.ListAccounts(ctx, cred.AccessToken)
	if err != nil {
		return core.BankConnection{}, fmt.Errorf("list accounts: %w", err)
	}

	institutionID := ""
	if len(accounts) > 0 {
		institutionID = accounts[0].InstitutionID
	}
	inst, err := r.institution(ctx, institutionID)
	if err != nil {
		return core.BankConnection{}, fmt.Errorf("institution metadata: %w", err)
	}

	now := time.Now().UTC()
	conn := core.BankConnection{
		AccessToken:     cred.AccessToken,
		ItemID:          cred.ItemID,
		InstitutionID:   inst.ID,
		InstitutionName: inst.Name,
		Accounts:        canonicalAccounts(accounts, inst, now),
		CreatedAt:       now,
		LastSync:        now,
	}

	stored, inserted, err := ledger.AddBankConnection(ctx, conn)
	if err != nil {
		return core.BankConnection{}, err
	}
	if !inserted {
		// Idempotent re-link: keep the stored record, refresh balances.
		if err := ledger.UpdateConnectionAccounts(ctx, stored.ID, conn.Accounts); err != nil {
			return core.BankConnection{}, err
		}
		stored.Accounts = conn.Accounts
		slog.InfoContext(ctx, "Re-linked known bank item, accounts refreshed",
			"item_id", cred.ItemID, "connection_id", stored.ID)
		return stored, nil
	}

	slog.InfoContext(ctx, "Linked bank connection",
		"connection_id", stored.ID,
		"institution", inst.Name,
		"accounts", len(stored.Accounts))
	return stored, nil
}

// Sync fetches the connection's transactions in [start, end] (defaulting
// to the last 30 days through today) and inserts the ones whose external
// id is not stored yet, amounts normalized to positive magnitude.
// lastSync is bumped after every successful pass, new transactions or
// not; a fetch failure leaves it untouched.
func (r *Reconciler) Sync(ctx context.Context, ledger *store.Ledger, conn core.BankConnection, start, end core.Date) (int, error) {
	if start.IsZero() {
		start = core.Date{Time: time.Now().UTC().Add(-defaultSyncWindow)}
	}
	if end.IsZero() {
		end = core.Date{Time: time.Now().UTC()}
	}

	fetched, err := r.provider.ListTransactions(ctx, conn.AccessToken, start, end)
	if err != nil {
		return 0, fmt.Errorf("list transactions for connection %s: %w", conn.ID, err)
	}

	imported := 0
	for _, pt := range fetched {
		inserted, err := ledger.InsertTransaction(ctx, core.Transaction{
			ExternalID:       pt.ExternalID,
			BankConnectionID: conn.ID,
			AccountID:        pt.AccountID,
			Amount:           math.Abs(pt.Amount),
			Date:             pt.Date,
			Name:             pt.Name,
			MerchantName:     pt.MerchantName,
			Category:         pt.Category,
			Pending:          pt.Pending,
		})
		if err != nil {
			return imported, err
		}
		if inserted {
			imported++
		}
	}

	// Balance refresh is best effort; a failure here must not undo an
	// otherwise successful transaction pass.
	if accounts, err := r.provider.ListAccounts(ctx, conn.AccessToken); err != nil {
		slog.WarnContext(ctx, "Balance refresh failed",
			"connection_id", conn.ID, "error", err)
	} else {
		inst := Institution{ID: conn.InstitutionID, Name: conn.InstitutionName}
		if err := ledger.UpdateConnectionAccounts(ctx, conn.ID, canonicalAccounts(accounts, inst, time.Now().UTC())); err != nil {
			return imported, err
		}
	}

	if err := ledger.TouchConnectionSync(ctx, conn.ID, time.Now().UTC()); err != nil {
		return imported, err
	}

	slog.InfoContext(ctx, "Synced bank connection",
		"connection_id", conn.ID,
		"fetched", len(fetched),
		"imported", imported)
	return imported, nil
}

// SyncAll runs Sync for every connection in the ledger, in parallel.
// One connection's failure never aborts the pass for the others; it is
// recorded in the report and logged.
func (r *Reconciler) SyncAll(ctx context.Context, ledger *store.Ledger, start, end core.Date) SyncReport {
	report := SyncReport{Failed: make(map[string]error)}
	connections := ledger.BankConnections()
	if len(connections) == 0 {
		return report
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelSyncs)

	for _, conn := range connections {
		g.Go(func() error {
			n, err := r.Sync(ctx, ledger, conn, start, end)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[conn.ID] = err
				slog.ErrorContext(ctx, "Connection sync failed",
					"connection_id", conn.ID,
					"institution", conn.InstitutionName,
					"error", err)
				return nil
			}
			report.Imported += n
			report.Synced++
			return nil
		})
	}
	_ = g.Wait()

	slog.InfoContext(ctx, "Bulk sync pass finished",
		"connections", len(connections),
		"synced", report.Synced,
		"failed", len(report.Failed),
		"imported", report.Imported)
	return report
}

// Remove deauthorizes the access credential with the provider and then
// deletes the local connection. If revocation fails nothing is deleted
// locally: an orphaned external grant is worse than a retry.
func (r *Reconciler) Remove(ctx context.Context, ledger *store.Ledger, connID string) error {
	conn, err := ledger.BankConnection(connID)
	if err != nil {
		return err
	}

	if err := r.provider.Revoke(ctx, conn.AccessToken); err != nil {
		return fmt.Errorf("revoke credential for connection %s: %w", connID, err)
	}

	if err := ledger.DeleteBankConnection(ctx, connID); err != nil {
		return err
	}

	slog.InfoContext(ctx, "Removed bank connection",
		"connection_id", connID,
		"institution", conn.InstitutionName)
	return nil
}

// institution fetches institution metadata through a TTL cache.
func (r *Reconciler) institution(ctx context.Context, id string) (Institution, error) {
	if cached, ok := r.institutions.Get(id); ok {
		return cached.(Institution), nil
	}
	inst, err := r.provider.GetInstitution(ctx, id)
	if err != nil {
		return Institution{}, err
	}
	r.institutions.Set(id, inst, gocache.DefaultExpiration)
	return inst, nil
}

func canonicalAccounts(accounts []Account, inst Institution, at time.Time) []core.BankAccount {
	out := make([]core.BankAccount, len(accounts))
	for i, a := range accounts {
		out[i] = core.BankAccount{
			ID:              a.ID,
			InstitutionID:   inst.ID,
			InstitutionName: inst.Name,
			AccountName:     a.Name,
			AccountType:     a.Type,
			Balance:         a.Balance,
			Currency:        a.Currency,
			LastSync:        at,
			IsActive:        true,
		}
	}
	return out
}

// IsTransient reports whether err is a retryable provider failure.
func IsTransient(err error) bool {
	var ext *core.ExternalServiceError
	return errors.As(err, &ext) && ext.Transient
}
