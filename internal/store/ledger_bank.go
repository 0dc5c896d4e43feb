package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tally/internal/core"
)

// Bank-facing store operations. The sync reconciler is the sole writer of
// transactions and the sole mutator of a connection's lastSync and
// account balances.

// AddBankConnection inserts a connection unless one with the same provider
// item id already exists, in which case the stored connection is returned
// unchanged. The bool reports whether an insert happened.
func (l *Ledger) AddBankConnection(ctx context.Context, conn core.BankConnection) (core.BankConnection, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, existing := range l.snap.BankConnections {
		if existing.ItemID == conn.ItemID {
			return existing, false, nil
		}
	}

	if conn.ID == "" {
		conn.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if conn.CreatedAt.IsZero() {
		conn.CreatedAt = now
	}
	if conn.LastSync.IsZero() {
		conn.LastSync = now
	}

	l.snap.BankConnections = append(l.snap.BankConnections, conn)
	return conn, true, l.saveLocked(ctx)
}

// BankConnections lists the user's connections.
func (l *Ledger) BankConnections() []core.BankConnection {
	return l.Snapshot().BankConnections
}

// BankConnection returns one connection by store id.
func (l *Ledger) BankConnection(id string) (core.BankConnection, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, c := range l.snap.BankConnections {
		if c.ID == id {
			return c.Clone(), nil
		}
	}
	return core.BankConnection{}, &core.NotFoundError{Resource: "bank connection", ID: id}
}

// UpdateConnectionAccounts replaces a connection's account list (balance
// refresh on re-link or sync).
func (l *Ledger) UpdateConnectionAccounts(ctx context.Context, connID string, accounts []core.BankAccount) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, c := range l.snap.BankConnections {
		if c.ID == connID {
			c.Accounts = append([]core.BankAccount(nil), accounts...)
			l.snap.BankConnections[i] = c
			return l.saveLocked(ctx)
		}
	}
	return &core.NotFoundError{Resource: "bank connection", ID: connID}
}

// TouchConnectionSync sets the connection's lastSync marker.
func (l *Ledger) TouchConnectionSync(ctx context.Context, connID string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, c := range l.snap.BankConnections {
		if c.ID == connID {
			c.LastSync = at
			l.snap.BankConnections[i] = c
			return l.saveLocked(ctx)
		}
	}
	return &core.NotFoundError{Resource: "bank connection", ID: connID}
}

// DeleteBankConnection removes the connection and its imported
// transactions.
func (l *Ledger) DeleteBankConnection(ctx context.Context, connID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := -1
	for i, c := range l.snap.BankConnections {
		if c.ID == connID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return &core.NotFoundError{Resource: "bank connection", ID: connID}
	}

	l.snap.BankConnections = append(l.snap.BankConnections[:idx], l.snap.BankConnections[idx+1:]...)
	kept := l.snap.Transactions[:0]
	for _, tx := range l.snap.Transactions {
		if tx.BankConnectionID != connID {
			kept = append(kept, tx)
		}
	}
	l.snap.Transactions = kept

	return l.saveLocked(ctx)
}

// InsertTransaction inserts a transaction unless its external id is
// already present. An existing external id is a normal outcome, not an
// error: the bool reports whether an insert happened. This is the sole
// mechanism preventing duplicate imports, so it runs fully under the
// store lock.
func (l *Ledger) InsertTransaction(ctx context.Context, tx core.Transaction) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, existing := range l.snap.Transactions {
		if existing.ExternalID == tx.ExternalID {
			return false, nil
		}
	}

	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	l.snap.Transactions = append(l.snap.Transactions, tx)
	return true, l.saveLocked(ctx)
}

// Transactions lists imported bank transactions.
func (l *Ledger) Transactions() []core.Transaction {
	return l.Snapshot().Transactions
}

// PromoteTransaction turns an imported bank transaction into a ledger
// expense and marks the transaction synced. With an empty categoryID the
// keyword categorizer picks one.
func (l *Ledger) PromoteTransaction(ctx context.Context, txID, categoryID string) (core.Expense, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	idx := -1
	for i, tx := range l.snap.Transactions {
		if tx.ID == txID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return core.Expense{}, &core.NotFoundError{Resource: "transaction", ID: txID}
	}
	tx := l.snap.Transactions[idx]
	if tx.Synced {
		return core.Expense{}, &core.ConflictError{Resource: "transaction", Reason: "already promoted to an expense"}
	}

	if categoryID == "" {
		categoryID = core.CategorizeTransaction(tx, l.snap.Categories)
		if categoryID == "" {
			return core.Expense{}, &core.ValidationError{Field: "categoryId", Reason: "no categories exist to assign"}
		}
	}
	if _, ok := l.categoryLocked(categoryID); !ok {
		return core.Expense{}, &core.ValidationError{Field: "categoryId", Reason: "unknown category " + categoryID}
	}

	note := tx.Name
	if tx.MerchantName != "" {
		note = tx.MerchantName
	}
	now := time.Now().UTC()
	exp := core.Expense{
		ID:         uuid.NewString(),
		Amount:     tx.Amount,
		CategoryID: categoryID,
		Date:       tx.Date,
		Note:       note,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := exp.Validate(); err != nil {
		return core.Expense{}, err
	}

	tx.Synced = true
	l.snap.Transactions[idx] = tx
	l.snap.Expenses = append(l.snap.Expenses, exp)
	return exp, l.saveLocked(ctx)
}
