package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"tally/internal/core"
	"tally/internal/store"
)

const (
	dateLayout = "2006-01-02"
	timeLayout = time.RFC3339Nano
)

// SQLiteRepository persists one full snapshot per user scope. Save
// replaces the user's rows inside a single transaction, so readers never
// observe a partial write.
type SQLiteRepository struct {
	db *sql.DB
}

var _ store.Persister = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Save implements store.Persister.
func (r *SQLiteRepository) Save(ctx context.Context, userID string, snap core.Snapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot save: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{
		"transactions", "bank_accounts", "bank_connections",
		"monthly_budget_percentages", "monthly_budgets",
		"budgets", "expenses", "categories",
	} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE user_id = ?", userID); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for i, c := range snap.Categories {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO categories (user_id, id, name, color, icon, budget_limit, position)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			userID, c.ID, c.Name, c.Color, c.Icon, c.BudgetLimit, i); err != nil {
			return fmt.Errorf("insert category %s: %w", c.ID, err)
		}
	}

	for i, e := range snap.Expenses {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO expenses (user_id, id, amount, category_id, date, note, is_recurring, recurring_type, created_at, updated_at, position)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			userID, e.ID, e.Amount, e.CategoryID, e.Date.Format(dateLayout), e.Note,
			boolToInt(e.IsRecurring), string(e.RecurringType),
			e.CreatedAt.Format(timeLayout), e.UpdatedAt.Format(timeLayout), i); err != nil {
			return fmt.Errorf("insert expense %s: %w", e.ID, err)
		}
	}

	for _, b := range snap.Budgets {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO budgets (user_id, id, category_id, amount, month)
			 VALUES (?, ?, ?, ?, ?)`,
			userID, b.ID, b.CategoryID, b.Amount, string(b.Month)); err != nil {
			return fmt.Errorf("insert budget %s: %w", b.ID, err)
		}
	}

	for _, mb := range snap.MonthlyBudgets {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO monthly_budgets (user_id, month, total_budget, use_percentages)
			 VALUES (?, ?, ?, ?)`,
			userID, string(mb.Month), mb.TotalBudget, boolToInt(mb.UseCategoryPercentages)); err != nil {
			return fmt.Errorf("insert monthly budget %s: %w", mb.Month, err)
		}
		for categoryID, pct := range mb.CategoryPercentages {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO monthly_budget_percentages (user_id, month, category_id, percentage)
				 VALUES (?, ?, ?, ?)`,
				userID, string(mb.Month), categoryID, pct); err != nil {
				return fmt.Errorf("insert percentage %s/%s: %w", mb.Month, categoryID, err)
			}
		}
	}

	for _, bc := range snap.BankConnections {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO bank_connections (user_id, id, access_token, item_id, institution_id, institution_name, created_at, last_sync)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			userID, bc.ID, bc.AccessToken, bc.ItemID, bc.InstitutionID, bc.InstitutionName,
			bc.CreatedAt.Format(timeLayout), bc.LastSync.Format(timeLayout)); err != nil {
			return fmt.Errorf("insert bank connection %s: %w", bc.ID, err)
		}
		for i, a := range bc.Accounts {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO bank_accounts (user_id, connection_id, id, institution_id, institution_name, account_name, account_type, balance, currency, last_sync, is_active, position)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				userID, bc.ID, a.ID, a.InstitutionID, a.InstitutionName, a.AccountName,
				string(a.AccountType), a.Balance, a.Currency,
				a.LastSync.Format(timeLayout), boolToInt(a.IsActive), i); err != nil {
				return fmt.Errorf("insert bank account %s/%s: %w", bc.ID, a.ID, err)
			}
		}
	}

	for i, t := range snap.Transactions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO transactions (user_id, id, external_id, bank_connection_id, account_id, amount, date, name, merchant_name, category, pending, synced, created_at, position)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			userID, t.ID, t.ExternalID, t.BankConnectionID, t.AccountID, t.Amount,
			t.Date.Format(dateLayout), t.Name, t.MerchantName, t.Category,
			boolToInt(t.Pending), boolToInt(t.Synced), t.CreatedAt.Format(timeLayout), i); err != nil {
			return fmt.Errorf("insert transaction %s: %w", t.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO snapshot_meta (user_id, saved_at) VALUES (?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET saved_at = excluded.saved_at`,
		userID, time.Now().UTC().Format(timeLayout)); err != nil {
		return fmt.Errorf("update snapshot meta: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot save: %w", err)
	}
	return nil
}

// Load implements store.Persister.
func (r *SQLiteRepository) Load(ctx context.Context, userID string) (core.Snapshot, bool, error) {
	var savedAt string
	err := r.db.QueryRowContext(ctx,
		"SELECT saved_at FROM snapshot_meta WHERE user_id = ?", userID).Scan(&savedAt)
	if err == sql.ErrNoRows {
		return core.Snapshot{}, false, nil
	}
	if err != nil {
		return core.Snapshot{}, false, fmt.Errorf("read snapshot meta: %w", err)
	}

	var snap core.Snapshot

	if err := r.loadCategories(ctx, userID, &snap); err != nil {
		return core.Snapshot{}, false, err
	}
	if err := r.loadExpenses(ctx, userID, &snap); err != nil {
		return core.Snapshot{}, false, err
	}
	if err := r.loadBudgets(ctx, userID, &snap); err != nil {
		return core.Snapshot{}, false, err
	}
	if err := r.loadBankConnections(ctx, userID, &snap); err != nil {
		return core.Snapshot{}, false, err
	}
	if err := r.loadTransactions(ctx, userID, &snap); err != nil {
		return core.Snapshot{}, false, err
	}

	return snap, true, nil
}

func (r *SQLiteRepository) loadCategories(ctx context.Context, userID string, snap *core.Snapshot) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, color, icon, budget_limit
		 FROM categories WHERE user_id = ? ORDER BY position`, userID)
	if err != nil {
		return fmt.Errorf("load categories: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c core.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Color, &c.Icon, &c.BudgetLimit); err != nil {
			return fmt.Errorf("scan category: %w", err)
		}
		snap.Categories = append(snap.Categories, c)
	}
	return rows.Err()
}

func (r *SQLiteRepository) loadExpenses(ctx context.Context, userID string, snap *core.Snapshot) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, amount, category_id, date, note, is_recurring, recurring_type, created_at, updated_at
		 FROM expenses WHERE user_id = ? ORDER BY position`, userID)
	if err != nil {
		return fmt.Errorf("load expenses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e                     core.Expense
			date, created, updated string
			recurring             int
			recurringType         string
		)
		if err := rows.Scan(&e.ID, &e.Amount, &e.CategoryID, &date, &e.Note,
			&recurring, &recurringType, &created, &updated); err != nil {
			return fmt.Errorf("scan expense: %w", err)
		}
		if e.Date, err = core.ParseDate(date); err != nil {
			return fmt.Errorf("expense %s: %w", e.ID, err)
		}
		e.IsRecurring = recurring != 0
		e.RecurringType = core.RecurringType(recurringType)
		if e.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return fmt.Errorf("expense %s created_at: %w", e.ID, err)
		}
		if e.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
			return fmt.Errorf("expense %s updated_at: %w", e.ID, err)
		}
		snap.Expenses = append(snap.Expenses, e)
	}
	return rows.Err()
}

func (r *SQLiteRepository) loadBudgets(ctx context.Context, userID string, snap *core.Snapshot) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, category_id, amount, month FROM budgets WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("load budgets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			b     core.Budget
			month string
		)
		if err := rows.Scan(&b.ID, &b.CategoryID, &b.Amount, &month); err != nil {
			return fmt.Errorf("scan budget: %w", err)
		}
		b.Month = core.MonthKey(month)
		snap.Budgets = append(snap.Budgets, b)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	mbRows, err := r.db.QueryContext(ctx,
		`SELECT month, total_budget, use_percentages FROM monthly_budgets WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("load monthly budgets: %w", err)
	}
	defer mbRows.Close()
	for mbRows.Next() {
		var (
			mb      core.MonthlyBudget
			month   string
			usePcts int
		)
		if err := mbRows.Scan(&month, &mb.TotalBudget, &usePcts); err != nil {
			return fmt.Errorf("scan monthly budget: %w", err)
		}
		mb.Month = core.MonthKey(month)
		mb.UseCategoryPercentages = usePcts != 0
		snap.MonthlyBudgets = append(snap.MonthlyBudgets, mb)
	}
	if err := mbRows.Err(); err != nil {
		return err
	}

	pctRows, err := r.db.QueryContext(ctx,
		`SELECT month, category_id, percentage FROM monthly_budget_percentages WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("load percentages: %w", err)
	}
	defer pctRows.Close()
	for pctRows.Next() {
		var (
			month, categoryID string
			pct               float64
		)
		if err := pctRows.Scan(&month, &categoryID, &pct); err != nil {
			return fmt.Errorf("scan percentage: %w", err)
		}
		for i := range snap.MonthlyBudgets {
			if snap.MonthlyBudgets[i].Month == core.MonthKey(month) {
				if snap.MonthlyBudgets[i].CategoryPercentages == nil {
					snap.MonthlyBudgets[i].CategoryPercentages = make(map[string]float64)
				}
				snap.MonthlyBudgets[i].CategoryPercentages[categoryID] = pct
			}
		}
	}
	return pctRows.Err()
}

func (r *SQLiteRepository) loadBankConnections(ctx context.Context, userID string, snap *core.Snapshot) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, access_token, item_id, institution_id, institution_name, created_at, last_sync
		 FROM bank_connections WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("load bank connections: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			bc                core.BankConnection
			created, lastSync string
		)
		if err := rows.Scan(&bc.ID, &bc.AccessToken, &bc.ItemID, &bc.InstitutionID,
			&bc.InstitutionName, &created, &lastSync); err != nil {
			return fmt.Errorf("scan bank connection: %w", err)
		}
		if bc.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return fmt.Errorf("connection %s created_at: %w", bc.ID, err)
		}
		if bc.LastSync, err = time.Parse(timeLayout, lastSync); err != nil {
			return fmt.Errorf("connection %s last_sync: %w", bc.ID, err)
		}
		snap.BankConnections = append(snap.BankConnections, bc)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	accRows, err := r.db.QueryContext(ctx,
		`SELECT connection_id, id, institution_id, institution_name, account_name, account_type, balance, currency, last_sync, is_active
		 FROM bank_accounts WHERE user_id = ? ORDER BY connection_id, position`, userID)
	if err != nil {
		return fmt.Errorf("load bank accounts: %w", err)
	}
	defer accRows.Close()

	for accRows.Next() {
		var (
			connID, accountType, lastSync string
			a                             core.BankAccount
			active                        int
		)
		if err := accRows.Scan(&connID, &a.ID, &a.InstitutionID, &a.InstitutionName,
			&a.AccountName, &accountType, &a.Balance, &a.Currency, &lastSync, &active); err != nil {
			return fmt.Errorf("scan bank account: %w", err)
		}
		a.AccountType = core.AccountType(accountType)
		a.IsActive = active != 0
		if a.LastSync, err = time.Parse(timeLayout, lastSync); err != nil {
			return fmt.Errorf("account %s last_sync: %w", a.ID, err)
		}
		for i := range snap.BankConnections {
			if snap.BankConnections[i].ID == connID {
				snap.BankConnections[i].Accounts = append(snap.BankConnections[i].Accounts, a)
			}
		}
	}
	return accRows.Err()
}

func (r *SQLiteRepository) loadTransactions(ctx context.Context, userID string, snap *core.Snapshot) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, external_id, bank_connection_id, account_id, amount, date, name, merchant_name, category, pending, synced, created_at
		 FROM transactions WHERE user_id = ? ORDER BY position`, userID)
	if err != nil {
		return fmt.Errorf("load transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			t               core.Transaction
			date, created   string
			pending, synced int
		)
		if err := rows.Scan(&t.ID, &t.ExternalID, &t.BankConnectionID, &t.AccountID,
			&t.Amount, &date, &t.Name, &t.MerchantName, &t.Category,
			&pending, &synced, &created); err != nil {
			return fmt.Errorf("scan transaction: %w", err)
		}
		if t.Date, err = core.ParseDate(date); err != nil {
			return fmt.Errorf("transaction %s: %w", t.ID, err)
		}
		t.Pending = pending != 0
		t.Synced = synced != 0
		if t.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return fmt.Errorf("transaction %s created_at: %w", t.ID, err)
		}
		snap.Transactions = append(snap.Transactions, t)
	}
	return rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
