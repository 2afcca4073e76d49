// Package storage implements the SQLite-backed persistence layer.
//
// Every read and write is scoped by the owning user's ID, mirroring a
// row-level security predicate: a row belonging to another user behaves
// exactly like a missing row. Balance adjustments are executed as atomic
// server-side increments so that two concurrent writers against the same
// account can never lose an adjustment to a read-modify-write race.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"moneyspent/internal/core"

	_ "modernc.org/sqlite"
)

const dateLayout = "2006-01-02"

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
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

	if err := RunMigrations(dbPath); err != nil {
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

// --- users ---

func (r *SQLiteRepository) CreateUser(ctx context.Context, u core.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, name, api_key, created_at) VALUES (?, ?, ?, ?)`,
		u.ID, u.Name, u.APIKey, u.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetUserByAPIKey resolves an API key to its user. Unknown keys come back as
// core.ErrNotFound so callers cannot distinguish a missing key from a
// revoked one.
func (r *SQLiteRepository) GetUserByAPIKey(ctx context.Context, apiKey string) (core.User, error) {
	var u core.User
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, api_key, created_at FROM users WHERE api_key = ?`,
		apiKey).Scan(&u.ID, &u.Name, &u.APIKey, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.User{}, core.ErrNotFound
	}
	if err != nil {
		return core.User{}, fmt.Errorf("get user by api key: %w", err)
	}
	return u, nil
}

// --- accounts ---

func (r *SQLiteRepository) CreateAccount(ctx context.Context, a core.Account) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, user_id, name, currency, starting_balance_cents, balance_cents, is_archived, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, a.Currency, a.StartingBalance.Cents, a.Balance.Cents,
		boolToInt(a.IsArchived), a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}

	slog.InfoContext(ctx, "Account created",
		"account_id", a.ID,
		"user_id", a.UserID,
		"currency", a.Currency,
		"starting_balance_cents", a.StartingBalance.Cents)
	return nil
}

func (r *SQLiteRepository) GetAccount(ctx context.Context, userID, accountID string) (core.Account, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, currency, starting_balance_cents, balance_cents, is_archived, created_at, updated_at
		 FROM accounts WHERE id = ? AND user_id = ?`,
		accountID, userID)
	return scanAccount(row)
}

func (r *SQLiteRepository) ListAccounts(ctx context.Context, userID string, includeArchived bool) ([]core.Account, error) {
	query := `SELECT id, user_id, name, currency, starting_balance_cents, balance_cents, is_archived, created_at, updated_at
		 FROM accounts WHERE user_id = ?`
	if !includeArchived {
		query += ` AND is_archived = 0`
	}
	query += ` ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []core.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return accounts, nil
}

// ArchiveAccount soft-deletes an account. Archived accounts keep their rows
// and transactions, they are only excluded from active listings.
func (r *SQLiteRepository) ArchiveAccount(ctx context.Context, userID, accountID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET is_archived = 1, updated_at = ? WHERE id = ? AND user_id = ?`,
		time.Now().UTC(), accountID, userID)
	if err != nil {
		return fmt.Errorf("archive account: %w", err)
	}
	return requireRow(res, "archive account")
}

// ApplyBalanceDelta adds deltaCents to the account's cached balance as a
// single server-side increment. The arithmetic happens inside the UPDATE, so
// concurrent adjustments to the same account serialize in the engine instead
// of racing through application-level read-then-write.
func (r *SQLiteRepository) ApplyBalanceDelta(ctx context.Context, userID, accountID string, deltaCents int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET balance_cents = balance_cents + ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		deltaCents, time.Now().UTC(), accountID, userID)
	if err != nil {
		return fmt.Errorf("apply balance delta: %w", err)
	}
	if err := requireRow(res, "apply balance delta"); err != nil {
		return err
	}

	slog.DebugContext(ctx, "Balance adjusted",
		"account_id", accountID,
		"user_id", userID,
		"delta_cents", deltaCents)
	return nil
}

// SetBalanceIfUnchanged writes a recomputed balance only if the cached value
// still matches what the caller read. Returns false without error when a
// concurrent writer got there first; the next reconcile pass will settle it.
func (r *SQLiteRepository) SetBalanceIfUnchanged(ctx context.Context, userID, accountID string, newCents, expectedCents int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE accounts SET balance_cents = ?, updated_at = ?
		 WHERE id = ? AND user_id = ? AND balance_cents = ?`,
		newCents, time.Now().UTC(), accountID, userID, expectedCents)
	if err != nil {
		return false, fmt.Errorf("set balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set balance: rows affected: %w", err)
	}
	return n > 0, nil
}

// RecomputeBalanceCents derives the balance an account should have from its
// starting balance and the signed effect of every live transaction that
// references it. This is the source of truth the cached column is checked
// against.
func (r *SQLiteRepository) RecomputeBalanceCents(ctx context.Context, userID, accountID string) (int64, error) {
	var cents int64
	err := r.db.QueryRowContext(ctx,
		`SELECT a.starting_balance_cents + COALESCE((
		     SELECT SUM(CASE t.type WHEN 'income' THEN t.amount_cents ELSE -t.amount_cents END)
		     FROM transactions t
		     WHERE t.account_id = a.id AND t.user_id = a.user_id), 0)
		 FROM accounts a WHERE a.id = ? AND a.user_id = ?`,
		accountID, userID).Scan(&cents)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, core.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("recompute balance: %w", err)
	}
	return cents, nil
}

// ListAccountRefs returns every account across all users, for the periodic
// reconciliation sweep.
func (r *SQLiteRepository) ListAccountRefs(ctx context.Context) ([]core.AccountRef, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id, id FROM accounts ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list account refs: %w", err)
	}
	defer rows.Close()

	var refs []core.AccountRef
	for rows.Next() {
		var ref core.AccountRef
		if err := rows.Scan(&ref.UserID, &ref.AccountID); err != nil {
			return nil, fmt.Errorf("scan account ref: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list account refs: %w", err)
	}
	return refs, nil
}

// --- transactions ---

func (r *SQLiteRepository) InsertTransaction(ctx context.Context, t core.Transaction) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO transactions (id, user_id, account_id, amount_cents, type, category, description, transaction_date, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, nullableID(t.AccountID), t.Amount.Cents, string(t.Type),
		t.Category, t.Description, t.Date.Format(dateLayout), t.CreatedAt.UTC(), t.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}

	slog.InfoContext(ctx, "Transaction saved",
		"transaction_id", t.ID,
		"user_id", t.UserID,
		"account_id", t.AccountID,
		"type", string(t.Type),
		"amount_cents", t.Amount.Cents)
	return nil
}

func (r *SQLiteRepository) GetTransaction(ctx context.Context, userID, transactionID string) (core.Transaction, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, account_id, amount_cents, type, category, description, transaction_date, created_at, updated_at
		 FROM transactions WHERE id = ? AND user_id = ?`,
		transactionID, userID)
	return scanTransaction(row)
}

func (r *SQLiteRepository) UpdateTransaction(ctx context.Context, t core.Transaction) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions
		 SET account_id = ?, amount_cents = ?, type = ?, category = ?, description = ?, transaction_date = ?, updated_at = ?
		 WHERE id = ? AND user_id = ?`,
		nullableID(t.AccountID), t.Amount.Cents, string(t.Type), t.Category,
		t.Description, t.Date.Format(dateLayout), t.UpdatedAt.UTC(), t.ID, t.UserID)
	if err != nil {
		return fmt.Errorf("update transaction: %w", err)
	}
	return requireRow(res, "update transaction")
}

func (r *SQLiteRepository) DeleteTransaction(ctx context.Context, userID, transactionID string) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM transactions WHERE id = ? AND user_id = ?`,
		transactionID, userID)
	if err != nil {
		return fmt.Errorf("delete transaction: %w", err)
	}
	return requireRow(res, "delete transaction")
}

// ListTransactions returns one month of transactions, most recent first with
// creation time as the tie-break.
func (r *SQLiteRepository) ListTransactions(ctx context.Context, userID string, year, month int) ([]core.Transaction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, user_id, account_id, amount_cents, type, category, description, transaction_date, created_at, updated_at
		 FROM transactions
		 WHERE user_id = ? AND strftime('%Y', transaction_date) = ? AND strftime('%m', transaction_date) = ?
		 ORDER BY transaction_date DESC, created_at DESC`,
		userID, fmt.Sprintf("%04d", year), fmt.Sprintf("%02d", month))
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var txs []core.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

// --- analytics ---

// MonthTotals returns gross income and gross expense for one month.
func (r *SQLiteRepository) MonthTotals(ctx context.Context, userID string, year, month int) (income, expense core.Money, err error) {
	err = r.db.QueryRowContext(ctx,
		`SELECT
		     COALESCE(SUM(CASE WHEN type = 'income' THEN amount_cents ELSE 0 END), 0),
		     COALESCE(SUM(CASE WHEN type = 'expense' THEN amount_cents ELSE 0 END), 0)
		 FROM transactions
		 WHERE user_id = ? AND strftime('%Y', transaction_date) = ? AND strftime('%m', transaction_date) = ?`,
		userID, fmt.Sprintf("%04d", year), fmt.Sprintf("%02d", month)).
		Scan(&income.Cents, &expense.Cents)
	if err != nil {
		return core.Money{}, core.Money{}, fmt.Errorf("month totals: %w", err)
	}
	return income, expense, nil
}

// CategoryTotals returns expense spending per category for one month,
// largest first.
func (r *SQLiteRepository) CategoryTotals(ctx context.Context, userID string, year, month int) ([]core.CategoryAmount, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT category, SUM(amount_cents)
		 FROM transactions
		 WHERE user_id = ? AND type = 'expense'
		   AND strftime('%Y', transaction_date) = ? AND strftime('%m', transaction_date) = ?
		 GROUP BY category
		 ORDER BY SUM(amount_cents) DESC`,
		userID, fmt.Sprintf("%04d", year), fmt.Sprintf("%02d", month))
	if err != nil {
		return nil, fmt.Errorf("category totals: %w", err)
	}
	defer rows.Close()

	var totals []core.CategoryAmount
	for rows.Next() {
		var ca core.CategoryAmount
		if err := rows.Scan(&ca.Name, &ca.Amount.Cents); err != nil {
			return nil, fmt.Errorf("scan category total: %w", err)
		}
		totals = append(totals, ca)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("category totals: %w", err)
	}
	return totals, nil
}

// MonthlySeries returns income/expense totals for every month of a year.
// Months with no activity are present with zero totals.
func (r *SQLiteRepository) MonthlySeries(ctx context.Context, userID string, year int) ([]core.MonthlyPoint, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT CAST(strftime('%m', transaction_date) AS INTEGER),
		     COALESCE(SUM(CASE WHEN type = 'income' THEN amount_cents ELSE 0 END), 0),
		     COALESCE(SUM(CASE WHEN type = 'expense' THEN amount_cents ELSE 0 END), 0)
		 FROM transactions
		 WHERE user_id = ? AND strftime('%Y', transaction_date) = ?
		 GROUP BY 1 ORDER BY 1`,
		userID, fmt.Sprintf("%04d", year))
	if err != nil {
		return nil, fmt.Errorf("monthly series: %w", err)
	}
	defer rows.Close()

	series := make([]core.MonthlyPoint, 12)
	for i := range series {
		series[i] = core.MonthlyPoint{Year: year, Month: i + 1}
	}
	for rows.Next() {
		var month int
		var income, expense int64
		if err := rows.Scan(&month, &income, &expense); err != nil {
			return nil, fmt.Errorf("scan monthly point: %w", err)
		}
		if month >= 1 && month <= 12 {
			series[month-1].Income = core.Money{Cents: income}
			series[month-1].Expense = core.Money{Cents: expense}
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("monthly series: %w", err)
	}
	return series, nil
}

// --- categories ---

func (r *SQLiteRepository) ListCategories(ctx context.Context) ([]core.Category, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT name, kind FROM categories ORDER BY kind, name`)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	defer rows.Close()

	var cats []core.Category
	for rows.Next() {
		var c core.Category
		var kind string
		if err := rows.Scan(&c.Name, &kind); err != nil {
			return nil, fmt.Errorf("scan category: %w", err)
		}
		c.Kind = core.TransactionType(kind)
		cats = append(cats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	return cats, nil
}

// --- scan helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (core.Account, error) {
	var a core.Account
	var archived int
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Currency,
		&a.StartingBalance.Cents, &a.Balance.Cents, &archived, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Account{}, core.ErrNotFound
	}
	if err != nil {
		return core.Account{}, fmt.Errorf("scan account: %w", err)
	}
	a.IsArchived = archived != 0
	return a, nil
}

func scanTransaction(row rowScanner) (core.Transaction, error) {
	var t core.Transaction
	var accountID sql.NullString
	var typ, date string
	err := row.Scan(&t.ID, &t.UserID, &accountID, &t.Amount.Cents, &typ,
		&t.Category, &t.Description, &date, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Transaction{}, core.ErrNotFound
	}
	if err != nil {
		return core.Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}
	t.AccountID = accountID.String
	t.Type = core.TransactionType(typ)
	parsed, err := time.Parse(dateLayout, date)
	if err != nil {
		return core.Transaction{}, fmt.Errorf("parse transaction date %q: %w", date, err)
	}
	t.Date = core.Date{Time: parsed}
	return t, nil
}

func nullableID(id string) any {
	if id == "" {
		return nil
	}
	return id
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}
