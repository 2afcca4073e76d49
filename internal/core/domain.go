package core

import (
	"errors"
	"strings"
	"time"
)

const (
	TypeExpense TransactionType = "expense"
	TypeIncome  TransactionType = "income"
	// TypeTransfer appears in data written by older clients but carries no
	// balance effect: the write path rejects it until a double-entry
	// treatment (debit one account, credit another) is defined.
	TypeTransfer TransactionType = "transfer"
)

type (
	TransactionType string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	User struct {
		ID        string
		Name      string
		APIKey    string
		CreatedAt time.Time
	}

	Account struct {
		ID              string
		UserID          string
		Name            string
		Currency        string // ISO code, informational only; no conversion
		StartingBalance Money
		Balance         Money // cached running total, see ledger.go
		IsArchived      bool
		CreatedAt       time.Time
		UpdatedAt       time.Time
	}

	Transaction struct {
		ID          string
		UserID      string
		AccountID   string // empty when the transaction is not tied to an account
		Amount      Money  // positive magnitude; sign is carried by Type
		Type        TransactionType
		Category    string
		Description string
		Date        Date // user-facing transaction date, distinct from CreatedAt
		CreatedAt   time.Time
		UpdatedAt   time.Time
	}

	Category struct {
		Name string
		Kind TransactionType
	}

	// AccountRef identifies an account together with its owner, the unit of
	// work for balance reconciliation.
	AccountRef struct {
		UserID    string
		AccountID string
	}
)

var (
	ErrInvalidAmount          = errors.New("invalid amount")
	ErrInvalidTransactionType = errors.New("invalid transaction type")
	ErrInvalidDate            = errors.New("invalid date")
	ErrInvalidCurrency        = errors.New("invalid currency code")
	ErrEmptyName              = errors.New("empty name")
	ErrEmptyCategory          = errors.New("empty category")
	ErrNotFound               = errors.New("not found")
	ErrUnauthorized           = errors.New("unauthorized")
)

func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// Year returns the calendar year of the date.
func (d Date) Year() int {
	return d.Time.Year()
}

// Month returns the calendar month of the date as an int.
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Day returns the day of the month.
func (d Date) Day() int {
	return d.Time.Day()
}

// Validate checks a transaction amount. Amounts are magnitudes: zero and
// negative values are rejected, negativity must come from the type.
func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Valid reports whether the type participates in balance reconciliation.
func (t TransactionType) Valid() bool {
	return t == TypeExpense || t == TypeIncome
}

func (a Account) Validate() error {
	if len(strings.TrimSpace(a.Name)) == 0 {
		return ErrEmptyName
	}
	if len(a.Name) > 100 {
		return errors.New("account name too long (max 100 characters)")
	}
	if len(a.Currency) != 3 {
		return ErrInvalidCurrency
	}
	return nil
}

func (t Transaction) Validate() error {
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if err := t.Amount.Validate(); err != nil {
		return err
	}
	if !t.Type.Valid() {
		return ErrInvalidTransactionType
	}
	if strings.TrimSpace(t.Category) == "" {
		return ErrEmptyCategory
	}
	if len(t.Description) > 200 {
		return errors.New("description too long (max 200 characters)")
	}
	return nil
}
