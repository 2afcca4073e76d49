// Package core holds the domain model and the pure balance arithmetic.
//
// This file implements the balance adjuster: given a transaction's amount and
// type it computes the signed effect on the owning account's cached balance,
// both when the transaction is applied and when its effect is undone. The
// functions here never touch storage and are fully deterministic.
package core

// EffectCents returns the signed balance effect of a transaction: positive
// for income, negative for expense. Negative amounts are rejected because
// amounts are magnitudes, and unknown types are rejected explicitly rather
// than being silently treated as expenses.
func EffectCents(amount Money, t TransactionType) (int64, error) {
	if amount.Cents < 0 {
		return 0, ErrInvalidAmount
	}
	switch t {
	case TypeIncome:
		return amount.Cents, nil
	case TypeExpense:
		return -amount.Cents, nil
	}
	return 0, ErrInvalidTransactionType
}

// ApplyBalance returns the balance that results from applying a transaction's
// effect to the given balance.
func ApplyBalance(balance, amount Money, t TransactionType) (Money, error) {
	effect, err := EffectCents(amount, t)
	if err != nil {
		return Money{}, err
	}
	return Money{Cents: balance.Cents + effect}, nil
}

// ReverseBalance returns the balance that results from undoing a
// transaction's effect. It is the exact inverse of ApplyBalance:
// ApplyBalance(ReverseBalance(b, a, t), a, t) == b for every valid input.
func ReverseBalance(balance, amount Money, t TransactionType) (Money, error) {
	effect, err := EffectCents(amount, t)
	if err != nil {
		return Money{}, err
	}
	return Money{Cents: balance.Cents - effect}, nil
}

// BalanceAdjustment is a single pending account-balance delta computed by the
// write coordinator and executed by the storage layer as an atomic
// server-side increment.
type BalanceAdjustment struct {
	AccountID  string
	DeltaCents int64
}
