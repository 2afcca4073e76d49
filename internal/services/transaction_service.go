// Package services orchestrates the dependent writes behind every
// transaction operation: the transaction row and the owning account's cached
// balance must move together.
//
// Validation and ownership checks happen before the first mutating call, so
// rejected requests never leave partial state. The balance writes themselves
// are atomic server-side increments (see storage.ApplyBalanceDelta), which
// closes the read-modify-write race between concurrent writers on the same
// account. A storage failure between the row write and a balance write still
// leaves the pair out of sync: that case surfaces as a PartialWriteError and
// additionally queues the affected accounts for reconciliation.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"moneyspent/internal/amqp"
	"moneyspent/internal/core"
)

// TransactionStorage is the owner-scoped persistence contract the
// coordinator writes through. Each call is an independent round-trip; there
// is no ambient cross-call transaction.
type TransactionStorage interface {
	GetAccount(ctx context.Context, userID, accountID string) (core.Account, error)
	ApplyBalanceDelta(ctx context.Context, userID, accountID string, deltaCents int64) error
	InsertTransaction(ctx context.Context, t core.Transaction) error
	GetTransaction(ctx context.Context, userID, transactionID string) (core.Transaction, error)
	UpdateTransaction(ctx context.Context, t core.Transaction) error
	DeleteTransaction(ctx context.Context, userID, transactionID string) error
	ListTransactions(ctx context.Context, userID string, year, month int) ([]core.Transaction, error)
}

// EventPublisher fans out account-check messages to the reconcile worker.
type EventPublisher interface {
	PublishAccountCheck(ctx context.Context, msg *amqp.AccountCheckMessage) error
}

// TransactionPatch carries the fields of a partial update; nil means "keep
// the current value". Clearing the account is expressed as a pointer to the
// empty string.
type TransactionPatch struct {
	AccountID   *string
	Amount      *core.Money
	Type        *core.TransactionType
	Category    *string
	Description *string
	Date        *core.Date
}

// TransactionService coordinates transaction writes with account balance
// adjustments, scoped to the authenticated owner.
type TransactionService struct {
	storage TransactionStorage
	events  EventPublisher
	now     func() time.Time
}

func NewTransactionService(storage TransactionStorage, events EventPublisher) *TransactionService {
	return &TransactionService{
		storage: storage,
		events:  events,
		now:     time.Now,
	}
}

// Create validates and persists a new transaction and applies its effect to
// the owning account's balance.
func (s *TransactionService) Create(ctx context.Context, userID string, t core.Transaction) (core.Transaction, error) {
	if userID == "" {
		return core.Transaction{}, core.ErrUnauthorized
	}

	t.ID = uuid.NewString()
	t.UserID = userID
	now := s.now()
	t.CreatedAt = now
	t.UpdatedAt = now

	if err := t.Validate(); err != nil {
		return core.Transaction{}, err
	}

	// Ownership check before any write: an account under another user must
	// look exactly like a missing account.
	var effect int64
	if t.AccountID != "" {
		if _, err := s.storage.GetAccount(ctx, userID, t.AccountID); err != nil {
			return core.Transaction{}, fmt.Errorf("verify account: %w", err)
		}
		var err error
		effect, err = core.EffectCents(t.Amount, t.Type)
		if err != nil {
			return core.Transaction{}, err
		}
	}

	if err := s.storage.InsertTransaction(ctx, t); err != nil {
		return core.Transaction{}, err
	}

	if t.AccountID != "" {
		if err := s.storage.ApplyBalanceDelta(ctx, userID, t.AccountID, effect); err != nil {
			s.requestReconcile(ctx, userID, []string{t.AccountID}, t.ID)
			return core.Transaction{}, &PartialWriteError{
				Op:            "create",
				TransactionID: t.ID,
				AccountIDs:    []string{t.AccountID},
				Err:           err,
			}
		}
	}

	s.publishCheck(ctx, userID, accountIDs(t.AccountID), t.ID, amqp.ReasonCreated)
	return t, nil
}

// Update applies a partial patch to an existing transaction, undoing the old
// balance effect and applying the new one. When the patch moves the
// transaction to a different account, the reversal goes to the old account
// and the application to the new one.
func (s *TransactionService) Update(ctx context.Context, userID, transactionID string, patch TransactionPatch) (core.Transaction, error) {
	if userID == "" {
		return core.Transaction{}, core.ErrUnauthorized
	}

	existing, err := s.storage.GetTransaction(ctx, userID, transactionID)
	if err != nil {
		return core.Transaction{}, err
	}

	updated := existing
	if patch.AccountID != nil {
		updated.AccountID = *patch.AccountID
	}
	if patch.Amount != nil {
		updated.Amount = *patch.Amount
	}
	if patch.Type != nil {
		updated.Type = *patch.Type
	}
	if patch.Category != nil {
		updated.Category = *patch.Category
	}
	if patch.Description != nil {
		updated.Description = *patch.Description
	}
	if patch.Date != nil {
		updated.Date = *patch.Date
	}
	updated.UpdatedAt = s.now()

	if err := updated.Validate(); err != nil {
		return core.Transaction{}, err
	}

	if updated.AccountID != "" && updated.AccountID != existing.AccountID {
		if _, err := s.storage.GetAccount(ctx, userID, updated.AccountID); err != nil {
			return core.Transaction{}, fmt.Errorf("verify account: %w", err)
		}
	}

	adjustments, err := updateAdjustments(existing, updated)
	if err != nil {
		return core.Transaction{}, err
	}

	if err := s.storage.UpdateTransaction(ctx, updated); err != nil {
		return core.Transaction{}, err
	}

	if err := s.applyAdjustments(ctx, userID, adjustments); err != nil {
		touched := adjustmentAccountIDs(adjustments)
		s.requestReconcile(ctx, userID, touched, updated.ID)
		return core.Transaction{}, &PartialWriteError{
			Op:            "update",
			TransactionID: updated.ID,
			AccountIDs:    touched,
			Err:           err,
		}
	}

	s.publishCheck(ctx, userID, adjustmentAccountIDs(adjustments), updated.ID, amqp.ReasonUpdated)
	return updated, nil
}

// Delete undoes the transaction's balance effect and removes its row. The
// reversal is computed from the stored (amount, type) before the row goes
// away, because the row is the only record of what effect to undo.
func (s *TransactionService) Delete(ctx context.Context, userID, transactionID string) error {
	if userID == "" {
		return core.ErrUnauthorized
	}

	existing, err := s.storage.GetTransaction(ctx, userID, transactionID)
	if err != nil {
		return err
	}

	if existing.AccountID != "" {
		effect, err := core.EffectCents(existing.Amount, existing.Type)
		if err != nil {
			return err
		}
		if err := s.storage.ApplyBalanceDelta(ctx, userID, existing.AccountID, -effect); err != nil {
			s.requestReconcile(ctx, userID, []string{existing.AccountID}, existing.ID)
			return &PartialWriteError{
				Op:            "delete",
				TransactionID: existing.ID,
				AccountIDs:    []string{existing.AccountID},
				Err:           err,
			}
		}
	}

	if err := s.storage.DeleteTransaction(ctx, userID, transactionID); err != nil {
		// The reversal already landed but the row is still there: balances
		// and rows disagree until the reconcile worker settles the account.
		s.requestReconcile(ctx, userID, accountIDs(existing.AccountID), existing.ID)
		return &PartialWriteError{
			Op:            "delete",
			TransactionID: existing.ID,
			AccountIDs:    accountIDs(existing.AccountID),
			Err:           err,
		}
	}

	s.publishCheck(ctx, userID, accountIDs(existing.AccountID), existing.ID, amqp.ReasonDeleted)
	return nil
}

func (s *TransactionService) Get(ctx context.Context, userID, transactionID string) (core.Transaction, error) {
	if userID == "" {
		return core.Transaction{}, core.ErrUnauthorized
	}
	return s.storage.GetTransaction(ctx, userID, transactionID)
}

func (s *TransactionService) List(ctx context.Context, userID string, year, month int) ([]core.Transaction, error) {
	if userID == "" {
		return nil, core.ErrUnauthorized
	}
	return s.storage.ListTransactions(ctx, userID, year, month)
}

// updateAdjustments computes the balance deltas an update requires. Same
// account: one combined delta. Different accounts: the reversal targets the
// old account and the application the new one, never folded together.
func updateAdjustments(existing, updated core.Transaction) ([]core.BalanceAdjustment, error) {
	var oldEffect, newEffect int64
	var err error

	if existing.AccountID != "" {
		oldEffect, err = core.EffectCents(existing.Amount, existing.Type)
		if err != nil {
			return nil, err
		}
	}
	if updated.AccountID != "" {
		newEffect, err = core.EffectCents(updated.Amount, updated.Type)
		if err != nil {
			return nil, err
		}
	}

	if existing.AccountID == updated.AccountID {
		if existing.AccountID == "" {
			return nil, nil
		}
		delta := newEffect - oldEffect
		if delta == 0 {
			return nil, nil
		}
		return []core.BalanceAdjustment{{AccountID: existing.AccountID, DeltaCents: delta}}, nil
	}

	var adjs []core.BalanceAdjustment
	if existing.AccountID != "" {
		adjs = append(adjs, core.BalanceAdjustment{AccountID: existing.AccountID, DeltaCents: -oldEffect})
	}
	if updated.AccountID != "" {
		adjs = append(adjs, core.BalanceAdjustment{AccountID: updated.AccountID, DeltaCents: newEffect})
	}
	return adjs, nil
}

func (s *TransactionService) applyAdjustments(ctx context.Context, userID string, adjs []core.BalanceAdjustment) error {
	for _, adj := range adjs {
		if err := s.storage.ApplyBalanceDelta(ctx, userID, adj.AccountID, adj.DeltaCents); err != nil {
			return fmt.Errorf("adjust account %s: %w", adj.AccountID, err)
		}
	}
	return nil
}

// publishCheck asks the worker to verify the affected balances. Failures are
// logged and swallowed: the write itself succeeded and the periodic sweep
// covers missed messages.
func (s *TransactionService) publishCheck(ctx context.Context, userID string, accounts []string, transactionID, reason string) {
	if s.events == nil || len(accounts) == 0 {
		return
	}
	msg := amqp.NewAccountCheckMessage(userID, accounts, transactionID, reason)
	if err := s.events.PublishAccountCheck(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "Failed to publish account check",
			"error", err,
			"user_id", userID,
			"account_ids", accounts,
			"reason", reason)
	}
}

func (s *TransactionService) requestReconcile(ctx context.Context, userID string, accounts []string, transactionID string) {
	s.publishCheck(ctx, userID, accounts, transactionID, amqp.ReasonPartialWrite)
}

func accountIDs(accountID string) []string {
	if accountID == "" {
		return nil
	}
	return []string{accountID}
}

func adjustmentAccountIDs(adjs []core.BalanceAdjustment) []string {
	ids := make([]string, 0, len(adjs))
	for _, adj := range adjs {
		ids = append(ids, adj.AccountID)
	}
	return ids
}
