package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"moneyspent/internal/amqp"
	"moneyspent/internal/core"
)

// BalanceReconciler settles one account's cached balance against its
// transaction history. Implemented by services.AccountService.
type BalanceReconciler interface {
	Reconcile(ctx context.Context, userID, accountID string) (int64, error)
	ListAccountRefs(ctx context.Context) ([]core.AccountRef, error)
}

// ReconcileWorker repairs drifted account balances. It reacts to account
// check messages published by the write path and additionally sweeps every
// account on a timer, so drift is bounded even when messages are lost.
type ReconcileWorker struct {
	reconciler BalanceReconciler
	batchSize  int
}

func NewReconcileWorker(reconciler BalanceReconciler, batchSize int) *ReconcileWorker {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &ReconcileWorker{
		reconciler: reconciler,
		batchSize:  batchSize,
	}
}

// HandleCheckMessage reconciles every account named in a single AMQP check
// message. Accounts that disappeared since the message was published are
// skipped; any other failure is returned so the delivery gets requeued.
func (w *ReconcileWorker) HandleCheckMessage(ctx context.Context, msg *amqp.AccountCheckMessage) error {
	slog.InfoContext(ctx, "Processing account check message",
		"user_id", msg.UserID,
		"accounts", len(msg.AccountIDs),
		"reason", msg.Reason)

	for _, accountID := range msg.AccountIDs {
		drift, err := w.reconciler.Reconcile(ctx, msg.UserID, accountID)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				slog.WarnContext(ctx, "Account gone, skipping reconcile",
					"user_id", msg.UserID,
					"account_id", accountID)
				continue
			}
			return fmt.Errorf("reconcile account %s: %w", accountID, err)
		}
		if drift != 0 {
			slog.InfoContext(ctx, "Reconciled account",
				"user_id", msg.UserID,
				"account_id", accountID,
				"drift_cents", drift,
				"reason", msg.Reason)
		}
	}
	return nil
}

// SweepAll reconciles every account in the system in batches. This is the
// backstop for lost check messages: a failed account is logged and the sweep
// keeps going, so one broken account cannot starve the rest.
func (w *ReconcileWorker) SweepAll(ctx context.Context) error {
	refs, err := w.reconciler.ListAccountRefs(ctx)
	if err != nil {
		return fmt.Errorf("list accounts: %w", err)
	}
	if len(refs) == 0 {
		return nil
	}

	slog.InfoContext(ctx, "Starting reconcile sweep", "accounts", len(refs))

	var repaired, failed int
	for i := 0; i < len(refs); i += w.batchSize {
		end := i + w.batchSize
		if end > len(refs) {
			end = len(refs)
		}
		for _, ref := range refs[i:end] {
			if err := ctx.Err(); err != nil {
				return err
			}
			drift, err := w.reconciler.Reconcile(ctx, ref.UserID, ref.AccountID)
			if err != nil {
				failed++
				slog.ErrorContext(ctx, "Failed to reconcile account",
					"user_id", ref.UserID,
					"account_id", ref.AccountID,
					"error", err)
				continue
			}
			if drift != 0 {
				repaired++
			}
		}
	}

	slog.InfoContext(ctx, "Reconcile sweep finished",
		"accounts", len(refs),
		"repaired", repaired,
		"failed", failed)
	return nil
}
