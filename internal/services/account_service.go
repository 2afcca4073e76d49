package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"moneyspent/internal/core"
)

// AccountStorage is the persistence contract for account management and
// balance reconciliation.
type AccountStorage interface {
	CreateAccount(ctx context.Context, a core.Account) error
	GetAccount(ctx context.Context, userID, accountID string) (core.Account, error)
	ListAccounts(ctx context.Context, userID string, includeArchived bool) ([]core.Account, error)
	ArchiveAccount(ctx context.Context, userID, accountID string) error
	RecomputeBalanceCents(ctx context.Context, userID, accountID string) (int64, error)
	SetBalanceIfUnchanged(ctx context.Context, userID, accountID string, newCents, expectedCents int64) (bool, error)
	ListAccountRefs(ctx context.Context) ([]core.AccountRef, error)
}

type AccountService struct {
	storage AccountStorage
	now     func() time.Time
}

func NewAccountService(storage AccountStorage) *AccountService {
	return &AccountService{storage: storage, now: time.Now}
}

// Create opens a new account with its cached balance equal to the starting
// balance.
func (s *AccountService) Create(ctx context.Context, userID string, a core.Account) (core.Account, error) {
	if userID == "" {
		return core.Account{}, core.ErrUnauthorized
	}

	a.ID = uuid.NewString()
	a.UserID = userID
	a.Balance = a.StartingBalance
	a.IsArchived = false
	now := s.now()
	a.CreatedAt = now
	a.UpdatedAt = now

	if err := a.Validate(); err != nil {
		return core.Account{}, err
	}
	if err := s.storage.CreateAccount(ctx, a); err != nil {
		return core.Account{}, err
	}
	return a, nil
}

func (s *AccountService) Get(ctx context.Context, userID, accountID string) (core.Account, error) {
	if userID == "" {
		return core.Account{}, core.ErrUnauthorized
	}
	return s.storage.GetAccount(ctx, userID, accountID)
}

func (s *AccountService) List(ctx context.Context, userID string, includeArchived bool) ([]core.Account, error) {
	if userID == "" {
		return nil, core.ErrUnauthorized
	}
	return s.storage.ListAccounts(ctx, userID, includeArchived)
}

// Archive soft-deletes an account; its transactions and balance history stay
// intact.
func (s *AccountService) Archive(ctx context.Context, userID, accountID string) error {
	if userID == "" {
		return core.ErrUnauthorized
	}
	return s.storage.ArchiveAccount(ctx, userID, accountID)
}

// Reconcile recomputes the account balance from its live transactions and
// repairs the cached value if it drifted. The repair uses a conditional
// write so a concurrent transaction write between recompute and repair
// cannot be overwritten; in that case the drift is left for the next pass.
// Returns the drift in cents (zero when the cache was already correct).
func (s *AccountService) Reconcile(ctx context.Context, userID, accountID string) (int64, error) {
	if userID == "" {
		return 0, core.ErrUnauthorized
	}

	account, err := s.storage.GetAccount(ctx, userID, accountID)
	if err != nil {
		return 0, err
	}

	expected, err := s.storage.RecomputeBalanceCents(ctx, userID, accountID)
	if err != nil {
		return 0, err
	}

	drift := account.Balance.Cents - expected
	if drift == 0 {
		return 0, nil
	}

	repaired, err := s.storage.SetBalanceIfUnchanged(ctx, userID, accountID, expected, account.Balance.Cents)
	if err != nil {
		return drift, err
	}
	if !repaired {
		slog.InfoContext(ctx, "Balance changed during reconcile, skipping repair",
			"account_id", accountID,
			"user_id", userID)
		return drift, nil
	}

	slog.WarnContext(ctx, "Repaired drifted account balance",
		"account_id", accountID,
		"user_id", userID,
		"cached_cents", account.Balance.Cents,
		"expected_cents", expected,
		"drift_cents", drift)
	return drift, nil
}

// ListAccountRefs exposes the full account list for the periodic sweep.
func (s *AccountService) ListAccountRefs(ctx context.Context) ([]core.AccountRef, error) {
	return s.storage.ListAccountRefs(ctx)
}
