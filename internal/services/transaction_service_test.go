package services

import (
	"context"
	"errors"
	"testing"

	"moneyspent/internal/amqp"
	"moneyspent/internal/core"
)

// fakeStorage is an in-memory TransactionStorage/AccountStorage with
// injectable balance-write failures.
type fakeStorage struct {
	accounts map[string]*core.Account
	txs      map[string]*core.Transaction

	balanceCalls     int
	failBalanceAfter int // fail the Nth+1 ApplyBalanceDelta call; -1 never fails
	failDelete       bool
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		accounts:         make(map[string]*core.Account),
		txs:              make(map[string]*core.Transaction),
		failBalanceAfter: -1,
	}
}

func (f *fakeStorage) addAccount(userID, id string, balanceCents int64) {
	f.accounts[id] = &core.Account{
		ID:              id,
		UserID:          userID,
		Name:            "acct " + id,
		Currency:        "EUR",
		StartingBalance: core.Money{Cents: balanceCents},
		Balance:         core.Money{Cents: balanceCents},
	}
}

func (f *fakeStorage) GetAccount(_ context.Context, userID, accountID string) (core.Account, error) {
	a, ok := f.accounts[accountID]
	if !ok || a.UserID != userID {
		return core.Account{}, core.ErrNotFound
	}
	return *a, nil
}

func (f *fakeStorage) ApplyBalanceDelta(_ context.Context, userID, accountID string, deltaCents int64) error {
	if f.failBalanceAfter >= 0 && f.balanceCalls >= f.failBalanceAfter {
		return errors.New("storage unavailable")
	}
	f.balanceCalls++
	a, ok := f.accounts[accountID]
	if !ok || a.UserID != userID {
		return core.ErrNotFound
	}
	a.Balance.Cents += deltaCents
	return nil
}

func (f *fakeStorage) InsertTransaction(_ context.Context, t core.Transaction) error {
	cp := t
	f.txs[t.ID] = &cp
	return nil
}

func (f *fakeStorage) GetTransaction(_ context.Context, userID, transactionID string) (core.Transaction, error) {
	t, ok := f.txs[transactionID]
	if !ok || t.UserID != userID {
		return core.Transaction{}, core.ErrNotFound
	}
	return *t, nil
}

func (f *fakeStorage) UpdateTransaction(_ context.Context, t core.Transaction) error {
	existing, ok := f.txs[t.ID]
	if !ok || existing.UserID != t.UserID {
		return core.ErrNotFound
	}
	cp := t
	f.txs[t.ID] = &cp
	return nil
}

func (f *fakeStorage) DeleteTransaction(_ context.Context, userID, transactionID string) error {
	if f.failDelete {
		return errors.New("storage unavailable")
	}
	t, ok := f.txs[transactionID]
	if !ok || t.UserID != userID {
		return core.ErrNotFound
	}
	delete(f.txs, transactionID)
	return nil
}

func (f *fakeStorage) ListTransactions(_ context.Context, userID string, year, month int) ([]core.Transaction, error) {
	var out []core.Transaction
	for _, t := range f.txs {
		if t.UserID == userID && t.Date.Year() == year && t.Date.Month() == month {
			out = append(out, *t)
		}
	}
	return out, nil
}

// liveSumCents computes starting balance plus the signed effect of every
// live transaction on the account: the value the cached balance must equal.
func (f *fakeStorage) liveSumCents(t *testing.T, accountID string) int64 {
	t.Helper()
	a := f.accounts[accountID]
	sum := a.StartingBalance.Cents
	for _, tx := range f.txs {
		if tx.AccountID != accountID {
			continue
		}
		effect, err := core.EffectCents(tx.Amount, tx.Type)
		if err != nil {
			t.Fatalf("effect for stored transaction %s: %v", tx.ID, err)
		}
		sum += effect
	}
	return sum
}

func (f *fakeStorage) balance(accountID string) int64 {
	return f.accounts[accountID].Balance.Cents
}

type fakeEvents struct {
	published []*amqp.AccountCheckMessage
}

func (f *fakeEvents) PublishAccountCheck(_ context.Context, msg *amqp.AccountCheckMessage) error {
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeEvents) lastReason() string {
	if len(f.published) == 0 {
		return ""
	}
	return f.published[len(f.published)-1].Reason
}

func newTx(accountID string, cents int64, typ core.TransactionType) core.Transaction {
	return core.Transaction{
		AccountID: accountID,
		Amount:    core.Money{Cents: cents},
		Type:      typ,
		Category:  "Groceries",
		Date:      core.NewDate(2025, 6, 15),
	}
}

const owner = "user-1"

func TestCreateAppliesEffect(t *testing.T) {
	store := newFakeStorage()
	store.addAccount(owner, "a1", 100000)
	events := &fakeEvents{}
	svc := NewTransactionService(store, events)

	created, err := svc.Create(context.Background(), owner, newTx("a1", 20000, core.TypeExpense))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.ID == "" {
		t.Fatal("created transaction has no ID")
	}
	if got := store.balance("a1"); got != 80000 {
		t.Fatalf("balance = %d, want 80000", got)
	}
	if events.lastReason() != amqp.ReasonCreated {
		t.Fatalf("event reason = %q, want %q", events.lastReason(), amqp.ReasonCreated)
	}

	if _, err := svc.Create(context.Background(), owner, newTx("a1", 50000, core.TypeIncome)); err != nil {
		t.Fatalf("create income: %v", err)
	}
	if got := store.balance("a1"); got != 130000 {
		t.Fatalf("balance = %d, want 130000", got)
	}
}

func TestCreateWithoutAccountSkipsBalance(t *testing.T) {
	store := newFakeStorage()
	store.addAccount(owner, "a1", 100000)
	svc := NewTransactionService(store, nil)

	if _, err := svc.Create(context.Background(), owner, newTx("", 500, core.TypeExpense)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := store.balance("a1"); got != 100000 {
		t.Fatalf("balance = %d, want untouched 100000", got)
	}
	if store.balanceCalls != 0 {
		t.Fatalf("balance calls = %d, want 0", store.balanceCalls)
	}
}

func TestCreateValidationBeforeWrite(t *testing.T) {
	store := newFakeStorage()
	store.addAccount(owner, "a1", 100000)
	svc := NewTransactionService(store, nil)

	cases := []struct {
		name string
		tx   core.Transaction
		want error
	}{
		{"zero amount", newTx("a1", 0, core.TypeExpense), core.ErrInvalidAmount},
		{"transfer type", newTx("a1", 100, core.TypeTransfer), core.ErrInvalidTransactionType},
		{"unknown type", newTx("a1", 100, "refund"), core.ErrInvalidTransactionType},
		{"missing category", func() core.Transaction {
			tx := newTx("a1", 100, core.TypeExpense)
			tx.Category = ""
			return tx
		}(), core.ErrEmptyCategory},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Create(context.Background(), owner, tc.tx); !errors.Is(err, tc.want) {
				t.Fatalf("error = %v, want %v", err, tc.want)
			}
		})
	}
	if len(store.txs) != 0 {
		t.Fatalf("rejected creates left %d rows behind", len(store.txs))
	}
	if got := store.balance("a1"); got != 100000 {
		t.Fatalf("balance = %d, want untouched 100000", got)
	}
}

func TestCreateUnknownOrForeignAccount(t *testing.T) {
	store := newFakeStorage()
	store.addAccount("someone-else", "theirs", 5000)
	svc := NewTransactionService(store, nil)

	if _, err := svc.Create(context.Background(), owner, newTx("missing", 100, core.TypeExpense)); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("unknown account: error = %v, want ErrNotFound", err)
	}
	// Another user's account must look exactly like a missing one.
	if _, err := svc.Create(context.Background(), owner, newTx("theirs", 100, core.TypeExpense)); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("foreign account: error = %v, want ErrNotFound", err)
	}
	if len(store.txs) != 0 {
		t.Fatal("no transaction row should have been written")
	}
}

func TestEmptyOwnerUnauthorized(t *testing.T) {
	svc := NewTransactionService(newFakeStorage(), nil)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "", newTx("a1", 100, core.TypeExpense)); !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("create: error = %v, want ErrUnauthorized", err)
	}
	if _, err := svc.Update(ctx, "", "tx", TransactionPatch{}); !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("update: error = %v, want ErrUnauthorized", err)
	}
	if err := svc.Delete(ctx, "", "tx"); !errors.Is(err, core.ErrUnauthorized) {
		t.Fatalf("delete: error = %v, want ErrUnauthorized", err)
	}
}

// Reverse the old effect, apply the new one: balance 1000.00, expense 200.00
// -> 800.00, amended to 50.00 -> 950.00, deleted -> 1000.00.
func TestUpdateThenDeleteRestoresBalance(t *testing.T) {
	store := newFakeStorage()
	store.addAccount(owner, "a1", 100000)
	svc := NewTransactionService(store, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, owner, newTx("a1", 20000, core.TypeExpense))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got := store.balance("a1"); got != 80000 {
		t.Fatalf("after create: balance = %d, want 80000", got)
	}

	amount := core.Money{Cents: 5000}
	if _, err := svc.Update(ctx, owner, created.ID, TransactionPatch{Amount: &amount}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := store.balance("a1"); got != 95000 {
		t.Fatalf("after update: balance = %d, want 95000", got)
	}

	if err := svc.Delete(ctx, owner, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := store.balance("a1"); got != 100000 {
		t.Fatalf("after delete: balance = %d, want 100000", got)
	}
}

func TestUpdateTypeFlip(t *testing.T) {
	store := newFakeStorage()
	store.addAccount(owner, "a1", 100000)
	svc := NewTransactionService(store, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, owner, newTx("a1", 10000, core.TypeExpense))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	typ := core.TypeIncome
	if _, err := svc.Update(ctx, owner, created.ID, TransactionPatch{Type: &typ}); err != nil {
		t.Fatalf("update: %v", err)
	}
	// Reverse -100.00, apply +100.00: net +200.00 from the post-create state.
	if got := store.balance("a1"); got != 110000 {
		t.Fatalf("balance = %d, want 110000", got)
	}
	if got := store.liveSumCents(t, "a1"); got != store.balance("a1") {
		t.Fatalf("cached %d != live sum %d", store.balance("a1"), got)
	}
}

func TestUpdateReassignsAccount(t *testing.T) {
	store := newFakeStorage()
	store.addAccount(owner, "a1", 100000)
	store.addAccount(owner, "a2", 50000)
	svc := NewTransactionService(store, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, owner, newTx("a1", 20000, core.TypeExpense))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	target := "a2"
	if _, err := svc.Update(ctx, owner, created.ID, TransactionPatch{AccountID: &target}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if got := store.balance("a1"); got != 100000 {
		t.Fatalf("old account balance = %d, want restored 100000", got)
	}
	if got := store.balance("a2"); got != 30000 {
		t.Fatalf("new account balance = %d, want 30000", got)
	}
	for _, id := range []string{"a1", "a2"} {
		if store.balance(id) != store.liveSumCents(t, id) {
			t.Fatalf("account %s: cached %d != live sum %d", id, store.balance(id), store.liveSumCents(t, id))
		}
	}
}

func TestUpdateReassignToForeignAccount(t *testing.T) {
	store := newFakeStorage()
	store.addAccount(owner, "a1", 100000)
	store.addAccount("someone-else", "theirs", 5000)
	svc := NewTransactionService(store, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, owner, newTx("a1", 20000, core.TypeExpense))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	target := "theirs"
	if _, err := svc.Update(ctx, owner, created.ID, TransactionPatch{AccountID: &target}); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	// Rejected before any write: both balances and the row untouched.
	if got := store.balance("a1"); got != 80000 {
		t.Fatalf("balance = %d, want 80000", got)
	}
	if store.txs[created.ID].AccountID != "a1" {
		t.Fatal("transaction row must still reference the original account")
	}
}

func TestUpdateAttachAndDetachAccount(t *testing.T) {
	store := newFakeStorage()
	store.addAccount(owner, "a1", 100000)
	svc := NewTransactionService(store, nil)
	ctx := context.Background()

	// No account: nothing to reverse when one is attached later.
	created, err := svc.Create(ctx, owner, newTx("", 20000, core.TypeExpense))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	attach := "a1"
	if _, err := svc.Update(ctx, owner, created.ID, TransactionPatch{AccountID: &attach}); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if got := store.balance("a1"); got != 80000 {
		t.Fatalf("after attach: balance = %d, want 80000", got)
	}

	detach := ""
	if _, err := svc.Update(ctx, owner, created.ID, TransactionPatch{AccountID: &detach}); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if got := store.balance("a1"); got != 100000 {
		t.Fatalf("after detach: balance = %d, want restored 100000", got)
	}
}

func TestDeleteIsNotRepeatable(t *testing.T) {
	store := newFakeStorage()
	store.addAccount(owner, "a1", 100000)
	svc := NewTransactionService(store, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, owner, newTx("a1", 20000, core.TypeExpense))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Delete(ctx, owner, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if got := store.balance("a1"); got != 100000 {
		t.Fatalf("balance = %d, want 100000", got)
	}

	// Second delete fails NotFound and must not double-reverse.
	if err := svc.Delete(ctx, owner, created.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("second delete: error = %v, want ErrNotFound", err)
	}
	if got := store.balance("a1"); got != 100000 {
		t.Fatalf("balance after second delete = %d, want 100000", got)
	}
}

// Deleting income 500.00 and expense 300.00 in either order converges back
// to the starting balance.
func TestDeleteOrderIndependence(t *testing.T) {
	run := func(t *testing.T, deleteIncomeFirst bool) {
		store := newFakeStorage()
		store.addAccount(owner, "a1", 100000)
		svc := NewTransactionService(store, nil)
		ctx := context.Background()

		income, err := svc.Create(ctx, owner, newTx("a1", 50000, core.TypeIncome))
		if err != nil {
			t.Fatalf("create income: %v", err)
		}
		if got := store.balance("a1"); got != 150000 {
			t.Fatalf("after income: balance = %d, want 150000", got)
		}
		expense, err := svc.Create(ctx, owner, newTx("a1", 30000, core.TypeExpense))
		if err != nil {
			t.Fatalf("create expense: %v", err)
		}
		if got := store.balance("a1"); got != 120000 {
			t.Fatalf("after expense: balance = %d, want 120000", got)
		}

		first, second := income.ID, expense.ID
		if !deleteIncomeFirst {
			first, second = expense.ID, income.ID
		}
		if err := svc.Delete(ctx, owner, first); err != nil {
			t.Fatalf("first delete: %v", err)
		}
		if deleteIncomeFirst {
			if got := store.balance("a1"); got != 70000 {
				t.Fatalf("after deleting income: balance = %d, want 70000", got)
			}
		}
		if err := svc.Delete(ctx, owner, second); err != nil {
			t.Fatalf("second delete: %v", err)
		}
		if got := store.balance("a1"); got != 100000 {
			t.Fatalf("final balance = %d, want 100000", got)
		}
	}

	t.Run("income first", func(t *testing.T) { run(t, true) })
	t.Run("expense first", func(t *testing.T) { run(t, false) })
}

// After an arbitrary sequence of operations the cached balance equals the
// starting balance plus the signed effect of every live transaction.
func TestSumInvariantAfterMixedSequence(t *testing.T) {
	store := newFakeStorage()
	store.addAccount(owner, "a1", 100000)
	store.addAccount(owner, "a2", 0)
	svc := NewTransactionService(store, nil)
	ctx := context.Background()

	var ids []string
	for _, spec := range []struct {
		cents int64
		typ   core.TransactionType
		acct  string
	}{
		{20000, core.TypeExpense, "a1"},
		{50000, core.TypeIncome, "a1"},
		{1234, core.TypeExpense, "a2"},
		{999, core.TypeExpense, "a1"},
		{75000, core.TypeIncome, "a2"},
	} {
		created, err := svc.Create(ctx, owner, newTx(spec.acct, spec.cents, spec.typ))
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		ids = append(ids, created.ID)
	}

	amount := core.Money{Cents: 11111}
	if _, err := svc.Update(ctx, owner, ids[0], TransactionPatch{Amount: &amount}); err != nil {
		t.Fatalf("update amount: %v", err)
	}
	target := "a2"
	if _, err := svc.Update(ctx, owner, ids[1], TransactionPatch{AccountID: &target}); err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if err := svc.Delete(ctx, owner, ids[3]); err != nil {
		t.Fatalf("delete: %v", err)
	}

	for _, id := range []string{"a1", "a2"} {
		want := store.liveSumCents(t, id)
		if got := store.balance(id); got != want {
			t.Fatalf("account %s: cached balance %d != live sum %d", id, got, want)
		}
	}
}

func TestCrossOwnerAccessFailsNotFound(t *testing.T) {
	store := newFakeStorage()
	store.addAccount("victim", "a1", 100000)
	svc := NewTransactionService(store, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, "victim", newTx("a1", 100, core.TypeExpense))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Existence must not leak through a different error type.
	if _, err := svc.Get(ctx, "attacker", created.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("get: error = %v, want ErrNotFound", err)
	}
	if _, err := svc.Update(ctx, "attacker", created.ID, TransactionPatch{}); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("update: error = %v, want ErrNotFound", err)
	}
	if err := svc.Delete(ctx, "attacker", created.ID); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("delete: error = %v, want ErrNotFound", err)
	}
	if got := store.balance("a1"); got != 99900 {
		t.Fatalf("balance = %d, want 99900 (untouched by attacker)", got)
	}
}

func TestCreatePartialWriteSurfacesAndRequestsReconcile(t *testing.T) {
	store := newFakeStorage()
	store.addAccount(owner, "a1", 100000)
	store.failBalanceAfter = 0
	events := &fakeEvents{}
	svc := NewTransactionService(store, events)

	_, err := svc.Create(context.Background(), owner, newTx("a1", 20000, core.TypeExpense))

	var pw *PartialWriteError
	if !errors.As(err, &pw) {
		t.Fatalf("error = %v, want *PartialWriteError", err)
	}
	if pw.Op != "create" {
		t.Fatalf("op = %q, want create", pw.Op)
	}
	if len(pw.AccountIDs) != 1 || pw.AccountIDs[0] != "a1" {
		t.Fatalf("accounts = %v, want [a1]", pw.AccountIDs)
	}
	// The row landed but the balance write did not: the inconsistency is
	// reported, not hidden, and a reconcile request goes out.
	if len(store.txs) != 1 {
		t.Fatalf("transaction rows = %d, want 1", len(store.txs))
	}
	if events.lastReason() != amqp.ReasonPartialWrite {
		t.Fatalf("event reason = %q, want %q", events.lastReason(), amqp.ReasonPartialWrite)
	}
}

func TestUpdatePartialWriteOnSecondAdjustment(t *testing.T) {
	store := newFakeStorage()
	store.addAccount(owner, "a1", 100000)
	store.addAccount(owner, "a2", 50000)
	events := &fakeEvents{}
	svc := NewTransactionService(store, events)
	ctx := context.Background()

	created, err := svc.Create(ctx, owner, newTx("a1", 20000, core.TypeExpense))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Allow the reversal on a1, fail the application on a2.
	store.failBalanceAfter = store.balanceCalls + 1
	target := "a2"
	_, err = svc.Update(ctx, owner, created.ID, TransactionPatch{AccountID: &target})

	var pw *PartialWriteError
	if !errors.As(err, &pw) {
		t.Fatalf("error = %v, want *PartialWriteError", err)
	}
	if len(pw.AccountIDs) != 2 {
		t.Fatalf("accounts = %v, want both touched accounts", pw.AccountIDs)
	}
	if events.lastReason() != amqp.ReasonPartialWrite {
		t.Fatalf("event reason = %q, want %q", events.lastReason(), amqp.ReasonPartialWrite)
	}
}

func TestDeletePartialWriteWhenRowRemovalFails(t *testing.T) {
	store := newFakeStorage()
	store.addAccount(owner, "a1", 100000)
	events := &fakeEvents{}
	svc := NewTransactionService(store, events)
	ctx := context.Background()

	created, err := svc.Create(ctx, owner, newTx("a1", 20000, core.TypeExpense))
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	store.failDelete = true
	err = svc.Delete(ctx, owner, created.ID)

	var pw *PartialWriteError
	if !errors.As(err, &pw) {
		t.Fatalf("error = %v, want *PartialWriteError", err)
	}
	// The reversal landed, the row did not go away.
	if got := store.balance("a1"); got != 100000 {
		t.Fatalf("balance = %d, want reversed 100000", got)
	}
	if len(store.txs) != 1 {
		t.Fatal("row should still exist")
	}
	if events.lastReason() != amqp.ReasonPartialWrite {
		t.Fatalf("event reason = %q, want %q", events.lastReason(), amqp.ReasonPartialWrite)
	}
}
