package credit

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/rank-tracker/internal/model"
)

// fakeCreditStore is an in-memory Store with the same conditional-debit
// semantics as the real backends.
type fakeCreditStore struct {
	mu       sync.Mutex
	accounts map[string]int
	ledger   []model.CreditLedgerEntry
}

func newFakeCreditStore(balances map[string]int) *fakeCreditStore {
	return &fakeCreditStore{accounts: balances}
}

func (f *fakeCreditStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	bal, ok := f.accounts[id]
	if !ok {
		return nil, nil
	}
	return &model.Account{ID: id, Balance: bal}, nil
}

func (f *fakeCreditStore) DebitAccount(_ context.Context, id string, credits int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accounts[id] < credits {
		return false, nil
	}
	f.accounts[id] -= credits
	return true, nil
}

func (f *fakeCreditStore) CreditAccount(_ context.Context, id string, credits int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[id] += credits
	return nil
}

func (f *fakeCreditStore) InsertLedgerEntry(_ context.Context, e model.CreditLedgerEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ledger = append(f.ledger, e)
	return nil
}

func TestCheckBalance(t *testing.T) {
	t.Parallel()

	svc := NewService(newFakeCreditStore(map[string]int{"acct": 10}))
	ctx := context.Background()

	ok, err := svc.CheckBalance(ctx, "acct", 10)
	require.NoError(t, err)
	assert.True(t, ok)

	// Insufficient is a normal outcome, not an error.
	ok, err = svc.CheckBalance(ctx, "acct", 12)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = svc.CheckBalance(ctx, "missing", 1)
	require.Error(t, err)
}

func TestDebit_WritesLedgerEntry(t *testing.T) {
	t.Parallel()

	fs := newFakeCreditStore(map[string]int{"acct": 20})
	svc := NewService(fs)

	applied, err := svc.Debit(context.Background(), "acct", 8, "run-1")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 12, fs.accounts["acct"])

	require.Len(t, fs.ledger, 1)
	entry := fs.ledger[0]
	assert.Equal(t, model.LedgerDebit, entry.Type)
	assert.Equal(t, 8, entry.Credits)
	assert.Equal(t, "run-1", entry.RunID)
}

func TestDebit_ZeroCostIsNoop(t *testing.T) {
	t.Parallel()

	fs := newFakeCreditStore(map[string]int{"acct": 5})
	svc := NewService(fs)

	applied, err := svc.Debit(context.Background(), "acct", 0, "run-1")
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, 5, fs.accounts["acct"])
	assert.Empty(t, fs.ledger)
}

func TestDebit_InsufficientBalanceNotApplied(t *testing.T) {
	t.Parallel()

	fs := newFakeCreditStore(map[string]int{"acct": 3})
	svc := NewService(fs)

	applied, err := svc.Debit(context.Background(), "acct", 5, "run-1")
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, 3, fs.accounts["acct"], "balance untouched")
	assert.Empty(t, fs.ledger, "no ledger entry without a debit")
}

func TestDebit_NegativeCostFails(t *testing.T) {
	t.Parallel()

	svc := NewService(newFakeCreditStore(map[string]int{"acct": 10}))
	_, err := svc.Debit(context.Background(), "acct", -1, "run-1")
	require.Error(t, err)
}

// Concurrent debits across one account must never overdraw it.
func TestDebit_NoDoubleSpendUnderConcurrency(t *testing.T) {
	t.Parallel()

	fs := newFakeCreditStore(map[string]int{"acct": 10})
	svc := NewService(fs)

	var wg sync.WaitGroup
	var appliedCount sync.Map
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			applied, err := svc.Debit(context.Background(), "acct", 3, "run")
			require.NoError(t, err)
			appliedCount.Store(n, applied)
		}(i)
	}
	wg.Wait()

	applied := 0
	appliedCount.Range(func(_, v any) bool {
		if v.(bool) {
			applied++
		}
		return true
	})

	// 10 credits at 3 apiece: exactly 3 debits can land.
	assert.Equal(t, 3, applied)
	assert.Equal(t, 1, fs.accounts["acct"])
	assert.Len(t, fs.ledger, 3)
}

func TestRefund_AppendsCompensatingEntry(t *testing.T) {
	t.Parallel()

	fs := newFakeCreditStore(map[string]int{"acct": 2})
	svc := NewService(fs)

	require.NoError(t, svc.Refund(context.Background(), "acct", 5, "run-1", "aborted run"))
	assert.Equal(t, 7, fs.accounts["acct"])
	require.Len(t, fs.ledger, 1)
	assert.Equal(t, model.LedgerCredit, fs.ledger[0].Type)
	assert.Equal(t, "aborted run", fs.ledger[0].Note)

	require.Error(t, svc.Refund(context.Background(), "acct", 0, "run-1", ""))
}
