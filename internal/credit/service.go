package credit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/rank-tracker/internal/model"
)

// Store is the persistence surface the credit service needs.
type Store interface {
	GetAccount(ctx context.Context, accountID string) (*model.Account, error)
	// DebitAccount atomically decrements the balance when it covers the
	// amount, reporting whether the debit was applied.
	DebitAccount(ctx context.Context, accountID string, credits int) (bool, error)
	CreditAccount(ctx context.Context, accountID string, credits int) error
	InsertLedgerEntry(ctx context.Context, entry model.CreditLedgerEntry) error
}

// Service gates runs on the prepaid balance and records debits. Debits on
// the same account are serialized: the conditional balance update in the
// store is the atomicity guarantee, the per-account mutex keeps ledger
// writes ordered with their debit.
type Service struct {
	store Store

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService creates a credit Service.
func NewService(s Store) *Service {
	return &Service{store: s, locks: make(map[string]*sync.Mutex)}
}

func (s *Service) accountLock(accountID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[accountID] = l
	}
	return l
}

// CheckBalance reports whether the account can cover the given cost.
// Insufficient balance is a normal outcome, never an error.
func (s *Service) CheckBalance(ctx context.Context, accountID string, cost int) (bool, error) {
	acct, err := s.store.GetAccount(ctx, accountID)
	if err != nil {
		return false, eris.Wrapf(err, "credit: get account %s", accountID)
	}
	if acct == nil {
		return false, eris.Errorf("credit: account %s not found", accountID)
	}
	return acct.Balance >= cost, nil
}

// Debit charges the account for a completed run and appends the ledger
// entry. A zero cost writes nothing. Returns whether the debit was
// applied; false means the balance no longer covers the cost.
func (s *Service) Debit(ctx context.Context, accountID string, cost int, runID string) (bool, error) {
	if cost < 0 {
		return false, eris.Errorf("credit: negative debit %d", cost)
	}
	if cost == 0 {
		return true, nil
	}

	l := s.accountLock(accountID)
	l.Lock()
	defer l.Unlock()

	applied, err := s.store.DebitAccount(ctx, accountID, cost)
	if err != nil {
		return false, eris.Wrapf(err, "credit: debit account %s", accountID)
	}
	if !applied {
		zap.L().Warn("debit not applied, balance too low",
			zap.String("account_id", accountID),
			zap.String("run_id", runID),
			zap.Int("cost", cost),
		)
		return false, nil
	}

	entry := model.CreditLedgerEntry{
		ID:        uuid.New().String(),
		AccountID: accountID,
		RunID:     runID,
		Type:      model.LedgerDebit,
		Credits:   cost,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertLedgerEntry(ctx, entry); err != nil {
		return false, eris.Wrapf(err, "credit: ledger entry for run %s", runID)
	}
	return true, nil
}

// Refund offsets a prior debit with a compensating credit entry. Ledger
// rows are never updated; rollback is always a new entry.
func (s *Service) Refund(ctx context.Context, accountID string, credits int, runID, note string) error {
	if credits <= 0 {
		return eris.Errorf("credit: refund must be positive, got %d", credits)
	}

	l := s.accountLock(accountID)
	l.Lock()
	defer l.Unlock()

	if err := s.store.CreditAccount(ctx, accountID, credits); err != nil {
		return eris.Wrapf(err, "credit: refund account %s", accountID)
	}

	entry := model.CreditLedgerEntry{
		ID:        uuid.New().String(),
		AccountID: accountID,
		RunID:     runID,
		Type:      model.LedgerCredit,
		Credits:   credits,
		Note:      note,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.InsertLedgerEntry(ctx, entry); err != nil {
		return eris.Wrapf(err, "credit: refund ledger entry for run %s", runID)
	}
	return nil
}
