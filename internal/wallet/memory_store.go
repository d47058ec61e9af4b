package wallet

import (
	"context"
	"sync"
	"time"

	"github.com/autorenta/settlement/internal/idgen"
)

// MemoryStore is an in-memory wallet store for development and tests.
type MemoryStore struct {
	balances map[string]*Balance
	locks    map[string]*Lock // keyed by reference_id
	entries  []*Entry
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory wallet store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]*Balance),
		locks:    make(map[string]*Lock),
	}
}

func (m *MemoryStore) GetBalance(ctx context.Context, accountID string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if bal, ok := m.balances[accountID]; ok {
		cp := *bal
		return &cp, nil
	}
	return &Balance{AccountID: accountID, UpdatedAt: time.Now()}, nil
}

func (m *MemoryStore) getOrCreate(accountID string) *Balance {
	bal, ok := m.balances[accountID]
	if !ok {
		bal = &Balance{AccountID: accountID}
		m.balances[accountID] = bal
	}
	return bal
}

func (m *MemoryStore) append(accountID, kind string, amount int64, referenceID, description string) {
	m.entries = append(m.entries, &Entry{
		ID:          idgen.New(),
		AccountID:   accountID,
		Kind:        kind,
		Amount:      amount,
		ReferenceID: referenceID,
		Description: description,
		CreatedAt:   time.Now(),
	})
}

func (m *MemoryStore) Deposit(ctx context.Context, accountID string, amount int64, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal := m.getOrCreate(accountID)
	bal.Cash += amount
	bal.UpdatedAt = time.Now()
	m.append(accountID, KindDeposit, amount, "", description)
	return nil
}

func (m *MemoryStore) DepositOnce(ctx context.Context, accountID string, amount int64, referenceID, description string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.entries {
		if e.Kind == KindDeposit && e.ReferenceID == referenceID {
			return false, nil
		}
	}

	bal := m.getOrCreate(accountID)
	bal.Cash += amount
	bal.UpdatedAt = time.Now()
	m.append(accountID, KindDeposit, amount, referenceID, description)
	return true, nil
}

func (m *MemoryStore) GrantProtectionCredit(ctx context.Context, accountID string, amount int64, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal := m.getOrCreate(accountID)
	// Expired leftovers are replaced, not stacked.
	if bal.ProtectionExpiresAt != nil && !time.Now().Before(*bal.ProtectionExpiresAt) {
		bal.ProtectionCredit = 0
	}
	bal.ProtectionCredit += amount
	bal.ProtectionExpiresAt = &expiresAt
	bal.UpdatedAt = time.Now()
	m.append(accountID, KindCreditRenewal, amount, "", "protection credit granted")
	return nil
}

func (m *MemoryStore) Lock(ctx context.Context, accountID string, amount int64, pool Pool, purpose, referenceID string) (*Lock, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Idempotency: an existing reference returns the original lock untouched.
	if existing, ok := m.locks[referenceID]; ok {
		cp := *existing
		return &cp, true, nil
	}

	bal, ok := m.balances[accountID]
	if !ok {
		return nil, false, ErrAccountNotFound
	}

	now := time.Now()
	switch pool {
	case PoolProtection:
		if bal.AvailableProtection(now) < amount {
			return nil, false, ErrInsufficientFunds
		}
		bal.ProtectionCredit -= amount
	case PoolCash:
		if bal.Cash < amount {
			return nil, false, ErrInsufficientFunds
		}
		bal.Cash -= amount
	default:
		return nil, false, ErrInvalidAmount
	}

	bal.Locked += amount
	bal.UpdatedAt = now

	lock := &Lock{
		ID:          idgen.WithPrefix("lck_"),
		AccountID:   accountID,
		Amount:      amount,
		Pool:        pool,
		Purpose:     purpose,
		ReferenceID: referenceID,
		Status:      LockOpen,
		CreatedAt:   now,
	}
	m.locks[referenceID] = lock
	m.append(accountID, KindLock, amount, referenceID, purpose)

	cp := *lock
	return &cp, false, nil
}

func (m *MemoryStore) Unlock(ctx context.Context, accountID, referenceID, kind string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[referenceID]
	if !ok || !lock.IsOpen() {
		// Unknown or already-closed references are successful no-ops.
		return false, nil
	}

	bal, ok := m.balances[lock.AccountID]
	if !ok {
		return false, ErrAccountNotFound
	}

	now := time.Now()
	bal.Locked -= lock.Amount
	switch lock.Pool {
	case PoolProtection:
		bal.ProtectionCredit += lock.Amount
	default:
		bal.Cash += lock.Amount
	}
	bal.UpdatedAt = now

	lock.Status = LockReleased
	lock.ClosedAt = &now
	m.append(lock.AccountID, kind, lock.Amount, referenceID, "lock released")
	return true, nil
}

func (m *MemoryStore) Settle(ctx context.Context, referenceID string, consume int64, payeeAccountID string) (*Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.locks[referenceID]
	if !ok {
		return nil, ErrLockNotFound
	}
	if !lock.IsOpen() {
		return nil, ErrLockNotOpen
	}
	if consume > lock.Amount {
		return nil, ErrInsufficientFunds
	}

	bal, ok := m.balances[lock.AccountID]
	if !ok {
		return nil, ErrAccountNotFound
	}

	now := time.Now()
	refund := lock.Amount - consume

	bal.Locked -= lock.Amount

	if consume > 0 {
		m.append(lock.AccountID, KindWaterfallDebit, consume, referenceID, "damage deduction")

		payee := m.getOrCreate(payeeAccountID)
		payee.Cash += consume
		payee.UpdatedAt = now
		m.append(payeeAccountID, KindRelease, consume, referenceID, "settlement payout")
	}

	if refund > 0 {
		switch lock.Pool {
		case PoolProtection:
			bal.ProtectionCredit += refund
		default:
			bal.Cash += refund
		}
		m.append(lock.AccountID, KindRefund, refund, referenceID, "lock remainder refunded")
	}

	bal.UpdatedAt = now
	lock.Status = LockSettled
	lock.ClosedAt = &now

	return &Settlement{ReferenceID: referenceID, Consumed: consume, Refunded: refund}, nil
}

func (m *MemoryStore) GetLockByReference(ctx context.Context, referenceID string) (*Lock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lock, ok := m.locks[referenceID]
	if !ok {
		return nil, ErrLockNotFound
	}
	cp := *lock
	return &cp, nil
}

func (m *MemoryStore) GetHistory(ctx context.Context, accountID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Entry
	for i := len(m.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if m.entries[i].AccountID == accountID {
			result = append(result, m.entries[i])
		}
	}
	return result, nil
}

func (m *MemoryStore) IncrementClaimFree(ctx context.Context, accountID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal := m.getOrCreate(accountID)
	bal.ClaimFreeCompletions++
	bal.UpdatedAt = time.Now()
	return bal.ClaimFreeCompletions, nil
}

func (m *MemoryStore) ResetClaimFree(ctx context.Context, accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal := m.getOrCreate(accountID)
	bal.ClaimFreeCompletions = 0
	bal.UpdatedAt = time.Now()
	return nil
}
