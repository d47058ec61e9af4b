// Package wallet manages custodial balances for marketplace users.
//
// Each account carries three pools, all in integer cents:
//  1. Protection credit — promotional, non-withdrawable, expires
//  2. Cash — withdrawable deposits
//  3. Locked — funds reserved against open bookings
//
// Funds move between pools through fund locks: a lock reserves money for
// a booking, and is later released back, consumed by a damage deduction,
// or paid out to the counterparty at settlement.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/autorenta/settlement/internal/logging"
	"github.com/autorenta/settlement/internal/metrics"
	"github.com/autorenta/settlement/internal/ratelimit"
	"github.com/autorenta/settlement/internal/syncutil"
	"github.com/autorenta/settlement/internal/traces"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrLockConflict      = errors.New("account is locked by a concurrent operation")
	ErrRateLimited       = errors.New("too many wallet operations")
	ErrLockNotFound      = errors.New("fund lock not found")
	ErrLockNotOpen       = errors.New("fund lock is not open")
)

// Pool identifies which balance a fund lock draws from.
type Pool string

const (
	PoolProtection Pool = "protection_credit"
	PoolCash       Pool = "cash"
)

// Lock purposes.
const (
	PurposeRental  = "rental"
	PurposeDeposit = "deposit"
)

// Lock statuses.
const (
	LockOpen     = "open"
	LockReleased = "released"
	LockSettled  = "settled"
)

// Ledger entry kinds.
const (
	KindLock             = "lock"
	KindUnlock           = "unlock"
	KindWaterfallDebit   = "waterfall_debit"
	KindRelease          = "release"
	KindRefund           = "refund"
	KindSplitPayment     = "split_payment"
	KindComplianceCancel = "compliance_cancel"
	KindDeposit          = "deposit"
	KindCreditRenewal    = "credit_renewal"
)

// Balance is an account's custodial position.
type Balance struct {
	AccountID            string     `json:"account_id"`
	ProtectionCredit     int64      `json:"protection_credit_cents"`
	Cash                 int64      `json:"cash_cents"`
	Locked               int64      `json:"locked_cents"`
	ProtectionExpiresAt  *time.Time `json:"protection_expires_at,omitempty"`
	ClaimFreeCompletions int        `json:"claim_free_completions"`
	UpdatedAt            time.Time  `json:"updated_at"`
}

// AvailableProtection returns the spendable protection credit at the given
// instant, treating expired credit as zero.
func (b *Balance) AvailableProtection(now time.Time) int64 {
	if b.ProtectionExpiresAt != nil && !now.Before(*b.ProtectionExpiresAt) {
		return 0
	}
	return b.ProtectionCredit
}

// Lock is a reservation of funds against a booking.
type Lock struct {
	ID          string     `json:"id"`
	AccountID   string     `json:"account_id"`
	Amount      int64      `json:"amount_cents"`
	Pool        Pool       `json:"pool"`
	Purpose     string     `json:"purpose"`
	ReferenceID string     `json:"reference_id"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// IsOpen reports whether the lock still reserves funds.
func (l *Lock) IsOpen() bool { return l.Status == LockOpen }

// Entry is an append-only ledger record.
type Entry struct {
	ID          string    `json:"id"`
	AccountID   string    `json:"account_id"`
	Kind        string    `json:"kind"`
	Amount      int64     `json:"amount_cents"`
	ReferenceID string    `json:"reference_id,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Settlement summarizes how a lock was closed out.
type Settlement struct {
	ReferenceID string `json:"reference_id"`
	Consumed    int64  `json:"consumed_cents"`
	Refunded    int64  `json:"refunded_cents"`
}

// Store persists wallet state. Implementations must apply each operation
// atomically and keep locked balances equal to the sum of open locks.
type Store interface {
	GetBalance(ctx context.Context, accountID string) (*Balance, error)
	Deposit(ctx context.Context, accountID string, amount int64, description string) error

	// DepositOnce credits cash at most once per referenceID. A repeated
	// reference is a successful no-op; credited reports whether funds
	// actually moved.
	DepositOnce(ctx context.Context, accountID string, amount int64, referenceID, description string) (credited bool, err error)

	GrantProtectionCredit(ctx context.Context, accountID string, amount int64, expiresAt time.Time) error

	// Lock reserves amount from the given pool. If a lock already exists for
	// referenceID it returns that lock with alreadyLocked=true and performs
	// no second debit.
	Lock(ctx context.Context, accountID string, amount int64, pool Pool, purpose, referenceID string) (lock *Lock, alreadyLocked bool, err error)

	// Unlock returns locked funds to their original pool. Unknown or
	// already-closed references are successful no-ops; released reports
	// whether funds actually moved. kind is the ledger entry kind to record
	// (unlock or compliance_cancel).
	Unlock(ctx context.Context, accountID, referenceID, kind string) (released bool, err error)

	// Settle closes an open lock: consume cents are paid into the payee's
	// cash balance, the remainder returns to the lock's original pool.
	Settle(ctx context.Context, referenceID string, consume int64, payeeAccountID string) (*Settlement, error)

	GetLockByReference(ctx context.Context, referenceID string) (*Lock, error)
	GetHistory(ctx context.Context, accountID string, limit int) ([]*Entry, error)

	// IncrementClaimFree bumps the claim-free completion counter and returns
	// the new count. ResetClaimFree zeroes it after a renewal grant.
	IncrementClaimFree(ctx context.Context, accountID string) (int, error)
	ResetClaimFree(ctx context.Context, accountID string) error
}

// RenewalPolicy controls automatic protection credit renewal.
type RenewalPolicy struct {
	// CompletionsRequired is how many claim-free completed bookings earn a renewal.
	CompletionsRequired int
	// GrantAmount is the renewed credit in cents.
	GrantAmount int64
	// Validity is how long renewed credit lasts.
	Validity time.Duration
}

// DefaultRenewalPolicy matches the marketplace promotion: a fresh
// protection credit after every 10 claim-free bookings, valid one year.
func DefaultRenewalPolicy() RenewalPolicy {
	return RenewalPolicy{
		CompletionsRequired: 10,
		GrantAmount:         30000,
		Validity:            365 * 24 * time.Hour,
	}
}

// Service coordinates wallet operations: per-account serialization with
// bounded waits, burst protection, and the fund lock lifecycle.
type Service struct {
	store    Store
	accounts *syncutil.ContextShardedMutex
	limiter  *ratelimit.Limiter
	maxWait  time.Duration
	renewal  RenewalPolicy
}

// Option configures a Service.
type Option func(*Service)

// WithLimiter sets the per-account burst limiter.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

// WithLockWait sets the bounded wait for per-account serialization.
func WithLockWait(d time.Duration) Option {
	return func(s *Service) { s.maxWait = d }
}

// WithRenewalPolicy overrides the protection credit renewal policy.
func WithRenewalPolicy(p RenewalPolicy) Option {
	return func(s *Service) { s.renewal = p }
}

// NewService creates a wallet service.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:    store,
		accounts: syncutil.NewContextShardedMutex(),
		maxWait:  2 * time.Second,
		renewal:  DefaultRenewalPolicy(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// acquire serializes access to one account. Contention past the bounded
// wait fails fast with ErrLockConflict instead of queueing.
func (s *Service) acquire(ctx context.Context, accountID string) (func(), error) {
	unlock, err := s.accounts.TryLockTimeout(ctx, accountID, s.maxWait)
	if err != nil {
		if errors.Is(err, syncutil.ErrBusy) {
			return nil, ErrLockConflict
		}
		return nil, err
	}
	return unlock, nil
}

// GetBalance returns an account's balance.
func (s *Service) GetBalance(ctx context.Context, accountID string) (*Balance, error) {
	return s.store.GetBalance(ctx, accountID)
}

// Deposit credits cash to an account.
func (s *Service) Deposit(ctx context.Context, accountID string, amount int64, description string) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	unlock, err := s.acquire(ctx, accountID)
	if err != nil {
		return err
	}
	defer unlock()
	return s.store.Deposit(ctx, accountID, amount, description)
}

// DepositOnce credits cash at most once per referenceID, for payouts
// that may be re-run after a partial settlement failure. Repeating a
// reference is a successful no-op.
func (s *Service) DepositOnce(ctx context.Context, accountID string, amount int64, referenceID, description string) (bool, error) {
	if amount <= 0 {
		return false, ErrInvalidAmount
	}
	if referenceID == "" {
		return false, fmt.Errorf("%w: reference required", ErrInvalidAmount)
	}
	unlock, err := s.acquire(ctx, accountID)
	if err != nil {
		return false, err
	}
	defer unlock()

	credited, err := s.store.DepositOnce(ctx, accountID, amount, referenceID, description)
	if err != nil {
		return false, err
	}
	if credited {
		logging.L(ctx).Info("payout deposited",
			"account_id", accountID,
			"reference_id", referenceID,
			"amount_cents", amount)
	}
	return credited, nil
}

// LockFunds reserves funds from one pool against a booking reference.
// Idempotent by referenceID: re-submitting an existing reference returns
// the original lock with alreadyLocked=true and no second debit.
func (s *Service) LockFunds(ctx context.Context, accountID string, amount int64, pool Pool, purpose, referenceID string) (*Lock, bool, error) {
	ctx, span := traces.StartSpan(ctx, "wallet.lock",
		traces.AccountID(accountID), traces.Reference(referenceID), traces.AmountCents(amount))
	defer span.End()

	if amount <= 0 {
		metrics.FundLocksTotal.WithLabelValues("invalid").Inc()
		return nil, false, ErrInvalidAmount
	}
	if pool != PoolProtection && pool != PoolCash {
		metrics.FundLocksTotal.WithLabelValues("invalid").Inc()
		return nil, false, fmt.Errorf("%w: unknown pool %q", ErrInvalidAmount, pool)
	}

	if s.limiter != nil && !s.limiter.Allow("wallet:"+accountID) {
		metrics.FundLocksTotal.WithLabelValues("rate_limited").Inc()
		return nil, false, ErrRateLimited
	}

	unlock, err := s.acquire(ctx, accountID)
	if err != nil {
		metrics.FundLocksTotal.WithLabelValues("conflict").Inc()
		return nil, false, err
	}
	defer unlock()

	lock, already, err := s.store.Lock(ctx, accountID, amount, pool, purpose, referenceID)
	switch {
	case err != nil:
		if errors.Is(err, ErrInsufficientFunds) {
			metrics.FundLocksTotal.WithLabelValues("insufficient").Inc()
		} else if errors.Is(err, ErrLockConflict) {
			metrics.FundLocksTotal.WithLabelValues("conflict").Inc()
		} else {
			metrics.FundLocksTotal.WithLabelValues("error").Inc()
		}
		return nil, false, err
	case already:
		metrics.FundLocksTotal.WithLabelValues("duplicate").Inc()
	default:
		metrics.FundLocksTotal.WithLabelValues("locked").Inc()
	}

	logging.L(ctx).Info("funds locked",
		"account_id", accountID,
		"reference_id", referenceID,
		"pool", string(pool),
		"amount_cents", amount,
		"already_locked", already)
	return lock, already, nil
}

// UnlockFunds returns locked funds to their original pool. Unknown or
// already-closed references succeed without moving money, so at-least-once
// callers can retry safely.
func (s *Service) UnlockFunds(ctx context.Context, accountID, referenceID string) error {
	return s.unlock(ctx, accountID, referenceID, KindUnlock)
}

// ComplianceRelease unlocks funds as part of a compensating cancellation,
// recording a compliance_cancel ledger entry instead of a plain unlock.
func (s *Service) ComplianceRelease(ctx context.Context, accountID, referenceID string) error {
	return s.unlock(ctx, accountID, referenceID, KindComplianceCancel)
}

func (s *Service) unlock(ctx context.Context, accountID, referenceID, kind string) error {
	unlock, err := s.acquire(ctx, accountID)
	if err != nil {
		return err
	}
	defer unlock()

	released, err := s.store.Unlock(ctx, accountID, referenceID, kind)
	if err != nil {
		metrics.UnlocksTotal.WithLabelValues("error").Inc()
		return err
	}
	if released {
		metrics.UnlocksTotal.WithLabelValues("released").Inc()
		logging.L(ctx).Info("funds unlocked",
			"account_id", accountID, "reference_id", referenceID, "kind", kind)
	} else {
		metrics.UnlocksTotal.WithLabelValues("noop").Inc()
	}
	return nil
}

// SettleLock consumes part of an open lock in favor of payeeAccountID and
// refunds the remainder to the lock's original pool.
func (s *Service) SettleLock(ctx context.Context, accountID, referenceID string, consume int64, payeeAccountID string) (*Settlement, error) {
	ctx, span := traces.StartSpan(ctx, "wallet.settle",
		traces.AccountID(accountID), traces.Reference(referenceID), traces.AmountCents(consume))
	defer span.End()

	if consume < 0 {
		return nil, ErrInvalidAmount
	}
	unlock, err := s.acquire(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	st, err := s.store.Settle(ctx, referenceID, consume, payeeAccountID)
	if err != nil {
		return nil, err
	}
	logging.L(ctx).Info("lock settled",
		"account_id", accountID,
		"reference_id", referenceID,
		"consumed_cents", st.Consumed,
		"refunded_cents", st.Refunded,
		"payee", payeeAccountID)
	return st, nil
}

// GetLock returns the lock recorded for a booking reference.
func (s *Service) GetLock(ctx context.Context, referenceID string) (*Lock, error) {
	return s.store.GetLockByReference(ctx, referenceID)
}

// GetHistory returns recent ledger entries for an account.
func (s *Service) GetHistory(ctx context.Context, accountID string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.GetHistory(ctx, accountID, limit)
}

// RecordClaimFreeCompletion counts a completed booking with no damage claim
// toward the renter's protection credit renewal. When the policy threshold
// is reached the counter resets and a fresh credit is granted.
func (s *Service) RecordClaimFreeCompletion(ctx context.Context, accountID string) error {
	unlock, err := s.acquire(ctx, accountID)
	if err != nil {
		return err
	}
	defer unlock()

	count, err := s.store.IncrementClaimFree(ctx, accountID)
	if err != nil {
		return err
	}
	if s.renewal.CompletionsRequired <= 0 || count < s.renewal.CompletionsRequired {
		return nil
	}

	expiresAt := time.Now().Add(s.renewal.Validity)
	if err := s.store.GrantProtectionCredit(ctx, accountID, s.renewal.GrantAmount, expiresAt); err != nil {
		return fmt.Errorf("grant renewal credit: %w", err)
	}
	if err := s.store.ResetClaimFree(ctx, accountID); err != nil {
		return fmt.Errorf("reset claim-free counter: %w", err)
	}
	logging.L(ctx).Info("protection credit renewed",
		"account_id", accountID,
		"amount_cents", s.renewal.GrantAmount,
		"expires_at", expiresAt)
	return nil
}

// GrantProtectionCredit credits promotional protection funds directly,
// e.g. on signup.
func (s *Service) GrantProtectionCredit(ctx context.Context, accountID string, amount int64, expiresAt time.Time) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	unlock, err := s.acquire(ctx, accountID)
	if err != nil {
		return err
	}
	defer unlock()
	return s.store.GrantProtectionCredit(ctx, accountID, amount, expiresAt)
}
