package wallet

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autorenta/settlement/internal/ratelimit"
)

func newTestService(t *testing.T, opts ...Option) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewService(store, opts...), store
}

func TestLockFunds_DebitsPoolAndLocks(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Deposit(ctx, "renter-1", 50000, "top up"))

	lock, already, err := svc.LockFunds(ctx, "renter-1", 20000, PoolCash, PurposeDeposit, "bkg_a:deposit")
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, LockOpen, lock.Status)
	assert.Equal(t, int64(20000), lock.Amount)

	bal, err := svc.GetBalance(ctx, "renter-1")
	require.NoError(t, err)
	assert.Equal(t, int64(30000), bal.Cash)
	assert.Equal(t, int64(20000), bal.Locked)
}

func TestLockFunds_IdempotentByReference(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Deposit(ctx, "renter-1", 50000, ""))

	first, already, err := svc.LockFunds(ctx, "renter-1", 20000, PoolCash, PurposeDeposit, "bkg_a:deposit")
	require.NoError(t, err)
	require.False(t, already)

	// Re-submitting the same reference returns the original lock with no
	// second debit, even with a different amount.
	second, already, err := svc.LockFunds(ctx, "renter-1", 99999, PoolCash, PurposeDeposit, "bkg_a:deposit")
	require.NoError(t, err)
	assert.True(t, already)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(20000), second.Amount)

	bal, err := svc.GetBalance(ctx, "renter-1")
	require.NoError(t, err)
	assert.Equal(t, int64(30000), bal.Cash)
	assert.Equal(t, int64(20000), bal.Locked)
}

func TestLockFunds_InsufficientFunds(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Deposit(ctx, "renter-1", 1000, ""))

	_, _, err := svc.LockFunds(ctx, "renter-1", 5000, PoolCash, PurposeRental, "bkg_b:rental")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// Nothing moved.
	bal, err := svc.GetBalance(ctx, "renter-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), bal.Cash)
	assert.Equal(t, int64(0), bal.Locked)
}

func TestLockFunds_UnknownAccount(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.LockFunds(context.Background(), "ghost", 100, PoolCash, PurposeRental, "bkg_c:rental")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestLockFunds_ExpiredProtectionCredit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	expired := time.Now().Add(-time.Hour)
	require.NoError(t, svc.GrantProtectionCredit(ctx, "renter-1", 30000, expired))

	_, _, err := svc.LockFunds(ctx, "renter-1", 10000, PoolProtection, PurposeDeposit, "bkg_d:deposit")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestLockFunds_RateLimited(t *testing.T) {
	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerMinute: 1,
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	svc, _ := newTestService(t, WithLimiter(limiter))
	ctx := context.Background()
	require.NoError(t, svc.Deposit(ctx, "renter-1", 100000, ""))

	_, _, err := svc.LockFunds(ctx, "renter-1", 100, PoolCash, PurposeRental, "bkg_e:1")
	require.NoError(t, err)

	_, _, err = svc.LockFunds(ctx, "renter-1", 100, PoolCash, PurposeRental, "bkg_e:2")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestUnlockFunds_ReturnsToOriginalPool(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	future := time.Now().Add(24 * time.Hour)
	require.NoError(t, svc.GrantProtectionCredit(ctx, "renter-1", 30000, future))

	_, _, err := svc.LockFunds(ctx, "renter-1", 30000, PoolProtection, PurposeDeposit, "bkg_f:deposit")
	require.NoError(t, err)

	require.NoError(t, svc.UnlockFunds(ctx, "renter-1", "bkg_f:deposit"))

	bal, err := svc.GetBalance(ctx, "renter-1")
	require.NoError(t, err)
	assert.Equal(t, int64(30000), bal.ProtectionCredit)
	assert.Equal(t, int64(0), bal.Locked)

	lock, err := svc.GetLock(ctx, "bkg_f:deposit")
	require.NoError(t, err)
	assert.Equal(t, LockReleased, lock.Status)
}

func TestUnlockFunds_UnknownReferenceIsNoop(t *testing.T) {
	svc, _ := newTestService(t)

	// At-least-once callers may retry an unlock that never locked.
	err := svc.UnlockFunds(context.Background(), "renter-1", "bkg_missing:deposit")
	assert.NoError(t, err)
}

func TestUnlockFunds_DoubleUnlockIsNoop(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Deposit(ctx, "renter-1", 10000, ""))
	_, _, err := svc.LockFunds(ctx, "renter-1", 10000, PoolCash, PurposeDeposit, "bkg_g:deposit")
	require.NoError(t, err)

	require.NoError(t, svc.UnlockFunds(ctx, "renter-1", "bkg_g:deposit"))
	require.NoError(t, svc.UnlockFunds(ctx, "renter-1", "bkg_g:deposit"))

	bal, err := svc.GetBalance(ctx, "renter-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), bal.Cash, "second unlock must not double-credit")
	assert.Equal(t, int64(0), bal.Locked)
}

func TestSettleLock_ConsumeAndRefund(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Deposit(ctx, "renter-1", 50000, ""))
	_, _, err := svc.LockFunds(ctx, "renter-1", 50000, PoolCash, PurposeDeposit, "bkg_h:deposit")
	require.NoError(t, err)

	st, err := svc.SettleLock(ctx, "renter-1", "bkg_h:deposit", 30000, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(30000), st.Consumed)
	assert.Equal(t, int64(20000), st.Refunded)

	renter, err := svc.GetBalance(ctx, "renter-1")
	require.NoError(t, err)
	assert.Equal(t, int64(20000), renter.Cash)
	assert.Equal(t, int64(0), renter.Locked)

	owner, err := svc.GetBalance(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(30000), owner.Cash)

	// Ledger carries the waterfall trail.
	entries, err := svc.GetHistory(ctx, "renter-1", 10)
	require.NoError(t, err)
	kinds := make(map[string]bool)
	for _, e := range entries {
		kinds[e.Kind] = true
	}
	assert.True(t, kinds[KindWaterfallDebit], "expected waterfall_debit entry")
	assert.True(t, kinds[KindRefund], "expected refund entry")
}

func TestSettleLock_FullConsumeNoRefund(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Deposit(ctx, "renter-1", 40000, ""))
	_, _, err := svc.LockFunds(ctx, "renter-1", 40000, PoolCash, PurposeRental, "bkg_i:rental")
	require.NoError(t, err)

	st, err := svc.SettleLock(ctx, "renter-1", "bkg_i:rental", 40000, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(40000), st.Consumed)
	assert.Equal(t, int64(0), st.Refunded)
}

func TestSettleLock_ClosedLockFails(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Deposit(ctx, "renter-1", 10000, ""))
	_, _, err := svc.LockFunds(ctx, "renter-1", 10000, PoolCash, PurposeDeposit, "bkg_j:deposit")
	require.NoError(t, err)
	require.NoError(t, svc.UnlockFunds(ctx, "renter-1", "bkg_j:deposit"))

	_, err = svc.SettleLock(ctx, "renter-1", "bkg_j:deposit", 0, "owner-1")
	assert.ErrorIs(t, err, ErrLockNotOpen)
}

func TestSettleLock_ConsumeExceedsLock(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.Deposit(ctx, "renter-1", 10000, ""))
	_, _, err := svc.LockFunds(ctx, "renter-1", 10000, PoolCash, PurposeDeposit, "bkg_k:deposit")
	require.NoError(t, err)

	_, err = svc.SettleLock(ctx, "renter-1", "bkg_k:deposit", 20000, "owner-1")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestRecordClaimFreeCompletion_RenewsAtThreshold(t *testing.T) {
	svc, _ := newTestService(t, WithRenewalPolicy(RenewalPolicy{
		CompletionsRequired: 3,
		GrantAmount:         10000,
		Validity:            time.Hour,
	}))
	ctx := context.Background()

	require.NoError(t, svc.Deposit(ctx, "renter-1", 1, ""))

	for i := 0; i < 2; i++ {
		require.NoError(t, svc.RecordClaimFreeCompletion(ctx, "renter-1"))
	}
	bal, err := svc.GetBalance(ctx, "renter-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal.ProtectionCredit)
	assert.Equal(t, 2, bal.ClaimFreeCompletions)

	// Third claim-free completion triggers the renewal grant.
	require.NoError(t, svc.RecordClaimFreeCompletion(ctx, "renter-1"))
	bal, err = svc.GetBalance(ctx, "renter-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), bal.ProtectionCredit)
	assert.Equal(t, 0, bal.ClaimFreeCompletions)
	require.NotNil(t, bal.ProtectionExpiresAt)
	assert.True(t, bal.ProtectionExpiresAt.After(time.Now()))
}

func TestDeposit_InvalidAmount(t *testing.T) {
	svc, _ := newTestService(t)

	err := svc.Deposit(context.Background(), "renter-1", 0, "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	err = svc.Deposit(context.Background(), "renter-1", -5, "")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestDepositOnce_CreditsOncePerReference(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	credited, err := svc.DepositOnce(ctx, "owner-1", 20000, "bkg_a:external_payout", "card payment payout")
	require.NoError(t, err)
	assert.True(t, credited)

	// A re-run after a partial settlement failure must not credit again.
	credited, err = svc.DepositOnce(ctx, "owner-1", 20000, "bkg_a:external_payout", "card payment payout")
	require.NoError(t, err)
	assert.False(t, credited)

	bal, err := svc.GetBalance(ctx, "owner-1")
	require.NoError(t, err)
	assert.Equal(t, int64(20000), bal.Cash)

	entries, err := svc.GetHistory(ctx, "owner-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, KindDeposit, entries[0].Kind)
	assert.Equal(t, "bkg_a:external_payout", entries[0].ReferenceID)
}

func TestDepositOnce_RequiresReference(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.DepositOnce(context.Background(), "owner-1", 1000, "", "payout")
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestConcurrentLockUnlockCycles(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	const workers = 50
	const perLock = int64(100)

	require.NoError(t, svc.Deposit(ctx, "renter-1", workers*perLock, ""))

	var success atomic.Int64
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(n int) {
			defer wg.Done()
			ref := fmt.Sprintf("bkg_conc_%d:deposit", n)
			if _, _, err := svc.LockFunds(ctx, "renter-1", perLock, PoolCash, PurposeDeposit, ref); err != nil {
				return
			}
			if err := svc.UnlockFunds(ctx, "renter-1", ref); err != nil {
				return
			}
			success.Add(1)
		}(i)
	}
	wg.Wait()

	// Bounded lock waits may shed a few cycles under contention, but the
	// vast majority must complete.
	if got := success.Load(); got < workers*95/100 {
		t.Fatalf("only %d/%d lock/unlock cycles succeeded", got, workers)
	}

	// No funds lost or stuck regardless of individual outcomes.
	bal, err := svc.GetBalance(ctx, "renter-1")
	require.NoError(t, err)
	lockedRefs := int64(0)
	for i := 0; i < workers; i++ {
		lock, err := svc.GetLock(ctx, fmt.Sprintf("bkg_conc_%d:deposit", i))
		if err == nil && lock.IsOpen() {
			lockedRefs += lock.Amount
		}
	}
	assert.Equal(t, lockedRefs, bal.Locked, "locked balance must equal sum of open locks")
	assert.Equal(t, workers*perLock, bal.Cash+bal.Locked, "no funds created or destroyed")
}
