package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autorenta/settlement/internal/testutil"
)

func TestPostgresStore_LockLifecycle(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	require.NoError(t, store.Deposit(ctx, "renter-pg-1", 50000, "seed"))

	lock, already, err := store.Lock(ctx, "renter-pg-1", 20000, PoolCash, PurposeDeposit, "bkg_pg:deposit")
	require.NoError(t, err)
	require.False(t, already)
	assert.Equal(t, LockOpen, lock.Status)

	// Idempotent re-submission.
	dup, already, err := store.Lock(ctx, "renter-pg-1", 20000, PoolCash, PurposeDeposit, "bkg_pg:deposit")
	require.NoError(t, err)
	assert.True(t, already)
	assert.Equal(t, lock.ID, dup.ID)

	bal, err := store.GetBalance(ctx, "renter-pg-1")
	require.NoError(t, err)
	assert.Equal(t, int64(30000), bal.Cash)
	assert.Equal(t, int64(20000), bal.Locked)

	released, err := store.Unlock(ctx, "renter-pg-1", "bkg_pg:deposit", KindUnlock)
	require.NoError(t, err)
	assert.True(t, released)

	// Double unlock is a no-op.
	released, err = store.Unlock(ctx, "renter-pg-1", "bkg_pg:deposit", KindUnlock)
	require.NoError(t, err)
	assert.False(t, released)

	bal, err = store.GetBalance(ctx, "renter-pg-1")
	require.NoError(t, err)
	assert.Equal(t, int64(50000), bal.Cash)
	assert.Equal(t, int64(0), bal.Locked)
}

func TestPostgresStore_LockInsufficientFunds(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	require.NoError(t, store.Deposit(ctx, "renter-pg-2", 100, "seed"))

	_, _, err := store.Lock(ctx, "renter-pg-2", 5000, PoolCash, PurposeRental, "bkg_pg2:rental")
	assert.ErrorIs(t, err, ErrInsufficientFunds)
}

func TestPostgresStore_SettleWaterfall(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	require.NoError(t, store.Deposit(ctx, "renter-pg-3", 50000, "seed"))
	_, _, err := store.Lock(ctx, "renter-pg-3", 50000, PoolCash, PurposeDeposit, "bkg_pg3:deposit")
	require.NoError(t, err)

	st, err := store.Settle(ctx, "bkg_pg3:deposit", 30000, "owner-pg-3")
	require.NoError(t, err)
	assert.Equal(t, int64(30000), st.Consumed)
	assert.Equal(t, int64(20000), st.Refunded)

	renter, err := store.GetBalance(ctx, "renter-pg-3")
	require.NoError(t, err)
	assert.Equal(t, int64(20000), renter.Cash)
	assert.Equal(t, int64(0), renter.Locked)

	owner, err := store.GetBalance(ctx, "owner-pg-3")
	require.NoError(t, err)
	assert.Equal(t, int64(30000), owner.Cash)

	// Second settlement attempt fails: the lock is closed.
	_, err = store.Settle(ctx, "bkg_pg3:deposit", 30000, "owner-pg-3")
	assert.ErrorIs(t, err, ErrLockNotOpen)
}

func TestPostgresStore_ProtectionCreditExpiry(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	expired := time.Now().Add(-time.Hour)
	require.NoError(t, store.GrantProtectionCredit(ctx, "renter-pg-4", 30000, expired))

	_, _, err := store.Lock(ctx, "renter-pg-4", 10000, PoolProtection, PurposeDeposit, "bkg_pg4:deposit")
	assert.ErrorIs(t, err, ErrInsufficientFunds)

	// A fresh grant replaces the expired credit instead of stacking.
	future := time.Now().Add(time.Hour)
	require.NoError(t, store.GrantProtectionCredit(ctx, "renter-pg-4", 20000, future))

	bal, err := store.GetBalance(ctx, "renter-pg-4")
	require.NoError(t, err)
	assert.Equal(t, int64(20000), bal.ProtectionCredit)
}

func TestPostgresStore_ClaimFreeCounter(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := store.IncrementClaimFree(ctx, "renter-pg-5")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	require.NoError(t, store.ResetClaimFree(ctx, "renter-pg-5"))

	bal, err := store.GetBalance(ctx, "renter-pg-5")
	require.NoError(t, err)
	assert.Equal(t, 0, bal.ClaimFreeCompletions)
}

func TestPostgresStore_DepositOnce(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	credited, err := store.DepositOnce(ctx, "owner-pg-1", 20000, "bkg_pg:external_payout", "card payment payout")
	require.NoError(t, err)
	assert.True(t, credited)

	credited, err = store.DepositOnce(ctx, "owner-pg-1", 20000, "bkg_pg:external_payout", "card payment payout")
	require.NoError(t, err)
	assert.False(t, credited)

	bal, err := store.GetBalance(ctx, "owner-pg-1")
	require.NoError(t, err)
	assert.Equal(t, int64(20000), bal.Cash)

	entries, err := store.GetHistory(ctx, "owner-pg-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, KindDeposit, entries[0].Kind)
}
