package booking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autorenta/settlement/internal/idgen"
	"github.com/autorenta/settlement/internal/testutil"
)

func pgBooking() *Booking {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &Booking{
		ID:                 idgen.WithPrefix("bkg_"),
		CarID:              "car-pg-1",
		OwnerID:            "owner-pg",
		RenterID:           "renter-pg",
		RentalAmountCents:  20000,
		DepositAmountCents: 30000,
		Status:             StatusPendingPayment,
		StartAt:            now,
		EndAt:              now.Add(72 * time.Hour),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func TestPostgresStore_CreateGetUpdate(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	b := pgBooking()
	require.NoError(t, store.Create(ctx, b))

	got, err := store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
	assert.Equal(t, StatusPendingPayment, got.Status)
	assert.Nil(t, got.ReturnedAt)
	assert.Empty(t, got.CancellationReason)

	now := time.Now().UTC().Truncate(time.Microsecond)
	got.Status = StatusInProgress
	got.PickedUpAt = &now
	got.UpdatedAt = now
	require.NoError(t, store.Update(ctx, got))

	updated, err := store.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, updated.Status)
	require.NotNil(t, updated.PickedUpAt)
	assert.WithinDuration(t, now, *updated.PickedUpAt, time.Millisecond)
}

func TestPostgresStore_GetUnknown(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	_, err := store.Get(context.Background(), "bkg_missing")
	assert.ErrorIs(t, err, ErrBookingNotFound)

	err = store.Update(context.Background(), pgBooking())
	assert.ErrorIs(t, err, ErrBookingNotFound)
}

func TestPostgresStore_ListAutoReleasable(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()
	now := time.Now().UTC()

	due := pgBooking()
	due.Status = StatusInProgress
	past := now.Add(-time.Hour)
	due.ReturnedAt = &past
	due.InspectedAt = &past
	due.AutoReleaseAt = &past
	require.NoError(t, store.Create(ctx, due))

	notYet := pgBooking()
	notYet.Status = StatusInProgress
	future := now.Add(time.Hour)
	notYet.AutoReleaseAt = &future
	require.NoError(t, store.Create(ctx, notYet))

	disputed := pgBooking()
	disputed.Status = StatusInProgress
	disputed.AutoReleaseAt = &past
	disputed.DisputedAt = &past
	require.NoError(t, store.Create(ctx, disputed))

	settled := pgBooking()
	settled.Status = StatusCompleted
	settled.AutoReleaseAt = &past
	settled.FundsReleasedAt = &past
	require.NoError(t, store.Create(ctx, settled))

	got, err := store.ListAutoReleasable(ctx, now, 10)
	require.NoError(t, err)
	ids := make([]string, 0, len(got))
	for _, b := range got {
		ids = append(ids, b.ID)
	}
	assert.Contains(t, ids, due.ID)
	assert.NotContains(t, ids, notYet.ID)
	assert.NotContains(t, ids, disputed.ID)
	assert.NotContains(t, ids, settled.ID)
}

func TestPostgresStore_ListByAccount(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	store := NewPostgresStore(db)
	ctx := context.Background()

	mine := pgBooking()
	mine.RenterID = "renter-pg-list"
	require.NoError(t, store.Create(ctx, mine))

	other := pgBooking()
	other.OwnerID = "owner-pg-other"
	other.RenterID = "renter-pg-other"
	require.NoError(t, store.Create(ctx, other))

	got, err := store.ListByAccount(ctx, "renter-pg-list", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, mine.ID, got[0].ID)
}
