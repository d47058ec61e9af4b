package booking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func ts(t time.Time) *time.Time { return &t }

func TestDeriveState_Precedence(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name string
		b    Booking
		want State
	}{
		{"pending payment", Booking{Status: StatusPendingPayment}, StatePendingPayment},
		{"confirmed default", Booking{Status: StatusConfirmed}, StateConfirmed},
		{"in progress", Booking{Status: StatusInProgress, PickedUpAt: ts(now)}, StateInProgress},
		{"returned", Booking{Status: StatusInProgress, ReturnedAt: ts(now)}, StateReturned},
		{"pending renter after clean inspection", Booking{
			Status: StatusInProgress, ReturnedAt: ts(now), InspectedAt: ts(now),
		}, StatePendingRenter},
		{"damage review", Booking{
			Status: StatusInProgress, ReturnedAt: ts(now), InspectedAt: ts(now),
			HasDamage: true, DamageAmountCents: 5000,
		}, StateDamageReview},
		{"disputed beats damage review", Booking{
			Status: StatusInProgress, ReturnedAt: ts(now), InspectedAt: ts(now),
			HasDamage: true, DisputedAt: ts(now),
		}, StateDisputed},
		{"completed beats everything", Booking{
			Status: StatusInProgress, ReturnedAt: ts(now), InspectedAt: ts(now),
			HasDamage: true, DisputedAt: ts(now), FundsReleasedAt: ts(now),
		}, StateCompleted},
		{"completed by status", Booking{Status: StatusCompleted}, StateCompleted},
		{"cancelled", Booking{Status: StatusCancelled, ReturnedAt: ts(now)}, StateCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveState(&tt.b))
		})
	}
}

func TestDeriveState_Deterministic(t *testing.T) {
	now := time.Now()
	b := Booking{Status: StatusInProgress, ReturnedAt: ts(now), InspectedAt: ts(now), HasDamage: true}
	first := DeriveState(&b)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, DeriveState(&b))
	}
}

func TestDeriveView_TurnIsRelativeToCaller(t *testing.T) {
	now := time.Now()
	b := &Booking{
		ID: "bkg_1", OwnerID: "owner", RenterID: "renter",
		Status: StatusInProgress, ReturnedAt: ts(now),
	}

	ownerView := DeriveView(b, "owner", now)
	assert.Equal(t, StateReturned, ownerView.State)
	assert.Equal(t, RoleOwner, ownerView.Actor)
	assert.True(t, ownerView.IsYourTurn)

	renterView := DeriveView(b, "renter", now)
	assert.Equal(t, RoleOwner, renterView.Actor)
	assert.False(t, renterView.IsYourTurn)

	strangerView := DeriveView(b, "someone-else", now)
	assert.Equal(t, RoleNone, strangerView.CallerRole)
	assert.False(t, strangerView.IsYourTurn)
}

func TestDeriveView_AutoReleaseCountdown(t *testing.T) {
	now := time.Now()
	deadline := now.Add(90 * time.Second)
	b := &Booking{
		OwnerID: "owner", RenterID: "renter",
		Status: StatusInProgress, ReturnedAt: ts(now), InspectedAt: ts(now),
		AutoReleaseAt: &deadline,
	}

	v := DeriveView(b, "renter", now)
	assert.Equal(t, StatePendingRenter, v.State)
	assert.Equal(t, RoleRenter, v.Actor)
	assert.True(t, v.IsYourTurn)
	if assert.NotNil(t, v.AutoReleaseCountdownSeconds) {
		assert.InDelta(t, 90, float64(*v.AutoReleaseCountdownSeconds), 1)
	}

	// Past deadline clamps to zero rather than going negative.
	late := DeriveView(b, "renter", now.Add(2*time.Hour))
	if assert.NotNil(t, late.AutoReleaseCountdownSeconds) {
		assert.Equal(t, int64(0), *late.AutoReleaseCountdownSeconds)
	}

	// A dispute halts the countdown.
	b.DisputedAt = ts(now)
	disputed := DeriveView(b, "renter", now)
	assert.Nil(t, disputed.AutoReleaseCountdownSeconds)
}

func TestDeriveView_DamageInfo(t *testing.T) {
	now := time.Now()
	b := &Booking{
		OwnerID: "owner", RenterID: "renter",
		Status: StatusInProgress, ReturnedAt: ts(now), InspectedAt: ts(now),
		HasDamage: true, DamageAmountCents: 12500, DamageDescription: "scratched bumper",
	}

	v := DeriveView(b, "renter", now)
	assert.Equal(t, StateDamageReview, v.State)
	if assert.NotNil(t, v.Damage) {
		assert.Equal(t, int64(12500), v.Damage.AmountCents)
		assert.Equal(t, "scratched bumper", v.Damage.Description)
	}
}
