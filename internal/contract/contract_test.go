package contract

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullAcceptance() map[string]bool {
	return map[string]bool{
		"culpaGrave": true,
		"indemnidad": true,
		"retencion":  true,
		"mora":       true,
	}
}

func TestCheck_NoAcceptance(t *testing.T) {
	svc := NewService(NewMemoryStore(), 24*time.Hour)

	err := svc.Check(context.Background(), "bkg_1")
	assert.ErrorIs(t, err, ErrNotAccepted)
}

func TestCheck_FullAcceptancePasses(t *testing.T) {
	svc := NewService(NewMemoryStore(), 24*time.Hour)
	ctx := context.Background()

	_, err := svc.RecordAcceptance(ctx, "bkg_1", "renter-1", fullAcceptance())
	require.NoError(t, err)

	assert.NoError(t, svc.Check(ctx, "bkg_1"))
}

func TestCheck_MissingClauses(t *testing.T) {
	svc := NewService(NewMemoryStore(), 24*time.Hour)
	ctx := context.Background()

	clauses := fullAcceptance()
	clauses["mora"] = false
	_, err := svc.RecordAcceptance(ctx, "bkg_1", "renter-1", clauses)
	require.NoError(t, err)

	err = svc.Check(ctx, "bkg_1")
	var incomplete *IncompleteAcceptanceError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []string{"mora"}, incomplete.Missing)
}

func TestCheck_MultipleMissingClausesSorted(t *testing.T) {
	svc := NewService(NewMemoryStore(), 24*time.Hour)
	ctx := context.Background()

	_, err := svc.RecordAcceptance(ctx, "bkg_1", "renter-1", map[string]bool{
		"indemnidad": true,
	})
	require.NoError(t, err)

	err = svc.Check(ctx, "bkg_1")
	var incomplete *IncompleteAcceptanceError
	require.ErrorAs(t, err, &incomplete)
	assert.Equal(t, []string{"culpaGrave", "mora", "retencion"}, incomplete.Missing)
}

func TestCheck_ExpiredAcceptance(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, 24*time.Hour)
	ctx := context.Background()

	// 25 hours old: one hour past the window.
	require.NoError(t, store.Put(ctx, &Acceptance{
		BookingID:  "bkg_1",
		AcceptedBy: "renter-1",
		Clauses:    fullAcceptance(),
		AcceptedAt: time.Now().Add(-25 * time.Hour),
	}))

	err := svc.Check(ctx, "bkg_1")
	var expired *ExpiredError
	require.ErrorAs(t, err, &expired)
	assert.InDelta(t, 25.0, expired.HoursElapsed, 0.1)
}

func TestCheck_JustInsideWindow(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, 24*time.Hour)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, &Acceptance{
		BookingID:  "bkg_1",
		AcceptedBy: "renter-1",
		Clauses:    fullAcceptance(),
		AcceptedAt: time.Now().Add(-23 * time.Hour),
	}))

	assert.NoError(t, svc.Check(ctx, "bkg_1"))
}

func TestRecordAcceptance_OverwritesPrevious(t *testing.T) {
	svc := NewService(NewMemoryStore(), 24*time.Hour)
	ctx := context.Background()

	partial := map[string]bool{"culpaGrave": true}
	_, err := svc.RecordAcceptance(ctx, "bkg_1", "renter-1", partial)
	require.NoError(t, err)
	require.Error(t, svc.Check(ctx, "bkg_1"))

	_, err = svc.RecordAcceptance(ctx, "bkg_1", "renter-1", fullAcceptance())
	require.NoError(t, err)
	assert.NoError(t, svc.Check(ctx, "bkg_1"))
}
