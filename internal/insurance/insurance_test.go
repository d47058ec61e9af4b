package insurance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActivate_SucceedsFirstAttempt(t *testing.T) {
	store := NewMemoryIssueStore()
	var calls int
	svc := NewService(ActivatorFunc(func(ctx context.Context, bookingID string) error {
		calls++
		return nil
	}), store, 3, time.Millisecond)

	err := svc.Activate(context.Background(), "bkg_1")
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	issues, err := store.List(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, issues, "successful activation must not record an issue")
}

func TestActivate_RecoversOnRetry(t *testing.T) {
	store := NewMemoryIssueStore()
	var calls int
	svc := NewService(ActivatorFunc(func(ctx context.Context, bookingID string) error {
		calls++
		if calls < 3 {
			return errors.New("provider timeout")
		}
		return nil
	}), store, 3, time.Millisecond)

	err := svc.Activate(context.Background(), "bkg_1")
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	issues, err := store.List(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestActivate_ExhaustionRecordsCriticalIssue(t *testing.T) {
	store := NewMemoryIssueStore()
	var calls int
	svc := NewService(ActivatorFunc(func(ctx context.Context, bookingID string) error {
		calls++
		return errors.New("provider down")
	}), store, 3, time.Millisecond)

	err := svc.Activate(context.Background(), "bkg_1")
	require.ErrorIs(t, err, ErrActivationFailed)
	assert.Equal(t, 3, calls)

	issues, err := store.List(context.Background(), StatusPendingReview, 10)
	require.NoError(t, err)
	require.Len(t, issues, 1, "exactly one issue per exhausted activation")

	issue := issues[0]
	assert.Equal(t, "bkg_1", issue.BookingID)
	assert.Equal(t, "insurance_activation", issue.Type)
	assert.Equal(t, SeverityCritical, issue.Severity)
	assert.Equal(t, 3, issue.RetryCount)
	assert.Equal(t, "provider down", issue.LastError)
	assert.Equal(t, StatusPendingReview, issue.Status)
}

func TestActivate_ContextCancellationStopsRetries(t *testing.T) {
	store := NewMemoryIssueStore()
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	svc := NewService(ActivatorFunc(func(ctx context.Context, bookingID string) error {
		calls++
		cancel()
		return errors.New("transient")
	}), store, 5, 100*time.Millisecond)

	err := svc.Activate(ctx, "bkg_1")
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 2)
}

func TestResolveIssue(t *testing.T) {
	store := NewMemoryIssueStore()
	svc := NewService(ActivatorFunc(func(ctx context.Context, bookingID string) error {
		return errors.New("down")
	}), store, 1, time.Millisecond)

	_ = svc.Activate(context.Background(), "bkg_1")

	issues, err := svc.ListIssues(context.Background(), StatusPendingReview, 10)
	require.NoError(t, err)
	require.Len(t, issues, 1)

	require.NoError(t, svc.ResolveIssue(context.Background(), issues[0].ID))

	pending, err := svc.ListIssues(context.Background(), StatusPendingReview, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	resolved, err := svc.ListIssues(context.Background(), StatusResolved, 10)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.NotNil(t, resolved[0].ResolvedAt)
}

func TestResolveIssue_Unknown(t *testing.T) {
	store := NewMemoryIssueStore()
	svc := NewService(ActivatorFunc(func(ctx context.Context, bookingID string) error {
		return nil
	}), store, 1, time.Millisecond)

	err := svc.ResolveIssue(context.Background(), "iss_missing")
	assert.ErrorIs(t, err, ErrIssueNotFound)
}
