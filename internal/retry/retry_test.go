package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The insurance activation policy: 3 attempts with a doubling backoff.
const activationAttempts = 3

func TestDo_FirstAttemptSucceeds(t *testing.T) {
	var calls int
	err := Do(context.Background(), activationAttempts, 10*time.Millisecond, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_TransientProviderFailureRecovers(t *testing.T) {
	var calls int
	err := Do(context.Background(), activationAttempts, 10*time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("provider timeout")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_ExhaustionReturnsLastError(t *testing.T) {
	var calls int
	providerDown := errors.New("provider down")
	err := Do(context.Background(), activationAttempts, 10*time.Millisecond, func() error {
		calls++
		return providerDown
	})
	assert.ErrorIs(t, err, providerDown)
	assert.Equal(t, activationAttempts, calls)
}

func TestDo_PermanentErrorSkipsRetries(t *testing.T) {
	// A rejected policy application will never succeed on retry.
	var calls int
	rejected := errors.New("policy application rejected")
	err := Do(context.Background(), 5, 10*time.Millisecond, func() error {
		calls++
		return Permanent(rejected)
	})
	assert.ErrorIs(t, err, rejected)
	assert.Equal(t, 1, calls)
}

func TestDo_ContextCancelDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, 10, 100*time.Millisecond, func() error {
		calls.Add(1)
		return errors.New("provider timeout")
	})

	assert.ErrorIs(t, err, context.Canceled)
	// Cancellation lands during the first or second backoff sleep.
	assert.LessOrEqual(t, calls.Load(), int32(3))
}

func TestDo_ZeroAttemptsRoundsUpToOne(t *testing.T) {
	var calls int
	err := Do(context.Background(), 0, time.Millisecond, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDo_BackoffDoubles(t *testing.T) {
	// Scaled-down activation schedule: a 20ms base yields roughly
	// 20ms/40ms gaps, each with +-25% jitter. Lower bounds only, since
	// scheduling delay can stretch but never shrink a sleep.
	var timestamps []time.Time
	err := Do(context.Background(), activationAttempts, 20*time.Millisecond, func() error {
		timestamps = append(timestamps, time.Now())
		if len(timestamps) < activationAttempts {
			return errors.New("provider timeout")
		}
		return nil
	})
	require.NoError(t, err)
	require.Len(t, timestamps, activationAttempts)

	assert.GreaterOrEqual(t, timestamps[1].Sub(timestamps[0]), 15*time.Millisecond)
	assert.GreaterOrEqual(t, timestamps[2].Sub(timestamps[1]), 30*time.Millisecond)
}

func TestPermanent_Unwrap(t *testing.T) {
	inner := errors.New("policy application rejected")
	assert.ErrorIs(t, Permanent(inner), inner)
}
