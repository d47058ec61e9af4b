package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/autorenta/settlement/internal/circuitbreaker"
)

// ErrProviderUnavailable is returned when the circuit to the payment
// provider is open and captures are being rejected without a network call.
var ErrProviderUnavailable = errors.New("payment provider unavailable")

const breakerKey = "card_capture"

// GuardedCapturer wraps a Capturer with a circuit breaker so a
// struggling provider fails fast instead of stalling every payment
// attempt behind provider timeouts. Refunds bypass the breaker: they
// run during compensation and must always be attempted.
type GuardedCapturer struct {
	inner   Capturer
	breaker *circuitbreaker.Breaker
}

// NewGuardedCapturer wraps a capturer. The circuit opens after
// threshold consecutive capture failures and probes again after
// openDuration.
func NewGuardedCapturer(inner Capturer, threshold int, openDuration time.Duration) *GuardedCapturer {
	return &GuardedCapturer{
		inner:   inner,
		breaker: circuitbreaker.New(threshold, openDuration),
	}
}

func (g *GuardedCapturer) Capture(ctx context.Context, bookingID, customerID string, amountCents int64) (string, error) {
	if !g.breaker.Allow(breakerKey) {
		return "", fmt.Errorf("%w: capture circuit open", ErrProviderUnavailable)
	}

	ref, err := g.inner.Capture(ctx, bookingID, customerID, amountCents)
	if err != nil {
		g.breaker.RecordFailure(breakerKey)
		return "", err
	}
	g.breaker.RecordSuccess(breakerKey)
	return ref, nil
}

func (g *GuardedCapturer) Refund(ctx context.Context, providerRef string) error {
	return g.inner.Refund(ctx, providerRef)
}

// State exposes the breaker state for health reporting.
func (g *GuardedCapturer) State() circuitbreaker.State {
	return g.breaker.State(breakerKey)
}
