// Package payments captures card charges for the portion of a booking
// that the renter's wallet cannot cover.
package payments

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/autorenta/settlement/internal/idgen"
	"github.com/autorenta/settlement/internal/metrics"
)

// ErrCaptureFailed is returned when the provider declines or errors.
var ErrCaptureFailed = errors.New("external capture failed")

// Capturer charges the external portion of a booking payment.
type Capturer interface {
	// Capture charges amountCents against the customer's stored payment
	// method and returns a provider reference for the charge.
	Capture(ctx context.Context, bookingID, customerID string, amountCents int64) (string, error)

	// Refund reverses a previous capture, identified by its provider
	// reference. Used when a booking is cancelled after payment.
	Refund(ctx context.Context, providerRef string) error
}

// MemoryCapturer records captures in memory. It backs development mode
// and tests, where no payment provider is configured.
type MemoryCapturer struct {
	mu       sync.Mutex
	captures map[string]int64
	refunded map[string]bool

	// FailNext forces the next Capture call to fail.
	FailNext bool
}

// NewMemoryCapturer creates an in-memory capturer.
func NewMemoryCapturer() *MemoryCapturer {
	return &MemoryCapturer{
		captures: make(map[string]int64),
		refunded: make(map[string]bool),
	}
}

func (m *MemoryCapturer) Capture(ctx context.Context, bookingID, customerID string, amountCents int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailNext {
		m.FailNext = false
		metrics.ExternalCapturesTotal.WithLabelValues("failed").Inc()
		return "", fmt.Errorf("%w: simulated decline", ErrCaptureFailed)
	}

	ref := idgen.WithPrefix("cap_")
	m.captures[ref] = amountCents
	metrics.ExternalCapturesTotal.WithLabelValues("success").Inc()
	return ref, nil
}

func (m *MemoryCapturer) Refund(ctx context.Context, providerRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.captures[providerRef]; !ok {
		return fmt.Errorf("unknown capture %s", providerRef)
	}
	m.refunded[providerRef] = true
	return nil
}

// Captured returns the amount recorded for a provider reference.
func (m *MemoryCapturer) Captured(providerRef string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	amount, ok := m.captures[providerRef]
	return amount, ok
}

// Refunded reports whether a capture has been reversed.
func (m *MemoryCapturer) Refunded(providerRef string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refunded[providerRef]
}
